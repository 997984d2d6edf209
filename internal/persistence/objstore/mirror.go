package objstore

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"granamodel/internal/sim/agent"
)

// Uploader is the part of Client the mirror needs.
type Uploader interface {
	PutFile(ctx context.Context, objectKey, localPath string) error
}

type Stats struct {
	QueueDepth         int
	QueueCapacity      int
	EnqueuedTotal      uint64
	DroppedTotal       uint64
	UploadSuccessTotal uint64
	UploadFailTotal    uint64
}

// Mirror uploads files below dataDir in the background, keyed by their path
// relative to dataDir. It implements agent.ReportSink so every zone snapshot
// is mirrored as soon as it is written.
type Mirror struct {
	up      Uploader
	dataDir string
	prefix  string
	logger  *log.Logger

	jobs        chan string
	enqueueWait time.Duration
	attempts    int
	backoff     time.Duration
	wg          sync.WaitGroup
	closeOnce   sync.Once

	enqueuedTotal      atomic.Uint64
	droppedTotal       atomic.Uint64
	uploadSuccessTotal atomic.Uint64
	uploadFailTotal    atomic.Uint64
}

func NewMirror(up Uploader, dataDir, prefix string, workers, queueCapacity int, logger *log.Logger) *Mirror {
	if workers <= 0 {
		workers = 1
	}
	if queueCapacity <= 0 {
		queueCapacity = 1024
	}
	m := &Mirror{
		up:          up,
		dataDir:     dataDir,
		prefix:      strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		logger:      logger,
		jobs:        make(chan string, queueCapacity),
		enqueueWait: 25 * time.Millisecond,
		attempts:    4,
		backoff:     200 * time.Millisecond,
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for localPath := range m.jobs {
				m.uploadOne(localPath)
			}
		}()
	}
	return m
}

// Enqueue schedules one upload. It waits briefly when the queue is full and
// drops the file after that.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil || m.up == nil || localPath == "" {
		return
	}
	m.enqueuedTotal.Add(1)
	select {
	case m.jobs <- localPath:
		return
	default:
	}
	timer := time.NewTimer(m.enqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- localPath:
	case <-timer.C:
		dropped := m.droppedTotal.Add(1)
		m.printf("mirror drop local=%s reason=queue_saturated dropped_total=%d", localPath, dropped)
	}
}

func (m *Mirror) ZoneDone(z agent.ZoneReport) { m.Enqueue(z.Snapshot) }

func (m *Mirror) SweepDone(agent.SweepReport) {}

// Close drains the queue and waits for in-flight uploads.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.closeOnce.Do(func() { close(m.jobs) })
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:         len(m.jobs),
		QueueCapacity:      cap(m.jobs),
		EnqueuedTotal:      m.enqueuedTotal.Load(),
		DroppedTotal:       m.droppedTotal.Load(),
		UploadSuccessTotal: m.uploadSuccessTotal.Load(),
		UploadFailTotal:    m.uploadFailTotal.Load(),
	}
}

func (m *Mirror) uploadOne(localPath string) {
	key, err := m.objectKey(localPath)
	if err != nil {
		m.uploadFailTotal.Add(1)
		m.printf("mirror skip local=%s err=%v", localPath, err)
		return
	}
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		lastErr = m.up.PutFile(ctx, key, localPath)
		cancel()
		if lastErr == nil {
			m.uploadSuccessTotal.Add(1)
			return
		}
		if attempt < m.attempts {
			time.Sleep(time.Duration(attempt*attempt) * m.backoff)
		}
	}
	m.uploadFailTotal.Add(1)
	m.printf("mirror upload failed key=%s err=%v", key, lastErr)
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	absBase, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absBase, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside data dir %s", absLocal, absBase)
	}
	if m.prefix != "" {
		rel = path.Join(m.prefix, rel)
	}
	return rel, nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
