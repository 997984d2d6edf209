package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"granamodel/internal/sim/agent"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
	now     func() time.Time
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// ZoneEntry is one line of the zone log.
type ZoneEntry struct {
	RunID     string  `json:"run_id"`
	Sweep     int     `json:"sweep"`
	Zone      int     `json:"zone"`
	Aggregate bool    `json:"aggregate,omitempty"`
	Size      int     `json:"size"`
	Actions   int     `json:"actions"`
	Accepted  int     `json:"accepted"`
	Rejected  int     `json:"rejected"`
	Mean      float64 `json:"mean"`
	Best      float64 `json:"best"`
	Snapshot  string  `json:"snapshot,omitempty"`
	ElapsedMS int64   `json:"elapsed_ms"`
}

// SweepEntry is one line of the sweep log, the overlap reduction record.
type SweepEntry struct {
	RunID     string  `json:"run_id"`
	Sweep     int     `json:"sweep"`
	Samples   int     `json:"samples"`
	Begin     float64 `json:"begin"`
	End       float64 `json:"end"`
	Mean      float64 `json:"mean"`
	Reduction float64 `json:"reduction_pct"`
	ElapsedMS int64   `json:"elapsed_ms"`
}

// SampleEntry carries the overlap samples of one sweep.
type SampleEntry struct {
	RunID   string    `json:"run_id"`
	Sweep   int       `json:"sweep"`
	Samples []float64 `json:"samples"`
}

// ReportLogger writes zone and sweep reports as compressed JSONL. It
// implements agent.ReportSink; write failures go to the fallback logger.
type ReportLogger struct {
	zones  *JSONLZstdWriter
	sweeps *JSONLZstdWriter
	logger *stdlog.Logger
}

func NewReportLogger(runDir string, logger *stdlog.Logger) *ReportLogger {
	return &ReportLogger{
		zones:  NewJSONLZstdWriter(filepath.Join(runDir, "zones"), "zones"),
		sweeps: NewJSONLZstdWriter(filepath.Join(runDir, "sweeps"), "sweeps"),
		logger: logger,
	}
}

func (l *ReportLogger) ZoneDone(r agent.ZoneReport) {
	l.report(l.zones.Write(ZoneEntry{
		RunID:     r.RunID,
		Sweep:     r.Sweep,
		Zone:      r.Zone,
		Aggregate: r.Aggregate,
		Size:      r.Size,
		Actions:   r.Actions,
		Accepted:  r.Accepted,
		Rejected:  r.Rejected,
		Mean:      r.Mean,
		Best:      r.Best,
		Snapshot:  r.Snapshot,
		ElapsedMS: r.Elapsed.Milliseconds(),
	}))
}

func (l *ReportLogger) SweepDone(r agent.SweepReport) {
	l.report(l.sweeps.Write(SweepEntry{
		RunID:     r.RunID,
		Sweep:     r.Sweep,
		Samples:   r.Samples,
		Begin:     r.Begin,
		End:       r.End,
		Mean:      r.Mean,
		Reduction: r.Reduction,
		ElapsedMS: r.Elapsed.Milliseconds(),
	}))
}

func (l *ReportLogger) report(err error) {
	if err != nil && l.logger != nil {
		l.logger.Printf("report log: %v", err)
	}
}

func (l *ReportLogger) Close() error {
	err1 := l.zones.Close()
	err2 := l.sweeps.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// SampleLogger writes one JSONL entry per sweep with every overlap sample.
type SampleLogger struct{ w *JSONLZstdWriter }

func NewSampleLogger(runDir string) *SampleLogger {
	return &SampleLogger{w: NewJSONLZstdWriter(filepath.Join(runDir, "samples"), "samples")}
}

func (l *SampleLogger) WriteSweep(runID string, sweep int, samples []float64) error {
	return l.w.Write(SampleEntry{RunID: runID, Sweep: sweep, Samples: samples})
}

func (l *SampleLogger) Close() error { return l.w.Close() }
