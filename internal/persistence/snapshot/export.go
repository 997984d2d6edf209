package snapshot

import (
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"granamodel/internal/sim/agent"
	"granamodel/internal/sim/simerr"
)

// FileTimeLayout is ddmmYYYY_HHMM.
const FileTimeLayout = "02012006_1504"

// ZoneExporter writes the terminal-zone snapshot of a sweep. It implements
// agent.Exporter.
type ZoneExporter struct {
	Dir      string
	Compress bool
	// Attempts bounds retries of a failed write; 0 means 3.
	Attempts int
	Backoff  time.Duration
	Logger   *log.Logger

	now   func() time.Time
	write func(path string, rows []Row) error
}

func NewZoneExporter(dir string, compress bool, logger *log.Logger) *ZoneExporter {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &ZoneExporter{
		Dir:      dir,
		Compress: compress,
		Attempts: 3,
		Backoff:  50 * time.Millisecond,
		Logger:   logger,
		now:      time.Now,
		write:    Write,
	}
}

// FileName builds {ddmmYYYY_HHMM}_{zone}_overlap_{int(mean)}_data.csv.
func FileName(at time.Time, zone int, mean float64, compress bool) string {
	name := fmt.Sprintf("%s_%d_overlap_%d_data.csv", at.Format(FileTimeLayout), zone, int(mean))
	if compress {
		name += ".zst"
	}
	return name
}

func (x *ZoneExporter) ExportZone(e agent.Export) (string, error) {
	at := e.At
	if at.IsZero() {
		at = x.clock()
	}
	dir := x.Dir
	if e.RunID != "" {
		dir = filepath.Join(dir, e.RunID)
	}
	path := filepath.Join(dir, FileName(at, e.Zone, e.Mean, x.Compress))
	rows := Capture(e.Structures)

	attempts := x.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	write := x.write
	if write == nil {
		write = Write
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = write(path, rows); err == nil {
			return path, nil
		}
		if x.Logger != nil {
			x.Logger.Printf("export attempt %d/%d for zone %d failed: %v", i, attempts, e.Zone, err)
		}
		if i < attempts && x.Backoff > 0 {
			time.Sleep(x.Backoff)
		}
	}
	return "", fmt.Errorf("%w: %s: %v", simerr.ErrExport, path, err)
}

func (x *ZoneExporter) clock() time.Time {
	if x.now != nil {
		return x.now()
	}
	return time.Now()
}
