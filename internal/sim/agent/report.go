package agent

import (
	"time"

	"granamodel/internal/sim/structure"
)

// ZoneReport summarizes one zone of one sweep.
type ZoneReport struct {
	RunID     string
	Sweep     int
	Zone      int
	Aggregate bool
	Size      int
	Actions   int
	Accepted  int
	Rejected  int
	Mean      float64
	Best      float64
	Snapshot  string
	Elapsed   time.Duration
}

// SweepReport summarizes one full pass over every zone.
type SweepReport struct {
	RunID     string
	Sweep     int
	Samples   int
	Begin     float64
	End       float64
	Mean      float64
	Reduction float64 // percent
	Elapsed   time.Duration
}

// ReductionPercent is (begin-end)/(begin+0.1)*100; the offset keeps a zero
// starting overlap finite.
func ReductionPercent(begin, end float64) float64 {
	return (begin - end) / (begin + 0.1) * 100
}

// ReportSink receives reports as they happen. Implementations must not block.
type ReportSink interface {
	ZoneDone(ZoneReport)
	SweepDone(SweepReport)
}

// Export is everything a snapshot writer needs for one terminal zone.
type Export struct {
	RunID      string
	Sweep      int
	Zone       int
	Mean       float64
	At         time.Time
	Structures []*structure.Structure
}

// Exporter persists the structure snapshot after the terminal zone and
// returns where it went.
type Exporter interface {
	ExportZone(e Export) (string, error)
}
