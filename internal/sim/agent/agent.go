// Package agent runs the greedy overlap-reduction search: perturb one
// structure, measure, and undo the perturbation if the overlap got worse.
package agent

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"time"

	"granamodel/internal/sim/physics"
	"granamodel/internal/sim/simerr"
	"granamodel/internal/sim/structure"
	"granamodel/internal/sim/zones"
)

// TrailingWindow is how many recent samples the running mean covers.
const TrailingWindow = 10

// Bridge is the physics collaborator the agent measures overlap with.
type Bridge interface {
	ResetOverlap()
	Step(dt float64) (physics.StepResult, error)
}

type Config struct {
	RunID     string
	TimeLimit int     // actions per zone
	StepDT    float64 // measurement step after each action
	PrimeDT   float64 // initial settling step
	StepHint  float64 // upper bound for a move magnitude
	Policy    Policy
}

func DefaultConfig() Config {
	return Config{
		TimeLimit: 50,
		StepDT:    0.1,
		PrimeDT:   0.01,
		StepHint:  0.26,
		Policy:    Uniform6,
	}
}

func (c Config) validate() error {
	if c.TimeLimit < 0 {
		return fmt.Errorf("%w: time limit must be >= 0 (got %d)", simerr.ErrConfiguration, c.TimeLimit)
	}
	if !(c.StepDT > 0) || !(c.PrimeDT > 0) {
		return fmt.Errorf("%w: step dt and prime dt must be > 0", simerr.ErrConfiguration)
	}
	if c.StepHint < 0 {
		return fmt.Errorf("%w: step hint must be >= 0", simerr.ErrConfiguration)
	}
	if _, err := ParsePolicy(string(c.Policy)); err != nil {
		return err
	}
	return nil
}

// Deps are the collaborators one agent works against. Exporter, Sinks and
// Logger are optional.
type Deps struct {
	Bridge     Bridge
	Strategy   zones.Strategy
	Structures []*structure.Structure
	Rand       *rand.Rand
	Exporter   Exporter
	Sinks      []ReportSink
	Logger     *log.Logger
}

type Agent struct {
	cfg      Config
	bridge   Bridge
	strategy zones.Strategy
	structs  []*structure.Structure
	rng      *rand.Rand
	exporter Exporter
	sinks    []ReportSink
	logger   *log.Logger
	now      func() time.Time

	zoneIndex int
	sweep     int
	series    []float64
	best      float64
	primed    bool
}

func New(cfg Config, deps Deps) (*Agent, error) {
	if cfg.Policy == "" {
		cfg.Policy = Uniform6
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if deps.Bridge == nil || deps.Strategy == nil || deps.Rand == nil {
		return nil, fmt.Errorf("%w: agent needs a bridge, a zone strategy and a random source", simerr.ErrConfiguration)
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Agent{
		cfg:      cfg,
		bridge:   deps.Bridge,
		strategy: deps.Strategy,
		structs:  deps.Structures,
		rng:      deps.Rand,
		exporter: deps.Exporter,
		sinks:    deps.Sinks,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (a *Agent) Best() float64 { return a.best }
func (a *Agent) Series() []float64 { return append([]float64(nil), a.series...) }
func (a *Agent) Sweeps() int { return a.sweep }
func (a *Agent) ZoneIndex() int { return a.zoneIndex }

// Prime takes one short step and commits its overlap as the starting best.
func (a *Agent) Prime() error {
	m, err := a.measure(a.cfg.PrimeDT)
	if err != nil {
		return err
	}
	a.best = m
	a.primed = true
	return nil
}

// TrailingMean averages the last min(TrailingWindow, n) samples. With no
// samples yet it is the committed best.
func (a *Agent) TrailingMean() float64 {
	n := len(a.series)
	if n == 0 {
		return a.best
	}
	k := min(TrailingWindow, n)
	var sum float64
	for _, v := range a.series[n-k:] {
		sum += v
	}
	return sum / float64(k)
}

// Sweep visits every zone once in strategy order and returns the samples
// recorded during this sweep. Engine and export failures abort the sweep; the
// strategy is reset either way so the next sweep starts from the first zone.
func (a *Agent) Sweep() ([]float64, error) {
	if !a.primed {
		if err := a.Prime(); err != nil {
			return nil, err
		}
	}
	a.sweep++
	start := len(a.series)
	begin := a.best
	t0 := a.now()
	total := a.strategy.TotalZones()
	defer a.strategy.Reset()

	for {
		z, ok := a.strategy.Next()
		if !ok {
			break
		}
		a.zoneIndex = z.Index
		rep, err := a.runZone(z, z.Index == total-1)
		if err != nil {
			return a.sweepSamples(start), fmt.Errorf("sweep %d zone %d: %w", a.sweep, z.Index, err)
		}
		for _, s := range a.sinks {
			s.ZoneDone(rep)
		}
	}

	samples := a.sweepSamples(start)
	rep := SweepReport{
		RunID:     a.cfg.RunID,
		Sweep:     a.sweep,
		Samples:   len(samples),
		Begin:     begin,
		End:       a.best,
		Mean:      a.TrailingMean(),
		Reduction: ReductionPercent(begin, a.best),
		Elapsed:   a.now().Sub(t0),
	}
	a.logger.Printf("sweep=%d samples=%d begin=%.4f end=%.4f reduction=%.2f%%", rep.Sweep, rep.Samples, rep.Begin, rep.End, rep.Reduction)
	for _, s := range a.sinks {
		s.SweepDone(rep)
	}
	return samples, nil
}

func (a *Agent) runZone(z zones.Zone, terminal bool) (ZoneReport, error) {
	t0 := a.now()
	rep := ZoneReport{
		RunID:     a.cfg.RunID,
		Sweep:     a.sweep,
		Zone:      z.Index,
		Aggregate: z.Aggregate,
		Size:      z.Len(),
	}

	if z.Len() == 0 {
		a.logger.Printf("sweep=%d zone=%d empty, skipped", a.sweep, z.Index)
	} else {
		for i := 0; i < a.cfg.TimeLimit; i++ {
			s := z.Members[a.rng.IntN(z.Len())]
			a.perturb(s)
			m, err := a.measure(a.cfg.StepDT)
			if err != nil {
				return rep, err
			}
			if m > a.best {
				s.Undo()
				if m, err = a.measure(a.cfg.StepDT); err != nil {
					return rep, err
				}
				rep.Rejected++
			} else {
				rep.Accepted++
			}
			a.best = m
			a.series = append(a.series, m)
			rep.Actions++
		}
	}
	rep.Mean = a.TrailingMean()
	rep.Best = a.best

	// The terminal export holds every structure, whatever the zone's
	// membership, so the snapshot can seed a resumed run.
	if terminal && a.exporter != nil {
		path, err := a.exporter.ExportZone(Export{
			RunID:      a.cfg.RunID,
			Sweep:      a.sweep,
			Zone:       z.Index,
			Mean:       rep.Mean,
			At:         a.now(),
			Structures: a.structs,
		})
		if err != nil {
			if !errors.Is(err, simerr.ErrExport) {
				err = fmt.Errorf("%w: %v", simerr.ErrExport, err)
			}
			return rep, err
		}
		rep.Snapshot = path
	}
	rep.Elapsed = a.now().Sub(t0)
	return rep, nil
}

func (a *Agent) perturb(s *structure.Structure) {
	kind, dir := a.cfg.Policy.Pick(a.rng)
	if kind == structure.Rotate {
		s.Rotate(dir, a.rng)
		return
	}
	s.TetheredMove(dir, a.cfg.StepHint, a.rng)
}

func (a *Agent) measure(dt float64) (float64, error) {
	a.bridge.ResetOverlap()
	res, err := a.bridge.Step(dt)
	if err != nil {
		if !errors.Is(err, simerr.ErrEngineStep) {
			err = fmt.Errorf("%w: %v", simerr.ErrEngineStep, err)
		}
		return 0, err
	}
	return res.Metric, nil
}

func (a *Agent) sweepSamples(start int) []float64 {
	return append([]float64(nil), a.series[start:]...)
}
