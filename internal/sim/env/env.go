// Package env is the simulation context for force-model stepping: one
// engine, its structures and the random source that drives diffusion.
package env

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand/v2"

	"granamodel/internal/sim/physics"
	"granamodel/internal/sim/simerr"
	"granamodel/internal/sim/spatial"
	"granamodel/internal/sim/structure"
)

// Stepper advances the rigid-body world.
type Stepper interface {
	Step(dt float64) (physics.StepResult, error)
}

// resolver is implemented by engines that can switch contact resolution.
type resolver interface {
	SetResolve(bool)
	Config() physics.Config
}

type Env struct {
	engine     Stepper
	structures []*structure.Structure
	rng        *rand.Rand
	logger     *log.Logger
	steps      int
}

func New(engine Stepper, structs []*structure.Structure, rng *rand.Rand, logger *log.Logger) (*Env, error) {
	if engine == nil || rng == nil {
		return nil, fmt.Errorf("%w: env needs an engine and a random source", simerr.ErrConfiguration)
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Env{engine: engine, structures: structs, rng: rng, logger: logger}, nil
}

func (e *Env) Structures() []*structure.Structure { return e.structures }
func (e *Env) Steps() int { return e.steps }

// Step accumulates attraction between neighbors (when enabled), applies every
// structure's impulse and jitter, then advances the engine with contacts
// resolved.
func (e *Env) Step(dt float64, attraction bool) (physics.StepResult, error) {
	if attraction {
		e.accumulate()
	}
	for _, s := range e.structures {
		s.ApplyStep(attraction, e.rng)
	}

	if r, ok := e.engine.(resolver); ok {
		prev := r.Config().Resolve
		r.SetResolve(true)
		defer r.SetResolve(prev)
	}
	res, err := e.engine.Step(dt)
	if err != nil {
		return res, fmt.Errorf("force step %d: %w", e.steps, err)
	}
	e.steps++
	return res, nil
}

// Run repeats Step. The context is checked before every step.
func (e *Env) Run(ctx context.Context, steps int, dt float64, attraction bool) error {
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := e.Step(dt, attraction)
		if err != nil {
			return err
		}
		if (i+1)%100 == 0 {
			e.logger.Printf("force step=%d pairs=%d overlap=%.4f", e.steps, res.CollidingPairs, res.OverlapDistance)
		}
	}
	return nil
}

// accumulate only pairs structures whose boxes come within threshold of each
// other; attraction beyond the threshold is zero anyway.
func (e *Env) accumulate() {
	if len(e.structures) < 2 {
		return
	}
	idx := spatial.Build(e.structures)
	for _, s := range e.structures {
		if s.Threshold <= 0 || len(s.Points) == 0 {
			continue
		}
		min, max := s.Bounds()
		reach := s.Threshold + math.Max(max.X-min.X, max.Y-min.Y)
		for _, o := range idx.Within(s.Position(), reach) {
			if o != s {
				s.ComputeAttractionTo(o)
			}
		}
	}
}
