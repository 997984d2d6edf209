package agent

import (
	"context"
	"fmt"

	"granamodel/internal/sim/simerr"
)

type DriverConfig struct {
	// MaxSweeps caps the run; it must be positive.
	MaxSweeps int
	// Target stops the run once the trailing mean drops below it.
	Target float64
}

type RunSummary struct {
	Sweeps       int
	Reached      bool
	TrailingMean float64
	Best         float64
	Series       [][]float64
}

// Run sweeps until the trailing mean is below cfg.Target or cfg.MaxSweeps
// sweeps ran. The context is checked between sweeps only.
func (a *Agent) Run(ctx context.Context, cfg DriverConfig) (RunSummary, error) {
	if cfg.MaxSweeps <= 0 {
		return RunSummary{}, fmt.Errorf("%w: max sweeps must be > 0 (got %d)", simerr.ErrConfiguration, cfg.MaxSweeps)
	}
	var sum RunSummary
	for sum.Sweeps < cfg.MaxSweeps {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		samples, err := a.Sweep()
		sum.Sweeps++
		sum.Series = append(sum.Series, samples)
		sum.TrailingMean = a.TrailingMean()
		sum.Best = a.best
		if err != nil {
			return sum, err
		}
		if sum.TrailingMean < cfg.Target {
			sum.Reached = true
			a.logger.Printf("target %.4f reached after %d sweeps (mean %.4f)", cfg.Target, sum.Sweeps, sum.TrailingMean)
			break
		}
	}
	return sum, nil
}
