package agent

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"granamodel/internal/sim/simerr"
	"granamodel/internal/sim/structure"
)

// Policy picks which action the agent tries next.
type Policy string

const (
	// Uniform6 draws up, down, left, right, rotate-left and rotate-right with
	// probability 1/6 each.
	Uniform6 Policy = "uniform6"
	// Grouped first picks move or rotate with probability 1/2, then a direction
	// uniformly within the group.
	Grouped Policy = "grouped"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return Uniform6, nil
	case Uniform6, Grouped:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown action policy %q", simerr.ErrConfiguration, s)
}

var moveDirs = [4]structure.Direction{structure.Up, structure.Down, structure.Left, structure.Right}

// Pick returns the action kind and direction for the next attempt.
func (p Policy) Pick(rng *rand.Rand) (structure.ActionKind, structure.Direction) {
	switch p {
	case Grouped:
		if rng.IntN(2) == 0 {
			return structure.Move, moveDirs[rng.IntN(4)]
		}
		return structure.Rotate, rotateDir(rng.IntN(2))
	default:
		n := rng.IntN(6)
		if n < 4 {
			return structure.Move, moveDirs[n]
		}
		return structure.Rotate, rotateDir(n - 4)
	}
}

func rotateDir(n int) structure.Direction {
	if n == 0 {
		return structure.Left
	}
	return structure.Right
}
