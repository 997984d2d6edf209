package structure

import (
	"fmt"
	"math"
	"strings"

	"granamodel/internal/sim/mathx"
	"granamodel/internal/sim/simerr"
)

// Scalar selects how attraction strength falls off with point-to-point
// distance. It is fixed per structure type when the structure is created.
type Scalar uint8

const (
	Well Scalar = iota
	Linear
	InverseSquare
)

func (k Scalar) String() string {
	switch k {
	case Well:
		return "well"
	case Linear:
		return "linear"
	case InverseSquare:
		return "inverse_square"
	default:
		return fmt.Sprintf("scalar(%d)", uint8(k))
	}
}

// ParseScalar accepts the tuning spelling of a variant.
func ParseScalar(s string) (Scalar, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "well":
		return Well, nil
	case "linear":
		return Linear, nil
	case "inverse_square", "inversesquare", "inverse-square":
		return InverseSquare, nil
	}
	return Well, fmt.Errorf("%w: unknown distance scalar %q", simerr.ErrConfiguration, s)
}

// Value returns the scalar for distance d under threshold t.
// Every variant is 0 for d >= t.
func (k Scalar) Value(d, t float64) float64 {
	if d < 0 || d >= t {
		return 0
	}
	switch k {
	case Linear:
		return (t - d) / t
	case InverseSquare:
		if d == 0 {
			return 1
		}
		return math.Min(1, 1/(d*d))
	default:
		return 1
	}
}

// Between is Value applied to the distance between two world points.
func (k Scalar) Between(p1, p2 mathx.Vec2, t float64) float64 {
	return k.Value(p1.Dist(p2), t)
}
