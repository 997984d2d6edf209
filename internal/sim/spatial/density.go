package spatial

import (
	"granamodel/internal/sim/mathx"
	"granamodel/internal/sim/structure"
)

// Rect is an axis-aligned section of the plane.
type Rect struct {
	Min mathx.Vec2
	Max mathx.Vec2
}

func (r Rect) Area() float64 { return (r.Max.X - r.Min.X) * (r.Max.Y - r.Min.Y) }

func (r Rect) Contains(p mathx.Vec2) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X && p.Y >= r.Min.Y && p.Y <= r.Max.Y
}

// Density counts structures whose position lies inside r, per unit area.
// A degenerate rectangle has density 0.
func Density(structs []*structure.Structure, r Rect) float64 {
	a := r.Area()
	if !(a > 0) {
		return 0
	}
	n := 0
	for _, s := range structs {
		if r.Contains(s.Position()) {
			n++
		}
	}
	return float64(n) / a
}
