package physics

import (
	"math"

	polyclip "github.com/akavel/polyclip-go"

	"granamodel/internal/sim/mathx"
	"granamodel/internal/sim/spatial"
	"granamodel/internal/sim/structure"
)

// OverlapArea is the summed pairwise intersection area of all structures and
// the number of pairs that intersect with positive area.
func OverlapArea(structs []*structure.Structure) (float64, int) {
	if len(structs) < 2 {
		return 0, 0
	}
	idx := spatial.Build(structs)
	order := make(map[*structure.Structure]int, len(structs))
	polys := make([][]polyclip.Polygon, len(structs))
	for i, s := range structs {
		order[s] = i
		for _, p := range s.WorldPolygons() {
			polys[i] = append(polys[i], toPolygon(p))
		}
	}

	var total float64
	pairs := 0
	for i, s := range structs {
		for _, o := range idx.Candidates(s) {
			j := order[o]
			if j <= i {
				continue
			}
			if a := intersectionArea(polys[i], polys[j]); a > 0 {
				total += a
				pairs++
			}
		}
	}
	return total, pairs
}

func intersectionArea(a, b []polyclip.Polygon) float64 {
	var total float64
	for _, pa := range a {
		ba := pa.BoundingBox()
		for _, pb := range b {
			if !ba.Overlaps(pb.BoundingBox()) {
				continue
			}
			for _, c := range pa.Construct(polyclip.INTERSECTION, pb) {
				total += contourArea(c)
			}
		}
	}
	return total
}

func toPolygon(poly []mathx.Vec2) polyclip.Polygon {
	c := make(polyclip.Contour, len(poly))
	for i, p := range poly {
		c[i] = polyclip.Point{X: p.X, Y: p.Y}
	}
	return polyclip.Polygon{c}
}

func contourArea(c polyclip.Contour) float64 {
	var s float64
	n := len(c)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		s += c[i].X*c[j].Y - c[j].X*c[i].Y
	}
	return math.Abs(s) / 2
}

// AreaBridge steps the engine like Engine.Step but reports the exact summed
// intersection area of the structures as the metric.
type AreaBridge struct {
	engine  *Engine
	structs []*structure.Structure
}

func NewAreaBridge(e *Engine, structs []*structure.Structure) *AreaBridge {
	return &AreaBridge{engine: e, structs: structs}
}

func (a *AreaBridge) ResetOverlap() { a.engine.ResetOverlap() }

func (a *AreaBridge) Step(dt float64) (StepResult, error) {
	res, err := a.engine.Step(dt)
	if err != nil {
		return res, err
	}
	area, pairs := OverlapArea(a.structs)
	res.OverlapArea = area
	res.CollidingPairs = pairs
	res.Metric = area
	return res, nil
}
