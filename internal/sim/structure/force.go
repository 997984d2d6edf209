package structure

import (
	"math"
	"math/rand/v2"

	"granamodel/internal/sim/mathx"
)

// ComputeAttractionTo appends one pull vector per pair of attraction points
// (own, other) closer than the threshold. Nothing is applied until ApplyStep.
func (s *Structure) ComputeAttractionTo(other *Structure) {
	if other == nil || other == s || s.Threshold <= 0 {
		return
	}
	for _, p := range s.Points {
		pw := p.World()
		for _, q := range other.Points {
			qw := q.World()
			d := pw.Dist(qw)
			if d == 0 {
				continue
			}
			k := s.Scalar.Value(d, s.Threshold)
			if k == 0 {
				continue
			}
			s.pending = append(s.pending, qw.Sub(pw).Scale(k*s.AttractionConstant/d))
		}
	}
}

// ApplyStep turns pending attraction plus a diffusion kick into one impulse
// at the body's center, adds rotational jitter, and clears the pending list.
// With attraction off the pending vectors are discarded unused.
func (s *Structure) ApplyStep(attraction bool, rng *rand.Rand) mathx.Vec2 {
	var impulse mathx.Vec2
	if attraction {
		for _, v := range s.pending {
			impulse = impulse.Add(v)
		}
		impulse = impulse.Norm()
	}
	s.pending = s.pending[:0]

	if s.Diffusion > 0 {
		impulse = impulse.Add(mathx.Polar(s.Diffusion, rng.Float64()*2*math.Pi))
	}
	if !impulse.IsZero() {
		s.body.ApplyImpulseAtLocalPoint(impulse, mathx.Vec2{})
	}
	if s.RotationScalar > 0 {
		s.body.SetAngle(s.body.Angle() + (rng.Float64()*2-1)*s.RotationScalar)
	}
	return impulse
}
