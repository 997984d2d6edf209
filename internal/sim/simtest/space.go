// Package simtest holds black-box helpers for driving structures without a
// rigid-body engine.
package simtest

import (
	"testing"

	"granamodel/internal/sim/mathx"
	"granamodel/internal/sim/structure"
)

// Body is a bare pose holder. Impulses move it by impulse/mass immediately.
type Body struct {
	Pos      mathx.Vec2
	Ang      float64
	Mass     float64
	Impulses []mathx.Vec2
	Removed  bool
}

func (b *Body) Position() mathx.Vec2 { return b.Pos }
func (b *Body) SetPosition(p mathx.Vec2) { b.Pos = p }
func (b *Body) Angle() float64 { return b.Ang }
func (b *Body) SetAngle(a float64) { b.Ang = a }

func (b *Body) ApplyImpulseAtLocalPoint(impulse, _ mathx.Vec2) {
	b.Impulses = append(b.Impulses, impulse)
	if b.Mass > 0 {
		b.Pos = b.Pos.Add(impulse.Scale(1 / b.Mass))
	}
}

// Space records every body it hands out.
type Space struct {
	Bodies []*Body
	Defs   []structure.BodyDef
	// Err, when set, is returned by the next AddBody.
	Err error
}

func (s *Space) AddBody(def structure.BodyDef) (structure.Body, error) {
	if s.Err != nil {
		err := s.Err
		s.Err = nil
		return nil, err
	}
	b := &Body{Pos: def.Position, Ang: def.Angle, Mass: def.Mass}
	s.Bodies = append(s.Bodies, b)
	s.Defs = append(s.Defs, def)
	return b, nil
}

func (s *Space) RemoveBody(b structure.Body) {
	if fb, ok := b.(*Body); ok {
		fb.Removed = true
	}
}

// Square is a centered axis-aligned square of the given side.
func Square(side float64) [][]mathx.Vec2 {
	h := side / 2
	return [][]mathx.Vec2{{
		mathx.V(-h, -h), mathx.V(h, -h), mathx.V(h, h), mathx.V(-h, h),
	}}
}

// NewStructure spawns a square structure with one attraction point at its center.
func NewStructure(t *testing.T, space structure.Space, id int, pos mathx.Vec2, p structure.Params) *structure.Structure {
	t.Helper()
	s, err := structure.New(space, structure.Descriptor{
		ID:       id,
		Type:     "C2S2M2",
		Position: pos,
		Shapes:   Square(10),
		Points:   []structure.PointDef{{Name: "c", Role: structure.RolePoint}},
	}, p)
	if err != nil {
		t.Fatalf("structure.New(%d): %v", id, err)
	}
	return s
}
