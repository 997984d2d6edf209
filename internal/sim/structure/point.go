package structure

import "granamodel/internal/sim/mathx"

// Role tags an attraction point by the binding site it models. It is carried
// through to exports and never changes the force law.
type Role string

const (
	RolePoint Role = "point"
	RoleSide  Role = "side"
)

// PointDef describes an attraction point before it is attached to a structure.
type PointDef struct {
	Name   string
	Offset mathx.Vec2
	Role   Role
}

// AttractionPoint is a fixed local offset on its parent structure.
type AttractionPoint struct {
	Name   string
	Offset mathx.Vec2
	Role   Role

	parent *Structure
}

// Parent returns the structure the point is attached to.
func (p *AttractionPoint) Parent() *Structure { return p.parent }

// World derives the point's position from the parent body's current pose.
func (p *AttractionPoint) World() mathx.Vec2 {
	return p.parent.Position().Add(p.Offset.Rotate(p.parent.Angle()))
}
