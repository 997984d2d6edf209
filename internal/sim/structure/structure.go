package structure

import (
	"fmt"

	"granamodel/internal/sim/mathx"
	"granamodel/internal/sim/simerr"
)

// MaxPolygonVertices is the per-shape vertex limit of the rigid-body engine.
const MaxPolygonVertices = 8

// Body is the engine-owned rigid body backing a structure. Pose is always read
// through it; the structure keeps no cached copy.
type Body interface {
	Position() mathx.Vec2
	SetPosition(p mathx.Vec2)
	Angle() float64
	SetAngle(a float64)
	ApplyImpulseAtLocalPoint(impulse, local mathx.Vec2)
}

// BodyDef is everything the engine needs to add one body with all its shapes
// in a single call.
type BodyDef struct {
	Position mathx.Vec2
	Angle    float64
	Shapes   [][]mathx.Vec2
	Mass     float64
	UserData any
}

// Space creates and removes bodies.
type Space interface {
	AddBody(def BodyDef) (Body, error)
	RemoveBody(b Body)
}

// Descriptor is one catalog entry ready to be spawned.
type Descriptor struct {
	ID       int
	Type     string
	Position mathx.Vec2
	Angle    float64
	Shapes   [][]mathx.Vec2
	Points   []PointDef
	Color    [4]uint8
}

// Params are the per-type mechanics, resolved from tuning.
type Params struct {
	Mass               float64
	Diffusion          float64
	RotationScalar     float64
	Threshold          float64
	Scalar             Scalar
	TetherRadius       float64
	AttractionConstant float64
	MaxRotation        float64 // radians
}

// DefaultParams returns the stock per-structure parameters.
func DefaultParams() Params {
	return Params{
		Mass:               100,
		Diffusion:          10,
		RotationScalar:     0.1,
		Threshold:          50,
		Scalar:             Well,
		TetherRadius:       1,
		AttractionConstant: 1,
		MaxRotation:        mathx.Deg2Rad(15),
	}
}

func (p Params) validate() error {
	switch {
	case !(p.Mass > 0):
		return fmt.Errorf("%w: mass must be > 0 (got %v)", simerr.ErrConfiguration, p.Mass)
	case !(p.TetherRadius > 0):
		return fmt.Errorf("%w: tether radius must be > 0 (got %v)", simerr.ErrConfiguration, p.TetherRadius)
	case p.Diffusion < 0, p.RotationScalar < 0, p.Threshold < 0, p.MaxRotation < 0:
		return fmt.Errorf("%w: negative scalar in params %+v", simerr.ErrConfiguration, p)
	}
	return nil
}

// Structure is one protein complex: a rigid body tethered near its origin.
type Structure struct {
	ID     int
	Type   string
	Origin mathx.Vec2
	Shapes [][]mathx.Vec2
	Points []*AttractionPoint

	Mass               float64
	Diffusion          float64
	RotationScalar     float64
	Threshold          float64
	Scalar             Scalar
	TetherRadius       float64
	AttractionConstant float64
	MaxRotation        float64

	body    Body
	area    float64
	pending []mathx.Vec2
	last    *Action
}

// New builds the body, shapes and attraction points of one structure.
func New(space Space, d Descriptor, p Params) (*Structure, error) {
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("structure %d (%s): %w", d.ID, d.Type, err)
	}
	area, err := validateShapes(d.Shapes)
	if err != nil {
		return nil, fmt.Errorf("structure %d (%s): %w", d.ID, d.Type, err)
	}
	if !d.Position.IsFinite() {
		return nil, fmt.Errorf("structure %d (%s): %w: non-finite position", d.ID, d.Type, simerr.ErrConfiguration)
	}

	s := &Structure{
		ID:                 d.ID,
		Type:               d.Type,
		Origin:             d.Position,
		Shapes:             cloneShapes(d.Shapes),
		Mass:               p.Mass,
		Diffusion:          p.Diffusion,
		RotationScalar:     p.RotationScalar,
		Threshold:          p.Threshold,
		Scalar:             p.Scalar,
		TetherRadius:       p.TetherRadius,
		AttractionConstant: p.AttractionConstant,
		MaxRotation:        p.MaxRotation,
		area:               area,
	}
	for _, pd := range d.Points {
		s.Points = append(s.Points, &AttractionPoint{parent: s, Name: pd.Name, Offset: pd.Offset, Role: pd.Role})
	}

	body, err := space.AddBody(BodyDef{
		Position: d.Position,
		Angle:    d.Angle,
		Shapes:   s.Shapes,
		Mass:     p.Mass,
		UserData: s,
	})
	if err != nil {
		return nil, fmt.Errorf("structure %d (%s): add body: %w", d.ID, d.Type, err)
	}
	s.body = body
	return s, nil
}

// Reshape swaps the shape representation in place: the body is removed and
// recreated with identical pose.
func (s *Structure) Reshape(space Space, shapes [][]mathx.Vec2) error {
	area, err := validateShapes(shapes)
	if err != nil {
		return fmt.Errorf("structure %d (%s): reshape: %w", s.ID, s.Type, err)
	}
	pos, angle := s.body.Position(), s.body.Angle()
	next := cloneShapes(shapes)
	space.RemoveBody(s.body)
	body, err := space.AddBody(BodyDef{Position: pos, Angle: angle, Shapes: next, Mass: s.Mass, UserData: s})
	if err != nil {
		return fmt.Errorf("structure %d (%s): reshape: %w", s.ID, s.Type, err)
	}
	s.body = body
	s.Shapes = next
	s.area = area
	return nil
}

// Body returns the engine body backing the structure.
func (s *Structure) Body() Body { return s.body }
func (s *Structure) Position() mathx.Vec2 { return s.body.Position() }
func (s *Structure) Angle() float64 { return s.body.Angle() }
func (s *Structure) Area() float64 { return s.area }
func (s *Structure) LastAction() *Action { return s.last }

// Pending returns the attraction forces queued for the next step.
func (s *Structure) Pending() []mathx.Vec2 { return s.pending }

// TetherDistance is how far the structure has drifted from its origin.
func (s *Structure) TetherDistance() float64 { return s.Origin.Dist(s.body.Position()) }

// WorldPolygons returns every shape transformed by the current pose.
func (s *Structure) WorldPolygons() [][]mathx.Vec2 {
	pos, angle := s.body.Position(), s.body.Angle()
	out := make([][]mathx.Vec2, len(s.Shapes))
	for i, shape := range s.Shapes {
		out[i] = mathx.Transform(shape, pos, angle)
	}
	return out
}

// Bounds is the world-space AABB over all shapes.
func (s *Structure) Bounds() (min, max mathx.Vec2) {
	var pts []mathx.Vec2
	for _, poly := range s.WorldPolygons() {
		pts = append(pts, poly...)
	}
	return mathx.Bounds(pts)
}

func validateShapes(shapes [][]mathx.Vec2) (float64, error) {
	if len(shapes) == 0 {
		return 0, fmt.Errorf("%w: empty shape list", simerr.ErrConfiguration)
	}
	var total float64
	for i, shape := range shapes {
		if len(shape) < 3 {
			return 0, fmt.Errorf("%w: shape %d has %d vertices", simerr.ErrConfiguration, i, len(shape))
		}
		if len(shape) > MaxPolygonVertices {
			return 0, fmt.Errorf("%w: shape %d has %d vertices (max %d)", simerr.ErrConfiguration, i, len(shape), MaxPolygonVertices)
		}
		for _, v := range shape {
			if !v.IsFinite() {
				return 0, fmt.Errorf("%w: shape %d has a non-finite vertex", simerr.ErrConfiguration, i)
			}
		}
		a := mathx.PolygonArea(shape)
		if a <= 0 {
			return 0, fmt.Errorf("%w: shape %d is degenerate", simerr.ErrConfiguration, i)
		}
		if !mathx.IsConvex(shape) {
			return 0, fmt.Errorf("%w: shape %d is not convex", simerr.ErrConfiguration, i)
		}
		total += a
	}
	return total, nil
}

func cloneShapes(shapes [][]mathx.Vec2) [][]mathx.Vec2 {
	out := make([][]mathx.Vec2, len(shapes))
	for i, s := range shapes {
		out[i] = append([]mathx.Vec2(nil), s...)
	}
	return out
}
