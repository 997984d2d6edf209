// Package physics adapts the box2d rigid-body world to structures and measures
// how much they overlap.
package physics

import (
	"fmt"
	"math"

	"github.com/ByteArena/box2d"

	"granamodel/internal/sim/mathx"
	"granamodel/internal/sim/simerr"
	"granamodel/internal/sim/structure"
)

type Config struct {
	// Substeps splits each Step so contacts created by a teleport are measured
	// within the same call.
	Substeps           int
	VelocityIterations int
	PositionIterations int
	MaxVelocity        float64
	LinearDamping      float64
	AngularDamping     float64
	// Resolve lets the solver push overlapping bodies apart. When false the
	// engine only measures: contacts are disabled after PreSolve and bodies
	// keep exactly the pose they were given.
	Resolve bool
}

func DefaultConfig() Config {
	return Config{
		Substeps:           2,
		VelocityIterations: 8,
		PositionIterations: 3,
		MaxVelocity:        1,
	}
}

func (c *Config) normalize() {
	if c.Substeps <= 0 {
		c.Substeps = 1
	}
	if c.VelocityIterations <= 0 {
		c.VelocityIterations = 8
	}
	if c.PositionIterations <= 0 {
		c.PositionIterations = 3
	}
}

// StepResult is what one Step observed. Metric is the value an optimizer
// should minimize; its meaning depends on the bridge that produced it.
type StepResult struct {
	Metric          float64
	OverlapDistance float64
	OverlapArea     float64
	CollidingPairs  int
}

// Engine owns one zero-gravity box2d world. It is not safe for concurrent use.
type Engine struct {
	cfg      Config
	world    *box2d.B2World
	listener *overlapListener
	bodies   map[*box2d.B2Body]*Body
	nextID   int
	overlap  float64
	closed   bool
}

func NewEngine(cfg Config) *Engine {
	cfg.normalize()
	w := box2d.MakeB2World(box2d.MakeB2Vec2(0, 0))
	e := &Engine{
		cfg:    cfg,
		world:  &w,
		bodies: map[*box2d.B2Body]*Body{},
	}
	e.listener = &overlapListener{engine: e, pairs: map[[2]int]struct{}{}}
	e.world.SetContactListener(e.listener)
	return e
}

func (e *Engine) Config() Config { return e.cfg }

// SetResolve switches between measuring (false) and resolving (true) contacts.
func (e *Engine) SetResolve(v bool) { e.cfg.Resolve = v }

func (e *Engine) BodyCount() int { return len(e.bodies) }

// AddBody creates one dynamic, never-sleeping body with a polygon fixture per
// shape. Density is mass spread over the total shape area.
func (e *Engine) AddBody(def structure.BodyDef) (b structure.Body, err error) {
	if e.closed {
		return nil, fmt.Errorf("%w: engine closed", simerr.ErrEngineStep)
	}
	var area float64
	for _, shape := range def.Shapes {
		area += mathx.PolygonArea(shape)
	}
	if len(def.Shapes) == 0 || !(area > 0) || !(def.Mass > 0) {
		return nil, fmt.Errorf("%w: body needs shapes with area and positive mass", simerr.ErrConfiguration)
	}

	defer func() {
		if r := recover(); r != nil {
			b, err = nil, fmt.Errorf("%w: create body: %v", simerr.ErrConfiguration, r)
		}
	}()

	bd := box2d.MakeB2BodyDef()
	bd.Type = box2d.B2BodyType.B2_dynamicBody
	bd.Position.Set(def.Position.X, def.Position.Y)
	bd.Angle = def.Angle
	bd.AllowSleep = false
	bd.LinearDamping = e.cfg.LinearDamping
	bd.AngularDamping = e.cfg.AngularDamping

	body := e.world.CreateBody(&bd)
	density := def.Mass / area
	for _, shape := range def.Shapes {
		verts := make([]box2d.B2Vec2, len(shape))
		for i, v := range shape {
			verts[i].Set(v.X, v.Y)
		}
		poly := box2d.MakeB2PolygonShape()
		poly.Set(verts, len(verts))

		fd := box2d.MakeB2FixtureDef()
		fd.Shape = &poly
		fd.Density = density
		fd.Friction = 0
		body.CreateFixtureFromDef(&fd)
	}
	body.SetUserData(def.UserData)

	e.nextID++
	out := &Body{id: e.nextID, b: body}
	e.bodies[body] = out
	return out, nil
}

func (e *Engine) RemoveBody(b structure.Body) {
	pb, ok := b.(*Body)
	if !ok || pb == nil || e.closed {
		return
	}
	if _, ok := e.bodies[pb.b]; !ok {
		return
	}
	delete(e.bodies, pb.b)
	e.world.DestroyBody(pb.b)
}

// ResetOverlap zeroes the accumulated overlap.
func (e *Engine) ResetOverlap() { e.overlap = 0 }

// Overlap is the penetration depth accumulated since the last ResetOverlap.
func (e *Engine) Overlap() float64 { return e.overlap }

// Step advances the world by dt split into substeps. The returned result
// describes the final substep.
func (e *Engine) Step(dt float64) (res StepResult, err error) {
	if e.closed {
		return StepResult{}, fmt.Errorf("%w: engine closed", simerr.ErrEngineStep)
	}
	if !(dt > 0) || math.IsInf(dt, 0) {
		return StepResult{}, fmt.Errorf("%w: invalid dt %v", simerr.ErrEngineStep, dt)
	}
	defer func() {
		if r := recover(); r != nil {
			res, err = StepResult{}, fmt.Errorf("%w: %v", simerr.ErrEngineStep, r)
		}
	}()

	sub := dt / float64(e.cfg.Substeps)
	for i := 0; i < e.cfg.Substeps; i++ {
		if !e.cfg.Resolve {
			e.freeze()
		}
		e.listener.begin(e.cfg.Resolve)
		e.world.Step(sub, e.cfg.VelocityIterations, e.cfg.PositionIterations)
		e.clampVelocities()
	}

	res = StepResult{
		OverlapDistance: e.listener.depth,
		CollidingPairs:  len(e.listener.pairs),
	}
	res.Metric = res.OverlapDistance
	e.overlap += res.OverlapDistance
	return res, nil
}

// Close destroys every body. Further calls fail with ErrEngineStep.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	for b := range e.bodies {
		e.world.DestroyBody(b)
	}
	e.bodies = map[*box2d.B2Body]*Body{}
	e.closed = true
	return nil
}

func (e *Engine) freeze() {
	zero := box2d.MakeB2Vec2(0, 0)
	for b := range e.bodies {
		b.SetLinearVelocity(zero)
		b.SetAngularVelocity(0)
	}
}

func (e *Engine) clampVelocities() {
	max := e.cfg.MaxVelocity
	if !(max > 0) {
		return
	}
	for b := range e.bodies {
		v := b.GetLinearVelocity()
		if l := math.Hypot(v.X, v.Y); l > max {
			b.SetLinearVelocity(box2d.MakeB2Vec2(v.X*max/l, v.Y*max/l))
		}
	}
}

// Body is a structure.Body backed by a box2d body.
type Body struct {
	id int
	b  *box2d.B2Body
}

func (b *Body) Position() mathx.Vec2 {
	p := b.b.GetPosition()
	return mathx.V(p.X, p.Y)
}

func (b *Body) SetPosition(p mathx.Vec2) {
	b.b.SetTransform(box2d.MakeB2Vec2(p.X, p.Y), b.b.GetAngle())
}

func (b *Body) Angle() float64 { return b.b.GetAngle() }

func (b *Body) SetAngle(a float64) {
	b.b.SetTransform(b.b.GetPosition(), a)
}

func (b *Body) ApplyImpulseAtLocalPoint(impulse, local mathx.Vec2) {
	point := b.b.GetWorldPoint(box2d.MakeB2Vec2(local.X, local.Y))
	b.b.ApplyLinearImpulse(box2d.MakeB2Vec2(impulse.X, impulse.Y), point, true)
}

func (b *Body) Velocity() mathx.Vec2 {
	v := b.b.GetLinearVelocity()
	return mathx.V(v.X, v.Y)
}
