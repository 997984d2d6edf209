package physics

import "github.com/ByteArena/box2d"

// overlapListener implements box2d.B2ContactListenerInterface. It sums the
// penetration depth of touching contacts and the distinct body pairs involved.
type overlapListener struct {
	engine  *Engine
	resolve bool

	depth float64
	pairs map[[2]int]struct{}
}

func (l *overlapListener) begin(resolve bool) {
	l.resolve = resolve
	l.depth = 0
	clear(l.pairs)
}

func (l *overlapListener) BeginContact(contact box2d.B2ContactInterface) {}

func (l *overlapListener) EndContact(contact box2d.B2ContactInterface) {}

// PreSolve only runs for touching contacts, once per contact per step.
func (l *overlapListener) PreSolve(contact box2d.B2ContactInterface, oldManifold box2d.B2Manifold) {
	n := contact.GetManifold().PointCount
	wm := box2d.MakeB2WorldManifold()
	contact.GetWorldManifold(&wm)
	for i := 0; i < n && i < len(wm.Separations); i++ {
		if s := wm.Separations[i]; s < 0 {
			l.depth -= s
		}
	}

	a := l.engine.bodies[contact.GetFixtureA().GetBody()]
	b := l.engine.bodies[contact.GetFixtureB().GetBody()]
	if a != nil && b != nil && a != b {
		key := [2]int{a.id, b.id}
		if key[0] > key[1] {
			key[0], key[1] = key[1], key[0]
		}
		l.pairs[key] = struct{}{}
	}

	if !l.resolve {
		contact.SetEnabled(false)
	}
}

func (l *overlapListener) PostSolve(contact box2d.B2ContactInterface, impulse *box2d.B2ContactImpulse) {
}
