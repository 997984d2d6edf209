package structure

import (
	"fmt"
	"math/rand/v2"

	"granamodel/internal/sim/mathx"
)

// TetherStep is how much a rejected move magnitude shrinks before retrying.
const TetherStep = 0.01

const tetherEps = 1e-9

// Direction is the world-frame heading of a move.
type Direction uint8

const (
	Up Direction = iota
	Down
	Left
	Right
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Unit is the world-axis unit vector for a move direction.
func (d Direction) Unit() mathx.Vec2 {
	switch d {
	case Up:
		return mathx.V(0, 1)
	case Down:
		return mathx.V(0, -1)
	case Left:
		return mathx.V(-1, 0)
	default:
		return mathx.V(1, 0)
	}
}

// ActionKind distinguishes translations from rotations.
type ActionKind uint8

const (
	Move ActionKind = iota
	Rotate
)

func (k ActionKind) String() string {
	if k == Rotate {
		return "rotate"
	}
	return "move"
}

// Action is the last change made by a structure, with enough to revert it.
type Action struct {
	Kind      ActionKind
	Direction Direction
	Magnitude float64

	PrevPosition mathx.Vec2
	PrevAngle    float64
}

// TetheredMove translates the structure along dir by a random magnitude in
// [0, hint]. Magnitudes that would leave the tether disc are reduced by
// TetherStep until they fit; if nothing fits the move has zero length.
func (s *Structure) TetheredMove(dir Direction, hint float64, rng *rand.Rand) Action {
	start := s.body.Position()
	unit := dir.Unit()

	mag := 0.0
	if hint > 0 {
		mag = rng.Float64() * hint
	}
	for mag > 0 {
		if start.Add(unit.Scale(mag)).Dist(s.Origin) <= s.TetherRadius+tetherEps {
			break
		}
		mag -= TetherStep
	}
	if mag < 0 {
		mag = 0
	}

	act := Action{Kind: Move, Direction: dir, Magnitude: mag, PrevPosition: start, PrevAngle: s.body.Angle()}
	if mag > 0 {
		s.body.SetPosition(start.Add(unit.Scale(mag)))
	}
	s.last = &act
	return act
}

// Rotate turns the structure by a random angle in [0, MaxRotation].
// Left is counter-clockwise, any other direction clockwise.
func (s *Structure) Rotate(dir Direction, rng *rand.Rand) Action {
	prev := s.body.Angle()
	mag := rng.Float64() * s.MaxRotation
	delta := -mag
	if dir == Left {
		delta = mag
	}
	act := Action{Kind: Rotate, Direction: dir, Magnitude: mag, PrevPosition: s.body.Position(), PrevAngle: prev}
	s.body.SetAngle(prev + delta)
	s.last = &act
	return act
}

// Undo reverts the most recent action. It is a no-op when there is none and
// clears the record so a second Undo does nothing.
func (s *Structure) Undo() {
	if s.last == nil {
		return
	}
	switch s.last.Kind {
	case Move:
		s.body.SetPosition(s.last.PrevPosition)
	case Rotate:
		s.body.SetAngle(s.last.PrevAngle)
	}
	s.last = nil
}
