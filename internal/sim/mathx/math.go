package mathx

import "math"

// Vec2 is a 2D vector in simulation units (nm).
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func V(x, y float64) Vec2 { return Vec2{X: x, Y: y} }

func (a Vec2) Add(b Vec2) Vec2 { return Vec2{a.X + b.X, a.Y + b.Y} }
func (a Vec2) Sub(b Vec2) Vec2 { return Vec2{a.X - b.X, a.Y - b.Y} }
func (a Vec2) Scale(f float64) Vec2 { return Vec2{a.X * f, a.Y * f} }
func (a Vec2) Dot(b Vec2) float64 { return a.X*b.X + a.Y*b.Y }
func (a Vec2) Cross(b Vec2) float64 { return a.X*b.Y - a.Y*b.X }
func (a Vec2) Len() float64 { return math.Hypot(a.X, a.Y) }
func (a Vec2) Dist(b Vec2) float64 { return math.Hypot(a.X-b.X, a.Y-b.Y) }
func (a Vec2) IsZero() bool { return a.X == 0 && a.Y == 0 }
func (a Vec2) IsFinite() bool { return isFinite(a.X) && isFinite(a.Y) }
func (a Vec2) Equal(b Vec2, eps float64) bool {
	return math.Abs(a.X-b.X) <= eps && math.Abs(a.Y-b.Y) <= eps
}

// Norm returns the unit vector of a, or the zero vector when a has no length.
func (a Vec2) Norm() Vec2 {
	l := a.Len()
	if l == 0 {
		return Vec2{}
	}
	return Vec2{a.X / l, a.Y / l}
}

// Rotate rotates a counter-clockwise by angle radians.
func (a Vec2) Rotate(angle float64) Vec2 {
	s, c := math.Sincos(angle)
	return Vec2{a.X*c - a.Y*s, a.X*s + a.Y*c}
}

// Polar returns the vector of length r at angle theta.
func Polar(r, theta float64) Vec2 {
	s, c := math.Sincos(theta)
	return Vec2{r * c, r * s}
}

// PolygonArea is the absolute shoelace area of a simple polygon.
func PolygonArea(poly []Vec2) float64 {
	return math.Abs(SignedArea(poly))
}

func SignedArea(poly []Vec2) float64 {
	n := len(poly)
	if n < 3 {
		return 0
	}
	var s float64
	for i := 0; i < n; i++ {
		s += poly[i].Cross(poly[(i+1)%n])
	}
	return s / 2
}

// IsConvex reports whether poly turns the same way at every vertex and winds
// exactly once. Collinear vertices are allowed.
func IsConvex(poly []Vec2) bool {
	n := len(poly)
	if n < 3 {
		return false
	}
	var sign, turn float64
	for i := 0; i < n; i++ {
		e1 := poly[(i+1)%n].Sub(poly[i])
		e2 := poly[(i+2)%n].Sub(poly[(i+1)%n])
		c := e1.Cross(e2)
		if c != 0 {
			if sign != 0 && math.Signbit(c) != math.Signbit(sign) {
				return false
			}
			sign = c
		}
		turn += math.Atan2(c, e1.Dot(e2))
	}
	return math.Abs(math.Abs(turn)-2*math.Pi) < 1e-6
}

// Transform moves a local-frame polygon to world space.
func Transform(poly []Vec2, pos Vec2, angle float64) []Vec2 {
	out := make([]Vec2, len(poly))
	for i, p := range poly {
		out[i] = p.Rotate(angle).Add(pos)
	}
	return out
}

// Bounds returns the axis-aligned bounding box of a point set.
func Bounds(pts []Vec2) (min, max Vec2) {
	if len(pts) == 0 {
		return Vec2{}, Vec2{}
	}
	min, max = pts[0], pts[0]
	for _, p := range pts[1:] {
		min.X = math.Min(min.X, p.X)
		min.Y = math.Min(min.Y, p.Y)
		max.X = math.Max(max.X, p.X)
		max.Y = math.Max(max.Y, p.Y)
	}
	return min, max
}

// WrapAngle maps an angle to [0, 2π).
func WrapAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}

func Deg2Rad(d float64) float64 { return d * math.Pi / 180 }

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// DeriveSeed mixes a base seed with a stream index (run number, structure id)
// so independent runs get decorrelated random streams.
func DeriveSeed(seed int64, stream int) uint64 {
	us := uint64(uint32(int32(stream)))
	return mix64(uint64(seed) ^ (us * 0x9e3779b97f4a7c15))
}
