// Package spawn turns position files and the shape catalog into structure
// descriptors, and descriptors into structures.
package spawn

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"granamodel/internal/persistence/snapshot"
	"granamodel/internal/sim/catalogs"
	"granamodel/internal/sim/mathx"
	"granamodel/internal/sim/simerr"
	"granamodel/internal/sim/structure"
	"granamodel/internal/sim/tuning"
)

// Placement is a typed pose before geometry is attached.
type Placement struct {
	Type     string
	Position mathx.Vec2
	Angle    float64
}

// ReadPositions parses a CSV with x and y columns (found by header name).
func ReadPositions(r io.Reader) ([]mathx.Vec2, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: positions header: %v", simerr.ErrConfiguration, err)
	}
	xi, yi := -1, -1
	for i, h := range head {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "x":
			xi = i
		case "y":
			yi = i
		}
	}
	if xi < 0 || yi < 0 {
		return nil, fmt.Errorf("%w: positions need x and y columns", simerr.ErrConfiguration)
	}

	var out []mathx.Vec2
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: positions line %d: %v", simerr.ErrConfiguration, line, err)
		}
		if xi >= len(rec) || yi >= len(rec) {
			return nil, fmt.Errorf("%w: positions line %d: short record", simerr.ErrConfiguration, line)
		}
		x, errX := strconv.ParseFloat(strings.TrimSpace(rec[xi]), 64)
		y, errY := strconv.ParseFloat(strings.TrimSpace(rec[yi]), 64)
		if err := errors.Join(errX, errY); err != nil {
			return nil, fmt.Errorf("%w: positions line %d: %v", simerr.ErrConfiguration, line, err)
		}
		out = append(out, mathx.V(x, y))
	}
}

func LoadPositions(path string) ([]mathx.Vec2, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", simerr.ErrConfiguration, err)
	}
	defer f.Close()
	return ReadPositions(f)
}

// AssignTypes draws a type for every position from the weighted table and a
// uniform angle in [0, 2π).
func AssignTypes(positions []mathx.Vec2, weights []catalogs.TypeWeight, rng *rand.Rand) ([]Placement, error) {
	var total float64
	for _, w := range weights {
		total += w.Weight
	}
	if !(total > 0) {
		return nil, fmt.Errorf("%w: no type weights to draw from", simerr.ErrConfiguration)
	}
	out := make([]Placement, 0, len(positions))
	for _, p := range positions {
		out = append(out, Placement{
			Type:     draw(weights, total, rng),
			Position: p,
			Angle:    rng.Float64() * 2 * math.Pi,
		})
	}
	return out, nil
}

func draw(weights []catalogs.TypeWeight, total float64, rng *rand.Rand) string {
	roll := rng.Float64() * total
	for _, w := range weights {
		if roll < w.Weight {
			return w.Type
		}
		roll -= w.Weight
	}
	// Float rounding can leave roll just past the last bucket.
	for i := len(weights) - 1; i >= 0; i-- {
		if weights[i].Weight > 0 {
			return weights[i].Type
		}
	}
	return weights[len(weights)-1].Type
}

// FromSnapshot restores placements from previously exported rows; area is
// ignored.
func FromSnapshot(rows []snapshot.Row) []Placement {
	out := make([]Placement, 0, len(rows))
	for _, r := range rows {
		out = append(out, Placement{Type: r.Type, Position: mathx.V(r.X, r.Y), Angle: r.Angle})
	}
	return out
}

// RandomInCircle samples a point whose radius follows a triangular
// distribution peaking at maxRadius, with uniform bearing.
func RandomInCircle(rng *rand.Rand, maxRadius float64, center mathx.Vec2) mathx.Vec2 {
	roll := rng.Float64() + rng.Float64()
	r := roll * maxRadius
	if roll > 1 {
		r = (2 - roll) * maxRadius
	}
	return center.Add(mathx.Polar(r, 2*math.Pi*rng.Float64()))
}

// Free-floating complexes added by the full spawn mode.
const (
	TypeLHCII  = "LHCII"
	TypeCytb6f = "cytb6f"
)

// Extras builds the free LHCII and cytochrome b6f placements of the full
// spawn mode. It returns nil in psii_only mode.
func Extras(cfg tuning.Spawn, psiiCount int, rng *rand.Rand) []Placement {
	if cfg.Mode != tuning.SpawnFull {
		return nil
	}
	center := mathx.V(cfg.Center[0], cfg.Center[1])
	lhcii := int(cfg.LHCIIRatio * float64(psiiCount))
	out := make([]Placement, 0, lhcii+cfg.Cytb6fCount)
	add := func(typ string, n int) {
		for i := 0; i < n; i++ {
			out = append(out, Placement{
				Type:     typ,
				Position: RandomInCircle(rng, cfg.Radius, center),
				Angle:    rng.Float64() * 2 * math.Pi,
			})
		}
	}
	add(TypeLHCII, lhcii)
	add(TypeCytb6f, cfg.Cytb6fCount)
	return out
}

// Descriptors is a pull-based sequence of structure descriptors. Every
// placement type is checked against the catalog up front.
type Descriptors struct {
	cat       *catalogs.Catalog
	shapeType string
	items     []Placement
	next      int
}

func NewDescriptors(cat *catalogs.Catalog, shapeType string, items []Placement) (*Descriptors, error) {
	if cat == nil {
		return nil, fmt.Errorf("%w: nil catalog", simerr.ErrConfiguration)
	}
	for i, p := range items {
		if _, ok := cat.Type(p.Type); !ok {
			return nil, fmt.Errorf("%w: placement %d has unknown type %q", simerr.ErrConfiguration, i, p.Type)
		}
		if !p.Position.IsFinite() || math.IsNaN(p.Angle) || math.IsInf(p.Angle, 0) {
			return nil, fmt.Errorf("%w: placement %d has a non-finite pose", simerr.ErrConfiguration, i)
		}
	}
	return &Descriptors{cat: cat, shapeType: shapeType, items: items}, nil
}

func (d *Descriptors) Len() int { return len(d.items) }

// Next returns the next descriptor, or false once the sequence is drained.
func (d *Descriptors) Next() (structure.Descriptor, bool) {
	if d.next >= len(d.items) {
		return structure.Descriptor{}, false
	}
	p := d.items[d.next]
	td, _ := d.cat.Type(p.Type)
	desc := structure.Descriptor{
		ID:       d.next,
		Type:     p.Type,
		Position: p.Position,
		Angle:    p.Angle,
		Shapes:   td.Shapes(d.shapeType),
		Points:   td.Points,
		Color:    td.Color,
	}
	d.next++
	return desc, true
}

// Build drains descriptors into structures on the given space, using the
// tuning's per-type parameters.
func Build(space structure.Space, descs *Descriptors, t tuning.Tuning) ([]*structure.Structure, error) {
	out := make([]*structure.Structure, 0, descs.Len())
	params := map[string]structure.Params{}
	for {
		d, ok := descs.Next()
		if !ok {
			return out, nil
		}
		p, seen := params[d.Type]
		if !seen {
			var err error
			if p, err = t.Params(d.Type); err != nil {
				return nil, err
			}
			params[d.Type] = p
		}
		s, err := structure.New(space, d, p)
		if err != nil {
			return nil, fmt.Errorf("structure %d (%s): %w", d.ID, d.Type, err)
		}
		out = append(out, s)
	}
}
