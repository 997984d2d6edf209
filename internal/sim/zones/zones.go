// Package zones partitions structures into distance bands around a center and
// hands them out one zone at a time, innermost first.
package zones

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"granamodel/internal/sim/mathx"
	"granamodel/internal/sim/simerr"
	"granamodel/internal/sim/structure"
)

// DefaultBoundaries are the band upper edges in nm, measured from the center.
var DefaultBoundaries = []float64{89, 127, 155, 178, 200}

type Zone struct {
	Index     int
	Low       float64
	High      float64
	Aggregate bool
	Members   []*structure.Structure
}

func (z Zone) Len() int { return len(z.Members) }

// Strategy yields a finite, ordered sequence of zones per sweep.
type Strategy interface {
	// Next returns the next zone, or false once every zone of this sweep was
	// handed out. It keeps returning false until Reset.
	Next() (Zone, bool)
	// Reset recomputes membership from current positions and restarts.
	Reset()
	TotalZones() int
}

type Kind string

const (
	KindBands Kind = "bands"
	KindRings Kind = "rings"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindBands, nil
	case KindBands, KindRings:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown zone strategy %q", simerr.ErrConfiguration, s)
}

// New builds the strategy selected by kind.
func New(kind Kind, structs []*structure.Structure, center mathx.Vec2, boundaries []float64) (Strategy, error) {
	switch kind {
	case KindBands, "":
		return NewBands(structs, center, boundaries)
	case KindRings:
		return NewRings(structs, center, boundaries)
	}
	return nil, fmt.Errorf("%w: unknown zone strategy %q", simerr.ErrConfiguration, kind)
}

// Bands splits structures into len(boundaries) concentric bands.
// Band i covers [b(i-1), b(i)) with b(-1)=0; a structure exactly on b(i)
// belongs to band i+1, and anything at or past the last edge joins the last
// band.
type Bands struct {
	partition
}

func NewBands(structs []*structure.Structure, center mathx.Vec2, boundaries []float64) (*Bands, error) {
	p, err := newPartition(structs, center, boundaries, false)
	if err != nil {
		return nil, err
	}
	return &Bands{partition: p}, nil
}

// Rings is Bands followed by one aggregate zone holding every structure.
type Rings struct {
	partition
}

func NewRings(structs []*structure.Structure, center mathx.Vec2, boundaries []float64) (*Rings, error) {
	p, err := newPartition(structs, center, boundaries, true)
	if err != nil {
		return nil, err
	}
	return &Rings{partition: p}, nil
}

type partition struct {
	center     mathx.Vec2
	boundaries []float64
	structs    []*structure.Structure
	aggregate  bool

	zones []Zone
	next  int
}

func newPartition(structs []*structure.Structure, center mathx.Vec2, boundaries []float64, aggregate bool) (partition, error) {
	if err := validateBoundaries(boundaries); err != nil {
		return partition{}, err
	}
	if !center.IsFinite() {
		return partition{}, fmt.Errorf("%w: non-finite zone center", simerr.ErrConfiguration)
	}
	p := partition{
		center:     center,
		boundaries: append([]float64(nil), boundaries...),
		structs:    append([]*structure.Structure(nil), structs...),
		aggregate:  aggregate,
	}
	p.rebuild()
	return p, nil
}

func validateBoundaries(b []float64) error {
	if len(b) == 0 {
		return fmt.Errorf("%w: zone boundaries are empty", simerr.ErrConfiguration)
	}
	prev := 0.0
	for i, v := range b {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= prev {
			return fmt.Errorf("%w: zone boundary %d (%v) must be positive and strictly increasing", simerr.ErrConfiguration, i, v)
		}
		prev = v
	}
	return nil
}

func (p *partition) rebuild() {
	n := len(p.boundaries)
	zones := make([]Zone, 0, n+1)
	low := 0.0
	for i, high := range p.boundaries {
		if i == n-1 {
			high = math.Inf(1)
		}
		zones = append(zones, Zone{Index: i, Low: low, High: high})
		low = p.boundaries[i]
	}
	for _, s := range p.structs {
		i := p.bandOf(s.Position().Dist(p.center))
		zones[i].Members = append(zones[i].Members, s)
	}
	if p.aggregate {
		zones = append(zones, Zone{
			Index:     n,
			Low:       0,
			High:      math.Inf(1),
			Aggregate: true,
			Members:   append([]*structure.Structure(nil), p.structs...),
		})
	}
	p.zones = zones
	p.next = 0
}

func (p *partition) bandOf(d float64) int {
	i := sort.Search(len(p.boundaries), func(i int) bool { return p.boundaries[i] > d })
	if i >= len(p.boundaries) {
		i = len(p.boundaries) - 1
	}
	return i
}

func (p *partition) Next() (Zone, bool) {
	if p.next >= len(p.zones) {
		return Zone{}, false
	}
	z := p.zones[p.next]
	p.next++
	return z, true
}

func (p *partition) Reset() { p.rebuild() }

func (p *partition) TotalZones() int { return len(p.zones) }

// Boundaries returns a copy of the configured upper edges.
func (p *partition) Boundaries() []float64 { return append([]float64(nil), p.boundaries...) }
