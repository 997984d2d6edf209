package zones

import (
	"errors"
	"testing"

	"granamodel/internal/sim/mathx"
	"granamodel/internal/sim/simerr"
	"granamodel/internal/sim/simtest"
	"granamodel/internal/sim/structure"
)

var center = mathx.V(200, 200)

func spawnAt(t *testing.T, dists ...float64) []*structure.Structure {
	t.Helper()
	space := &simtest.Space{}
	out := make([]*structure.Structure, 0, len(dists))
	for i, d := range dists {
		out = append(out, simtest.NewStructure(t, space, i, center.Add(mathx.V(d, 0)), structure.DefaultParams()))
	}
	return out
}

func drain(s Strategy) []Zone {
	var out []Zone
	for {
		z, ok := s.Next()
		if !ok {
			return out
		}
		out = append(out, z)
	}
}

func TestBands_CompletePartition(t *testing.T) {
	structs := spawnAt(t, 0, 10, 88.9, 89, 126, 150, 177, 199.9, 200, 350)
	b, err := NewBands(structs, center, DefaultBoundaries)
	if err != nil {
		t.Fatalf("NewBands: %v", err)
	}
	zs := drain(b)
	if len(zs) != b.TotalZones() || len(zs) != 5 {
		t.Fatalf("zones=%d total=%d", len(zs), b.TotalZones())
	}
	seen := map[int]int{}
	for _, z := range zs {
		for _, m := range z.Members {
			seen[m.ID]++
		}
	}
	for _, s := range structs {
		if seen[s.ID] != 1 {
			t.Fatalf("structure %d appears %d times", s.ID, seen[s.ID])
		}
	}
}

func TestBands_BoundaryGoesToOuterBand(t *testing.T) {
	structs := spawnAt(t, 89)
	b, err := NewBands(structs, center, DefaultBoundaries)
	if err != nil {
		t.Fatalf("NewBands: %v", err)
	}
	zs := drain(b)
	if zs[0].Len() != 0 || zs[1].Len() != 1 {
		t.Fatalf("band sizes: %d %d", zs[0].Len(), zs[1].Len())
	}
}

func TestBands_OrderAndRestart(t *testing.T) {
	structs := spawnAt(t, 5, 100, 190)
	b, err := NewBands(structs, center, DefaultBoundaries)
	if err != nil {
		t.Fatalf("NewBands: %v", err)
	}
	first := drain(b)
	for i := 1; i < len(first); i++ {
		if first[i].Low < first[i-1].Low || first[i].Index != i {
			t.Fatalf("zones out of order at %d: %+v", i, first[i])
		}
	}
	if _, ok := b.Next(); ok {
		t.Fatalf("Next after exhaustion should stay false")
	}

	// Move the innermost structure outward; membership only changes on Reset.
	structs[0].Body().SetPosition(center.Add(mathx.V(130, 0)))
	if _, ok := b.Next(); ok {
		t.Fatalf("Next before Reset should stay false")
	}
	b.Reset()
	second := drain(b)
	if len(second) != len(first) {
		t.Fatalf("zone count changed: %d vs %d", len(second), len(first))
	}
	if second[0].Len() != 0 || second[2].Len() != 1 {
		t.Fatalf("reset did not repartition: %d %d", second[0].Len(), second[2].Len())
	}
}

func TestRings_AddsAggregateZone(t *testing.T) {
	structs := spawnAt(t, 5, 100, 190)
	r, err := NewRings(structs, center, DefaultBoundaries)
	if err != nil {
		t.Fatalf("NewRings: %v", err)
	}
	zs := drain(r)
	if len(zs) != 6 || r.TotalZones() != 6 {
		t.Fatalf("zones=%d", len(zs))
	}
	last := zs[len(zs)-1]
	if !last.Aggregate || last.Len() != len(structs) {
		t.Fatalf("aggregate zone=%+v", last)
	}
}

func TestNew_RejectsBadBoundaries(t *testing.T) {
	for _, b := range [][]float64{nil, {0, 10}, {10, 10}, {20, 10}} {
		if _, err := New(KindBands, nil, center, b); !errors.Is(err, simerr.ErrConfiguration) {
			t.Fatalf("boundaries %v: expected configuration error, got %v", b, err)
		}
	}
	if _, err := ParseKind("spiral"); !errors.Is(err, simerr.ErrConfiguration) {
		t.Fatalf("expected configuration error for unknown kind")
	}
	if k, err := ParseKind("Rings"); err != nil || k != KindRings {
		t.Fatalf("ParseKind(Rings)=%v, %v", k, err)
	}
}
