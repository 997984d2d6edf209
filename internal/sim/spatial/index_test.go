package spatial

import (
	"math"
	"testing"

	"granamodel/internal/sim/mathx"
	"granamodel/internal/sim/simtest"
	"granamodel/internal/sim/structure"
)

func TestIndex_CandidatesAndWithin(t *testing.T) {
	space := &simtest.Space{}
	p := structure.DefaultParams()
	a := simtest.NewStructure(t, space, 1, mathx.V(0, 0), p)
	b := simtest.NewStructure(t, space, 2, mathx.V(8, 0), p)
	c := simtest.NewStructure(t, space, 3, mathx.V(40, 40), p)

	idx := Build([]*structure.Structure{a, b, c})
	if idx.Len() != 3 {
		t.Fatalf("len=%d", idx.Len())
	}
	got := idx.Candidates(a)
	if len(got) != 1 || got[0] != b {
		t.Fatalf("candidates of a: %v", got)
	}
	if got := idx.Candidates(c); len(got) != 0 {
		t.Fatalf("c should have no candidates, got %d", len(got))
	}
	if got := idx.Within(mathx.V(40, 40), 1); len(got) != 1 || got[0] != c {
		t.Fatalf("within: %v", got)
	}
}

func TestIndex_ManyStructuresBulkLoad(t *testing.T) {
	space := &simtest.Space{}
	var structs []*structure.Structure
	for i := 0; i < 120; i++ {
		pos := mathx.V(float64(i%12)*20, float64(i/12)*20)
		structs = append(structs, simtest.NewStructure(t, space, i, pos, structure.DefaultParams()))
	}
	idx := Build(structs)
	for _, s := range structs {
		if n := len(idx.Candidates(s)); n != 0 {
			t.Fatalf("structure %d has %d candidates on a spaced grid", s.ID, n)
		}
	}
}

func TestDensity(t *testing.T) {
	space := &simtest.Space{}
	p := structure.DefaultParams()
	structs := []*structure.Structure{
		simtest.NewStructure(t, space, 1, mathx.V(1, 1), p),
		simtest.NewStructure(t, space, 2, mathx.V(5, 5), p),
		simtest.NewStructure(t, space, 3, mathx.V(50, 50), p),
	}
	r := Rect{Min: mathx.V(0, 0), Max: mathx.V(10, 10)}
	if got := Density(structs, r); math.Abs(got-0.02) > 1e-12 {
		t.Fatalf("density=%v want 0.02", got)
	}
	if got := Density(structs, Rect{}); got != 0 {
		t.Fatalf("degenerate density=%v", got)
	}
}
