package spawn

import (
	"errors"
	"math"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"testing"

	"granamodel/internal/persistence/snapshot"
	"granamodel/internal/sim/catalogs"
	"granamodel/internal/sim/mathx"
	"granamodel/internal/sim/physics"
	"granamodel/internal/sim/simerr"
	"granamodel/internal/sim/simtest"
	"granamodel/internal/sim/tuning"
)

func loadCatalog(t *testing.T) *catalogs.Catalog {
	t.Helper()
	c, err := catalogs.Load(filepath.Join("..", "..", "..", "configs"))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return c
}

func TestReadPositions(t *testing.T) {
	got, err := ReadPositions(strings.NewReader("id,x,y\n0,1.5,2\n1, 3 ,-4\n"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || got[0] != mathx.V(1.5, 2) || got[1] != mathx.V(3, -4) {
		t.Fatalf("positions: %+v", got)
	}

	for _, in := range []string{"", "a,b\n1,2\n", "x,y\n1\n", "x,y\n1,z\n"} {
		if _, err := ReadPositions(strings.NewReader(in)); !errors.Is(err, simerr.ErrConfiguration) {
			t.Fatalf("%q: expected configuration error, got %v", in, err)
		}
	}
}

func TestAssignTypes_SeededAndWeighted(t *testing.T) {
	weights := []catalogs.TypeWeight{{Type: "A", Weight: 0.75}, {Type: "B", Weight: 0.25}}
	pos := make([]mathx.Vec2, 4000)

	a, err := AssignTypes(pos, weights, rand.New(rand.NewPCG(9, 9)))
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	b, _ := AssignTypes(pos, weights, rand.New(rand.NewPCG(9, 9)))
	count := map[string]int{}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed diverged at %d", i)
		}
		if a[i].Angle < 0 || a[i].Angle >= 2*math.Pi {
			t.Fatalf("angle out of range: %v", a[i].Angle)
		}
		count[a[i].Type]++
	}
	if frac := float64(count["A"]) / float64(len(a)); frac < 0.7 || frac > 0.8 {
		t.Fatalf("A drawn %.3f of the time, want ~0.75", frac)
	}

	if _, err := AssignTypes(pos, nil, rand.New(rand.NewPCG(1, 1))); !errors.Is(err, simerr.ErrConfiguration) {
		t.Fatalf("expected configuration error for empty weights, got %v", err)
	}
}

func TestRandomInCircle_StaysInside(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 5))
	center := mathx.V(200, 200)
	var outer int
	for i := 0; i < 5000; i++ {
		d := RandomInCircle(rng, 200, center).Dist(center)
		if d > 200+1e-9 {
			t.Fatalf("sample outside circle: %v", d)
		}
		if d > 100 {
			outer++
		}
	}
	// The triangular radius puts 3/4 of the mass in the outer half.
	if outer < 3400 || outer > 4100 {
		t.Fatalf("outer half got %d of 5000 samples", outer)
	}
}

func TestExtras_FullModeOnly(t *testing.T) {
	cfg := tuning.Defaults().Spawn
	if got := Extras(cfg, 10, rand.New(rand.NewPCG(1, 1))); got != nil {
		t.Fatalf("psii_only mode added %d extras", len(got))
	}
	cfg.Mode = tuning.SpawnFull
	cfg.LHCIIRatio = 2
	cfg.Cytb6fCount = 3
	got := Extras(cfg, 10, rand.New(rand.NewPCG(1, 1)))
	count := map[string]int{}
	for _, p := range got {
		count[p.Type]++
	}
	if count[TypeLHCII] != 20 || count[TypeCytb6f] != 3 {
		t.Fatalf("extras: %+v", count)
	}
}

func TestDescriptors_IterateAndReject(t *testing.T) {
	cat := loadCatalog(t)
	items := []Placement{
		{Type: "C2S2M2", Position: mathx.V(1, 2), Angle: 0.3},
		{Type: "C1", Position: mathx.V(3, 4)},
	}
	d, err := NewDescriptors(cat, tuning.ShapeCompound, items)
	if err != nil {
		t.Fatalf("descriptors: %v", err)
	}
	first, ok := d.Next()
	if !ok || first.ID != 0 || first.Type != "C2S2M2" || len(first.Shapes) != 3 || len(first.Points) != 2 {
		t.Fatalf("first: %+v", first)
	}
	second, ok := d.Next()
	if !ok || second.ID != 1 || len(second.Shapes) != 1 {
		t.Fatalf("second should fall back to simple shapes: %+v", second)
	}
	if _, ok := d.Next(); ok {
		t.Fatalf("sequence should be drained")
	}

	if _, err := NewDescriptors(cat, tuning.ShapeSimple, []Placement{{Type: "PSI"}}); !errors.Is(err, simerr.ErrConfiguration) {
		t.Fatalf("expected unknown type error, got %v", err)
	}
	if _, err := NewDescriptors(cat, tuning.ShapeSimple, []Placement{{Type: "C1", Angle: math.NaN()}}); !errors.Is(err, simerr.ErrConfiguration) {
		t.Fatalf("expected non-finite pose error, got %v", err)
	}
}

func TestBuild_UsesPerTypeParams(t *testing.T) {
	cat := loadCatalog(t)
	tun, err := tuning.Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("tuning: %v", err)
	}
	d, err := NewDescriptors(cat, tun.Spawn.ShapeType, []Placement{
		{Type: "C2S2M2", Position: mathx.V(0, 0)},
		{Type: "LHCII", Position: mathx.V(50, 0)},
	})
	if err != nil {
		t.Fatalf("descriptors: %v", err)
	}
	space := &simtest.Space{}
	structs, err := Build(space, d, tun)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(structs) != 2 || len(space.Bodies) != 2 {
		t.Fatalf("structures=%d bodies=%d", len(structs), len(space.Bodies))
	}
	if structs[0].Mass != 1000 || structs[1].Mass != 250 || structs[1].Diffusion != 20 {
		t.Fatalf("params: %+v / %+v", structs[0].Mass, structs[1])
	}
}

// Exported structures reload through the snapshot path with the same
// type and pose.
func TestSnapshotRoundTrip(t *testing.T) {
	cat := loadCatalog(t)
	tun := tuning.Defaults()
	rng := rand.New(rand.NewPCG(7, 7))

	positions := []mathx.Vec2{mathx.V(120.25, 180.5), mathx.V(210, 199.125), mathx.V(260.75, 240)}
	placements, err := AssignTypes(positions, cat.Weights, rng)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	placements[2].Angle = 7.5 // past 2π on purpose

	e1 := physics.NewEngine(physics.DefaultConfig())
	defer e1.Close()
	d, err := NewDescriptors(cat, tun.Spawn.ShapeType, placements)
	if err != nil {
		t.Fatalf("descriptors: %v", err)
	}
	before, err := Build(e1, d, tun)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	path := filepath.Join(t.TempDir(), "snap.csv")
	if err := snapshot.Write(path, snapshot.Capture(before)); err != nil {
		t.Fatalf("write: %v", err)
	}
	rows, err := snapshot.Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	e2 := physics.NewEngine(physics.DefaultConfig())
	defer e2.Close()
	d2, err := NewDescriptors(cat, tun.Spawn.ShapeType, FromSnapshot(rows))
	if err != nil {
		t.Fatalf("descriptors from snapshot: %v", err)
	}
	after, err := Build(e2, d2, tun)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	if len(after) != len(before) {
		t.Fatalf("structures=%d want %d", len(after), len(before))
	}
	for i := range before {
		b, a := before[i], after[i]
		if a.Type != b.Type {
			t.Fatalf("%d type %s != %s", i, a.Type, b.Type)
		}
		if !a.Position().Equal(b.Position(), 1e-9) {
			t.Fatalf("%d position %+v != %+v", i, a.Position(), b.Position())
		}
		diff := mathx.WrapAngle(a.Angle() - b.Angle())
		if diff = math.Min(diff, 2*math.Pi-diff); diff > 1e-9 {
			t.Fatalf("%d angle %v != %v (mod 2π)", i, a.Angle(), b.Angle())
		}
	}
}
