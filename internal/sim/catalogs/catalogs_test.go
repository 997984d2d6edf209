package catalogs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"granamodel/internal/sim/simerr"
)

func TestLoad_ShippedCatalog(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "..", "configs"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Version != 1 || len(c.Names) != 9 {
		t.Fatalf("version=%d types=%d", c.Version, len(c.Names))
	}
	for i := 1; i < len(c.Names); i++ {
		if c.Names[i-1] >= c.Names[i] {
			t.Fatalf("names not sorted: %v", c.Names)
		}
	}
	if c.Index["C2S2M2"] != indexOf(c.Names, "C2S2M2") {
		t.Fatalf("index mismatch")
	}
	if len(c.Digest) != 64 {
		t.Fatalf("digest=%q", c.Digest)
	}

	psii, ok := c.Type("C2S2M2")
	if !ok || !psii.Kinematic || len(psii.Points) != 2 {
		t.Fatalf("C2S2M2: %+v", psii)
	}
	if len(psii.Shapes("compound")) != 3 || len(psii.Shapes("simple")) != 1 {
		t.Fatalf("C2S2M2 shapes: simple=%d compound=%d", len(psii.Shapes("simple")), len(psii.Shapes("compound")))
	}
	c1, _ := c.Type("C1")
	if got := c1.Area("compound"); got != 80 {
		t.Fatalf("C1 compound area should fall back to simple: %v", got)
	}

	var sum float64
	for _, w := range c.Weights {
		sum += w.Weight
	}
	if len(c.Weights) != 6 || sum < 0.999 || sum > 1.001 {
		t.Fatalf("weights=%+v sum=%v", c.Weights, sum)
	}
}

func TestLoad_DigestTracksContent(t *testing.T) {
	dir := t.TempDir()
	a := writeCatalog(t, dir, "a.json", minimal)
	b := writeCatalog(t, dir, "b.json", minimal)
	ca, err := Load(a)
	if err != nil {
		t.Fatalf("load a: %v", err)
	}
	cb, err := Load(b)
	if err != nil {
		t.Fatalf("load b: %v", err)
	}
	if ca.Digest != cb.Digest {
		t.Fatalf("identical files hashed differently")
	}
	c2, err := Parse([]byte(`{"version":1,"types":{"sq":{"shapes_simple":[[[0,0],[2,0],[2,2],[0,2]]]}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c2.Digest == ca.Digest {
		t.Fatalf("different content shares a digest")
	}
}

func TestParse_RejectsInvalidCatalogs(t *testing.T) {
	bad := map[string]string{
		"not json":       `{`,
		"wrong version":  `{"version":2,"types":{"sq":{"shapes_simple":[[[0,0],[1,0],[1,1]]]}}}`,
		"no types":       `{"version":1,"types":{}}`,
		"two vertices":   `{"version":1,"types":{"sq":{"shapes_simple":[[[0,0],[1,0]]]}}}`,
		"nine vertices":  `{"version":1,"types":{"sq":{"shapes_simple":[[[0,0],[1,0],[2,0],[3,0],[4,1],[3,2],[2,2],[1,2],[0,2]]]}}}`,
		"bad role":       `{"version":1,"types":{"sq":{"shapes_simple":[[[0,0],[1,0],[1,1]]],"points":[{"offset":[0,0],"role":"core"}]}}}`,
		"zero area":      `{"version":1,"types":{"sq":{"shapes_simple":[[[0,0],[1,0],[2,0]]]}}}`,
		"unknown weight": `{"version":1,"types":{"sq":{"shapes_simple":[[[0,0],[1,0],[1,1]]]}},"type_weights":{"tri":1}}`,
		"zero weights":   `{"version":1,"types":{"sq":{"shapes_simple":[[[0,0],[1,0],[1,1]]]}},"type_weights":{"sq":0}}`,
		"extra field":    `{"version":1,"types":{"sq":{"shapes_simple":[[[0,0],[1,0],[1,1]]],"sprite":"x.png"}}}`,
	}
	for name, raw := range bad {
		if _, err := Parse([]byte(raw)); !errors.Is(err, simerr.ErrConfiguration) {
			t.Fatalf("%s: expected configuration error, got %v", name, err)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, simerr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

const minimal = `{"version":1,"types":{"sq":{"color":[1,2,3,255],"shapes_simple":[[[0,0],[1,0],[1,1],[0,1]]]}}}`

func writeCatalog(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func indexOf(names []string, n string) int {
	for i, s := range names {
		if s == n {
			return i
		}
	}
	return -1
}
