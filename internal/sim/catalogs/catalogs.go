package catalogs

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"granamodel/internal/sim/mathx"
	"granamodel/internal/sim/simerr"
	"granamodel/internal/sim/structure"
)

// FileName is the catalog file looked up inside a config directory.
const FileName = "catalog.json"

//go:embed catalog.schema.json
var schemaSrc string

type Catalog struct {
	Version int
	// Names is every type, sorted; Index maps a name to its position.
	Names   []string
	Index   map[string]int
	Types   map[string]TypeDef
	Weights []TypeWeight
	Digest  string
}

type TypeDef struct {
	Name           string
	Color          [4]uint8
	Kinematic      bool
	ShapesSimple   [][]mathx.Vec2
	ShapesCompound [][]mathx.Vec2
	Points         []structure.PointDef
}

type TypeWeight struct {
	Type   string
	Weight float64
}

type catalogJSON struct {
	Version     int                 `json:"version"`
	Types       map[string]typeJSON `json:"types"`
	TypeWeights map[string]float64  `json:"type_weights,omitempty"`
}

type typeJSON struct {
	Color          [4]uint8       `json:"color"`
	Kinematic      bool           `json:"kinematic"`
	ShapesSimple   [][][2]float64 `json:"shapes_simple"`
	ShapesCompound [][][2]float64 `json:"shapes_compound,omitempty"`
	Points         []pointJSON    `json:"points,omitempty"`
}

type pointJSON struct {
	Name   string     `json:"name,omitempty"`
	Offset [2]float64 `json:"offset"`
	Role   string     `json:"role,omitempty"`
}

// Shapes returns the geometry for a shape representation ("simple" or
// "compound"). Types without compound geometry fall back to simple.
func (t TypeDef) Shapes(kind string) [][]mathx.Vec2 {
	if strings.EqualFold(kind, "compound") && len(t.ShapesCompound) > 0 {
		return t.ShapesCompound
	}
	return t.ShapesSimple
}

func (t TypeDef) Area(kind string) float64 {
	var a float64
	for _, s := range t.Shapes(kind) {
		a += mathx.PolygonArea(s)
	}
	return a
}

// Load reads catalog.json from a config directory, or a file path directly.
func Load(path string) (*Catalog, error) {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, FileName)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", simerr.ErrConfiguration, err)
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return c, nil
}

// Parse validates raw catalog JSON against the embedded schema and decodes it.
func Parse(raw []byte) (*Catalog, error) {
	schema, err := jsonschema.CompileString("catalog.schema.json", schemaSrc)
	if err != nil {
		return nil, fmt.Errorf("compile catalog schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", simerr.ErrConfiguration, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", simerr.ErrConfiguration, err)
	}

	var cj catalogJSON
	if err := json.Unmarshal(raw, &cj); err != nil {
		return nil, fmt.Errorf("%w: %v", simerr.ErrConfiguration, err)
	}

	c := &Catalog{
		Version: cj.Version,
		Types:   make(map[string]TypeDef, len(cj.Types)),
		Digest:  sha256Hex(raw),
	}
	for name, tj := range cj.Types {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: empty type name", simerr.ErrConfiguration)
		}
		td := TypeDef{
			Name:           name,
			Color:          tj.Color,
			Kinematic:      tj.Kinematic,
			ShapesSimple:   toShapes(tj.ShapesSimple),
			ShapesCompound: toShapes(tj.ShapesCompound),
		}
		for _, p := range tj.Points {
			td.Points = append(td.Points, structure.PointDef{
				Name:   p.Name,
				Offset: mathx.V(p.Offset[0], p.Offset[1]),
				Role:   structure.Role(p.Role),
			})
		}
		if td.Area("simple") <= 0 {
			return nil, fmt.Errorf("%w: type %s has no area", simerr.ErrConfiguration, name)
		}
		c.Types[name] = td
	}

	c.Names = make([]string, 0, len(c.Types))
	for name := range c.Types {
		c.Names = append(c.Names, name)
	}
	sort.Strings(c.Names)
	c.Index = make(map[string]int, len(c.Names))
	for i, name := range c.Names {
		c.Index[name] = i
	}

	var sum float64
	for name, w := range cj.TypeWeights {
		if _, ok := c.Types[name]; !ok {
			return nil, fmt.Errorf("%w: type_weights names unknown type %s", simerr.ErrConfiguration, name)
		}
		c.Weights = append(c.Weights, TypeWeight{Type: name, Weight: w})
		sum += w
	}
	if len(c.Weights) > 0 && !(sum > 0) {
		return nil, fmt.Errorf("%w: type_weights sum to zero", simerr.ErrConfiguration)
	}
	sort.Slice(c.Weights, func(i, j int) bool { return c.Weights[i].Type < c.Weights[j].Type })
	return c, nil
}

func (c *Catalog) Type(name string) (TypeDef, bool) {
	t, ok := c.Types[name]
	return t, ok
}

func toShapes(in [][][2]float64) [][]mathx.Vec2 {
	if len(in) == 0 {
		return nil
	}
	out := make([][]mathx.Vec2, len(in))
	for i, poly := range in {
		out[i] = make([]mathx.Vec2, len(poly))
		for j, v := range poly {
			out[i][j] = mathx.V(v[0], v[1])
		}
	}
	return out
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
