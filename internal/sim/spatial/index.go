package spatial

import (
	"github.com/dhconnelly/rtreego"

	"granamodel/internal/sim/mathx"
	"granamodel/internal/sim/structure"
)

const (
	minChildren = 25
	maxChildren = 50
)

// item freezes a structure's world AABB at build time.
type item struct {
	s  *structure.Structure
	bb rtreego.Rect
}

func (it *item) Bounds() rtreego.Rect { return it.bb }

// Index is an r-tree over structure bounding boxes. It reflects the poses at
// Build time; rebuild after moving structures.
type Index struct {
	tree  *rtreego.Rtree
	items map[*structure.Structure]*item
}

func Build(structs []*structure.Structure) *Index {
	idx := &Index{items: make(map[*structure.Structure]*item, len(structs))}
	objs := make([]rtreego.Spatial, 0, len(structs))
	for _, s := range structs {
		it := &item{s: s, bb: rect(s.Bounds())}
		idx.items[s] = it
		objs = append(objs, it)
	}
	idx.tree = rtreego.NewTree(2, minChildren, maxChildren, objs...)
	return idx
}

func (idx *Index) Len() int { return idx.tree.Size() }

// Candidates returns the other structures whose AABB intersects s's.
func (idx *Index) Candidates(s *structure.Structure) []*structure.Structure {
	bb := rect(s.Bounds())
	if it, ok := idx.items[s]; ok {
		bb = it.bb
	}
	return idx.search(bb, s)
}

// Within returns structures whose AABB intersects the square of half-side r
// centered on p.
func (idx *Index) Within(p mathx.Vec2, r float64) []*structure.Structure {
	return idx.search(rect(p.Sub(mathx.V(r, r)), p.Add(mathx.V(r, r))), nil)
}

func (idx *Index) search(bb rtreego.Rect, skip *structure.Structure) []*structure.Structure {
	hits := idx.tree.SearchIntersect(bb)
	out := make([]*structure.Structure, 0, len(hits))
	for _, h := range hits {
		it := h.(*item)
		if it.s == skip {
			continue
		}
		out = append(out, it.s)
	}
	return out
}

func rect(min, max mathx.Vec2) rtreego.Rect {
	r, _ := rtreego.NewRectFromPoints(rtreego.Point{min.X, min.Y}, rtreego.Point{max.X, max.Y})
	return r
}
