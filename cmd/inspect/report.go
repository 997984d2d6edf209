package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	persistlog "granamodel/internal/persistence/log"
	"granamodel/internal/persistence/snapshot"
	"granamodel/internal/sim/catalogs"
	"granamodel/internal/sim/mathx"
	"granamodel/internal/sim/physics"
	"granamodel/internal/sim/spatial"
	"granamodel/internal/sim/spawn"
	"granamodel/internal/sim/tuning"
)

type typeCount struct {
	Type      string
	Count     int
	Area      float64
	Kinematic bool
}

type report struct {
	Structures   int
	Types        []typeCount
	TotalArea    float64
	OverlapArea  float64
	OverlapPairs int
	Density      float64
	HasRect      bool
}

// inspectSnapshot rebuilds the snapshot on a fresh engine and measures it.
func inspectSnapshot(rows []snapshot.Row, cat *catalogs.Catalog, shapeType string, rect *spatial.Rect) (report, error) {
	engine := physics.NewEngine(physics.DefaultConfig())
	defer engine.Close()

	descs, err := spawn.NewDescriptors(cat, shapeType, spawn.FromSnapshot(rows))
	if err != nil {
		return report{}, err
	}
	structs, err := spawn.Build(engine, descs, tuning.Defaults())
	if err != nil {
		return report{}, err
	}

	rep := report{Structures: len(structs)}
	byType := map[string]*typeCount{}
	for _, s := range structs {
		tc := byType[s.Type]
		if tc == nil {
			td, _ := cat.Type(s.Type)
			tc = &typeCount{Type: s.Type, Kinematic: td.Kinematic}
			byType[s.Type] = tc
		}
		tc.Count++
		tc.Area += s.Area()
		rep.TotalArea += s.Area()
	}
	for _, tc := range byType {
		rep.Types = append(rep.Types, *tc)
	}
	sort.Slice(rep.Types, func(i, j int) bool { return rep.Types[i].Type < rep.Types[j].Type })

	rep.OverlapArea, rep.OverlapPairs = physics.OverlapArea(structs)
	if rect != nil {
		rep.HasRect = true
		rep.Density = spatial.Density(structs, *rect)
	}
	return rep, nil
}

// parseRect reads "x0,y0,x1,y1".
func parseRect(s string) (*spatial.Rect, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("rect %q: want x0,y0,x1,y1", s)
	}
	var v [4]float64
	for i, p := range parts {
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%g", &v[i]); err != nil {
			return nil, fmt.Errorf("rect %q: %v", s, err)
		}
	}
	r := spatial.Rect{
		Min: mathx.V(math.Min(v[0], v[2]), math.Min(v[1], v[3])),
		Max: mathx.V(math.Max(v[0], v[2]), math.Max(v[1], v[3])),
	}
	return &r, nil
}

type sweepStats struct {
	Sweep   int
	Samples int
	First   float64
	Last    float64
	Min     float64
	Mean    float64
	StdDev  float64
}

func listSampleFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "samples-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// readSamples summarizes every sweep of one run's sample log.
func readSamples(path string) ([]sweepStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	var out []sweepStats
	for sc.Scan() {
		var e persistlog.SampleEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		st := sweepStats{Sweep: e.Sweep, Samples: len(e.Samples)}
		if len(e.Samples) > 0 {
			st.First = e.Samples[0]
			st.Last = e.Samples[len(e.Samples)-1]
			st.Min = floats.Min(e.Samples)
			st.Mean, st.StdDev = stat.MeanStdDev(e.Samples, nil)
		}
		out = append(out, st)
	}
	return out, sc.Err()
}
