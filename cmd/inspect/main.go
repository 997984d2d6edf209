// Command inspect summarizes a structure snapshot and, optionally, the sample
// log of the run that produced it.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"granamodel/internal/persistence/snapshot"
	"granamodel/internal/sim/catalogs"
	"granamodel/internal/sim/tuning"
)

func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to a snapshot .csv or .csv.zst")
		samplesDir = flag.String("samples", "", "run samples dir containing samples-*.jsonl.zst (optional)")
		configDir  = flag.String("configs", "./configs", "config directory")
		shapeType  = flag.String("shape_type", tuning.ShapeSimple, "simple or compound geometry")
		rectFlag   = flag.String("rect", "", "density window x0,y0,x1,y1 (optional)")
	)
	flag.Parse()

	if *snapPath == "" && *samplesDir == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot or -samples")
		os.Exit(2)
	}

	if *snapPath != "" {
		rows, err := snapshot.Read(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		cat, err := catalogs.Load(*configDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load catalog:", err)
			os.Exit(1)
		}
		rect, err := parseRect(*rectFlag)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		rep, err := inspectSnapshot(rows, cat, strings.ToLower(strings.TrimSpace(*shapeType)), rect)
		if err != nil {
			fmt.Fprintln(os.Stderr, "inspect:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot %s structures=%d total_area=%.2f overlap_area=%.3f overlap_pairs=%d\n",
			filepath.Base(*snapPath), rep.Structures, rep.TotalArea, rep.OverlapArea, rep.OverlapPairs)
		for _, tc := range rep.Types {
			kin := ""
			if tc.Kinematic {
				kin = " kinematic"
			}
			fmt.Printf("  %-14s n=%-5d area=%.2f%s\n", tc.Type, tc.Count, tc.Area, kin)
		}
		if rep.HasRect {
			fmt.Printf("density=%.6g per nm^2 in %s\n", rep.Density, *rectFlag)
		}
	}

	if *samplesDir == "" {
		return
	}
	files, err := listSampleFiles(*samplesDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list samples:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no samples files found in", *samplesDir)
		os.Exit(1)
	}
	for _, path := range files {
		stats, err := readSamples(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "samples:", err)
			os.Exit(1)
		}
		for _, st := range stats {
			fmt.Printf("sweep=%d samples=%d first=%.4f last=%.4f min=%.4f mean=%.4f sd=%.4f\n", st.Sweep, st.Samples, st.First, st.Last, st.Min, st.Mean, st.StdDev)
		}
	}
}
