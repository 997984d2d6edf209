package main

import (
	"context"
	"errors"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"granamodel/internal/persistence/snapshot"
	"granamodel/internal/sim/catalogs"
	"granamodel/internal/sim/mathx"
	"granamodel/internal/sim/simerr"
	"granamodel/internal/sim/tuning"
)

func testRunner(t *testing.T, mode string) *runner {
	t.Helper()
	tune, err := tuning.Load(filepath.Join("..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("tuning: %v", err)
	}
	tune.Agent.MaxSweeps = 1
	tune.Agent.TimeLimit = 3
	tune.Force.Steps = 2
	cat, err := catalogs.Load(filepath.Join("..", "..", "configs"))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	var positions []mathx.Vec2
	for _, r := range []float64{40, 110, 140, 165, 190} {
		positions = append(positions, mathx.V(200+r, 200), mathx.V(200-r, 200))
	}
	return &runner{
		cfg: runConfig{
			Tune:      tune,
			Catalog:   cat,
			Mode:      mode,
			DataDir:   t.TempDir(),
			Seed:      7,
			Positions: positions,
		},
		logger: log.New(io.Discard, "", 0),
	}
}

func TestRun_AgentModeWritesArtifacts(t *testing.T) {
	r := testRunner(t, modeAgent)
	res, err := r.run(context.Background(), 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.RunID == "" || res.Structures != 10 {
		t.Fatalf("result: %+v", res)
	}
	if res.Summary.Sweeps != 1 || len(res.Summary.Series) != 1 {
		t.Fatalf("summary: %+v", res.Summary)
	}

	snaps, err := filepath.Glob(filepath.Join(r.cfg.DataDir, "snapshots", res.RunID, "*_overlap_*_data.csv"))
	if err != nil || len(snaps) != 1 {
		t.Fatalf("zone snapshots=%v err=%v", snaps, err)
	}
	rows, err := snapshot.Read(snaps[0])
	if err != nil || len(rows) != 10 {
		t.Fatalf("snapshot rows=%d err=%v", len(rows), err)
	}
	if res.Snapshot != snaps[0] {
		t.Fatalf("last snapshot %q want %q", res.Snapshot, snaps[0])
	}
	if _, err := os.Stat(filepath.Join(r.cfg.DataDir, "archives", "run_"+res.RunID, "meta.json")); err != nil {
		t.Fatalf("run not archived: %v", err)
	}
	for _, sub := range []string{"zones", "sweeps", "samples"} {
		if _, err := os.Stat(filepath.Join(r.cfg.DataDir, "runs", res.RunID, sub)); err != nil {
			t.Fatalf("missing %s log: %v", sub, err)
		}
	}
}

func TestRun_DiffuseModeWritesFinalSnapshot(t *testing.T) {
	r := testRunner(t, modeDiffuse)
	r.cfg.Compress = true
	res, err := r.run(context.Background(), 1)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Snapshot == "" || !snapshot.IsCompressed(res.Snapshot) {
		t.Fatalf("snapshot path %q", res.Snapshot)
	}
	rows, err := snapshot.Read(res.Snapshot)
	if err != nil || len(rows) != res.Structures {
		t.Fatalf("rows=%d structures=%d err=%v", len(rows), res.Structures, err)
	}
}

func TestRun_ResumeFromSnapshotKeepsTypes(t *testing.T) {
	r := testRunner(t, modeDiffuse)
	r.cfg.Existing = []snapshot.Row{
		{Type: "C2S2M2", X: 100, Y: 200, Angle: 0.5},
		{Type: "LHCII", X: 300, Y: 200, Angle: 1},
	}
	res, err := r.run(context.Background(), 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	rows, err := snapshot.Read(res.Snapshot)
	if err != nil || len(rows) != 2 || rows[0].Type != "C2S2M2" || rows[1].Type != "LHCII" {
		t.Fatalf("rows=%+v err=%v", rows, err)
	}
}

func TestPlacements_ResumeAddsNoExtras(t *testing.T) {
	r := testRunner(t, modeDiffuse)
	r.cfg.Tune.Spawn.Mode = tuning.SpawnFull
	r.cfg.Tune.Spawn.Cytb6fCount = 5

	fresh, err := r.placements(rand.New(rand.NewPCG(1, 2)))
	if err != nil {
		t.Fatalf("fresh: %v", err)
	}
	if len(fresh) <= len(r.cfg.Positions) {
		t.Fatalf("full mode added no extras: %d placements", len(fresh))
	}

	rows := make([]snapshot.Row, 0, len(fresh))
	for _, p := range fresh {
		rows = append(rows, snapshot.Row{Type: p.Type, X: p.Position.X, Y: p.Position.Y, Angle: p.Angle})
	}
	r.cfg.Existing = rows
	for i := 0; i < 2; i++ {
		resumed, err := r.placements(rand.New(rand.NewPCG(3, uint64(i))))
		if err != nil {
			t.Fatalf("resume: %v", err)
		}
		if len(resumed) != len(fresh) {
			t.Fatalf("resume %d: %d placements, snapshot had %d", i, len(resumed), len(fresh))
		}
	}
}

func TestRun_NoPositionsIsConfigurationError(t *testing.T) {
	r := testRunner(t, modeAgent)
	r.cfg.Positions = nil
	if _, err := r.run(context.Background(), 0); !errors.Is(err, simerr.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestRunAll_CountsFailures(t *testing.T) {
	r := testRunner(t, modeAgent)
	r.cfg.Positions = nil
	if failed := runAll(context.Background(), r, 3, 2); failed != 3 {
		t.Fatalf("failed=%d want 3", failed)
	}

	ok := testRunner(t, modeDiffuse)
	if failed := runAll(context.Background(), ok, 2, 2); failed != 0 {
		t.Fatalf("failed=%d want 0", failed)
	}
}

func TestRunAll_StopsOnCanceledContext(t *testing.T) {
	r := testRunner(t, modeDiffuse)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if failed := runAll(ctx, r, 4, 1); failed != 0 {
		t.Fatalf("failed=%d want 0 (no run should start)", failed)
	}
}
