package indexdb

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"granamodel/internal/sim/agent"
	"granamodel/internal/sim/catalogs"
	"granamodel/internal/sim/tuning"
)

func TestSQLiteIndex_RunSweepZoneRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	cat := &catalogs.Catalog{Digest: "abc"}
	digest, err := idx.UpsertCatalogs([]byte(`{"version":1}`), cat, tuning.Defaults())
	if err != nil {
		t.Fatalf("UpsertCatalogs: %v", err)
	}
	if len(digest) != 64 {
		t.Fatalf("tuning digest=%q", digest)
	}

	idx.RecordRun(RunInfo{RunID: "r1", Seed: 42, Mode: "agent", Structures: 4, CatalogDigest: "abc", TuningDigest: digest})
	idx.ZoneDone(agent.ZoneReport{RunID: "r1", Sweep: 1, Zone: 0, Size: 4, Actions: 50, Accepted: 20, Rejected: 30, Mean: 2.5, Best: 2})
	idx.ZoneDone(agent.ZoneReport{RunID: "r1", Sweep: 1, Zone: 1, Aggregate: true, Snapshot: "/tmp/a.csv", Elapsed: time.Second})
	idx.SweepDone(agent.SweepReport{RunID: "r1", Sweep: 1, Samples: 50, Begin: 4, End: 2, Mean: 2.5, Reduction: 48.78})
	idx.FinishRun(RunResult{RunID: "r1", Sweeps: 1, Reached: true, TrailingMean: 2.5, Best: 2})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var (
		seed    int64
		sweeps  int
		reached int
		errText sql.NullString
	)
	if err := db.QueryRow(`SELECT seed,sweeps,reached,error FROM runs WHERE run_id='r1'`).Scan(&seed, &sweeps, &reached, &errText); err != nil {
		t.Fatalf("runs: %v", err)
	}
	if seed != 42 || sweeps != 1 || reached != 1 || errText.Valid {
		t.Fatalf("run row: seed=%d sweeps=%d reached=%d err=%v", seed, sweeps, reached, errText)
	}

	var zones, withSnap int
	if err := db.QueryRow(`SELECT COUNT(*), COUNT(snapshot_path) FROM zones WHERE run_id='r1'`).Scan(&zones, &withSnap); err != nil {
		t.Fatalf("zones: %v", err)
	}
	if zones != 2 || withSnap != 1 {
		t.Fatalf("zones=%d with snapshot=%d", zones, withSnap)
	}

	var reduction float64
	if err := db.QueryRow(`SELECT reduction_pct FROM sweeps WHERE run_id='r1' AND sweep=1`).Scan(&reduction); err != nil {
		t.Fatalf("sweeps: %v", err)
	}
	if reduction != 48.78 {
		t.Fatalf("reduction=%v", reduction)
	}

	var catalogsN int
	if err := db.QueryRow(`SELECT COUNT(*) FROM catalogs`).Scan(&catalogsN); err != nil || catalogsN != 2 {
		t.Fatalf("catalog rows=%d err=%v", catalogsN, err)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqZone}

	s.RecordRun(RunInfo{RunID: "r"})
	s.FinishRun(RunResult{RunID: "r"})
	s.SweepDone(agent.SweepReport{})
	s.ZoneDone(agent.ZoneReport{})

	st := s.Stats()
	if st.DropRunTotal != 2 || st.DropSweepTotal != 1 || st.DropZoneTotal != 1 {
		t.Fatalf("drops: %+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_NilIsNoop(t *testing.T) {
	var s *SQLiteIndex
	s.ZoneDone(agent.ZoneReport{})
	s.SweepDone(agent.SweepReport{})
	if st := s.Stats(); st != (Stats{}) {
		t.Fatalf("nil stats: %+v", st)
	}
}
