package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"granamodel/internal/sim/agent"
	"granamodel/internal/sim/catalogs"
	"granamodel/internal/sim/tuning"
)

// SQLiteIndex is a secondary index of runs, sweeps and zones. Writes are
// queued to a single writer goroutine and dropped when the queue is full;
// the JSONL logs remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropRun   atomic.Uint64
	dropSweep atomic.Uint64
	dropZone  atomic.Uint64
}

type reqKind int

const (
	reqRun reqKind = iota + 1
	reqRunDone
	reqSweep
	reqZone
)

type req struct {
	kind reqKind

	run   RunInfo
	done  RunResult
	sweep agent.SweepReport
	zone  agent.ZoneReport
}

// RunInfo is recorded when a run starts.
type RunInfo struct {
	RunID         string
	Seed          int64
	Mode          string
	Structures    int
	CatalogDigest string
	TuningDigest  string
	StartedAt     time.Time
}

// RunResult is recorded when a run ends.
type RunResult struct {
	RunID        string
	Sweeps       int
	Reached      bool
	TrailingMean float64
	Best         float64
	Err          string
	FinishedAt   time.Time
}

type Stats struct {
	QueueDepth     int
	QueueCapacity  int
	DropRunTotal   uint64
	DropSweepTotal uint64
	DropZoneTotal  uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			mode TEXT NOT NULL,
			structures INTEGER NOT NULL,
			catalog_digest TEXT NOT NULL,
			tuning_digest TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			sweeps INTEGER,
			reached INTEGER,
			trailing_mean REAL,
			best REAL,
			error TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS sweeps (
			run_id TEXT NOT NULL,
			sweep INTEGER NOT NULL,
			samples INTEGER NOT NULL,
			begin_mean REAL NOT NULL,
			end_mean REAL NOT NULL,
			mean REAL NOT NULL,
			reduction_pct REAL NOT NULL,
			elapsed_ms INTEGER NOT NULL,
			PRIMARY KEY (run_id, sweep)
		);`,
		`CREATE TABLE IF NOT EXISTS zones (
			run_id TEXT NOT NULL,
			sweep INTEGER NOT NULL,
			zone INTEGER NOT NULL,
			aggregate INTEGER NOT NULL,
			size INTEGER NOT NULL,
			actions INTEGER NOT NULL,
			accepted INTEGER NOT NULL,
			rejected INTEGER NOT NULL,
			mean REAL NOT NULL,
			best REAL NOT NULL,
			snapshot_path TEXT,
			elapsed_ms INTEGER NOT NULL,
			PRIMARY KEY (run_id, sweep, zone)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_zones_snapshot ON zones(snapshot_path) WHERE snapshot_path IS NOT NULL;`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropRunTotal:   s.dropRun.Load(),
		DropSweepTotal: s.dropSweep.Load(),
		DropZoneTotal:  s.dropZone.Load(),
	}
}

// enqueue never blocks the caller.
func (s *SQLiteIndex) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		switch r.kind {
		case reqRun, reqRunDone:
			s.dropRun.Add(1)
		case reqSweep:
			s.dropSweep.Add(1)
		case reqZone:
			s.dropZone.Add(1)
		}
	}
}

func (s *SQLiteIndex) RecordRun(info RunInfo) {
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}
	s.enqueue(req{kind: reqRun, run: info})
}

func (s *SQLiteIndex) FinishRun(res RunResult) {
	if res.FinishedAt.IsZero() {
		res.FinishedAt = time.Now()
	}
	s.enqueue(req{kind: reqRunDone, done: res})
}

func (s *SQLiteIndex) ZoneDone(z agent.ZoneReport) { s.enqueue(req{kind: reqZone, zone: z}) }

func (s *SQLiteIndex) SweepDone(sw agent.SweepReport) { s.enqueue(req{kind: reqSweep, sweep: sw}) }

// UpsertCatalogs stores the raw catalog and the tuning actually applied, each
// keyed by digest. It runs synchronously at startup.
func (s *SQLiteIndex) UpsertCatalogs(rawCatalog []byte, cat *catalogs.Catalog, tune tuning.Tuning) (tuningDigest string, err error) {
	if s == nil {
		return "", nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tb, err := json.Marshal(tune)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(tb)
	tuningDigest = hex.EncodeToString(sum[:])

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	rows := []kv{{name: "tuning", digest: tuningDigest, json: tb}}
	if cat != nil && len(rawCatalog) > 0 {
		rows = append(rows, kv{name: "catalog", digest: cat.Digest, json: rawCatalog})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return "", err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return "", err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return tuningDigest, nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO runs(run_id,seed,mode,structures,catalog_digest,tuning_digest,started_at) VALUES(?,?,?,?,?,?,?)`)
	finishRun, _ := s.db.Prepare(`UPDATE runs SET finished_at=?, sweeps=?, reached=?, trailing_mean=?, best=?, error=? WHERE run_id=?`)
	insertSweep, _ := s.db.Prepare(`INSERT OR REPLACE INTO sweeps(run_id,sweep,samples,begin_mean,end_mean,mean,reduction_pct,elapsed_ms) VALUES(?,?,?,?,?,?,?,?)`)
	insertZone, _ := s.db.Prepare(`INSERT OR REPLACE INTO zones(run_id,sweep,zone,aggregate,size,actions,accepted,rejected,mean,best,snapshot_path,elapsed_ms) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertRun, finishRun, insertSweep, insertZone} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqRun:
			ru := r.run
			exec(insertRun, ru.RunID, ru.Seed, ru.Mode, ru.Structures, ru.CatalogDigest, ru.TuningDigest, ru.StartedAt.UTC().Format(time.RFC3339Nano))
			// Runs are rare; make them visible right away.
			commit()
			continue

		case reqRunDone:
			d := r.done
			var errText any
			if d.Err != "" {
				errText = d.Err
			}
			exec(finishRun, d.FinishedAt.UTC().Format(time.RFC3339Nano), d.Sweeps, boolInt(d.Reached), d.TrailingMean, d.Best, errText, d.RunID)
			commit()
			continue

		case reqSweep:
			sw := r.sweep
			exec(insertSweep, sw.RunID, sw.Sweep, sw.Samples, sw.Begin, sw.End, sw.Mean, sw.Reduction, sw.Elapsed.Milliseconds())

		case reqZone:
			z := r.zone
			var snap any
			if z.Snapshot != "" {
				snap = z.Snapshot
			}
			exec(insertZone, z.RunID, z.Sweep, z.Zone, boolInt(z.Aggregate), z.Size, z.Actions, z.Accepted, z.Rejected, z.Mean, z.Best, snap, z.Elapsed.Milliseconds())
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
