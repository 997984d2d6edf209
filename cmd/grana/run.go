package main

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"granamodel/internal/persistence/archive"
	"granamodel/internal/persistence/indexdb"
	persistlog "granamodel/internal/persistence/log"
	"granamodel/internal/persistence/objstore"
	"granamodel/internal/persistence/snapshot"
	"granamodel/internal/sim/agent"
	"granamodel/internal/sim/catalogs"
	"granamodel/internal/sim/env"
	"granamodel/internal/sim/mathx"
	"granamodel/internal/sim/physics"
	"granamodel/internal/sim/simerr"
	"granamodel/internal/sim/spawn"
	"granamodel/internal/sim/structure"
	"granamodel/internal/sim/tuning"
	"granamodel/internal/sim/zones"
	"granamodel/internal/transport/observer"
)

const (
	modeAgent   = "agent"
	modeDiffuse = "diffuse"

	defaultDiffuseSteps = 1000
)

type runConfig struct {
	Tune    tuning.Tuning
	Catalog *catalogs.Catalog
	Mode    string
	DataDir string
	Seed    int64

	// Exactly one of Positions (fresh types) and Existing (resume) is used.
	Positions []mathx.Vec2
	Existing  []snapshot.Row
	Compress  bool
}

type runner struct {
	cfg    runConfig
	logger *log.Logger

	index        *indexdb.SQLiteIndex
	observer     *observer.Server
	mirror       *objstore.Mirror
	tuningDigest string
}

type runResult struct {
	RunID      string
	Structures int
	Summary    agent.RunSummary
	Snapshot   string
}

// run executes one independent run: its own engine, structures and random
// stream derived from the base seed and the run number.
func (r *runner) run(ctx context.Context, n int) (res runResult, err error) {
	res.RunID = uuid.NewString()
	seed := mathx.DeriveSeed(r.cfg.Seed, n)
	rng := rand.New(rand.NewPCG(seed, uint64(n)))
	logger := log.New(r.logger.Writer(), fmt.Sprintf("[run %d] ", n), r.logger.Flags())
	tune := r.cfg.Tune

	placements, err := r.placements(rng)
	if err != nil {
		return res, err
	}

	engine := physics.NewEngine(tune.EngineConfig())
	defer engine.Close()

	descs, err := spawn.NewDescriptors(r.cfg.Catalog, tune.Spawn.ShapeType, placements)
	if err != nil {
		return res, err
	}
	structs, err := spawn.Build(engine, descs, tune)
	if err != nil {
		return res, err
	}
	res.Structures = len(structs)
	logger.Printf("run_id=%s seed=%d structures=%d mode=%s", res.RunID, seed, len(structs), r.cfg.Mode)

	r.index.RecordRun(indexdb.RunInfo{
		RunID:         res.RunID,
		Seed:          int64(seed),
		Mode:          r.cfg.Mode,
		Structures:    len(structs),
		CatalogDigest: r.cfg.Catalog.Digest,
		TuningDigest:  r.tuningDigest,
	})
	if r.observer != nil {
		r.observer.RunStarted(res.RunID, int64(seed), len(structs))
	}
	defer func() {
		fin := indexdb.RunResult{
			RunID:        res.RunID,
			Sweeps:       res.Summary.Sweeps,
			Reached:      res.Summary.Reached,
			TrailingMean: res.Summary.TrailingMean,
			Best:         res.Summary.Best,
		}
		if err != nil {
			fin.Err = err.Error()
		}
		r.index.FinishRun(fin)
		if r.observer != nil {
			r.observer.RunFinished(res.RunID, res.Summary, err)
		}
	}()

	runDir := filepath.Join(r.cfg.DataDir, "runs", res.RunID)

	steps := tune.Force.Steps
	if r.cfg.Mode == modeDiffuse && steps == 0 {
		steps = defaultDiffuseSteps
	}
	if steps > 0 {
		sim, err := env.New(engine, structs, rng, logger)
		if err != nil {
			return res, err
		}
		if err := sim.Run(ctx, steps, tune.Force.DT, tune.Force.Attraction); err != nil {
			return res, err
		}
	}

	if r.cfg.Mode == modeDiffuse {
		area, pairs := physics.OverlapArea(structs)
		path := filepath.Join(r.cfg.DataDir, "snapshots", res.RunID, snapshot.FileName(time.Now(), 0, area, r.cfg.Compress))
		if err := snapshot.Write(path, snapshot.Capture(structs)); err != nil {
			return res, fmt.Errorf("%w: %v", simerr.ErrExport, err)
		}
		res.Snapshot = path
		logger.Printf("diffused %d steps: overlap area=%.3f pairs=%d snapshot=%s", steps, area, pairs, path)
		r.archiveRun(logger, res, seed)
		return res, nil
	}

	strategy, err := zones.New(zones.Kind(tune.Zones.Kind), structs, tune.OriginVec(), tune.Zones.Boundaries)
	if err != nil {
		return res, err
	}
	var bridge agent.Bridge = engine
	if tune.Agent.Metric == tuning.MetricArea {
		bridge = physics.NewAreaBridge(engine, structs)
	}

	reports := persistlog.NewReportLogger(runDir, logger)
	defer reports.Close()
	last := &lastSnapshot{}
	sinks := []agent.ReportSink{reports, last}
	if r.index != nil {
		sinks = append(sinks, r.index)
	}
	if r.mirror != nil {
		sinks = append(sinks, r.mirror)
	}
	if r.observer != nil {
		sinks = append(sinks, r.observer, posePublisher{obs: r.observer, runID: res.RunID, structs: structs})
	}

	ag, err := agent.New(tune.AgentConfig(res.RunID), agent.Deps{
		Bridge:     bridge,
		Strategy:   strategy,
		Structures: structs,
		Rand:       rng,
		Exporter:   snapshot.NewZoneExporter(filepath.Join(r.cfg.DataDir, "snapshots"), r.cfg.Compress, logger),
		Sinks:      sinks,
		Logger:     logger,
	})
	if err != nil {
		return res, err
	}

	res.Summary, err = ag.Run(ctx, agent.DriverConfig{MaxSweeps: tune.Agent.MaxSweeps, Target: tune.Agent.TargetOverlap})

	samples := persistlog.NewSampleLogger(runDir)
	for i, s := range res.Summary.Series {
		if werr := samples.WriteSweep(res.RunID, i+1, s); werr != nil {
			logger.Printf("sample log: %v", werr)
			break
		}
	}
	_ = samples.Close()
	res.Snapshot = last.path
	if err == nil {
		r.archiveRun(logger, res, seed)
	}
	return res, err
}

func (r *runner) archiveRun(logger *log.Logger, res runResult, seed uint64) {
	path, ok, err := archive.ArchiveRunSnapshot(r.cfg.DataDir, res.Snapshot, archive.RunArchiveMeta{
		RunID:        res.RunID,
		Seed:         int64(seed),
		Mode:         r.cfg.Mode,
		Structures:   res.Structures,
		Sweeps:       res.Summary.Sweeps,
		Reached:      res.Summary.Reached,
		TrailingMean: res.Summary.TrailingMean,
		Best:         res.Summary.Best,
	})
	switch {
	case err != nil:
		logger.Printf("archive: %v", err)
	case ok:
		logger.Printf("archived %s", path)
		r.mirror.Enqueue(path)
		r.mirror.Enqueue(filepath.Join(filepath.Dir(path), "meta.json"))
	}
}

// placements seeds the structure set. A resume snapshot already holds any
// free LHCII and cytb6f, so extras are only added to fresh positions.
func (r *runner) placements(rng *rand.Rand) ([]spawn.Placement, error) {
	if len(r.cfg.Existing) > 0 {
		return spawn.FromSnapshot(r.cfg.Existing), nil
	}
	if len(r.cfg.Positions) == 0 {
		return nil, fmt.Errorf("%w: no positions to spawn", simerr.ErrConfiguration)
	}
	out, err := spawn.AssignTypes(r.cfg.Positions, r.cfg.Catalog.Weights, rng)
	if err != nil {
		return nil, err
	}
	return append(out, spawn.Extras(r.cfg.Tune.Spawn, len(out), rng)...), nil
}

// lastSnapshot remembers the most recent zone export of a run.
type lastSnapshot struct{ path string }

func (l *lastSnapshot) ZoneDone(z agent.ZoneReport) {
	if z.Snapshot != "" {
		l.path = z.Snapshot
	}
}

func (l *lastSnapshot) SweepDone(agent.SweepReport) {}

// posePublisher streams structure poses to observers after every sweep.
type posePublisher struct {
	obs     *observer.Server
	runID   string
	structs []*structure.Structure
}

func (p posePublisher) ZoneDone(agent.ZoneReport) {}

func (p posePublisher) SweepDone(r agent.SweepReport) {
	p.obs.PublishStructures(p.runID, r.Sweep, p.structs)
}
