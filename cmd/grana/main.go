package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"granamodel/internal/observerproto"
	"granamodel/internal/persistence/indexdb"
	"granamodel/internal/persistence/snapshot"
	"granamodel/internal/sim/catalogs"
	"granamodel/internal/sim/spawn"
	"granamodel/internal/sim/tuning"
	"granamodel/internal/transport/observer"
)

func main() { os.Exit(realMain()) }

func realMain() int {
	var (
		configDir      = flag.String("configs", "./configs", "config directory")
		tuningPath     = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		catalogPath    = flag.String("catalog", "", "path to catalog.json (default: <configs>/catalog.json)")
		positionsPath  = flag.String("positions", "", "x,y positions CSV for fresh runs (default: <configs>/positions.csv)")
		positionsExist = flag.String("positions_exist", "", "snapshot CSV (type,x,y,angle[,area]) to resume from; overrides -positions")
		runs           = flag.Int("runs", 1, "number of independent runs")
		sweeps         = flag.Int("sweeps", 0, "max sweeps per run (0: tuning agent.max_sweeps)")
		timeLimit      = flag.Int("time_limit", 0, "actions per zone (0: tuning agent.time_limit)")
		batch          = flag.Int("batch", 1, "runs executed concurrently")
		seed           = flag.Int64("seed", 1337, "base seed; run i uses a seed derived from it")
		dataDir        = flag.String("data", "./data", "runtime data directory")
		mode           = flag.String("mode", modeAgent, "agent (overlap reduction) or diffuse (force model only)")
		observe        = flag.String("observe", "", "observer http listen address, e.g. 127.0.0.1:8081 (empty to disable)")
		disableDB      = flag.Bool("disable_db", false, "disable the sqlite run index")
		compress       = flag.Bool("compress", false, "write zone snapshots as .csv.zst")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[grana] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if *sweeps > 0 {
		tune.Agent.MaxSweeps = *sweeps
	}
	if *timeLimit > 0 {
		tune.Agent.TimeLimit = *timeLimit
	}
	if err := tune.Validate(); err != nil {
		logger.Fatalf("tuning: %v", err)
	}

	cp := strings.TrimSpace(*catalogPath)
	if cp == "" {
		cp = filepath.Join(*configDir, catalogs.FileName)
	}
	rawCatalog, err := os.ReadFile(cp)
	if err != nil {
		logger.Fatalf("read catalog: %v", err)
	}
	cat, err := catalogs.Parse(rawCatalog)
	if err != nil {
		logger.Fatalf("load catalog: %v", err)
	}

	m := strings.ToLower(strings.TrimSpace(*mode))
	if m != modeAgent && m != modeDiffuse {
		logger.Fatalf("unknown -mode %q (want %s or %s)", *mode, modeAgent, modeDiffuse)
	}
	if *runs <= 0 {
		logger.Fatalf("-runs must be > 0")
	}

	cfg := runConfig{
		Tune:     tune,
		Catalog:  cat,
		Mode:     m,
		DataDir:  *dataDir,
		Seed:     *seed,
		Compress: *compress,
	}
	if pe := strings.TrimSpace(*positionsExist); pe != "" {
		if cfg.Existing, err = snapshot.Read(pe); err != nil {
			logger.Fatalf("read positions_exist: %v", err)
		}
		logger.Printf("resuming %d structures from %s", len(cfg.Existing), filepath.Base(pe))
	} else {
		pp := strings.TrimSpace(*positionsPath)
		if pp == "" {
			pp = filepath.Join(*configDir, "positions.csv")
		}
		if cfg.Positions, err = spawn.LoadPositions(pp); err != nil {
			logger.Fatalf("read positions: %v", err)
		}
		logger.Printf("loaded %d positions from %s", len(cfg.Positions), filepath.Base(pp))
	}

	ctx, cancel := signalContext()
	defer cancel()

	r := &runner{cfg: cfg, logger: logger}

	if !*disableDB {
		idx, err := indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "grana.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if r.tuningDigest, err = idx.UpsertCatalogs(rawCatalog, cat, tune); err != nil {
			logger.Printf("index: upsert catalogs: %v", err)
		}
		r.index = idx
	}

	mirror, err := buildMirror(*dataDir, log.New(os.Stdout, "[mirror] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Printf("mirror: %v", err)
		return 1
	}
	if mirror != nil {
		defer mirror.Close()
		r.mirror = mirror
	}

	if addr := strings.TrimSpace(*observe); addr != "" {
		obs := observer.NewServer(log.New(os.Stdout, "[observer] ", log.LstdFlags|log.Lmicroseconds))
		obs.SetBootstrap(bootstrapFor(tune, cat))
		srv := &http.Server{
			Addr:              addr,
			Handler:           obs.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Printf("observer listening on %s", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("observer: %v", err)
			}
		}()
		defer func() {
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			_ = srv.Shutdown(ctx2)
		}()
		r.observer = obs
	}

	failed := runAll(ctx, r, *runs, *batch)
	if failed > 0 {
		logger.Printf("%d of %d runs failed", failed, *runs)
		return 1
	}
	logger.Printf("done: %d runs", *runs)
	return 0
}

// runAll executes runs with at most batch in flight and returns how many failed.
func runAll(ctx context.Context, r *runner, runs, batch int) int {
	if batch <= 0 {
		batch = 1
	}
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	sem := make(chan struct{}, batch)
	for i := 0; i < runs; i++ {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			defer func() { <-sem }()
			res, err := r.run(ctx, n)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					r.logger.Printf("run %d (%s) interrupted", n, res.RunID)
				} else {
					r.logger.Printf("run %d (%s) failed: %v", n, res.RunID, err)
				}
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			r.logger.Printf("run %d (%s) finished: sweeps=%d reached=%v mean=%.4f", n, res.RunID, res.Summary.Sweeps, res.Summary.Reached, res.Summary.TrailingMean)
		}(i)
	}
	wg.Wait()
	return failed
}

func bootstrapFor(tune tuning.Tuning, cat *catalogs.Catalog) observerproto.BootstrapResponse {
	b := observerproto.BootstrapResponse{
		Origin:     tune.Origin,
		ZoneKind:   tune.Zones.Kind,
		Boundaries: append([]float64(nil), tune.Zones.Boundaries...),
	}
	for _, name := range cat.Names {
		b.Types = append(b.Types, observerproto.TypeInfo{Name: name, Color: cat.Types[name].Color})
	}
	return b
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
