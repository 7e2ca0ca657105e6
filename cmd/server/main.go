package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"voxelpipe.ai/internal/persistence/archive"
	persistlog "voxelpipe.ai/internal/persistence/log"
	"voxelpipe.ai/internal/persistence/snapshot"
	"voxelpipe.ai/internal/sim/tuning"
	"voxelpipe.ai/internal/sim/world"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (ticks, transitions, snapshot metadata)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(worldDir)
	}

	// Tuning is required for a fresh world; a resume carries its own grid.
	tune, tuneErr := tuning.Load(tp)
	if tuneErr != nil {
		if snapshotToLoad == "" || !os.IsNotExist(tuneErr) {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	ctx, cancel := signalContext()
	defer cancel()

	idx, err := openRuntimeIndex(ctx, worldDir, *worldID, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		}
	}

	w, err := buildWorld(*worldID, tune, snapshotToLoad, logger)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	tickLog := persistlog.NewTickLogger(worldDir)
	auditLog := persistlog.NewAuditLogger(worldDir)
	defer tickLog.Close()
	defer auditLog.Close()
	if idx != nil {
		w.SetTickLogger(multiTickLogger{a: tickLog, b: idx})
		w.SetAuditLogger(multiAuditLogger{a: auditLog, b: idx})
	} else {
		w.SetTickLogger(tickLog)
		w.SetAuditLogger(auditLog)
	}

	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)
	go runSnapshotWriter(ctx, worldDir, snapCh, idx, logger)

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	enableAdminHTTP := envBool("VP_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("VP_ENABLE_PPROF_HTTP", false)
	if !enableAdminHTTP {
		logger.Printf("admin endpoints disabled (VP_ENABLE_ADMIN_HTTP=false)")
	}
	if !enablePprofHTTP {
		logger.Printf("pprof endpoints disabled (VP_ENABLE_PPROF_HTTP=false)")
	}
	mux := buildMux(muxConfig{
		World:       w,
		Index:       idx,
		Logger:      logger,
		EnableAdmin: enableAdminHTTP,
		EnablePprof: enablePprofHTTP,
		Observer:    tune.Observer,
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s world=%s grid=%v", *addr, w.ID(), w.Config().GridSize)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// buildWorld creates a fresh world from tuning, or resumes one from a
// snapshot. A resumed world keeps the snapshot's grid and tick rate.
func buildWorld(worldID string, tune tuning.Tuning, snapshotPath string, logger *log.Logger) (*world.World, error) {
	cfg := world.WorldConfig{
		ID:                 worldID,
		TickRateHz:         tune.TickRateHz,
		GridSize:           tune.GridSize,
		SnapshotEveryTicks: tune.SnapshotEveryTicks,
		ArchiveEveryTicks:  tune.ArchiveEveryTicks,
		MaxRequestsPerTick: tune.MaxRequestsPerTick,
		InboxSize:          tune.InboxSize,
		ObserverQueueSize:  tune.Observer.QueueSize,
	}
	if snapshotPath == "" {
		return world.New(cfg)
	}

	snap, err := snapshot.ReadSnapshot(snapshotPath)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if snap.Header.WorldID != "" && snap.Header.WorldID != worldID {
		return nil, fmt.Errorf("snapshot world id mismatch: flag=%s snap=%s", worldID, snap.Header.WorldID)
	}
	cfg.TickRateHz = snap.TickRate
	cfg.GridSize = snap.GridSize
	w, err := world.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := w.ImportSnapshot(snap); err != nil {
		return nil, fmt.Errorf("import snapshot: %w", err)
	}
	if logger != nil {
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotPath), w.CurrentTick())
	}
	return w, nil
}

// runSnapshotWriter persists snapshots handed off by the world loop,
// archives checkpoint snapshots and records both in the index.
func runSnapshotWriter(ctx context.Context, worldDir string, snapCh <-chan snapshot.SnapshotV1, idx runtimeIndex, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-snapCh:
			path, err := persistSnapshot(worldDir, snap, idx)
			if err != nil {
				logger.Printf("snapshot: %v", err)
				continue
			}
			logger.Printf("snapshot tick=%d path=%s", snap.Header.Tick, path)
		}
	}
}

func persistSnapshot(worldDir string, snap snapshot.SnapshotV1, idx runtimeIndex) (string, error) {
	path := filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Tick))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}
	if idx != nil {
		idx.RecordSnapshot(path, snap)
	}
	checkpoint, archivedPath, ok, err := archive.ArchiveCheckpoint(worldDir, path, snap)
	if err != nil {
		return path, fmt.Errorf("archive checkpoint: %w", err)
	}
	if ok && idx != nil {
		idx.RecordCheckpoint(checkpoint, snap.Header.Tick, archivedPath)
	}
	return path, nil
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

func latestSnapshot(worldDir string) string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}
