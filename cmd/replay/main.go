package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	persistlog "voxelpipe.ai/internal/persistence/log"
	"voxelpipe.ai/internal/persistence/snapshot"
	"voxelpipe.ai/internal/sim/tuning"
	"voxelpipe.ai/internal/sim/world"
)

var errStop = errors.New("stop")

func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to .snap.zst (empty: replay a fresh world from -tuning)")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "tuning used for a fresh world when -snapshot is empty")
		worldID    = flag.String("world", "world_1", "world id for a fresh world")
		eventsDir  = flag.String("events", "", "events dir containing events-*.jsonl.zst (optional)")
		fromTick   = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick     = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	w, err := openWorld(*snapPath, *tuningPath, *worldID, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *eventsDir == "" {
		return
	}

	checked, err := replayDir(w, *eventsDir, *fromTick, *toTick)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d ticks now=%d\n", checked, w.CurrentTick())
}

func openWorld(snapPath, tuningPath, worldID string, out io.Writer) (*world.World, error) {
	if snapPath == "" {
		tune, err := tuning.Load(tuningPath)
		if err != nil {
			return nil, fmt.Errorf("load tuning: %w", err)
		}
		w, err := world.New(world.WorldConfig{
			ID:                 worldID,
			TickRateHz:         tune.TickRateHz,
			GridSize:           tune.GridSize,
			MaxRequestsPerTick: tune.MaxRequestsPerTick,
		})
		if err != nil {
			return nil, fmt.Errorf("world: %w", err)
		}
		fmt.Fprintf(out, "fresh world=%s grid=%v\n", worldID, tune.GridSize)
		return w, nil
	}

	snap, err := snapshot.ReadSnapshot(snapPath)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	fmt.Fprintf(out, "snapshot v%d world=%s tick=%d grid=%v components=%d\n",
		snap.Header.Version, snap.Header.WorldID, snap.Header.Tick, snap.GridSize, len(snap.Components))

	w, err := world.New(world.WorldConfig{
		ID:                 snap.Header.WorldID,
		TickRateHz:         snap.TickRate,
		GridSize:           snap.GridSize,
		MaxRequestsPerTick: snap.MaxRequestsPerTick,
	})
	if err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}
	if err := w.ImportSnapshot(snap); err != nil {
		return nil, fmt.Errorf("import snapshot: %w", err)
	}
	return w, nil
}

// replayDir steps w through every logged tick after its current tick and
// compares each resulting digest with the logged one.
func replayDir(w *world.World, eventsDir string, fromTick, toTick uint64) (uint64, error) {
	files, err := persistlog.ListFiles(eventsDir, "events")
	if err != nil {
		return 0, fmt.Errorf("list events: %w", err)
	}
	if len(files) == 0 {
		return 0, fmt.Errorf("no events files found in %s", eventsDir)
	}

	startTick := w.CurrentTick()
	verifyFrom := fromTick
	if verifyFrom < startTick {
		verifyFrom = startTick
	}

	var checked uint64
	for _, path := range files {
		err := persistlog.ReadTicks(path, func(entry world.TickLogEntry) error {
			if entry.Tick < startTick {
				return nil
			}
			if toTick != 0 && entry.Tick > toTick {
				return errStop
			}
			if entry.Tick != w.CurrentTick() {
				return fmt.Errorf("tick mismatch: want=%d got=%d (file=%s)", w.CurrentTick(), entry.Tick, filepath.Base(path))
			}
			tick, got := w.StepOnce(entry.Requests)
			if tick >= verifyFrom {
				checked++
				if got != entry.Digest {
					return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", tick, got, entry.Digest)
				}
			}
			return nil
		})
		if errors.Is(err, errStop) {
			break
		}
		if err != nil {
			return checked, err
		}
	}
	return checked, nil
}
