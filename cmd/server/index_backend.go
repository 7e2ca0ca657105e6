package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"voxelpipe.ai/internal/persistence/indexdb"
	"voxelpipe.ai/internal/persistence/pgindex"
	"voxelpipe.ai/internal/persistence/snapshot"
	"voxelpipe.ai/internal/sim/tuning"
	"voxelpipe.ai/internal/sim/world"
)

// runtimeIndex is the read-model of ticks, transitions and snapshots.
// It never feeds back into the simulation.
type runtimeIndex interface {
	world.TickLogger
	world.AuditLogger
	Close() error
	UpsertTuning(tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	RecordCheckpoint(checkpoint int, tick uint64, archivedSnapshotPath string)
	Stats() indexdb.Stats
}

func openRuntimeIndex(ctx context.Context, worldDir, worldID string, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VP_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(worldDir, "index", "world.sqlite")
		idx, err := indexdb.OpenSQLite(dbPath)
		if err != nil {
			return nil, err
		}
		return idx, nil
	case "postgres", "pg":
		dsn := strings.TrimSpace(os.Getenv("VP_INDEX_PG_DSN"))
		if dsn == "" {
			return nil, fmt.Errorf("VP_INDEX_BACKEND=%s but VP_INDEX_PG_DSN is empty", backend)
		}
		flushMS := envInt("VP_INDEX_PG_FLUSH_MS", 1000)
		batchSize := envInt("VP_INDEX_PG_BATCH_SIZE", 256)
		idx, err := pgindex.Open(ctx, pgindex.Config{
			DSN:           dsn,
			WorldID:       worldID,
			BatchSize:     batchSize,
			FlushInterval: time.Duration(flushMS) * time.Millisecond,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported VP_INDEX_BACKEND: %s", backend)
	}
}

type multiTickLogger struct {
	a world.TickLogger
	b world.TickLogger
}

func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiAuditLogger struct {
	a world.AuditLogger
	b world.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry world.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return nil
}
