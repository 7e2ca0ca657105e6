package pgindex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"voxelpipe.ai/internal/persistence/indexdb"
	"voxelpipe.ai/internal/persistence/snapshot"
	"voxelpipe.ai/internal/sim/tuning"
	"voxelpipe.ai/internal/sim/world"
)

type Config struct {
	DSN      string
	WorldID  string
	MaxConns int32

	// BatchSize and FlushInterval bound how long an entry waits in memory.
	BatchSize     int
	FlushInterval time.Duration

	Logger *log.Logger
}

// Index mirrors indexdb.SQLiteIndex on Postgres so several servers can
// share one transition history, keyed by world id.
type Index struct {
	pool    *pgxpool.Pool
	worldID string
	logger  *log.Logger

	batchSize     int
	flushInterval time.Duration

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick       atomic.Uint64
	dropAudit      atomic.Uint64
	dropSnapshot   atomic.Uint64
	dropCheckpoint atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqAudit
	reqSnapshot
	reqCheckpoint
	reqFlush
)

type req struct {
	kind reqKind

	tick       world.TickLogEntry
	audit      world.AuditEntry
	snapshot   indexdb.SnapshotRecord
	checkpoint indexdb.CheckpointRecord
	done       chan struct{}
}

func Open(ctx context.Context, cfg Config) (*Index, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("pgindex: empty dsn")
	}
	if cfg.WorldID == "" {
		return nil, fmt.Errorf("pgindex: empty world id")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	x := &Index{
		pool:          pool,
		worldID:       cfg.WorldID,
		logger:        cfg.Logger,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		ch:            make(chan req, 65536),
	}
	x.wg.Add(1)
	go func() {
		defer x.wg.Done()
		x.loop()
	}()
	return x, nil
}

func (x *Index) Close() error {
	x.once.Do(func() {
		x.closed.Store(true)
		close(x.ch)
		x.wg.Wait()
		x.pool.Close()
	})
	return nil
}

func (x *Index) WriteTick(entry world.TickLogEntry) error {
	if x == nil || x.closed.Load() {
		return nil
	}
	select {
	case x.ch <- req{kind: reqTick, tick: entry}:
	default:
		x.dropTick.Add(1)
	}
	return nil
}

func (x *Index) WriteAudit(entry world.AuditEntry) error {
	if x == nil || x.closed.Load() {
		return nil
	}
	select {
	case x.ch <- req{kind: reqAudit, audit: entry}:
	default:
		x.dropAudit.Add(1)
	}
	return nil
}

func (x *Index) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if x == nil || x.closed.Load() {
		return
	}
	select {
	case x.ch <- req{kind: reqSnapshot, snapshot: indexdb.SnapshotRecordFor(path, snap)}:
	default:
		x.dropSnapshot.Add(1)
	}
}

func (x *Index) RecordCheckpoint(checkpoint int, tick uint64, archivedSnapshotPath string) {
	if x == nil || x.closed.Load() {
		return
	}
	if checkpoint <= 0 || archivedSnapshotPath == "" {
		return
	}
	r := indexdb.CheckpointRecord{Checkpoint: checkpoint, Tick: tick, Path: archivedSnapshotPath}
	select {
	case x.ch <- req{kind: reqCheckpoint, checkpoint: r}:
	default:
		x.dropCheckpoint.Add(1)
	}
}

// Flush waits until everything queued before the call has been sent.
func (x *Index) Flush(ctx context.Context) error {
	if x == nil || x.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case x.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (x *Index) Stats() indexdb.Stats {
	if x == nil {
		return indexdb.Stats{}
	}
	return indexdb.Stats{
		QueueDepth:          len(x.ch),
		QueueCapacity:       cap(x.ch),
		DropTickTotal:       x.dropTick.Load(),
		DropAuditTotal:      x.dropAudit.Load(),
		DropSnapshotTotal:   x.dropSnapshot.Load(),
		DropCheckpointTotal: x.dropCheckpoint.Load(),
	}
}

func (x *Index) UpsertTuning(tune tuning.Tuning) error {
	if x == nil {
		return nil
	}
	b, _ := json.Marshal(tune)
	sum := sha256.Sum256(b)
	_, err := x.pool.Exec(context.Background(),
		`INSERT INTO tuning (world_id, digest, json, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (world_id) DO UPDATE SET digest = EXCLUDED.digest, json = EXCLUDED.json, updated_at = now()`,
		x.worldID, hex.EncodeToString(sum[:]), string(b),
	)
	return err
}

func (x *Index) TransitionCount(ctx context.Context, componentID string) (int, error) {
	var n int
	var err error
	if componentID == "" {
		err = x.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM transitions WHERE world_id = $1`, x.worldID,
		).Scan(&n)
	} else {
		err = x.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM transitions WHERE world_id = $1 AND component_id = $2`, x.worldID, componentID,
		).Scan(&n)
	}
	return n, err
}

func (x *Index) LatestSnapshot(ctx context.Context) (indexdb.SnapshotRecord, bool, error) {
	r := indexdb.SnapshotRecord{WorldID: x.worldID}
	var tick int64
	err := x.pool.QueryRow(ctx,
		`SELECT tick, path, components, occupied_cells
		 FROM snapshots WHERE world_id = $1 ORDER BY tick DESC LIMIT 1`, x.worldID,
	).Scan(&tick, &r.Path, &r.Components, &r.OccupiedCells)
	if errors.Is(err, pgx.ErrNoRows) {
		return indexdb.SnapshotRecord{}, false, nil
	}
	if err != nil {
		return indexdb.SnapshotRecord{}, false, err
	}
	r.Tick = uint64(tick)
	return r, true, nil
}

func (x *Index) loop() {
	ticker := time.NewTicker(x.flushInterval)
	defer ticker.Stop()

	var (
		batch         = &pgx.Batch{}
		lastAuditTick uint64
		auditSeq      int
	)

	flush := func() {
		if batch.Len() == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := x.pool.SendBatch(ctx, batch).Close()
		cancel()
		if err != nil && x.logger != nil {
			x.logger.Printf("pgindex: flush %d statements: %v", batch.Len(), err)
		}
		batch = &pgx.Batch{}
	}

	for {
		select {
		case r, ok := <-x.ch:
			if !ok {
				flush()
				return
			}
			switch r.kind {
			case reqFlush:
				flush()
				close(r.done)
				continue
			case reqTick:
				raw, _ := json.Marshal(r.tick)
				batch.Queue(
					`INSERT INTO ticks (world_id, tick, digest, requests, raw_json) VALUES ($1, $2, $3, $4, $5)
					 ON CONFLICT (world_id, tick) DO UPDATE SET digest = EXCLUDED.digest, requests = EXCLUDED.requests, raw_json = EXCLUDED.raw_json`,
					x.worldID, int64(r.tick.Tick), r.tick.Digest, len(r.tick.Requests), string(raw),
				)
			case reqAudit:
				a := r.audit
				if a.Tick != lastAuditTick {
					lastAuditTick = a.Tick
					auditSeq = 0
				}
				seq := auditSeq
				auditSeq++
				raw, _ := json.Marshal(a)
				batch.Queue(
					`INSERT INTO transitions (world_id, tick, seq, actor, action, component_id, x, y, z, from_state, to_state, ok, code, blocked_dir, raw_json)
					 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
					 ON CONFLICT (world_id, tick, seq) DO NOTHING`,
					x.worldID, int64(a.Tick), seq, a.Actor, a.Action, a.ComponentID,
					a.Pos[0], a.Pos[1], a.Pos[2], a.From, a.To, a.OK, a.Code, a.BlockedDir, string(raw),
				)
			case reqSnapshot:
				sn := r.snapshot
				batch.Queue(
					`INSERT INTO snapshots (world_id, tick, path, components, occupied_cells) VALUES ($1, $2, $3, $4, $5)
					 ON CONFLICT (world_id, tick) DO UPDATE SET path = EXCLUDED.path`,
					x.worldID, int64(sn.Tick), sn.Path, sn.Components, sn.OccupiedCells,
				)
			case reqCheckpoint:
				c := r.checkpoint
				batch.Queue(
					`INSERT INTO checkpoints (world_id, checkpoint, tick, snapshot_path) VALUES ($1, $2, $3, $4)
					 ON CONFLICT (world_id, checkpoint) DO UPDATE SET tick = EXCLUDED.tick, snapshot_path = EXCLUDED.snapshot_path`,
					x.worldID, c.Checkpoint, int64(c.Tick), c.Path,
				)
			}
			if batch.Len() >= x.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
