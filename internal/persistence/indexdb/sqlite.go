package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelpipe.ai/internal/persistence/snapshot"
	"voxelpipe.ai/internal/sim/tuning"
	"voxelpipe.ai/internal/sim/world"
)

type SQLiteIndex struct {
	db *sql.DB

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
	snapshot   SnapshotRecord
	checkpoint CheckpointRecord
	done       chan struct{}
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
		// Large buffer so bursts of transitions never stall the world loop.
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
		`CREATE TABLE IF NOT EXISTS tuning (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			requests INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS transitions (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			component_id TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			from_state INTEGER NOT NULL,
			to_state INTEGER NOT NULL,
			ok INTEGER NOT NULL,
			code TEXT,
			blocked_dir TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_component_tick ON transitions(component_id, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_pos_tick ON transitions(x, z, y, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			world_id TEXT NOT NULL,
			components INTEGER NOT NULL,
			occupied_cells INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			checkpoint INTEGER PRIMARY KEY,
			tick INTEGER NOT NULL,
			snapshot_path TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
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

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// The JSONL logs remain the source of truth.
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteAudit(entry world.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqAudit, audit: entry}:
	default:
		s.dropAudit.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: snapshotRecord(path, snap)}:
	default:
		s.dropSnapshot.Add(1)
	}
}

func (s *SQLiteIndex) RecordCheckpoint(checkpoint int, tick uint64, archivedSnapshotPath string) {
	if s == nil || s.closed.Load() {
		return
	}
	if checkpoint <= 0 || archivedSnapshotPath == "" {
		return
	}
	r := CheckpointRecord{
		Checkpoint: checkpoint,
		Tick:       tick,
		Path:       archivedSnapshotPath,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqCheckpoint, checkpoint: r}:
	default:
		s.dropCheckpoint.Add(1)
	}
}

// Flush waits until everything queued before the call is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
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

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(s.ch),
		QueueCapacity:       cap(s.ch),
		DropTickTotal:       s.dropTick.Load(),
		DropAuditTotal:      s.dropAudit.Load(),
		DropSnapshotTotal:   s.dropSnapshot.Load(),
		DropCheckpointTotal: s.dropCheckpoint.Load(),
	}
}

// UpsertTuning stores the tuning values actually applied, keyed by digest.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, digest := tuningJSON(tune)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version',?)`, SchemaVersion); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO tuning(name,digest,json,updated_at) VALUES('tuning',?,?,?)`, digest, string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

// TransitionCount counts indexed transitions, for one component or all
// when componentID is empty.
func (s *SQLiteIndex) TransitionCount(ctx context.Context, componentID string) (int, error) {
	var n int
	var err error
	if componentID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transitions`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transitions WHERE component_id=?`, componentID).Scan(&n)
	}
	return n, err
}

func (s *SQLiteIndex) LatestSnapshot(ctx context.Context) (SnapshotRecord, bool, error) {
	var r SnapshotRecord
	var tick int64
	err := s.db.QueryRowContext(ctx,
		`SELECT tick,path,world_id,components,occupied_cells FROM snapshots ORDER BY tick DESC LIMIT 1`,
	).Scan(&tick, &r.Path, &r.WorldID, &r.Components, &r.OccupiedCells)
	if errors.Is(err, sql.ErrNoRows) {
		return SnapshotRecord{}, false, nil
	}
	if err != nil {
		return SnapshotRecord{}, false, err
	}
	r.Tick = uint64(tick)
	return r, true, nil
}

func tuningJSON(tune tuning.Tuning) ([]byte, string) {
	b, _ := json.Marshal(tune)
	sum := sha256.Sum256(b)
	return b, hex.EncodeToString(sum[:])
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,digest,requests,raw_json) VALUES(?,?,?,?)`)
	insertTransition, _ := s.db.Prepare(`INSERT OR REPLACE INTO transitions(tick,seq,actor,action,component_id,x,y,z,from_state,to_state,ok,code,blocked_dir,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,world_id,components,occupied_cells) VALUES(?,?,?,?,?)`)
	insertCheckpoint, _ := s.db.Prepare(`INSERT OR REPLACE INTO checkpoints(checkpoint,tick,snapshot_path,recorded_at) VALUES(?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertTransition, insertSnapshot, insertCheckpoint} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastAuditTick uint64
		auditSeq      int
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
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			raw, _ := json.Marshal(r.tick)
			exec(insertTick, int64(r.tick.Tick), r.tick.Digest, len(r.tick.Requests), string(raw))

		case reqAudit:
			a := r.audit
			if a.Tick != lastAuditTick {
				lastAuditTick = a.Tick
				auditSeq = 0
			}
			seq := auditSeq
			auditSeq++
			raw, _ := json.Marshal(a)
			exec(insertTransition,
				int64(a.Tick), seq, a.Actor, a.Action, a.ComponentID,
				a.Pos[0], a.Pos[1], a.Pos[2],
				a.From, a.To, boolInt(a.OK), a.Code, a.BlockedDir,
				string(raw),
			)

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, int64(sn.Tick), sn.Path, sn.WorldID, sn.Components, sn.OccupiedCells)

		case reqCheckpoint:
			c := r.checkpoint
			exec(insertCheckpoint, c.Checkpoint, int64(c.Tick), c.Path, c.RecordedAt)
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
