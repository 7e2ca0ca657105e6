package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"voxelpipe.ai/internal/persistence/snapshot"
	"voxelpipe.ai/internal/sim/encoding"
	"voxelpipe.ai/internal/sim/grid"
	"voxelpipe.ai/internal/sim/tuning"
	"voxelpipe.ai/internal/sim/world"
)

func openTestIndex(t *testing.T) (*SQLiteIndex, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index", "world.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx, path
}

func TestSQLiteIndex_TransitionsAndTicks(t *testing.T) {
	idx, _ := openTestIndex(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = idx.WriteTick(world.TickLogEntry{Tick: 0, Digest: "d0", Requests: []world.Request{{Action: "PLACE"}}})
	_ = idx.WriteAudit(world.AuditEntry{Tick: 0, Actor: "s1", Action: "PLACE", ComponentID: "C000001", OK: true})
	_ = idx.WriteAudit(world.AuditEntry{Tick: 1, Actor: "s1", Action: "CHANGE_STATE", ComponentID: "C000001", To: 1, OK: true})
	_ = idx.WriteAudit(world.AuditEntry{Tick: 1, Actor: "s2", Action: "CHANGE_STATE", ComponentID: "C000002", To: 6, Code: "E_NEIGHBOR_CONFLICT", BlockedDir: "-X"})
	if err := idx.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if n, err := idx.TransitionCount(ctx, ""); err != nil || n != 3 {
		t.Fatalf("TransitionCount(all)=%d err=%v want=3", n, err)
	}
	if n, err := idx.TransitionCount(ctx, "C000001"); err != nil || n != 2 {
		t.Fatalf("TransitionCount(C000001)=%d err=%v want=2", n, err)
	}

	var blocked string
	var ok int
	if err := idx.db.QueryRowContext(ctx, `SELECT blocked_dir, ok FROM transitions WHERE component_id='C000002'`).Scan(&blocked, &ok); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if blocked != "-X" || ok != 0 {
		t.Fatalf("blocked=%q ok=%d", blocked, ok)
	}
	var requests int
	if err := idx.db.QueryRowContext(ctx, `SELECT requests FROM ticks WHERE tick=0`).Scan(&requests); err != nil || requests != 1 {
		t.Fatalf("ticks row: requests=%d err=%v", requests, err)
	}
}

func TestSQLiteIndex_LatestSnapshot(t *testing.T) {
	idx, _ := openTestIndex(t)
	ctx := context.Background()

	if _, found, err := idx.LatestSnapshot(ctx); err != nil || found {
		t.Fatalf("empty index: found=%v err=%v", found, err)
	}

	flags := make([]uint8, 8)
	flags[0] = grid.FlagOccupied | grid.FlagOrigin
	flags[1] = grid.FlagOccupied
	snap := snapshot.SnapshotV1{
		Header:     snapshot.Header{Version: snapshot.Version, WorldID: "w1", Tick: 99},
		GridSize:   [3]int{2, 2, 2},
		Cells:      encoding.EncodeFlagsRLE(flags),
		Components: []snapshot.ComponentV1{{ID: "C000001", State: 1}},
	}
	idx.RecordSnapshot("/data/99.snap.zst", snap)
	snap.Header.Tick = 199
	idx.RecordSnapshot("/data/199.snap.zst", snap)
	if err := idx.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got, found, err := idx.LatestSnapshot(ctx)
	if err != nil || !found {
		t.Fatalf("LatestSnapshot: found=%v err=%v", found, err)
	}
	want := SnapshotRecord{Tick: 199, Path: "/data/199.snap.zst", WorldID: "w1", Components: 1, OccupiedCells: 2}
	if got != want {
		t.Fatalf("got=%+v want=%+v", got, want)
	}
}

func TestSQLiteIndex_CheckpointAndTuningSurviveClose(t *testing.T) {
	idx, path := openTestIndex(t)
	if err := idx.UpsertTuning(tuning.Defaults()); err != nil {
		t.Fatalf("UpsertTuning: %v", err)
	}
	idx.RecordCheckpoint(2, 5999, "/abs/archives/checkpoint_002/5999.snap.zst")
	idx.RecordCheckpoint(0, 1, "/ignored")
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM checkpoints`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("checkpoints=%d err=%v", n, err)
	}
	var tick int64
	var snapPath string
	if err := db.QueryRow(`SELECT tick,snapshot_path FROM checkpoints WHERE checkpoint=2`).Scan(&tick, &snapPath); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if tick != 5999 || snapPath != "/abs/archives/checkpoint_002/5999.snap.zst" {
		t.Fatalf("tick=%d path=%s", tick, snapPath)
	}

	_, wantDigest := tuningJSON(tuning.Defaults())
	var digest, version string
	if err := db.QueryRow(`SELECT digest FROM tuning WHERE name='tuning'`).Scan(&digest); err != nil || digest != wantDigest {
		t.Fatalf("tuning digest=%q err=%v want=%q", digest, err, wantDigest)
	}
	if err := db.QueryRow(`SELECT value FROM meta WHERE key='schema_version'`).Scan(&version); err != nil || version != SchemaVersion {
		t.Fatalf("schema_version=%q err=%v", version, err)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqTick, tick: world.TickLogEntry{Tick: 1}}

	_ = s.WriteTick(world.TickLogEntry{Tick: 2})
	_ = s.WriteAudit(world.AuditEntry{Tick: 2})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{})
	s.RecordCheckpoint(1, 2, "/tmp/2.snap.zst")

	st := s.Stats()
	if st.DropTickTotal != 1 || st.DropAuditTotal != 1 || st.DropSnapshotTotal != 1 || st.DropCheckpointTotal != 1 {
		t.Fatalf("drops=%+v want one of each", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}
