package indexdb

import (
	"voxelpipe.ai/internal/persistence/snapshot"
	"voxelpipe.ai/internal/sim/encoding"
	"voxelpipe.ai/internal/sim/grid"
)

const SchemaVersion = "1"

type SnapshotRecord struct {
	Tick          uint64 `json:"tick"`
	Path          string `json:"path"`
	WorldID       string `json:"world_id"`
	Components    int    `json:"components"`
	OccupiedCells int    `json:"occupied_cells"`
}

type CheckpointRecord struct {
	Checkpoint int    `json:"checkpoint"`
	Tick       uint64 `json:"tick"`
	Path       string `json:"path"`
	RecordedAt string `json:"recorded_at"`
}

// Stats reports writer queue pressure. Drops are entries discarded because
// the queue was full; the JSONL logs still hold them.
type Stats struct {
	QueueDepth          int    `json:"queue_depth"`
	QueueCapacity       int    `json:"queue_capacity"`
	DropTickTotal       uint64 `json:"drop_tick_total"`
	DropAuditTotal      uint64 `json:"drop_audit_total"`
	DropSnapshotTotal   uint64 `json:"drop_snapshot_total"`
	DropCheckpointTotal uint64 `json:"drop_checkpoint_total"`
}

func snapshotRecord(path string, snap snapshot.SnapshotV1) SnapshotRecord {
	return SnapshotRecord{
		Tick:          snap.Header.Tick,
		Path:          path,
		WorldID:       snap.Header.WorldID,
		Components:    len(snap.Components),
		OccupiedCells: occupiedCells(snap),
	}
}

// occupiedCells returns -1 when the snapshot's cell data cannot be decoded.
func occupiedCells(snap snapshot.SnapshotV1) int {
	n := snap.GridSize[0] * snap.GridSize[1] * snap.GridSize[2]
	if n <= 0 {
		return 0
	}
	flags, err := encoding.DecodeFlagsRLE(snap.Cells, n)
	if err != nil {
		return -1
	}
	occ := 0
	for _, f := range flags {
		if f&grid.FlagOccupied != 0 {
			occ++
		}
	}
	return occ
}

// SnapshotRecordFor is the row RecordSnapshot stores for snap.
func SnapshotRecordFor(path string, snap snapshot.SnapshotV1) SnapshotRecord {
	return snapshotRecord(path, snap)
}
