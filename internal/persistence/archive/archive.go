package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"voxelpipe.ai/internal/persistence/snapshot"
)

type CheckpointMeta struct {
	Checkpoint int    `json:"checkpoint"`
	Tick       uint64 `json:"tick"`
	WorldID    string `json:"world_id"`
	Snapshot   string `json:"snapshot"`
	CreatedAt  string `json:"created_at"`
	GridSize   [3]int `json:"grid_size"`
	Components int    `json:"components"`
}

// ArchiveCheckpoint copies a snapshot into `worldDir/archives/checkpoint_<NNN>/`
// when its tick closes an archive window of snap.ArchiveEveryTicks ticks.
// It returns (checkpoint, archivedPath, archived=true) when a copy was made.
func ArchiveCheckpoint(worldDir, snapshotPath string, snap snapshot.SnapshotV1) (checkpoint int, archivedPath string, archived bool, err error) {
	if snap.ArchiveEveryTicks <= 0 {
		return 0, "", false, nil
	}
	every := uint64(snap.ArchiveEveryTicks)
	// Snapshots represent the last executed tick, so the window closes at every*k - 1.
	if (snap.Header.Tick+1)%every != 0 {
		return 0, "", false, nil
	}
	checkpoint = int((snap.Header.Tick + 1) / every)
	if checkpoint <= 0 {
		return 0, "", false, nil
	}

	archiveDir := filepath.Join(worldDir, "archives", fmt.Sprintf("checkpoint_%03d", checkpoint))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return 0, "", false, err
	}

	meta := CheckpointMeta{
		Checkpoint: checkpoint,
		Tick:       snap.Header.Tick,
		WorldID:    snap.Header.WorldID,
		Snapshot:   filepath.Base(dst),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		GridSize:   snap.GridSize,
		Components: len(snap.Components),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	return checkpoint, dst, true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
