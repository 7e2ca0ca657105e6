package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz         int    `yaml:"tick_rate_hz"`
	GridSize           [3]int `yaml:"grid_size"`
	SnapshotEveryTicks int    `yaml:"snapshot_every_ticks"`
	ArchiveEveryTicks  int    `yaml:"archive_every_ticks"`
	MaxRequestsPerTick int    `yaml:"max_requests_per_tick"`
	InboxSize          int    `yaml:"inbox_size"`

	Observer ObserverTuning `yaml:"observer"`
}

type ObserverTuning struct {
	MaxSessions int `yaml:"max_sessions"`
	QueueSize   int `yaml:"queue_size"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         5,
		GridSize:           [3]int{16, 16, 16},
		SnapshotEveryTicks: 3000,
		ArchiveEveryTicks:  30000,
		MaxRequestsPerTick: 256,
		InboxSize:          1024,
		Observer: ObserverTuning{
			MaxSessions: 16,
			QueueSize:   256,
		},
	}
}

// Normalize fills zero values from Defaults and rejects unusable ones.
func (t *Tuning) Normalize() error {
	d := Defaults()
	if t.ProtocolVersion == "" {
		t.ProtocolVersion = d.ProtocolVersion
	}
	if t.TickRateHz <= 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.GridSize == ([3]int{}) {
		t.GridSize = d.GridSize
	}
	for i, n := range t.GridSize {
		if n <= 0 {
			return fmt.Errorf("tuning.yaml: grid_size[%d]=%d must be > 0", i, n)
		}
	}
	if t.SnapshotEveryTicks < 0 {
		t.SnapshotEveryTicks = 0
	}
	if t.ArchiveEveryTicks < 0 {
		t.ArchiveEveryTicks = 0
	}
	if t.MaxRequestsPerTick <= 0 {
		t.MaxRequestsPerTick = d.MaxRequestsPerTick
	}
	if t.InboxSize <= 0 {
		t.InboxSize = d.InboxSize
	}
	if t.Observer.MaxSessions <= 0 {
		t.Observer.MaxSessions = d.Observer.MaxSessions
	}
	if t.Observer.QueueSize <= 0 {
		t.Observer.QueueSize = d.Observer.QueueSize
	}
	return nil
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Normalize(); err != nil {
		return t, err
	}
	return t, nil
}
