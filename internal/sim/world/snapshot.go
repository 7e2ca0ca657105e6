package world

import (
	"context"
	"errors"
	"fmt"

	"voxelpipe.ai/internal/persistence/snapshot"
	"voxelpipe.ai/internal/sim/component"
	"voxelpipe.ai/internal/sim/encoding"
	"voxelpipe.ai/internal/sim/grid"
)

type snapshotReq struct {
	resp chan snapshotResp
}

type snapshotResp struct {
	tick uint64
	err  error
}

// ExportSnapshot captures the world as of the last executed tick.
func (w *World) ExportSnapshot(tick uint64) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			WorldID: w.cfg.ID,
			Tick:    tick,
		},
		TickRate:           w.cfg.TickRateHz,
		GridSize:           w.grid.Size(),
		SnapshotEveryTicks: w.cfg.SnapshotEveryTicks,
		MaxRequestsPerTick: w.cfg.MaxRequestsPerTick,
		ArchiveEveryTicks:  w.cfg.ArchiveEveryTicks,
		Cells:              encoding.EncodeFlagsRLE(w.grid.Flags()),
		Counters: snapshot.CountersV1{
			NextComponent: w.nextComp,
			Accepted:      w.accepted,
			Rejected:      w.rejected,
		},
	}
	for _, id := range w.sortedComponentIDs() {
		p := w.comps[id]
		snap.Components = append(snap.Components, snapshot.ComponentV1{
			ID:    p.id,
			Pos:   p.pos.ToArray(),
			State: p.comp.State(),
			Faces: uint8(p.comp.Faces()),
		})
	}
	return snap
}

// ImportSnapshot replaces the world state. It must be called before Run.
// The world resumes at the tick after the snapshot's.
func (w *World) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if snap.Header.Version != snapshot.Version {
		return fmt.Errorf("import snapshot: unsupported version %d", snap.Header.Version)
	}
	if snap.GridSize != w.grid.Size() {
		return fmt.Errorf("import snapshot: grid size %v, world has %v", snap.GridSize, w.grid.Size())
	}
	flags, err := encoding.DecodeFlagsRLE(snap.Cells, w.grid.Len())
	if err != nil {
		return fmt.Errorf("import snapshot: cells: %w", err)
	}

	// Everything is rebuilt on a fresh grid; the live one is only swapped
	// out once the snapshot is known to be consistent.
	size := snap.GridSize
	g, err := grid.New(size[0], size[1], size[2])
	if err != nil {
		return fmt.Errorf("import snapshot: %w", err)
	}
	if err := g.LoadFlags(flags); err != nil {
		return fmt.Errorf("import snapshot: %w", err)
	}

	comps := make(map[string]*placed, len(snap.Components))
	byOrigin := make(map[grid.Pos]string, len(snap.Components))
	for _, c := range snap.Components {
		pos := grid.PosFromArray(c.Pos)
		cell := g.At(pos)
		if cell == nil {
			return fmt.Errorf("import snapshot: component %s out of bounds at %v", c.ID, c.Pos)
		}
		if c.ID == "" || comps[c.ID] != nil {
			return fmt.Errorf("import snapshot: bad or duplicate component id %q", c.ID)
		}
		if other, ok := byOrigin[pos]; ok {
			return fmt.Errorf("import snapshot: %s and %s share origin %v", other, c.ID, c.Pos)
		}
		p := &placed{id: c.ID, pos: pos, comp: component.New()}
		w.attach(p, cell)
		if err := p.comp.Restore(c.State, component.FaceSet(c.Faces)); err != nil {
			return fmt.Errorf("import snapshot: %s: %w", c.ID, err)
		}
		if err := checkClaims(p); err != nil {
			return fmt.Errorf("import snapshot: %w", err)
		}
		comps[c.ID] = p
		byOrigin[pos] = c.ID
	}

	w.grid = g
	w.comps = comps
	w.byOrigin = byOrigin
	w.nextComp = snap.Counters.NextComponent
	w.accepted = snap.Counters.Accepted
	w.rejected = snap.Counters.Rejected
	w.tick.Store(snap.Header.Tick + 1)
	w.publishMetrics(0)
	return nil
}

// checkClaims reports a component whose active faces are not backed by the
// cell flags. Faces pointing off the grid have no cell to check.
func checkClaims(p *placed) error {
	faces := p.comp.Faces()
	if !faces.HasOrigin() {
		return nil
	}
	origin := p.comp.Origin()
	if !origin.Occupied() || !origin.IsOrigin() {
		return fmt.Errorf("%s: origin %v flags %#x, want occupied origin", p.id, p.pos, origin.Flags())
	}
	nb := origin.Neighbors()
	for _, d := range faces.Dirs() {
		if n := nb[d]; n != nil && !n.Occupied() {
			return fmt.Errorf("%s: face %s at %v is not occupied", p.id, d, n.Pos())
		}
	}
	return nil
}

func (w *World) sendSnapshot(snap snapshot.SnapshotV1) bool {
	if w.snapshotSink == nil {
		return false
	}
	select {
	case w.snapshotSink <- snap:
		return true
	default:
		return false
	}
}

// RequestSnapshot asks the world loop to emit a snapshot after the current tick.
func (w *World) RequestSnapshot(ctx context.Context) (uint64, error) {
	resp := make(chan snapshotResp, 1)
	select {
	case w.snapshotReq <- snapshotReq{resp: resp}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.tick, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

var errSnapshotSink = errors.New("snapshot sink unavailable")

func (w *World) handleSnapshotRequests(reqs []snapshotReq) {
	if len(reqs) == 0 {
		return
	}
	cur := w.tick.Load()
	if cur == 0 {
		for _, r := range reqs {
			r.resp <- snapshotResp{err: errors.New("no tick executed yet")}
		}
		return
	}
	last := cur - 1
	var err error
	if !w.sendSnapshot(w.ExportSnapshot(last)) {
		err = errSnapshotSink
	}
	for _, r := range reqs {
		r.resp <- snapshotResp{tick: last, err: err}
	}
}
