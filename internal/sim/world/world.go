package world

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"voxelpipe.ai/internal/persistence/snapshot"
	"voxelpipe.ai/internal/sim/component"
	"voxelpipe.ai/internal/sim/grid"
)

type placed struct {
	id   string
	pos  grid.Pos
	comp *component.Component
	last component.Change // what the listener saw on the last Apply
}

// World is the single driver of every component on one grid. All mutation
// happens on the goroutine running Run (or the caller of StepOnce).
type World struct {
	cfg  WorldConfig
	grid *grid.Grid

	comps    map[string]*placed
	byOrigin map[grid.Pos]string
	nextComp uint64

	tick atomic.Uint64

	inbox         chan Request
	observerJoin  chan ObserverJoinRequest
	observerLeave chan string
	snapshotReq   chan snapshotReq
	viewReq       chan viewReq
	stop          chan struct{}

	observers map[string]*observerClient

	tickLogger   TickLogger
	auditLogger  AuditLogger
	snapshotSink chan<- snapshot.SnapshotV1

	accepted uint64
	rejected uint64
	dropped  uint64

	metrics atomic.Value
}

func New(cfg WorldConfig) (*World, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = "world_1"
	}
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 5
	}
	if cfg.MaxRequestsPerTick <= 0 {
		cfg.MaxRequestsPerTick = 256
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	if cfg.ObserverQueueSize <= 0 {
		cfg.ObserverQueueSize = 256
	}
	g, err := grid.New(cfg.GridSize[0], cfg.GridSize[1], cfg.GridSize[2])
	if err != nil {
		return nil, fmt.Errorf("world %s: %w", cfg.ID, err)
	}
	w := &World{
		cfg:           cfg,
		grid:          g,
		comps:         map[string]*placed{},
		byOrigin:      map[grid.Pos]string{},
		inbox:         make(chan Request, cfg.InboxSize),
		observerJoin:  make(chan ObserverJoinRequest, 16),
		observerLeave: make(chan string, 16),
		snapshotReq:   make(chan snapshotReq, 4),
		viewReq:       make(chan viewReq, 16),
		stop:          make(chan struct{}),
		observers:     map[string]*observerClient{},
	}
	w.publishMetrics(0)
	return w, nil
}

func (w *World) Config() WorldConfig { return w.cfg }

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) Inbox() chan<- Request                    { return w.inbox }
func (w *World) ObserverJoin() chan<- ObserverJoinRequest { return w.observerJoin }
func (w *World) ObserverLeave() chan<- string             { return w.observerLeave }

func (w *World) SetTickLogger(l TickLogger)   { w.tickLogger = l }
func (w *World) SetAuditLogger(l AuditLogger) { w.auditLogger = l }

// SetSnapshotSink registers where periodic and requested snapshots go.
// Sends never block the world loop; a full sink drops the snapshot.
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

func (w *World) newComponentID() string {
	w.nextComp++
	return fmt.Sprintf("C%06d", w.nextComp)
}

func (w *World) sortedComponentIDs() []string {
	ids := make([]string, 0, len(w.comps))
	for id := range w.comps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// attach binds p to its origin cell and subscribes to its transitions.
// Outcomes are built from the subscribed Change, not by re-reading p.comp.
func (w *World) attach(p *placed, cell *grid.Cell) {
	p.comp.Bind(cell)
	p.comp.SetListener(func(ch component.Change) { p.last = ch })
}

// applyTo runs a transition and copies what the listener reported into out.
func (p *placed) applyTo(s int, out *Outcome) component.Result {
	p.last = component.Change{State: p.comp.State(), Faces: p.comp.Faces()}
	p.comp.Apply(s)
	out.Result = p.last.Result
	out.Code = resultCode(p.last.Result)
	out.State = p.last.State
	out.Faces = p.last.Faces
	return p.last.Result
}

func (w *World) view(p *placed) ComponentView {
	st := p.comp.State()
	return ComponentView{ID: p.id, Pos: p.pos, State: st, Shape: component.StateName(st), Faces: p.comp.Faces()}
}

func (w *World) componentViews() []ComponentView {
	ids := w.sortedComponentIDs()
	out := make([]ComponentView, 0, len(ids))
	for _, id := range ids {
		out = append(out, w.view(w.comps[id]))
	}
	return out
}
