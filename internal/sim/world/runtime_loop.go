package world

import (
	"context"
	"time"
)

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []Request
	var pendingSnap []snapshotReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.observerJoin:
			w.handleObserverJoin(req)
		case id := <-w.observerLeave:
			w.handleObserverLeave(id)
		case req := <-w.viewReq:
			w.handleViewReq(req)
		case req := <-w.snapshotReq:
			pendingSnap = append(pendingSnap, req)
		case req := <-w.inbox:
			pending = append(pending, req)
		case <-ticker.C:
			n := len(pending)
			if n > w.cfg.MaxRequestsPerTick {
				n = w.cfg.MaxRequestsPerTick
			}
			w.step(pending[:n])
			// Anything over the per-tick budget waits for the next tick, in order.
			rest := copy(pending, pending[n:])
			for i := rest; i < len(pending); i++ {
				pending[i] = Request{}
			}
			pending = pending[:rest]

			w.handleSnapshotRequests(pendingSnap)
			pendingSnap = pendingSnap[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// StepOnce advances the world by a single tick using the same ordering semantics as the server.
// It is primarily intended for deterministic replays/tests.
func (w *World) StepOnce(reqs []Request) (tick uint64, digest string) {
	tick = w.tick.Load()
	digest = w.step(reqs)
	return tick, digest
}

func (w *World) step(reqs []Request) string {
	start := time.Now()
	tick := w.tick.Load()

	var outcomes []Outcome
	if len(reqs) > 0 {
		outcomes = make([]Outcome, 0, len(reqs))
	}
	for _, req := range reqs {
		out := w.handleRequest(tick, req)
		outcomes = append(outcomes, out)
		if req.Reply != nil {
			select {
			case req.Reply <- resultMsg(out):
			default:
			}
		}
		w.audit(out)
		w.broadcastOutcome(out)
	}

	digest := w.stateDigest(tick)
	if w.tickLogger != nil {
		logged := make([]Request, len(reqs))
		for i, r := range reqs {
			r.Reply = nil
			logged[i] = r
		}
		_ = w.tickLogger.WriteTick(TickLogEntry{Tick: tick, Requests: logged, Digest: digest})
	}

	if every := uint64(w.cfg.SnapshotEveryTicks); every > 0 && w.snapshotSink != nil && (tick+1)%every == 0 {
		w.sendSnapshot(w.ExportSnapshot(tick))
	}

	w.tick.Add(1)
	w.publishMetrics(time.Since(start))
	return digest
}

func (w *World) audit(out Outcome) {
	if w.auditLogger == nil {
		return
	}
	entry := AuditEntry{
		Tick:        out.Tick,
		Actor:       out.SessionID,
		Action:      out.Action,
		ComponentID: out.ComponentID,
		Pos:         out.Pos.ToArray(),
		From:        out.From,
		To:          out.State,
		OK:          out.OK(),
		Code:        out.Code,
		Faces:       faceNames(out.Faces),
	}
	if out.Result.Dir.Valid() {
		entry.BlockedDir = out.Result.Dir.String()
	}
	_ = w.auditLogger.WriteAudit(entry)
}
