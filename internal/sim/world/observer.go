package world

import (
	"context"
	"encoding/json"
	"fmt"

	"voxelpipe.ai/internal/observerproto"
	"voxelpipe.ai/internal/protocol"
	"voxelpipe.ai/internal/sim/component"
)

type observerClient struct {
	out    chan []byte
	filter map[string]bool
}

func (c *observerClient) wants(componentID string) bool {
	return len(c.filter) == 0 || c.filter[componentID]
}

type viewReq struct {
	resp chan []ComponentView
}

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	resp := ObserverJoinResponse{Tick: w.tick.Load()}
	switch {
	case req.SessionID == "" || req.Out == nil:
		resp.Err = fmt.Errorf("observer join: missing session or channel")
	case w.observers[req.SessionID] != nil:
		resp.Err = fmt.Errorf("observer join: duplicate session %s", req.SessionID)
	default:
		c := &observerClient{out: req.Out}
		if len(req.Filter) > 0 {
			c.filter = make(map[string]bool, len(req.Filter))
			for _, id := range req.Filter {
				c.filter[id] = true
			}
		}
		w.observers[req.SessionID] = c
		for _, v := range w.componentViews() {
			if c.wants(v.ID) {
				resp.Components = append(resp.Components, v)
			}
		}
	}
	if req.Resp != nil {
		select {
		case req.Resp <- resp:
		default:
		}
	}
}

func (w *World) handleObserverLeave(id string) {
	delete(w.observers, id)
}

func (w *World) handleViewReq(req viewReq) {
	select {
	case req.resp <- w.componentViews():
	default:
	}
}

// Components returns a copy of every placed component, read on the world loop.
func (w *World) Components(ctx context.Context) ([]ComponentView, error) {
	resp := make(chan []ComponentView, 1)
	select {
	case w.viewReq <- viewReq{resp: resp}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case v := <-resp:
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *World) broadcastOutcome(out Outcome) {
	if len(w.observers) == 0 || out.ComponentID == "" {
		return
	}
	b, err := json.Marshal(OutcomeMsg(out))
	if err != nil {
		return
	}
	for _, c := range w.observers {
		if !c.wants(out.ComponentID) {
			continue
		}
		select {
		case c.out <- b:
		default:
			w.dropped++
		}
	}
}

// OutcomeMsg renders an outcome for the presentation stream.
func OutcomeMsg(out Outcome) observerproto.OutcomeMsg {
	return observerproto.OutcomeMsg{
		Type:            observerproto.TypeOutcome,
		ProtocolVersion: observerproto.Version,
		Tick:            out.Tick,
		ComponentID:     out.ComponentID,
		Pos:             out.Pos.ToArray(),
		Action:          out.Action,
		State:           out.State,
		OK:              out.OK(),
		Code:            out.Code,
		Faces:           FaceVisuals(out.State, out.Faces),
	}
}

func resultMsg(out Outcome) protocol.ResultMsg {
	m := protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		Tick:            out.Tick,
		ReqID:           out.ReqID,
		Action:          out.Action,
		ComponentID:     out.ComponentID,
		OK:              out.OK(),
		Code:            out.Code,
		Message:         out.Message,
		State:           out.State,
		Faces:           faceNames(out.Faces),
	}
	if out.Result.Code == component.ResultNeighborConflict {
		m.BlockedDir = out.Result.Dir.String()
	}
	return m
}

func faceNames(f component.FaceSet) []string {
	if f == 0 {
		return nil
	}
	out := make([]string, 0, 3)
	if f.HasOrigin() {
		out = append(out, "O")
	}
	for _, d := range f.Dirs() {
		out = append(out, d.String())
	}
	return out
}

// FaceVisuals pairs every active face with the material for state.
func FaceVisuals(state int, f component.FaceSet) []observerproto.FaceVisual {
	names := faceNames(f)
	if len(names) == 0 {
		return nil
	}
	mat := component.MaterialKey(state)
	out := make([]observerproto.FaceVisual, 0, len(names))
	for _, n := range names {
		out = append(out, observerproto.FaceVisual{Face: n, Material: mat})
	}
	return out
}
