package world

import (
	"fmt"

	"voxelpipe.ai/internal/protocol"
	"voxelpipe.ai/internal/sim/component"
	"voxelpipe.ai/internal/sim/grid"
)

func resultCode(r component.Result) string {
	switch r.Code {
	case component.ResultOK:
		return ""
	case component.ResultOriginConflict:
		return protocol.ErrOriginConflict
	case component.ResultNeighborConflict:
		return protocol.ErrNeighborConflict
	case component.ResultInvalidState:
		return protocol.ErrInvalidState
	case component.ResultUnbound:
		return protocol.ErrUnbound
	default:
		return protocol.ErrInternal
	}
}

func (w *World) handleRequest(tick uint64, req Request) Outcome {
	out := Outcome{
		Tick:        tick,
		Action:      req.Action,
		SessionID:   req.SessionID,
		ReqID:       req.ReqID,
		ComponentID: req.ComponentID,
		Result:      component.Result{Dir: grid.DirNone},
	}
	switch req.Action {
	case protocol.TypePlace:
		w.handlePlace(req, &out)
	case protocol.TypeChangeState:
		w.handleChangeState(req, &out)
	case protocol.TypeRemove:
		w.handleRemove(req, &out)
	default:
		out.Code = protocol.ErrBadRequest
		out.Message = fmt.Sprintf("unknown action %q", req.Action)
	}
	if out.OK() {
		w.accepted++
	} else {
		w.rejected++
	}
	return out
}

func (w *World) handlePlace(req Request, out *Outcome) {
	pos := grid.PosFromArray(req.Pos)
	out.Pos = pos
	cell := w.grid.At(pos)
	if cell == nil {
		out.Code = protocol.ErrBadRequest
		out.Message = "position out of bounds"
		return
	}
	if id, ok := w.byOrigin[pos]; ok {
		out.Code = protocol.ErrConflict
		out.Message = "cell already anchors " + id
		return
	}
	if cell.Occupied() {
		out.Code = protocol.ErrConflict
		out.Message = "cell occupied"
		return
	}

	p := &placed{id: w.newComponentID(), pos: pos, comp: component.New()}
	w.attach(p, cell)
	w.comps[p.id] = p
	w.byOrigin[pos] = p.id
	out.ComponentID = p.id
	out.State = p.comp.State()
}

func (w *World) handleChangeState(req Request, out *Outcome) {
	p := w.comps[req.ComponentID]
	if p == nil {
		out.Code = protocol.ErrNotFound
		out.Message = "unknown component"
		return
	}
	out.Pos = p.pos
	out.From = p.comp.State()

	if r := p.applyTo(req.State, out); !r.OK() {
		out.Message = r.String()
	}
}

func (w *World) handleRemove(req Request, out *Outcome) {
	p := w.comps[req.ComponentID]
	if p == nil {
		out.Code = protocol.ErrNotFound
		out.Message = "unknown component"
		return
	}
	out.Pos = p.pos
	out.From = p.comp.State()

	if r := p.applyTo(component.StateRetracted, out); !r.OK() {
		out.Message = "retract rejected: " + r.String()
		return
	}
	delete(w.comps, p.id)
	delete(w.byOrigin, p.pos)
}
