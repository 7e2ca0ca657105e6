package world

import (
	"voxelpipe.ai/internal/protocol"
	"voxelpipe.ai/internal/sim/component"
	"voxelpipe.ai/internal/sim/grid"
)

type WorldConfig struct {
	ID                 string
	TickRateHz         int
	GridSize           [3]int
	SnapshotEveryTicks int
	ArchiveEveryTicks  int
	MaxRequestsPerTick int
	InboxSize          int
	ObserverQueueSize  int
}

// Request is one placement, transition or removal, as queued by a transport.
// Reply (optional) receives exactly one RESULT.
type Request struct {
	Action      string `json:"action"`
	SessionID   string `json:"session_id,omitempty"`
	ReqID       string `json:"req_id,omitempty"`
	ComponentID string `json:"component_id,omitempty"`
	Pos         [3]int `json:"pos,omitempty"`
	State       int    `json:"state,omitempty"`

	Reply chan<- protocol.ResultMsg `json:"-"`
}

// Outcome is the processed form of a Request. It is what the tick log,
// the audit log, the requester and the observers are told.
type Outcome struct {
	Tick        uint64
	Action      string
	SessionID   string
	ReqID       string
	ComponentID string
	Pos         grid.Pos
	From        int
	State       int
	Faces       component.FaceSet
	Result      component.Result
	Code        string
	Message     string
}

func (o Outcome) OK() bool { return o.Code == "" }

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

type TickLogEntry struct {
	Tick     uint64    `json:"tick"`
	Requests []Request `json:"requests,omitempty"`
	Digest   string    `json:"digest"`
}

type AuditEntry struct {
	Tick        uint64   `json:"tick"`
	Actor       string   `json:"actor"`
	Action      string   `json:"action"` // PLACE, CHANGE_STATE, REMOVE
	ComponentID string   `json:"component_id"`
	Pos         [3]int   `json:"pos"`
	From        int      `json:"from"`
	To          int      `json:"to"`
	OK          bool     `json:"ok"`
	Code        string   `json:"code,omitempty"`
	BlockedDir  string   `json:"blocked_dir,omitempty"`
	Faces       []string `json:"faces,omitempty"`
}

// ComponentView is a read-only copy of a placed component.
type ComponentView struct {
	ID    string
	Pos   grid.Pos
	State int
	Shape string // orientation name, e.g. ELBOW_XY
	Faces component.FaceSet
}

type ObserverJoinRequest struct {
	SessionID string
	// Filter restricts the stream to these component ids; empty means all.
	Filter []string
	Out    chan []byte
	Resp   chan ObserverJoinResponse
}

type ObserverJoinResponse struct {
	Tick       uint64
	Components []ComponentView
	Err        error
}
