package observerproto

import "voxelpipe.ai/internal/protocol"

// Version is the observer protocol version (separate from the client WS protocol).
const Version = "1.0"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeOutcome   = "OUTCOME"
)

// Client -> Server. First message on the observer WS connection.
// An empty ComponentIDs subscribes to every component.
type SubscribeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	ComponentIDs    []string `json:"component_ids,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string              `json:"protocol_version"`
	Tick            uint64              `json:"tick"`
	GridParams      protocol.GridParams `json:"grid_params"`
	Components      []ComponentState    `json:"components"`
}

type ComponentState struct {
	ComponentID string       `json:"component_id"`
	Pos         [3]int       `json:"pos"`
	State       int          `json:"state"`
	Faces       []FaceVisual `json:"faces"`
}

// FaceVisual tells the renderer which material to show on an active face.
// Face is "O" for the origin slot or a direction such as "+X".
type FaceVisual struct {
	Face     string `json:"face"`
	Material string `json:"material"`
}

// Server -> Client. Sent after every placement, transition attempt or removal,
// successful or not.
type OutcomeMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Tick            uint64       `json:"tick"`
	ComponentID     string       `json:"component_id"`
	Pos             [3]int       `json:"pos"`
	Action          string       `json:"action"`
	State           int          `json:"state"`
	OK              bool         `json:"ok"`
	Code            string       `json:"code,omitempty"`
	Faces           []FaceVisual `json:"faces"`
}
