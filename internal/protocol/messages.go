package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ClientName      string            `json:"client_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	SessionID       string     `json:"session_id"`
	Tick            uint64     `json:"tick"`
	GridParams      GridParams `json:"grid_params"`
}

type GridParams struct {
	Size       [3]int `json:"size"`
	TickRateHz int    `json:"tick_rate_hz"`
	NumStates  int    `json:"num_states"`
}

// PLACE (client -> server): create a component bound to the cell at Pos.
type PlaceMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Pos             [3]int `json:"pos"`
}

// CHANGE_STATE (client -> server)
type ChangeStateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	ComponentID     string `json:"component_id"`
	State           int    `json:"state"`
}

// REMOVE (client -> server): retract and drop a component.
type RemoveMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	ComponentID     string `json:"component_id"`
}

// RESULT (server -> client), one per request.
type ResultMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Tick            uint64   `json:"tick"`
	ReqID           string   `json:"req_id,omitempty"`
	Action          string   `json:"action"`
	ComponentID     string   `json:"component_id,omitempty"`
	OK              bool     `json:"ok"`
	Code            string   `json:"code,omitempty"`
	BlockedDir      string   `json:"blocked_dir,omitempty"`
	Message         string   `json:"message,omitempty"`
	State           int      `json:"state"`
	Faces           []string `json:"faces"`
}
