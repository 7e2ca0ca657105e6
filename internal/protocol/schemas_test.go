package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"voxelpipe.ai/internal/observerproto"
	"voxelpipe.ai/internal/protocol"
)

func compile(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", name)
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

// validateValue round-trips v through JSON so the schema sees what goes on the wire.
func validateValue(t *testing.T, s *jsonschema.Schema, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := s.Validate(doc); err != nil {
		t.Fatalf("validate %s: %v", b, err)
	}
}

func TestSchemas_ValidateMessages(t *testing.T) {
	validateValue(t, compile(t, "hello.schema.json"), protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      "bot1",
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 8},
	})
	validateValue(t, compile(t, "welcome.schema.json"), protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       "S1",
		Tick:            12,
		GridParams:      protocol.GridParams{Size: [3]int{16, 16, 16}, TickRateHz: 5, NumStates: 17},
	})
	validateValue(t, compile(t, "place.schema.json"), protocol.PlaceMsg{
		Type:            protocol.TypePlace,
		ProtocolVersion: protocol.Version,
		ReqID:           "r1",
		Pos:             [3]int{1, 2, 3},
	})
	validateValue(t, compile(t, "change_state.schema.json"), protocol.ChangeStateMsg{
		Type:            protocol.TypeChangeState,
		ProtocolVersion: protocol.Version,
		ComponentID:     "C000001",
		State:           16,
	})
	validateValue(t, compile(t, "remove.schema.json"), protocol.RemoveMsg{
		Type:            protocol.TypeRemove,
		ProtocolVersion: protocol.Version,
		ComponentID:     "C000001",
	})

	result := compile(t, "result.schema.json")
	validateValue(t, result, protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		Tick:            3,
		Action:          protocol.TypeChangeState,
		ComponentID:     "C000001",
		OK:              true,
		State:           4,
		Faces:           []string{"O", "+X", "+Y"},
	})
	validateValue(t, result, protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		Action:          protocol.TypeChangeState,
		Code:            protocol.ErrNeighborConflict,
		BlockedDir:      "-X",
	})

	validateValue(t, compile(t, "subscribe.schema.json"), observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
	})
	validateValue(t, compile(t, "outcome.schema.json"), observerproto.OutcomeMsg{
		Type:            observerproto.TypeOutcome,
		ProtocolVersion: observerproto.Version,
		Tick:            9,
		ComponentID:     "C000002",
		Pos:             [3]int{0, 0, 0},
		Action:          protocol.TypeChangeState,
		State:           1,
		OK:              true,
		Faces: []observerproto.FaceVisual{
			{Face: "O", Material: "State_1"},
			{Face: "+X", Material: "State_1"},
		},
	})
}

func TestSchemas_RejectOutOfRangeState(t *testing.T) {
	s := compile(t, "change_state.schema.json")
	var doc any
	_ = json.Unmarshal([]byte(`{"type":"CHANGE_STATE","protocol_version":"1.0","component_id":"C1","state":17}`), &doc)
	if err := s.Validate(doc); err == nil {
		t.Fatalf("expected state 17 to be rejected")
	}
}
