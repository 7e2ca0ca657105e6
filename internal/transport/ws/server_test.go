package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voxelpipe.ai/internal/protocol"
	"voxelpipe.ai/internal/sim/world"
)

func startServer(t *testing.T) (*world.World, string) {
	t.Helper()
	w, err := world.New(world.WorldConfig{ID: "test", TickRateHz: 50, GridSize: [3]int{8, 8, 8}})
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()
	srv := httptest.NewServer(NewServer(w, nil).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return w, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readResult(t *testing.T, conn *websocket.Conn) protocol.ResultMsg {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var res protocol.ResultMsg
	if err := conn.ReadJSON(&res); err != nil {
		t.Fatalf("read: %v", err)
	}
	if res.Type != protocol.TypeResult {
		t.Fatalf("type=%s want RESULT", res.Type)
	}
	return res
}

func hello(t *testing.T, conn *websocket.Conn) protocol.WelcomeMsg {
	t.Helper()
	send(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "test"})
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var welcome protocol.WelcomeMsg
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	return welcome
}

func TestSession_PlaceChangeRemove(t *testing.T) {
	_, url := startServer(t)
	conn := dial(t, url)

	welcome := hello(t, conn)
	if welcome.Type != protocol.TypeWelcome || welcome.SessionID == "" {
		t.Fatalf("welcome=%+v", welcome)
	}
	if welcome.GridParams.Size != [3]int{8, 8, 8} || welcome.GridParams.NumStates != 17 {
		t.Fatalf("grid params=%+v", welcome.GridParams)
	}

	send(t, conn, protocol.PlaceMsg{Type: protocol.TypePlace, ProtocolVersion: protocol.Version, ReqID: "p1", Pos: [3]int{3, 3, 3}})
	res := readResult(t, conn)
	if !res.OK || res.ReqID != "p1" || res.ComponentID == "" {
		t.Fatalf("place result=%+v", res)
	}
	id := res.ComponentID

	send(t, conn, protocol.ChangeStateMsg{Type: protocol.TypeChangeState, ProtocolVersion: protocol.Version, ReqID: "c1", ComponentID: id, State: 5})
	res = readResult(t, conn)
	if !res.OK || res.State != 5 || len(res.Faces) != 3 {
		t.Fatalf("change result=%+v", res)
	}

	send(t, conn, protocol.ChangeStateMsg{Type: protocol.TypeChangeState, ProtocolVersion: protocol.Version, ReqID: "c2", ComponentID: id, State: 42})
	res = readResult(t, conn)
	if res.OK || res.Code != protocol.ErrInvalidState || res.State != 5 {
		t.Fatalf("invalid state result=%+v", res)
	}

	send(t, conn, protocol.RemoveMsg{Type: protocol.TypeRemove, ProtocolVersion: protocol.Version, ReqID: "r1", ComponentID: id})
	res = readResult(t, conn)
	if !res.OK || res.State != 0 || len(res.Faces) != 0 {
		t.Fatalf("remove result=%+v", res)
	}
}

func TestSession_RejectsMalformedFrames(t *testing.T) {
	_, url := startServer(t)
	conn := dial(t, url)
	hello(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if res := readResult(t, conn); res.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("bad json result=%+v", res)
	}

	send(t, conn, map[string]any{"type": "JUMP", "protocol_version": protocol.Version})
	if res := readResult(t, conn); res.Code != protocol.ErrProtoBadRequest || res.Action != "JUMP" {
		t.Fatalf("unknown type result=%+v", res)
	}

	send(t, conn, map[string]any{"type": protocol.TypePlace, "protocol_version": "0.9", "pos": []int{0, 0, 0}})
	if res := readResult(t, conn); res.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("bad version result=%+v", res)
	}
}

func TestHandshake_RequiresHello(t *testing.T) {
	_, url := startServer(t)
	conn := dial(t, url)
	send(t, conn, protocol.PlaceMsg{Type: protocol.TypePlace, ProtocolVersion: protocol.Version})
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v want policy violation close", err)
	}
}

func TestDecodeRequest(t *testing.T) {
	b, _ := json.Marshal(protocol.ChangeStateMsg{Type: protocol.TypeChangeState, ProtocolVersion: protocol.Version, ReqID: "x", ComponentID: "C000009", State: 16})
	req, res := decodeRequest(b)
	if res != nil {
		t.Fatalf("unexpected rejection: %+v", res)
	}
	if req.Action != protocol.TypeChangeState || req.ComponentID != "C000009" || req.State != 16 || req.ReqID != "x" {
		t.Fatalf("req=%+v", req)
	}
}
