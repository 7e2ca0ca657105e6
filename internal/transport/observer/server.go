package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxelpipe.ai/internal/observerproto"
	"voxelpipe.ai/internal/protocol"
	"voxelpipe.ai/internal/sim/component"
	"voxelpipe.ai/internal/sim/world"
)

type Server struct {
	world *world.World
	log   *log.Logger

	maxSessions int
	queueSize   int
	active      atomic.Int64

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(w *world.World, logger *log.Logger, maxSessions, queueSize int) *Server {
	if maxSessions <= 0 {
		maxSessions = 16
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Server{
		world:       w,
		log:         logger,
		maxSessions: maxSessions,
		queueSize:   queueSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		views, err := s.world.Components(ctx)
		if err != nil {
			http.Error(rw, "world busy", http.StatusServiceUnavailable)
			return
		}

		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			Tick:            s.world.CurrentTick(),
			GridParams:      s.gridParams(),
			Components:      componentStates(views),
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) gridParams() protocol.GridParams {
	cfg := s.world.Config()
	return protocol.GridParams{Size: cfg.GridSize, TickRateHz: cfg.TickRateHz, NumStates: component.NumStates}
}

func componentStates(views []world.ComponentView) []observerproto.ComponentState {
	out := make([]observerproto.ComponentState, 0, len(views))
	for _, v := range views {
		out = append(out, observerproto.ComponentState{
			ComponentID: v.ID,
			Pos:         v.Pos.ToArray(),
			State:       v.State,
			Faces:       world.FaceVisuals(v.State, v.Faces),
		})
	}
	return out
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		if s.active.Add(1) > int64(s.maxSessions) {
			s.active.Add(-1)
			http.Error(rw, "too many observers", http.StatusServiceUnavailable)
			return
		}
		defer s.active.Add(-1)

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		dataOut := make(chan []byte, s.queueSize)
		respCh := make(chan world.ObserverJoinResponse, 1)

		joinReq := world.ObserverJoinRequest{
			SessionID: sid,
			Filter:    sub.ComponentIDs,
			Out:       dataOut,
			Resp:      respCh,
		}
		select {
		case s.world.ObserverJoin() <- joinReq:
		default:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		var joined world.ObserverJoinResponse
		select {
		case joined = <-respCh:
		case <-time.After(5 * time.Second):
			return
		}
		defer func() {
			select {
			case s.world.ObserverLeave() <- sid:
			default:
				// World loop is stopping; nothing else to do.
			}
		}()
		if joined.Err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, joined.Err.Error()), time.Now().Add(time.Second))
			return
		}

		// Bootstrap the subscribed components, then stream outcomes.
		if err := writeJSON(conn, observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			Tick:            joined.Tick,
			GridParams:      s.gridParams(),
			Components:      componentStates(joined.Components),
		}); err != nil {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-dataOut:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: only used to notice the client going away.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
