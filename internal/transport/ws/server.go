package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxelpipe.ai/internal/protocol"
	"voxelpipe.ai/internal/sim/component"
	"voxelpipe.ai/internal/sim/world"
)

type Server struct {
	world *world.World
	log   *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	s := &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, out := s.handshake(conn)
		if sessionID == "" {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine: the only writer on conn after the handshake.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case res := <-out:
					b, err := json.Marshal(res)
					if err != nil {
						continue
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			req, res := decodeRequest(msg)
			if res != nil {
				s.reply(out, *res)
				continue
			}
			req.SessionID = sessionID
			req.Reply = out
			select {
			case s.world.Inbox() <- req:
			default:
				s.reply(out, rejected(req.Action, req.ReqID, protocol.ErrWorldBusy, "inbox full"))
			}
		}
		if s.log != nil {
			s.log.Printf("session %s closed", sessionID)
		}
	}
}

func (s *Server) reply(out chan protocol.ResultMsg, res protocol.ResultMsg) {
	res.Tick = s.world.CurrentTick()
	select {
	case out <- res:
	default:
	}
}

func (s *Server) handshake(conn *websocket.Conn) (sessionID string, out chan protocol.ResultMsg) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 16
	}
	if maxQ > 256 {
		maxQ = 256
	}
	out = make(chan protocol.ResultMsg, maxQ)
	sessionID = fmt.Sprintf("S%d", s.nextID.Add(1))

	cfg := s.world.Config()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sessionID,
		Tick:            s.world.CurrentTick(),
		GridParams: protocol.GridParams{
			Size:       cfg.GridSize,
			TickRateHz: cfg.TickRateHz,
			NumStates:  component.NumStates,
		},
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", nil
	}
	if s.log != nil {
		s.log.Printf("session %s opened client=%q", sessionID, hello.ClientName)
	}
	return sessionID, out
}

// decodeRequest turns one client frame into a world request. A non-nil
// result means the frame was rejected before reaching the world.
func decodeRequest(msg []byte) (world.Request, *protocol.ResultMsg) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		res := rejected("", "", protocol.ErrProtoBadRequest, "bad json")
		return world.Request{}, &res
	}
	if base.ProtocolVersion != protocol.Version {
		res := rejected(base.Type, "", protocol.ErrProtoBadRequest, "bad protocol_version")
		return world.Request{}, &res
	}
	switch base.Type {
	case protocol.TypePlace:
		var m protocol.PlaceMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			res := rejected(base.Type, "", protocol.ErrProtoBadRequest, err.Error())
			return world.Request{}, &res
		}
		return world.Request{Action: protocol.TypePlace, ReqID: m.ReqID, Pos: m.Pos}, nil
	case protocol.TypeChangeState:
		var m protocol.ChangeStateMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			res := rejected(base.Type, "", protocol.ErrProtoBadRequest, err.Error())
			return world.Request{}, &res
		}
		return world.Request{Action: protocol.TypeChangeState, ReqID: m.ReqID, ComponentID: m.ComponentID, State: m.State}, nil
	case protocol.TypeRemove:
		var m protocol.RemoveMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			res := rejected(base.Type, "", protocol.ErrProtoBadRequest, err.Error())
			return world.Request{}, &res
		}
		return world.Request{Action: protocol.TypeRemove, ReqID: m.ReqID, ComponentID: m.ComponentID}, nil
	default:
		res := rejected(base.Type, "", protocol.ErrProtoBadRequest, "unknown type")
		return world.Request{}, &res
	}
}

func rejected(action, reqID, code, message string) protocol.ResultMsg {
	return protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		Action:          action,
		OK:              false,
		Code:            code,
		Message:         message,
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
