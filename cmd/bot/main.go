package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"voxelpipe.ai/internal/botscript"
	"voxelpipe.ai/internal/protocol"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "client name")
		posFlag  = flag.String("pos", "0,0,0", "origin cell x,y,z")
		script   = flag.String("script", "", "lua script defining next_state(tick, state, ok) (default: cycle every state)")
		interval = flag.Duration("interval", time.Second, "delay between state changes")
		steps    = flag.Int("steps", 0, "state changes to request before removing the component (0: run until interrupted)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	pos, err := parsePos(*posFlag)
	if err != nil {
		logger.Fatalf("pos: %v", err)
	}

	var policy botscript.Policy = botscript.Cycle{}
	if *script != "" {
		eng, err := botscript.Load(*script)
		if err != nil {
			logger.Fatalf("script: %v", err)
		}
		defer eng.Close()
		policy = eng
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, *url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	b := &bot{
		conn:     conn,
		log:      logger,
		name:     *name,
		policy:   policy,
		pos:      pos,
		interval: *interval,
		steps:    *steps,
	}
	if err := b.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("%v", err)
	}
}

func parsePos(s string) ([3]int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return [3]int{}, fmt.Errorf("want x,y,z, got %q", s)
	}
	var p [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return [3]int{}, fmt.Errorf("bad coordinate %q", part)
		}
		p[i] = n
	}
	return p, nil
}

// bot places one component, walks it through the states chosen by its
// policy, and removes it again once it has made its configured steps.
type bot struct {
	conn     *websocket.Conn
	log      *log.Logger
	name     string
	policy   botscript.Policy
	pos      [3]int
	interval time.Duration
	steps    int

	componentID string
	state       int
	changes     int
	nextReq     int
}

func (b *bot) run(ctx context.Context) error {
	// Unblock ReadMessage when the context ends.
	go func() {
		<-ctx.Done()
		_ = b.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		_ = b.conn.Close()
	}()

	if err := b.conn.WriteJSON(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      b.name,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 8},
	}); err != nil {
		return fmt.Errorf("send HELLO: %w", err)
	}

	for {
		_, msg, err := b.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			b.log.Printf("WELCOME session=%s grid=%v tick_rate=%d", w.SessionID, w.GridParams.Size, w.GridParams.TickRateHz)
			if err := b.send(protocol.PlaceMsg{Type: protocol.TypePlace, ProtocolVersion: protocol.Version, ReqID: b.reqID(), Pos: b.pos}); err != nil {
				return err
			}
		case protocol.TypeResult:
			var res protocol.ResultMsg
			if err := json.Unmarshal(msg, &res); err != nil {
				continue
			}
			done, err := b.handleResult(ctx, res)
			if err != nil || done {
				return err
			}
		}
	}
}

func (b *bot) handleResult(ctx context.Context, res protocol.ResultMsg) (done bool, err error) {
	switch res.Action {
	case protocol.TypePlace:
		if !res.OK {
			return false, fmt.Errorf("place at %v rejected: %s %s", b.pos, res.Code, res.Message)
		}
		b.componentID = res.ComponentID
		b.state = res.State
		b.log.Printf("placed %s at %v tick=%d", b.componentID, b.pos, res.Tick)
	case protocol.TypeChangeState:
		if res.OK {
			b.state = res.State
		}
		b.changes++
		b.log.Printf("CHANGE_STATE %s state=%d ok=%v code=%s blocked=%s faces=%v", b.componentID, res.State, res.OK, res.Code, res.BlockedDir, res.Faces)
	case protocol.TypeRemove:
		b.log.Printf("removed %s ok=%v code=%s", b.componentID, res.OK, res.Code)
		return true, nil
	default:
		if !res.OK {
			b.log.Printf("rejected action=%q code=%s msg=%s", res.Action, res.Code, res.Message)
		}
		return false, nil
	}

	if b.steps > 0 && b.changes >= b.steps {
		return false, b.send(protocol.RemoveMsg{Type: protocol.TypeRemove, ProtocolVersion: protocol.Version, ReqID: b.reqID(), ComponentID: b.componentID})
	}

	next, err := b.policy.NextState(res.Tick, b.state, res.OK)
	if err != nil {
		return false, err
	}
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(b.interval):
	}
	return false, b.send(protocol.ChangeStateMsg{
		Type:            protocol.TypeChangeState,
		ProtocolVersion: protocol.Version,
		ReqID:           b.reqID(),
		ComponentID:     b.componentID,
		State:           next,
	})
}

func (b *bot) reqID() string {
	b.nextReq++
	return fmt.Sprintf("R%d", b.nextReq)
}

func (b *bot) send(v any) error {
	_ = b.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := b.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}
