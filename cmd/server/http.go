package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"voxelpipe.ai/internal/sim/tuning"
	"voxelpipe.ai/internal/sim/world"
	"voxelpipe.ai/internal/transport/observer"
	"voxelpipe.ai/internal/transport/ws"
)

type muxConfig struct {
	World       *world.World
	Index       runtimeIndex
	Logger      *log.Logger
	EnableAdmin bool
	EnablePprof bool
	Observer    tuning.ObserverTuning
}

func buildMux(cfg muxConfig) *http.ServeMux {
	w := cfg.World
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeWorldMetrics(rw, w)
		writeIndexMetrics(rw, w.ID(), cfg.Index)
	})

	if cfg.EnableAdmin {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			comps, err := w.Components(ctx)
			if err != nil {
				http.Error(rw, "world busy", http.StatusServiceUnavailable)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				WorldID    string                `json:"world_id"`
				Tick       uint64                `json:"tick"`
				Metrics    world.WorldMetrics    `json:"metrics"`
				Components []world.ComponentView `json:"components"`
			}{
				WorldID:    w.ID(),
				Tick:       w.CurrentTick(),
				Metrics:    w.Metrics(),
				Components: comps,
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			tick, err := w.RequestSnapshot(ctx)
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "tick": tick, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": tick})
		})

		obsSrv := observer.NewServer(w, cfg.Logger, cfg.Observer.MaxSessions, cfg.Observer.QueueSize)
		mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	}
	if cfg.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(w, cfg.Logger).Handler())
	return mux
}

func writeWorldMetrics(rw http.ResponseWriter, w *world.World) {
	id := w.ID()
	m := w.Metrics()
	tick := w.CurrentTick()
	if m.Tick != 0 {
		tick = m.Tick
	}

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP voxelpipe_world_tick Current world tick.\n")
	fmt.Fprintf(rw, "# TYPE voxelpipe_world_tick gauge\n")
	fmt.Fprintf(rw, "voxelpipe_world_tick{world=%q} %d\n", id, tick)

	fmt.Fprintf(rw, "# HELP voxelpipe_world_components Placed component count.\n")
	fmt.Fprintf(rw, "# TYPE voxelpipe_world_components gauge\n")
	fmt.Fprintf(rw, "voxelpipe_world_components{world=%q} %d\n", id, m.Components)

	fmt.Fprintf(rw, "# HELP voxelpipe_world_occupied_cells Occupied grid cell count.\n")
	fmt.Fprintf(rw, "# TYPE voxelpipe_world_occupied_cells gauge\n")
	fmt.Fprintf(rw, "voxelpipe_world_occupied_cells{world=%q} %d\n", id, m.OccupiedCells)

	fmt.Fprintf(rw, "# HELP voxelpipe_world_observers Connected observer sessions.\n")
	fmt.Fprintf(rw, "# TYPE voxelpipe_world_observers gauge\n")
	fmt.Fprintf(rw, "voxelpipe_world_observers{world=%q} %d\n", id, m.Observers)

	fmt.Fprintf(rw, "# HELP voxelpipe_world_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE voxelpipe_world_queue_depth gauge\n")
	fmt.Fprintf(rw, "voxelpipe_world_queue_depth{world=%q,queue=%q} %d\n", id, "inbox", m.QueueDepths.Inbox)
	fmt.Fprintf(rw, "voxelpipe_world_queue_depth{world=%q,queue=%q} %d\n", id, "join", m.QueueDepths.Join)
	fmt.Fprintf(rw, "voxelpipe_world_queue_depth{world=%q,queue=%q} %d\n", id, "leave", m.QueueDepths.Leave)

	fmt.Fprintf(rw, "# HELP voxelpipe_world_requests_total Requests by outcome.\n")
	fmt.Fprintf(rw, "# TYPE voxelpipe_world_requests_total counter\n")
	fmt.Fprintf(rw, "voxelpipe_world_requests_total{world=%q,outcome=%q} %d\n", id, "accepted", m.Accepted)
	fmt.Fprintf(rw, "voxelpipe_world_requests_total{world=%q,outcome=%q} %d\n", id, "rejected", m.Rejected)

	fmt.Fprintf(rw, "# HELP voxelpipe_world_observer_dropped_total Outcome frames dropped on full observer queues.\n")
	fmt.Fprintf(rw, "# TYPE voxelpipe_world_observer_dropped_total counter\n")
	fmt.Fprintf(rw, "voxelpipe_world_observer_dropped_total{world=%q} %d\n", id, m.Dropped)

	fmt.Fprintf(rw, "# HELP voxelpipe_world_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE voxelpipe_world_step_ms gauge\n")
	fmt.Fprintf(rw, "voxelpipe_world_step_ms{world=%q} %.3f\n", id, m.StepMS)
}

func writeIndexMetrics(rw http.ResponseWriter, worldID string, idx runtimeIndex) {
	if idx == nil {
		return
	}
	s := idx.Stats()
	fmt.Fprintf(rw, "# HELP voxelpipe_index_queue_depth Index writer queue depth.\n")
	fmt.Fprintf(rw, "# TYPE voxelpipe_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "voxelpipe_index_queue_depth{world=%q} %d\n", worldID, s.QueueDepth)

	fmt.Fprintf(rw, "# HELP voxelpipe_index_queue_capacity Index writer queue capacity.\n")
	fmt.Fprintf(rw, "# TYPE voxelpipe_index_queue_capacity gauge\n")
	fmt.Fprintf(rw, "voxelpipe_index_queue_capacity{world=%q} %d\n", worldID, s.QueueCapacity)

	fmt.Fprintf(rw, "# HELP voxelpipe_index_dropped_total Index entries dropped on a full queue.\n")
	fmt.Fprintf(rw, "# TYPE voxelpipe_index_dropped_total counter\n")
	fmt.Fprintf(rw, "voxelpipe_index_dropped_total{world=%q,kind=%q} %d\n", worldID, "tick", s.DropTickTotal)
	fmt.Fprintf(rw, "voxelpipe_index_dropped_total{world=%q,kind=%q} %d\n", worldID, "audit", s.DropAuditTotal)
	fmt.Fprintf(rw, "voxelpipe_index_dropped_total{world=%q,kind=%q} %d\n", worldID, "snapshot", s.DropSnapshotTotal)
	fmt.Fprintf(rw, "voxelpipe_index_dropped_total{world=%q,kind=%q} %d\n", worldID, "checkpoint", s.DropCheckpointTotal)
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
