package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

type dbQuery struct {
	Name        string
	ComponentID string
	SinceTick   uint64
	Limit       int
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	component := fs.String("component", "", "component_id filter (transitions)")
	since := fs.Uint64("since_tick", 0, "lowest tick to report (ticks, transitions)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := dbQuery{Name: "snapshots", ComponentID: strings.TrimSpace(*component), SinceTick: *since, Limit: *limit}
	if fs.NArg() > 0 {
		q.Name = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := runDBQuery(db, q, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-world WORLD|-db PATH] [-component ID] [-since_tick T] snapshots|checkpoints|ticks|transitions|tuning")
		os.Exit(1)
	}
}

func runDBQuery(db *sql.DB, q dbQuery, out io.Writer) error {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	switch q.Name {
	case "snapshots":
		return queryRows(db, out,
			`SELECT tick, path, world_id, components, occupied_cells FROM snapshots ORDER BY tick DESC LIMIT ?`,
			[]any{q.Limit},
			func(rows *sql.Rows) (any, error) {
				var r struct {
					Tick          int64  `json:"tick"`
					Path          string `json:"path"`
					WorldID       string `json:"world_id"`
					Components    int    `json:"components"`
					OccupiedCells int    `json:"occupied_cells"`
				}
				err := rows.Scan(&r.Tick, &r.Path, &r.WorldID, &r.Components, &r.OccupiedCells)
				return r, err
			})

	case "checkpoints":
		return queryRows(db, out,
			`SELECT checkpoint, tick, snapshot_path, recorded_at FROM checkpoints ORDER BY checkpoint DESC LIMIT ?`,
			[]any{q.Limit},
			func(rows *sql.Rows) (any, error) {
				var r struct {
					Checkpoint int    `json:"checkpoint"`
					Tick       int64  `json:"tick"`
					Path       string `json:"snapshot_path"`
					RecordedAt string `json:"recorded_at"`
				}
				err := rows.Scan(&r.Checkpoint, &r.Tick, &r.Path, &r.RecordedAt)
				return r, err
			})

	case "ticks":
		return queryRows(db, out,
			`SELECT tick, digest, requests FROM ticks WHERE tick >= ? ORDER BY tick LIMIT ?`,
			[]any{int64(q.SinceTick), q.Limit},
			func(rows *sql.Rows) (any, error) {
				var r struct {
					Tick     int64  `json:"tick"`
					Digest   string `json:"digest"`
					Requests int    `json:"requests"`
				}
				err := rows.Scan(&r.Tick, &r.Digest, &r.Requests)
				return r, err
			})

	case "transitions":
		query := `SELECT tick, seq, actor, action, component_id, x, y, z, from_state, to_state, ok, COALESCE(code, ''), COALESCE(blocked_dir, '')
			FROM transitions WHERE tick >= ?`
		args := []any{int64(q.SinceTick)}
		if q.ComponentID != "" {
			query += ` AND component_id = ?`
			args = append(args, q.ComponentID)
		}
		query += ` ORDER BY tick, seq LIMIT ?`
		args = append(args, q.Limit)
		return queryRows(db, out, query, args, func(rows *sql.Rows) (any, error) {
			var r struct {
				Tick        int64  `json:"tick"`
				Seq         int    `json:"seq"`
				Actor       string `json:"actor"`
				Action      string `json:"action"`
				ComponentID string `json:"component_id"`
				Pos         [3]int `json:"pos"`
				From        int    `json:"from"`
				To          int    `json:"to"`
				OK          bool   `json:"ok"`
				Code        string `json:"code,omitempty"`
				BlockedDir  string `json:"blocked_dir,omitempty"`
			}
			var ok int
			err := rows.Scan(&r.Tick, &r.Seq, &r.Actor, &r.Action, &r.ComponentID, &r.Pos[0], &r.Pos[1], &r.Pos[2], &r.From, &r.To, &ok, &r.Code, &r.BlockedDir)
			r.OK = ok != 0
			return r, err
		})

	case "tuning":
		return queryRows(db, out,
			`SELECT name, digest, json, updated_at FROM tuning ORDER BY name`,
			nil,
			func(rows *sql.Rows) (any, error) {
				var r struct {
					Name      string          `json:"name"`
					Digest    string          `json:"digest"`
					JSON      json.RawMessage `json:"json"`
					UpdatedAt string          `json:"updated_at"`
				}
				var raw string
				err := rows.Scan(&r.Name, &r.Digest, &raw, &r.UpdatedAt)
				r.JSON = json.RawMessage(raw)
				return r, err
			})

	default:
		return fmt.Errorf("unknown query: %s", q.Name)
	}
}

func queryRows(db *sql.DB, out io.Writer, query string, args []any, scan func(*sql.Rows) (any, error)) error {
	rows, err := db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		printJSON(out, v)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows: %w", err)
	}
	return nil
}

func printJSON(out io.Writer, v any) {
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
