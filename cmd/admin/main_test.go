package main

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"voxelpipe.ai/internal/persistence/indexdb"
	persistlog "voxelpipe.ai/internal/persistence/log"
	"voxelpipe.ai/internal/sim/tuning"
	"voxelpipe.ai/internal/sim/world"
)

func sampleAudit() []world.AuditEntry {
	return []world.AuditEntry{
		{Tick: 1, Actor: "S1", Action: "PLACE", ComponentID: "C000001", Pos: [3]int{1, 1, 1}, OK: true},
		{Tick: 2, Actor: "S1", Action: "CHANGE_STATE", ComponentID: "C000001", Pos: [3]int{1, 1, 1}, From: 0, To: 1, OK: true},
		{Tick: 3, Actor: "S2", Action: "PLACE", ComponentID: "C000002", Pos: [3]int{2, 1, 1}, OK: true},
		{Tick: 4, Actor: "S2", Action: "CHANGE_STATE", ComponentID: "C000002", Pos: [3]int{2, 1, 1}, From: 0, To: 1, Code: "E_NEIGHBOR_CONFLICT", BlockedDir: "-X"},
		{Tick: 5, Actor: "S1", Action: "REMOVE", ComponentID: "C000001", Pos: [3]int{1, 1, 1}, From: 1, To: 0, OK: true},
	}
}

func decodeLines(t *testing.T, b []byte) []world.AuditEntry {
	t.Helper()
	var out []world.AuditEntry
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var e world.AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("decode %q: %v", sc.Text(), err)
		}
		out = append(out, e)
	}
	return out
}

func TestScanAudit_Filters(t *testing.T) {
	worldDir := t.TempDir()
	al := persistlog.NewAuditLogger(worldDir)
	for _, e := range sampleAudit() {
		if err := al.WriteAudit(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := al.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	dir := filepath.Join(worldDir, "audit")

	min, max, err := parseAABB("2,0,0:0,2,2")
	if err != nil {
		t.Fatalf("parseAABB: %v", err)
	}
	cases := []struct {
		name  string
		f     auditFilter
		ticks []uint64
	}{
		{"all", auditFilter{}, []uint64{1, 2, 3, 4, 5}},
		{"range", auditFilter{SinceTick: 2, ToTick: 4}, []uint64{2, 3, 4}},
		{"component", auditFilter{ComponentID: "C000002"}, []uint64{3, 4}},
		{"action", auditFilter{Action: "change_state"}, []uint64{2, 4}},
		{"failed", auditFilter{OnlyFailed: true}, []uint64{4}},
		{"aabb", auditFilter{HasAABB: true, Min: min, Max: max}, []uint64{1, 2, 3, 4, 5}},
		{"aabb_x1", auditFilter{HasAABB: true, Min: [3]int{1, 0, 0}, Max: [3]int{1, 5, 5}}, []uint64{1, 2, 5}},
		{"limit", auditFilter{Limit: 2}, []uint64{1, 2}},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		n, err := scanAudit(dir, tc.f, &buf)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		got := decodeLines(t, buf.Bytes())
		if n != len(tc.ticks) || len(got) != len(tc.ticks) {
			t.Fatalf("%s: n=%d lines=%d want %d", tc.name, n, len(got), len(tc.ticks))
		}
		for i, e := range got {
			if e.Tick != tc.ticks[i] {
				t.Fatalf("%s: entry %d tick=%d want %d", tc.name, i, e.Tick, tc.ticks[i])
			}
		}
	}
}

func TestParseAABB(t *testing.T) {
	min, max, err := parseAABB("5,1,9:2,3,4")
	if err != nil {
		t.Fatalf("parseAABB: %v", err)
	}
	if min != [3]int{2, 1, 4} || max != [3]int{5, 3, 9} {
		t.Fatalf("min=%v max=%v", min, max)
	}
	for _, bad := range []string{"1,2,3", "1,2:3,4,5", "a,b,c:1,2,3"} {
		if _, _, err := parseAABB(bad); err == nil {
			t.Fatalf("parseAABB(%q) should fail", bad)
		}
	}
}

func TestRunDBQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.sqlite")
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, e := range sampleAudit() {
		_ = idx.WriteAudit(e)
	}
	_ = idx.WriteTick(world.TickLogEntry{Tick: 4, Digest: "abc"})
	if err := idx.UpsertTuning(tuning.Defaults()); err != nil {
		t.Fatalf("tuning: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := idx.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql open: %v", err)
	}
	defer db.Close()

	var buf bytes.Buffer
	if err := runDBQuery(db, dbQuery{Name: "transitions", ComponentID: "C000002"}, &buf); err != nil {
		t.Fatalf("transitions: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], `"blocked_dir":"-X"`) || !strings.Contains(lines[1], `"ok":false`) {
		t.Fatalf("transitions output:\n%s", buf.String())
	}

	buf.Reset()
	if err := runDBQuery(db, dbQuery{Name: "ticks"}, &buf); err != nil {
		t.Fatalf("ticks: %v", err)
	}
	if !strings.Contains(buf.String(), `"digest":"abc"`) {
		t.Fatalf("ticks output:\n%s", buf.String())
	}

	buf.Reset()
	if err := runDBQuery(db, dbQuery{Name: "tuning"}, &buf); err != nil {
		t.Fatalf("tuning: %v", err)
	}
	if !strings.Contains(buf.String(), `"tick_rate_hz"`) && !strings.Contains(buf.String(), `"TickRateHz"`) {
		t.Fatalf("tuning output:\n%s", buf.String())
	}

	if err := runDBQuery(db, dbQuery{Name: "nope"}, &buf); err == nil {
		t.Fatalf("unknown query should fail")
	}
}

func TestAdminRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/admin/v1/snapshot" && r.Method == http.MethodPost {
			_, _ = rw.Write([]byte(`{"ok":true,"tick":9}`))
			return
		}
		http.Error(rw, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	if code := adminRequest(http.MethodPost, srv.URL+"/", "/admin/v1/snapshot", time.Second, &buf); code != 0 {
		t.Fatalf("snapshot exit=%d", code)
	}
	if strings.TrimSpace(buf.String()) != `{"ok":true,"tick":9}` {
		t.Fatalf("body=%q", buf.String())
	}
	if code := adminRequest(http.MethodGet, srv.URL, "/admin/v1/state", time.Second, &buf); code != 1 {
		t.Fatalf("state exit=%d want 1", code)
	}
}
