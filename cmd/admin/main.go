package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	persistlog "voxelpipe.ai/internal/persistence/log"
	"voxelpipe.ai/internal/sim/world"
)

var errLimit = errors.New("limit reached")

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "audit":
			auditCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *worldID != "" {
		base = filepath.Join(base, *worldID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

type auditFilter struct {
	SinceTick   uint64
	ToTick      uint64 // 0: no upper bound
	ComponentID string
	Action      string
	OnlyFailed  bool
	HasAABB     bool
	Min, Max    [3]int
	Limit       int
}

func (f auditFilter) match(e world.AuditEntry) bool {
	if e.Tick < f.SinceTick || (f.ToTick != 0 && e.Tick > f.ToTick) {
		return false
	}
	if f.ComponentID != "" && e.ComponentID != f.ComponentID {
		return false
	}
	if f.Action != "" && !strings.EqualFold(e.Action, f.Action) {
		return false
	}
	if f.OnlyFailed && e.OK {
		return false
	}
	if f.HasAABB && !withinAABB(e.Pos, f.Min, f.Max) {
		return false
	}
	return true
}

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	aabb := fs.String("aabb", "", "AABB filter: x1,y1,z1:x2,y2,z2 (optional)")
	since := fs.Uint64("since_tick", 0, "first tick (inclusive)")
	to := fs.Uint64("to_tick", 0, "last tick (inclusive, optional)")
	component := fs.String("component", "", "component_id filter")
	action := fs.String("action", "", "PLACE|CHANGE_STATE|REMOVE filter")
	failed := fs.Bool("failed", false, "only rejected transitions")
	limit := fs.Int("limit", 0, "max entries (0: all)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	f := auditFilter{
		SinceTick:   *since,
		ToTick:      *to,
		ComponentID: strings.TrimSpace(*component),
		Action:      strings.TrimSpace(*action),
		OnlyFailed:  *failed,
		Limit:       *limit,
	}
	if strings.TrimSpace(*aabb) != "" {
		min, max, err := parseAABB(*aabb)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -aabb:", err)
			os.Exit(2)
		}
		f.HasAABB, f.Min, f.Max = true, min, max
	}

	n, err := scanAudit(filepath.Join(*dataDir, "worlds", *worldID, "audit"), f, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read audit:", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "matched=%d\n", n)
}

// scanAudit prints every audit entry in dir accepted by f, oldest first.
func scanAudit(dir string, f auditFilter, out io.Writer) (int, error) {
	files, err := persistlog.ListFiles(dir, "audit")
	if err != nil {
		return 0, err
	}
	n := 0
	for _, path := range files {
		err := persistlog.ReadAudit(path, func(e world.AuditEntry) error {
			if !f.match(e) {
				return nil
			}
			printJSON(out, e)
			n++
			if f.Limit > 0 && n >= f.Limit {
				return errLimit
			}
			return nil
		})
		if errors.Is(err, errLimit) {
			break
		}
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func withinAABB(pos [3]int, min, max [3]int) bool {
	return pos[0] >= min[0] && pos[0] <= max[0] &&
		pos[1] >= min[1] && pos[1] <= max[1] &&
		pos[2] >= min[2] && pos[2] <= max[2]
}

func parseAABB(s string) (min, max [3]int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return min, max, fmt.Errorf("expected x1,y1,z1:x2,y2,z2")
	}
	a, err := parseVec3(parts[0])
	if err != nil {
		return min, max, err
	}
	b, err := parseVec3(parts[1])
	if err != nil {
		return min, max, err
	}
	for i := 0; i < 3; i++ {
		if a[i] <= b[i] {
			min[i], max[i] = a[i], b[i]
		} else {
			min[i], max[i] = b[i], a[i]
		}
	}
	return min, max, nil
}

func parseVec3(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}
