package component

import (
	"testing"

	"voxelpipe.ai/internal/sim/grid"
)

func newGrid(t *testing.T) *grid.Grid {
	t.Helper()
	g, err := grid.New(5, 5, 5)
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	return g
}

func at(g *grid.Grid, x, y, z int) *grid.Cell { return g.At(grid.Pos{X: x, Y: y, Z: z}) }

func bound(g *grid.Grid, x, y, z int) *Component {
	c := New()
	c.Bind(at(g, x, y, z))
	return c
}

func TestStateTable(t *testing.T) {
	want := map[int][2]grid.Dir{
		1: {grid.PosX, grid.NegX}, 2: {grid.PosY, grid.NegY}, 3: {grid.PosZ, grid.NegZ},
		4: {grid.PosX, grid.PosY}, 5: {grid.PosX, grid.NegY}, 6: {grid.NegX, grid.PosY}, 7: {grid.NegX, grid.NegY},
		8: {grid.PosY, grid.PosZ}, 9: {grid.PosY, grid.NegZ}, 10: {grid.NegY, grid.PosZ}, 11: {grid.NegY, grid.NegZ},
		12: {grid.PosX, grid.PosZ}, 13: {grid.PosX, grid.NegZ}, 14: {grid.NegX, grid.PosZ}, 15: {grid.NegX, grid.NegZ},
	}
	for s, dirs := range want {
		a, b, ok := Directions(s)
		if !ok || a != dirs[0] || b != dirs[1] {
			t.Fatalf("Directions(%d)=%s,%s,%v want %s,%s", s, a, b, ok, dirs[0], dirs[1])
		}
		f := FacesFor(s)
		if !f.HasOrigin() || len(f.Dirs()) != 2 {
			t.Fatalf("FacesFor(%d)=%s", s, f)
		}
	}
	for _, s := range []int{StateRetracted, StateNoop} {
		a, b, ok := Directions(s)
		if !ok || a != grid.DirNone || b != grid.DirNone {
			t.Fatalf("Directions(%d)=%s,%s,%v", s, a, b, ok)
		}
	}
	if _, _, ok := Directions(17); ok {
		t.Fatalf("Directions(17) should not be ok")
	}
}

func TestRoundTripEveryState(t *testing.T) {
	for s := 1; s <= 15; s++ {
		g := newGrid(t)
		c := bound(g, 2, 2, 2)
		if !c.TryChangeState(s) {
			t.Fatalf("state %d: rejected on empty grid", s)
		}
		origin := at(g, 2, 2, 2)
		if !origin.Occupied() || !origin.IsOrigin() {
			t.Fatalf("state %d: origin flags occ=%v origin=%v", s, origin.Occupied(), origin.IsOrigin())
		}
		if got := g.CountOccupied(); got != 3 {
			t.Fatalf("state %d: occupied=%d, want 3", s, got)
		}
		a, b, _ := Directions(s)
		nb := origin.Neighbors()
		if !nb[a].Occupied() || !nb[b].Occupied() {
			t.Fatalf("state %d: target neighbors not occupied", s)
		}

		if !c.TryChangeState(0) {
			t.Fatalf("state %d: retract rejected", s)
		}
		if got := g.CountOccupied(); got != 0 {
			t.Fatalf("state %d: occupied after retract=%d", s, got)
		}
		if origin.IsOrigin() {
			t.Fatalf("state %d: origin flag left set", s)
		}
		if c.State() != 0 || c.Faces() != 0 {
			t.Fatalf("state %d: after retract state=%d faces=%s", s, c.State(), c.Faces())
		}
	}
}

func TestRejectionLeavesEverythingUntouched(t *testing.T) {
	g := newGrid(t)
	c := bound(g, 2, 2, 2)
	if !c.TryChangeState(4) {
		t.Fatalf("setup transition rejected")
	}
	// Someone else claims the -X neighbor.
	at(g, 1, 2, 2).SetOccupied(true)

	beforeFlags := g.Flags()
	beforeState, beforeFaces := c.State(), c.Faces()

	r := c.Apply(1)
	if r.OK() || r.Code != ResultNeighborConflict || r.Dir != grid.NegX {
		t.Fatalf("Apply(1)=%s, want NEIGHBOR_CONFLICT(-X)", r)
	}
	if c.State() != beforeState || c.Faces() != beforeFaces {
		t.Fatalf("component changed: state=%d faces=%s", c.State(), c.Faces())
	}
	after := g.Flags()
	for i := range beforeFlags {
		if beforeFlags[i] != after[i] {
			t.Fatalf("cell %d flags changed %#x -> %#x", i, beforeFlags[i], after[i])
		}
	}
}

func TestOriginConflict(t *testing.T) {
	g := newGrid(t)
	a := bound(g, 1, 2, 2)
	if !a.TryChangeState(1) { // claims (2,2,2) as +X
		t.Fatalf("a rejected")
	}
	b := bound(g, 2, 2, 2)
	before := g.Flags()
	if r := b.Apply(3); r.Code != ResultOriginConflict {
		t.Fatalf("b.Apply(3)=%s, want ORIGIN_CONFLICT", r)
	}
	if b.TryChangeState(0) {
		t.Fatalf("retract of a hijacked cell should be rejected")
	}
	after := g.Flags()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("flags changed at %d", i)
		}
	}
}

func TestMutualExclusionBetweenAdjacentComponents(t *testing.T) {
	g := newGrid(t)
	a := bound(g, 1, 2, 2)
	b := bound(g, 3, 2, 2)
	if !a.TryChangeState(2) { // +Y/-Y, leaves (2,2,2) free
		t.Fatalf("a rejected")
	}
	// Third, independent claim on the cell between them.
	at(g, 2, 2, 2).SetOccupied(true)

	if a.TryChangeState(4) { // wants +X = (2,2,2)
		t.Fatalf("a should be blocked at +X")
	}
	if a.State() != 2 || a.Faces() != FacesFor(2) {
		t.Fatalf("a state=%d faces=%s", a.State(), a.Faces())
	}
	if !at(g, 1, 3, 2).Occupied() || !at(g, 1, 1, 2).Occupied() {
		t.Fatalf("a lost its claimed neighbors")
	}
	if b.TryChangeState(1) { // wants -X = (2,2,2)
		t.Fatalf("b should be blocked at -X")
	}
}

func TestNoopNeverTouchesOccupancy(t *testing.T) {
	g := newGrid(t)
	c := bound(g, 2, 2, 2)

	cases := []int{0, 7, 16, 3}
	for _, s := range cases {
		if s != StateNoop && !c.TryChangeState(s) {
			t.Fatalf("setup %d rejected", s)
		}
		before := g.Flags()
		faces := c.Faces()
		if !c.TryChangeState(StateNoop) {
			t.Fatalf("noop rejected after %d", s)
		}
		if c.State() != StateNoop {
			t.Fatalf("state=%d, want 16", c.State())
		}
		if c.Faces() != faces {
			t.Fatalf("faces changed %s -> %s", faces, c.Faces())
		}
		after := g.Flags()
		for i := range before {
			if before[i] != after[i] {
				t.Fatalf("noop changed cell %d", i)
			}
		}
	}

	// Even an unbound or hijacked component accepts the no-op.
	if !New().TryChangeState(StateNoop) {
		t.Fatalf("unbound noop rejected")
	}

	owner := bound(g, 0, 0, 0)
	if !owner.TryChangeState(1) { // claims +X = (1,0,0)
		t.Fatalf("owner setup rejected")
	}
	hijacked := bound(g, 1, 0, 0)
	if r := hijacked.Apply(2); r.Code != ResultOriginConflict {
		t.Fatalf("hijacked change=%v, want origin conflict", r)
	}
	before := g.Flags()
	if !hijacked.TryChangeState(StateNoop) {
		t.Fatalf("hijacked noop rejected")
	}
	if hijacked.State() != StateNoop || hijacked.Faces() != 0 {
		t.Fatalf("hijacked state=%d faces=%s", hijacked.State(), hijacked.Faces())
	}
	after := g.Flags()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("hijacked noop changed cell %d", i)
		}
	}
	if !at(g, 1, 0, 0).Occupied() || at(g, 1, 0, 0).IsOrigin() {
		t.Fatalf("owner lost (1,0,0): %#x", at(g, 1, 0, 0).Flags())
	}
}

func TestTransitionAfterNoopReleasesPreviousFaces(t *testing.T) {
	g := newGrid(t)
	c := bound(g, 2, 2, 2)
	if !c.TryChangeState(8) || !c.TryChangeState(StateNoop) {
		t.Fatalf("setup rejected")
	}
	if !c.TryChangeState(15) {
		t.Fatalf("15 rejected")
	}
	if at(g, 2, 3, 2).Occupied() || at(g, 2, 2, 3).Occupied() {
		t.Fatalf("faces of state 8 not released")
	}
	if !at(g, 1, 2, 2).Occupied() || !at(g, 2, 2, 1).Occupied() {
		t.Fatalf("faces of state 15 not claimed")
	}
}

func TestBoundaryFacesActivateLocally(t *testing.T) {
	g := newGrid(t)
	c := bound(g, 0, 0, 0)
	if !c.TryChangeState(7) { // -X, -Y: both outside the grid
		t.Fatalf("boundary state rejected")
	}
	if !c.Faces().Has(grid.NegX) || !c.Faces().Has(grid.NegY) {
		t.Fatalf("faces=%s, want -X and -Y active", c.Faces())
	}
	if got := g.CountOccupied(); got != 1 {
		t.Fatalf("occupied=%d, want only the origin", got)
	}
	if !c.TryChangeState(4) {
		t.Fatalf("4 rejected")
	}
	if got := g.CountOccupied(); got != 3 {
		t.Fatalf("occupied=%d, want 3", got)
	}
}

func TestScenarioElbowToStraight(t *testing.T) {
	g := newGrid(t)
	c := bound(g, 2, 2, 2)
	if !c.TryChangeState(4) {
		t.Fatalf("4 rejected")
	}
	px, py, nx := at(g, 3, 2, 2), at(g, 2, 3, 2), at(g, 1, 2, 2)
	if !px.Occupied() || !py.Occupied() || nx.Occupied() {
		t.Fatalf("after 4: +X=%v +Y=%v -X=%v", px.Occupied(), py.Occupied(), nx.Occupied())
	}
	if g.CountOccupied() != 3 {
		t.Fatalf("after 4: occupied=%d", g.CountOccupied())
	}

	if !c.TryChangeState(1) {
		t.Fatalf("1 rejected with -X free")
	}
	if !px.Occupied() || py.Occupied() || !nx.Occupied() {
		t.Fatalf("after 1: +X=%v +Y=%v -X=%v", px.Occupied(), py.Occupied(), nx.Occupied())
	}
	if c.State() != 1 || c.Faces() != FacesFor(1) {
		t.Fatalf("state=%d faces=%s", c.State(), c.Faces())
	}
}

func TestInvalidAndUnbound(t *testing.T) {
	c := New()
	if r := c.Apply(3); r.Code != ResultUnbound {
		t.Fatalf("Apply on unbound=%s", r)
	}
	g := newGrid(t)
	c.Bind(at(g, 1, 1, 1))
	for _, s := range []int{-1, 17, 99} {
		if r := c.Apply(s); r.Code != ResultInvalidState {
			t.Fatalf("Apply(%d)=%s", s, r)
		}
	}
	if g.CountOccupied() != 0 || c.State() != 0 {
		t.Fatalf("invalid state mutated something")
	}
}

func TestListenerSeesEveryAttempt(t *testing.T) {
	g := newGrid(t)
	c := bound(g, 2, 2, 2)
	var got []Change
	c.SetListener(func(ch Change) { got = append(got, ch) })

	at(g, 3, 2, 2).SetOccupied(true)
	c.Apply(1)
	c.Apply(2)
	c.Apply(StateNoop)

	if len(got) != 3 {
		t.Fatalf("listener calls=%d, want 3", len(got))
	}
	if got[0].Result.OK() || got[0].State != 0 {
		t.Fatalf("first change=%+v", got[0])
	}
	if !got[1].Result.OK() || got[1].State != 2 || got[1].Faces != FacesFor(2) {
		t.Fatalf("second change=%+v", got[1])
	}
	if !got[2].Result.OK() || got[2].State != StateNoop || got[2].Faces != FacesFor(2) {
		t.Fatalf("third change=%+v", got[2])
	}
}

func TestRestore(t *testing.T) {
	c := New()
	if err := c.Restore(5, FacesFor(5)); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if c.State() != 5 || c.Faces().String() != "O+X-Y" {
		t.Fatalf("state=%d faces=%s", c.State(), c.Faces())
	}
	if err := c.Restore(20, 0); err == nil {
		t.Fatalf("expected bad state error")
	}
	if err := c.Restore(1, 0xFF); err == nil {
		t.Fatalf("expected bad faces error")
	}

	mismatched := []struct {
		state int
		faces FaceSet
	}{
		{1, FaceOrigin | faceBit(grid.PosX)},
		{1, FacesFor(2)},
		{0, FacesFor(1)},
		{4, 0},
		{StateNoop, FaceOrigin},
		{StateNoop, faceBit(grid.PosX) | faceBit(grid.NegX)},
	}
	for _, m := range mismatched {
		if err := c.Restore(m.state, m.faces); err == nil {
			t.Fatalf("Restore(%d, %s) accepted", m.state, m.faces)
		}
		if c.State() != 5 || c.Faces() != FacesFor(5) {
			t.Fatalf("failed Restore changed component: state=%d faces=%s", c.State(), c.Faces())
		}
	}

	// A no-op may carry the faces of any state it followed.
	for _, f := range []FaceSet{0, FacesFor(1), FacesFor(15)} {
		if err := c.Restore(StateNoop, f); err != nil {
			t.Fatalf("Restore(16, %s): %v", f, err)
		}
	}
}

func TestMaterialKey(t *testing.T) {
	if got := MaterialKey(12); got != "State_12" {
		t.Fatalf("MaterialKey=%q", got)
	}
}
