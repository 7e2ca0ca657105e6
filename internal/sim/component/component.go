package component

import (
	"fmt"

	"voxelpipe.ai/internal/sim/grid"
)

// Change is what a listener sees after every transition attempt.
type Change struct {
	State  int
	Result Result
	Faces  FaceSet
}

type Listener func(Change)

// Component is an orientable connector anchored to one origin cell. It is
// not safe for concurrent use; one driver serializes all calls.
type Component struct {
	origin   *grid.Cell
	state    int
	faces    FaceSet
	listener Listener
}

func New() *Component {
	return &Component{state: StateRetracted}
}

// Bind anchors the component to cell. No validation happens here.
func (c *Component) Bind(cell *grid.Cell) { c.origin = cell }

func (c *Component) Origin() *grid.Cell { return c.origin }
func (c *Component) State() int         { return c.state }
func (c *Component) Faces() FaceSet     { return c.faces }

func (c *Component) SetListener(fn Listener) { c.listener = fn }

// Restore sets state and faces without touching any cell. It is used when
// the cell flags are restored separately, e.g. from a snapshot.
func (c *Component) Restore(state int, faces FaceSet) error {
	if !ValidState(state) {
		return fmt.Errorf("component: bad state %d", state)
	}
	if !faces.Valid() || !facesFit(state, faces) {
		return fmt.Errorf("component: faces %s do not fit state %d", faces, state)
	}
	c.state = state
	c.faces = faces
	return nil
}

// facesFit reports whether faces is what a component in state can hold.
// A no-op keeps the faces of whichever state came before it.
func facesFit(state int, faces FaceSet) bool {
	if state != StateNoop {
		return faces == FacesFor(state)
	}
	for s := StateRetracted; s < StateNoop; s++ {
		if faces == FacesFor(s) {
			return true
		}
	}
	return false
}

func (c *Component) TryChangeState(s int) bool { return c.Apply(s).OK() }

// Apply attempts a transition to state s. On rejection neither the
// component nor any cell is modified.
func (c *Component) Apply(s int) Result {
	r := c.apply(s)
	if c.listener != nil {
		c.listener(Change{State: c.state, Result: r, Faces: c.faces})
	}
	return r
}

func (c *Component) apply(s int) Result {
	if !ValidState(s) {
		return reject(ResultInvalidState)
	}
	if s == StateNoop {
		c.state = s
		return ok()
	}
	if c.origin == nil {
		return reject(ResultUnbound)
	}
	if c.origin.Occupied() && !c.origin.IsOrigin() {
		return reject(ResultOriginConflict)
	}

	a, b, _ := Directions(s)
	nb := c.origin.Neighbors()
	for _, d := range [2]grid.Dir{a, b} {
		if !d.Valid() {
			continue
		}
		n := nb[d]
		// Faces this component already holds are free to keep.
		if n != nil && n.Occupied() && !c.faces.Has(d) {
			return neighborConflict(d)
		}
	}

	t := txn{state: s}
	for _, d := range c.faces.Dirs() {
		t.occupy(nb[d], false)
	}
	if s == StateRetracted {
		t.anchor(c.origin, false)
		t.commit(c)
		return ok()
	}
	t.anchor(c.origin, true)
	t.faces = FacesFor(s)
	for _, d := range t.faces.Dirs() {
		t.occupy(nb[d], true)
	}
	t.commit(c)
	return ok()
}
