package component

import "voxelpipe.ai/internal/sim/grid"

type cellWrite struct {
	cell     *grid.Cell
	occupied bool
	anchor   bool // also write the origin flag
	origin   bool
}

// txn stages every flag write of a transition so that nothing is applied
// until validation is complete. Writes are applied in staging order, so a
// release followed by a claim of the same cell leaves it claimed.
type txn struct {
	writes []cellWrite
	faces  FaceSet
	state  int
}

func (t *txn) occupy(c *grid.Cell, v bool) {
	if c == nil {
		return
	}
	t.writes = append(t.writes, cellWrite{cell: c, occupied: v})
}

func (t *txn) anchor(c *grid.Cell, v bool) {
	t.writes = append(t.writes, cellWrite{cell: c, occupied: v, anchor: true, origin: v})
}

func (t *txn) commit(comp *Component) {
	for _, w := range t.writes {
		w.cell.SetOccupied(w.occupied)
		if w.anchor {
			w.cell.SetOrigin(w.origin)
		}
	}
	comp.faces = t.faces
	comp.state = t.state
}
