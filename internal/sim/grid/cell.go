package grid

// Pos is an integer grid coordinate.
type Pos struct {
	X int
	Y int
	Z int
}

func (p Pos) Add(o Pos) Pos { return Pos{X: p.X + o.X, Y: p.Y + o.Y, Z: p.Z + o.Z} }

func (p Pos) ToArray() [3]int { return [3]int{p.X, p.Y, p.Z} }

func PosFromArray(a [3]int) Pos { return Pos{X: a[0], Y: a[1], Z: a[2]} }

// Topology resolves the face-adjacent neighbor of a position.
// It returns nil when the neighbor lies outside the grid.
type Topology interface {
	Neighbor(pos Pos, d Dir) *Cell
}

// Cell is one grid position. It carries only the occupancy flags; whoever
// drives a transition is responsible for keeping IsOrigin => Occupied.
type Cell struct {
	pos  Pos
	topo Topology

	occupied bool
	origin   bool
}

// NewCell returns a detached cell. Without a topology it has no neighbors.
func NewCell(pos Pos, topo Topology) *Cell {
	return &Cell{pos: pos, topo: topo}
}

func (c *Cell) Pos() Pos           { return c.pos }
func (c *Cell) Occupied() bool     { return c.occupied }
func (c *Cell) IsOrigin() bool     { return c.origin }
func (c *Cell) SetOccupied(v bool) { c.occupied = v }
func (c *Cell) SetOrigin(v bool)   { c.origin = v }

// Neighbors returns the six face neighbors in Dir order. Absent neighbors are nil.
func (c *Cell) Neighbors() [NumDirs]*Cell {
	var out [NumDirs]*Cell
	if c == nil || c.topo == nil {
		return out
	}
	for _, d := range AllDirs() {
		out[d] = c.topo.Neighbor(c.pos, d)
	}
	return out
}

// Flags packs the occupancy flags into a byte (bit0 occupied, bit1 origin).
func (c *Cell) Flags() uint8 {
	var f uint8
	if c.occupied {
		f |= FlagOccupied
	}
	if c.origin {
		f |= FlagOrigin
	}
	return f
}

func (c *Cell) setFlags(f uint8) {
	c.occupied = f&FlagOccupied != 0
	c.origin = f&FlagOrigin != 0
}

const (
	FlagOccupied uint8 = 1 << 0
	FlagOrigin   uint8 = 1 << 1
)
