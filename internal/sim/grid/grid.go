package grid

import "fmt"

// Grid is a bounded W x H x D box of cells with its origin at (0,0,0).
type Grid struct {
	w, h, d int
	cells   []*Cell
}

func New(w, h, d int) (*Grid, error) {
	if w <= 0 || h <= 0 || d <= 0 {
		return nil, fmt.Errorf("grid: bad size %dx%dx%d", w, h, d)
	}
	if w*h*d > 1<<24 {
		return nil, fmt.Errorf("grid: size %dx%dx%d too large", w, h, d)
	}
	g := &Grid{w: w, h: h, d: d, cells: make([]*Cell, w*h*d)}
	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				p := Pos{X: x, Y: y, Z: z}
				g.cells[g.index(p)] = NewCell(p, g)
			}
		}
	}
	return g, nil
}

func (g *Grid) Size() [3]int { return [3]int{g.w, g.h, g.d} }

func (g *Grid) Len() int { return len(g.cells) }

func (g *Grid) InBounds(p Pos) bool {
	return p.X >= 0 && p.X < g.w && p.Y >= 0 && p.Y < g.h && p.Z >= 0 && p.Z < g.d
}

func (g *Grid) index(p Pos) int { return (p.Z*g.h+p.Y)*g.w + p.X }

// At returns the cell at p, or nil when p is outside the grid.
func (g *Grid) At(p Pos) *Cell {
	if g == nil || !g.InBounds(p) {
		return nil
	}
	return g.cells[g.index(p)]
}

func (g *Grid) Neighbor(p Pos, d Dir) *Cell {
	if !d.Valid() {
		return nil
	}
	return g.At(p.Add(d.Offset()))
}

func (g *Grid) CountOccupied() int {
	n := 0
	for _, c := range g.cells {
		if c.occupied {
			n++
		}
	}
	return n
}

// Flags returns the packed flags of every cell in storage order.
func (g *Grid) Flags() []uint8 {
	out := make([]uint8, len(g.cells))
	for i, c := range g.cells {
		out[i] = c.Flags()
	}
	return out
}

// CheckFlags reports whether flags could be loaded into g: the length
// matches, only known bits are set and every origin is occupied.
func (g *Grid) CheckFlags(flags []uint8) error {
	if len(flags) != len(g.cells) {
		return fmt.Errorf("grid: flags len=%d, want %d", len(flags), len(g.cells))
	}
	for i, f := range flags {
		if f&^(FlagOccupied|FlagOrigin) != 0 {
			return fmt.Errorf("grid: bad flags %#x at %v", f, g.cells[i].pos)
		}
		if f&FlagOrigin != 0 && f&FlagOccupied == 0 {
			return fmt.Errorf("grid: cell %v is origin but not occupied", g.cells[i].pos)
		}
	}
	return nil
}

// LoadFlags replaces every cell's flags. Nothing is written unless all of
// flags pass CheckFlags.
func (g *Grid) LoadFlags(flags []uint8) error {
	if err := g.CheckFlags(flags); err != nil {
		return err
	}
	for i, f := range flags {
		g.cells[i].setFlags(f)
	}
	return nil
}
