package component

import (
	"strings"

	"voxelpipe.ai/internal/sim/grid"
)

// FaceSet is the set of active slots of a component: one bit per
// direction (in grid.Dir order) plus the origin slot.
type FaceSet uint8

const FaceOrigin FaceSet = 1 << grid.NumDirs

const faceMask = FaceOrigin | (FaceOrigin - 1)

func faceBit(d grid.Dir) FaceSet {
	if !d.Valid() {
		return 0
	}
	return 1 << uint(d)
}

func (f FaceSet) Has(d grid.Dir) bool { return d.Valid() && f&faceBit(d) != 0 }

func (f FaceSet) HasOrigin() bool { return f&FaceOrigin != 0 }

func (f FaceSet) Valid() bool { return f&^faceMask == 0 }

func (f FaceSet) Dirs() []grid.Dir {
	var out []grid.Dir
	for _, d := range grid.AllDirs() {
		if f.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

func (f FaceSet) String() string {
	if f == 0 {
		return "-"
	}
	var b strings.Builder
	if f.HasOrigin() {
		b.WriteString("O")
	}
	for _, d := range f.Dirs() {
		b.WriteString(d.String())
	}
	return b.String()
}
