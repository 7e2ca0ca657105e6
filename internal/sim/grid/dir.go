package grid

import (
	"fmt"
	"strings"
)

// Dir is one of the six axis-aligned face directions of a cell.
// The numeric order is also the order of Cell.Neighbors.
type Dir int8

const (
	PosX Dir = iota
	NegX
	PosY
	NegY
	PosZ
	NegZ

	// DirNone marks the absent second direction of a straight state.
	DirNone Dir = -1
)

// NumDirs is the number of face directions.
const NumDirs = 6

var dirNames = [NumDirs]string{"+X", "-X", "+Y", "-Y", "+Z", "-Z"}

var dirOffsets = [NumDirs]Pos{
	{X: 1}, {X: -1},
	{Y: 1}, {Y: -1},
	{Z: 1}, {Z: -1},
}

func AllDirs() [NumDirs]Dir {
	return [NumDirs]Dir{PosX, NegX, PosY, NegY, PosZ, NegZ}
}

func (d Dir) Valid() bool { return d >= 0 && d < NumDirs }

// Opposite returns the direction pointing back. DirNone is its own opposite.
func (d Dir) Opposite() Dir {
	if !d.Valid() {
		return DirNone
	}
	return d ^ 1
}

func (d Dir) Offset() Pos {
	if !d.Valid() {
		return Pos{}
	}
	return dirOffsets[d]
}

func (d Dir) String() string {
	if !d.Valid() {
		return "NONE"
	}
	return dirNames[d]
}

func ParseDir(s string) (Dir, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, n := range dirNames {
		if n == s {
			return Dir(i), nil
		}
	}
	if s == "" || s == "NONE" {
		return DirNone, nil
	}
	return DirNone, fmt.Errorf("unknown direction %q", s)
}
