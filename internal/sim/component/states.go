package component

import (
	"fmt"

	"voxelpipe.ai/internal/sim/grid"
)

const (
	StateRetracted = 0
	StateNoop      = 16

	NumStates = 17
)

type orientation struct {
	a, b grid.Dir
	name string
}

// orientations maps a state code to the two neighbor directions it claims.
// 0 and 16 claim nothing; 16 additionally leaves the current faces alone.
var orientations = [NumStates]orientation{
	0:  {grid.DirNone, grid.DirNone, "RETRACTED"},
	1:  {grid.PosX, grid.NegX, "STRAIGHT_X"},
	2:  {grid.PosY, grid.NegY, "STRAIGHT_Y"},
	3:  {grid.PosZ, grid.NegZ, "STRAIGHT_Z"},
	4:  {grid.PosX, grid.PosY, "ELBOW_XY"},
	5:  {grid.PosX, grid.NegY, "ELBOW_XY"},
	6:  {grid.NegX, grid.PosY, "ELBOW_XY"},
	7:  {grid.NegX, grid.NegY, "ELBOW_XY"},
	8:  {grid.PosY, grid.PosZ, "ELBOW_YZ"},
	9:  {grid.PosY, grid.NegZ, "ELBOW_YZ"},
	10: {grid.NegY, grid.PosZ, "ELBOW_YZ"},
	11: {grid.NegY, grid.NegZ, "ELBOW_YZ"},
	12: {grid.PosX, grid.PosZ, "ELBOW_XZ"},
	13: {grid.PosX, grid.NegZ, "ELBOW_XZ"},
	14: {grid.NegX, grid.PosZ, "ELBOW_XZ"},
	15: {grid.NegX, grid.NegZ, "ELBOW_XZ"},
	16: {grid.DirNone, grid.DirNone, "NOOP"},
}

func ValidState(s int) bool { return s >= 0 && s < NumStates }

// Directions returns the two directions claimed by state s. Either may be
// grid.DirNone. ok is false for codes outside 0..16.
func Directions(s int) (a, b grid.Dir, ok bool) {
	if !ValidState(s) {
		return grid.DirNone, grid.DirNone, false
	}
	o := orientations[s]
	return o.a, o.b, true
}

// FacesFor returns the face set a successful transition to s leaves behind.
// It is meaningless for StateNoop, which keeps whatever was active.
func FacesFor(s int) FaceSet {
	if s == StateRetracted || s == StateNoop || !ValidState(s) {
		return 0
	}
	o := orientations[s]
	return FaceOrigin | faceBit(o.a) | faceBit(o.b)
}

func StateName(s int) string {
	if !ValidState(s) {
		return fmt.Sprintf("STATE_%d", s)
	}
	return orientations[s].name
}

// MaterialKey is the visual handle a renderer uses for every active face of
// a component in state s.
func MaterialKey(s int) string { return fmt.Sprintf("State_%d", s) }
