package component

import (
	"fmt"

	"voxelpipe.ai/internal/sim/grid"
)

type Code uint8

const (
	ResultOK Code = iota
	// ResultOriginConflict: the origin cell is claimed as an extension of
	// another component.
	ResultOriginConflict
	// ResultNeighborConflict: a target neighbor is claimed by someone else.
	ResultNeighborConflict
	ResultInvalidState
	ResultUnbound
)

var codeNames = map[Code]string{
	ResultOK:               "OK",
	ResultOriginConflict:   "ORIGIN_CONFLICT",
	ResultNeighborConflict: "NEIGHBOR_CONFLICT",
	ResultInvalidState:     "INVALID_STATE",
	ResultUnbound:          "UNBOUND",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("CODE_%d", uint8(c))
}

// Result is the outcome of a transition attempt. Dir names the blocking
// face for ResultNeighborConflict and is grid.DirNone otherwise.
type Result struct {
	Code Code
	Dir  grid.Dir
}

func ok() Result { return Result{Code: ResultOK, Dir: grid.DirNone} }

func reject(c Code) Result { return Result{Code: c, Dir: grid.DirNone} }

func neighborConflict(d grid.Dir) Result { return Result{Code: ResultNeighborConflict, Dir: d} }

func (r Result) OK() bool { return r.Code == ResultOK }

func (r Result) String() string {
	if r.Code == ResultNeighborConflict {
		return fmt.Sprintf("%s(%s)", r.Code, r.Dir)
	}
	return r.Code.String()
}
