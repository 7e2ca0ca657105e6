package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// World routing/state.
	ErrWorldBusy = "E_WORLD_BUSY"

	// Request layer.
	ErrBadRequest       = "E_BAD_REQUEST"
	ErrNotFound         = "E_NOT_FOUND"
	ErrConflict         = "E_CONFLICT"
	ErrOriginConflict   = "E_ORIGIN_CONFLICT"
	ErrNeighborConflict = "E_NEIGHBOR_CONFLICT"
	ErrInvalidState     = "E_INVALID_STATE"
	ErrUnbound          = "E_UNBOUND"
	ErrInternal         = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:  {},
	ErrWorldBusy:        {},
	ErrBadRequest:       {},
	ErrNotFound:         {},
	ErrConflict:         {},
	ErrOriginConflict:   {},
	ErrNeighborConflict: {},
	ErrInvalidState:     {},
	ErrUnbound:          {},
	ErrInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
