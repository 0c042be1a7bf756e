package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Queue and seating.
	ErrQueueDuplicate = "E_QUEUE_DUPLICATE"
	ErrSlotInvalid    = "E_SLOT_INVALID"
	ErrSlotTaken      = "E_SLOT_TAKEN"

	// Rule/action layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrNoPermission  = "E_NO_PERMISSION"
	ErrNoResource    = "E_NO_RESOURCE"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrConflict      = "E_CONFLICT"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrQueueDuplicate:  {},
	ErrSlotInvalid:     {},
	ErrSlotTaken:       {},
	ErrBadRequest:      {},
	ErrNoPermission:    {},
	ErrNoResource:      {},
	ErrInvalidTarget:   {},
	ErrRateLimit:       {},
	ErrConflict:        {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Messages shown to players. Clients match on these strings.
const (
	MsgInvalidAction   = "Invalid action format"
	MsgAlreadyInQueue  = "Already in queue"
	MsgPlayerIDTaken   = "Player ID already taken"
	MsgInvalidPlayerID = "Invalid player ID"
	MsgRateLimited     = "Rate limit exceeded. Please try again later."
	MsgInternal        = "Internal server error"
	MsgBadMessage      = "Invalid message format"
)
