package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"
	ErrProtoEncoding   = "E_PROTO_ENCODING"

	// Session admission.
	ErrRosterFull = "E_ROSTER_FULL"
	ErrSlowClient = "E_SLOW_CLIENT"
	ErrRateLimit  = "E_RATE_LIMIT"

	// Block edits.
	ErrUnknownBlock = "E_UNKNOWN_BLOCK"
	ErrOutOfBounds  = "E_OUT_OF_BOUNDS"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrProtoEncoding:   {},
	ErrRosterFull:      {},
	ErrSlowClient:      {},
	ErrRateLimit:       {},
	ErrUnknownBlock:    {},
	ErrOutOfBounds:     {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
