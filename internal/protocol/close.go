package protocol

// Server-initiated close reasons. Every close carries a numeric code plus one
// of these short machine-readable reasons so clients can classify failures
// without parsing prose.
//
// HARD reasons mean the client must stop retrying and surface a permanent
// failure. SOFT reasons mean the client should reconnect with backoff.
const (
	CloseNotAuthorized    = "NOT_AUTHORIZED"
	CloseOriginBlocked    = "ORIGIN_BLOCKED"
	CloseBadSubscribe     = "BAD_SUBSCRIBE"
	CloseInvalidRequest   = "INVALID_REQUEST"
	CloseServerShutdown   = "SERVER_SHUTDOWN"
	CloseIdleTimeout      = "IDLE_TIMEOUT"
	CloseHeartbeatTimeout = "HEARTBEAT_TIMEOUT"
)

// Close codes in the private-use 4xxx range, paired with the reasons above.
const (
	CloseCodeNotAuthorized    = 4401
	CloseCodeOriginBlocked    = 4403
	CloseCodeBadSubscribe     = 4400
	CloseCodeInvalidRequest   = 4422
	CloseCodeServerShutdown   = 4503
	CloseCodeIdleTimeout      = 4408
	CloseCodeHeartbeatTimeout = 4409
)

var closeCodes = map[string]int{
	CloseNotAuthorized:    CloseCodeNotAuthorized,
	CloseOriginBlocked:    CloseCodeOriginBlocked,
	CloseBadSubscribe:     CloseCodeBadSubscribe,
	CloseInvalidRequest:   CloseCodeInvalidRequest,
	CloseServerShutdown:   CloseCodeServerShutdown,
	CloseIdleTimeout:      CloseCodeIdleTimeout,
	CloseHeartbeatTimeout: CloseCodeHeartbeatTimeout,
}

var hardCloseReasons = map[string]bool{
	CloseNotAuthorized:  true,
	CloseOriginBlocked:  true,
	CloseBadSubscribe:   true,
	CloseInvalidRequest: true,
}

// CloseCode returns the numeric close code for a reason, or 1000 (normal
// closure) for reasons not in the table.
func CloseCode(reason string) int {
	if code, ok := closeCodes[reason]; ok {
		return code
	}
	return 1000
}

// IsHardClose reports whether the close reason is terminal for the client.
// Unknown reasons and unstructured network drops are SOFT.
func IsHardClose(reason string) bool {
	return hardCloseReasons[reason]
}
