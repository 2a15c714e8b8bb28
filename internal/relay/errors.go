package relay

import (
	"errors"
	"fmt"
)

// Errors returned by the relay API client.
var (
	// ErrUnreachable wraps transport-level failures talking to a node.
	ErrUnreachable = errors.New("relay node unreachable")

	// ErrProtocolDisabled marks a session listing against a protocol the
	// node does not serve. Callers treat this as an empty result.
	ErrProtocolDisabled = errors.New("protocol disabled on node")

	// ErrPathNotFound marks a lookup for a path the node does not know.
	ErrPathNotFound = errors.New("path not found")
)

// BadStatusError reports an unexpected HTTP status from the relay API.
type BadStatusError struct {
	Code int
	Body string
}

func (e *BadStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("relay API returned status %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("relay API returned status %d", e.Code)
}

// IsBadStatus reports whether err is a BadStatusError with the given code.
func IsBadStatus(err error, code int) bool {
	var bad *BadStatusError
	return errors.As(err, &bad) && bad.Code == code
}
