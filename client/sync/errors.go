package sync

import (
	"errors"
	"fmt"
)

// ErrNoSession means no bearer credential is available. Being offline with no
// session is a normal state, not an error worth surfacing: background sync
// skips silently and foreground callers report it informationally.
var ErrNoSession = errors.New("no session credential available")

// RemoteRejectedError means the server answered but returned a non-success
// response. The server-provided message is included when present.
type RemoteRejectedError struct {
	StatusCode int
	Message    string
}

func (e *RemoteRejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server rejected the request: %s", e.Message)
	}
	return fmt.Sprintf("server rejected the request (status_code=%d)", e.StatusCode)
}
