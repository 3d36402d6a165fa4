package kvsdk

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var ErrTooManyItems = errors.Errorf("bulk call exceeds %d items", MaxBulkItems)

// APIError is one entry of the error list returned by the remote store.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RemoteError reports a remote call that did not succeed. The remote's own
// error payload is kept as is.
type RemoteError struct {
	Op     string
	Status int
	Errors []APIError
}

func (e *RemoteError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("%s: remote call failed (status %d)", e.Op, e.Status)
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, ae := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%d: %s", ae.Code, ae.Message))
	}
	return fmt.Sprintf("%s: remote call failed (status %d): %s", e.Op, e.Status, strings.Join(msgs, "; "))
}

// IsRemoteFailure reports whether err wraps a *RemoteError.
func IsRemoteFailure(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
