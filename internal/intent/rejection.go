package intent

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed marks payloads that are not a valid intent document.
	ErrMalformed = errors.New("malformed intent")
	// ErrTimeNotUnderstood marks a time field no parser could read.
	ErrTimeNotUnderstood = errors.New("time not understood")
)

// Rejection is a validation outcome that is answered to the user instead of mutating state.
type Rejection struct {
	Message string
	Err     error
}

func (r *Rejection) Error() string { return r.Message }

func (r *Rejection) Unwrap() error { return r.Err }

// Rejectf builds a Rejection with a formatted user-facing message.
func Rejectf(format string, args ...any) *Rejection {
	return &Rejection{Message: fmt.Sprintf(format, args...)}
}

// AsRejection extracts a Rejection from err's chain.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
