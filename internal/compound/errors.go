package compound

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCapability is matched by every CapabilityError.
	ErrMissingCapability = errors.New("compound: missing capability")
	// ErrBadArguments is returned when Invoke arguments do not fit the method signature.
	ErrBadArguments = errors.New("compound: bad arguments")
)

// CapabilityError reports the first element of a broadcast that could not
// perform the requested operation.
type CapabilityError struct {
	Index      int
	Identity   string
	Capability string
	Err        error
}

func (e *CapabilityError) Error() string {
	msg := fmt.Sprintf("compound: element %d (%s) lacks %q", e.Index, e.Identity, e.Capability)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both ErrMissingCapability and the element's own error.
func (e *CapabilityError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMissingCapability}
	}
	return []error{ErrMissingCapability, e.Err}
}

func missing(index int, v any, capability string, err error) *CapabilityError {
	return &CapabilityError{
		Index:      index,
		Identity:   identityOf(v),
		Capability: capability,
		Err:        err,
	}
}
