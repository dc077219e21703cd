package access

import (
	"errors"
	"fmt"

	"github.com/dukerupert/bywater/internal/model"
)

// Sentinel errors for the authorization core. Storage errors are wrapped with
// %w and pass through untouched; nothing here is ever retried or swallowed.
var (
	ErrNotFound           = errors.New("not found")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrStructuralConflict = errors.New("structural conflict")
)

// InvalidTransitionError reports a state machine violation along with the
// request status that caused it, so callers can show what state the request
// was actually in.
type InvalidTransitionError struct {
	Status model.RequestStatus
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		if e.Status != "" {
			return fmt.Sprintf("invalid transition: %s (status %q)", e.Reason, e.Status)
		}
		return "invalid transition: " + e.Reason
	}
	return fmt.Sprintf("invalid transition from status %q", e.Status)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}
