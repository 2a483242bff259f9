package reminder

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by stores when no record exists for an ID.
	ErrNotFound = errors.New("reminder not found")

	// ErrPreconditionFailed is returned by conditional store writes when the
	// expected state/retry-count no longer match. Transient: the caller lost
	// a concurrent race and must not apply its side effect.
	ErrPreconditionFailed = errors.New("reminder precondition failed")

	// ErrInvalidChannelConfig marks malformed channel address data.
	// Permanent: the engine moves the reminder to Unacknowledged.
	ErrInvalidChannelConfig = errors.New("invalid channel config")

	// ErrSendFailed wraps a notification-send failure. Transient: state and
	// retry accounting are driven by the re-invocation cycle, not by this
	// error.
	ErrSendFailed = errors.New("notification send failed")
)

func invalidChannel(detail string) error {
	return fmt.Errorf("%w: %s", ErrInvalidChannelConfig, detail)
}

// WindowReason classifies why a candidate fire time was rejected.
type WindowReason string

const (
	WindowInPast  WindowReason = "in_past"
	WindowTooSoon WindowReason = "too_soon"
	WindowTooFar  WindowReason = "too_far"
)

// WindowError is returned by Validate when fire_at falls outside the
// configured lead-time window.
type WindowError struct {
	Reason WindowReason
	FireAt time.Time
	Now    time.Time
}

func (e *WindowError) Error() string {
	switch e.Reason {
	case WindowInPast:
		return fmt.Sprintf("fire_at %s is not in the future", e.FireAt.Format(time.RFC3339))
	case WindowTooSoon:
		return fmt.Sprintf("fire_at %s is too soon", e.FireAt.Format(time.RFC3339))
	case WindowTooFar:
		return fmt.Sprintf("fire_at %s is too far in the future", e.FireAt.Format(time.RFC3339))
	default:
		return fmt.Sprintf("fire_at %s rejected", e.FireAt.Format(time.RFC3339))
	}
}

// AsWindowError unwraps err into a *WindowError, if it is one.
func AsWindowError(err error) (*WindowError, bool) {
	var we *WindowError
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}
