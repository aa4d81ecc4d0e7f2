package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest marks caller errors. No dispatch is attempted.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrServiceUnavailable marks a platform whose adapter was not configured at startup.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrTokenNotFound is returned by TokenStore lookups for unknown ids.
	ErrTokenNotFound = errors.New("token not found")
)

// DeliveryFailure is the error form of a failed Outcome.
// It is only ever surfaced inside a BatchResult.
type DeliveryFailure struct {
	Reason    string
	Permanent bool
}

func (e *DeliveryFailure) Error() string {
	if e.Permanent {
		return fmt.Sprintf("permanent delivery failure: %s", e.Reason)
	}
	return fmt.Sprintf("delivery failure: %s", e.Reason)
}

// Unavailable builds an ErrServiceUnavailable naming the platform.
func Unavailable(p Platform) error {
	return fmt.Errorf("%w: %s push is not configured", ErrServiceUnavailable, p)
}

// Invalid builds an ErrInvalidRequest with a caller-facing message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
