package synth

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyText rejects requests whose text is empty after trimming.
	ErrEmptyText = errors.New("narration text is empty")

	// ErrRateLimited marks a provider 429.
	ErrRateLimited = errors.New("provider rate limit exceeded")

	// ErrInvalidVoice marks a voice identifier the provider rejected.
	ErrInvalidVoice = errors.New("voice not recognized by provider")
)

// Error is a per-call synthesis failure with enough context to log and to
// decide whether a retry can help. Transport failures, 429s and 5xx map to
// Retryable; everything else is permanent for the same request.
type Error struct {
	Provider  string
	Code      string
	Message   string
	Cause     error
	Retryable bool
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s synthesis failed (%s): %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s synthesis failed: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(provider, code, message string, cause error, retryable bool) *Error {
	return &Error{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: retryable,
	}
}

// IsRetryable reports whether err is a synthesis failure worth retrying
// with the same request.
func IsRetryable(err error) bool {
	var serr *Error
	return errors.As(err, &serr) && serr.Retryable
}
