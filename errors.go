package musicgen

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	ErrValidation          = errors.New("musicgen: invalid generation request")
	ErrQuotaExceeded       = errors.New("musicgen: quota exceeded")
	ErrGenerationFailed    = errors.New("musicgen: generation failed")
	ErrReservationResolved = errors.New("musicgen: reservation already resolved")
	ErrProfileNotFound     = errors.New("musicgen: profile not found")
)

// Generator errors. Adapters wrap or return these so Classify can map them.
var (
	ErrInvalidRequest     = errors.New("musicgen: invalid request")
	ErrUnauthorized       = errors.New("musicgen: unauthorized")
	ErrNoData             = errors.New("musicgen: no track returned")
	ErrNetwork            = errors.New("musicgen: network error")
	ErrServer             = errors.New("musicgen: server error")
	ErrServiceUnavailable = errors.New("musicgen: service unavailable")
)

// ErrorKind is the closed classification of generator failures.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindInvalidRequest
	KindUnauthorized
	KindNoData
	KindNetworkError
	KindServerError
	KindServiceUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInvalidRequest:
		return "invalid_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindNoData:
		return "no_data"
	case KindNetworkError:
		return "network_error"
	case KindServerError:
		return "server_error"
	case KindServiceUnavailable:
		return "service_unavailable"
	default:
		return "unknown"
	}
}

// Retryable reports whether a failure of this kind may succeed on retry.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNoData, KindNetworkError, KindServerError, KindServiceUnavailable:
		return true
	default:
		return false
	}
}

// Classify maps a generator error to its kind.
// Errors that match no sentinel are treated as network errors.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrNoData):
		return KindNoData
	case errors.Is(err, ErrServer):
		return KindServerError
	case errors.Is(err, ErrServiceUnavailable):
		return KindServiceUnavailable
	default:
		return KindNetworkError
	}
}

// ValidationError reports a rejected request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("musicgen: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Quota rejection reasons.
const (
	ReasonDailyLimit          = "daily limit reached"
	ReasonSubscriptionExpired = "subscription expired"
	ReasonInsufficientPoints  = "insufficient points"
)

// QuotaError reports why a user cannot generate.
type QuotaError struct {
	UserID string
	Reason string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("musicgen: user=%s: quota exceeded: %s", e.UserID, e.Reason)
}

func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

// GenerationError is returned once retries are exhausted or the failure is permanent.
type GenerationError struct {
	Kind      ErrorKind
	Generator string
	Attempts  []GenerationAttempt
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("musicgen: generator=%s kind=%s attempts=%d: %v",
		e.Generator, e.Kind, len(e.Attempts), e.Err)
}

func (e *GenerationError) Unwrap() []error {
	return []error{ErrGenerationFailed, e.Err}
}

// UserMessage returns a non-technical description of err suitable for display.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return fmt.Sprintf("Please check the %s of your request: %s.", strings.ReplaceAll(ve.Field, "_", " "), ve.Reason)
	}

	var qe *QuotaError
	if errors.As(err, &qe) {
		switch qe.Reason {
		case ReasonDailyLimit:
			return "You've used all of today's generations. Come back tomorrow or upgrade your plan."
		case ReasonSubscriptionExpired:
			return "Your subscription has expired. Renew it to keep generating music."
		default:
			return "You don't have enough points left. Upgrade your plan to get more."
		}
	}

	if errors.Is(err, context.Canceled) {
		return "The generation was cancelled."
	}

	var ge *GenerationError
	if errors.As(err, &ge) {
		switch ge.Kind {
		case KindInvalidRequest:
			return "The music service couldn't understand this request."
		case KindUnauthorized:
			return "Your session has expired. Please sign in again."
		case KindNoData:
			return "The music service didn't return a track. Please try again."
		case KindNetworkError:
			return "We couldn't reach the music service. Check your connection and try again."
		case KindServiceUnavailable:
			return "The music service is busy right now. Please try again in a few minutes."
		default:
			return "Something went wrong while creating your track. Please try again."
		}
	}

	return "Something went wrong. Please try again."
}

// CanRetry reports whether the user should be offered a retry for err.
func CanRetry(err error) bool {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Kind.Retryable()
	}
	return false
}
