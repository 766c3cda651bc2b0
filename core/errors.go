package core

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes attached to every classified error. Client-side failures are
// never retried automatically; external failures carry the server response.
const (
	ErrorInvalidJWT        = "VERIFY_INVALID_JWT"
	ErrorMissingExpiration = "VERIFY_MISSING_EXP"
	ErrorMissingKeyType    = "VERIFY_MISSING_KEY_TYPE"
	ErrorExpiredKey        = "VERIFY_EXPIRED_KEY"
	ErrorInvalidKeyType    = "VERIFY_INVALID_KEY_TYPE"
	ErrorGenerationFailed  = "VERIFY_GENERATION_FAILED"
	ErrorAPIRejected       = "VERIFY_API_REJECTED"
	ErrorDeclined          = "VERIFY_DECLINED"
	ErrorCaptureRejected   = "VERIFY_CAPTURE_REJECTED"
	ErrorTimeout           = "VERIFY_TIMEOUT"
	ErrorTransport         = "VERIFY_TRANSPORT"
	ErrorInternal          = "VERIFY_INTERNAL"
)

// Classify maps any failure surfaced by the gateway, the credential
// resolver, or capture collaborators into exactly one classified error. The
// mapping is total and idempotent: an already-classified error passes
// through with its envelope defaults filled, never re-categorized.
func Classify(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "network"),
		strings.Contains(msg, "timeout awaiting"),
		strings.Contains(msg, "broken pipe"):
		return ensureErrorEnvelope(
			goerrors.Wrap(err, goerrors.CategoryExternal, "transport failure").
				WithTextCode(ErrorTransport),
		)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return ensureErrorEnvelope(
			goerrors.Wrap(err, goerrors.CategoryBadInput, err.Error()),
		)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

// IsCancellation reports whether err stems from caller cancellation.
// Cancellation is its own terminal outcome, never surfaced as an API or
// transport error.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

func IsTimeout(err error) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return strings.EqualFold(richErr.TextCode, ErrorTimeout)
	}
	return false
}

func IsTransport(err error) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return strings.EqualFold(richErr.TextCode, ErrorTransport)
	}
	return false
}

// NewClientError builds a misconfiguration/internal failure. These are
// terminal for the flow and never retried.
func NewClientError(message string, textCode string) *goerrors.Error {
	category := goerrors.CategoryBadInput
	if strings.EqualFold(textCode, ErrorInternal) {
		category = goerrors.CategoryInternal
	}
	return ensureErrorEnvelope(
		goerrors.New(message, category).WithTextCode(textCode),
	)
}

// NewAPIError builds a server-reported rejection or decline, preserving the
// HTTP status the server answered with.
func NewAPIError(message string, httpStatus int, textCode string) *goerrors.Error {
	if httpStatus <= 0 {
		httpStatus = http.StatusBadGateway
	}
	if strings.TrimSpace(textCode) == "" {
		textCode = ErrorAPIRejected
	}
	return ensureErrorEnvelope(
		goerrors.New(message, goerrors.CategoryExternal).
			WithCode(httpStatus).
			WithTextCode(textCode),
	)
}

// NewTransportError wraps a network-level failure. There is no stable server
// code; the cause is kept for diagnostics.
func NewTransportError(source error, message string) *goerrors.Error {
	if source == nil {
		return ensureErrorEnvelope(
			goerrors.New(message, goerrors.CategoryExternal).
				WithTextCode(ErrorTransport),
		)
	}
	return ensureErrorEnvelope(
		goerrors.Wrap(source, goerrors.CategoryExternal, message).
			WithTextCode(ErrorTransport),
	)
}

// NewTimeoutError marks a poll run that exhausted its schedule without a
// verdict. The caller should check the session again later.
func NewTimeoutError(sessionID string) *goerrors.Error {
	err := goerrors.New("verification is still processing, check back later", goerrors.CategoryExternal).
		WithCode(http.StatusRequestTimeout).
		WithTextCode(ErrorTimeout)
	if strings.TrimSpace(sessionID) != "" {
		err.WithMetadata(map[string]any{"session_id": strings.TrimSpace(sessionID)})
	}
	return ensureErrorEnvelope(err)
}

// NewCaptureRejectedError surfaces a capture-quality rejection once the
// retry budget is spent. The specific feedback reason reaches the caller.
func NewCaptureRejectedError(reason FeedbackReason) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(string(reason), goerrors.CategoryExternal).
			WithCode(http.StatusUnprocessableEntity).
			WithTextCode(ErrorCaptureRejected).
			WithMetadata(map[string]any{"feedback_reason": string(reason)}),
	)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = errorHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultErrorTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultErrorTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryExternal:
		return ErrorAPIRejected
	default:
		// Unrecognized failures fall back to the internal client error.
		return ErrorInternal
	}
}

func errorHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
