// Package apierror maps internal errors onto the canonical wire error
// envelope.
package apierror

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aeternacy/aeterngw/pkg/ai"
	"github.com/aeternacy/aeterngw/pkg/tokens"
)

// ErrorType categorizes wire errors.
type ErrorType string

const (
	ErrInvalidRequest     ErrorType = "invalid_request_error"
	ErrAuthentication     ErrorType = "authentication_error"
	ErrPermission         ErrorType = "permission_error"
	ErrNotFound           ErrorType = "not_found_error"
	ErrInsufficientTokens ErrorType = "insufficient_tokens_error"
	ErrSafetyBlocked      ErrorType = "safety_blocked_error"
	ErrRateLimit          ErrorType = "rate_limit_error"
	ErrAPI                ErrorType = "api_error"
	ErrOverloaded         ErrorType = "overloaded_error"
)

// Error is the canonical API error.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

type Envelope struct {
	Error *Error `json:"error"`
}

// FromError converts any error into a wire error plus HTTP status.
// Unknown errors are reported as an opaque internal error so upstream
// details never leak to clients.
func FromError(err error, requestID string) (*Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Type: ErrAPI, Message: "request timeout", RequestID: requestID}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Type: ErrAPI, Message: "request cancelled", Code: "cancelled", RequestID: requestID}, http.StatusRequestTimeout
	}

	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr != nil {
		out := *apiErr
		out.RequestID = requestID
		return &out, StatusFromType(out.Type)
	}

	if errors.Is(err, tokens.ErrInsufficientTokens) {
		return &Error{
			Type:      ErrInsufficientTokens,
			Message:   "Not enough Tokæn for this feature.",
			Code:      "insufficient_tokens",
			RequestID: requestID,
		}, http.StatusPaymentRequired
	}
	if errors.Is(err, tokens.ErrFreeQuotaExhausted) {
		return &Error{
			Type:      ErrPermission,
			Message:   "free header animation quota exhausted",
			Code:      "free_quota_exhausted",
			RequestID: requestID,
		}, http.StatusForbidden
	}
	if ai.IsSafetyBlocked(err) {
		return &Error{
			Type:      ErrSafetyBlocked,
			Message:   "Operation stopped due to safety policy.",
			Code:      "safety_blocked",
			RequestID: requestID,
		}, http.StatusUnprocessableEntity
	}

	return &Error{Type: ErrAPI, Message: "internal error", RequestID: requestID}, http.StatusInternalServerError
}

func StatusFromType(t ErrorType) int {
	switch t {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrAuthentication:
		return http.StatusUnauthorized
	case ErrPermission:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrInsufficientTokens:
		return http.StatusPaymentRequired
	case ErrSafetyBlocked:
		return http.StatusUnprocessableEntity
	case ErrRateLimit:
		return http.StatusTooManyRequests
	case ErrOverloaded:
		return 529
	case ErrAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
