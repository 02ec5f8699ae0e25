package types

import (
	"errors"
	"maps"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers and services use these instead of literals.
const (
	// Validation (400)
	ErrCodeValidationMissingField   ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidID      ErrorCode = "validation_invalid_id"
	ErrCodeValidationInvalidIntent  ErrorCode = "validation_invalid_intent"
	ErrCodeValidationWebhookPayload ErrorCode = "validation_invalid_webhook_payload"
	ErrCodeValidationInvalidEmail   ErrorCode = "validation_invalid_email"
	ErrCodeValidationInvalidJSON    ErrorCode = "validation_invalid_json"
	ErrCodeValidationInvalidValue   ErrorCode = "validation_invalid_value"

	// Auth (401)
	ErrCodeAuthTokenMissing     ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid     ErrorCode = "auth_token_invalid"
	ErrCodeAuthSignatureInvalid ErrorCode = "auth_webhook_signature_invalid"

	// Not Found (404)
	ErrCodeNotFoundMember       ErrorCode = "not_found_member"
	ErrCodeNotFoundMembership   ErrorCode = "not_found_membership"
	ErrCodeNotFoundCoupon       ErrorCode = "not_found_coupon"
	ErrCodeNotFoundRelationship ErrorCode = "not_found_relationship"
	ErrCodeNotFoundInvoice      ErrorCode = "not_found_invoice"
	ErrCodeNotFoundRemoteObject ErrorCode = "not_found_remote_object"

	// Conflict (409)
	ErrCodeConflictConcurrent ErrorCode = "conflict_concurrent_modification"

	// Unprocessable (422)
	ErrCodeCheckoutUnavailable ErrorCode = "checkout_unavailable"
	ErrCodeGatewayInactive     ErrorCode = "gateway_inactive"

	// Reconciliation anomalies (logged, never surfaced to the webhook caller)
	ErrCodeReconcileCorrelationMissing ErrorCode = "reconcile_correlation_missing"
	ErrCodeReconcileUnsupportedEvent   ErrorCode = "reconcile_unsupported_event"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamStripe      ErrorCode = "upstream_stripe_unavailable"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamQueue       ErrorCode = "upstream_queue_unavailable"
)

// exactStatus overrides the prefix rules below for individual codes.
var exactStatus = map[ErrorCode]int{
	ErrCodeAuthSignatureInvalid: http.StatusBadRequest,
	ErrCodeCheckoutUnavailable:  http.StatusUnprocessableEntity,
	ErrCodeGatewayInactive:      http.StatusUnprocessableEntity,
	ErrCodeUpstreamRateLimited:  http.StatusTooManyRequests,
}

var prefixStatus = []struct {
	prefix string
	status int
}{
	{"validation_", http.StatusBadRequest},
	{"auth_", http.StatusUnauthorized},
	{"not_found_", http.StatusNotFound},
	{"conflict_", http.StatusConflict},
	// Anomalies are acknowledged so Stripe does not redeliver.
	{"reconcile_", http.StatusOK},
	{"upstream_", http.StatusBadGateway},
}

// HTTPStatus maps c to a response status, 500 when nothing matches.
func (c ErrorCode) HTTPStatus() int {
	if status, ok := exactStatus[c]; ok {
		return status
	}
	for _, p := range prefixStatus {
		if strings.HasPrefix(string(c), p.prefix) {
			return p.status
		}
	}
	return http.StatusInternalServerError
}

// AppError carries a stable code for clients plus the internal cause.
// Error() omits the cause; use errors.Is or errors.As to inspect it.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return string(e.Code) + ": " + e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func (e *AppError) HTTPStatus() int { return e.Code.HTTPStatus() }

// WithDetails returns a copy of e with details merged over its own.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	maps.Copy(merged, e.Details)
	maps.Copy(merged, details)
	return NewAppErrorWithDetails(e.Code, e.Message, e.Err, merged)
}

func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, Err: err, Details: details}
}

// CodeOf returns the code of the first AppError in err's chain.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsNotFound reports whether err carries any not_found_* code.
func IsNotFound(err error) bool {
	return strings.HasPrefix(string(CodeOf(err)), "not_found_")
}
