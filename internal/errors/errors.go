// Package errors provides the gateway error taxonomy and its HTTP rendering.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
)

// ErrorCode identifies the class of a gateway failure.
type ErrorCode string

const (
	// Detected locally
	ErrCodeStateMismatch      ErrorCode = "STATE_MISMATCH"
	ErrCodeOwnershipViolation ErrorCode = "OWNERSHIP_VIOLATION"
	ErrCodeBadRequest         ErrorCode = "BAD_REQUEST"
	ErrCodeRateLimited        ErrorCode = "RATE_LIMITED"

	// Originating from an external dependency
	ErrCodeUpstreamAuth       ErrorCode = "UPSTREAM_AUTH_ERROR"
	ErrCodeUserNotFound       ErrorCode = "USER_NOT_FOUND"
	ErrCodeDiscoveryFailed    ErrorCode = "DISCOVERY_FAILED"
	ErrCodeTokenRefreshFailed ErrorCode = "TOKEN_REFRESH_FAILED"
	ErrCodeSessionFailed      ErrorCode = "SESSION_FAILED"
	ErrCodeSideChannelFailure ErrorCode = "SIDE_CHANNEL_FAILURE"

	// ErrCodeKeepMeLoggedIn is the user-visible code for a remember-me cookie
	// presented by a subject without any role assignment.
	ErrCodeKeepMeLoggedIn ErrorCode = "keep_me_logged_in"
)

// Upstream carries the raw outcome of a failed outbound call.
type Upstream struct {
	Operation string
	Status    int
	Body      []byte
}

// GatewayError is a structured error with the HTTP status it should be surfaced with.
type GatewayError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	HTTPStatus int       `json:"http_status"`
	Upstream   *Upstream `json:"-"`
	Internal   error     `json:"-"`
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Details != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Details)
	}
	if e.Upstream != nil {
		msg = fmt.Sprintf("%s [%s returned %d]", msg, e.Upstream.Operation, e.Upstream.Status)
	}
	if e.Internal != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Internal)
	}
	return msg
}

// Unwrap returns the internal error for error wrapping
func (e *GatewayError) Unwrap() error {
	return e.Internal
}

// IsUpstream reports whether the error originated from an external dependency.
func (e *GatewayError) IsUpstream() bool {
	return e.Upstream != nil
}

// ToJSON converts the error to the response body shape. A JSON upstream body is
// passed through untouched under "cause".
func (e *GatewayError) ToJSON() map[string]any {
	result := map[string]any{
		"code":    string(e.Code),
		"message": e.Message,
	}
	if e.Details != "" {
		result["details"] = e.Details
	}
	if e.Upstream != nil && len(e.Upstream.Body) > 0 {
		if json.Valid(e.Upstream.Body) {
			result["cause"] = json.RawMessage(e.Upstream.Body)
		} else {
			result["cause"] = string(e.Upstream.Body)
		}
	}
	return result
}

// NewUpstreamAuthError wraps a non-2xx response from the authorization server,
// the directory or the SSO endpoints.
func NewUpstreamAuthError(operation string, status int, body []byte) *GatewayError {
	return &GatewayError{
		Code:       ErrCodeUpstreamAuth,
		Message:    fmt.Sprintf("%s failed", operation),
		HTTPStatus: DeriveStatus(status, body),
		Upstream:   &Upstream{Operation: operation, Status: status, Body: body},
	}
}

// NewMalformedResponse reports an upstream body that could not be parsed as the
// expected structure. It is an UpstreamAuthError.
func NewMalformedResponse(operation string, status int, body []byte, cause error) *GatewayError {
	e := NewUpstreamAuthError(operation, status, body)
	e.Details = "malformed response body"
	e.Internal = cause
	return e
}

// NewTransportError reports an outbound call that produced no response at all.
func NewTransportError(operation string, cause error) *GatewayError {
	return &GatewayError{
		Code:       ErrCodeUpstreamAuth,
		Message:    fmt.Sprintf("%s failed", operation),
		HTTPStatus: http.StatusInternalServerError,
		Internal:   cause,
	}
}

// NewStateMismatch creates the protocol violation raised when the callback state
// does not match the session nonce.
func NewStateMismatch() *GatewayError {
	return &GatewayError{
		Code:       ErrCodeStateMismatch,
		Message:    "state parameter does not match session",
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewOwnershipViolation creates the error for a client cookie that does not match
// the token held by the session.
func NewOwnershipViolation() *GatewayError {
	return &GatewayError{
		Code:       ErrCodeOwnershipViolation,
		Message:    "presented token does not belong to this session",
		HTTPStatus: http.StatusForbidden,
	}
}

// NewKeepMeLoggedIn creates the configuration inconsistency error.
func NewKeepMeLoggedIn() *GatewayError {
	return &GatewayError{
		Code:       ErrCodeKeepMeLoggedIn,
		Message:    "remember-me cookie present for a subject without role assignment",
		HTTPStatus: http.StatusForbidden,
	}
}

// NewUserNotFound is returned when the directory has no entry for a subject.
func NewUserNotFound(subject string) *GatewayError {
	return &GatewayError{
		Code:       ErrCodeUserNotFound,
		Message:    "user not found",
		Details:    subject,
		HTTPStatus: http.StatusNotFound,
	}
}

// NewDiscoveryError wraps a Config Resolver failure.
func NewDiscoveryError(cause error) *GatewayError {
	return &GatewayError{
		Code:       ErrCodeDiscoveryFailed,
		Message:    "service discovery failed",
		HTTPStatus: http.StatusInternalServerError,
		Internal:   cause,
	}
}

// NewTokenRefreshFailed is returned when a refresh cannot be attempted or fails.
func NewTokenRefreshFailed(cause error) *GatewayError {
	return &GatewayError{
		Code:       ErrCodeTokenRefreshFailed,
		Message:    "token refresh failed",
		HTTPStatus: http.StatusInternalServerError,
		Internal:   cause,
	}
}

// NewSessionError wraps a Session Store failure.
func NewSessionError(cause error) *GatewayError {
	return &GatewayError{
		Code:       ErrCodeSessionFailed,
		Message:    "session store failure",
		HTTPStatus: http.StatusInternalServerError,
		Internal:   cause,
	}
}

// NewSideChannelFailure wraps an audit or observability failure. It is only ever logged.
func NewSideChannelFailure(operation string, cause error) *GatewayError {
	return &GatewayError{
		Code:       ErrCodeSideChannelFailure,
		Message:    fmt.Sprintf("%s failed", operation),
		HTTPStatus: http.StatusInternalServerError,
		Internal:   cause,
	}
}

// NewRateLimited is returned when the login limiter rejects a request.
func NewRateLimited() *GatewayError {
	return &GatewayError{
		Code:       ErrCodeRateLimited,
		Message:    "too many requests",
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// NewBadRequest reports a missing or invalid request parameter.
func NewBadRequest(message string) *GatewayError {
	return &GatewayError{
		Code:       ErrCodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// DeriveStatus picks the status to surface for an upstream failure. A numeric
// "code" in the body wins when its leading three digits form an error status
// (401001001 => 401), then the upstream status itself, then 500.
func DeriveStatus(status int, body []byte) int {
	var payload struct {
		Code json.Number `json:"code"`
	}
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil && payload.Code != "" {
		if code, err := strconv.ParseInt(payload.Code.String(), 10, 64); err == nil {
			digits := strconv.FormatInt(code, 10)
			if len(digits) >= 3 {
				if derived, _ := strconv.Atoi(digits[:3]); isErrorStatus(derived) {
					return derived
				}
			}
		}
	}
	if isErrorStatus(status) {
		return status
	}
	return http.StatusInternalServerError
}

func isErrorStatus(status int) bool {
	return status >= 400 && status <= 599
}

// As extracts a *GatewayError from an error chain.
func As(err error) (*GatewayError, bool) {
	var gwErr *GatewayError
	if stderrors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

// GetHTTPStatus extracts HTTP status from error, defaulting to 500
func GetHTTPStatus(err error) int {
	if gwErr, ok := As(err); ok {
		return gwErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// FormatUserMessage creates the sentence shown on browser-navigated error pages.
func FormatUserMessage(err error) string {
	if gwErr, ok := As(err); ok {
		switch gwErr.Code {
		case ErrCodeStateMismatch:
			return "Your sign-in request expired. Please start again"
		case ErrCodeOwnershipViolation:
			return "Your session belongs to another sign-in. Please log in again"
		case ErrCodeUserNotFound:
			return "Your account could not be found"
		case ErrCodeKeepMeLoggedIn:
			return "Your account has no role assigned. Please contact your administrator"
		case ErrCodeDiscoveryFailed:
			return "The authentication service could not be located. Please try again later"
		case ErrCodeRateLimited:
			return "Too many requests. Please wait a moment and try again"
		default:
			return "Authentication failed. Please try again"
		}
	}
	return "An unexpected error occurred. Please try again"
}
