package integration

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrIntegrationNotFound    = errors.New("integration: integration not found")
	ErrIntegrationDisabled    = errors.New("integration: integration is disabled")
	ErrCredentialNotFound     = errors.New("integration: credential not found")
	ErrCredentialTypeMismatch = errors.New("integration: credential type mismatch")
	ErrInvalidSignature       = errors.New("integration: invalid webhook signature")
	ErrOAuth1aUnsupported     = errors.New("integration: oauth1a authorization flow is not supported")
	ErrUnsupportedPlatform    = errors.New("integration: unsupported platform")
	ErrUnsupportedEntityType  = errors.New("integration: unsupported entity type")
	ErrSyncInProgress         = errors.New("integration: sync already in progress")
	ErrCircuitOpen            = errors.New("integration: circuit breaker is open")
	ErrWebhookEventNotFound   = errors.New("integration: webhook event not found")
	ErrWebhookAlreadySettled  = errors.New("integration: webhook event already settled")
	ErrInvalidPhaseTransition = errors.New("integration: invalid sync phase transition")
)

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

// AuthenticationError reports missing, invalid or expired credentials.
type AuthenticationError struct {
	Reason string
	// SessionExpired marks failures a token refresh may cure (HTTP 401)
	SessionExpired bool
	Err            error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("integration: authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "integration: authentication failed: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// RateLimitError reports a provider throttling response.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("integration: rate limited (retry after %s): %s", e.RetryAfter, e.Message)
}

// IntegrationError is a provider or transport failure.
type IntegrationError struct {
	// Code is the provider error code, or a synthetic one (HTTP_502, TIMEOUT, NETWORK)
	Code    string
	Message string
	// Status is the HTTP status code, 0 when no response was received
	Status    int
	Retryable bool
	Err       error
}

func (e *IntegrationError) Error() string {
	msg := fmt.Sprintf("integration: provider error %s", e.Code)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *IntegrationError) Unwrap() error { return e.Err }

// ValidationError reports malformed input detected before any I/O.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "integration: validation failed: " + e.Reason
	}
	return fmt.Sprintf("integration: validation failed: %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsRetryable reports whether err is worth retrying: rate limits, retryable
// provider errors and expired sessions.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var ie *IntegrationError
	if errors.As(err, &ie) {
		return ie.Retryable
	}
	var ae *AuthenticationError
	if errors.As(err, &ae) {
		return ae.SessionExpired
	}
	return false
}

// IsSessionExpired reports whether err is an authentication failure that a
// token refresh may cure.
func IsSessionExpired(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae) && ae.SessionExpired
}

// ErrorDetails extracts the taxonomy fields of err for reporting, nil when
// err is not one of the taxonomy types.
func ErrorDetails(err error) map[string]string {
	var (
		ie *IntegrationError
		ve *ValidationError
		rl *RateLimitError
		ae *AuthenticationError
	)
	switch {
	case errors.As(err, &ie):
		d := map[string]string{"type": "integration", "code": ie.Code, "retryable": strconv.FormatBool(ie.Retryable)}
		if ie.Status != 0 {
			d["status"] = strconv.Itoa(ie.Status)
		}
		return d
	case errors.As(err, &ve):
		return map[string]string{"type": "validation", "field": ve.Field}
	case errors.As(err, &rl):
		return map[string]string{"type": "rate_limit", "retry_after": rl.RetryAfter.String()}
	case errors.As(err, &ae):
		return map[string]string{"type": "authentication", "session_expired": strconv.FormatBool(ae.SessionExpired)}
	}
	return nil
}
