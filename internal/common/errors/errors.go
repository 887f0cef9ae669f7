// Package errors provides the error taxonomy shared by the alert engine.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeInvalidFilter    ErrorCode = "INVALID_FILTER"
	ErrCodeMalformedEvent   ErrorCode = "MALFORMED_EVENT"
	ErrCodeEvaluationFailed ErrorCode = "EVALUATION_FAILED"
	ErrCodePropertyTerminal ErrorCode = "PROPERTY_TERMINAL"
	ErrCodeIntakeStopped    ErrorCode = "INTAKE_STOPPED"
	ErrCodeEventCancelled   ErrorCode = "EVENT_CANCELLED"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"

	ErrCodeSuppressionStoreFailed    ErrorCode = "SUPPRESSION_STORE_FAILED"
	ErrCodePreferenceLookupFailed    ErrorCode = "PREFERENCE_LOOKUP_FAILED"
	ErrCodeSavedSearchLoadFailed     ErrorCode = "SAVED_SEARCH_LOAD_FAILED"
	ErrCodePriceHistoryWriteFailed   ErrorCode = "PRICE_HISTORY_WRITE_FAILED"
	ErrCodeNotificationPublishFailed ErrorCode = "NOTIFICATION_PUBLISH_FAILED"
)

// Sentinels for errors.Is checks across package boundaries.
var (
	ErrInvalidFilter    = errors.New("invalid filter")
	ErrMalformedEvent   = errors.New("malformed event")
	ErrEvaluation       = errors.New("evaluation failed")
	ErrPropertyTerminal = errors.New("property is in a terminal state")
	ErrIntakeStopped    = errors.New("event intake stopped")
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata attaches a key/value pair and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func newStandard(code ErrorCode, message string, cause error, retryable bool) *StandardError {
	details := ""
	if cause != nil {
		details = cause.Error()
	}
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// ==========================
// 2. Domain Error Types
// ==========================

// InvalidFilterError reports a saved-search filter document that cannot be
// turned into an evaluable expression.
type InvalidFilterError struct {
	Key    string
	Reason string
}

func (e *InvalidFilterError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("invalid filter: %s", e.Reason)
	}
	return fmt.Sprintf("invalid filter %q: %s", e.Key, e.Reason)
}

func (e *InvalidFilterError) Unwrap() error { return ErrInvalidFilter }

// MalformedEventError reports a change event missing required data.
type MalformedEventError struct {
	EventID string
	Field   string
	Reason  string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event %s: %s %s", e.EventID, e.Field, e.Reason)
}

func (e *MalformedEventError) Unwrap() error { return ErrMalformedEvent }

// EvaluationError reports an unexpected condition while evaluating one
// search against one property.
type EvaluationError struct {
	SavedSearchID string
	Reason        string
}

func (e *EvaluationError) Error() string {
	if e.SavedSearchID == "" {
		return fmt.Sprintf("evaluation failed: %s", e.Reason)
	}
	return fmt.Sprintf("evaluation of saved search %s failed: %s", e.SavedSearchID, e.Reason)
}

func (e *EvaluationError) Unwrap() error { return ErrEvaluation }

// ==========================
// 3. Error Constructors
// ==========================

// NewInvalidFilterError wraps a filter parse failure.
func NewInvalidFilterError(savedSearchID string, err error) *StandardError {
	return newStandard(ErrCodeInvalidFilter, "Saved search filter is invalid", err, false).
		WithMetadata("savedSearchId", savedSearchID)
}

// NewMalformedEventError wraps an event validation failure. Never retried.
func NewMalformedEventError(err error) *StandardError {
	return newStandard(ErrCodeMalformedEvent, "Property change event is malformed", err, false)
}

// NewEvaluationFailedError wraps an unexpected evaluation failure.
func NewEvaluationFailedError(savedSearchID string, err error) *StandardError {
	return newStandard(ErrCodeEvaluationFailed, "Saved search evaluation failed", err, false).
		WithMetadata("savedSearchId", savedSearchID)
}

// NewPropertyTerminalError rejects updates to a sold or inactive listing.
func NewPropertyTerminalError(propertyID string) *StandardError {
	return newStandard(ErrCodePropertyTerminal, "Property is no longer listed", ErrPropertyTerminal, false).
		WithMetadata("propertyId", propertyID)
}

// NewIntakeStoppedError is returned when submitting to a stopped intake.
func NewIntakeStoppedError() *StandardError {
	return newStandard(ErrCodeIntakeStopped, "Event intake is not running", ErrIntakeStopped, true)
}

// NewEventCancelledError marks an event that ran out of processing time.
func NewEventCancelledError(propertyID string, err error) *StandardError {
	return newStandard(ErrCodeEventCancelled, "Event processing cancelled", err, true).
		WithMetadata("propertyId", propertyID)
}

// NewEventWithdrawnError marks an event dropped because its property was
// cancelled on request. Never retried.
func NewEventWithdrawnError(propertyID string) *StandardError {
	return newStandard(ErrCodeEventCancelled, "Event withdrawn for cancelled property", context.Canceled, false).
		WithMetadata("propertyId", propertyID)
}

// NewIntakeInterruptedError marks an event cut short by shutdown. It is
// redelivered regardless of how often it was tried.
func NewIntakeInterruptedError(propertyID string, cause error) *StandardError {
	if cause == nil {
		cause = context.Canceled
	}
	return newStandard(ErrCodeIntakeStopped, "Event processing interrupted by shutdown", fmt.Errorf("%w: %w", ErrIntakeStopped, cause), true).
		WithMetadata("propertyId", propertyID)
}

// NewSuppressionStoreFailedError creates a retryable suppression store error.
func NewSuppressionStoreFailedError(err error) *StandardError {
	return newStandard(ErrCodeSuppressionStoreFailed, "Suppression store unavailable", err, true)
}

// NewPreferenceLookupFailedError creates a retryable preference error.
func NewPreferenceLookupFailedError(userID string, err error) *StandardError {
	return newStandard(ErrCodePreferenceLookupFailed, "Notification preference lookup failed", err, true).
		WithMetadata("userId", userID)
}

// NewSavedSearchLoadFailedError creates a retryable catalog error.
func NewSavedSearchLoadFailedError(err error) *StandardError {
	return newStandard(ErrCodeSavedSearchLoadFailed, "Saved searches could not be loaded", err, true)
}

// NewPriceHistoryWriteFailedError creates a retryable history error.
func NewPriceHistoryWriteFailedError(propertyID string, err error) *StandardError {
	return newStandard(ErrCodePriceHistoryWriteFailed, "Price history could not be recorded", err, true).
		WithMetadata("propertyId", propertyID)
}

// NewNotificationPublishFailedError creates a retryable sink error.
func NewNotificationPublishFailedError(channel string, err error) *StandardError {
	return newStandard(ErrCodeNotificationPublishFailed, "Notification job could not be published", err, true).
		WithMetadata("channel", channel)
}

// ==========================
// 4. Utility Functions
// ==========================

// AsStandard normalizes any error into a StandardError.
func AsStandard(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr
	}

	var filterErr *InvalidFilterError
	var eventErr *MalformedEventError
	var evalErr *EvaluationError
	switch {
	case errors.As(err, &filterErr):
		return NewInvalidFilterError("", err)
	case errors.As(err, &eventErr):
		return NewMalformedEventError(err)
	case errors.As(err, &evalErr):
		return NewEvaluationFailedError(evalErr.SavedSearchID, err)
	case errors.Is(err, ErrPropertyTerminal):
		return newStandard(ErrCodePropertyTerminal, "Property is no longer listed", err, false)
	}
	return newStandard(ErrCodeInternal, "Unexpected error", err, false)
}

// GetRetryCount returns how many times the transport should redeliver.
// INTAKE_STOPPED has no budget; ErrorHandler always redelivers it.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeSuppressionStoreFailed,
		ErrCodePreferenceLookupFailed,
		ErrCodeSavedSearchLoadFailed,
		ErrCodePriceHistoryWriteFailed,
		ErrCodeNotificationPublishFailed,
		ErrCodeEventCancelled:
		return 3

	default:
		return 0
	}
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "FILTER") || strings.Contains(codeStr, "EVALUATION"):
		return "MATCHING"
	case strings.Contains(codeStr, "EVENT") || strings.Contains(codeStr, "PROPERTY") || strings.Contains(codeStr, "INTAKE"):
		return "INTAKE"
	case strings.Contains(codeStr, "SUPPRESSION") || strings.Contains(codeStr, "PREFERENCE"):
		return "DISPATCH"
	case strings.Contains(codeStr, "SAVED_SEARCH") || strings.Contains(codeStr, "HISTORY"):
		return "DATABASE"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	default:
		return "OTHER"
	}
}
