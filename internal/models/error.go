package models

import "fmt"

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeIllegalTransition = "ILLEGAL_TRANSITION"
	ErrCodeGenerationFailed  = "GENERATION_FAILED"
	ErrCodeRetriesExhausted  = "RETRIES_EXHAUSTED"
	ErrCodeOperationPending  = "OPERATION_PENDING"
)

// ErrorKind classifies failures surfaced by the workflow orchestrator.
type ErrorKind string

const (
	// ErrorKindValidation covers malformed input and results without analyzable content.
	ErrorKindValidation       ErrorKind = "validation"
	// ErrorKindTransientService covers timeouts, network failures and retryable endpoint failures.
	ErrorKindTransientService ErrorKind = "transient_service"
	// ErrorKindTerminalService covers non-retryable or structurally invalid endpoint responses.
	ErrorKindTerminalService  ErrorKind = "terminal_service"
	// ErrorKindPersistence covers state store failures. Never fatal.
	ErrorKindPersistence      ErrorKind = "persistence"
	// ErrorKindStaleCache is handled internally by eviction and never shown to users.
	ErrorKindStaleCache       ErrorKind = "stale_cache"
)

// ErrorInfo is the user-visible error attached to a workflow snapshot.
type ErrorInfo struct {
	Kind      ErrorKind `json:"kind"`
	Code      string    `json:"code"`
	Operation string    `json:"operation,omitempty"`
	Message   string    `json:"message"`
	Attempts  int       `json:"attempts,omitempty"`
	Retryable bool      `json:"retryable"`
	// CanSkip tells the presentation layer the user may continue without the artifact.
	CanSkip   bool      `json:"canSkip"`
}

func (e *ErrorInfo) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("%s: %s (attempts: %d)", e.Code, e.Message, e.Attempts)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidationError builds a field-level validation error.
func NewValidationError(operation, message string) *ErrorInfo {
	return &ErrorInfo{
		Kind:      ErrorKindValidation,
		Code:      ErrCodeValidationFailed,
		Operation: operation,
		Message:   message,
	}
}
