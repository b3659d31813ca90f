package generation

import (
	"fmt"
	"net/http"
)

// ServiceError is a failure reported by the generation service, either
// through an explicit success:false envelope or an HTTP error status.
type ServiceError struct {
	Endpoint  string
	Status    int
	Message   string
	retryable bool
}

func (e *ServiceError) Error() string {
	if e.Status != 0 && e.Status != http.StatusOK {
		return fmt.Sprintf("generation service %s returned status %d: %s", e.Endpoint, e.Status, e.Message)
	}
	return fmt.Sprintf("generation service %s failed: %s", e.Endpoint, e.Message)
}

// Retryable reports whether the failure is transient.
func (e *ServiceError) Retryable() bool { return e.retryable }

// NewServiceError builds a ServiceError. It is exported for test doubles of Client.
func NewServiceError(endpoint, message string, retryable bool) *ServiceError {
	return &ServiceError{Endpoint: endpoint, Status: http.StatusOK, Message: message, retryable: retryable}
}

func statusRetryable(status int) bool {
	return status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
}
