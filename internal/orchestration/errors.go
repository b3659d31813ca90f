package orchestration

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/analysis"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/retry"
)

var (
	errProjectRequired  = errors.New("a project must be set up first")
	errAnalysisRequired = errors.New("domain analysis or business context is required")
	errSpecRequired     = errors.New("an OpenAPI specification must be generated first")
)

func analysisGuard(r *models.AnalysisResult) error {
	if err := analysis.Validate(r); err != nil {
		return fmt.Errorf("a valid domain analysis is required: %w", err)
	}
	return nil
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func transitionErrorInfo(op string, err error) *models.ErrorInfo {
	return &models.ErrorInfo{
		Kind:      models.ErrorKindValidation,
		Code:      models.ErrCodeIllegalTransition,
		Operation: op,
		Message:   err.Error(),
	}
}

// serviceErrorInfo maps a generation failure onto the user-visible taxonomy.
// Every service failure can be skipped or retried by hand.
func serviceErrorInfo(op string, err error) *models.ErrorInfo {
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return &models.ErrorInfo{
			Kind:      models.ErrorKindTransientService,
			Code:      models.ErrCodeRetriesExhausted,
			Operation: op,
			Message:   err.Error(),
			Attempts:  exhausted.Attempts,
			Retryable: true,
			CanSkip:   true,
		}
	}

	info := &models.ErrorInfo{
		Kind:      models.ErrorKindTerminalService,
		Code:      models.ErrCodeGenerationFailed,
		Operation: op,
		Message:   err.Error(),
		CanSkip:   true,
	}
	var terminal *retry.TerminalError
	if errors.As(err, &terminal) {
		info.Attempts = terminal.Attempts
		return info
	}
	if retry.ClassifyError(err) == retry.Retryable {
		info.Kind = models.ErrorKindTransientService
		info.Retryable = true
	}
	return info
}

// missingPayloadInfo reports a successful reply that lacks the field the
// operation needs.
func missingPayloadInfo(op, field string) *models.ErrorInfo {
	return &models.ErrorInfo{
		Kind:      models.ErrorKindTransientService,
		Code:      models.ErrCodeGenerationFailed,
		Operation: op,
		Message:   "generation service response is missing " + field,
		Retryable: true,
		CanSkip:   true,
	}
}
