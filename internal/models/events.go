package models

import (
	"time"
)

// StateEvent is published to subscribers after every committed mutation.
type StateEvent struct {
	ID        string        `json:"id"`
	Scope     string        `json:"scope"`
	Operation string        `json:"operation"`
	Sequence  uint64        `json:"sequence"`
	State     WorkflowState `json:"state"`
	Timestamp time.Time     `json:"timestamp"`
}

// Operation names used in events, errors and metrics.
const (
	OpSetupProject     = "setup_project"
	OpSubmitDomain     = "submit_domain_description"
	OpAnalyzeImage     = "analyze_uploaded_image"
	OpGenerateContexts = "generate_bounded_contexts"
	OpGenerateDiagram  = "generate_ascii_diagram"
	OpGenerateOpenAPI  = "generate_openapi"
	OpGenerateSecurity = "generate_security_specs"
	OpInvalidate       = "invalidate_stale_artifacts"
	OpGoToStage        = "go_to_stage"
	OpEdit             = "edit"
	OpReset            = "reset_workflow"
	OpRehydrate        = "rehydrate"
)
