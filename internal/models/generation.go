package models

// Wire payloads sent to the generation service. Responses are decoded by the
// generation client into typed results at the service boundary.

// GenerateRequest is the body of POST /generate and POST /generate-openapi.
type GenerateRequest struct {
	Prompt string `json:"prompt"`
}

// BoundedContextsRequest is the body of POST /generate-bounded-contexts.
type BoundedContextsRequest struct {
	DomainAnalysis string `json:"domainAnalysis"`
}

// ImagePayload describes an uploaded image with base64 encoded data.
type ImagePayload struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int    `json:"size"`
	Data string `json:"data"`
}

// ImageAnalysisRequest is the body of POST /analyze-image.
type ImageAnalysisRequest struct {
	Image        ImagePayload `json:"image"`
	AnalysisType string       `json:"analysisType"`
}

// AnalysisTypeFull requests entity extraction plus domain and business analysis.
const AnalysisTypeFull = "full"

// DiagramRequest is the body of POST /generate-ascii-diagram.
type DiagramRequest struct {
	DomainAnalysis       string `json:"domainAnalysis"`
	BusinessContext      string `json:"businessContext"`
	HasComprehensiveData bool   `json:"hasComprehensiveData"`
	DataSource           string `json:"dataSource"`
	RetryCount           int    `json:"retryCount"`
	PreviousError        string `json:"previousError,omitempty"`
	Truncated            bool   `json:"truncated"`
}

// Diagram data sources.
const (
	DataSourceCombined     = "domain_analysis_and_business_context"
	DataSourceDomainOnly   = "domain_analysis"
	DataSourceBusinessOnly = "business_context"
)

// SecurityRequest is the body of POST /generate-security.
type SecurityRequest struct {
	SpecID  string                 `json:"specId"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// Image is an image uploaded by the user before encoding.
type Image struct {
	Name string
	Type string
	Data []byte
}
