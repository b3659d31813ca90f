package models

import (
	"encoding/json"

	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/fingerprint"
)

// AnalysisResult is the canonical shape of a domain analysis returned by the
// generation service. BusinessContextAnalysis and BoundedContextAnalysis are
// kept synonymous after normalization.
type AnalysisResult struct {
	DomainAnalysis          string `json:"domainAnalysis,omitempty"`
	BusinessContextAnalysis string `json:"businessContextAnalysis,omitempty"`
	BoundedContextAnalysis  string `json:"boundedContextAnalysis,omitempty"`
	ExtractedText           string `json:"extractedText,omitempty"`
	Body                    string `json:"body,omitempty"`
	Success                 *bool  `json:"success,omitempty"`
	// Extra holds fields the canonical shape does not name, copied verbatim.
	Extra map[string]json.RawMessage `json:"-"`
}

// MarshalJSON writes Extra fields next to the canonical ones so a persisted
// result normalizes back to the same value.
func (r AnalysisResult) MarshalJSON() ([]byte, error) {
	type canonical AnalysisResult
	base, err := json.Marshal(canonical(r))
	if err != nil || len(r.Extra) == 0 {
		return base, err
	}
	merged := make(map[string]json.RawMessage, len(r.Extra)+6)
	for k, v := range r.Extra {
		merged[k] = v
	}
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	return json.Marshal(merged)
}

// BusinessContext returns whichever business context field is populated.
func (r *AnalysisResult) BusinessContext() string {
	if r == nil {
		return ""
	}
	if r.BusinessContextAnalysis != "" {
		return r.BusinessContextAnalysis
	}
	return r.BoundedContextAnalysis
}

// SetBusinessContext writes the same value into both synonymous fields.
func (r *AnalysisResult) SetBusinessContext(value string) {
	r.BusinessContextAnalysis = value
	r.BoundedContextAnalysis = value
}

// Clone returns a deep copy.
func (r *AnalysisResult) Clone() *AnalysisResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.Success != nil {
		v := *r.Success
		c.Success = &v
	}
	if r.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(r.Extra))
		for k, v := range r.Extra {
			c.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &c
}

// ProjectInfo is the project identity established during ProjectSetup.
type ProjectInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// UploadedImage records which image produced the current analysis.
type UploadedImage struct {
	Name     string `json:"name"`
	HasImage bool   `json:"hasImage"`
}

// CacheEntry is a derived artifact tagged with the fingerprint of its inputs.
type CacheEntry struct {
	Content          string           `json:"content"`
	InputFingerprint fingerprint.Hash `json:"inputFingerprint"`
}

// ValidFor reports whether the entry was computed from inputs with fingerprint h.
func (c *CacheEntry) ValidFor(h fingerprint.Hash) bool {
	return c != nil && c.InputFingerprint == h
}

// WorkflowState is the complete state of one generation workflow.
type WorkflowState struct {
	Stage           Stage           `json:"stage"`
	Project         *ProjectInfo    `json:"project,omitempty"`
	Prompt          string          `json:"prompt"`
	SpecID          string          `json:"specId,omitempty"`
	SpecContent     string          `json:"specContent,omitempty"`
	AnalysisResult  *AnalysisResult `json:"analysisResult,omitempty"`
	BusinessContext string          `json:"businessContext,omitempty"`
	ASCIIDiagram    string          `json:"asciiDiagram,omitempty"`
	SecuritySpecs   json.RawMessage `json:"securitySpecs,omitempty"`
	UploadedImage   *UploadedImage  `json:"uploadedImage,omitempty"`

	Error    *ErrorInfo `json:"error,omitempty"`
	Warnings []string   `json:"warnings,omitempty"`
	// Pending lists operations whose generation calls are still in flight.
	Pending  []string   `json:"pending,omitempty"`
}

// DomainAnalysis returns the domain analysis text, or "".
func (s *WorkflowState) DomainAnalysis() string {
	if s.AnalysisResult == nil {
		return ""
	}
	return s.AnalysisResult.DomainAnalysis
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s WorkflowState) Clone() WorkflowState {
	c := s
	c.AnalysisResult = s.AnalysisResult.Clone()
	if s.Project != nil {
		p := *s.Project
		c.Project = &p
	}
	if s.UploadedImage != nil {
		u := *s.UploadedImage
		c.UploadedImage = &u
	}
	if s.Error != nil {
		e := *s.Error
		c.Error = &e
	}
	if s.SecuritySpecs != nil {
		c.SecuritySpecs = append(json.RawMessage(nil), s.SecuritySpecs...)
	}
	c.Warnings = append([]string(nil), s.Warnings...)
	c.Pending = append([]string(nil), s.Pending...)
	return c
}
