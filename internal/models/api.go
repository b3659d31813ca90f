package models

import (
	"time"
)

// ProjectRequest represents a project setup request
type ProjectRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// DomainRequest represents a domain description submission
type DomainRequest struct {
	Description string `json:"description"`
}

// DiagramRequestBody selects between a forced regeneration and a cached diagram.
type DiagramRequestBody struct {
	Force bool `json:"force"`
}

// StageRequest represents a navigation request
type StageRequest struct {
	Stage string `json:"stage" binding:"required"`
}

// EditRequest carries user edits. Nil fields are left untouched.
type EditRequest struct {
	Prompt          *string `json:"prompt,omitempty"`
	DomainAnalysis  *string `json:"domainAnalysis,omitempty"`
	BusinessContext *string `json:"businessContext,omitempty"`
}

// Empty reports whether the request edits nothing.
func (r EditRequest) Empty() bool {
	return r.Prompt == nil && r.DomainAnalysis == nil && r.BusinessContext == nil
}

// SecurityOptionsRequest represents a security specs generation request
type SecurityOptionsRequest struct {
	Options map[string]interface{} `json:"options"`
}

// TokenResponse represents an issued access token
type TokenResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse represents a health or readiness probe result
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
