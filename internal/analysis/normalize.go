// Package analysis reconciles the inconsistent analysis payloads returned by
// the generation service into models.AnalysisResult and decides whether a
// result carries anything worth committing.
package analysis

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/models"
)

// Field names as they appear on the wire.
const (
	FieldDomainAnalysis          = "domainAnalysis"
	FieldBusinessContextAnalysis = "businessContextAnalysis"
	FieldBoundedContextAnalysis  = "boundedContextAnalysis"
	FieldExtractedText           = "extractedText"
	FieldBody                    = "body"
	FieldSuccess                 = "success"
)

var (
	// ErrNilResult is returned when there is no result at all.
	ErrNilResult = errors.New("analysis result is missing")
	// ErrNoAnalyzableContent is returned when a result has none of the analyzable fields.
	ErrNoAnalyzableContent = errors.New("analysis result contains no domain analysis, business context, extracted text, body or success flag")
)

// Normalize decodes raw JSON into the canonical shape. It returns nil when raw
// is not a JSON object.
func Normalize(raw []byte) *models.AnalysisResult {
	if !gjson.ValidBytes(raw) {
		return nil
	}
	return NormalizeResult(gjson.ParseBytes(raw))
}

// NormalizeResult normalizes an already parsed value. Non-objects yield nil.
func NormalizeResult(obj gjson.Result) *models.AnalysisResult {
	if !obj.IsObject() {
		return nil
	}

	r := &models.AnalysisResult{}
	obj.ForEach(func(key, value gjson.Result) bool {
		switch key.String() {
		case FieldDomainAnalysis:
			r.DomainAnalysis = text(value)
		case FieldBusinessContextAnalysis:
			r.BusinessContextAnalysis = text(value)
		case FieldBoundedContextAnalysis:
			r.BoundedContextAnalysis = text(value)
		case FieldExtractedText:
			r.ExtractedText = text(value)
		case FieldBody:
			r.Body = text(value)
		case FieldSuccess:
			b := truthy(value)
			r.Success = &b
		default:
			if r.Extra == nil {
				r.Extra = make(map[string]json.RawMessage)
			}
			r.Extra[key.String()] = json.RawMessage(value.Raw)
		}
		return true
	})

	Reconcile(r)
	return r
}

// Reconcile mirrors whichever business context field is populated into the
// other. When both are populated businessContextAnalysis wins.
func Reconcile(r *models.AnalysisResult) {
	if r == nil {
		return
	}
	switch {
	case present(r.BusinessContextAnalysis):
		r.BoundedContextAnalysis = r.BusinessContextAnalysis
	case present(r.BoundedContextAnalysis):
		r.BusinessContextAnalysis = r.BoundedContextAnalysis
	}
}

// Validate accepts a result when any analyzable field is present and truthy.
func Validate(r *models.AnalysisResult) error {
	if r == nil {
		return ErrNilResult
	}
	if r.DomainAnalysis != "" ||
		r.BusinessContextAnalysis != "" ||
		r.BoundedContextAnalysis != "" ||
		r.ExtractedText != "" ||
		r.Body != "" ||
		(r.Success != nil && *r.Success) {
		return nil
	}
	return ErrNoAnalyzableContent
}

// text flattens a JSON value into text. Objects and arrays keep their JSON form.
func text(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.String:
		return v.String()
	default:
		return v.Raw
	}
}

func truthy(v gjson.Result) bool {
	switch v.Type {
	case gjson.True:
		return true
	case gjson.String:
		return v.String() != ""
	case gjson.Number:
		return v.Num != 0
	case gjson.JSON:
		return true
	default:
		return false
	}
}

func present(s string) bool {
	return strings.TrimSpace(s) != ""
}
