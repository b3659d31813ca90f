package orchestration

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/analysis"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/fingerprint"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/generation"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/models"
)

// MaxImageBytes is the largest image accepted for analysis.
const MaxImageBytes = 10 << 20

var allowedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// SetupProject establishes the project identity and leaves ProjectSetup.
func (o *Orchestrator) SetupProject(ctx context.Context, name, description string) models.WorkflowState {
	ctx, span := o.tracer.Start(ctx, "orchestrator."+models.OpSetupProject)
	defer span.End()
	op := o.begin(ctx, models.OpSetupProject)

	o.mu.Lock()
	defer o.mu.Unlock()

	name = strings.TrimSpace(name)
	if name == "" {
		return o.commitLocked(op, models.NewValidationError(op.name, "project name must not be empty"))
	}

	o.state.Project = &models.ProjectInfo{Name: name, Description: strings.TrimSpace(description)}
	o.persist(op, o.store.SetJSON(ctx, models.KeyProject, o.state.Project))

	if o.machine.Current() == models.StageProjectSetup {
		o.nav++
		if err := o.machine.GoTo(models.StageDomainInput); err != nil {
			return o.commitLocked(op, transitionErrorInfo(op.name, err))
		}
		o.persist(op, o.store.Set(ctx, models.KeyCurrentStage, string(o.machine.Current())))
	}
	return o.commitLocked(op, nil)
}

// SubmitDomainDescription analyzes a free-text domain description. When the
// analysis carries no business context one is generated in a chained call.
// On success the workflow advances to DomainAnalysis.
func (o *Orchestrator) SubmitDomainDescription(ctx context.Context, description string) models.WorkflowState {
	ctx, span := o.tracer.Start(ctx, "orchestrator."+models.OpSubmitDomain)
	defer span.End()
	op := o.begin(ctx, models.OpSubmitDomain)

	description = strings.TrimSpace(description)
	inputs := func() fingerprint.Hash { return fingerprint.Of(o.state.Prompt) }

	o.mu.Lock()
	if errInfo := o.requireStageLocked(op, models.StageDomainInput, models.StageDomainAnalysis); errInfo != nil {
		defer o.mu.Unlock()
		return o.commitLocked(op, errInfo)
	}
	if description == "" {
		defer o.mu.Unlock()
		return o.commitLocked(op, models.NewValidationError(op.name, "domain description must not be empty"))
	}
	o.state.Prompt = description
	o.state.UploadedImage = nil
	o.persist(op, o.store.Set(ctx, models.KeyPrompt, description))
	o.persist(op, o.store.Set(ctx, models.KeyDomainDescription, description))
	o.persist(op, o.store.Delete(ctx, models.KeyUploadedImage))
	t := o.dispatchLocked(op, inputs())
	o.mu.Unlock()

	res, err := o.client.Generate(ctx, description)
	var result *models.AnalysisResult
	if err == nil {
		result = res.Analysis
	}
	chainErr := o.chainBusinessContext(ctx, t, inputs, result)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.settleLocked(op)

	if o.staleLocked(t, inputs()) {
		return o.discardLocked(op)
	}
	if err != nil {
		span.RecordError(err)
		return o.commitLocked(op, serviceErrorInfo(op.name, err))
	}
	if verr := analysis.Validate(result); verr != nil {
		return o.commitLocked(op, models.NewValidationError(op.name, verr.Error()))
	}

	o.applyAnalysisLocked(op, result, res.SpecID)
	errInfo := o.advanceLocked(op, t, models.StageDomainAnalysis)
	if errInfo == nil && chainErr != nil {
		errInfo = serviceErrorInfo(models.OpGenerateContexts, chainErr)
	}
	return o.commitLocked(op, errInfo)
}

// AnalyzeUploadedImage extracts a domain model from an image. The extracted
// text becomes the authoritative prompt.
func (o *Orchestrator) AnalyzeUploadedImage(ctx context.Context, img models.Image) models.WorkflowState {
	ctx, span := o.tracer.Start(ctx, "orchestrator."+models.OpAnalyzeImage)
	defer span.End()
	op := o.begin(ctx, models.OpAnalyzeImage)

	inputs := func() fingerprint.Hash {
		name := ""
		if o.state.UploadedImage != nil {
			name = o.state.UploadedImage.Name
		}
		return fingerprint.Of(o.state.Prompt, name)
	}

	o.mu.Lock()
	if errInfo := o.requireStageLocked(op, models.StageDomainInput, models.StageDomainAnalysis); errInfo != nil {
		defer o.mu.Unlock()
		return o.commitLocked(op, errInfo)
	}
	contentType, msg := validateImage(img)
	if msg != "" {
		defer o.mu.Unlock()
		return o.commitLocked(op, models.NewValidationError(op.name, msg))
	}
	o.state.UploadedImage = &models.UploadedImage{Name: img.Name, HasImage: true}
	o.persist(op, o.store.SetJSON(ctx, models.KeyUploadedImage, o.state.UploadedImage))
	t := o.dispatchLocked(op, inputs())
	o.mu.Unlock()

	res, err := o.client.AnalyzeImage(ctx, models.ImageAnalysisRequest{
		Image: models.ImagePayload{
			Name: img.Name,
			Type: contentType,
			Size: len(img.Data),
			Data: base64.StdEncoding.EncodeToString(img.Data),
		},
		AnalysisType: models.AnalysisTypeFull,
	})
	var result *models.AnalysisResult
	if err == nil {
		result = res.Analysis
	}
	chainErr := o.chainBusinessContext(ctx, t, inputs, result)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.settleLocked(op)

	if o.staleLocked(t, inputs()) {
		return o.discardLocked(op)
	}
	if err != nil {
		span.RecordError(err)
		return o.commitLocked(op, serviceErrorInfo(op.name, err))
	}
	if verr := analysis.Validate(result); verr != nil {
		return o.commitLocked(op, models.NewValidationError(op.name, verr.Error()))
	}

	prompt := analysis.BuildImagePrompt(result)
	o.state.Prompt = prompt
	o.persist(op, o.store.Set(ctx, models.KeyPrompt, prompt))
	o.applyAnalysisLocked(op, result, "")

	errInfo := o.advanceLocked(op, t, models.StageDomainAnalysis)
	if errInfo == nil && chainErr != nil {
		errInfo = serviceErrorInfo(models.OpGenerateContexts, chainErr)
	}
	return o.commitLocked(op, errInfo)
}

// GenerateBoundedContexts regenerates business context from the current
// domain analysis, replacing any previous value.
func (o *Orchestrator) GenerateBoundedContexts(ctx context.Context) models.WorkflowState {
	ctx, span := o.tracer.Start(ctx, "orchestrator."+models.OpGenerateContexts)
	defer span.End()
	op := o.begin(ctx, models.OpGenerateContexts)

	inputs := func() fingerprint.Hash { return fingerprint.Of(o.state.DomainAnalysis()) }

	o.mu.Lock()
	if errInfo := o.requireStageLocked(op, models.StageDomainAnalysis, models.StageOpenAPIGeneration); errInfo != nil {
		defer o.mu.Unlock()
		return o.commitLocked(op, errInfo)
	}
	domainAnalysis := o.state.DomainAnalysis()
	if blank(domainAnalysis) {
		defer o.mu.Unlock()
		return o.commitLocked(op, models.NewValidationError(op.name, "domain analysis is required to generate business context"))
	}
	t := o.dispatchLocked(op, inputs())
	o.mu.Unlock()

	res, err := o.client.GenerateBoundedContexts(ctx, domainAnalysis)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.settleLocked(op)

	if o.staleLocked(t, inputs()) {
		return o.discardLocked(op)
	}
	if err != nil {
		span.RecordError(err)
		return o.commitLocked(op, serviceErrorInfo(op.name, err))
	}
	if blank(res.BusinessContext) {
		return o.commitLocked(op, missingPayloadInfo(op.name, "business context"))
	}

	o.setBusinessContextLocked(op, res.BusinessContext)
	o.evictStaleLocked(op)
	return o.commitLocked(op, nil)
}

// GenerateOpenAPISpec produces the OpenAPI document from the prompt and analysis.
func (o *Orchestrator) GenerateOpenAPISpec(ctx context.Context) models.WorkflowState {
	ctx, span := o.tracer.Start(ctx, "orchestrator."+models.OpGenerateOpenAPI)
	defer span.End()
	op := o.begin(ctx, models.OpGenerateOpenAPI)

	inputs := func() fingerprint.Hash {
		return fingerprint.Of(o.state.Prompt, o.state.DomainAnalysis(), o.state.BusinessContext)
	}

	o.mu.Lock()
	if errInfo := o.requireStageLocked(op, models.StageOpenAPIGeneration, models.StageSecuritySpecs); errInfo != nil {
		defer o.mu.Unlock()
		return o.commitLocked(op, errInfo)
	}
	if blank(o.state.DomainAnalysis()) && blank(o.state.BusinessContext) {
		defer o.mu.Unlock()
		return o.commitLocked(op, models.NewValidationError(op.name, errAnalysisRequired.Error()))
	}
	prompt := buildOpenAPIPrompt(o.state.Prompt, o.state.DomainAnalysis(), o.state.BusinessContext)
	t := o.dispatchLocked(op, inputs())
	o.mu.Unlock()

	res, err := o.client.GenerateOpenAPI(ctx, prompt)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.settleLocked(op)

	if o.staleLocked(t, inputs()) {
		return o.discardLocked(op)
	}
	if err != nil {
		span.RecordError(err)
		return o.commitLocked(op, serviceErrorInfo(op.name, err))
	}
	if res.SpecID == "" {
		return o.commitLocked(op, missingPayloadInfo(op.name, "specId"))
	}

	o.state.SpecID = res.SpecID
	o.state.SpecContent = res.Content
	o.persist(op, o.store.Set(ctx, models.KeySpecID, res.SpecID))
	o.persist(op, o.store.Set(ctx, models.KeySpecContent, res.Content))
	return o.commitLocked(op, nil)
}

// GenerateSecuritySpecs produces security specifications for the current spec id.
func (o *Orchestrator) GenerateSecuritySpecs(ctx context.Context, options map[string]interface{}) models.WorkflowState {
	ctx, span := o.tracer.Start(ctx, "orchestrator."+models.OpGenerateSecurity)
	defer span.End()
	op := o.begin(ctx, models.OpGenerateSecurity)

	inputs := func() fingerprint.Hash { return fingerprint.Of(o.state.SpecID) }

	o.mu.Lock()
	if errInfo := o.requireStageLocked(op, models.StageSecuritySpecs); errInfo != nil {
		defer o.mu.Unlock()
		return o.commitLocked(op, errInfo)
	}
	specID := o.state.SpecID
	if specID == "" {
		defer o.mu.Unlock()
		return o.commitLocked(op, models.NewValidationError(op.name, errSpecRequired.Error()))
	}
	t := o.dispatchLocked(op, inputs())
	o.mu.Unlock()

	specs, err := o.client.GenerateSecurity(ctx, models.SecurityRequest{SpecID: specID, Options: options})

	o.mu.Lock()
	defer o.mu.Unlock()
	o.settleLocked(op)

	if o.staleLocked(t, inputs()) {
		return o.discardLocked(op)
	}
	if err != nil {
		span.RecordError(err)
		return o.commitLocked(op, serviceErrorInfo(op.name, err))
	}
	if len(specs) == 0 {
		return o.commitLocked(op, missingPayloadInfo(op.name, "security specifications"))
	}

	o.state.SecuritySpecs = specs
	o.persist(op, o.store.Set(ctx, models.KeySecuritySpecs, string(specs)))
	return o.commitLocked(op, nil)
}

// chainBusinessContext fills in business context for a valid analysis that
// has domain analysis but none of its own. It mutates r.
func (o *Orchestrator) chainBusinessContext(ctx context.Context, t ticket, inputs func() fingerprint.Hash, r *models.AnalysisResult) error {
	if analysis.Validate(r) != nil || blank(r.DomainAnalysis) || !blank(r.BusinessContext()) {
		return nil
	}

	o.mu.Lock()
	stale := o.staleLocked(t, inputs())
	o.mu.Unlock()
	if stale {
		return nil
	}

	res, err := o.client.GenerateBoundedContexts(ctx, r.DomainAnalysis)
	if err != nil {
		o.logger.Warn("chained business context generation failed", "error", err)
		return err
	}
	if blank(res.BusinessContext) {
		return generation.NewServiceError(generation.PathGenerateBoundedContexts, "response is missing business context", true)
	}
	r.SetBusinessContext(res.BusinessContext)
	return nil
}

// applyAnalysisLocked commits a validated analysis and its business context.
func (o *Orchestrator) applyAnalysisLocked(op *operation, r *models.AnalysisResult, specID string) {
	o.state.AnalysisResult = r
	o.state.BusinessContext = r.BusinessContext()
	o.persist(op, o.store.SetJSON(op.ctx, models.KeyAnalysisResult, r))
	o.persistBusinessContextLocked(op)

	if specID != "" {
		o.state.SpecID = specID
		o.persist(op, o.store.Set(op.ctx, models.KeySpecID, specID))
	}
	o.evictStaleLocked(op)
}

func (o *Orchestrator) setBusinessContextLocked(op *operation, value string) {
	if o.state.AnalysisResult == nil {
		o.state.AnalysisResult = &models.AnalysisResult{}
	}
	o.state.AnalysisResult.SetBusinessContext(value)
	o.state.BusinessContext = value
	o.persist(op, o.store.SetJSON(op.ctx, models.KeyAnalysisResult, o.state.AnalysisResult))
	o.persistBusinessContextLocked(op)
}

func (o *Orchestrator) persistBusinessContextLocked(op *operation) {
	if o.state.BusinessContext == "" {
		o.persist(op, o.store.Delete(op.ctx, models.KeyBusinessContexts))
		return
	}
	o.persist(op, o.store.Set(op.ctx, models.KeyBusinessContexts, o.state.BusinessContext))
}

// validateImage returns the content type to send, or a validation message.
func validateImage(img models.Image) (string, string) {
	if len(img.Data) == 0 {
		return "", "image is empty"
	}
	if len(img.Data) > MaxImageBytes {
		return "", "image exceeds the 10 MiB limit"
	}
	contentType := strings.ToLower(strings.TrimSpace(img.Type))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(img.Data)
	}
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if !allowedImageTypes[contentType] {
		return "", "unsupported image type " + contentType + "; use PNG, JPEG, GIF or WebP"
	}
	return contentType, ""
}

func buildOpenAPIPrompt(prompt, domainAnalysis, businessContext string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(prompt))
	if !blank(domainAnalysis) {
		b.WriteString("\n\n## Domain Analysis\n")
		b.WriteString(strings.TrimSpace(domainAnalysis))
	}
	if !blank(businessContext) {
		b.WriteString("\n\n## Business Context\n")
		b.WriteString(strings.TrimSpace(businessContext))
	}
	return strings.TrimSpace(b.String())
}
