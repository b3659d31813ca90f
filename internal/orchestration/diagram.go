package orchestration

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/fingerprint"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/retry"
)

// TruncationMarker is appended to every section shortened before dispatch.
const TruncationMarker = "\n\n[... content truncated for diagram generation ...]"

var errNoDiagram = errors.New("generation service returned no diagram")

// diagramInputs is the fingerprint a cached diagram must match.
func (o *Orchestrator) diagramInputs() fingerprint.Hash {
	return fingerprint.Of(o.state.DomainAnalysis(), o.state.BusinessContext)
}

// GenerateASCIIDiagram renders the current analysis as an ASCII diagram
// under the retry policy and caches it against the fingerprint of its inputs.
func (o *Orchestrator) GenerateASCIIDiagram(ctx context.Context) models.WorkflowState {
	ctx, span := o.tracer.Start(ctx, "orchestrator."+models.OpGenerateDiagram)
	defer span.End()
	op := o.begin(ctx, models.OpGenerateDiagram)

	o.mu.Lock()
	if errInfo := o.requireStageLocked(op, models.StageDomainAnalysis, models.StageOpenAPIGeneration); errInfo != nil {
		defer o.mu.Unlock()
		return o.commitLocked(op, errInfo)
	}
	domainAnalysis, businessContext := o.state.DomainAnalysis(), o.state.BusinessContext
	if blank(domainAnalysis) && blank(businessContext) {
		defer o.mu.Unlock()
		return o.commitLocked(op, models.NewValidationError(op.name, errAnalysisRequired.Error()))
	}
	t := o.dispatchLocked(op, o.diagramInputs())
	o.mu.Unlock()

	base := buildDiagramRequest(domainAnalysis, businessContext, o.payloadLimit, o.sectionLimit)
	if base.Truncated {
		o.logger.Warn("diagram inputs truncated",
			"domain_analysis_chars", utf8.RuneCountInString(domainAnalysis),
			"business_context_chars", utf8.RuneCountInString(businessContext),
		)
	}

	attempt := func(ctx context.Context, st retry.State) (string, error) {
		req := base
		req.RetryCount = st.Attempt
		if st.LastError != nil {
			req.PreviousError = st.LastError.Error()
		}
		res, err := o.client.GenerateASCIIDiagram(ctx, req)
		if err != nil {
			return "", err
		}
		return res.Diagram, nil
	}
	classify := func(diagram string, err error) (retry.Verdict, error) {
		if err != nil {
			return retry.ClassifyError(err), err
		}
		if blank(diagram) {
			return retry.Retryable, errNoDiagram
		}
		return retry.Success, nil
	}
	observe := func(st retry.State, verdict retry.Verdict, reason error) {
		o.logger.Warn("diagram attempt failed",
			"attempt", st.Attempt+1,
			"verdict", verdict.String(),
			"error", reason,
		)
		if verdict == retry.Retryable && st.Attempt < o.policy.MaxAttempts {
			o.metrics.RecordRetry(ctx, op.name, st.Attempt+1)
		}
	}

	opts := append([]retry.Option{retry.WithObserver(observe)}, o.retryOpts...)
	diagram, err := retry.Do(ctx, o.policy, attempt, classify, opts...)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.settleLocked(op)

	if o.staleLocked(t, o.diagramInputs()) {
		return o.discardLocked(op)
	}
	if err != nil {
		span.RecordError(err)
		return o.commitLocked(op, serviceErrorInfo(op.name, err))
	}

	o.storeDiagramLocked(op, diagram, t.inputs)
	return o.commitLocked(op, nil)
}

// EnsureASCIIDiagram returns the cached diagram when it is still current and
// generates a new one otherwise.
func (o *Orchestrator) EnsureASCIIDiagram(ctx context.Context) models.WorkflowState {
	op := o.begin(ctx, models.OpGenerateDiagram)

	o.mu.Lock()
	o.evictStaleLocked(op)
	if o.state.ASCIIDiagram != "" {
		defer o.mu.Unlock()
		return o.commitLocked(op, nil)
	}
	o.mu.Unlock()

	return o.GenerateASCIIDiagram(ctx)
}

func (o *Orchestrator) storeDiagramLocked(op *operation, diagram string, inputs fingerprint.Hash) {
	o.state.ASCIIDiagram = diagram
	o.diagramHash = &inputs
	o.persist(op, o.store.Set(op.ctx, models.KeyASCIIDiagram, diagram))
	o.persist(op, o.store.Set(op.ctx, models.KeyASCIIDiagramHash, inputs.String()))
}

// InvalidateStaleArtifacts evicts the cached diagram if its inputs changed.
func (o *Orchestrator) InvalidateStaleArtifacts(ctx context.Context) models.WorkflowState {
	op := o.begin(ctx, models.OpInvalidate)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.evictStaleLocked(op)
	// The last operation's error stays visible and is not logged again.
	return o.commitLocked(op, o.state.Error)
}

// evictStaleLocked drops the diagram from memory and the store unless its
// fingerprint matches the current inputs. It reports whether it evicted.
func (o *Orchestrator) evictStaleLocked(op *operation) bool {
	if o.state.ASCIIDiagram == "" && o.diagramHash == nil {
		return false
	}
	if o.state.ASCIIDiagram != "" && o.diagramHash != nil && *o.diagramHash == o.diagramInputs() {
		return false
	}

	o.state.ASCIIDiagram = ""
	o.diagramHash = nil
	o.persist(op, o.store.Delete(op.ctx, models.KeyASCIIDiagram))
	o.persist(op, o.store.Delete(op.ctx, models.KeyASCIIDiagramHash))
	o.metrics.RecordEviction(op.ctx, models.KeyASCIIDiagram)
	o.logger.Info("stale diagram evicted", "operation", op.name)
	return true
}

// buildDiagramRequest prepares the diagram payload. When the combined input
// exceeds payloadLimit characters each part is cut to sectionLimit, which
// never exceeds half of payloadLimit.
func buildDiagramRequest(domainAnalysis, businessContext string, payloadLimit, sectionLimit int) models.DiagramRequest {
	req := models.DiagramRequest{
		DomainAnalysis:       domainAnalysis,
		BusinessContext:      businessContext,
		HasComprehensiveData: !blank(domainAnalysis) && !blank(businessContext),
	}
	switch {
	case req.HasComprehensiveData:
		req.DataSource = models.DataSourceCombined
	case !blank(domainAnalysis):
		req.DataSource = models.DataSourceDomainOnly
	default:
		req.DataSource = models.DataSourceBusinessOnly
	}

	total := utf8.RuneCountInString(domainAnalysis) + utf8.RuneCountInString(businessContext)
	if total <= payloadLimit {
		return req
	}

	if sectionLimit > payloadLimit/2 {
		sectionLimit = payloadLimit / 2
	}
	var cutDomain, cutBusiness bool
	req.DomainAnalysis, cutDomain = truncateAtBoundary(domainAnalysis, sectionLimit)
	req.BusinessContext, cutBusiness = truncateAtBoundary(businessContext, sectionLimit)
	req.Truncated = cutDomain || cutBusiness
	return req
}

// truncateAtBoundary shortens s to at most limit characters, preferring a
// paragraph break, then a line break, in the second half of the window.
func truncateAtBoundary(s string, limit int) (string, bool) {
	if utf8.RuneCountInString(s) <= limit {
		return s, false
	}

	window := string([]rune(s)[:limit])
	cut := len(window)
	if i := strings.LastIndex(window, "\n\n"); i > len(window)/2 {
		cut = i
	} else if i := strings.LastIndex(window, "\n"); i > len(window)/2 {
		cut = i
	}
	return strings.TrimRight(window[:cut], " \t\n") + TruncationMarker, true
}
