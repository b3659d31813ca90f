package orchestration

import (
	"context"

	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/stage"
)

// GoToStage moves the workflow to target. Refused moves leave the state
// unchanged and set an error.
func (o *Orchestrator) GoToStage(ctx context.Context, target models.Stage) models.WorkflowState {
	ctx, span := o.tracer.Start(ctx, "orchestrator."+models.OpGoToStage)
	defer span.End()
	op := o.begin(ctx, models.OpGoToStage)

	o.mu.Lock()
	defer o.mu.Unlock()

	from := o.machine.Current()
	if err := o.machine.GoTo(target); err != nil {
		span.RecordError(err)
		return o.commitLocked(op, transitionErrorInfo(op.name, err))
	}
	if o.machine.Current() != from {
		o.nav++
		o.persist(op, o.store.Set(ctx, models.KeyCurrentStage, string(o.machine.Current())))
	}
	return o.commitLocked(op, nil)
}

// EditPrompt replaces the prompt.
func (o *Orchestrator) EditPrompt(ctx context.Context, prompt string) models.WorkflowState {
	op := o.begin(ctx, models.OpEdit)

	o.mu.Lock()
	defer o.mu.Unlock()

	o.state.Prompt = prompt
	o.persist(op, o.store.Set(ctx, models.KeyPrompt, prompt))
	o.evictStaleLocked(op)
	return o.commitLocked(op, nil)
}

// EditDomainAnalysis replaces the domain analysis text.
func (o *Orchestrator) EditDomainAnalysis(ctx context.Context, text string) models.WorkflowState {
	op := o.begin(ctx, models.OpEdit)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.AnalysisResult == nil {
		o.state.AnalysisResult = &models.AnalysisResult{}
	}
	o.state.AnalysisResult.DomainAnalysis = text
	o.persist(op, o.store.SetJSON(ctx, models.KeyAnalysisResult, o.state.AnalysisResult))
	o.evictStaleLocked(op)
	return o.commitLocked(op, nil)
}

// EditBusinessContext replaces the business context text.
func (o *Orchestrator) EditBusinessContext(ctx context.Context, text string) models.WorkflowState {
	op := o.begin(ctx, models.OpEdit)

	o.mu.Lock()
	defer o.mu.Unlock()

	o.setBusinessContextLocked(op, text)
	o.evictStaleLocked(op)
	return o.commitLocked(op, nil)
}

// ResetWorkflow clears every persisted key and returns to the initial stage.
// Responses to calls still in flight are discarded when they arrive.
func (o *Orchestrator) ResetWorkflow(ctx context.Context) models.WorkflowState {
	ctx, span := o.tracer.Start(ctx, "orchestrator."+models.OpReset)
	defer span.End()
	op := o.begin(ctx, models.OpReset)

	o.mu.Lock()
	defer o.mu.Unlock()

	o.persist(op, o.store.Clear(ctx))
	o.epoch++
	o.nav++
	o.diagramHash = nil
	o.state = o.initialState()
	if err := o.machine.Restore(stage.InitialStage(o.state.Project != nil)); err != nil {
		panic(err)
	}
	o.logger.Info("workflow reset", "stage", string(o.machine.Current()))
	return o.commitLocked(op, nil)
}
