package orchestration

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/analysis"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/fingerprint"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/stage"
)

var errNotObject = errors.New("value is not a JSON object")

// Rehydrate rebuilds the state from the store without calling the
// generation service. Unusable values are removed from the store.
func (o *Orchestrator) Rehydrate(ctx context.Context) models.WorkflowState {
	ctx, span := o.tracer.Start(ctx, "orchestrator."+models.OpRehydrate)
	defer span.End()
	op := o.begin(ctx, models.OpRehydrate)

	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.initialState()
	st := o.store

	if v, ok := st.Get(ctx, models.KeyPrompt); ok {
		s.Prompt = v
	}
	if v, ok := st.Get(ctx, models.KeySpecID); ok {
		s.SpecID = v
	}
	if v, ok := st.Get(ctx, models.KeySpecContent); ok {
		s.SpecContent = v
	}

	var project models.ProjectInfo
	if st.GetParsed(ctx, models.KeyProject, func(raw string) error {
		if err := json.Unmarshal([]byte(raw), &project); err != nil {
			return err
		}
		if blank(project.Name) {
			return errors.New("project name is empty")
		}
		return nil
	}) {
		s.Project = &project
	}

	var image models.UploadedImage
	if st.GetJSON(ctx, models.KeyUploadedImage, &image) {
		s.UploadedImage = &image
	}

	st.GetParsed(ctx, models.KeyAnalysisResult, func(raw string) error {
		r := analysis.Normalize([]byte(raw))
		if r == nil {
			return errNotObject
		}
		if err := analysis.Validate(r); err != nil {
			return err
		}
		s.AnalysisResult = r
		return nil
	})

	if v, ok := st.Get(ctx, models.KeyBusinessContexts); ok && !blank(v) {
		s.BusinessContext = v
	} else {
		s.BusinessContext = s.AnalysisResult.BusinessContext()
	}

	st.GetParsed(ctx, models.KeySecuritySpecs, func(raw string) error {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			return err
		}
		s.SecuritySpecs = json.RawMessage(raw)
		return nil
	})

	var hash *fingerprint.Hash
	if diagram, ok := st.Get(ctx, models.KeyASCIIDiagram); ok {
		s.ASCIIDiagram = diagram
		st.GetParsed(ctx, models.KeyASCIIDiagramHash, func(raw string) error {
			h, err := fingerprint.Parse(raw)
			if err != nil {
				return err
			}
			hash = &h
			return nil
		})
	}

	restored := stage.InitialStage(s.Project != nil)
	st.GetParsed(ctx, models.KeyCurrentStage, func(raw string) error {
		parsed, err := models.ParseStage(raw)
		if err != nil {
			return err
		}
		restored = parsed
		return nil
	})
	restored = reachableStage(restored, &s)

	o.state = s
	o.diagramHash = hash
	o.epoch++
	o.nav++
	if err := o.machine.Restore(restored); err != nil {
		panic(err)
	}

	// Also drops a diagram whose fingerprint was missing or unreadable.
	o.evictStaleLocked(op)

	o.logger.Info("workflow rehydrated",
		"stage", string(o.machine.Current()),
		"has_analysis", o.state.AnalysisResult != nil,
		"has_diagram", o.state.ASCIIDiagram != "",
	)
	return o.commitLocked(op, nil)
}

// reachableStage lowers a persisted stage until the data it depends on is present.
func reachableStage(s models.Stage, state *models.WorkflowState) models.Stage {
	for s.Index() > models.StageDomainInput.Index() {
		var ok bool
		switch s {
		case models.StageDomainAnalysis:
			ok = analysisGuard(state.AnalysisResult) == nil
		case models.StageOpenAPIGeneration:
			ok = !blank(state.DomainAnalysis()) || !blank(state.BusinessContext)
		case models.StageSecuritySpecs:
			ok = state.SpecID != ""
		}
		if ok {
			return s
		}
		s = models.Stages[s.Index()-1]
	}
	return s
}
