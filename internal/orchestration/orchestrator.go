// Package orchestration drives the five-stage domain-to-OpenAPI workflow for
// one user scope: it calls the generation service, normalizes what comes
// back, moves the stage machine, writes state through to the store and
// evicts derived artifacts whose inputs changed.
package orchestration

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/fingerprint"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/generation"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/metrics"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/retry"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/stage"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/store"
)

// Diagram payload defaults, in characters.
const (
	DefaultDiagramPayloadLimit = 50000
	DefaultDiagramSectionLimit = 20000
)

// Orchestrator owns the WorkflowState of one scope. Public operations are
// safe for concurrent use and never return errors: failures land in the
// Error field of the returned snapshot.
type Orchestrator struct {
	mu sync.Mutex

	client  generation.Client
	store   *store.Scoped
	machine *stage.Machine
	state   models.WorkflowState
	// diagramHash is the CacheEntry fingerprint of state.ASCIIDiagram.
	diagramHash *fingerprint.Hash

	presetProject *models.ProjectInfo

	// epoch changes on reset; nav changes whenever the user moves between stages.
	epoch    uint64
	nav      uint64
	sequence uint64
	pending  map[string]int

	subscribers map[string]chan models.StateEvent

	policy       retry.Policy
	payloadLimit int
	sectionLimit int
	retryOpts    []retry.Option

	logger  *slog.Logger
	metrics *metrics.GenerationMetrics
	tracer  trace.Tracer
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics records workflow metrics.
func WithMetrics(m *metrics.GenerationMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithRetryPolicy overrides the diagram retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithRetryOptions passes options to the retry controller, e.g. retry.WithSleep in tests.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(o *Orchestrator) { o.retryOpts = append(o.retryOpts, opts...) }
}

// WithDiagramLimits overrides the truncation thresholds of diagram payloads.
func WithDiagramLimits(payload, section int) Option {
	return func(o *Orchestrator) {
		o.payloadLimit = payload
		o.sectionLimit = section
	}
}

// WithProjectIdentity presets the project, so the workflow starts at DomainInput.
func WithProjectIdentity(p models.ProjectInfo) Option {
	return func(o *Orchestrator) {
		o.presetProject = &p
	}
}

// New creates an orchestrator for the scope of st. Call Rehydrate to load
// previously persisted state.
func New(client generation.Client, st *store.Scoped, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:       client,
		store:        st,
		pending:      make(map[string]int),
		subscribers:  make(map[string]chan models.StateEvent),
		policy:       retry.DefaultPolicy(),
		payloadLimit: DefaultDiagramPayloadLimit,
		sectionLimit: DefaultDiagramSectionLimit,
		logger:       slog.Default(),
		tracer:       otel.Tracer("workflow-orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("scope", st.Scope())

	o.state = o.initialState()
	o.machine = stage.New(o.state.Stage)
	o.registerGuards()
	return o
}

func (o *Orchestrator) initialState() models.WorkflowState {
	s := models.WorkflowState{}
	if o.presetProject != nil {
		p := *o.presetProject
		s.Project = &p
	}
	s.Stage = stage.InitialStage(s.Project != nil)
	return s
}

func (o *Orchestrator) registerGuards() {
	o.machine.Guard(models.StageProjectSetup, models.StageDomainInput, func(from, to models.Stage) error {
		if o.state.Project == nil {
			return errProjectRequired
		}
		return nil
	})
	o.machine.Guard(models.StageDomainInput, models.StageDomainAnalysis, func(from, to models.Stage) error {
		return analysisGuard(o.state.AnalysisResult)
	})
	o.machine.Guard(models.StageDomainAnalysis, models.StageOpenAPIGeneration, func(from, to models.Stage) error {
		if blank(o.state.DomainAnalysis()) && blank(o.state.BusinessContext) {
			return errAnalysisRequired
		}
		return nil
	})
	o.machine.Guard(models.StageOpenAPIGeneration, models.StageSecuritySpecs, func(from, to models.Stage) error {
		if o.state.SpecID == "" {
			return errSpecRequired
		}
		return nil
	})

	for _, s := range models.Stages {
		o.machine.OnEnter(s, func(from, to models.Stage) {
			o.state.Stage = to
			o.logger.Info("stage entered", "from", string(from), "to", string(to))
		})
	}
}

// Scope returns the store scope of this orchestrator.
func (o *Orchestrator) Scope() string { return o.store.Scope() }

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() models.WorkflowState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() models.WorkflowState {
	o.state.Stage = o.machine.Current()
	o.state.Pending = o.pendingLocked()
	return o.state.Clone()
}

// Subscribe registers for a StateEvent after every committed operation.
// Slow subscribers miss events rather than block the workflow.
func (o *Orchestrator) Subscribe(buffer int) (<-chan models.StateEvent, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := uuid.New().String()
	ch := make(chan models.StateEvent, buffer)
	o.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			delete(o.subscribers, id)
			close(ch)
		})
	}
}

// operation carries per-call bookkeeping of one public operation.
type operation struct {
	name     string
	ctx      context.Context
	warnings []string
}

func (o *Orchestrator) begin(ctx context.Context, name string) *operation {
	return &operation{name: name, ctx: ctx}
}

// persist records a non-fatal store failure.
func (o *Orchestrator) persist(op *operation, err error) {
	if err == nil {
		return
	}
	op.warnings = append(op.warnings, err.Error())
	kind := "write"
	if perr, ok := err.(*store.PersistenceError); ok {
		kind = perr.Op
	}
	o.metrics.RecordPersistenceWarning(op.ctx, kind)
}

// commitLocked finishes an operation: it records errInfo, publishes the
// new state and returns a snapshot.
func (o *Orchestrator) commitLocked(op *operation, errInfo *models.ErrorInfo) models.WorkflowState {
	carried := errInfo != nil && errInfo == o.state.Error
	o.state.Error = errInfo
	o.state.Warnings = op.warnings
	if errInfo != nil && !carried {
		switch errInfo.Kind {
		case models.ErrorKindValidation:
			o.logger.Info("operation rejected", "operation", op.name, "error", errInfo.Message)
		default:
			o.logger.Error("operation failed",
				"operation", op.name,
				"kind", string(errInfo.Kind),
				"attempts", errInfo.Attempts,
				"error", errInfo.Message,
			)
		}
	}

	snap := o.snapshotLocked()
	o.publishLocked(op.name, snap)
	return snap
}

func (o *Orchestrator) publishLocked(operation string, snap models.WorkflowState) {
	o.sequence++
	if len(o.subscribers) == 0 {
		return
	}
	event := models.StateEvent{
		ID:        uuid.New().String(),
		Scope:     o.store.Scope(),
		Operation: operation,
		Sequence:  o.sequence,
		State:     snap,
		Timestamp: time.Now().UTC(),
	}
	for id, ch := range o.subscribers {
		ev := event
		ev.State = snap.Clone()
		select {
		case ch <- ev:
		default:
			o.logger.Warn("subscriber lagging, event dropped", "subscriber", id, "sequence", o.sequence)
		}
	}
}

// ticket tags an outgoing call with what it was computed from.
type ticket struct {
	epoch  uint64
	nav    uint64
	inputs fingerprint.Hash
}

// dispatchLocked marks op as in flight and issues its ticket.
func (o *Orchestrator) dispatchLocked(op *operation, inputs fingerprint.Hash) ticket {
	o.pending[op.name]++
	o.state.Error = nil
	return ticket{epoch: o.epoch, nav: o.nav, inputs: inputs}
}

// settleLocked marks op as no longer in flight.
func (o *Orchestrator) settleLocked(op *operation) {
	if o.pending[op.name] <= 1 {
		delete(o.pending, op.name)
		return
	}
	o.pending[op.name]--
}

// staleLocked reports whether a response computed for t no longer applies.
func (o *Orchestrator) staleLocked(t ticket, current fingerprint.Hash) bool {
	return t.epoch != o.epoch || t.inputs != current
}

// discardLocked drops a stale response.
func (o *Orchestrator) discardLocked(op *operation) models.WorkflowState {
	o.metrics.RecordStaleDiscard(op.ctx, op.name)
	o.logger.Warn("discarding response for inputs that changed in flight", "operation", op.name)
	snap := o.snapshotLocked()
	o.publishLocked(op.name, snap)
	return snap
}

// advanceLocked moves to target unless the user navigated since t was issued.
func (o *Orchestrator) advanceLocked(op *operation, t ticket, target models.Stage) *models.ErrorInfo {
	if t.nav != o.nav {
		o.logger.Info("user navigated during call, stage left unchanged",
			"operation", op.name,
			"stage", string(o.machine.Current()),
		)
		return nil
	}
	if err := o.machine.GoTo(target); err != nil {
		return transitionErrorInfo(op.name, err)
	}
	o.persist(op, o.store.Set(op.ctx, models.KeyCurrentStage, string(o.machine.Current())))
	return nil
}

func (o *Orchestrator) pendingLocked() []string {
	if len(o.pending) == 0 {
		return nil
	}
	names := make([]string, 0, len(o.pending))
	for name := range o.pending {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// requireStageLocked rejects operations that are not legal in the current stage.
func (o *Orchestrator) requireStageLocked(op *operation, allowed ...models.Stage) *models.ErrorInfo {
	current := o.machine.Current()
	for _, s := range allowed {
		if s == current {
			return nil
		}
	}
	return &models.ErrorInfo{
		Kind:      models.ErrorKindValidation,
		Code:      models.ErrCodeIllegalTransition,
		Operation: op.name,
		Message:   op.name + " is not available in stage " + string(current),
	}
}
