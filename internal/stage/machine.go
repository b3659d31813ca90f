// Package stage holds the current pipeline stage and enforces which moves
// between stages are legal.
package stage

import (
	"errors"
	"fmt"

	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/models"
)

var (
	// ErrUnknownStage is returned for targets outside the pipeline.
	ErrUnknownStage = errors.New("unknown stage")
	// ErrSkipAhead is returned for forward moves past the next stage.
	ErrSkipAhead = errors.New("forward transitions must go one stage at a time")
)

// TransitionError explains why a move was refused.
type TransitionError struct {
	From models.Stage
	To   models.Stage
	Err  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move from %s to %s: %v", e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// Guard vetoes a forward transition by returning an error.
type Guard func(from, to models.Stage) error

// Hook observes a completed transition.
type Hook func(from, to models.Stage)

type edge struct {
	from models.Stage
	to   models.Stage
}

// Machine is the stage state machine. It is not safe for concurrent use;
// the orchestrator serializes access.
type Machine struct {
	current models.Stage
	guards  map[edge]Guard
	onEnter map[models.Stage][]Hook
	onExit  map[models.Stage][]Hook
}

// InitialStage is ProjectSetup until a project identity exists, DomainInput after.
func InitialStage(hasProject bool) models.Stage {
	if hasProject {
		return models.StageDomainInput
	}
	return models.StageProjectSetup
}

// New creates a machine positioned at initial.
func New(initial models.Stage) *Machine {
	if !initial.Valid() {
		panic(fmt.Sprintf("stage: invalid initial stage %q", initial))
	}
	return &Machine{
		current: initial,
		guards:  make(map[edge]Guard),
		onEnter: make(map[models.Stage][]Hook),
		onExit:  make(map[models.Stage][]Hook),
	}
}

// Current returns the current stage.
func (m *Machine) Current() models.Stage { return m.current }

// Guard registers g for the forward edge from -> to.
func (m *Machine) Guard(from, to models.Stage, g Guard) {
	m.guards[edge{from, to}] = g
}

// OnEnter registers a hook run after s becomes current.
func (m *Machine) OnEnter(s models.Stage, h Hook) {
	m.onEnter[s] = append(m.onEnter[s], h)
}

// OnExit registers a hook run before s stops being current.
func (m *Machine) OnExit(s models.Stage, h Hook) {
	m.onExit[s] = append(m.onExit[s], h)
}

// Check reports whether moving to target is currently legal.
func (m *Machine) Check(target models.Stage) error {
	if !target.Valid() {
		return &TransitionError{From: m.current, To: target, Err: ErrUnknownStage}
	}
	from := m.current
	if target.Index() <= from.Index() {
		return nil
	}
	if target.Index() != from.Index()+1 {
		return &TransitionError{From: from, To: target, Err: ErrSkipAhead}
	}
	if g, ok := m.guards[edge{from, target}]; ok {
		if err := g(from, target); err != nil {
			return &TransitionError{From: from, To: target, Err: err}
		}
	}
	return nil
}

// GoTo moves to target. Backward moves are always allowed; forward moves
// advance one stage and must pass the edge guard.
func (m *Machine) GoTo(target models.Stage) error {
	if err := m.Check(target); err != nil {
		return err
	}
	from := m.current
	if from == target {
		return nil
	}
	for _, h := range m.onExit[from] {
		h(from, target)
	}
	m.current = target
	for _, h := range m.onEnter[target] {
		h(from, target)
	}
	return nil
}

// Restore positions the machine without guards or hooks, for rehydration.
func (m *Machine) Restore(s models.Stage) error {
	if !s.Valid() {
		return &TransitionError{From: m.current, To: s, Err: ErrUnknownStage}
	}
	m.current = s
	return nil
}
