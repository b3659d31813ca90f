package orchestration

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/generation"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/store"
)

// Registry hands out one Orchestrator per scope, rehydrated on first use.
// Rehydration of one scope does not block lookups of other scopes.
type Registry struct {
	mu      sync.Mutex
	backend store.Backend
	client  generation.Client
	logger  *slog.Logger
	opts    []Option
	entries map[string]*registryEntry
}

type registryEntry struct {
	once sync.Once
	orch *Orchestrator
}

// NewRegistry creates a registry whose orchestrators share backend and client.
func NewRegistry(backend store.Backend, client generation.Client, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		backend: backend,
		client:  client,
		logger:  logger,
		opts:    opts,
		entries: make(map[string]*registryEntry),
	}
}

// Get returns the orchestrator of scope, creating and rehydrating it if needed.
// Concurrent first calls for the same scope wait for a single rehydration.
func (r *Registry) Get(ctx context.Context, scope string) *Orchestrator {
	r.mu.Lock()
	e, ok := r.entries[scope]
	if !ok {
		e = &registryEntry{}
		r.entries[scope] = e
	}
	r.mu.Unlock()

	e.once.Do(func() {
		opts := append([]Option{WithLogger(r.logger)}, r.opts...)
		o := New(r.client, store.NewScoped(r.backend, scope, r.logger), opts...)
		o.Rehydrate(ctx)
		e.orch = o
	})
	return e.orch
}

// Len returns the number of known scopes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
