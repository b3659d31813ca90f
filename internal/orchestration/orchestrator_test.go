package orchestration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/generation"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/retry"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/store"
)

const testScope = "user-1"

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func newTestOrchestrator(t *testing.T, client generation.Client, backend *store.MemoryBackend, opts ...Option) *Orchestrator {
	t.Helper()
	if backend == nil {
		backend = store.NewMemoryBackend()
	}
	base := []Option{
		WithLogger(discardLogger),
		WithProjectIdentity(models.ProjectInfo{Name: "bookstore"}),
		WithRetryOptions(retry.WithSleep(noSleep)),
	}
	o := New(client, store.NewScoped(backend, testScope, discardLogger), append(base, opts...)...)
	o.Rehydrate(context.Background())
	return o
}

// seedAnalysis persists a DomainAnalysis-stage workflow for rehydration.
func seedAnalysis(t *testing.T, backend *store.MemoryBackend, r models.AnalysisResult) {
	t.Helper()
	ctx := context.Background()
	data, err := json.Marshal(r)
	require.NoError(t, err)
	require.NoError(t, backend.Set(ctx, testScope, models.KeyAnalysisResult, string(data)))
	require.NoError(t, backend.Set(ctx, testScope, models.KeyCurrentStage, string(models.StageDomainAnalysis)))
	if bc := r.BusinessContext(); bc != "" {
		require.NoError(t, backend.Set(ctx, testScope, models.KeyBusinessContexts, bc))
	}
}

func analysisWith(domain, business string) models.AnalysisResult {
	r := models.AnalysisResult{DomainAnalysis: domain}
	r.SetBusinessContext(business)
	return r
}

func stored(t *testing.T, backend *store.MemoryBackend, key string) (string, bool) {
	t.Helper()
	v, ok, err := backend.Get(context.Background(), testScope, key)
	require.NoError(t, err)
	return v, ok
}

func TestSubmitDomainDescription_BookstoreScenario(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != generation.PathGenerate {
			t.Errorf("unexpected call to %s", r.URL.Path)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var req models.GenerateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Bookstore with User, Book, Order", req.Prompt)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"specId":"abc123","analysisResult":{"domainAnalysis":"Entities: User, Book, Order","businessContextAnalysis":"Catalog Context; Ordering Context"}}`))
	}))
	defer server.Close()

	backend := store.NewMemoryBackend()
	o := newTestOrchestrator(t, generation.NewHTTPClient(server.URL), backend)

	state := o.SubmitDomainDescription(context.Background(), "Bookstore with User, Book, Order")

	require.Nil(t, state.Error)
	assert.Equal(t, models.StageDomainAnalysis, state.Stage)
	assert.Equal(t, "Catalog Context; Ordering Context", state.BusinessContext)
	assert.Equal(t, "Catalog Context; Ordering Context", state.AnalysisResult.BoundedContextAnalysis)
	assert.Equal(t, "abc123", state.SpecID)
	assert.Empty(t, state.Pending)

	v, ok := stored(t, backend, models.KeyCurrentStage)
	require.True(t, ok)
	assert.Equal(t, string(models.StageDomainAnalysis), v)
	v, _ = stored(t, backend, models.KeyBusinessContexts)
	assert.Equal(t, "Catalog Context; Ordering Context", v)
	v, _ = stored(t, backend, models.KeyDomainDescription)
	assert.Equal(t, "Bookstore with User, Book, Order", v)
	v, _ = stored(t, backend, models.KeySpecID)
	assert.Equal(t, "abc123", v)
}

func TestSubmitDomainDescription_ChainsBusinessContext(t *testing.T) {
	client := &MockGenerationClient{
		generateFn: func(ctx context.Context, prompt string) (*generation.GenerateResult, error) {
			return &generation.GenerateResult{Analysis: &models.AnalysisResult{DomainAnalysis: "Users order books"}}, nil
		},
		contextsFn: func(ctx context.Context, domainAnalysis string) (*generation.BoundedContextsResult, error) {
			assert.Equal(t, "Users order books", domainAnalysis)
			return &generation.BoundedContextsResult{BusinessContext: "Ordering Context"}, nil
		},
	}
	o := newTestOrchestrator(t, client, nil)

	state := o.SubmitDomainDescription(context.Background(), "Bookstore")

	require.Nil(t, state.Error)
	assert.Equal(t, models.StageDomainAnalysis, state.Stage)
	assert.Equal(t, "Ordering Context", state.BusinessContext)
	assert.Equal(t, "Ordering Context", state.AnalysisResult.BusinessContextAnalysis)
	assert.Equal(t, "Ordering Context", state.AnalysisResult.BoundedContextAnalysis)
	assert.Equal(t, 1, client.Calls(generation.PathGenerateBoundedContexts))
}

func TestSubmitDomainDescription_ChainFailureStillAdvances(t *testing.T) {
	client := &MockGenerationClient{
		generateFn: func(ctx context.Context, prompt string) (*generation.GenerateResult, error) {
			return &generation.GenerateResult{Analysis: &models.AnalysisResult{DomainAnalysis: "Users order books"}}, nil
		},
		contextsFn: func(ctx context.Context, domainAnalysis string) (*generation.BoundedContextsResult, error) {
			return nil, generation.NewServiceError(generation.PathGenerateBoundedContexts, "overloaded", true)
		},
	}
	o := newTestOrchestrator(t, client, nil)

	state := o.SubmitDomainDescription(context.Background(), "Bookstore")

	assert.Equal(t, models.StageDomainAnalysis, state.Stage)
	assert.Equal(t, "Users order books", state.DomainAnalysis())
	require.NotNil(t, state.Error)
	assert.Equal(t, models.OpGenerateContexts, state.Error.Operation)
	assert.Equal(t, models.ErrorKindTransientService, state.Error.Kind)
	assert.True(t, state.Error.CanSkip)
}

func TestSubmitDomainDescription_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		description string
		generateFn  func(ctx context.Context, prompt string) (*generation.GenerateResult, error)
		expectKind  models.ErrorKind
		expectCalls int
	}{
		{
			name:        "empty_description",
			description: "   ",
			expectKind:  models.ErrorKindValidation,
		},
		{
			name:        "no_analyzable_content",
			description: "Bookstore",
			generateFn: func(ctx context.Context, prompt string) (*generation.GenerateResult, error) {
				return &generation.GenerateResult{Analysis: &models.AnalysisResult{}}, nil
			},
			expectKind:  models.ErrorKindValidation,
			expectCalls: 1,
		},
		{
			name:        "missing_analysis",
			description: "Bookstore",
			generateFn: func(ctx context.Context, prompt string) (*generation.GenerateResult, error) {
				return &generation.GenerateResult{SpecID: "abc"}, nil
			},
			expectKind:  models.ErrorKindValidation,
			expectCalls: 1,
		},
		{
			name:        "terminal_service_error",
			description: "Bookstore",
			generateFn: func(ctx context.Context, prompt string) (*generation.GenerateResult, error) {
				return nil, generation.NewServiceError(generation.PathGenerate, "rejected", false)
			},
			expectKind:  models.ErrorKindTerminalService,
			expectCalls: 1,
		},
		{
			name:        "transient_service_error",
			description: "Bookstore",
			generateFn: func(ctx context.Context, prompt string) (*generation.GenerateResult, error) {
				return nil, context.DeadlineExceeded
			},
			expectKind:  models.ErrorKindTransientService,
			expectCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &MockGenerationClient{generateFn: tt.generateFn}
			backend := store.NewMemoryBackend()
			o := newTestOrchestrator(t, client, backend)

			state := o.SubmitDomainDescription(context.Background(), tt.description)

			require.NotNil(t, state.Error)
			assert.Equal(t, tt.expectKind, state.Error.Kind)
			assert.NotEmpty(t, state.Error.Message)
			assert.Equal(t, models.StageDomainInput, state.Stage)
			assert.Nil(t, state.AnalysisResult)
			assert.Equal(t, tt.expectCalls, client.Calls(generation.PathGenerate))

			_, ok := stored(t, backend, models.KeyAnalysisResult)
			assert.False(t, ok)
		})
	}
}

func TestSubmitDomainDescription_NotAvailableInLaterStages(t *testing.T) {
	backend := store.NewMemoryBackend()
	seedAnalysis(t, backend, analysisWith("Users order books", "Ordering"))
	require.NoError(t, backend.Set(context.Background(), testScope, models.KeyCurrentStage, string(models.StageOpenAPIGeneration)))
	client := &MockGenerationClient{}
	o := newTestOrchestrator(t, client, backend)

	state := o.SubmitDomainDescription(context.Background(), "Bookstore")

	require.NotNil(t, state.Error)
	assert.Equal(t, models.ErrCodeIllegalTransition, state.Error.Code)
	assert.Equal(t, 0, client.TotalCalls())
}

func TestSubmitDomainDescription_DiscardsResponseForEditedInput(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	client := &MockGenerationClient{
		generateFn: func(ctx context.Context, prompt string) (*generation.GenerateResult, error) {
			close(started)
			<-release
			r := analysisWith("stale analysis", "stale context")
			return &generation.GenerateResult{SpecID: "stale", Analysis: &r}, nil
		},
	}
	o := newTestOrchestrator(t, client, nil)
	ctx := context.Background()

	done := make(chan models.WorkflowState)
	go func() { done <- o.SubmitDomainDescription(ctx, "first description") }()
	<-started

	edited := o.EditPrompt(ctx, "second description")
	assert.Contains(t, edited.Pending, models.OpSubmitDomain)
	close(release)

	final := <-done
	assert.Nil(t, final.Error)
	assert.Nil(t, final.AnalysisResult)
	assert.Empty(t, final.SpecID)
	assert.Equal(t, "second description", final.Prompt)
	assert.Equal(t, models.StageDomainInput, final.Stage)
	assert.Empty(t, final.Pending)
}

func TestSubmitDomainDescription_NavigationDuringCallDoesNotForceTransition(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	client := &MockGenerationClient{
		generateFn: func(ctx context.Context, prompt string) (*generation.GenerateResult, error) {
			close(started)
			<-release
			r := analysisWith("Users order books", "Ordering Context")
			return &generation.GenerateResult{Analysis: &r}, nil
		},
	}
	o := newTestOrchestrator(t, client, nil)
	ctx := context.Background()

	done := make(chan models.WorkflowState)
	go func() { done <- o.SubmitDomainDescription(ctx, "Bookstore") }()
	<-started

	moved := o.GoToStage(ctx, models.StageProjectSetup)
	require.Nil(t, moved.Error)
	close(release)

	final := <-done
	assert.Equal(t, models.StageProjectSetup, final.Stage)
	require.NotNil(t, final.AnalysisResult)
	assert.Equal(t, "Ordering Context", final.BusinessContext)
}

func TestResetWorkflow(t *testing.T) {
	backend := store.NewMemoryBackend()
	seedAnalysis(t, backend, analysisWith("Users order books", "Ordering"))
	require.NoError(t, backend.Set(context.Background(), testScope, models.KeyPrompt, "Bookstore"))
	o := newTestOrchestrator(t, &MockGenerationClient{}, backend)
	require.Equal(t, models.StageDomainAnalysis, o.Snapshot().Stage)

	state := o.ResetWorkflow(context.Background())

	assert.Nil(t, state.Error)
	assert.Equal(t, models.StageDomainInput, state.Stage)
	require.NotNil(t, state.Project)
	assert.Equal(t, "bookstore", state.Project.Name)
	assert.Empty(t, state.Prompt)
	assert.Nil(t, state.AnalysisResult)
	assert.Empty(t, backend.Keys(testScope))
}

func TestResetWorkflow_WithoutProjectReturnsToProjectSetup(t *testing.T) {
	backend := store.NewMemoryBackend()
	o := New(&MockGenerationClient{}, store.NewScoped(backend, testScope, discardLogger), WithLogger(discardLogger))
	ctx := context.Background()

	o.SetupProject(ctx, "Bookstore", "")
	require.Equal(t, models.StageDomainInput, o.Snapshot().Stage)

	state := o.ResetWorkflow(ctx)
	assert.Equal(t, models.StageProjectSetup, state.Stage)
	assert.Nil(t, state.Project)
}

func TestResetWorkflow_DiscardsInFlightResponses(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	client := &MockGenerationClient{
		generateFn: func(ctx context.Context, prompt string) (*generation.GenerateResult, error) {
			close(started)
			<-release
			r := analysisWith("Users order books", "Ordering")
			return &generation.GenerateResult{Analysis: &r}, nil
		},
	}
	o := newTestOrchestrator(t, client, nil)
	ctx := context.Background()

	done := make(chan models.WorkflowState)
	go func() { done <- o.SubmitDomainDescription(ctx, "Bookstore") }()
	<-started
	o.ResetWorkflow(ctx)
	close(release)

	final := <-done
	assert.Nil(t, final.AnalysisResult)
	assert.Equal(t, models.StageDomainInput, final.Stage)
}

func TestPersistenceFailuresAreWarnings(t *testing.T) {
	backend := store.NewMemoryBackend()
	backend.MaxValueBytes = 16
	r := analysisWith("Users order books and pay for them", "Ordering Context; Billing Context")
	client := &MockGenerationClient{
		generateFn: func(ctx context.Context, prompt string) (*generation.GenerateResult, error) {
			return &generation.GenerateResult{Analysis: &r}, nil
		},
	}
	o := newTestOrchestrator(t, client, backend)

	state := o.SubmitDomainDescription(context.Background(), "A bookstore where users order books")

	assert.Nil(t, state.Error)
	assert.Equal(t, models.StageDomainAnalysis, state.Stage)
	assert.Equal(t, "Ordering Context; Billing Context", state.BusinessContext)
	assert.NotEmpty(t, state.Warnings)
	for _, w := range state.Warnings {
		assert.Contains(t, w, "quota")
	}
}

func TestSetupProject(t *testing.T) {
	backend := store.NewMemoryBackend()
	o := New(&MockGenerationClient{}, store.NewScoped(backend, testScope, discardLogger), WithLogger(discardLogger))
	ctx := context.Background()
	require.Equal(t, models.StageProjectSetup, o.Rehydrate(ctx).Stage)

	refused := o.GoToStage(ctx, models.StageDomainInput)
	require.NotNil(t, refused.Error)
	assert.Equal(t, models.StageProjectSetup, refused.Stage)

	invalid := o.SetupProject(ctx, " ", "")
	require.NotNil(t, invalid.Error)
	assert.Equal(t, models.ErrorKindValidation, invalid.Error.Kind)

	state := o.SetupProject(ctx, "Bookstore", "Online book sales")
	require.Nil(t, state.Error)
	assert.Equal(t, models.StageDomainInput, state.Stage)
	assert.Equal(t, "Online book sales", state.Project.Description)

	v, ok := stored(t, backend, models.KeyProject)
	require.True(t, ok)
	assert.JSONEq(t, `{"name":"Bookstore","description":"Online book sales"}`, v)
}

func TestGoToStage_Guards(t *testing.T) {
	t.Run("refuses_openapi_without_analysis_text", func(t *testing.T) {
		backend := store.NewMemoryBackend()
		seedAnalysis(t, backend, models.AnalysisResult{ExtractedText: "User, Book"})
		o := newTestOrchestrator(t, &MockGenerationClient{}, backend)
		before := o.Snapshot()
		require.Equal(t, models.StageDomainAnalysis, before.Stage)

		after := o.GoToStage(context.Background(), models.StageOpenAPIGeneration)

		require.NotNil(t, after.Error)
		assert.Equal(t, models.ErrCodeIllegalTransition, after.Error.Code)
		assert.Contains(t, after.Error.Message, "domain analysis or business context")
		after.Error = nil
		assert.Equal(t, before, after)

		v, _ := stored(t, backend, models.KeyCurrentStage)
		assert.Equal(t, string(models.StageDomainAnalysis), v)
	})

	t.Run("refuses_skipping_ahead", func(t *testing.T) {
		o := newTestOrchestrator(t, &MockGenerationClient{}, nil)
		state := o.GoToStage(context.Background(), models.StageOpenAPIGeneration)
		require.NotNil(t, state.Error)
		assert.Equal(t, models.StageDomainInput, state.Stage)
	})

	t.Run("refuses_analysis_stage_without_valid_analysis", func(t *testing.T) {
		o := newTestOrchestrator(t, &MockGenerationClient{}, nil)
		state := o.GoToStage(context.Background(), models.StageDomainAnalysis)
		require.NotNil(t, state.Error)
		assert.Equal(t, models.StageDomainInput, state.Stage)
	})

	t.Run("refuses_security_without_spec_id", func(t *testing.T) {
		backend := store.NewMemoryBackend()
		seedAnalysis(t, backend, analysisWith("Users order books", ""))
		o := newTestOrchestrator(t, &MockGenerationClient{}, backend)
		ctx := context.Background()

		require.Nil(t, o.GoToStage(ctx, models.StageOpenAPIGeneration).Error)
		state := o.GoToStage(ctx, models.StageSecuritySpecs)
		require.NotNil(t, state.Error)
		assert.Equal(t, models.StageOpenAPIGeneration, state.Stage)
	})

	t.Run("backward_moves_always_allowed", func(t *testing.T) {
		backend := store.NewMemoryBackend()
		seedAnalysis(t, backend, analysisWith("Users order books", ""))
		o := newTestOrchestrator(t, &MockGenerationClient{}, backend)

		state := o.GoToStage(context.Background(), models.StageProjectSetup)
		require.Nil(t, state.Error)
		assert.Equal(t, models.StageProjectSetup, state.Stage)
	})
}

func TestOpenAPIAndSecurityFlow(t *testing.T) {
	backend := store.NewMemoryBackend()
	seedAnalysis(t, backend, analysisWith("Users order books", "Ordering Context"))
	require.NoError(t, backend.Set(context.Background(), testScope, models.KeyPrompt, "Bookstore"))

	client := &MockGenerationClient{
		openAPIFn: func(ctx context.Context, prompt string) (*generation.OpenAPIResult, error) {
			assert.True(t, strings.HasPrefix(prompt, "Bookstore"))
			assert.Contains(t, prompt, "## Domain Analysis\nUsers order books")
			assert.Contains(t, prompt, "## Business Context\nOrdering Context")
			return &generation.OpenAPIResult{SpecID: "spec-1", Content: "openapi: 3.0.0"}, nil
		},
		securityFn: func(ctx context.Context, req models.SecurityRequest) (json.RawMessage, error) {
			assert.Equal(t, "spec-1", req.SpecID)
			assert.Equal(t, "oauth2", req.Options["scheme"])
			return json.RawMessage(`{"authentication":{"type":"oauth2"}}`), nil
		},
	}
	o := newTestOrchestrator(t, client, backend)
	ctx := context.Background()

	early := o.GenerateOpenAPISpec(ctx)
	require.NotNil(t, early.Error)
	assert.Equal(t, 0, client.Calls(generation.PathGenerateOpenAPI))

	require.Nil(t, o.GoToStage(ctx, models.StageOpenAPIGeneration).Error)
	state := o.GenerateOpenAPISpec(ctx)
	require.Nil(t, state.Error)
	assert.Equal(t, "spec-1", state.SpecID)
	assert.Equal(t, "openapi: 3.0.0", state.SpecContent)

	require.Nil(t, o.GoToStage(ctx, models.StageSecuritySpecs).Error)
	state = o.GenerateSecuritySpecs(ctx, map[string]interface{}{"scheme": "oauth2"})
	require.Nil(t, state.Error)
	assert.JSONEq(t, `{"authentication":{"type":"oauth2"}}`, string(state.SecuritySpecs))

	v, _ := stored(t, backend, models.KeySpecContent)
	assert.Equal(t, "openapi: 3.0.0", v)
	v, _ = stored(t, backend, models.KeySecuritySpecs)
	assert.JSONEq(t, `{"authentication":{"type":"oauth2"}}`, v)
}

func TestGenerateBoundedContexts(t *testing.T) {
	backend := store.NewMemoryBackend()
	seedAnalysis(t, backend, analysisWith("Users order books", "Old Context"))
	client := &MockGenerationClient{
		contextsFn: func(ctx context.Context, domainAnalysis string) (*generation.BoundedContextsResult, error) {
			return &generation.BoundedContextsResult{BusinessContext: "Catalog Context; Ordering Context"}, nil
		},
	}
	o := newTestOrchestrator(t, client, backend)

	state := o.GenerateBoundedContexts(context.Background())

	require.Nil(t, state.Error)
	assert.Equal(t, "Catalog Context; Ordering Context", state.BusinessContext)
	assert.Equal(t, "Catalog Context; Ordering Context", state.AnalysisResult.BoundedContextAnalysis)
	v, _ := stored(t, backend, models.KeyBusinessContexts)
	assert.Equal(t, "Catalog Context; Ordering Context", v)
}

func TestGenerateBoundedContexts_EmptyReply(t *testing.T) {
	backend := store.NewMemoryBackend()
	seedAnalysis(t, backend, analysisWith("Users order books", "Old Context"))
	client := &MockGenerationClient{
		contextsFn: func(ctx context.Context, domainAnalysis string) (*generation.BoundedContextsResult, error) {
			return &generation.BoundedContextsResult{}, nil
		},
	}
	o := newTestOrchestrator(t, client, backend)

	state := o.GenerateBoundedContexts(context.Background())

	require.NotNil(t, state.Error)
	assert.True(t, state.Error.CanSkip)
	assert.Equal(t, "Old Context", state.BusinessContext)
}

func TestAnalyzeUploadedImage(t *testing.T) {
	png := append([]byte("\x89PNG\r\n\x1a\n"), []byte("fake image body")...)
	client := &MockGenerationClient{
		imageFn: func(ctx context.Context, req models.ImageAnalysisRequest) (*generation.ImageAnalysisResult, error) {
			return &generation.ImageAnalysisResult{Analysis: &models.AnalysisResult{
				ExtractedText:           "User, Book, Order",
				DomainAnalysis:          "Users place orders for books",
				BusinessContextAnalysis: "Catalog Context",
			}}, nil
		},
	}
	backend := store.NewMemoryBackend()
	o := newTestOrchestrator(t, client, backend)

	state := o.AnalyzeUploadedImage(context.Background(), models.Image{Name: "erd.png", Data: png})

	require.Nil(t, state.Error)
	assert.Equal(t, models.StageDomainAnalysis, state.Stage)
	assert.Equal(t, &models.UploadedImage{Name: "erd.png", HasImage: true}, state.UploadedImage)
	assert.Equal(t, "Catalog Context", state.BusinessContext)
	assert.Contains(t, state.Prompt, "## Entities\nUser, Book, Order")
	assert.Contains(t, state.Prompt, "## Domain Analysis\nUsers place orders for books")
	assert.Contains(t, state.Prompt, "## Business Context\nCatalog Context")

	require.Len(t, client.imageRequests, 1)
	req := client.imageRequests[0]
	assert.Equal(t, models.AnalysisTypeFull, req.AnalysisType)
	assert.Equal(t, "image/png", req.Image.Type)
	assert.Equal(t, len(png), req.Image.Size)
	assert.NotEmpty(t, req.Image.Data)

	v, _ := stored(t, backend, models.KeyPrompt)
	assert.Equal(t, state.Prompt, v)
}

func TestAnalyzeUploadedImage_Validation(t *testing.T) {
	tests := []struct {
		name  string
		image models.Image
	}{
		{"empty", models.Image{Name: "a.png", Type: "image/png"}},
		{"wrong_type", models.Image{Name: "a.txt", Type: "text/plain", Data: []byte("hello")}},
		{"too_large", models.Image{Name: "a.png", Type: "image/png", Data: make([]byte, MaxImageBytes+1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &MockGenerationClient{}
			o := newTestOrchestrator(t, client, nil)

			state := o.AnalyzeUploadedImage(context.Background(), tt.image)

			require.NotNil(t, state.Error)
			assert.Equal(t, models.ErrorKindValidation, state.Error.Kind)
			assert.Nil(t, state.UploadedImage)
			assert.Equal(t, 0, client.TotalCalls())
		})
	}
}

func TestSubscribe(t *testing.T) {
	o := newTestOrchestrator(t, &MockGenerationClient{}, nil)
	events, cancel := o.Subscribe(4)

	o.EditPrompt(context.Background(), "Bookstore")

	select {
	case ev := <-events:
		assert.Equal(t, models.OpEdit, ev.Operation)
		assert.Equal(t, testScope, ev.Scope)
		assert.Equal(t, "Bookstore", ev.State.Prompt)
		assert.NotEmpty(t, ev.ID)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}

	cancel()
	_, open := <-events
	assert.False(t, open)
	assert.NotPanics(t, cancel)
}

func TestRegistry(t *testing.T) {
	backend := store.NewMemoryBackend()
	seedAnalysis(t, backend, analysisWith("Users order books", "Ordering"))
	client := &MockGenerationClient{}
	registry := NewRegistry(backend, client, discardLogger, WithProjectIdentity(models.ProjectInfo{Name: "bookstore"}))
	ctx := context.Background()

	first := registry.Get(ctx, testScope)
	assert.Same(t, first, registry.Get(ctx, testScope))
	assert.Equal(t, models.StageDomainAnalysis, first.Snapshot().Stage)

	other := registry.Get(ctx, "user-2")
	assert.NotSame(t, first, other)
	assert.Equal(t, models.StageDomainInput, other.Snapshot().Stage)
	assert.Equal(t, 2, registry.Len())
	assert.Equal(t, 0, client.TotalCalls())
}

// blockingBackend stalls reads of one scope until released.
type blockingBackend struct {
	*store.MemoryBackend
	scope   string
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingBackend) Get(ctx context.Context, scope, key string) (string, bool, error) {
	if scope == b.scope {
		b.once.Do(func() { close(b.started) })
		<-b.release
	}
	return b.MemoryBackend.Get(ctx, scope, key)
}

func TestRegistry_SlowRehydrationDoesNotBlockOtherScopes(t *testing.T) {
	backend := &blockingBackend{
		MemoryBackend: store.NewMemoryBackend(),
		scope:         "slow-user",
		started:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	registry := NewRegistry(backend, &MockGenerationClient{}, discardLogger)
	ctx := context.Background()

	slowDone := make(chan *Orchestrator, 1)
	go func() { slowDone <- registry.Get(ctx, "slow-user") }()
	<-backend.started

	fastDone := make(chan *Orchestrator, 1)
	go func() { fastDone <- registry.Get(ctx, testScope) }()
	select {
	case o := <-fastDone:
		assert.Equal(t, testScope, o.Scope())
	case <-time.After(2 * time.Second):
		close(backend.release)
		t.Fatal("lookup of another scope waited for a slow rehydration")
	}

	close(backend.release)
	slow := <-slowDone
	assert.Same(t, slow, registry.Get(ctx, "slow-user"))
	assert.Equal(t, 2, registry.Len())
}
