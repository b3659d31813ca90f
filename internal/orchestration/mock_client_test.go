package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/generation"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/models"
)

var errUnexpectedCall = errors.New("unexpected call")

// MockGenerationClient implements a mock generation client for testing
type MockGenerationClient struct {
	mu    sync.Mutex
	calls map[string]int

	diagramRequests []models.DiagramRequest
	imageRequests   []models.ImageAnalysisRequest

	generateFn func(ctx context.Context, prompt string) (*generation.GenerateResult, error)
	contextsFn func(ctx context.Context, domainAnalysis string) (*generation.BoundedContextsResult, error)
	imageFn    func(ctx context.Context, req models.ImageAnalysisRequest) (*generation.ImageAnalysisResult, error)
	diagramFn  func(ctx context.Context, req models.DiagramRequest) (*generation.DiagramResult, error)
	openAPIFn  func(ctx context.Context, prompt string) (*generation.OpenAPIResult, error)
	securityFn func(ctx context.Context, req models.SecurityRequest) (json.RawMessage, error)
}

func (m *MockGenerationClient) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[name]++
}

func (m *MockGenerationClient) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *MockGenerationClient) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

func (m *MockGenerationClient) DiagramRequests() []models.DiagramRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.DiagramRequest(nil), m.diagramRequests...)
}

func (m *MockGenerationClient) Generate(ctx context.Context, prompt string) (*generation.GenerateResult, error) {
	m.record(generation.PathGenerate)
	if m.generateFn == nil {
		return nil, errUnexpectedCall
	}
	return m.generateFn(ctx, prompt)
}

func (m *MockGenerationClient) GenerateBoundedContexts(ctx context.Context, domainAnalysis string) (*generation.BoundedContextsResult, error) {
	m.record(generation.PathGenerateBoundedContexts)
	if m.contextsFn == nil {
		return nil, errUnexpectedCall
	}
	return m.contextsFn(ctx, domainAnalysis)
}

func (m *MockGenerationClient) AnalyzeImage(ctx context.Context, req models.ImageAnalysisRequest) (*generation.ImageAnalysisResult, error) {
	m.record(generation.PathAnalyzeImage)
	m.mu.Lock()
	m.imageRequests = append(m.imageRequests, req)
	m.mu.Unlock()
	if m.imageFn == nil {
		return nil, errUnexpectedCall
	}
	return m.imageFn(ctx, req)
}

func (m *MockGenerationClient) GenerateASCIIDiagram(ctx context.Context, req models.DiagramRequest) (*generation.DiagramResult, error) {
	m.record(generation.PathGenerateASCIIDiagram)
	m.mu.Lock()
	m.diagramRequests = append(m.diagramRequests, req)
	m.mu.Unlock()
	if m.diagramFn == nil {
		return nil, errUnexpectedCall
	}
	return m.diagramFn(ctx, req)
}

func (m *MockGenerationClient) GenerateOpenAPI(ctx context.Context, prompt string) (*generation.OpenAPIResult, error) {
	m.record(generation.PathGenerateOpenAPI)
	if m.openAPIFn == nil {
		return nil, errUnexpectedCall
	}
	return m.openAPIFn(ctx, prompt)
}

func (m *MockGenerationClient) GenerateSecurity(ctx context.Context, req models.SecurityRequest) (json.RawMessage, error) {
	m.record(generation.PathGenerateSecurity)
	if m.securityFn == nil {
		return nil, errUnexpectedCall
	}
	return m.securityFn(ctx, req)
}

func (m *MockGenerationClient) IsHealthy(ctx context.Context) bool {
	return true
}
