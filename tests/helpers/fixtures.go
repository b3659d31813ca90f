package helpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/generation"
)

// Canned generation service responses for the bookstore domain.
const (
	BookstorePrompt          = "Bookstore with User, Book, Order"
	BookstoreDomainAnalysis  = "Entities: User, Book, Order"
	BookstoreBusinessContext = "Catalog Context; Ordering Context"
	BookstoreDiagram         = "+------+     +-------+\n| User |---->| Order |\n+------+     +-------+"
	BookstoreSpecID          = "spec-bookstore"
)

// GenerationService is an httptest stand-in for the generation endpoint
// with overridable per-path responses.
type GenerationService struct {
	Server *httptest.Server

	mu        sync.Mutex
	calls     map[string]int
	responses map[string]Response
}

// Response is one canned reply.
type Response struct {
	Status int
	Body   interface{}
}

// NewGenerationService starts a service answering with the bookstore fixtures.
func NewGenerationService(t *testing.T) *GenerationService {
	t.Helper()
	s := &GenerationService{
		calls: make(map[string]int),
		responses: map[string]Response{
			generation.PathGenerate: {Body: map[string]interface{}{
				"success": true,
				"specId":  BookstoreSpecID,
				"analysisResult": map[string]interface{}{
					"domainAnalysis":          BookstoreDomainAnalysis,
					"businessContextAnalysis": BookstoreBusinessContext,
				},
			}},
			generation.PathGenerateBoundedContexts: {Body: map[string]interface{}{
				"success":                 true,
				"businessContextAnalysis": BookstoreBusinessContext,
			}},
			generation.PathGenerateASCIIDiagram: {Body: map[string]interface{}{
				"success":      true,
				"asciiDiagram": BookstoreDiagram,
			}},
			generation.PathGenerateOpenAPI: {Body: map[string]interface{}{
				"success":     true,
				"specId":      BookstoreSpecID,
				"openApiSpec": map[string]interface{}{"openapi": "3.0.0", "info": map[string]interface{}{"title": "Bookstore"}},
			}},
			generation.PathGenerateSecurity: {Body: map[string]interface{}{
				"success":       true,
				"securitySpecs": map[string]interface{}{"authentication": "oauth2"},
			}},
		},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Server.Close)
	return s
}

// SetResponse replaces the reply for path.
func (s *GenerationService) SetResponse(path string, resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[path] = resp
}

// Calls returns how often path was requested.
func (s *GenerationService) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func (s *GenerationService) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls[r.URL.Path]++
	resp, ok := s.responses[r.URL.Path]
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path == "/health" {
		w.Write([]byte(`{"status":"ok"}`))
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"error":"not found"}`))
		return
	}
	if resp.Status != 0 {
		w.WriteHeader(resp.Status)
	}
	json.NewEncoder(w).Encode(resp.Body)
}
