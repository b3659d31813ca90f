package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/retry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewHTTPClient(server.URL)
	return client
}

func TestNewHTTPClient(t *testing.T) {
	client := NewHTTPClient("")

	assert.NotNil(t, client)
	assert.NotNil(t, client.httpClient)
	assert.NotNil(t, client.tracer)
	assert.NotNil(t, client.breaker)
	assert.Equal(t, DefaultBaseURL, client.BaseURL())

	client.SetBaseURL("http://generation:8001/")
	assert.Equal(t, "http://generation:8001", client.BaseURL())
}

func TestHTTPClient_Generate(t *testing.T) {
	tests := []struct {
		name            string
		serverResponse  func(w http.ResponseWriter, r *http.Request)
		expectedError   string
		expectRetryable bool
		expectedSpecID  string
		expectedContext string
	}{
		{
			name: "successful_generation",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, PathGenerate, r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				assert.NotEmpty(t, r.Header.Get(RequestIDHeader))

				var req models.GenerateRequest
				err := json.NewDecoder(r.Body).Decode(&req)
				assert.NoError(t, err)
				assert.Equal(t, "Bookstore with User, Book, Order", req.Prompt)

				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"success":true,"specId":"abc123","analysisResult":{"domainAnalysis":"Entities: User, Book, Order","boundedContextAnalysis":"Catalog Context; Ordering Context"}}`))
			},
			expectedSpecID:  "abc123",
			expectedContext: "Catalog Context; Ordering Context",
		},
		{
			name: "explicit_failure_defaults_to_retryable",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"success":false,"error":"model overloaded"}`))
			},
			expectedError:   "model overloaded",
			expectRetryable: true,
		},
		{
			name: "explicit_non_retryable_failure",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"success":false,"error":"prompt rejected","retryable":false}`))
			},
			expectedError: "prompt rejected",
		},
		{
			name: "server_error",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("Internal server error"))
			},
			expectedError:   "returned status 500",
			expectRetryable: true,
		},
		{
			name: "bad_request",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"prompt is required"}`))
			},
			expectedError: "prompt is required",
		},
		{
			name: "invalid_json_response",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("invalid json"))
			},
			expectedError: "response is not a JSON object",
		},
		{
			name: "array_response",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`[1,2,3]`))
			},
			expectedError: "response is not a JSON object",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.serverResponse)

			result, err := client.Generate(context.Background(), "Bookstore with User, Book, Order")

			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)

				var serr *ServiceError
				require.True(t, errors.As(err, &serr))
				assert.Equal(t, tt.expectRetryable, serr.Retryable())
				if tt.expectRetryable {
					assert.Equal(t, retry.Retryable, retry.ClassifyError(err))
				} else {
					assert.Equal(t, retry.Terminal, retry.ClassifyError(err))
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expectedSpecID, result.SpecID)
			require.NotNil(t, result.Analysis)
			assert.Equal(t, tt.expectedContext, result.Analysis.BusinessContextAnalysis)
			assert.Equal(t, tt.expectedContext, result.Analysis.BoundedContextAnalysis)
		})
	}
}

func TestHTTPClient_GenerateBoundedContexts(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"business_field", `{"success":true,"businessContextAnalysis":"Catalog"}`, "Catalog"},
		{"bounded_field", `{"success":true,"boundedContextAnalysis":"Ordering"}`, "Ordering"},
		{"nested_result", `{"success":true,"analysisResult":{"boundedContextAnalysis":"Billing"}}`, "Billing"},
		{"missing_payload", `{"success":true}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, PathGenerateBoundedContexts, r.URL.Path)
				var req models.BoundedContextsRequest
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "analysis", req.DomainAnalysis)
				w.Write([]byte(tt.body))
			})

			result, err := client.GenerateBoundedContexts(context.Background(), "analysis")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result.BusinessContext)
		})
	}
}

func TestHTTPClient_AnalyzeImage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathAnalyzeImage, r.URL.Path)

		var req models.ImageAnalysisRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, models.AnalysisTypeFull, req.AnalysisType)
		assert.Equal(t, "erd.png", req.Image.Name)
		assert.Equal(t, "aGVsbG8=", req.Image.Data)

		w.Write([]byte(`{"success":true,"analysisResult":{"extractedText":"User, Book","domainAnalysis":"Two entities"}}`))
	})

	result, err := client.AnalyzeImage(context.Background(), models.ImageAnalysisRequest{
		Image:        models.ImagePayload{Name: "erd.png", Type: "image/png", Size: 5, Data: "aGVsbG8="},
		AnalysisType: models.AnalysisTypeFull,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Analysis)
	assert.Equal(t, "User, Book", result.Analysis.ExtractedText)
	assert.Equal(t, "Two entities", result.Analysis.DomainAnalysis)
}

func TestHTTPClient_GenerateASCIIDiagram(t *testing.T) {
	t.Run("sends_request_fields", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, PathGenerateASCIIDiagram, r.URL.Path)

			var req models.DiagramRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.True(t, req.HasComprehensiveData)
			assert.Equal(t, models.DataSourceCombined, req.DataSource)
			assert.Equal(t, 1, req.RetryCount)
			assert.Equal(t, "timeout", req.PreviousError)
			assert.True(t, req.Truncated)

			w.Write([]byte(`{"success":true,"asciiDiagram":"+------+\n| User |\n+------+"}`))
		})

		result, err := client.GenerateASCIIDiagram(context.Background(), models.DiagramRequest{
			DomainAnalysis:       "d",
			BusinessContext:      "b",
			HasComprehensiveData: true,
			DataSource:           models.DataSourceCombined,
			RetryCount:           1,
			PreviousError:        "timeout",
			Truncated:            true,
		})
		require.NoError(t, err)
		assert.Contains(t, result.Diagram, "| User |")
	})

	t.Run("missing_payload_is_not_an_error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"success":true}`))
		})

		result, err := client.GenerateASCIIDiagram(context.Background(), models.DiagramRequest{})
		require.NoError(t, err)
		assert.Empty(t, result.Diagram)
	})
}

func TestHTTPClient_GenerateOpenAPI(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"string_spec", `{"success":true,"specId":"s1","openApiSpec":"openapi: 3.0.0"}`, "openapi: 3.0.0"},
		{"object_spec", `{"success":true,"specId":"s1","openApiSpec":{"openapi":"3.0.0"}}`, `{"openapi":"3.0.0"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, PathGenerateOpenAPI, r.URL.Path)
				w.Write([]byte(tt.body))
			})

			result, err := client.GenerateOpenAPI(context.Background(), "prompt")
			require.NoError(t, err)
			assert.Equal(t, "s1", result.SpecID)
			assert.Equal(t, tt.expected, result.Content)
		})
	}
}

func TestHTTPClient_GenerateSecurity(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathGenerateSecurity, r.URL.Path)

		var req models.SecurityRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "abc123", req.SpecID)

		w.Write([]byte(`{"authentication":{"type":"oauth2"}}`))
	})

	specs, err := client.GenerateSecurity(context.Background(), models.SecurityRequest{SpecID: "abc123"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"authentication":{"type":"oauth2"}}`, string(specs))
}

func TestHTTPClient_CircuitBreakerOpensAfterConsecutiveTransientFailures(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 6; i++ {
		_, err := client.Generate(context.Background(), "p")
		require.Error(t, err)
		assert.Equal(t, retry.Retryable, retry.ClassifyError(err))
	}

	_, err := client.Generate(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable")
	assert.Equal(t, retry.Terminal, retry.ClassifyError(err))
	assert.Equal(t, 6, calls)
	assert.False(t, client.IsHealthy(context.Background()))
}

func TestHTTPClient_TerminalFailuresDoNotTripBreaker(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"rejected","retryable":false}`))
	})

	for i := 0; i < 10; i++ {
		_, err := client.Generate(context.Background(), "p")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rejected")
	}
}

func TestHTTPClient_IsHealthy(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	assert.True(t, client.IsHealthy(context.Background()))
}
