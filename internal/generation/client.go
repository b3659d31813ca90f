// Package generation is the HTTP client for the external generation service.
// Every reply is decoded into typed results at this boundary; callers never
// see raw endpoint payloads.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/analysis"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/metrics"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/retry"
)

// Endpoint paths.
const (
	PathGenerate                = "/generate"
	PathGenerateBoundedContexts = "/generate-bounded-contexts"
	PathAnalyzeImage            = "/analyze-image"
	PathGenerateASCIIDiagram    = "/generate-ascii-diagram"
	PathGenerateOpenAPI         = "/generate-openapi"
	PathGenerateSecurity        = "/generate-security"
)

// RequestIDHeader carries a per-call id for correlating logs across services.
const RequestIDHeader = "X-Request-ID"

// DefaultBaseURL is used when no URL is configured.
const DefaultBaseURL = "http://localhost:8001"

// Client defines the interface for the generation service client
type Client interface {
	Generate(ctx context.Context, prompt string) (*GenerateResult, error)
	GenerateBoundedContexts(ctx context.Context, domainAnalysis string) (*BoundedContextsResult, error)
	AnalyzeImage(ctx context.Context, req models.ImageAnalysisRequest) (*ImageAnalysisResult, error)
	GenerateASCIIDiagram(ctx context.Context, req models.DiagramRequest) (*DiagramResult, error)
	GenerateOpenAPI(ctx context.Context, prompt string) (*OpenAPIResult, error)
	GenerateSecurity(ctx context.Context, req models.SecurityRequest) (json.RawMessage, error)
	IsHealthy(ctx context.Context) bool
}

// GenerateResult is the decoded reply of POST /generate.
type GenerateResult struct {
	SpecID   string
	Analysis *models.AnalysisResult
}

// BoundedContextsResult is the decoded reply of POST /generate-bounded-contexts.
type BoundedContextsResult struct {
	BusinessContext string
}

// ImageAnalysisResult is the decoded reply of POST /analyze-image.
type ImageAnalysisResult struct {
	Analysis *models.AnalysisResult
}

// DiagramResult is the decoded reply of POST /generate-ascii-diagram.
// An empty Diagram means the service omitted its payload.
type DiagramResult struct {
	Diagram string
}

// OpenAPIResult is the decoded reply of POST /generate-openapi.
type OpenAPIResult struct {
	SpecID  string
	Content string
}

// HTTPClient handles communication with the generation service
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
	metrics    *metrics.GenerationMetrics
}

// Option customizes an HTTPClient.
type Option func(*HTTPClient)

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *HTTPClient) { c.logger = logger }
}

// WithMetrics records call metrics.
func WithMetrics(m *metrics.GenerationMetrics) Option {
	return func(c *HTTPClient) { c.metrics = m }
}

// WithTimeout sets the overall HTTP client timeout. Per-attempt deadlines
// come from the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) { c.httpClient.Timeout = d }
}

// NewHTTPClient creates a new generation service client
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		tracer: otel.Tracer("generation-client"),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	settings := gobreaker.Settings{
		Name:        "generation-service",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// Only transient failures say anything about service health.
		IsSuccessful: func(err error) bool {
			return err == nil || retry.ClassifyError(err) != retry.Retryable
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	c.breaker = gobreaker.NewCircuitBreaker(settings)

	return c
}

// SetBaseURL sets the base URL for testing purposes
func (c *HTTPClient) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
}

// BaseURL returns the configured service URL.
func (c *HTTPClient) BaseURL() string { return c.baseURL }

// Generate submits a domain description for analysis.
func (c *HTTPClient) Generate(ctx context.Context, prompt string) (*GenerateResult, error) {
	body, err := c.call(ctx, PathGenerate, models.GenerateRequest{Prompt: prompt})
	if err != nil {
		return nil, err
	}
	return &GenerateResult{
		SpecID:   body.Get("specId").String(),
		Analysis: analysis.NormalizeResult(body.Get("analysisResult")),
	}, nil
}

// GenerateBoundedContexts derives business context from a domain analysis.
func (c *HTTPClient) GenerateBoundedContexts(ctx context.Context, domainAnalysis string) (*BoundedContextsResult, error) {
	body, err := c.call(ctx, PathGenerateBoundedContexts, models.BoundedContextsRequest{DomainAnalysis: domainAnalysis})
	if err != nil {
		return nil, err
	}
	// Some deployments nest the contexts under analysisResult.
	r := analysis.NormalizeResult(body)
	if r.BusinessContext() == "" {
		if nested := analysis.NormalizeResult(body.Get("analysisResult")); nested != nil {
			r = nested
		}
	}
	return &BoundedContextsResult{BusinessContext: r.BusinessContext()}, nil
}

// AnalyzeImage submits an encoded image for entity extraction and analysis.
func (c *HTTPClient) AnalyzeImage(ctx context.Context, req models.ImageAnalysisRequest) (*ImageAnalysisResult, error) {
	body, err := c.call(ctx, PathAnalyzeImage, req)
	if err != nil {
		return nil, err
	}
	return &ImageAnalysisResult{Analysis: analysis.NormalizeResult(body.Get("analysisResult"))}, nil
}

// GenerateASCIIDiagram renders the domain model as an ASCII diagram.
func (c *HTTPClient) GenerateASCIIDiagram(ctx context.Context, req models.DiagramRequest) (*DiagramResult, error) {
	body, err := c.call(ctx, PathGenerateASCIIDiagram, req)
	if err != nil {
		return nil, err
	}
	return &DiagramResult{Diagram: body.Get("asciiDiagram").String()}, nil
}

// GenerateOpenAPI produces an OpenAPI document.
func (c *HTTPClient) GenerateOpenAPI(ctx context.Context, prompt string) (*OpenAPIResult, error) {
	body, err := c.call(ctx, PathGenerateOpenAPI, models.GenerateRequest{Prompt: prompt})
	if err != nil {
		return nil, err
	}
	spec := body.Get("openApiSpec")
	content := spec.String()
	if spec.IsObject() {
		content = spec.Raw
	}
	return &OpenAPIResult{SpecID: body.Get("specId").String(), Content: content}, nil
}

// GenerateSecurity produces security specifications for a generated spec.
func (c *HTTPClient) GenerateSecurity(ctx context.Context, req models.SecurityRequest) (json.RawMessage, error) {
	body, err := c.call(ctx, PathGenerateSecurity, req)
	if err != nil {
		return nil, err
	}
	if specs := body.Get("securitySpecs"); specs.IsObject() {
		return json.RawMessage(specs.Raw), nil
	}
	return json.RawMessage(body.Raw), nil
}

// call runs one request through the circuit breaker. An open breaker is a
// terminal failure.
func (c *HTTPClient) call(ctx context.Context, endpoint string, payload interface{}) (gjson.Result, error) {
	requestID := uuid.New().String()

	ctx, span := c.tracer.Start(ctx, "generation.call")
	defer span.End()

	span.SetAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("request_id", requestID),
	)

	c.metrics.RecordCallStarted(ctx, endpoint)
	start := time.Now()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.callInternal(ctx, endpoint, requestID, payload)
	})
	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &ServiceError{Endpoint: endpoint, Message: "generation service unavailable: " + err.Error()}
		}
		span.RecordError(err)
		c.metrics.RecordCallFailed(ctx, endpoint, errorType(err), duration)
		c.logger.Warn("generation call failed",
			"endpoint", endpoint,
			"request_id", requestID,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return gjson.Result{}, fmt.Errorf("failed to call %s: %w", endpoint, err)
	}

	c.metrics.RecordCallCompleted(ctx, endpoint, duration)
	c.logger.Info("generation call completed",
		"endpoint", endpoint,
		"request_id", requestID,
		"duration_ms", duration.Milliseconds(),
	)
	return result.(gjson.Result), nil
}

// callInternal performs the actual HTTP request
func (c *HTTPClient) callInternal(ctx context.Context, endpoint, requestID string, payload interface{}) (gjson.Result, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(RequestIDHeader, requestID)

	// Inject trace context
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to read response: %w", err)
	}

	body := gjson.ParseBytes(bodyBytes)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &ServiceError{
			Endpoint:  endpoint,
			Status:    resp.StatusCode,
			Message:   strings.TrimSpace(string(bodyBytes)),
			retryable: statusRetryable(resp.StatusCode),
		}
		if body.IsObject() {
			if msg := body.Get("error").String(); msg != "" {
				serr.Message = msg
			}
			if r := body.Get("retryable"); r.Exists() && !r.Bool() {
				serr.retryable = false
			}
		}
		return gjson.Result{}, serr
	}

	if !gjson.ValidBytes(bodyBytes) || !body.IsObject() {
		return gjson.Result{}, &ServiceError{
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Message:  "response is not a JSON object",
		}
	}

	if s := body.Get("success"); s.Exists() && !s.Bool() {
		msg := body.Get("error").String()
		if msg == "" {
			msg = "service reported failure without an error message"
		}
		r := body.Get("retryable")
		return gjson.Result{}, &ServiceError{
			Endpoint:  endpoint,
			Status:    resp.StatusCode,
			Message:   msg,
			retryable: !r.Exists() || r.Bool(),
		}
	}

	return body, nil
}

// IsHealthy checks if the generation service is healthy
func (c *HTTPClient) IsHealthy(ctx context.Context) bool {
	ctx, span := c.tracer.Start(ctx, "generation.health_check")
	defer span.End()

	// Use circuit breaker state as a quick health indicator
	if c.breaker.State() == gobreaker.StateOpen {
		span.SetAttributes(attribute.Bool("healthy", false), attribute.String("reason", "circuit_breaker_open"))
		return false
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		span.RecordError(err)
		return false
	}

	// Short timeout for health checks
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return false
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode == http.StatusOK
	span.SetAttributes(attribute.Bool("healthy", healthy))

	return healthy
}

func errorType(err error) string {
	if retry.ClassifyError(err) == retry.Retryable {
		return string(models.ErrorKindTransientService)
	}
	return string(models.ErrorKindTerminalService)
}
