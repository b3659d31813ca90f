package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yuin/goldmark"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/auth"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/generation"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/orchestration"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Handler handles HTTP requests for the gateway layer
type Handler struct {
	registry *orchestration.Registry
	client   generation.Client
	checks   map[string]ReadinessCheck
	markdown goldmark.Markdown
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithReadinessCheck adds a named check to /ready.
func WithReadinessCheck(name string, check ReadinessCheck) Option {
	return func(h *Handler) { h.checks[name] = check }
}

// NewHandler creates a new gateway handler
func NewHandler(registry *orchestration.Registry, client generation.Client, opts ...Option) *Handler {
	h := &Handler{
		registry: registry,
		client:   client,
		checks:   make(map[string]ReadinessCheck),
		markdown: goldmark.New(),
		logger:   slog.Default(),
		tracer:   otel.Tracer("workflow-gateway"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the health probes and the authenticated workflow API.
func (h *Handler) RegisterRoutes(router *gin.Engine, jwtManager *auth.JWTManager) {
	// Health checks MUST be at the root for the WebService standard
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)

	api := router.Group("/api")

	protected := api.Group("")
	protected.Use(auth.RequireAuth(jwtManager, h.logger, false))

	protected.GET("/workflow", h.GetWorkflow)
	protected.PATCH("/workflow", h.EditWorkflow)
	protected.DELETE("/workflow", h.ResetWorkflow)
	protected.GET("/workflow/analysis.html", h.AnalysisHTML)
	protected.POST("/workflow/project", h.SetupProject)
	protected.POST("/workflow/domain", h.SubmitDomain)
	protected.POST("/workflow/image", h.AnalyzeImage)
	protected.POST("/workflow/bounded-contexts", h.GenerateBoundedContexts)
	protected.POST("/workflow/diagram", h.GenerateDiagram)
	protected.POST("/workflow/openapi", h.GenerateOpenAPI)
	protected.POST("/workflow/security", h.GenerateSecurity)
	protected.POST("/workflow/stage", h.GoToStage)
	protected.POST("/workflow/invalidate", h.InvalidateStaleArtifacts)

	// Browsers cannot set headers on websocket upgrades.
	ws := api.Group("/ws")
	ws.Use(auth.RequireAuth(jwtManager, h.logger, true))
	ws.GET("/workflow", NewStateStream(h.registry, h.logger).Stream)
}

// orchestrator resolves the caller's workflow. It aborts the request when
// the user is unknown.
func (h *Handler) orchestrator(c *gin.Context) (*orchestration.Orchestrator, bool) {
	userID, ok := auth.UserID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
			Error: "User not authenticated",
			Code:  models.ErrCodeUnauthorized,
		})
		return nil, false
	}
	trace.SpanFromContext(c.Request.Context()).SetAttributes(attribute.String("user.id", userID))
	return h.registry.Get(c.Request.Context(), userID), true
}

func badRequest(c *gin.Context, message string, err error) {
	resp := models.ErrorResponse{Error: message, Code: models.ErrCodeInvalidRequest}
	if err != nil {
		resp.Details = map[string]string{"reason": err.Error()}
	}
	c.JSON(http.StatusBadRequest, resp)
}

// bindOptional decodes a JSON body when one was sent.
func bindOptional(c *gin.Context, v interface{}) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthResponse{Status: "healthy"})
}

// Ready reports whether the generation service and every registered
// dependency can serve traffic.
func (h *Handler) Ready(c *gin.Context) {
	ctx := c.Request.Context()
	resp := models.HealthResponse{Status: "ready", Checks: map[string]string{}}

	if h.client.IsHealthy(ctx) {
		resp.Checks["generation"] = "ok"
	} else {
		resp.Status = "not ready"
		resp.Checks["generation"] = "unavailable"
	}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed", "check", name, "error", err)
			resp.Status = "not ready"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}

	if resp.Status != "ready" {
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetWorkflow godoc
// @Summary Get workflow
// @Description Current snapshot of the caller's workflow
// @Tags workflow
// @Produce json
// @Success 200 {object} models.WorkflowState
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /workflow [get]
func (h *Handler) GetWorkflow(c *gin.Context) {
	o, ok := h.orchestrator(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, o.Snapshot())
}

// SetupProject godoc
// @Summary Set up project
// @Tags workflow
// @Accept json
// @Produce json
// @Param request body models.ProjectRequest true "Project identity"
// @Success 200 {object} models.WorkflowState
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /workflow/project [post]
func (h *Handler) SetupProject(c *gin.Context) {
	var req models.ProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request", err)
		return
	}
	o, ok := h.orchestrator(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, o.SetupProject(c.Request.Context(), req.Name, req.Description))
}

// SubmitDomain godoc
// @Summary Submit domain description
// @Description Analyzes a free-text domain description and chains bounded context generation
// @Tags workflow
// @Accept json
// @Produce json
// @Param request body models.DomainRequest true "Domain description"
// @Success 200 {object} models.WorkflowState
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /workflow/domain [post]
func (h *Handler) SubmitDomain(c *gin.Context) {
	var req models.DomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request", err)
		return
	}
	o, ok := h.orchestrator(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, o.SubmitDomainDescription(c.Request.Context(), req.Description))
}

// AnalyzeImage godoc
// @Summary Analyze uploaded image
// @Tags workflow
// @Accept multipart/form-data
// @Produce json
// @Param image formData file true "Diagram or whiteboard image"
// @Success 200 {object} models.WorkflowState
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /workflow/image [post]
func (h *Handler) AnalyzeImage(c *gin.Context) {
	fh, err := c.FormFile("image")
	if err != nil {
		badRequest(c, "Missing image upload", err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(c, "Unreadable image upload", err)
		return
	}
	defer f.Close()

	// One byte over the limit is enough for validation to reject it.
	data, err := io.ReadAll(io.LimitReader(f, orchestration.MaxImageBytes+1))
	if err != nil {
		badRequest(c, "Unreadable image upload", err)
		return
	}

	o, ok := h.orchestrator(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, o.AnalyzeUploadedImage(c.Request.Context(), models.Image{
		Name: fh.Filename,
		Type: fh.Header.Get("Content-Type"),
		Data: data,
	}))
}

// GenerateBoundedContexts godoc
// @Summary Generate business context
// @Tags workflow
// @Produce json
// @Success 200 {object} models.WorkflowState
// @Security BearerAuth
// @Router /workflow/bounded-contexts [post]
func (h *Handler) GenerateBoundedContexts(c *gin.Context) {
	o, ok := h.orchestrator(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, o.GenerateBoundedContexts(c.Request.Context()))
}

// GenerateDiagram godoc
// @Summary Generate ASCII diagram
// @Description Returns the cached diagram when still current unless force is set
// @Tags workflow
// @Accept json
// @Produce json
// @Param request body models.DiagramRequestBody false "Diagram options"
// @Success 200 {object} models.WorkflowState
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /workflow/diagram [post]
func (h *Handler) GenerateDiagram(c *gin.Context) {
	var req models.DiagramRequestBody
	if err := bindOptional(c, &req); err != nil {
		badRequest(c, "Invalid request", err)
		return
	}
	o, ok := h.orchestrator(c)
	if !ok {
		return
	}
	if req.Force {
		c.JSON(http.StatusOK, o.GenerateASCIIDiagram(c.Request.Context()))
		return
	}
	c.JSON(http.StatusOK, o.EnsureASCIIDiagram(c.Request.Context()))
}

// GenerateOpenAPI godoc
// @Summary Generate OpenAPI specification
// @Tags workflow
// @Produce json
// @Success 200 {object} models.WorkflowState
// @Security BearerAuth
// @Router /workflow/openapi [post]
func (h *Handler) GenerateOpenAPI(c *gin.Context) {
	o, ok := h.orchestrator(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, o.GenerateOpenAPISpec(c.Request.Context()))
}

// GenerateSecurity godoc
// @Summary Generate security specifications
// @Tags workflow
// @Accept json
// @Produce json
// @Param request body models.SecurityOptionsRequest false "Generation options"
// @Success 200 {object} models.WorkflowState
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /workflow/security [post]
func (h *Handler) GenerateSecurity(c *gin.Context) {
	var req models.SecurityOptionsRequest
	if err := bindOptional(c, &req); err != nil {
		badRequest(c, "Invalid request", err)
		return
	}
	o, ok := h.orchestrator(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, o.GenerateSecuritySpecs(c.Request.Context(), req.Options))
}

// GoToStage godoc
// @Summary Navigate to a stage
// @Description Backward moves are always allowed; forward moves advance one stage when its prerequisites hold
// @Tags workflow
// @Accept json
// @Produce json
// @Param request body models.StageRequest true "Target stage"
// @Success 200 {object} models.WorkflowState
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /workflow/stage [post]
func (h *Handler) GoToStage(c *gin.Context) {
	var req models.StageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request", err)
		return
	}
	target, err := models.ParseStage(req.Stage)
	if err != nil {
		badRequest(c, "Unknown stage", err)
		return
	}
	o, ok := h.orchestrator(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, o.GoToStage(c.Request.Context(), target))
}

// EditWorkflow godoc
// @Summary Edit workflow inputs
// @Description Replaces the prompt, domain analysis or business context and evicts stale artifacts
// @Tags workflow
// @Accept json
// @Produce json
// @Param request body models.EditRequest true "Edited fields"
// @Success 200 {object} models.WorkflowState
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /workflow [patch]
func (h *Handler) EditWorkflow(c *gin.Context) {
	var req models.EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request", err)
		return
	}
	if req.Empty() {
		badRequest(c, "Nothing to edit", nil)
		return
	}
	o, ok := h.orchestrator(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	var state models.WorkflowState
	if req.Prompt != nil {
		state = o.EditPrompt(ctx, *req.Prompt)
	}
	if req.DomainAnalysis != nil {
		state = o.EditDomainAnalysis(ctx, *req.DomainAnalysis)
	}
	if req.BusinessContext != nil {
		state = o.EditBusinessContext(ctx, *req.BusinessContext)
	}
	c.JSON(http.StatusOK, state)
}

// InvalidateStaleArtifacts godoc
// @Summary Evict stale derived artifacts
// @Tags workflow
// @Produce json
// @Success 200 {object} models.WorkflowState
// @Security BearerAuth
// @Router /workflow/invalidate [post]
func (h *Handler) InvalidateStaleArtifacts(c *gin.Context) {
	o, ok := h.orchestrator(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, o.InvalidateStaleArtifacts(c.Request.Context()))
}

// ResetWorkflow godoc
// @Summary Reset workflow
// @Description Clears all persisted state of the caller
// @Tags workflow
// @Produce json
// @Success 200 {object} models.WorkflowState
// @Security BearerAuth
// @Router /workflow [delete]
func (h *Handler) ResetWorkflow(c *gin.Context) {
	o, ok := h.orchestrator(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, o.ResetWorkflow(c.Request.Context()))
}

// AnalysisHTML godoc
// @Summary Render analysis as HTML
// @Tags workflow
// @Produce html
// @Success 200 {string} string "HTML document"
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /workflow/analysis.html [get]
func (h *Handler) AnalysisHTML(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "gateway.render_analysis")
	defer span.End()

	o, ok := h.orchestrator(c)
	if !ok {
		return
	}
	snap := o.Snapshot()
	if snap.DomainAnalysis() == "" && snap.BusinessContext == "" {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error: "No analysis available",
			Code:  models.ErrCodeNotFound,
		})
		return
	}

	var buf bytes.Buffer
	if err := RenderAnalysis(h.markdown, snap, &buf); err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "failed to render analysis", "error", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: "Failed to render analysis",
			Code:  models.ErrCodeInternalError,
		})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}
