package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/auth"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/orchestration"
)

// OpSnapshot marks the first event of a stream, sent before any change.
const OpSnapshot = "snapshot"

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	subscriberQueue = 16
)

// StateStream pushes workflow snapshots to websocket clients.
type StateStream struct {
	registry *orchestration.Registry
	logger   *slog.Logger
	tracer   trace.Tracer
	upgrader websocket.Upgrader
}

// NewStateStream creates a new state stream
func NewStateStream(registry *orchestration.Registry, logger *slog.Logger) *StateStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateStream{
		registry: registry,
		logger:   logger,
		tracer:   otel.Tracer("workflow-state-stream"),
		upgrader: websocket.Upgrader{
			// Authentication happens before the upgrade.
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Stream handles WebSocket /api/ws/workflow
// @Summary Stream workflow state
// @Description Sends the current snapshot, then one event per committed operation
// @Tags workflow
// @Param token query string false "JWT when the Authorization header cannot be set"
// @Success 101 "Switching Protocols"
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /ws/workflow [get]
func (s *StateStream) Stream(c *gin.Context) {
	ctx, span := s.tracer.Start(c.Request.Context(), "state_stream.stream")
	defer span.End()

	userID, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Error: "User not authenticated",
			Code:  models.ErrCodeUnauthorized,
		})
		return
	}
	span.SetAttributes(attribute.String("user.id", userID))

	o := s.registry.Get(ctx, userID)

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("failed to upgrade connection", "user_id", userID, "error", err)
		return
	}
	defer conn.Close()

	events, cancel := o.Subscribe(subscriberQueue)
	defer cancel()

	logger := s.logger.With("user_id", userID)
	logger.Info("state stream opened")

	initial := models.StateEvent{
		ID:        uuid.New().String(),
		Scope:     o.Scope(),
		Operation: OpSnapshot,
		State:     o.Snapshot(),
		Timestamp: time.Now().UTC(),
	}
	if err := s.write(conn, initial); err != nil {
		logger.Warn("failed to send snapshot", "error", err)
		return
	}

	// Client messages are ignored; reading is needed for control frames.
	done := make(chan error, 1)
	go func() {
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				done <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.write(conn, ev); err != nil {
				span.RecordError(err)
				logger.Warn("failed to forward state event", "operation", ev.Operation, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case err := <-done:
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("client connection read error", "error", err)
			}
			logger.Info("state stream closed")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *StateStream) write(conn *websocket.Conn, ev models.StateEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}
