package stream

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/queue-api/internal/middleware"
	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/realtime"
	"github.com/jwalitptl/queue-api/pkg/httputil"
	"github.com/jwalitptl/queue-api/pkg/logger"
)

const heartbeatInterval = 30 * time.Second

// Handler bridges broker subscriptions to SSE connections. Delivery is
// best-effort; clients re-fetch over REST after a reconnect.
type Handler struct {
	dispatcher *realtime.Dispatcher
	logger     *logger.Logger
}

func NewHandler(dispatcher *realtime.Dispatcher, logger *logger.Logger) *Handler {
	return &Handler{dispatcher: dispatcher, logger: logger}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	stream := r.Group("/stream")
	{
		stream.GET("/me", h.StreamMe)
		stream.GET("/queue", auth.RequireRole(model.RoleDoctor, model.RoleAdmin), h.StreamQueue)
	}
}

// StreamMe streams events for the authenticated patient. The channel is
// derived from the JWT identity, never from request input, so a client can
// only ever watch itself.
func (h *Handler) StreamMe(c *gin.Context) {
	h.serve(c, realtime.PatientChannel(middleware.AccountID(c)))
}

// StreamQueue streams department-wide events for staff dashboards.
func (h *Handler) StreamQueue(c *gin.Context) {
	departmentID, err := uuid.Parse(c.Query("department_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse("invalid department ID"))
		return
	}
	h.serve(c, realtime.DepartmentChannel(departmentID))
}

func (h *Handler) serve(c *gin.Context, channel string) {
	ctx := c.Request.Context()

	events, err := h.dispatcher.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error(err, "failed to subscribe", "channel", channel)
		c.JSON(http.StatusServiceUnavailable, httputil.NewErrorResponse("stream unavailable"))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	fmt.Fprintf(c.Writer, "event: connected\ndata: %q\n\n", channel)
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-events:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
			c.Writer.Flush()
		case <-heartbeat.C:
			// Comment frame keeps proxies from closing idle connections.
			fmt.Fprint(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()
		}
	}
}
