package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aistory/aistory-web/internal/middleware"
	"github.com/aistory/aistory-web/internal/platform/logger"
	"github.com/aistory/aistory-web/internal/realtime"
)

type SSEHandler struct {
	log *logger.Logger
	hub *realtime.Hub
}

func NewSSEHandler(baseLog *logger.Logger, hub *realtime.Hub) *SSEHandler {
	return &SSEHandler{
		log: baseLog.With("handler", "SSEHandler"),
		hub: hub,
	}
}

// GET /sse/stream?channel=job:<id>
// Blocks for the lifetime of the connection, streaming every message
// broadcast on the requested channels.
func (h *SSEHandler) Stream(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	channels := c.QueryArray("channel")
	if len(channels) == 0 {
		RespondError(c, http.StatusBadRequest, "missing_channel", errors.New("at least one channel query param is required"))
		return
	}

	client := h.hub.NewClient(userID)
	for _, ch := range channels {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		if _, err := uuid.Parse(strings.TrimPrefix(ch, "job:")); err != nil {
			h.log.Debug("ignoring malformed channel", "channel", ch)
			continue
		}
		h.hub.AddChannel(client, ch)
	}
	defer h.hub.CloseClient(client)

	h.hub.ServeHTTP(c.Writer, c.Request, client)
}
