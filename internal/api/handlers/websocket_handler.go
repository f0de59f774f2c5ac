package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/hr-platform/backend/internal/middleware/auth"
	"github.com/hr-platform/backend/internal/pipeline"
	"github.com/hr-platform/backend/pkg/logger"
)

// StatusStreamHandler pushes the status projection of one extraction over a
// websocket until it reaches a terminal status.
type StatusStreamHandler struct {
	svc         Service
	interval    time.Duration
	maxDuration time.Duration
}

func NewStatusStreamHandler(svc Service, interval time.Duration) *StatusStreamHandler {
	if interval <= 0 {
		interval = time.Second
	}
	return &StatusStreamHandler{
		svc:         svc,
		interval:    interval,
		maxDuration: 15 * time.Minute,
	}
}

// Upgrade lets only websocket handshakes through to HandleConnection.
func (h *StatusStreamHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (h *StatusStreamHandler) HandleConnection(c *websocket.Conn) {
	id := c.Params("id")
	logger.Info("Status stream opened", zap.String("extraction_id", id))

	defer func() {
		c.Close()
		logger.Info("Status stream closed", zap.String("extraction_id", id))
	}()

	p, ok := auth.FromValue(c.Locals(auth.PrincipalKey))
	if !ok {
		h.sendError(c, "Missing identity")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.maxDuration)
	defer cancel()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last *pipeline.StatusView
	for {
		view, err := h.svc.GetStatus(ctx, p, id)
		if err != nil {
			logger.Warn("Status stream lookup failed", zap.String("extraction_id", id), zap.Error(err))
			h.sendError(c, err.Error())
			return
		}

		if changed(last, view) {
			if err := c.WriteJSON(map[string]interface{}{"type": "status", "status": view}); err != nil {
				logger.Debug("Status stream write failed", zap.String("extraction_id", id), zap.Error(err))
				return
			}
			last = view
		}

		if view.Terminal() {
			c.WriteJSON(map[string]interface{}{"type": "complete", "status": view.Status})
			return
		}

		select {
		case <-ctx.Done():
			h.sendError(c, "Status stream timed out")
			return
		case <-ticker.C:
		}
	}
}

func changed(prev, cur *pipeline.StatusView) bool {
	return prev == nil ||
		prev.Status != cur.Status ||
		prev.RetryCount != cur.RetryCount ||
		!prev.UpdatedAt.Equal(cur.UpdatedAt)
}

func (h *StatusStreamHandler) sendError(c *websocket.Conn, errorMsg string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	c.WriteJSON(msg)
}
