package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"speedchat-backend/internal/middleware"
	"speedchat-backend/internal/model"
	"speedchat-backend/internal/service"
	"speedchat-backend/internal/utils"
	"speedchat-backend/pkg/logger"
)

// TurnService runs streaming chat turns.
type TurnService interface {
	Prepare(ctx context.Context, userID string, req *model.ChatRequest) (*service.Turn, error)
	Run(ctx context.Context, turn *service.Turn, transport service.Transport) error
	Stop(userID, chatID string) error
}

type ChatHandler struct {
	turns     TurnService
	chats     *service.ChatService
	heartbeat time.Duration
}

func NewChatHandler(turns TurnService, chats *service.ChatService, heartbeat time.Duration) *ChatHandler {
	return &ChatHandler{turns: turns, chats: chats, heartbeat: heartbeat}
}

type sseTransport struct {
	w *utils.SSEWriter
}

func (t sseTransport) SendChunk(c *model.Chunk) error {
	return t.w.WriteJSON(model.EventChunk, c)
}

func (t sseTransport) SendEvent(event string, payload interface{}) error {
	return t.w.WriteJSON(event, payload)
}

// StreamChat handles POST /api/chat. Validation and model resolution
// failures are answered with JSON before the event stream starts.
func (h *ChatHandler) StreamChat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.UserID(c)
	turn, err := h.turns.Prepare(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	sseWriter := utils.NewSSEWriter(c.Writer)
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	done := make(chan struct{})
	if h.heartbeat > 0 {
		go h.sendHeartbeats(ctx, sseWriter, done)
	}

	if err := h.turns.Run(ctx, turn, sseTransport{w: sseWriter}); err != nil {
		logger.Errorf("Chat turn %s ended with error: %v", req.ChatID, err)
	}
	close(done)
	if err := sseWriter.Close(); err != nil {
		logger.Debugf("Closing stream for chat %s: %v", req.ChatID, err)
	}
}

func (h *ChatHandler) sendHeartbeats(ctx context.Context, w *utils.SSEWriter, done <-chan struct{}) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.WriteJSON(model.EventHeartbeat, gin.H{"timestamp": time.Now().Unix()}); err != nil {
				logger.Debugf("Heartbeat stopped: %v", err)
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// StopChat handles POST /api/chat/:id/stop.
func (h *ChatHandler) StopChat(c *gin.Context) {
	if err := h.turns.Stop(middleware.UserID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}
