package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"speedchat-backend/internal/llm"
	"speedchat-backend/internal/service"
	"speedchat-backend/internal/storage"
	"speedchat-backend/pkg/logger"
)

func statusFor(err error) int {
	var cfgErr *llm.ConfigurationError
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrChatNotFound),
		errors.Is(err, service.ErrNoActiveTurn),
		errors.Is(err, storage.ErrChatNotFound),
		errors.Is(err, storage.ErrMessageNotFound),
		errors.Is(err, storage.ErrMemoryNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrEmptyHistory),
		errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, storage.ErrInvalidData),
		errors.As(err, &cfgErr):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondError writes {"error": ...}. Internal errors are logged and hidden.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Errorf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
		msg = "internal server error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
