package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"speedchat-backend/internal/llm"
	"speedchat-backend/internal/middleware"
	"speedchat-backend/internal/model"
	"speedchat-backend/internal/service"
)

// ModelCatalog lists models and reports which ones are configured.
type ModelCatalog interface {
	Catalog() *llm.Catalog
	Available(modelID string) bool
}

// AccountHandler serves the model picker, memories and usage.
type AccountHandler struct {
	models ModelCatalog
	chats  *service.ChatService
}

func NewAccountHandler(models ModelCatalog, chats *service.ChatService) *AccountHandler {
	return &AccountHandler{models: models, chats: chats}
}

// ListModels returns the catalog entries whose provider is configured.
func (h *AccountHandler) ListModels(c *gin.Context) {
	out := []model.ModelInfo{}
	for _, spec := range h.models.Catalog().List() {
		if h.models.Available(spec.ID) {
			out = append(out, spec.Info())
		}
	}
	c.JSON(http.StatusOK, gin.H{"models": out})
}

func (h *AccountHandler) ListMemories(c *gin.Context) {
	mems, err := h.chats.ListMemories(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if mems == nil {
		mems = []*model.Memory{}
	}
	c.JSON(http.StatusOK, gin.H{"memories": mems})
}

func (h *AccountHandler) DeleteMemory(c *gin.Context) {
	if err := h.chats.DeleteMemory(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Memory deleted successfully"})
}

func (h *AccountHandler) DeleteMemories(c *gin.Context) {
	n, err := h.chats.DeleteMemories(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (h *AccountHandler) GetUsage(c *gin.Context) {
	u, err := h.chats.GetUsage(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *AccountHandler) ResetUsage(c *gin.Context) {
	if err := h.chats.ResetUsage(c.Request.Context(), middleware.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Usage reset"})
}
