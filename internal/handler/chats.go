package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"speedchat-backend/internal/middleware"
	"speedchat-backend/internal/model"
)

func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, err := h.chats.ListChats(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if chats == nil {
		chats = []*model.Chat{}
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func (h *ChatHandler) GetChat(c *gin.Context) {
	resp, err := h.chats.GetChat(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) GetSharedChat(c *gin.Context) {
	resp, err := h.chats.GetSharedChat(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) UpdateChat(c *gin.Context) {
	var req model.UpdateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	chat, err := h.chats.UpdateChat(c.Request.Context(), middleware.UserID(c), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *ChatHandler) DeleteChat(c *gin.Context) {
	if err := h.chats.DeleteChat(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Chat deleted successfully"})
}

func (h *ChatHandler) DeleteAllChats(c *gin.Context) {
	n, err := h.chats.DeleteAllChats(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (h *ChatHandler) BranchChat(c *gin.Context) {
	var req model.BranchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	chat, err := h.chats.Branch(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.MessageID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, chat)
}

func (h *ChatHandler) ForkChat(c *gin.Context) {
	chat, err := h.chats.Fork(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, chat)
}

func (h *ChatHandler) DeleteMessages(c *gin.Context) {
	var req model.DeleteMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.chats.DeleteMessages(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.MessageIDs); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": len(req.MessageIDs)})
}
