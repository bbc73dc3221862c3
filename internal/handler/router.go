package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the API on router. requireAuth guards every route
// except health, the model list and shared chats.
func RegisterRoutes(router *gin.Engine, requireAuth gin.HandlerFunc, chat *ChatHandler, account *AccountHandler) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})

	api := router.Group("/api")
	{
		api.GET("/models", account.ListModels)
		api.GET("/shared/:id", chat.GetSharedChat)

		authed := api.Group("", requireAuth)
		{
			authed.POST("/chat", chat.StreamChat)
			authed.POST("/chat/:id/stop", chat.StopChat)

			authed.GET("/chats", chat.ListChats)
			authed.DELETE("/chats", chat.DeleteAllChats)
			authed.GET("/chats/:id", chat.GetChat)
			authed.PATCH("/chats/:id", chat.UpdateChat)
			authed.DELETE("/chats/:id", chat.DeleteChat)
			authed.POST("/chats/:id/branch", chat.BranchChat)
			authed.POST("/chats/:id/fork", chat.ForkChat)
			authed.POST("/chats/:id/messages/delete", chat.DeleteMessages)

			authed.GET("/memories", account.ListMemories)
			authed.DELETE("/memories", account.DeleteMemories)
			authed.DELETE("/memories/:id", account.DeleteMemory)

			authed.GET("/usage", account.GetUsage)
			authed.POST("/usage/reset", account.ResetUsage)
		}
	}
}
