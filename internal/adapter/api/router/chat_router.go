package router

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/adapter/api/handler"
	"marketchat/internal/adapter/api/middleware"
)

// SetupChatRouter sets up all conversation routes (excluding WebSocket)
func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, authMiddleware *middleware.AuthMiddleware) {
	chatGroup := e.Group("/v1/conversations")
	chatGroup.Use(authMiddleware.Authenticate)

	chatGroup.POST("", chatHandler.CreateConversation)      // POST /v1/conversations - Open or create a conversation
	chatGroup.GET("", chatHandler.GetUserConversations)     // GET /v1/conversations - Inbox
	chatGroup.GET("/:id", chatHandler.GetConversationByID)  // GET /v1/conversations/:id

	chatGroup.POST("/:id/messages", chatHandler.SendMessage) // POST /v1/conversations/:id/messages - Send text message
	chatGroup.GET("/:id/messages", chatHandler.GetMessages)  // GET /v1/conversations/:id/messages - Message history
	chatGroup.POST("/:id/files", chatHandler.SendFile)       // POST /v1/conversations/:id/files - Upload attachment
}
