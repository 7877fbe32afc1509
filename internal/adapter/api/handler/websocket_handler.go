package handler

import (
	"net/http"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"marketchat/internal/domain/repository"
	"marketchat/internal/infrastructure/firebase"
	ws "marketchat/internal/infrastructure/websocket"
	"marketchat/internal/usecase"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

type WebSocketHandler struct {
	wsManager  *ws.Manager
	chatUC     *usecase.ChatUseCase
	feed       repository.MessageFeed
	authClient *firebase.FirebaseAuthClient
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // You should restrict this in production
	},
}

func NewWebSocketHandler(wsManager *ws.Manager, chatUC *usecase.ChatUseCase, feed repository.MessageFeed, authClient *firebase.FirebaseAuthClient) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager:  wsManager,
		chatUC:     chatUC,
		feed:       feed,
		authClient: authClient,
	}
}

// HandleWebSocket authenticates via the token query parameter (browser
// WebSocket clients cannot set an Authorization header), upgrades the
// connection and hands it a fresh subscription manager.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return errors.Unauthorized("Authentication required", nil)
	}

	userID, err := h.authClient.VerifyToken(c.Request().Context(), token)
	if err != nil {
		return errors.Unauthorized("Invalid or expired token", err)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return errors.Internal("Failed to upgrade connection", err)
	}

	subscription := usecase.NewSubscriptionManager(h.feed)
	client := ws.NewClient(userID, conn, h.chatUC, subscription)

	h.wsManager.Register <- client

	go client.ReadPump(h.wsManager)
	go client.WritePump()

	logger.Debug("WebSocket connected: user %s", userID)

	return nil
}
