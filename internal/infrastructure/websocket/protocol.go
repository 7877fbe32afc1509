package websocket

import (
	"encoding/json"
	"time"

	"marketchat/internal/usecase"
	apperrors "marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

// WebSocket message types
const (
	MessageTypePing               = "ping"
	MessageTypePong               = "pong"
	MessageTypeJoinConversation   = "join_conversation"
	MessageTypeLeaveConversation  = "leave_conversation"
	MessageTypeSendMessage        = "send_message"
	MessageTypeMessage            = "message"
	MessageTypeConversationUpdate = "conversation_update"
	MessageTypeError              = "error"
)

type WSMessage struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	Timestamp      string          `json:"timestamp"`
}

type SendMessageData struct {
	TempID string `json:"temp_id"`
	Text   string `json:"text"`
}

type MessageData struct {
	ID             string `json:"id"`
	TempID         string `json:"temp_id,omitempty"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Type           string `json:"type"`
	Text           string `json:"text,omitempty"`
	FileURL        string `json:"file_url,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TempID  string `json:"temp_id,omitempty"`
}

func (c *Client) handleMessage(raw []byte) {
	var wsMessage WSMessage
	if err := json.Unmarshal(raw, &wsMessage); err != nil {
		logger.Warn("WebSocket: invalid message from client %s: %v", c.UserID, err)
		c.sendError("BAD_REQUEST", "Invalid message format", "")
		return
	}

	switch wsMessage.Type {
	case MessageTypePing:
		c.sendEvent(WSMessage{
			Type:      MessageTypePong,
			Timestamp: time.Now().Format(time.RFC3339),
		})

	case MessageTypeJoinConversation:
		c.handleJoinConversation(wsMessage)

	case MessageTypeLeaveConversation:
		c.subscription.Close()

	case MessageTypeSendMessage:
		c.handleSendMessage(wsMessage)

	default:
		logger.Warn("WebSocket: unknown message type %q from client %s", wsMessage.Type, c.UserID)
		c.sendError("BAD_REQUEST", "Unknown message type", "")
	}
}

// handleJoinConversation opens this connection's live feed. The subscription
// manager replaces any previous feed, so switching conversations never stacks
// listeners.
func (c *Client) handleJoinConversation(wsMessage WSMessage) {
	if wsMessage.ConversationID == "" {
		c.sendError("BAD_REQUEST", "Missing conversation_id", "")
		return
	}

	// The user must be a participant before any feed is opened.
	if _, err := c.chatUC.GetConversation(c.ctx, c.UserID, wsMessage.ConversationID); err != nil {
		c.sendAppError(err, "")
		return
	}

	err := c.subscription.Open(c.ctx, wsMessage.ConversationID, func(event usecase.MessageEvent) {
		data, marshalErr := json.Marshal(MessageData{
			ID:             event.Message.ID,
			TempID:         event.TempID,
			ConversationID: event.Message.ConversationID,
			SenderID:       event.Message.SenderID,
			Type:           event.Message.Type,
			Text:           event.Message.Text,
			FileURL:        event.Message.FileURL,
			CreatedAt:      event.Message.CreatedAt.Format(time.RFC3339Nano),
		})
		if marshalErr != nil {
			logger.Error("WebSocket: failed to marshal message for client %s: %v", c.UserID, marshalErr)
			return
		}
		c.sendEvent(WSMessage{
			Type:           MessageTypeMessage,
			ConversationID: event.Message.ConversationID,
			Data:           data,
			Timestamp:      time.Now().Format(time.RFC3339),
		})
	})
	if err != nil {
		logger.Error("WebSocket: failed to open feed for client %s on conversation %s: %v", c.UserID, wsMessage.ConversationID, err)
		c.sendAppError(err, "")
	}
}

func (c *Client) handleSendMessage(wsMessage WSMessage) {
	var sendData SendMessageData
	if len(wsMessage.Data) > 0 {
		if err := json.Unmarshal(wsMessage.Data, &sendData); err != nil {
			c.sendError("BAD_REQUEST", "Invalid send message data", "")
			return
		}
	}
	if wsMessage.ConversationID == "" {
		c.sendError("BAD_REQUEST", "Missing conversation_id", sendData.TempID)
		return
	}

	// Track the optimistic placeholder before the append so the authoritative
	// message can reconcile it on delivery.
	c.subscription.TrackPending(sendData.TempID, c.UserID, time.Now())

	if _, err := c.chatUC.SendTextMessage(c.ctx, c.UserID, wsMessage.ConversationID, sendData.Text); err != nil {
		// The temp_id rides along so the view can restore the draft.
		c.sendAppError(err, sendData.TempID)
	}
}

func (c *Client) sendEvent(message WSMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		logger.Error("WebSocket: failed to marshal event for client %s: %v", c.UserID, err)
		return
	}

	c.enqueue(data)
}

func (c *Client) sendError(code, message, tempID string) {
	data, _ := json.Marshal(ErrorData{
		Code:    code,
		Message: message,
		TempID:  tempID,
	})
	c.sendEvent(WSMessage{
		Type:      MessageTypeError,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func (c *Client) sendAppError(err error, tempID string) {
	var appErr *apperrors.AppError
	if e, ok := err.(*apperrors.AppError); ok {
		appErr = e
	}
	if appErr != nil {
		c.sendError(appErr.Code, appErr.Message, tempID)
		return
	}
	c.sendError("INTERNAL_ERROR", "An unexpected error occurred", tempID)
}
