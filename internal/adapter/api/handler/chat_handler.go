package handler

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/infrastructure/attachment"
	"marketchat/internal/usecase"
	"marketchat/pkg/errors"
	"marketchat/pkg/response"
	"marketchat/pkg/utils"
)

type ChatHandler struct {
	chatUseCase *usecase.ChatUseCase
}

func NewChatHandler(chatUseCase *usecase.ChatUseCase) *ChatHandler {
	return &ChatHandler{
		chatUseCase: chatUseCase,
	}
}

type createConversationRequest struct {
	ListingID string `json:"listing_id" validate:"required"`
	BuyerID   string `json:"buyer_id" validate:"required"`
	SellerID  string `json:"seller_id" validate:"required"`
}

type sendMessageRequest struct {
	Text string `json:"text" validate:"required"`
}

// CreateConversation opens (or returns) the conversation for a listing between
// a buyer and a seller.
func (h *ChatHandler) CreateConversation(c echo.Context) error {
	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	conversation, err := h.chatUseCase.GetOrCreateConversation(c.Request().Context(), userID, req.ListingID, req.BuyerID, req.SellerID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, conversation)
}

// GetUserConversations returns the authenticated user's inbox, most recent
// conversation first.
func (h *ChatHandler) GetUserConversations(c echo.Context) error {
	userID := c.Get("uid").(string)

	conversations, err := h.chatUseCase.GetUserConversations(c.Request().Context(), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conversations)
}

// GetConversationByID returns a single conversation the caller participates in.
func (h *ChatHandler) GetConversationByID(c echo.Context) error {
	conversationID := c.Param("id")
	userID := c.Get("uid").(string)

	conversation, err := h.chatUseCase.GetConversation(c.Request().Context(), userID, conversationID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conversation)
}

// SendMessage appends a text message to a conversation.
func (h *ChatHandler) SendMessage(c echo.Context) error {
	conversationID := c.Param("id")
	userID := c.Get("uid").(string)

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	message, err := h.chatUseCase.SendTextMessage(c.Request().Context(), userID, conversationID, req.Text)
	if err != nil {
		return response.Error(c, err)
	}
	if message == nil {
		// Whitespace-only text is ignored rather than rejected.
		return response.Success(c, nil)
	}

	return response.Created(c, message)
}

// SendFile uploads a multipart attachment and appends the resulting image or
// pdf message.
func (h *ChatHandler) SendFile(c echo.Context) error {
	conversationID := c.Param("id")
	userID := c.Get("uid").(string)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return response.Error(c, errors.BadRequest("File is required", err))
	}

	src, err := fileHeader.Open()
	if err != nil {
		return response.Error(c, errors.BadRequest("Failed to read uploaded file", err))
	}
	defer src.Close()

	contentType := fileHeader.Header.Get("Content-Type")

	message, err := h.chatUseCase.SendFileMessage(c.Request().Context(), userID, conversationID, attachment.Upload{
		Reader:      src,
		Filename:    fileHeader.Filename,
		ContentType: contentType,
		Size:        fileHeader.Size,
	}, nil)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

// GetMessages returns a page of a conversation's messages, newest first.
func (h *ChatHandler) GetMessages(c echo.Context) error {
	conversationID := c.Param("id")
	userID := c.Get("uid").(string)

	params := utils.GetPaginationParams(c)

	messages, total, err := h.chatUseCase.GetMessages(c.Request().Context(), userID, conversationID, params.PageSize, params.Offset)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Paginated(c, messages, total, params.Page, params.PageSize)
}
