package usecase

import (
	"context"
	"strings"
	"time"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/internal/infrastructure/attachment"
	"marketchat/internal/infrastructure/ratelimit"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

// Notifier pushes out-of-band updates (inbox refreshes) to a user's connected
// clients. Implemented by the websocket manager; nil disables pushes.
type Notifier interface {
	NotifyUser(userID string, payload interface{})
}

type ChatUseCase struct {
	chatRepo    repository.ChatRepository
	userRepo    repository.UserRepository
	pipeline    *attachment.Pipeline
	rateLimiter *ratelimit.RateLimiter
	notifier    Notifier

	imagePreview string
	pdfPreview   string
}

func NewChatUseCase(
	ctx context.Context,
	chatRepo repository.ChatRepository,
	userRepo repository.UserRepository,
	pipeline *attachment.Pipeline,
	imagePreview, pdfPreview string,
) *ChatUseCase {
	rateLimiter := ratelimit.NewRateLimiter()
	rateLimiter.StartCleanupRoutine(ctx)

	return &ChatUseCase{
		chatRepo:     chatRepo,
		userRepo:     userRepo,
		pipeline:     pipeline,
		rateLimiter:  rateLimiter,
		imagePreview: imagePreview,
		pdfPreview:   pdfPreview,
	}
}

// SetNotifier wires the push surface after construction; the websocket manager
// and the use case reference each other, so one side is attached late.
func (uc *ChatUseCase) SetNotifier(n Notifier) {
	uc.notifier = n
}

// InboxView is an InboxEntry with the counterparty's display name resolved for
// presentation.
type InboxView struct {
	*entity.InboxEntry
	OtherUsername string `json:"other_username"`
}

// GetOrCreateConversation resolves the deterministic conversation for
// (listing, buyer, seller), creating the record and both inbox entries on
// first contact. Every write is individually idempotent: concurrent calls from
// both participants, or a retry after partial failure, converge on the same
// single conversation and exactly two inbox entries.
func (uc *ChatUseCase) GetOrCreateConversation(ctx context.Context, userID, listingID, buyerID, sellerID string) (*entity.Conversation, error) {
	if userID == "" {
		return nil, errors.Unauthorized("Authentication required", nil)
	}
	if listingID == "" || buyerID == "" || sellerID == "" {
		return nil, errors.BadRequest("Listing, buyer and seller are required", nil)
	}
	if buyerID == sellerID {
		return nil, errors.BadRequest("Buyer and seller must be different users", nil)
	}
	if userID != buyerID && userID != sellerID {
		return nil, errors.Forbidden("Only a participant can open this conversation", nil)
	}

	allowed, waitTime := uc.rateLimiter.Allow(userID, "create_conversation")
	if !allowed {
		logger.Warn("GetOrCreateConversation rate limited: user %s must wait %v", userID, waitTime)
		return nil, errors.TooManyRequests("Rate limit exceeded. Please wait before opening another conversation", waitTime)
	}

	id := entity.ConversationID(listingID, buyerID, sellerID)
	now := time.Now()

	conversation := &entity.Conversation{
		ID:            id,
		ListingID:     listingID,
		BuyerID:       buyerID,
		SellerID:      sellerID,
		Participants:  []string{buyerID, sellerID},
		LastMessageAt: now,
	}

	if err := uc.chatRepo.CreateConversation(ctx, conversation); err != nil {
		if !errors.Is(err, "CONFLICT") {
			logger.Error("GetOrCreateConversation: failed to create conversation %s: %v", id, err)
			return nil, err
		}
		// Already exists: the other participant (or an earlier call) won the
		// race. That is the expected convergent outcome.
	}

	ensure := []struct {
		ownerID string
		entry   *entity.InboxEntry
	}{
		{buyerID, &entity.InboxEntry{ConversationID: id, OtherUserID: sellerID, ListingID: listingID, LastMessageAt: now}},
		{sellerID, &entity.InboxEntry{ConversationID: id, OtherUserID: buyerID, ListingID: listingID, LastMessageAt: now}},
	}
	for _, e := range ensure {
		if err := uc.chatRepo.CreateInboxEntry(ctx, e.ownerID, e.entry); err != nil && !errors.Is(err, "CONFLICT") {
			logger.Error("GetOrCreateConversation: failed to create inbox entry for %s in conversation %s: %v", e.ownerID, id, err)
			return nil, err
		}
	}

	return uc.chatRepo.GetConversation(ctx, id)
}

// SendTextMessage appends a text message and fans the summary out. Empty or
// whitespace-only text is a no-op, not an error: it returns (nil, nil) and
// writes nothing.
func (uc *ChatUseCase) SendTextMessage(ctx context.Context, userID, conversationID, text string) (*entity.Message, error) {
	if userID == "" {
		return nil, errors.Unauthorized("Authentication required", nil)
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, nil
	}

	allowed, waitTime := uc.rateLimiter.Allow(userID, "send_message")
	if !allowed {
		logger.Warn("SendTextMessage rate limited: user %s must wait %v", userID, waitTime)
		return nil, errors.TooManyRequests("Rate limit exceeded. Please wait before sending another message", waitTime)
	}

	conversation, err := uc.chatRepo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(userID) {
		return nil, errors.Forbidden("User is not a participant in this conversation", nil)
	}

	now := time.Now()
	message := &entity.Message{
		ID:             entity.NewMessageID(now),
		ConversationID: conversationID,
		SenderID:       userID,
		Type:           entity.MessageTypeText,
		Text:           trimmed,
		CreatedAt:      now,
	}

	if err := uc.chatRepo.AppendMessage(ctx, message); err != nil {
		logger.Error("SendTextMessage: failed to append message to conversation %s: %v", conversationID, err)
		if errors.Is(err, "STORE_UNAVAILABLE") {
			return nil, err
		}
		return nil, errors.SendFailed(err)
	}

	uc.fanOut(ctx, conversation, trimmed, now)

	return message, nil
}

// SendFileMessage uploads the attachment through the pipeline, then appends an
// image or pdf message referencing the stored URL. Validation and upload
// failures propagate and no message is created.
func (uc *ChatUseCase) SendFileMessage(ctx context.Context, userID, conversationID string, upload attachment.Upload, onProgress func(int)) (*entity.Message, error) {
	if userID == "" {
		return nil, errors.Unauthorized("Authentication required", nil)
	}

	allowed, waitTime := uc.rateLimiter.Allow(userID, "send_message")
	if !allowed {
		logger.Warn("SendFileMessage rate limited: user %s must wait %v", userID, waitTime)
		return nil, errors.TooManyRequests("Rate limit exceeded. Please wait before sending another message", waitTime)
	}

	conversation, err := uc.chatRepo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(userID) {
		return nil, errors.Forbidden("User is not a participant in this conversation", nil)
	}

	result, err := uc.pipeline.Upload(ctx, conversationID, upload, onProgress)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	message := &entity.Message{
		ID:             entity.NewMessageID(now),
		ConversationID: conversationID,
		SenderID:       userID,
		Type:           result.Kind,
		FileURL:        result.URL,
		CreatedAt:      now,
	}

	if err := uc.chatRepo.AppendMessage(ctx, message); err != nil {
		logger.Error("SendFileMessage: failed to append message to conversation %s: %v", conversationID, err)
		if errors.Is(err, "STORE_UNAVAILABLE") {
			return nil, err
		}
		return nil, errors.SendFailed(err)
	}

	uc.fanOut(ctx, conversation, uc.previewFor(result.Kind), now)

	return message, nil
}

// previewFor returns the inbox preview text for a file message. A fixed
// placeholder per type, never the filename, so previews cannot leak arbitrary
// file names.
func (uc *ChatUseCase) previewFor(kind string) string {
	if kind == entity.MessageTypePDF {
		return uc.pdfPreview
	}
	return uc.imagePreview
}

// fanOut propagates the latest message summary to the conversation record and
// both participants' inbox entries. The message itself is already durable, so
// failures here are logged and swallowed; a stale preview is repaired by the
// next successful fan-out.
func (uc *ChatUseCase) fanOut(ctx context.Context, conversation *entity.Conversation, preview string, at time.Time) {
	if err := uc.chatRepo.UpdateConversationSummary(ctx, conversation.ID, preview, at); err != nil {
		if errors.Is(err, "NOT_FOUND") {
			// Conversation deleted out of band; nothing to fan out to.
			logger.Warn("Fan-out skipped: conversation %s no longer exists", conversation.ID)
			return
		}
		logger.Error("Fan-out failed to update conversation %s: %v", conversation.ID, err)
	}

	for _, participantID := range conversation.Participants {
		if err := uc.chatRepo.UpdateInboxSummary(ctx, participantID, conversation.ID, preview, at); err != nil {
			logger.Error("Fan-out failed to update inbox of %s for conversation %s: %v", participantID, conversation.ID, err)
		}
	}

	if uc.notifier != nil {
		for _, participantID := range conversation.Participants {
			uc.notifier.NotifyUser(participantID, map[string]interface{}{
				"type":            "conversation_update",
				"conversation_id": conversation.ID,
				"last_message":    preview,
				"last_message_at": at.Format(time.RFC3339),
			})
		}
	}
}

// GetUserConversations reads the caller's denormalized inbox, most recent
// first, with counterparty display names resolved.
func (uc *ChatUseCase) GetUserConversations(ctx context.Context, userID string) ([]*InboxView, error) {
	if userID == "" {
		return nil, errors.Unauthorized("Authentication required", nil)
	}

	entries, err := uc.chatRepo.ListInbox(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]*InboxView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, &InboxView{
			InboxEntry:    entry,
			OtherUsername: uc.displayName(ctx, entry.OtherUserID),
		})
	}

	return views, nil
}

// displayName resolves a user's name via the identity collaborator, falling
// back to a truncated identifier; a lookup failure never blocks messaging.
func (uc *ChatUseCase) displayName(ctx context.Context, userID string) string {
	user, err := uc.userRepo.GetByID(ctx, userID)
	if err != nil || user.Username == "" {
		if len(userID) > 8 {
			return userID[:8]
		}
		return userID
	}
	return user.Username
}

func (uc *ChatUseCase) GetConversation(ctx context.Context, userID, conversationID string) (*entity.Conversation, error) {
	if userID == "" {
		return nil, errors.Unauthorized("Authentication required", nil)
	}

	conversation, err := uc.chatRepo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(userID) {
		return nil, errors.Forbidden("User is not a participant in this conversation", nil)
	}

	return conversation, nil
}

// GetMessages returns a page of the conversation's log, newest first.
func (uc *ChatUseCase) GetMessages(ctx context.Context, userID, conversationID string, limit, offset int) ([]*entity.Message, int64, error) {
	if userID == "" {
		return nil, 0, errors.Unauthorized("Authentication required", nil)
	}

	conversation, err := uc.chatRepo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, 0, err
	}
	if !conversation.HasParticipant(userID) {
		return nil, 0, errors.Forbidden("User is not a participant in this conversation", nil)
	}

	return uc.chatRepo.ListMessages(ctx, conversationID, limit, offset)
}
