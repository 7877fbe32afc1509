package repository

import (
	"context"
	"time"

	"marketchat/internal/domain/entity"
)

type ChatRepository interface {
	// CreateConversation is compare-and-create: it writes the conversation only
	// if no document exists at its key, and returns a CONFLICT error otherwise.
	// Callers treat CONFLICT as success (the record already converged).
	CreateConversation(ctx context.Context, conversation *entity.Conversation) error
	GetConversation(ctx context.Context, id string) (*entity.Conversation, error)
	UpdateConversationSummary(ctx context.Context, id string, lastMessage string, at time.Time) error

	// CreateInboxEntry writes a user's inbox entry only if absent (CONFLICT
	// otherwise), so a retry after partial failure fills in the missing entry
	// without duplicating the existing one.
	CreateInboxEntry(ctx context.Context, userID string, entry *entity.InboxEntry) error
	UpdateInboxSummary(ctx context.Context, userID, conversationID string, lastMessage string, at time.Time) error
	ListInbox(ctx context.Context, userID string) ([]*entity.InboxEntry, error)

	AppendMessage(ctx context.Context, message *entity.Message) error
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error)
}

// MessageFeed is a standing, push-based delivery of a conversation's messages.
// The feed first delivers up to limit recent messages oldest-to-newest, then
// keeps delivering new appends. The transport may redeliver; consumers must
// deduplicate by message ID. The returned stop function unregisters the feed.
type MessageFeed interface {
	ListenMessages(ctx context.Context, conversationID string, limit int, deliver func(*entity.Message)) (stop func(), err error)
}
