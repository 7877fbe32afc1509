package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

type firestoreChatRepository struct {
	client *firestore.Client
}

func NewFirestoreChatRepository(client *firestore.Client) repository.ChatRepository {
	return &firestoreChatRepository{
		client: client,
	}
}

func (r *firestoreChatRepository) conversationRef(id string) *firestore.DocumentRef {
	return r.client.Collection("conversations").Doc(id)
}

func (r *firestoreChatRepository) inboxRef(userID, conversationID string) *firestore.DocumentRef {
	return r.client.Collection("inboxes").Doc(userID).Collection("conversations").Doc(conversationID)
}

// storeErr maps transport failures to STORE_UNAVAILABLE so callers can tell an
// unreachable backend apart from a plain write failure.
func storeErr(message string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return errors.StoreUnavailable(err)
	}
	return errors.Internal(message, err)
}

func (r *firestoreChatRepository) CreateConversation(ctx context.Context, conversation *entity.Conversation) error {
	now := time.Now()
	conversation.CreatedAt = now
	conversation.UpdatedAt = now
	if conversation.LastMessageAt.IsZero() {
		conversation.LastMessageAt = now
	}

	// Create, not Set: aborts on conflict instead of overwriting, which is what
	// makes concurrent getOrCreate calls from both participants converge.
	_, err := r.conversationRef(conversation.ID).Create(ctx, conversation)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return errors.Conflict("Conversation already exists")
		}
		return storeErr("Failed to create conversation", err)
	}

	return nil
}

func (r *firestoreChatRepository) GetConversation(ctx context.Context, id string) (*entity.Conversation, error) {
	doc, err := r.conversationRef(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Conversation", err)
		}
		return nil, storeErr("Failed to get conversation", err)
	}

	var conversation entity.Conversation
	if err := doc.DataTo(&conversation); err != nil {
		return nil, errors.Internal("Failed to parse conversation data", err)
	}

	return &conversation, nil
}

func (r *firestoreChatRepository) UpdateConversationSummary(ctx context.Context, id string, lastMessage string, at time.Time) error {
	_, err := r.conversationRef(id).Update(ctx, []firestore.Update{
		{Path: "lastMessage", Value: lastMessage},
		{Path: "lastMessageAt", Value: at},
		{Path: "updatedAt", Value: at},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Conversation", err)
		}
		return storeErr("Failed to update conversation summary", err)
	}

	return nil
}

func (r *firestoreChatRepository) CreateInboxEntry(ctx context.Context, userID string, entry *entity.InboxEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.LastMessageAt.IsZero() {
		entry.LastMessageAt = entry.CreatedAt
	}

	_, err := r.inboxRef(userID, entry.ConversationID).Create(ctx, entry)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return errors.Conflict("Inbox entry already exists")
		}
		return storeErr("Failed to create inbox entry", err)
	}

	return nil
}

func (r *firestoreChatRepository) UpdateInboxSummary(ctx context.Context, userID, conversationID string, lastMessage string, at time.Time) error {
	_, err := r.inboxRef(userID, conversationID).Update(ctx, []firestore.Update{
		{Path: "lastMessage", Value: lastMessage},
		{Path: "lastMessageAt", Value: at},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Inbox entry", err)
		}
		return storeErr("Failed to update inbox summary", err)
	}

	return nil
}

func (r *firestoreChatRepository) ListInbox(ctx context.Context, userID string) ([]*entity.InboxEntry, error) {
	query := r.client.Collection("inboxes").Doc(userID).Collection("conversations").
		OrderBy("lastMessageAt", firestore.Desc)

	iter := query.Documents(ctx)
	defer iter.Stop()

	var entries []*entity.InboxEntry
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Error("Firestore error while listing inbox for user %s: %v", userID, err)
			return nil, storeErr("Failed to list inbox", err)
		}

		var entry entity.InboxEntry
		if err := doc.DataTo(&entry); err != nil {
			logger.Warn("Skipping malformed inbox entry for user %s: %v", userID, err)
			continue
		}
		entries = append(entries, &entry)
	}

	return entries, nil
}

func (r *firestoreChatRepository) AppendMessage(ctx context.Context, message *entity.Message) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	if message.ID == "" {
		message.ID = entity.NewMessageID(message.CreatedAt)
	}

	// The log is append-only; Create refuses to clobber an existing entry.
	_, err := r.conversationRef(message.ConversationID).Collection("messages").Doc(message.ID).Create(ctx, message)
	if err != nil {
		return storeErr("Failed to append message", err)
	}

	return nil
}

func (r *firestoreChatRepository) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error) {
	query := r.conversationRef(conversationID).Collection("messages").OrderBy("createdAt", firestore.Desc)

	countDocs, err := query.Documents(ctx).GetAll()
	if err != nil {
		logger.Error("Firestore error while counting messages for conversation %s: %v", conversationID, err)
		return nil, 0, storeErr("Failed to count messages", err)
	}
	total := int64(len(countDocs))

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var messages []*entity.Message
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Error("Firestore error while iterating messages for conversation %s: %v", conversationID, err)
			return nil, 0, storeErr("Failed to iterate messages", err)
		}

		var message entity.Message
		if err := doc.DataTo(&message); err != nil {
			logger.Warn("Skipping malformed message in conversation %s: %v", conversationID, err)
			continue
		}
		messages = append(messages, &message)
	}

	return messages, total, nil
}
