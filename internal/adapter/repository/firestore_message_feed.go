package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

type firestoreMessageFeed struct {
	client *firestore.Client
}

func NewFirestoreMessageFeed(client *firestore.Client) repository.MessageFeed {
	return &firestoreMessageFeed{
		client: client,
	}
}

// ListenMessages registers a snapshot listener on the conversation's message
// log. Every snapshot carries the full current window, so the same message is
// delivered again whenever a new one arrives; the subscription layer owns
// deduplication. Messages inside one snapshot are delivered oldest first.
func (f *firestoreMessageFeed) ListenMessages(ctx context.Context, conversationID string, limit int, deliver func(*entity.Message)) (func(), error) {
	if limit <= 0 {
		return nil, errors.BadRequest("Feed limit must be positive", nil)
	}

	feedCtx, cancel := context.WithCancel(ctx)

	query := f.client.Collection("conversations").Doc(conversationID).Collection("messages").
		OrderBy("createdAt", firestore.Desc).Limit(limit)

	snapshots := query.Snapshots(feedCtx)

	go func() {
		defer snapshots.Stop()

		for {
			snap, err := snapshots.Next()
			if err != nil {
				if status.Code(err) == codes.Canceled || feedCtx.Err() != nil {
					return
				}
				logger.Error("Message feed for conversation %s failed: %v", conversationID, err)
				return
			}

			docs, err := snap.Documents.GetAll()
			if err != nil {
				logger.Error("Message feed for conversation %s could not read snapshot: %v", conversationID, err)
				continue
			}

			// Query order is newest first; walk backwards so the consumer sees
			// append order.
			for i := len(docs) - 1; i >= 0; i-- {
				var message entity.Message
				if err := docs[i].DataTo(&message); err != nil {
					logger.Warn("Skipping malformed message in feed for conversation %s: %v", conversationID, err)
					continue
				}
				deliver(&message)
			}
		}
	}()

	return cancel, nil
}
