package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypePDF   = "pdf"
)

// Message is one immutable entry in a conversation's log. Exactly one of
// Text/FileURL is set depending on Type.
type Message struct {
	ID             string    `json:"id" firestore:"id"`
	ConversationID string    `json:"conversation_id" firestore:"conversationId"`
	SenderID       string    `json:"sender_id" firestore:"senderId"`
	Type           string    `json:"type" firestore:"type"` // "text", "image", "pdf"
	Text           string    `json:"text,omitempty" firestore:"text,omitempty"`
	FileURL        string    `json:"file_url,omitempty" firestore:"fileUrl,omitempty"`
	CreatedAt      time.Time `json:"created_at" firestore:"createdAt"`
}

// NewMessageID returns a server-assigned identifier whose lexicographic order
// matches append order: a zero-padded unix-millis prefix breaks createdAt ties
// deterministically, and a uuid suffix keeps it collision resistant.
func NewMessageID(at time.Time) string {
	return fmt.Sprintf("%013d-%s", at.UnixMilli(), uuid.New().String())
}
