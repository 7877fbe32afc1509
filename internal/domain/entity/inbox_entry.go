package entity

import "time"

// InboxEntry is the per-user denormalized summary of one conversation. Two
// copies exist per conversation, one in each participant's inbox, and both are
// updated by the message fan-out. It carries only identifiers; display names
// are resolved at read time so renames never go stale here.
type InboxEntry struct {
	ConversationID string    `json:"conversation_id" firestore:"conversationId"`
	OtherUserID    string    `json:"other_user_id" firestore:"otherUserId"`
	ListingID      string    `json:"listing_id" firestore:"listingId"`
	LastMessage    string    `json:"last_message,omitempty" firestore:"lastMessage"`
	LastMessageAt  time.Time `json:"last_message_at" firestore:"lastMessageAt"`
	CreatedAt      time.Time `json:"created_at" firestore:"createdAt"`
}
