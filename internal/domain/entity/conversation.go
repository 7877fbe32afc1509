package entity

import (
	"fmt"
	"time"
)

// Conversation is the single chat thread between a buyer and a seller over one
// listing. Its ID is derived from the three parties, so both sides always land
// on the same record no matter who opens the chat first.
type Conversation struct {
	ID            string    `json:"id" firestore:"id"`
	ListingID     string    `json:"listing_id" firestore:"listingId"`
	BuyerID       string    `json:"buyer_id" firestore:"buyerId"`
	SellerID      string    `json:"seller_id" firestore:"sellerId"`
	Participants  []string  `json:"participants" firestore:"participants"`
	LastMessage   string    `json:"last_message,omitempty" firestore:"lastMessage"`
	LastMessageAt time.Time `json:"last_message_at" firestore:"lastMessageAt"`
	CreatedAt     time.Time `json:"created_at" firestore:"createdAt"`
	UpdatedAt     time.Time `json:"updated_at" firestore:"updatedAt"`
}

// ConversationID derives the deterministic conversation key. Ordering is fixed
// (listing, buyer, seller) so concurrent creation by either participant
// converges on one document.
func ConversationID(listingID, buyerID, sellerID string) string {
	return fmt.Sprintf("%s_%s_%s", listingID, buyerID, sellerID)
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the counterparty for the given user.
func (c *Conversation) OtherParticipant(userID string) string {
	if userID == c.BuyerID {
		return c.SellerID
	}
	return c.BuyerID
}
