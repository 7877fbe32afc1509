package entity

import "time"

// User carries only what the chat core needs from the identity collaborator:
// an identifier and a display name for inbox presentation.
type User struct {
	ID        string    `json:"id" firestore:"id"`
	Username  string    `json:"username" firestore:"username"`
	Role      string    `json:"role" firestore:"role"`
	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
}
