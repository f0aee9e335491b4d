package models

import "time"

// Conversation is the durable identity of one chat thread. The id is minted
// client-side (UUID) so a guest keeps the same thread across page loads.
// Exactly one of GuestIdentifier / UserID is set and the binding never
// changes type once created.
type Conversation struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	GuestIdentifier *string   `gorm:"size:42" json:"guest_identifier,omitempty"`
	UserID          *uint     `gorm:"index" json:"user_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	Messages []Message `gorm:"foreignKey:ConversationID" json:"-"`
}
