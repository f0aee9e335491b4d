package models

import "time"

// Sender roles. The role decides rendering side and inbox attribution;
// SenderID is only present for authenticated senders.
const (
	RoleGuest = "guest"
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Message is one immutable chat turn. Rows are only appended; only IsRead is
// mutated afterwards (admin acknowledgement).
type Message struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID string    `gorm:"size:36;index;not null" json:"conversation_id"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	SenderRole     string    `gorm:"size:20;not null" json:"sender_role"`
	SenderID       *uint     `json:"sender_id,omitempty"`
	IsRead         bool      `gorm:"default:false" json:"is_read"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}
