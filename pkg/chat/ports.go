package chat

import (
	"context"
	"errors"
	"time"

	"immochat/models"
)

var (
	// ErrEmptyContent rejects blank sends before any store call is made.
	ErrEmptyContent = errors.New("empty message content")
	// ErrConversationNotReady means the conversation row could not be
	// created or verified; sending into it is refused.
	ErrConversationNotReady = errors.New("conversation could not be created or verified")
	ErrNotFound             = errors.New("not found")
)

// ConversationRepo owns the conversation record. Ensure is an upsert keyed
// on the id and must be safe to call on every send attempt.
type ConversationRepo interface {
	Ensure(ctx context.Context, conv models.Conversation) error
	Get(ctx context.Context, id string) (models.Conversation, error)
	List(ctx context.Context) ([]models.Conversation, error)
}

// MessageRepo is the append-only message log.
type MessageRepo interface {
	Append(ctx context.Context, msg models.Message) (models.Message, error)
	ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error)
	// MarkRead flips is_read on every unread non-admin message of the
	// conversation and reports how many rows changed.
	MarkRead(ctx context.Context, conversationID string) (int64, error)
}

// UserDirectory resolves display names for authenticated participants.
type UserDirectory interface {
	FirstName(ctx context.Context, userID uint) (string, bool)
}

// InboxRow is the derived per-conversation projection shown in the admin
// inbox. It is recomputed, never stored.
type InboxRow struct {
	ConversationID string    `json:"conversation_id"`
	DisplayName    string    `json:"display_name"`
	LastMessage    string    `json:"last_message"`
	LastMessageAt  time.Time `json:"last_message_at"`
	UnreadCount    int       `json:"unread_count"`
}
