package chat

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"immochat/models"
	"immochat/pkg/realtime"
)

// Service composes the conversation and message stores with the realtime
// bridge. Every send goes through here: validate locally, confirm the
// conversation exists (fail closed), append, then publish the persisted row.
type Service struct {
	conversations ConversationRepo
	messages      MessageRepo
	users         UserDirectory
	bridge        *realtime.Bridge
}

func NewService(conversations ConversationRepo, messages MessageRepo, users UserDirectory, bridge *realtime.Bridge) *Service {
	return &Service{
		conversations: conversations,
		messages:      messages,
		users:         users,
		bridge:        bridge,
	}
}

// Ensure upserts the conversation row for the given participant. A nil
// userID binds the thread to its guest identifier, derived from the id.
func (s *Service) Ensure(ctx context.Context, conversationID string, userID *uint) error {
	conv := models.Conversation{ID: conversationID, UserID: userID}
	if userID == nil {
		guest := "guest-" + conversationID
		conv.GuestIdentifier = &guest
	}
	if err := s.conversations.Ensure(ctx, conv); err != nil {
		return fmt.Errorf("%w: %v", ErrConversationNotReady, err)
	}
	return nil
}

// Send validates, ensures the conversation, appends the message and
// publishes the persisted row to the bridge. The returned message carries
// the server-assigned id and timestamp.
func (s *Service) Send(ctx context.Context, conversationID, content, role string, senderID *uint) (models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return models.Message{}, ErrEmptyContent
	}
	// Only the visitor side establishes the participant binding. An admin
	// reply goes into a conversation that already exists and must not
	// rebind it.
	if role != models.RoleAdmin {
		var participant *uint
		if role == models.RoleUser {
			participant = senderID
		}
		if err := s.Ensure(ctx, conversationID, participant); err != nil {
			return models.Message{}, err
		}
	}

	msg, err := s.messages.Append(ctx, models.Message{
		ConversationID: conversationID,
		Content:        content,
		SenderRole:     role,
		SenderID:       senderID,
	})
	if err != nil {
		return models.Message{}, err
	}
	s.bridge.Publish(msg)
	return msg, nil
}

// History returns the full ascending thread for initial load.
func (s *Service) History(ctx context.Context, conversationID string) ([]models.Message, error) {
	return s.messages.ListByConversation(ctx, conversationID)
}

// OpenConversation loads the thread and acknowledges its unread non-admin
// messages. An unknown conversation is ErrNotFound, not an empty thread.
// Mark-read trouble never blocks viewing; it only costs a badge.
func (s *Service) OpenConversation(ctx context.Context, conversationID string) ([]models.Message, error) {
	if _, err := s.conversations.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.messages.MarkRead(ctx, conversationID); err != nil {
		log.Printf("[chat] mark-read failed for %s: %v", conversationID, err)
	}
	return msgs, nil
}

// Inbox projects every conversation into its inbox row, most recent first.
func (s *Service) Inbox(ctx context.Context) ([]InboxRow, error) {
	convs, err := s.conversations.List(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]InboxRow, 0, len(convs))
	for _, conv := range convs {
		rows = append(rows, s.rowFor(ctx, conv))
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[j].LastMessageAt.Before(rows[i].LastMessageAt)
	})
	return rows, nil
}

// Row recomputes the inbox row of a single conversation.
func (s *Service) Row(ctx context.Context, conversationID string) (InboxRow, error) {
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return InboxRow{}, err
	}
	return s.rowFor(ctx, conv), nil
}

func (s *Service) rowFor(ctx context.Context, conv models.Conversation) InboxRow {
	row := InboxRow{
		ConversationID: conv.ID,
		DisplayName:    s.displayName(ctx, conv),
	}
	for _, m := range conv.Messages {
		if m.CreatedAt.After(row.LastMessageAt) || row.LastMessage == "" {
			row.LastMessage = m.Content
			row.LastMessageAt = m.CreatedAt
		}
		if !m.IsRead && m.SenderRole != models.RoleAdmin {
			row.UnreadCount++
		}
	}
	return row
}

func (s *Service) displayName(ctx context.Context, conv models.Conversation) string {
	if conv.UserID != nil && s.users != nil {
		if name, ok := s.users.FirstName(ctx, *conv.UserID); ok {
			return name
		}
	}
	short := conv.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return "Visiteur " + short
}
