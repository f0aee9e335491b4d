package session

import (
	"context"
	"log"
	"sort"
	"sync"

	"immochat/models"
	"immochat/pkg/chat"
	"immochat/pkg/realtime"
)

// InboxBackend is the store-side surface of the admin inbox. *chat.Service
// implements it.
type InboxBackend interface {
	Inbox(ctx context.Context) ([]chat.InboxRow, error)
	Row(ctx context.Context, conversationID string) (chat.InboxRow, error)
	OpenConversation(ctx context.Context, conversationID string) ([]models.Message, error)
	Send(ctx context.Context, conversationID, content, role string, senderID *uint) (models.Message, error)
}

// InboxEvents are the admin-side callbacks. All are optional and are invoked
// one at a time, never concurrently with each other.
type InboxEvents struct {
	// ThreadMessage fires once per message id entering the open thread.
	ThreadMessage func(models.Message)
	// RowChanged fires whenever one inbox row is recomputed.
	RowChanged func(chat.InboxRow)
	// Notification fires for inserts outside the open conversation.
	Notification func(models.Message)
}

// InboxSession aggregates every conversation for the back-office and tracks
// one open thread at a time. A single global bridge subscription feeds both
// the open thread (dedupe-by-id) and per-row recomputation; no insert ever
// triggers a full inbox reload.
type InboxSession struct {
	svc     InboxBackend
	adminID uint
	events  InboxEvents

	mu     sync.Mutex
	rows   map[string]chat.InboxRow
	openID string
	thread *Thread
	sub    *realtime.Subscription
	closed bool

	// cbMu keeps event invocations one at a time, non-reentrant.
	cbMu sync.Mutex
}

func OpenInbox(ctx context.Context, svc InboxBackend, bridge *realtime.Bridge, adminID uint, events InboxEvents) (*InboxSession, error) {
	initial, err := svc.Inbox(ctx)
	if err != nil {
		return nil, err
	}
	s := &InboxSession{
		svc:     svc,
		adminID: adminID,
		events:  events,
		rows:    make(map[string]chat.InboxRow, len(initial)),
	}
	for _, row := range initial {
		s.rows[row.ConversationID] = row
	}
	s.sub = bridge.SubscribeAll()
	go s.receive()
	return s, nil
}

// Rows returns the inbox ranked by recency.
func (s *InboxSession) Rows() []chat.InboxRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.InboxRow, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[j].LastMessageAt.Before(out[i].LastMessageAt)
	})
	return out
}

// Open selects a conversation: loads its thread, acknowledges its unread
// messages (best-effort, done by the backend) and zeroes the row badge.
// Any previously open thread is simply replaced; the global subscription
// stays as is.
func (s *InboxSession) Open(ctx context.Context, conversationID string) ([]models.Message, error) {
	history, err := s.svc.OpenConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.openID = conversationID
	s.thread = NewThread()
	for _, msg := range history {
		s.thread.Add(msg)
	}
	var changed *chat.InboxRow
	if row, ok := s.rows[conversationID]; ok && row.UnreadCount != 0 {
		row.UnreadCount = 0
		s.rows[conversationID] = row
		changed = &row
	}
	msgs := s.thread.Messages()
	s.mu.Unlock()

	if changed != nil && s.events.RowChanged != nil {
		s.cbMu.Lock()
		s.events.RowChanged(*changed)
		s.cbMu.Unlock()
	}
	return msgs, nil
}

// Send replies as admin into the open conversation.
func (s *InboxSession) Send(ctx context.Context, content string) (models.Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.Message{}, ErrSessionClosed
	}
	conversationID := s.openID
	s.mu.Unlock()
	if conversationID == "" {
		return models.Message{}, chat.ErrNotFound
	}

	adminID := s.adminID
	msg, err := s.svc.Send(ctx, conversationID, content, models.RoleAdmin, &adminID)
	if err != nil {
		return models.Message{}, err
	}
	s.applyInsert(msg)
	return msg, nil
}

func (s *InboxSession) receive() {
	for msg := range s.sub.C {
		s.applyInsert(msg)
	}
}

// applyInsert handles one inserted row from either the admin's own send
// response or the global stream: append to the open thread when it belongs
// there (dedupe-by-id), notify otherwise, and recompute only the affected
// inbox row.
func (s *InboxSession) applyInsert(msg models.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	addedToThread := false
	inOpen := msg.ConversationID == s.openID && s.thread != nil
	if inOpen {
		addedToThread = s.thread.Add(msg)
	}

	row, known := s.rows[msg.ConversationID]
	var changed *chat.InboxRow
	if known {
		if addedToThread || !inOpen {
			if msg.CreatedAt.After(row.LastMessageAt) || row.LastMessage == "" {
				row.LastMessage = msg.Content
				row.LastMessageAt = msg.CreatedAt
			}
			if msg.SenderRole != models.RoleAdmin && !msg.IsRead {
				row.UnreadCount++
			}
			s.rows[msg.ConversationID] = row
			changed = &row
		}
	}
	s.mu.Unlock()

	if !known {
		// first message of a conversation we have never listed: fetch its
		// row once instead of reloading the whole inbox
		fresh, err := s.svc.Row(context.Background(), msg.ConversationID)
		if err != nil {
			log.Printf("[inbox] row fetch failed for %s: %v", msg.ConversationID, err)
		} else {
			s.mu.Lock()
			if !s.closed {
				if _, ok := s.rows[fresh.ConversationID]; !ok {
					s.rows[fresh.ConversationID] = fresh
					changed = &fresh
				}
			}
			s.mu.Unlock()
		}
	}

	s.cbMu.Lock()
	if addedToThread && s.events.ThreadMessage != nil {
		s.events.ThreadMessage(msg)
	}
	if !inOpen && s.events.Notification != nil {
		s.events.Notification(msg)
	}
	if changed != nil && s.events.RowChanged != nil {
		s.events.RowChanged(*changed)
	}
	s.cbMu.Unlock()
}

func (s *InboxSession) OpenConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openID
}

func (s *InboxSession) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.thread == nil {
		return nil
	}
	return s.thread.Messages()
}

// Close unsubscribes the global stream; late deliveries are discarded.
func (s *InboxSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.sub
	s.mu.Unlock()
	sub.Close()
}
