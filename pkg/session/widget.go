package session

import (
	"context"
	"errors"
	"sync"

	"immochat/models"
	"immochat/pkg/realtime"
)

var ErrSessionClosed = errors.New("session closed")

// Messenger is the store-side surface a session needs. *chat.Service
// implements it.
type Messenger interface {
	Ensure(ctx context.Context, conversationID string, userID *uint) error
	History(ctx context.Context, conversationID string) ([]models.Message, error)
	Send(ctx context.Context, conversationID, content, role string, senderID *uint) (models.Message, error)
}

// WidgetSession is one visitor's open chat thread. Opening ensures the
// conversation, loads history and subscribes to inserts scoped to it;
// closing unsubscribes. Messages enter the thread through Add exactly once
// regardless of whether the send response or the bridge delivery lands
// first, and deliveries arriving after Close are discarded.
type WidgetSession struct {
	svc            Messenger
	conversationID string
	role           string
	userID         *uint
	onMessage      func(models.Message)

	mu     sync.Mutex
	thread *Thread
	sub    *realtime.Subscription
	closed bool

	// cbMu keeps onMessage invocations one at a time, non-reentrant.
	cbMu sync.Mutex
}

// OpenWidget brings the session from idle to subscribed. If the
// conversation cannot be ensured the session never opens: the caller shows
// a blocking configuration error and must not allow sending.
func OpenWidget(ctx context.Context, svc Messenger, bridge *realtime.Bridge, conversationID string, userID *uint, onMessage func(models.Message)) (*WidgetSession, error) {
	if err := svc.Ensure(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	history, err := svc.History(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	role := models.RoleGuest
	if userID != nil {
		role = models.RoleUser
	}
	s := &WidgetSession{
		svc:            svc,
		conversationID: conversationID,
		role:           role,
		userID:         userID,
		onMessage:      onMessage,
		thread:         NewThread(),
	}
	for _, msg := range history {
		s.thread.Add(msg)
	}
	s.sub = bridge.SubscribeConversation(conversationID)
	go s.receive()
	return s, nil
}

func (s *WidgetSession) receive() {
	for msg := range s.sub.C {
		s.apply(msg)
	}
}

// apply inserts a message from either arrival path. The id check makes the
// second arrival a no-op, and a closed session drops it entirely.
func (s *WidgetSession) apply(msg models.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	added := s.thread.Add(msg)
	s.mu.Unlock()

	if added && s.onMessage != nil {
		s.cbMu.Lock()
		s.onMessage(msg)
		s.cbMu.Unlock()
	}
}

// Send appends through the store and mirrors the confirmed row into the
// thread. On failure nothing is rendered; the caller keeps the input so the
// user can retry.
func (s *WidgetSession) Send(ctx context.Context, content string) (models.Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.Message{}, ErrSessionClosed
	}
	s.mu.Unlock()

	msg, err := s.svc.Send(ctx, s.conversationID, content, s.role, s.userID)
	if err != nil {
		return models.Message{}, err
	}
	s.apply(msg)
	return msg, nil
}

func (s *WidgetSession) ConversationID() string {
	return s.conversationID
}

func (s *WidgetSession) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thread.Messages()
}

// Close unsubscribes the bridge stream. In-flight sends are not cancelled;
// their late results are discarded by apply.
func (s *WidgetSession) Close() {
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
