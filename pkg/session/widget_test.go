package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"immochat/models"
	"immochat/pkg/chat"
	"immochat/pkg/realtime"
)

// fakeMessenger stands in for chat.Service. Send optionally runs a hook
// before returning so tests can race a bridge delivery ahead of the
// response.
type fakeMessenger struct {
	mu         sync.Mutex
	nextID     uint
	clock      time.Time
	history    map[string][]models.Message
	ensureErr  error
	historyErr error
	sendErr    error
	beforeSend func(models.Message)
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		nextID:  1,
		clock:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		history: map[string][]models.Message{},
	}
}

func (f *fakeMessenger) Ensure(_ context.Context, _ string, _ *uint) error {
	return f.ensureErr
}

func (f *fakeMessenger) History(_ context.Context, conversationID string) ([]models.Message, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Message(nil), f.history[conversationID]...), nil
}

func (f *fakeMessenger) Send(_ context.Context, conversationID, content, role string, senderID *uint) (models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return models.Message{}, chat.ErrEmptyContent
	}
	if f.sendErr != nil {
		return models.Message{}, f.sendErr
	}
	f.mu.Lock()
	msg := models.Message{
		ID:             f.nextID,
		ConversationID: conversationID,
		Content:        content,
		SenderRole:     role,
		SenderID:       senderID,
	}
	f.nextID++
	f.clock = f.clock.Add(time.Second)
	msg.CreatedAt = f.clock
	f.history[conversationID] = append(f.history[conversationID], msg)
	hook := f.beforeSend
	f.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	return msg, nil
}

func (f *fakeMessenger) seed(conversationID string, contents ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, content := range contents {
		f.clock = f.clock.Add(time.Second)
		f.history[conversationID] = append(f.history[conversationID], models.Message{
			ID:             f.nextID,
			ConversationID: conversationID,
			Content:        content,
			SenderRole:     models.RoleGuest,
			CreatedAt:      f.clock,
		})
		f.nextID++
	}
}

func waitFor(t *testing.T, ch <-chan models.Message) models.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for a thread message")
	}
	return models.Message{}
}

func countID(msgs []models.Message, id uint) int {
	n := 0
	for _, m := range msgs {
		if m.ID == id {
			n++
		}
	}
	return n
}

func TestOpenLoadsHistoryAndSubscribes(t *testing.T) {
	svc := newFakeMessenger()
	svc.seed("g1", "Bonjour", "Des photos du bien ?")
	bridge := realtime.NewBridge(8)

	s, err := OpenWidget(context.Background(), svc, bridge, "g1", nil, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer s.Close()

	msgs := s.Messages()
	if len(msgs) != 2 || msgs[0].Content != "Bonjour" {
		t.Fatalf("expected seeded history in order, got %+v", msgs)
	}
	if bridge.Subscribers() != 1 {
		t.Fatalf("expected one live subscription after open, got %d", bridge.Subscribers())
	}

	s.Close()
	if bridge.Subscribers() != 0 {
		t.Fatalf("expected subscription released on close, got %d", bridge.Subscribers())
	}
}

func TestOpenStaysIdleWhenConversationUnavailable(t *testing.T) {
	svc := newFakeMessenger()
	svc.ensureErr = errors.New("tables missing")
	bridge := realtime.NewBridge(8)

	if _, err := OpenWidget(context.Background(), svc, bridge, "g1", nil, nil); err == nil {
		t.Fatalf("expected open to fail when the conversation cannot be ensured")
	}
	if bridge.Subscribers() != 0 {
		t.Fatalf("a failed open must not leak a subscription, got %d", bridge.Subscribers())
	}
}

func TestSendRendersExactlyOnce(t *testing.T) {
	svc := newFakeMessenger()
	bridge := realtime.NewBridge(8)
	delivered := make(chan models.Message, 8)

	s, err := OpenWidget(context.Background(), svc, bridge, "g1", nil, func(m models.Message) { delivered <- m })
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer s.Close()

	msg, err := s.Send(context.Background(), "Bonjour")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	got := waitFor(t, delivered)
	if got.ID != msg.ID || got.Content != "Bonjour" {
		t.Fatalf("expected the sent message, got %+v", got)
	}
	if n := countID(s.Messages(), msg.ID); n != 1 {
		t.Fatalf("expected exactly one bubble, got %d", n)
	}
}

func TestNoDuplicateWhenBridgeEchoesAfterSend(t *testing.T) {
	svc := newFakeMessenger()
	bridge := realtime.NewBridge(8)
	delivered := make(chan models.Message, 8)

	s, err := OpenWidget(context.Background(), svc, bridge, "g1", nil, func(m models.Message) { delivered <- m })
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer s.Close()

	msg, err := s.Send(context.Background(), "Bonjour")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	waitFor(t, delivered)

	// the bridge re-delivers the row the sender itself inserted
	bridge.Publish(msg)
	// then a distinct sentinel, so we know the echo was processed
	sentinel := models.Message{ID: 999, ConversationID: "g1", Content: "sentinel", SenderRole: models.RoleAdmin, CreatedAt: msg.CreatedAt.Add(time.Second)}
	bridge.Publish(sentinel)
	if got := waitFor(t, delivered); got.ID != sentinel.ID {
		t.Fatalf("expected sentinel delivery, got id %d", got.ID)
	}

	if n := countID(s.Messages(), msg.ID); n != 1 {
		t.Fatalf("echoed delivery must be a no-op, found %d entries", n)
	}
}

func TestNoDuplicateWhenBridgeArrivesBeforeSendReturns(t *testing.T) {
	svc := newFakeMessenger()
	bridge := realtime.NewBridge(8)
	delivered := make(chan models.Message, 8)

	svc.beforeSend = func(msg models.Message) {
		// push channel wins the race: deliver before Send returns
		bridge.Publish(msg)
		waitFor(t, delivered)
	}
	s, err := OpenWidget(context.Background(), svc, bridge, "g1", nil, func(m models.Message) { delivered <- m })
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer s.Close()

	msg, err := s.Send(context.Background(), "Bonjour")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if n := countID(s.Messages(), msg.ID); n != 1 {
		t.Fatalf("expected one entry in either arrival order, got %d", n)
	}
	select {
	case extra := <-delivered:
		t.Fatalf("second arrival must not fire the callback again, got %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmptySendRejectedLocally(t *testing.T) {
	svc := newFakeMessenger()
	bridge := realtime.NewBridge(8)

	s, err := OpenWidget(context.Background(), svc, bridge, "g1", nil, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer s.Close()

	if _, err := s.Send(context.Background(), "   "); !errors.Is(err, chat.ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
	if len(s.Messages()) != 0 {
		t.Fatalf("rejected send must not render anything")
	}
}

func TestFailedSendRendersNothing(t *testing.T) {
	svc := newFakeMessenger()
	bridge := realtime.NewBridge(8)

	s, err := OpenWidget(context.Background(), svc, bridge, "g1", nil, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer s.Close()

	svc.sendErr = errors.New("connection reset")
	if _, err := s.Send(context.Background(), "Bonjour"); err == nil {
		t.Fatalf("expected send failure")
	}
	if len(s.Messages()) != 0 {
		t.Fatalf("a failed send must not be rendered as sent")
	}
}

func TestNewArrivalsAppendAtEnd(t *testing.T) {
	svc := newFakeMessenger()
	svc.seed("g1", "un", "deux")
	bridge := realtime.NewBridge(8)
	delivered := make(chan models.Message, 8)

	s, err := OpenWidget(context.Background(), svc, bridge, "g1", nil, func(m models.Message) { delivered <- m })
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer s.Close()

	bridge.Publish(models.Message{ID: 42, ConversationID: "g1", Content: "trois", SenderRole: models.RoleAdmin})
	waitFor(t, delivered)

	msgs := s.Messages()
	if len(msgs) != 3 || msgs[2].ID != 42 {
		t.Fatalf("expected the new arrival appended at the end, got %+v", msgs)
	}
}

func TestLateDeliveryAfterCloseDiscarded(t *testing.T) {
	svc := newFakeMessenger()
	bridge := realtime.NewBridge(8)
	delivered := make(chan models.Message, 8)

	s, err := OpenWidget(context.Background(), svc, bridge, "g1", nil, func(m models.Message) { delivered <- m })
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	s.Close()

	bridge.Publish(models.Message{ID: 7, ConversationID: "g1", Content: "tard"})
	select {
	case msg := <-delivered:
		t.Fatalf("closed session must discard deliveries, got %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
	if len(s.Messages()) != 0 {
		t.Fatalf("closed session must not grow its thread")
	}
	if _, err := s.Send(context.Background(), "encore"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}
