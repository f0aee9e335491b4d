package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"immochat/models"
	"immochat/pkg/realtime"
)

type memConversationRepo struct {
	rows      map[string]models.Conversation
	messages  *memMessageRepo
	ensureErr error
	// number of duplicate-key style conflicts to raise before succeeding
	conflicts int
}

func newMemConversationRepo(messages *memMessageRepo) *memConversationRepo {
	return &memConversationRepo{rows: map[string]models.Conversation{}, messages: messages}
}

func (r *memConversationRepo) Ensure(_ context.Context, conv models.Conversation) error {
	if r.ensureErr != nil {
		return r.ensureErr
	}
	if r.conflicts > 0 {
		r.conflicts--
		if _, ok := r.rows[conv.ID]; ok {
			// conflict on an existing id is absorbed, like the gorm repo does
			return nil
		}
	}
	r.rows[conv.ID] = conv
	return nil
}

func (r *memConversationRepo) Get(_ context.Context, id string) (models.Conversation, error) {
	conv, ok := r.rows[id]
	if !ok {
		return models.Conversation{}, ErrNotFound
	}
	if r.messages != nil {
		conv.Messages = r.messages.byConversation(id)
	}
	return conv, nil
}

func (r *memConversationRepo) List(_ context.Context) ([]models.Conversation, error) {
	out := make([]models.Conversation, 0, len(r.rows))
	for _, conv := range r.rows {
		if r.messages != nil {
			conv.Messages = r.messages.byConversation(conv.ID)
		}
		out = append(out, conv)
	}
	return out, nil
}

type memMessageRepo struct {
	rows      []models.Message
	nextID    uint
	clock     time.Time
	appendErr error
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{nextID: 1, clock: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (r *memMessageRepo) Append(_ context.Context, msg models.Message) (models.Message, error) {
	if r.appendErr != nil {
		return models.Message{}, r.appendErr
	}
	msg.ID = r.nextID
	r.nextID++
	r.clock = r.clock.Add(time.Second)
	msg.CreatedAt = r.clock
	r.rows = append(r.rows, msg)
	return msg, nil
}

func (r *memMessageRepo) ListByConversation(_ context.Context, conversationID string) ([]models.Message, error) {
	return r.byConversation(conversationID), nil
}

func (r *memMessageRepo) byConversation(conversationID string) []models.Message {
	var out []models.Message
	for _, m := range r.rows {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out
}

func (r *memMessageRepo) MarkRead(_ context.Context, conversationID string) (int64, error) {
	var n int64
	for i := range r.rows {
		m := &r.rows[i]
		if m.ConversationID == conversationID && !m.IsRead && m.SenderRole != models.RoleAdmin {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

type staticDirectory map[uint]string

func (d staticDirectory) FirstName(_ context.Context, userID uint) (string, bool) {
	name, ok := d[userID]
	return name, ok
}

func newTestService() (*Service, *memConversationRepo, *memMessageRepo, *realtime.Bridge) {
	messages := newMemMessageRepo()
	convs := newMemConversationRepo(messages)
	bridge := realtime.NewBridge(8)
	return NewService(convs, messages, staticDirectory{7: "Claire"}, bridge), convs, messages, bridge
}

func TestSendGuestMessage(t *testing.T) {
	svc, convs, _, bridge := newTestService()
	sub := bridge.SubscribeConversation("g1")
	defer sub.Close()

	msg, err := svc.Send(context.Background(), "g1", "Bonjour", models.RoleGuest, nil)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if msg.ID == 0 || msg.CreatedAt.IsZero() {
		t.Fatalf("expected server-assigned id and timestamp, got %+v", msg)
	}

	conv, ok := convs.rows["g1"]
	if !ok {
		t.Fatalf("expected conversation row to be created")
	}
	if conv.GuestIdentifier == nil || *conv.GuestIdentifier != "guest-g1" {
		t.Fatalf("expected guest identifier guest-g1, got %+v", conv.GuestIdentifier)
	}

	select {
	case delivered := <-sub.C:
		if delivered.ID != msg.ID {
			t.Fatalf("expected bridge delivery of message %d, got %d", msg.ID, delivered.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected bridge delivery after send")
	}
}

func TestSendEmptyContentRejectedLocally(t *testing.T) {
	svc, convs, messages, _ := newTestService()

	for _, content := range []string{"", "   ", "\n\t"} {
		if _, err := svc.Send(context.Background(), "g1", content, models.RoleGuest, nil); !errors.Is(err, ErrEmptyContent) {
			t.Fatalf("expected ErrEmptyContent for %q, got %v", content, err)
		}
	}
	if len(convs.rows) != 0 || len(messages.rows) != 0 {
		t.Fatalf("expected no store calls for empty content")
	}
}

func TestSendFailsClosedWhenConversationUnavailable(t *testing.T) {
	svc, convs, messages, _ := newTestService()
	convs.ensureErr = errors.New("schema missing")

	_, err := svc.Send(context.Background(), "g1", "Bonjour", models.RoleGuest, nil)
	if !errors.Is(err, ErrConversationNotReady) {
		t.Fatalf("expected ErrConversationNotReady, got %v", err)
	}
	if len(messages.rows) != 0 {
		t.Fatalf("message must not be appended into an unconfirmed conversation")
	}
}

func TestEnsureIdempotent(t *testing.T) {
	svc, convs, _, _ := newTestService()
	convs.conflicts = 1

	// double-click: two ensure calls in quick succession for a fresh id
	if err := svc.Ensure(context.Background(), "g1", nil); err != nil {
		t.Fatalf("first ensure failed: %v", err)
	}
	if err := svc.Ensure(context.Background(), "g1", nil); err != nil {
		t.Fatalf("second ensure must absorb the conflict, got %v", err)
	}
	if len(convs.rows) != 1 {
		t.Fatalf("expected exactly one conversation row, got %d", len(convs.rows))
	}
}

func TestAdminReplyKeepsParticipantBinding(t *testing.T) {
	svc, convs, _, _ := newTestService()

	if _, err := svc.Send(context.Background(), "g1", "Bonjour", models.RoleGuest, nil); err != nil {
		t.Fatalf("guest send failed: %v", err)
	}
	admin := uint(3)
	if _, err := svc.Send(context.Background(), "g1", "Bonjour, je peux vous aider ?", models.RoleAdmin, &admin); err != nil {
		t.Fatalf("admin send failed: %v", err)
	}

	conv := convs.rows["g1"]
	if conv.UserID != nil {
		t.Fatalf("admin reply must not rebind the conversation, got user id %v", *conv.UserID)
	}
	if conv.GuestIdentifier == nil || *conv.GuestIdentifier != "guest-g1" {
		t.Fatalf("expected guest binding to survive the admin reply")
	}
}

func TestHistoryAscending(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	for _, content := range []string{"un", "deux", "trois"} {
		if _, err := svc.Send(ctx, "g1", content, models.RoleGuest, nil); err != nil {
			t.Fatalf("send failed: %v", err)
		}
	}
	msgs, err := svc.History(ctx, "g1")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("history not ascending at index %d", i)
		}
	}
}

func TestOpenConversationUnknownID(t *testing.T) {
	svc, _, _, _ := newTestService()

	if _, err := svc.OpenConversation(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for an unknown conversation, got %v", err)
	}
}

func TestInboxRowsAndUnreadAccounting(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	admin := uint(3)
	user := uint(7)

	if _, err := svc.Send(ctx, "g1", "Bonjour", models.RoleGuest, nil); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if _, err := svc.Send(ctx, "g1", "Merci", models.RoleGuest, nil); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if _, err := svc.Send(ctx, "g1", "Je regarde", models.RoleAdmin, &admin); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if _, err := svc.Send(ctx, "u1", "Des visites samedi ?", models.RoleUser, &user); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	rows, err := svc.Inbox(ctx)
	if err != nil {
		t.Fatalf("inbox failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 inbox rows, got %d", len(rows))
	}
	// most recent conversation first
	if rows[0].ConversationID != "u1" {
		t.Fatalf("expected u1 ranked first, got %s", rows[0].ConversationID)
	}
	if rows[0].DisplayName != "Claire" {
		t.Fatalf("expected authenticated display name, got %q", rows[0].DisplayName)
	}
	if rows[1].DisplayName != "Visiteur g1" {
		t.Fatalf("expected guest display name, got %q", rows[1].DisplayName)
	}
	if rows[1].LastMessage != "Je regarde" {
		t.Fatalf("expected last message preview, got %q", rows[1].LastMessage)
	}
	// admin messages never count as unread
	if rows[1].UnreadCount != 2 {
		t.Fatalf("expected 2 unread for g1, got %d", rows[1].UnreadCount)
	}

	// opening acknowledges all unread non-admin rows
	if _, err := svc.OpenConversation(ctx, "g1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	row, err := svc.Row(ctx, "g1")
	if err != nil {
		t.Fatalf("row failed: %v", err)
	}
	if row.UnreadCount != 0 {
		t.Fatalf("expected unread reset after open, got %d", row.UnreadCount)
	}
}
