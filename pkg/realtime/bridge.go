package realtime

import (
	"sync"

	"immochat/models"
)

const defaultBuffer = 64

// Bridge fans message inserts out to live subscriptions. A subscription is
// either scoped to one conversation (visitor widget) or global (admin
// inbox). Delivery is at-least-once from the consumer's point of view: the
// publisher may be the same party that inserted the row, and a slow consumer
// whose buffer is full simply misses that delivery rather than blocking the
// send path.
type Bridge struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
}

// Subscription is a live insert stream. C yields inserted messages until
// Close is called. Close is mandatory when the owning thread goes away;
// a forgotten subscription keeps receiving forever.
type Subscription struct {
	C <-chan models.Message

	id             uint64
	conversationID string
	global         bool
	ch             chan models.Message
	bridge         *Bridge
	once           sync.Once
}

func NewBridge(buffer int) *Bridge {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bridge{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
	}
}

// SubscribeConversation delivers only inserts whose conversation id matches.
func (b *Bridge) SubscribeConversation(conversationID string) *Subscription {
	return b.subscribe(conversationID, false)
}

// SubscribeAll delivers every insert on the message log.
func (b *Bridge) SubscribeAll() *Subscription {
	return b.subscribe("", true)
}

func (b *Bridge) subscribe(conversationID string, global bool) *Subscription {
	ch := make(chan models.Message, b.buffer)
	sub := &Subscription{
		C:              ch,
		conversationID: conversationID,
		global:         global,
		ch:             ch,
		bridge:         b,
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Publish hands an inserted row to every matching subscription. It never
// blocks the caller: a full buffer drops that delivery.
func (b *Bridge) Publish(msg models.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.global && sub.conversationID != msg.ConversationID {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (b *Bridge) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close detaches the subscription and closes its channel. Safe to call more
// than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bridge.mu.Lock()
		delete(s.bridge.subs, s.id)
		s.bridge.mu.Unlock()
		close(s.ch)
	})
}
