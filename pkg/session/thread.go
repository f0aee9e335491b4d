package session

import "immochat/models"

// Thread is the rendered message list of one open conversation. It is a set
// keyed by message id with stable insertion order: whichever of the append
// response or the bridge delivery arrives first wins, the second arrival of
// the same id is a no-op. That structural dedupe is what keeps the
// optimistic local write and the push channel from double-rendering.
type Thread struct {
	order []models.Message
	seen  map[uint]struct{}
}

func NewThread() *Thread {
	return &Thread{seen: map[uint]struct{}{}}
}

// Add appends the message unless its id is already present. Returns whether
// the message entered the thread.
func (t *Thread) Add(msg models.Message) bool {
	if _, ok := t.seen[msg.ID]; ok {
		return false
	}
	t.seen[msg.ID] = struct{}{}
	t.order = append(t.order, msg)
	return true
}

// Messages returns the thread in arrival order. Initial history is loaded
// ascending; later arrivals only ever append.
func (t *Thread) Messages() []models.Message {
	out := make([]models.Message, len(t.order))
	copy(out, t.order)
	return out
}

func (t *Thread) Len() int {
	return len(t.order)
}
