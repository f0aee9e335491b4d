package identity

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

// StorageKey is the fixed key the conversation id is persisted under.
const StorageKey = "chat_conversation_id"

// Resolver hands out a stable conversation id for the local client profile.
// The first call mints a UUID and persists it; later calls return the same
// value, independent of login state. When the storage cannot be read or
// written the resolver falls back to an ephemeral id held in memory for the
// lifetime of this process only.
type Resolver struct {
	storage Storage

	mu        sync.Mutex
	ephemeral string
}

func NewResolver(storage Storage) *Resolver {
	return &Resolver{storage: storage}
}

// ConversationID returns the persisted conversation id, minting one first if
// none exists yet. It never fails; storage trouble degrades to an ephemeral
// in-memory id.
func (r *Resolver) ConversationID() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.storage != nil {
		id, ok, err := r.storage.Get(StorageKey)
		if err == nil && ok && id != "" {
			return id
		}
		if err == nil {
			id = uuid.NewString()
			if setErr := r.storage.Set(StorageKey, id); setErr == nil {
				return id
			} else {
				log.Printf("[identity] persist failed, using ephemeral id: %v", setErr)
			}
		} else {
			log.Printf("[identity] storage read failed, using ephemeral id: %v", err)
		}
	}

	if r.ephemeral == "" {
		r.ephemeral = uuid.NewString()
	}
	return r.ephemeral
}
