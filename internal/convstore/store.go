// Package convstore persists the active support conversation identifier.
//
// The widget resumes whatever conversation this store names. Values are
// scoped per server URL so switching accounts does not resume a foreign
// conversation.
package convstore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"sync"
)

// Key is the well-known name of the persisted value.
const Key = "support:active-conversation"

// Store reads and writes the active conversation id. Get returns "" when
// nothing is stored.
type Store interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, conversationID string) error
	Clear(ctx context.Context) error
}

// scopedKey returns Key suffixed with a short hash of baseURL.
func scopedKey(baseURL string) string {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return Key
	}
	hash := sha1.Sum([]byte(baseURL))
	return Key + ":" + hex.EncodeToString(hash[:6])
}

// MemoryStore keeps the value in process memory.
type MemoryStore struct {
	mu sync.Mutex
	id string
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Get(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id, nil
}

func (m *MemoryStore) Set(_ context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = conversationID
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = ""
	return nil
}
