package snapshotstore

import (
	"context"
	"sync"

	"github.com/goa-ai-labs/synapsecore/core/session"
)

// MemoryStore is an in-memory reference Store implementation, suitable for
// tests and single-process deployments. Each Save fully replaces the prior
// snapshot for a session; there is no history.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]session.RootSnapshot
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]session.RootSnapshot)}
}

// Save stores snap, replacing any prior snapshot for the same session ID.
func (m *MemoryStore) Save(_ context.Context, snap session.RootSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.SessionID] = snap
	return nil
}

// Load returns the most recently saved snapshot for sessionID, or
// ErrNotFound.
func (m *MemoryStore) Load(_ context.Context, sessionID string) (session.RootSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[sessionID]
	if !ok {
		return session.RootSnapshot{}, ErrNotFound
	}
	return snap, nil
}

// Delete removes sessionID's snapshot, if any. It is not an error to
// delete a session with no stored snapshot.
func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, sessionID)
	return nil
}
