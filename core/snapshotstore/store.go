// Package snapshotstore persists the versioned RootSnapshot a core/session
// Manager produces (spec §6, §8 property 10: "identical sequence of
// outcomes applied to two copies of a weight-and-posterior state yields
// identical resulting states — no hidden mutable global state"). The wire
// format is the structured RootSnapshot value itself; backends only decide
// where those bytes live, never reshape them into a backend-native schema.
package snapshotstore

import (
	"context"
	"errors"

	"github.com/goa-ai-labs/synapsecore/core/session"
)

// ErrNotFound indicates no snapshot exists for the requested session ID.
var ErrNotFound = errors.New("snapshotstore: not found")

// Store persists and retrieves RootSnapshots keyed by session ID.
type Store interface {
	Save(ctx context.Context, snap session.RootSnapshot) error
	Load(ctx context.Context, sessionID string) (session.RootSnapshot, error)
	Delete(ctx context.Context, sessionID string) error
}
