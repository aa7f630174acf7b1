// Package mongostore provides a MongoDB implementation of
// snapshotstore.Store. It persists the RootSnapshot's structured value as
// an opaque JSON payload rather than an expanded BSON document, so the
// schema a caller restores from never depends on Mongo's own document
// shape (spec §6: the wire format is the versioned structured value).
package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/goa-ai-labs/synapsecore/core/session"
	"github.com/goa-ai-labs/synapsecore/core/snapshotstore"
)

// Store is a MongoDB-backed snapshotstore.Store.
type Store struct {
	collection *mongo.Collection
}

var _ snapshotstore.Store = (*Store)(nil)

// snapshotDocument is the MongoDB document shape. Payload carries the
// RootSnapshot JSON-encoded; Version and UpdatedAt are denormalized out of
// it purely so an operator can query/index on them without decoding
// Payload.
type snapshotDocument struct {
	SessionID string    `bson:"_id"`
	Version   int       `bson:"version"`
	UpdatedAt time.Time `bson:"updated_at"`
	Payload   []byte    `bson:"payload"`
}

// New returns a Store backed by collection.
func New(collection *mongo.Collection) *Store {
	return &Store{collection: collection}
}

// Save upserts sessionID's snapshot.
func (s *Store) Save(ctx context.Context, snap session.RootSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("mongostore: marshal snapshot %q: %w", snap.SessionID, err)
	}
	doc := snapshotDocument{
		SessionID: snap.SessionID,
		Version:   snap.Version,
		UpdatedAt: snap.TakenAt,
		Payload:   payload,
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, bson.M{"_id": snap.SessionID}, doc, opts); err != nil {
		return fmt.Errorf("mongostore: save snapshot %q: %w", snap.SessionID, err)
	}
	return nil
}

// Load retrieves sessionID's snapshot, returning snapshotstore.ErrNotFound
// if none exists.
func (s *Store) Load(ctx context.Context, sessionID string) (session.RootSnapshot, error) {
	var doc snapshotDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return session.RootSnapshot{}, snapshotstore.ErrNotFound
		}
		return session.RootSnapshot{}, fmt.Errorf("mongostore: load snapshot %q: %w", sessionID, err)
	}
	var snap session.RootSnapshot
	if err := json.Unmarshal(doc.Payload, &snap); err != nil {
		return session.RootSnapshot{}, fmt.Errorf("mongostore: decode snapshot %q: %w", sessionID, err)
	}
	return snap, nil
}

// Delete removes sessionID's snapshot. It is not an error to delete a
// session with no stored snapshot.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": sessionID}); err != nil {
		return fmt.Errorf("mongostore: delete snapshot %q: %w", sessionID, err)
	}
	return nil
}
