// Package redisstore adapts the teacher's go-redis/v9 usage (seen throughout
// goa-ai's registry and Pulse clients) into a trajectory.Store: a
// cross-restart-durable backend for the process-wide trajectory model and
// user-insight store (spec §5 "Shared resources" (a)). The core's own
// engines stay in-memory and snapshot-based (spec §1 non-goal); this store
// only persists the trajectory Service's cross-session state, which spec
// explicitly treats as a named service with its own lifetime.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/goa-ai-labs/synapsecore/core/goal"
	"github.com/goa-ai-labs/synapsecore/core/trajectory"
)

// Store persists trajectory.Handle state as JSON blobs keyed by a
// configurable prefix plus the user id, one key per user.
type Store struct {
	client *redis.Client
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix overrides the default "synapsecore:trajectory:" prefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// New returns a Store backed by client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: "synapsecore:trajectory:"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// wireState is the JSON-serializable shape of one user's trajectory state.
// goal.DNA's sets are map[string]struct{}, which json.Marshal renders as an
// object of empty values — compact enough for this use and symmetric on
// round-trip since only key presence is ever read back.
type wireState struct {
	RecentTasks []goal.DNA                  `json:"recent_tasks"`
	Insights    map[string]trajectory.Insight `json:"insights"`
}

func (s *Store) key(userID string) string {
	return s.prefix + userID
}

// Load implements trajectory.Store.
func (s *Store) Load(ctx context.Context, userID string) ([]goal.DNA, map[string]trajectory.Insight, bool, error) {
	raw, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if err == redis.Nil {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("redisstore: load %s: %w", userID, err)
	}
	var w wireState
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, nil, false, fmt.Errorf("redisstore: decode %s: %w", userID, err)
	}
	return w.RecentTasks, w.Insights, true, nil
}

// Save implements trajectory.Store.
func (s *Store) Save(ctx context.Context, userID string, recentTasks []goal.DNA, insights map[string]trajectory.Insight) error {
	w := wireState{RecentTasks: recentTasks, Insights: insights}
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("redisstore: encode %s: %w", userID, err)
	}
	if err := s.client.Set(ctx, s.key(userID), raw, 0).Err(); err != nil {
		return fmt.Errorf("redisstore: save %s: %w", userID, err)
	}
	return nil
}

var _ trajectory.Store = (*Store)(nil)
