// Package trajectory implements the process-wide, cross-session trajectory
// model and user-insights store (spec §5 "Shared resources" (a)): a named
// service with its own Init/Shutdown lifetime that sessions of the same
// user hold a handle to, rather than an ambient singleton. Access to a
// given user's state is serialized by a single writer lock per user.
package trajectory

import (
	"context"
	"sync"
	"time"

	"github.com/goa-ai-labs/synapsecore/core/goal"
)

// Insight is one durable, cross-session observation about a user (e.g.
// "prefers terse answers"), distinct from the numeric CategoryUserInsight
// weight: a weight score says how strongly to act on a preference, an
// Insight records what the preference is.
type Insight struct {
	Key        string
	Value      string
	Confidence float64
	UpdatedAt  time.Time
}

// userState is one user's trajectory model and insight set.
type userState struct {
	mu sync.Mutex

	recentTasks []goal.DNA // most recent task fingerprints, oldest first
	insights    map[string]Insight
}

const recentTaskWindow = 20

// Store is the backend a Service persists user state through. The default
// is in-memory (NewMemoryStore); core/trajectory/redisstore provides a
// Redis-backed implementation for cross-restart durability.
type Store interface {
	// Load returns userID's stored state, or a zero-value if none exists
	// yet (ok is false in that case but that is not an error).
	Load(ctx context.Context, userID string) (recentTasks []goal.DNA, insights map[string]Insight, ok bool, err error)
	// Save persists userID's full state, replacing whatever was stored
	// before.
	Save(ctx context.Context, userID string, recentTasks []goal.DNA, insights map[string]Insight) error
}

// Service owns one Store and serializes per-user access so that, per spec
// §5(a), only one writer proceeds for a given user at a time. Callers
// obtain a Handle scoped to one user via Init.
type Service struct {
	store Store

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	shutdown bool
}

// NewService returns a Service backed by store. If store is nil, an
// in-memory Store is used.
func NewService(store Store) *Service {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Service{store: store, locks: make(map[string]*sync.Mutex)}
}

// Init returns a Handle scoped to userID. It does no I/O and no checks of
// its own; Handle methods load lazily on first use.
func (s *Service) Init(_ context.Context, userID string) (*Handle, error) {
	return &Handle{service: s, userID: userID}, nil
}

// Shutdown marks the service closed; subsequent ObserveTask calls return
// errServiceClosed, while the read methods and RecordInsight keep working.
// It does not close the underlying Store, which callers
// may own independently (e.g. a shared Redis connection).
func (s *Service) Shutdown(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
	return nil
}

func (s *Service) lockFor(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// Handle is a per-user view onto the shared Service, held by a session for
// its lifetime rather than looked up ambiently.
type Handle struct {
	service *Service
	userID  string
}

// errServiceClosed is returned by Handle.ObserveTask once Shutdown has run.
var errServiceClosed = errServiceClosedErr("trajectory: service shut down")

type errServiceClosedErr string

func (e errServiceClosedErr) Error() string { return string(e) }

// ObserveTask records taskText as the user's most recent task, evicting
// the oldest entry once the recent-task window is full.
func (h *Handle) ObserveTask(ctx context.Context, taskText string) error {
	h.service.mu.Lock()
	closed := h.service.shutdown
	h.service.mu.Unlock()
	if closed {
		return errServiceClosed
	}

	lock := h.service.lockFor(h.userID)
	lock.Lock()
	defer lock.Unlock()

	recent, insights, _, err := h.service.store.Load(ctx, h.userID)
	if err != nil {
		return err
	}
	recent = append(recent, goal.NewDNA(taskText))
	if over := len(recent) - recentTaskWindow; over > 0 {
		recent = recent[over:]
	}
	if insights == nil {
		insights = make(map[string]Insight)
	}
	return h.service.store.Save(ctx, h.userID, recent, insights)
}

// PredictedNextTask returns the prediction for the user's next task: the
// most recent observed task's DNA. Earlier tasks in the window do not affect
// the prediction. Returns a zero DNA and false if no tasks have been
// observed yet.
func (h *Handle) PredictedNextTask(ctx context.Context) (goal.DNA, bool, error) {
	lock := h.service.lockFor(h.userID)
	lock.Lock()
	defer lock.Unlock()

	recent, _, ok, err := h.service.store.Load(ctx, h.userID)
	if err != nil {
		return goal.DNA{}, false, err
	}
	if !ok || len(recent) == 0 {
		return goal.DNA{}, false, nil
	}
	return recent[len(recent)-1], true, nil
}

// Novelty returns the task-novelty signal (spec §4.3 signal (c)): the
// distance between candidateText and the predicted next task, in [0,1].
// 1 means "nothing like the predicted task"; 0 means identical. Returns 1
// (maximally novel) if no prediction exists yet.
func (h *Handle) Novelty(ctx context.Context, candidateText string) (float64, error) {
	predicted, ok, err := h.PredictedNextTask(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 1, nil
	}
	return 1 - predicted.SimilarityToText(candidateText), nil
}

// RecordInsight upserts an Insight under key for the user.
func (h *Handle) RecordInsight(ctx context.Context, key, value string, confidence float64) error {
	lock := h.service.lockFor(h.userID)
	lock.Lock()
	defer lock.Unlock()

	recent, insights, _, err := h.service.store.Load(ctx, h.userID)
	if err != nil {
		return err
	}
	if insights == nil {
		insights = make(map[string]Insight)
	}
	insights[key] = Insight{Key: key, Value: value, Confidence: confidence, UpdatedAt: time.Now()}
	return h.service.store.Save(ctx, h.userID, recent, insights)
}

// Insights returns a copy of the user's current insight set.
func (h *Handle) Insights(ctx context.Context) (map[string]Insight, error) {
	lock := h.service.lockFor(h.userID)
	lock.Lock()
	defer lock.Unlock()

	_, insights, _, err := h.service.store.Load(ctx, h.userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Insight, len(insights))
	for k, v := range insights {
		out[k] = v
	}
	return out, nil
}
