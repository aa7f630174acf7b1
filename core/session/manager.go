// Package session binds the decision core's per-conversation orchestrator.Session
// instances to a durable lifecycle store (runtime/agent/session): it is the
// thing that turns "a session ID" into a live, runnable Session and back
// again into a RootSnapshot a caller can persist.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goa-ai-labs/synapsecore/core/llmcontract"
	"github.com/goa-ai-labs/synapsecore/core/orchestrator"
	"github.com/goa-ai-labs/synapsecore/core/streaming"
	"github.com/goa-ai-labs/synapsecore/core/toolcontract"
	agentsession "github.com/goa-ai-labs/synapsecore/runtime/agent/session"
	"github.com/goa-ai-labs/synapsecore/runtime/agent/session/inmem"
)

// RootSnapshot is the versioned, opaque-to-storage snapshot of one session's
// decision-core state (spec §6). Version exists so snapshotstore can reject
// or migrate a blob written by an older build rather than silently restoring
// into a mismatched schema.
type RootSnapshot struct {
	Version   int
	SessionID string
	TakenAt   time.Time
	Engines   orchestrator.SessionSnapshot
}

// SnapshotVersion is the current RootSnapshot schema version.
const SnapshotVersion = 1

// broker is the combined Publisher+Subscriber a Manager hands to every
// Session it creates, backing `stream_turn` (spec §6). streaming.MemoryBroker
// and streaming.PulseBroker both satisfy it.
type broker interface {
	streaming.Publisher
	streaming.Subscriber
}

// Manager owns the live orchestrator.Session instances for every open
// session, and delegates lifecycle bookkeeping (created/ended timestamps,
// idempotent re-creation) to a runtime/agent/session.Store.
type Manager struct {
	mu       sync.RWMutex
	store    agentsession.Store
	broker   broker
	sessions map[string]*orchestrator.Session
	cfgs     map[string]orchestrator.Config
}

// NewManager returns a Manager backed by store and streamBroker. If store is
// nil, an in-memory inmem.Store is used. If streamBroker is nil, an
// in-memory streaming.MemoryBroker is used; pass a streaming.PulseBroker
// instead when turns must survive a process restart (spec §9 "no ambient
// singletons" — the broker is a handle the caller supplies, not a global).
func NewManager(store agentsession.Store, streamBroker broker) *Manager {
	if store == nil {
		store = inmem.New()
	}
	if streamBroker == nil {
		streamBroker = streaming.NewMemoryBroker()
	}
	return &Manager{
		store:    store,
		broker:   streamBroker,
		sessions: make(map[string]*orchestrator.Session),
		cfgs:     make(map[string]orchestrator.Config),
	}
}

// CreateSession registers sessionID with the durable store (idempotent
// while the session is active) and constructs a fresh orchestrator.Session
// wired to cfg, llm, and tools. tools is wrapped in a
// toolcontract.ValidatedExecutor over whatever descriptors tools.List(ctx)
// returns at creation time, so every call during the session's lifetime is
// checked against its declared payload schema before dispatch; a List
// failure here is not fatal to session creation, it just means that
// session's calls go through unvalidated for its lifetime. Calling
// CreateSession again for an already-live sessionID returns the existing
// in-memory Session without reconstructing its engines.
func (m *Manager) CreateSession(ctx context.Context, sessionID string, cfg orchestrator.Config, llm *llmcontract.Client, tools toolcontract.Executor) (*orchestrator.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[sessionID]; ok {
		return existing, nil
	}

	if descriptors, err := tools.List(ctx); err == nil {
		tools = toolcontract.NewValidatedExecutor(tools, descriptors)
	}

	if _, err := m.store.CreateSession(ctx, sessionID, time.Now()); err != nil {
		return nil, fmt.Errorf("session: create %q: %w", sessionID, err)
	}

	sess := orchestrator.New(sessionID, cfg, llm, tools)
	sess.StreamOut = m.broker
	m.sessions[sessionID] = sess
	m.cfgs[sessionID] = cfg
	return sess, nil
}

// RunTurn looks up sessionID's live Session and runs one turn against it.
func (m *Manager) RunTurn(ctx context.Context, sessionID string, in orchestrator.TurnInput) (*orchestrator.TurnResult, error) {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.RunTurn(ctx, in)
}

// StreamTurn is RunTurn under the stream_turn name: every Session the
// Manager creates has the Manager's broker as its StreamOut, so either call
// publishes sessionID's chunks to the broker as the model streams them
// rather than only when the turn completes. Call Subscribe first to
// open the consumer side before (or concurrently with) calling StreamTurn,
// since a MemoryBroker subscription only receives chunks published after it
// opens.
func (m *Manager) StreamTurn(ctx context.Context, sessionID string, in orchestrator.TurnInput) (*orchestrator.TurnResult, error) {
	return m.RunTurn(ctx, sessionID, in)
}

// Subscribe opens a streaming.Subscription over sessionID's chunk stream,
// the consumer half of `stream_turn` (spec §6).
func (m *Manager) Subscribe(ctx context.Context, sessionID string) (streaming.Subscription, error) {
	return m.broker.Subscribe(ctx, sessionID)
}

// CloseSession ends sessionID in the durable store and evicts it from the
// in-memory cache. The final RootSnapshot is returned so the caller can
// persist it before the in-memory engines are discarded.
func (m *Manager) CloseSession(ctx context.Context, sessionID string) (RootSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return RootSnapshot{}, fmt.Errorf("session: %q is not live", sessionID)
	}
	snap := RootSnapshot{
		Version:   SnapshotVersion,
		SessionID: sessionID,
		TakenAt:   time.Now(),
		Engines:   sess.Snapshot(),
	}
	if _, err := m.store.EndSession(ctx, sessionID, time.Now()); err != nil {
		return RootSnapshot{}, fmt.Errorf("session: end %q: %w", sessionID, err)
	}
	delete(m.sessions, sessionID)
	delete(m.cfgs, sessionID)
	return snap, nil
}

// Snapshot returns sessionID's current RootSnapshot without closing it.
func (m *Manager) Snapshot(sessionID string) (RootSnapshot, error) {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return RootSnapshot{}, err
	}
	return RootSnapshot{
		Version:   SnapshotVersion,
		SessionID: sessionID,
		TakenAt:   time.Now(),
		Engines:   sess.Snapshot(),
	}, nil
}

// Restore reconstructs a live Session for snap.SessionID (using cfg, llm,
// and tools as its collaborators) and restores its engine state from snap.
// It does not touch the durable store: callers that expect the session to
// already be active there should call CreateSession first, or rely on it
// already existing from before the process restarted.
func (m *Manager) Restore(ctx context.Context, snap RootSnapshot, cfg orchestrator.Config, llm *llmcontract.Client, tools toolcontract.Executor) (*orchestrator.Session, error) {
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("session: snapshot version %d unsupported (want %d)", snap.Version, SnapshotVersion)
	}

	m.mu.Lock()
	sess, ok := m.sessions[snap.SessionID]
	if !ok {
		if descriptors, err := tools.List(ctx); err == nil {
			tools = toolcontract.NewValidatedExecutor(tools, descriptors)
		}
		sess = orchestrator.New(snap.SessionID, cfg, llm, tools)
		sess.StreamOut = m.broker
		m.sessions[snap.SessionID] = sess
		m.cfgs[snap.SessionID] = cfg
	}
	m.mu.Unlock()
	if err := sess.Restore(snap.Engines); err != nil {
		return nil, fmt.Errorf("session: restore %q: %w", snap.SessionID, err)
	}
	return sess, nil
}

func (m *Manager) lookup(sessionID string) (*orchestrator.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session: %q is not live", sessionID)
	}
	return sess, nil
}
