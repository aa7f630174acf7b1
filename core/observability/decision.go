package observability

import (
	"context"
	"sync"
	"time"
)

// DecisionRecord captures one stage's decision for replay: which turn and
// step it belongs to, which pipeline stage produced it, and an opaque
// payload (a router.Decision, goal.Result, goal.LoopResult, or
// goal.BudgetDecision, depending on Stage).
type DecisionRecord struct {
	SessionID string
	Step      int
	Stage     int
	Kind      string
	Payload   any
	Recorded  time.Time
}

// DecisionLog is an append-only, replayable record of every DecisionRecord
// published to a Bus, grouped by session. It is the on_decision persistence
// layer: once registered as a Bus subscriber it accumulates records in
// insertion order.
type DecisionLog struct {
	mu      sync.Mutex
	records map[string][]DecisionRecord
}

// NewDecisionLog returns an empty DecisionLog.
func NewDecisionLog() *DecisionLog {
	return &DecisionLog{records: make(map[string][]DecisionRecord)}
}

// HandleEvent implements Subscriber: every EventDecision is appended to the
// owning session's record slice. Other event kinds are ignored so a single
// bus can carry decision, metric, and audit events to different recorders.
func (l *DecisionLog) HandleEvent(_ context.Context, event Event) error {
	if event.Kind != EventDecision || event.Decision == nil {
		return nil
	}
	l.mu.Lock()
	l.records[event.Decision.SessionID] = append(l.records[event.Decision.SessionID], *event.Decision)
	l.mu.Unlock()
	return nil
}

// Replay returns every DecisionRecord recorded for sessionID, in the order
// they were published.
func (l *DecisionLog) Replay(sessionID string) []DecisionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]DecisionRecord, len(l.records[sessionID]))
	copy(out, l.records[sessionID])
	return out
}

// PublishDecision is a convenience wrapper building and publishing a
// DecisionRecord in one call; it never returns an error for a nil bus so
// callers can wire observability optionally.
func PublishDecision(ctx context.Context, bus Bus, sessionID string, step, stage int, kind string, payload any) error {
	if bus == nil {
		return nil
	}
	return bus.Publish(ctx, Event{Kind: EventDecision, Decision: &DecisionRecord{
		SessionID: sessionID,
		Step:      step,
		Stage:     stage,
		Kind:      kind,
		Payload:   payload,
		Recorded:  time.Now(),
	}})
}
