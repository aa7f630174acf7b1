package observability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// AuditEntry is one tamper-evident record in an AuditLog: Hash commits to
// PrevHash plus this entry's fields, so altering or reordering any entry
// breaks every hash from that point forward.
type AuditEntry struct {
	SessionID string
	Seq       int
	Action    string
	Detail    any
	Recorded  time.Time
	PrevHash  string
	Hash      string
}

// AuditLog is an in-memory, hash-chained append-only audit trail. It is the
// on_audit persistence layer: enterprise policy changes, quarantine
// transitions, and modulator activations all append here so the chain can
// later be verified for tampering.
type AuditLog struct {
	mu      sync.Mutex
	entries map[string][]AuditEntry
}

// NewAuditLog returns an empty AuditLog.
func NewAuditLog() *AuditLog {
	return &AuditLog{entries: make(map[string][]AuditEntry)}
}

// Append adds a new entry to sessionID's chain, computing Hash from the
// previous entry's Hash (the genesis entry chains from the empty string).
func (a *AuditLog) Append(sessionID, action string, detail any) AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	chain := a.entries[sessionID]
	prevHash := ""
	if len(chain) > 0 {
		prevHash = chain[len(chain)-1].Hash
	}
	entry := AuditEntry{
		SessionID: sessionID,
		Seq:       len(chain),
		Action:    action,
		Detail:    detail,
		Recorded:  time.Now(),
		PrevHash:  prevHash,
	}
	entry.Hash = hashEntry(entry)
	a.entries[sessionID] = append(chain, entry)
	return entry
}

// HandleEvent implements Subscriber so a *second* AuditLog (e.g. a mirror
// shipped to external storage) can replicate entries appended to the
// primary log elsewhere, re-deriving the hash locally rather than trusting
// the publisher's Hash field. Do not register a log as its own bus
// subscriber when callers also use PublishAudit against it directly, or
// entries will be appended twice.
func (a *AuditLog) HandleEvent(_ context.Context, event Event) error {
	if event.Kind != EventAudit || event.Audit == nil {
		return nil
	}
	a.Append(event.Audit.SessionID, event.Audit.Action, event.Audit.Detail)
	return nil
}

// Chain returns a copy of sessionID's entries in sequence order.
func (a *AuditLog) Chain(sessionID string) []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AuditEntry, len(a.entries[sessionID]))
	copy(out, a.entries[sessionID])
	return out
}

// Verify recomputes every hash in sessionID's chain and reports whether it
// is intact: each entry's PrevHash must match its predecessor's Hash, and
// each entry's own Hash must match its recomputed value.
func (a *AuditLog) Verify(sessionID string) (bool, error) {
	chain := a.Chain(sessionID)
	prevHash := ""
	for _, entry := range chain {
		if entry.PrevHash != prevHash {
			return false, fmt.Errorf("observability: chain break at seq %d: prev hash mismatch", entry.Seq)
		}
		want := hashEntry(AuditEntry{
			SessionID: entry.SessionID, Seq: entry.Seq, Action: entry.Action,
			Detail: entry.Detail, Recorded: entry.Recorded, PrevHash: entry.PrevHash,
		})
		if want != entry.Hash {
			return false, fmt.Errorf("observability: chain break at seq %d: hash mismatch", entry.Seq)
		}
		prevHash = entry.Hash
	}
	return true, nil
}

func hashEntry(e AuditEntry) string {
	body, _ := json.Marshal(struct {
		SessionID string
		Seq       int
		Action    string
		Detail    any
		Recorded  time.Time
		PrevHash  string
	}{e.SessionID, e.Seq, e.Action, e.Detail, e.Recorded, e.PrevHash})
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// PublishAudit is a convenience wrapper appending to log and publishing the
// resulting entry on bus, so other subscribers (e.g. a metrics sink counting
// audit volume) observe it too.
func PublishAudit(ctx context.Context, bus Bus, log *AuditLog, sessionID, action string, detail any) error {
	entry := log.Append(sessionID, action, detail)
	if bus == nil {
		return nil
	}
	return bus.Publish(ctx, Event{Kind: EventAudit, Audit: &entry})
}
