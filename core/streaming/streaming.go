// Package streaming implements the `stream_turn` external interface (spec
// §6): a per-session Chunk publisher and the subscriber side that turns
// those chunks back into the `stream of Chunk` the caller consumes. The
// transport itself (in-memory fan-out, or Redis-backed via Pulse) is an
// external collaborator concern; this package only ever produces and
// consumes Chunk values.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Chunk is one unit of a streamed turn response (spec §6).
type Chunk struct {
	Content string    `json:"content"`
	IsFinal bool      `json:"is_final"`
	ModelID string    `json:"model_id"`
	Emitted time.Time `json:"emitted"`
}

// ErrPublisherClosed is returned by MemoryBroker's Publish/Subscribe once its
// Close has run. PulseBroker's Close is a no-op and never leads to it.
var ErrPublisherClosed = errors.New("streaming: publisher closed")

// Publisher sends Chunks for a session's in-flight turn to whatever
// transport backs stream_turn. Sessions hold one Publisher each; it is not
// a process-wide singleton (spec §9 "no ambient singletons").
type Publisher interface {
	Publish(ctx context.Context, sessionID string, chunk Chunk) error
	Close(ctx context.Context) error
}

// Subscription is a live consumer of one session's chunk stream.
type Subscription interface {
	// Chunks returns the channel chunks arrive on. It is closed when the
	// subscription ends (Close is called, or the publisher side closes).
	Chunks() <-chan Chunk
	Close() error
}

// Subscriber opens Subscriptions against a session's chunk stream.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) (Subscription, error)
}

// chunkErrorf wraps a transport error with the session ID that failed,
// matching the error-wrapping style used elsewhere in core (e.g.
// core/session's "session: create %q: %w").
func chunkErrorf(sessionID string, err error) error {
	return fmt.Errorf("streaming: session %q: %w", sessionID, err)
}
