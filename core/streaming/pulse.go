package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

// PulseBroker publishes and subscribes Chunks over Redis-backed Pulse
// streams, one stream per session ("session/<id>/chunks"), so stream_turn survives
// a process restart and can fan out to subscribers on other processes.
// Mirrors the layering of the teacher's features/stream/pulse sink/client
// pair: callers build a Redis client, PulseBroker wraps it directly rather
// than through an intermediate client interface since this package has
// exactly one caller-facing type.
type PulseBroker struct {
	redis        *redis.Client
	streamMaxLen int
	sinkName     string
}

// PulseOptions configures a PulseBroker.
type PulseOptions struct {
	// Redis is the Redis connection backing every session stream. Required.
	Redis *redis.Client
	// StreamMaxLen bounds entries retained per session stream. Zero uses
	// Pulse's default.
	StreamMaxLen int
	// SinkName names the Pulse consumer group used by Subscribe. Defaults
	// to "synapsecore_stream_turn".
	SinkName string
}

// NewPulseBroker constructs a PulseBroker. Returns an error if opts.Redis
// is nil.
func NewPulseBroker(opts PulseOptions) (*PulseBroker, error) {
	if opts.Redis == nil {
		return nil, errors.New("streaming: redis client is required")
	}
	sinkName := opts.SinkName
	if sinkName == "" {
		sinkName = "synapsecore_stream_turn"
	}
	return &PulseBroker{redis: opts.Redis, streamMaxLen: opts.StreamMaxLen, sinkName: sinkName}, nil
}

// chunkEnvelope is the wire format written to the Pulse stream.
type chunkEnvelope struct {
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	IsFinal   bool      `json:"is_final"`
	ModelID   string    `json:"model_id"`
	Emitted   time.Time `json:"emitted"`
}

func streamName(sessionID string) string {
	return fmt.Sprintf("session/%s/chunks", sessionID)
}

func (b *PulseBroker) openStream(sessionID string) (*streaming.Stream, error) {
	var opts []streamopts.Stream
	if b.streamMaxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(b.streamMaxLen))
	}
	s, err := streaming.NewStream(streamName(sessionID), b.redis, opts...)
	if err != nil {
		return nil, fmt.Errorf("streaming: open pulse stream: %w", err)
	}
	return s, nil
}

// Publish writes chunk as a JSON envelope to sessionID's Pulse stream.
func (b *PulseBroker) Publish(ctx context.Context, sessionID string, chunk Chunk) error {
	if sessionID == "" {
		return errors.New("streaming: session id is required")
	}
	s, err := b.openStream(sessionID)
	if err != nil {
		return chunkErrorf(sessionID, err)
	}
	if chunk.Emitted.IsZero() {
		chunk.Emitted = time.Now().UTC()
	}
	env := chunkEnvelope{
		SessionID: sessionID,
		Content:   chunk.Content,
		IsFinal:   chunk.IsFinal,
		ModelID:   chunk.ModelID,
		Emitted:   chunk.Emitted,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return chunkErrorf(sessionID, err)
	}
	eventName := "chunk"
	if chunk.IsFinal {
		eventName = "chunk_final"
	}
	if _, err := s.Add(ctx, eventName, payload); err != nil {
		return chunkErrorf(sessionID, fmt.Errorf("pulse add: %w", err))
	}
	return nil
}

// Close is a no-op: the caller owns the Redis connection's lifecycle,
// mirroring the teacher's pulse client.
func (b *PulseBroker) Close(context.Context) error { return nil }

// Subscribe opens a Pulse consumer group on sessionID's stream and decodes
// incoming envelopes back into Chunks.
func (b *PulseBroker) Subscribe(ctx context.Context, sessionID string) (Subscription, error) {
	if sessionID == "" {
		return nil, errors.New("streaming: session id is required")
	}
	s, err := b.openStream(sessionID)
	if err != nil {
		return nil, chunkErrorf(sessionID, err)
	}
	sink, err := s.NewSink(ctx, b.sinkName)
	if err != nil {
		return nil, chunkErrorf(sessionID, fmt.Errorf("pulse new sink: %w", err))
	}

	const bufferSize = 64
	out := make(chan Chunk, bufferSize)
	sub := &pulseSubscription{sink: sink, ch: out}

	go func() {
		defer close(out)
		for ev := range sink.Subscribe() {
			var env chunkEnvelope
			if err := json.Unmarshal(ev.Payload, &env); err != nil {
				continue
			}
			select {
			case out <- Chunk{Content: env.Content, IsFinal: env.IsFinal, ModelID: env.ModelID, Emitted: env.Emitted}:
			default:
			}
			_ = sink.Ack(ctx, ev)
		}
	}()

	return sub, nil
}

type pulseSubscription struct {
	sink *streaming.Sink
	ch   chan Chunk
}

func (s *pulseSubscription) Chunks() <-chan Chunk { return s.ch }

func (s *pulseSubscription) Close() error {
	s.sink.Close(context.Background())
	return nil
}
