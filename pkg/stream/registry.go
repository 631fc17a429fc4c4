package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/harun/agentflow/internal/observability"
	"github.com/rs/zerolog"
)

const (
	DefaultQueueCapacity     = 10
	DefaultKeepaliveInterval = 30 * time.Second
	DefaultIdleTimeout       = 5 * time.Minute
	DefaultSweepInterval     = 60 * time.Second

	shardCount = 16
)

// Config controls stream sizing and liveness.
type Config struct {
	QueueCapacity     int
	KeepaliveInterval time.Duration
	IdleTimeout       time.Duration
	SweepInterval     time.Duration
}

// DefaultConfig returns the stream defaults.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:     DefaultQueueCapacity,
		KeepaliveInterval: DefaultKeepaliveInterval,
		IdleTimeout:       DefaultIdleTimeout,
		SweepInterval:     DefaultSweepInterval,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = d.KeepaliveInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	return c
}

type shard struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

// Registry maps conversation ids to their streams. It is safe for concurrent use.
type Registry struct {
	cfg    Config
	shards [shardCount]*shard
	seq    atomic.Uint64
	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, logger zerolog.Logger) *Registry {
	observability.EnsureRegistered()

	r := &Registry{
		cfg:    cfg.withDefaults(),
		logger: logger.With().Str("component", "stream_registry").Logger(),
	}
	for i := range r.shards {
		r.shards[i] = &shard{streams: make(map[string]*Stream)}
	}
	return r
}

// Config returns the effective configuration.
func (r *Registry) Config() Config {
	return r.cfg
}

func (r *Registry) shardFor(id string) *shard {
	return r.shards[xxhash.Sum64String(id)%shardCount]
}

func (r *Registry) lookup(id string) *Stream {
	sh := r.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.streams[id]
}

// GetOrCreate returns the active stream for id, creating one if needed.
// A killed or expired stream is replaced.
func (r *Registry) GetOrCreate(id string) *Stream {
	if s := r.lookup(id); s != nil && s.Active() {
		return s
	}

	sh := r.shardFor(id)
	sh.mu.Lock()
	s, ok := sh.streams[id]
	if !ok || !s.Active() {
		s = newStream(id, r.cfg.QueueCapacity)
		sh.streams[id] = s
		r.logger.Debug().Str("conversation_id", id).Msg("Stream created")
	}
	sh.mu.Unlock()

	observability.SetActiveStreams(r.Len())
	return s
}

// Get returns the stream for id, if any.
func (r *Registry) Get(id string) (*Stream, bool) {
	s := r.lookup(id)
	return s, s != nil
}

// Publish queues event for the conversation's stream. Without a live stream it does nothing.
func (r *Registry) Publish(id string, event Event) {
	s := r.lookup(id)
	if s == nil {
		return
	}

	event.ConversationID = id
	event.Seq = r.seq.Add(1)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	accepted, dropped := s.push(event)
	if dropped {
		observability.RecordStreamDrop()
	}
	if !accepted {
		r.logger.Debug().
			Str("conversation_id", id).
			Str("event", string(event.Type)).
			Msg("Event discarded for inactive stream")
	}
}

// Subscribe returns a channel of events for id. It emits keepalives while idle and is
// closed when the stream is killed, stays idle past the idle timeout, or ctx ends.
func (r *Registry) Subscribe(ctx context.Context, id string) <-chan Event {
	s := r.GetOrCreate(id)
	out := make(chan Event)

	go func() {
		defer close(out)
		for {
			ev, err := s.Next(ctx, r.cfg.KeepaliveInterval)
			switch {
			case err == nil:
			case errors.Is(err, errWaitTimeout):
				if s.IdleFor() >= r.cfg.IdleTimeout {
					s.close()
					r.logger.Info().
						Str("conversation_id", id).
						Dur("idle", s.IdleFor()).
						Msg("Stream idle timeout")
					return
				}
				ev = keepalive(id)
			default:
				return
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Type == EventKilled {
				return
			}
		}
	}()

	return out
}

// Kill delivers a Killed event and stops the stream from accepting more. It reports
// whether a stream existed.
func (r *Registry) Kill(id string) bool {
	s := r.lookup(id)
	if s == nil {
		return false
	}
	s.kill(Event{
		Type:           EventKilled,
		ConversationID: id,
		Seq:            r.seq.Add(1),
		Timestamp:      time.Now(),
	})
	r.logger.Info().Str("conversation_id", id).Msg("Stream killed")
	return true
}

// Killed reports whether the conversation's current stream was killed.
func (r *Registry) Killed(id string) bool {
	s := r.lookup(id)
	return s != nil && s.Killed()
}

// Sweep removes inactive streams and streams idle past the idle timeout.
// It returns the number removed.
func (r *Registry) Sweep() int {
	removed := 0
	for _, sh := range r.shards {
		sh.mu.Lock()
		for id, s := range sh.streams {
			if s.Active() && s.IdleFor() < r.cfg.IdleTimeout {
				continue
			}
			s.close()
			delete(sh.streams, id)
			removed++
		}
		sh.mu.Unlock()
	}

	observability.SetActiveStreams(r.Len())
	if removed > 0 {
		r.logger.Debug().Int("removed", removed).Msg("Swept inactive streams")
	}
	return removed
}

// Len returns the number of registered streams.
func (r *Registry) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.streams)
		sh.mu.RUnlock()
	}
	return n
}
