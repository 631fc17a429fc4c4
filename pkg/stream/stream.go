package stream

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStreamClosed is returned by Next once a stream is killed or reclaimed and drained.
var ErrStreamClosed = errors.New("stream closed")

// errWaitTimeout is returned by Next when no event arrived within the wait window.
var errWaitTimeout = errors.New("wait timeout")

// Stream is a bounded, lossy event queue for one conversation.
type Stream struct {
	id       string
	capacity int

	mu           sync.Mutex
	queue        []Event
	lastActivity time.Time
	active       bool
	killed       bool
	dropped      uint64

	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newStream(id string, capacity int) *Stream {
	if capacity < 1 {
		capacity = DefaultQueueCapacity
	}
	return &Stream{
		id:           id,
		capacity:     capacity,
		queue:        make([]Event, 0, capacity),
		lastActivity: time.Now(),
		active:       true,
		notify:       make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// ID returns the conversation id the stream belongs to.
func (s *Stream) ID() string {
	return s.id
}

// push enqueues ev, evicting the oldest event when full. It reports whether an event was dropped.
func (s *Stream) push(ev Event) (accepted, dropped bool) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return false, false
	}
	if len(s.queue) >= s.capacity {
		copy(s.queue, s.queue[1:])
		s.queue = s.queue[:len(s.queue)-1]
		s.dropped++
		dropped = true
	}
	s.queue = append(s.queue, ev)
	s.lastActivity = time.Now()
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true, dropped
}

func (s *Stream) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	ev := s.queue[0]
	copy(s.queue, s.queue[1:])
	s.queue = s.queue[:len(s.queue)-1]
	return ev, true
}

// Next waits up to wait for the next queued event. Queued events are still
// delivered after the stream is closed; ErrStreamClosed follows once it is drained.
func (s *Stream) Next(ctx context.Context, wait time.Duration) (Event, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		if ev, ok := s.pop(); ok {
			return ev, nil
		}
		if !s.Active() {
			return Event{}, ErrStreamClosed
		}

		select {
		case <-s.notify:
		case <-s.done:
		case <-timer.C:
			return Event{}, errWaitTimeout
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// kill queues the terminal Killed event and deactivates the stream.
func (s *Stream) kill(ev Event) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.capacity {
		copy(s.queue, s.queue[1:])
		s.queue = s.queue[:len(s.queue)-1]
		s.dropped++
	}
	s.queue = append(s.queue, ev)
	s.killed = true
	s.active = false
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

// close deactivates the stream without a Killed event.
func (s *Stream) close() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

// Active reports whether the stream still accepts events.
func (s *Stream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Killed reports whether the stream was explicitly killed.
func (s *Stream) Killed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killed
}

// Len returns the number of queued events.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Dropped returns how many events were evicted on overflow.
func (s *Stream) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// IdleFor returns how long ago the last event was published.
func (s *Stream) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// Done is closed when the stream stops accepting events.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}
