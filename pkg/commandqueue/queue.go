package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/agentflow/internal/observability"
	"github.com/harun/agentflow/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("command queue closed")

// Task is a unit of work executed on a lane.
type Task func(ctx context.Context) (interface{}, error)

type taskResult struct {
	value interface{}
	err   error
}

type taskRecord struct {
	id         uint64
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	result     chan taskResult
}

type laneState struct {
	queue   []*taskRecord
	running bool
}

// Queue runs tasks FIFO per lane with at most one task in flight per lane.
type Queue struct {
	mu     sync.Mutex
	lanes  map[string]*laneState
	seq    uint64
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

// ConversationLane names the lane that serializes runs on one conversation.
func ConversationLane(conversationID string) string {
	return "conversation:" + conversationID
}

// New creates a queue.
func New(logger zerolog.Logger) *Queue {
	observability.EnsureRegistered()
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With().Str("component", "commandqueue").Logger(),
	}
}

// Enqueue adds task to lane and waits for its result. If ctx ends while the task is
// still queued, the task is dropped and ctx.Err() returned; a running task observes
// the cancellation through its own context.
func (q *Queue) Enqueue(ctx context.Context, lane string, task Task) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, "agentflow.commandqueue", "commandqueue.enqueue", attribute.String("lane", lane))

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		tracing.EndSpan(span, ErrQueueClosed)
		return nil, ErrQueueClosed
	}
	q.seq++
	record := &taskRecord{
		id:         q.seq,
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		result:     make(chan taskResult, 1),
	}
	ls, ok := q.lanes[lane]
	if !ok {
		ls = &laneState{}
		q.lanes[lane] = ls
		observability.SetActiveLanes(len(q.lanes))
	}
	ls.queue = append(ls.queue, record)
	depth := len(ls.queue)
	if !ls.running {
		ls.running = true
		q.wg.Add(1)
		go q.drain(lane, ls)
	}
	q.mu.Unlock()

	logger := tracing.LoggerFromContext(ctx, q.logger)
	logger.Debug().Str("lane", lane).Uint64("task_id", record.id).Int("depth", depth).Msg("Task enqueued")

	select {
	case res := <-record.result:
		tracing.EndSpan(span, res.err)
		return res.value, res.err
	case <-ctx.Done():
	}

	if q.remove(lane, record) {
		tracing.EndSpan(span, ctx.Err())
		return nil, ctx.Err()
	}
	res := <-record.result
	tracing.EndSpan(span, res.err)
	return res.value, res.err
}

// remove drops record from lane if it has not started.
func (q *Queue) remove(lane string, record *taskRecord) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	ls, ok := q.lanes[lane]
	if !ok {
		return false
	}
	for i, r := range ls.queue {
		if r == record {
			ls.queue = append(ls.queue[:i], ls.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (q *Queue) drain(lane string, ls *laneState) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(ls.queue) == 0 {
			ls.running = false
			delete(q.lanes, lane)
			observability.SetActiveLanes(len(q.lanes))
			q.mu.Unlock()
			return
		}
		record := ls.queue[0]
		ls.queue = ls.queue[1:]
		q.mu.Unlock()

		observability.RecordLaneWait(time.Since(record.enqueuedAt))
		record.result <- q.execute(lane, record)
	}
}

func (q *Queue) execute(lane string, record *taskRecord) (res taskResult) {
	runCtx, cancel := context.WithCancel(record.ctx)
	stop := context.AfterFunc(q.ctx, cancel)
	defer func() {
		stop()
		cancel()
	}()

	logger := tracing.LoggerFromContext(record.ctx, q.logger).With().Str("lane", lane).Uint64("task_id", record.id).Logger()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Task panicked")
			res = taskResult{err: fmt.Errorf("task panicked: %v", r)}
		}
	}()

	start := time.Now()
	value, err := record.task(runCtx)
	if err != nil {
		logger.Debug().Err(err).Dur("duration", time.Since(start)).Msg("Task failed")
	} else {
		logger.Debug().Dur("duration", time.Since(start)).Msg("Task completed")
	}
	return taskResult{value: value, err: err}
}

// Pending returns the number of queued, not yet running tasks on lane.
func (q *Queue) Pending(lane string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ls, ok := q.lanes[lane]; ok {
		return len(ls.queue)
	}
	return 0
}

// Busy reports whether lane has a running or queued task.
func (q *Queue) Busy(lane string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.lanes[lane]
	return ok
}

// Lanes returns the number of lanes with work.
func (q *Queue) Lanes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}

// Close rejects new work, cancels running tasks and waits for lanes to drain.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
	return nil
}
