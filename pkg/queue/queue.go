package queue

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/soundprediction/anamnesis/pkg/types"
)

// SemaphoreLimitEnv overrides the global concurrency permit. Operators
// tune it to their LLM provider rate tier.
const SemaphoreLimitEnv = "SEMAPHORE_LIMIT"

// DefaultConcurrency is the global extraction permit when the
// environment does not override it.
const DefaultConcurrency = 10

// ErrShuttingDown rejects submissions after shutdown has begun.
var ErrShuttingDown = errors.New("ingestion queue is shutting down")

// Processor handles one episode. Implemented by the extraction pipeline.
type Processor interface {
	Process(ctx context.Context, sub types.EpisodeSubmission) error
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, sub types.EpisodeSubmission) error

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, sub types.EpisodeSubmission) error {
	return f(ctx, sub)
}

// Counters reports queue activity since startup.
type Counters struct {
	Enqueued  int64 `json:"enqueued"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Pending   int64 `json:"pending"`
}

// groupQueue is the FIFO for one group. items is guarded by mu; signal
// carries at most one token to wake the worker.
type groupQueue struct {
	mu     sync.Mutex
	items  []types.EpisodeSubmission
	signal chan struct{}
}

func (q *groupQueue) push(sub types.EpisodeSubmission) {
	q.mu.Lock()
	q.items = append(q.items, sub)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *groupQueue) pop() (types.EpisodeSubmission, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return types.EpisodeSubmission{}, false
	}
	sub := q.items[0]
	q.items = q.items[1:]
	return sub, true
}

// Service runs the ingestion queue.
type Service struct {
	processor Processor
	permit    *semaphore.Weighted
	logger    *slog.Logger

	mu      sync.Mutex
	groups  map[string]*groupQueue
	workers sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
	closed  atomic.Bool

	enqueued  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	pending   atomic.Int64
}

// NewService builds the queue. concurrency <= 0 falls back to the
// SEMAPHORE_LIMIT environment variable, then to DefaultConcurrency.
func NewService(processor Processor, concurrency int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = concurrencyFromEnv(logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		processor: processor,
		permit:    semaphore.NewWeighted(int64(concurrency)),
		logger:    logger,
		groups:    map[string]*groupQueue{},
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

func concurrencyFromEnv(logger *slog.Logger) int {
	raw := os.Getenv(SemaphoreLimitEnv)
	if raw == "" {
		return DefaultConcurrency
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		logger.Warn("ignoring invalid concurrency limit", "value", raw)
		return DefaultConcurrency
	}
	return limit
}

// Submit enqueues an episode and returns immediately. The first
// submission for a group starts its worker.
func (s *Service) Submit(sub types.EpisodeSubmission) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrShuttingDown
	}

	s.mu.Lock()
	group, ok := s.groups[sub.GroupID]
	if !ok {
		group = &groupQueue{signal: make(chan struct{}, 1)}
		s.groups[sub.GroupID] = group
		s.workers.Add(1)
		go s.runWorker(sub.GroupID, group)
	}
	s.mu.Unlock()

	group.push(sub)
	s.enqueued.Add(1)
	s.pending.Add(1)
	return nil
}

// runWorker drains one group's FIFO. Items run strictly in order; the
// global permit is re-acquired per item so a busy group cannot starve
// the others.
func (s *Service) runWorker(groupID string, group *groupQueue) {
	defer s.workers.Done()
	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-group.signal:
		}

		for {
			sub, ok := group.pop()
			if !ok {
				break
			}
			s.processOne(groupID, sub)
		}
	}
}

func (s *Service) processOne(groupID string, sub types.EpisodeSubmission) {
	defer s.pending.Add(-1)

	if err := s.permit.Acquire(s.baseCtx, 1); err != nil {
		// Shutdown while waiting for a permit: the item is dropped.
		s.failed.Add(1)
		return
	}
	defer s.permit.Release(1)

	start := time.Now()
	if err := s.processor.Process(s.baseCtx, sub); err != nil {
		s.failed.Add(1)
		s.logger.Error("episode processing failed",
			"group_id", groupID,
			"episode_name", sub.Name,
			"duration", time.Since(start),
			"error", err)
		return
	}
	s.succeeded.Add(1)
	s.logger.Debug("episode processed",
		"group_id", groupID,
		"episode_name", sub.Name,
		"duration", time.Since(start))
}

// Counters returns a snapshot of queue activity.
func (s *Service) Counters() Counters {
	return Counters{
		Enqueued:  s.enqueued.Load(),
		Succeeded: s.succeeded.Load(),
		Failed:    s.failed.Load(),
		Pending:   s.pending.Load(),
	}
}

// Shutdown stops accepting submissions and waits up to grace for
// in-flight items. Pending items beyond the grace window are dropped.
func (s *Service) Shutdown(grace time.Duration) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	done := make(chan struct{})
	go func() {
		s.waitForDrain()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		dropped := s.pending.Load()
		if dropped > 0 {
			s.logger.Warn("dropping pending episodes on shutdown", "count", dropped)
		}
	}

	s.cancel()
	s.workers.Wait()
}

func (s *Service) waitForDrain() {
	for s.pending.Load() > 0 {
		time.Sleep(10 * time.Millisecond)
	}
}
