// Package batch queues Local inference requests by priority and dispatches
// them in parameter-compatible groups.
package batch

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ai-lecture-transcriber/internal/observability/metrics"
	"ai-lecture-transcriber/internal/service/stt"
)

var (
	ErrQueueFull = errors.New("batch queue full")
	ErrStopped   = errors.New("batch scheduler stopped")
	ErrDuplicate = errors.New("chunk already pending")
)

// Config holds scheduler settings.
type Config struct {
	QueueSize    int
	MaxBatchSize int
	MaxWait      time.Duration
	// RealtimeTimeout applies to High and Realtime items.
	RealtimeTimeout   time.Duration
	BackgroundTimeout time.Duration
	// MaxParallel bounds single-item calls when the backend cannot batch.
	MaxParallel int
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:         50,
		MaxBatchSize:      8,
		MaxWait:           100 * time.Millisecond,
		RealtimeTimeout:   5 * time.Second,
		BackgroundTimeout: 30 * time.Second,
		MaxParallel:       4,
	}
}

// Scheduler implements stt.Backend on top of another backend.
type Scheduler struct {
	cfg     Config
	backend stt.Backend
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	queue   queue
	pending map[pendingKey]*item
	seq     uint64
	started bool
	stopped bool
	cancel  context.CancelFunc

	wake chan struct{}
	wg   sync.WaitGroup
}

var _ stt.Backend = (*Scheduler)(nil)

// New creates a scheduler in front of backend. Call Start to begin draining.
func New(cfg Config, backend stt.Backend, logger zerolog.Logger, m *metrics.Metrics) *Scheduler {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = def.MaxBatchSize
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	if cfg.RealtimeTimeout <= 0 {
		cfg.RealtimeTimeout = def.RealtimeTimeout
	}
	if cfg.BackgroundTimeout <= 0 {
		cfg.BackgroundTimeout = def.BackgroundTimeout
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = def.MaxParallel
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Scheduler{
		cfg:     cfg,
		backend: backend,
		logger:  logger.With().Str("component", "batch_scheduler").Logger(),
		metrics: m,
		pending: make(map[pendingKey]*item),
		wake:    make(chan struct{}, 1),
	}
}

// Name implements stt.Backend.
func (s *Scheduler) Name() string { return s.backend.Name() }

// Kind implements stt.Backend.
func (s *Scheduler) Kind() stt.Kind { return s.backend.Kind() }

// Depth returns the number of queued items.
func (s *Scheduler) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Transcribe implements stt.Backend. Final passes go straight to the
// backend; chunk requests are queued and resolved when their batch
// completes or their per-item timeout fires.
func (s *Scheduler) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if req.Final {
		return s.backend.Transcribe(ctx, req)
	}

	timeout := s.cfg.BackgroundTimeout
	if req.Priority >= stt.PriorityHigh {
		timeout = s.cfg.RealtimeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	it, bypass, err := s.enqueue(ctx, req)
	if err != nil {
		return stt.Result{}, err
	}
	if bypass {
		s.metrics.BatchBypassed.Inc()
		s.logger.Debug().
			Str("session_id", req.SessionID).
			Int("chunk_index", req.ChunkIndex).
			Str("priority", req.Priority.String()).
			Msg("Queue full, bypassing")
		return s.backend.Transcribe(ctx, req)
	}

	select {
	case r := <-it.done:
		return r.res, r.err
	case <-ctx.Done():
		s.abandon(it)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.metrics.BatchTimeouts.Inc()
		}
		return stt.Result{}, stt.Classify(s.Name(), ctx.Err())
	}
}

func (s *Scheduler) enqueue(ctx context.Context, req stt.Request) (*item, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, false, stt.NewError(s.Name(), stt.ErrUnavailable, ErrStopped)
	}
	key := pendingKey{sessionID: req.SessionID, chunkIndex: req.ChunkIndex}
	if _, ok := s.pending[key]; ok {
		return nil, false, stt.NewError(s.Name(), stt.ErrRejected,
			fmt.Errorf("%w: %s/%d", ErrDuplicate, req.SessionID, req.ChunkIndex))
	}
	if s.queue.Len() >= s.cfg.QueueSize {
		if req.Priority >= stt.PriorityHigh {
			return nil, true, nil
		}
		s.metrics.BatchRejected.Inc()
		return nil, false, stt.NewError(s.Name(), stt.ErrUnavailable, ErrQueueFull)
	}

	s.seq++
	it := &item{
		key:  key,
		req:  req,
		ctx:  ctx,
		seq:  s.seq,
		done: make(chan response, 1),
	}
	heap.Push(&s.queue, it)
	s.pending[key] = it
	s.metrics.SetQueueDepth(s.queue.Len())
	s.signal()
	return it, false, nil
}

// abandon removes an item whose caller gave up.
func (s *Scheduler) abandon(it *item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it.index >= 0 {
		heap.Remove(&s.queue, it.index)
		s.metrics.SetQueueDepth(s.queue.Len())
	}
	if s.pending[it.key] == it {
		delete(s.pending, it.key)
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start launches the drain loop. It is a no-op after the first call.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info().
		Int("queue_size", s.cfg.QueueSize).
		Int("max_batch_size", s.cfg.MaxBatchSize).
		Dur("max_wait", s.cfg.MaxWait).
		Msg("Batch scheduler started")
}

// Stop cancels the drain loop, waits for it and fails queued items with
// ErrStopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	remaining := s.drain(s.queue.Len())
	s.mu.Unlock()
	for _, it := range remaining {
		s.resolve(it, response{err: stt.NewError(s.Name(), stt.ErrUnavailable, ErrStopped)})
	}
	s.logger.Info().Int("failed_items", len(remaining)).Msg("Batch scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}

		s.window(ctx)

		s.mu.Lock()
		batch := s.drain(s.cfg.MaxBatchSize)
		more := s.queue.Len() > 0
		s.mu.Unlock()

		if len(batch) > 0 {
			s.dispatch(ctx, batch)
		}
		if more {
			s.signal()
		}
	}
}

// window waits until the batch is full, a realtime item is queued or
// MaxWait elapses.
func (s *Scheduler) window(ctx context.Context) {
	timer := time.NewTimer(s.cfg.MaxWait)
	defer timer.Stop()
	for {
		s.mu.Lock()
		n := s.queue.Len()
		realtime := n > 0 && s.queue[0].req.Priority == stt.PriorityRealtime
		s.mu.Unlock()
		if n >= s.cfg.MaxBatchSize || realtime {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case <-s.wake:
		}
	}
}

// drain pops up to n live items. Caller holds s.mu.
func (s *Scheduler) drain(n int) []*item {
	var out []*item
	for s.queue.Len() > 0 && len(out) < n {
		it := heap.Pop(&s.queue).(*item)
		if it.ctx.Err() != nil {
			delete(s.pending, it.key)
			continue
		}
		out = append(out, it)
	}
	s.metrics.SetQueueDepth(s.queue.Len())
	return out
}

func (s *Scheduler) dispatch(ctx context.Context, batch []*item) {
	groups := groupItems(batch)

	var g errgroup.Group
	for _, group := range groups {
		s.metrics.RecordBatch(len(group))
		g.Go(func() error {
			s.runGroup(ctx, group)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) runGroup(ctx context.Context, group []*item) {
	if bb, ok := s.backend.(stt.BatchBackend); ok && len(group) > 1 {
		batchCtx, cancel := context.WithTimeout(ctx, s.cfg.BackgroundTimeout)
		defer cancel()

		reqs := make([]stt.Request, len(group))
		for i, it := range group {
			reqs[i] = it.req
		}
		results, errs := bb.TranscribeBatch(batchCtx, reqs)
		for i, it := range group {
			var r response
			if i < len(results) {
				r.res = results[i]
			}
			if i < len(errs) {
				r.err = errs[i]
			} else if i >= len(results) {
				r.err = stt.NewError(s.Name(), stt.ErrUnavailable, errors.New("batch returned too few results"))
			}
			s.resolve(it, r)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxParallel)
	for _, it := range group {
		g.Go(func() error {
			res, err := s.backend.Transcribe(it.ctx, it.req)
			s.resolve(it, response{res: res, err: err})
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) resolve(it *item, r response) {
	s.mu.Lock()
	if s.pending[it.key] == it {
		delete(s.pending, it.key)
	}
	s.mu.Unlock()
	it.done <- r
}

// groupKey identifies requests that can share one batched call.
func groupKey(p stt.Params) string {
	class := "greedy"
	if p.Temperature() > 0 {
		class = "sampled"
	}
	if len(p.Temperatures) > 1 {
		class += "+fallback"
	}
	return fmt.Sprintf("%d|%s|%t|%t", p.BeamSize, class, p.ConditionOnPreviousText, p.WordTimestamps)
}

// groupItems partitions items by groupKey, preserving first-seen order.
func groupItems(items []*item) [][]*item {
	index := map[string]int{}
	var groups [][]*item
	for _, it := range items {
		k := groupKey(it.req.Params)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], it)
	}
	return groups
}
