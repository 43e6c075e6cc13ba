package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/electwix/db-lens/internal/catalog"
	"github.com/electwix/db-lens/internal/logging"
)

const (
	defaultWorkers       = 2
	defaultQueueCapacity = 16
)

// Job is one queued prefetch. Epoch is the invalidation epoch at enqueue time.
type Job struct {
	Key   catalog.Key
	Epoch uint64
}

// WarmFunc fetches and stores the key of a job. It runs on a worker goroutine.
type WarmFunc func(ctx context.Context, job Job)

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	// Workers is the size of the worker pool; defaults to 2.
	Workers int
	// Capacity bounds the queue; hints beyond it are dropped. Defaults to 16.
	Capacity int
	// Rate limits background fetches per second. Zero means unlimited.
	Rate float64
	// Burst is the limiter burst; defaults to 1.
	Burst int
	// Admit filters hinted keys before they are queued. Nil admits all.
	Admit func(catalog.Key) bool
	// Epoch returns the current invalidation epoch. Nil means always zero.
	Epoch  func() uint64
	Logger logging.Logger
}

// Scheduler is a bounded FIFO of prefetch jobs drained by a fixed worker pool.
type Scheduler struct {
	mu       sync.Mutex
	queue    deque.Deque[Job]
	pending  map[catalog.Key]struct{} // queued or being warmed
	capacity int
	closed   bool

	wake    chan struct{}
	limiter *rate.Limiter
	warm    WarmFunc
	admit   func(catalog.Key) bool
	epoch   func() uint64
	log     logging.Logger

	cancel context.CancelFunc
	group  *errgroup.Group

	dropped atomic.Int64
}

// NewScheduler starts the worker pool. Workers call warm for each job.
func NewScheduler(opts SchedulerOptions, warm WarmFunc) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Capacity <= 0 {
		opts.Capacity = defaultQueueCapacity
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	epoch := opts.Epoch
	if epoch == nil {
		epoch = func() uint64 { return 0 }
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	s := &Scheduler{
		pending:  make(map[catalog.Key]struct{}),
		capacity: opts.Capacity,
		wake:     make(chan struct{}, 1),
		limiter:  rate.NewLimiter(limit, opts.Burst),
		warm:     warm,
		admit:    opts.Admit,
		epoch:    epoch,
		log:      logging.OrNop(opts.Logger),
		cancel:   cancel,
		group:    group,
	}
	for i := 0; i < opts.Workers; i++ {
		group.Go(func() error {
			s.work(ctx)
			return nil
		})
	}
	return s
}

// Hint queues candidates for background warming, in order. The current key,
// keys already queued or being warmed, and keys rejected by Admit are
// skipped. Once the queue is full the remaining admissible candidates are
// dropped and counted.
// Hint returns the number of keys queued and never blocks on I/O.
func (s *Scheduler) Hint(current catalog.Key, candidates []catalog.Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}

	epoch := s.epoch()
	queued := 0
	var dropped map[catalog.Key]struct{}
	for _, key := range candidates {
		if key == current {
			continue
		}
		if _, ok := s.pending[key]; ok {
			continue
		}
		if _, ok := dropped[key]; ok {
			continue
		}
		if s.admit != nil && !s.admit(key) {
			continue
		}
		if s.queue.Len() >= s.capacity {
			if dropped == nil {
				dropped = make(map[catalog.Key]struct{})
			}
			dropped[key] = struct{}{}
			continue
		}
		s.queue.PushBack(Job{Key: key, Epoch: epoch})
		s.pending[key] = struct{}{}
		queued++
	}
	if len(dropped) > 0 {
		s.dropped.Add(int64(len(dropped)))
		s.log.Debug("prefetch queue full", "dropped", len(dropped))
	}
	if queued > 0 {
		s.signal()
	}
	return queued
}

// Drain removes queued jobs whose key matches pred and returns how many were
// removed. Jobs already handed to a worker are not affected.
func (s *Scheduler) Drain(pred func(catalog.Key) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for n := s.queue.Len(); n > 0; n-- {
		job := s.queue.PopFront()
		if pred(job.Key) {
			delete(s.pending, job.Key)
			removed++
			continue
		}
		s.queue.PushBack(job)
	}
	return removed
}

// Clear removes every queued job.
func (s *Scheduler) Clear() int {
	return s.Drain(func(catalog.Key) bool { return true })
}

// Len returns the number of queued jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queue.Len()
}

// Pending reports whether key is queued or being warmed.
func (s *Scheduler) Pending(key catalog.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.pending[key]
	return ok
}

// Dropped returns how many hinted keys were discarded because the queue was full.
func (s *Scheduler) Dropped() int64 {
	return s.dropped.Load()
}

// Close discards queued jobs, stops the workers and waits for them to return.
// A fetch already running in the background may still complete after Close.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue.Clear()
	clear(s.pending)
	s.mu.Unlock()

	s.cancel()
	return s.group.Wait()
}

func (s *Scheduler) work(ctx context.Context) {
	for {
		job, ok := s.next(ctx)
		if !ok {
			return
		}
		if err := s.limiter.Wait(ctx); err != nil {
			s.done(job)
			return
		}
		s.warm(ctx, job)
		s.done(job)
	}
}

func (s *Scheduler) next(ctx context.Context) (Job, bool) {
	for {
		s.mu.Lock()
		if s.queue.Len() > 0 {
			job := s.queue.PopFront()
			more := s.queue.Len() > 0
			s.mu.Unlock()
			if more {
				s.signal()
			}
			return job, true
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-ctx.Done():
			return Job{}, false
		}
	}
}

func (s *Scheduler) done(job Job) {
	s.mu.Lock()
	delete(s.pending, job.Key)
	s.mu.Unlock()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
