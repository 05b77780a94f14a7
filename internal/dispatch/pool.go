package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/thread-relay/internal/events"
	"github.com/wolfman30/thread-relay/internal/observability/metrics"
	"github.com/wolfman30/thread-relay/pkg/logging"
)

var (
	ErrQueueFull  = errors.New("dispatch: queue full")
	ErrPoolClosed = errors.New("dispatch: pool closed")
)

const (
	defaultWorkerCount  = 4
	defaultQueueSize    = 256
	defaultEventTimeout = 90 * time.Second
)

// Handler processes a single event.
type Handler interface {
	Handle(ctx context.Context, ev events.InboundEvent) Result
}

type job struct {
	id  string
	ctx context.Context
	ev  events.InboundEvent
}

// Pool runs accepted events on a fixed set of workers behind a bounded queue.
type Pool struct {
	handler Handler
	logger  *logging.Logger
	metrics *metrics.RelayMetrics
	cfg     poolConfig

	jobs   chan job
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type poolConfig struct {
	workers      int
	queueSize    int
	eventTimeout time.Duration
	metrics      *metrics.RelayMetrics
}

// PoolOption customizes pool behavior.
type PoolOption func(*poolConfig)

// WithWorkerCount sets the number of concurrent workers.
func WithWorkerCount(count int) PoolOption {
	return func(cfg *poolConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithQueueSize bounds how many accepted events may wait for a worker.
func WithQueueSize(size int) PoolOption {
	return func(cfg *poolConfig) {
		if size > 0 {
			cfg.queueSize = size
		}
	}
}

// WithEventTimeout bounds the processing of a single event.
func WithEventTimeout(timeout time.Duration) PoolOption {
	return func(cfg *poolConfig) {
		if timeout > 0 {
			cfg.eventTimeout = timeout
		}
	}
}

// WithPoolMetrics reports queue depth on m.
func WithPoolMetrics(m *metrics.RelayMetrics) PoolOption {
	return func(cfg *poolConfig) {
		cfg.metrics = m
	}
}

// NewPool creates a stopped pool; call Start before Submit.
func NewPool(handler Handler, logger *logging.Logger, opts ...PoolOption) *Pool {
	if handler == nil {
		panic("dispatch: handler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := poolConfig{
		workers:      defaultWorkerCount,
		queueSize:    defaultQueueSize,
		eventTimeout: defaultEventTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Pool{
		handler: handler,
		logger:  logger,
		metrics: cfg.metrics,
		cfg:     cfg,
		jobs:    make(chan job, cfg.queueSize),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.cfg.workers; i++ {
		p.wg.Add(1)
		go p.run(i + 1)
	}
}

// Submit queues ev without blocking. The job keeps ctx values but not its
// cancellation, so processing outlives the inbound request.
func (p *Pool) Submit(ctx context.Context, ev events.InboundEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	j := job{id: uuid.NewString(), ctx: context.WithoutCancel(ctx), ev: ev}
	select {
	case p.jobs <- j:
		p.metrics.SetQueueDepth(len(p.jobs))
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting work and waits for queued events to finish.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatch: shutdown: %w", ctx.Err())
	}
}

// Wait blocks until all workers exit.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(workerID int) {
	defer p.wg.Done()
	p.logger.Debug("dispatch worker started", "worker_id", workerID)
	for j := range p.jobs {
		p.metrics.SetQueueDepth(len(p.jobs))
		p.process(workerID, j)
	}
	p.logger.Debug("dispatch worker stopping", "worker_id", workerID)
}

func (p *Pool) process(workerID int, j job) {
	ctx, cancel := context.WithTimeout(j.ctx, p.cfg.eventTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("dispatch worker recovered from panic", "worker_id", workerID, "job_id", j.id, "event_id", j.ev.DeliveryID, "panic", fmt.Sprint(r))
		}
	}()
	p.handler.Handle(ctx, j.ev)
}
