package enforce

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"

	"inventariagent/internal/model"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("enforcement pool closed")

// Handler processes one observation.
type Handler interface {
	Handle(ctx context.Context, obs model.ProcessObservation) Result
}

type job struct {
	ctx context.Context
	obs model.ProcessObservation
}

// Pool runs a fixed number of workers over a bounded queue. Submit blocks
// when the queue is full instead of spawning more work.
type Pool struct {
	h     Handler
	queue chan job
	wg    sync.WaitGroup
	log   *slog.Logger

	mu     sync.RWMutex
	closed bool
}

func NewPool(h Handler, workers, queueSize int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		h:     h,
		queue: make(chan job, queueSize),
		log:   logger.With("component", "enforce_pool"),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for j := range p.queue {
		p.run(id, j)
	}
}

func (p *Pool) run(id int, j job) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Panic recovered in goroutine", "goroutine", "enforce-worker", "worker", id, "pid", j.obs.PID, "err", r, "stack", string(debug.Stack()))
		}
	}()
	p.h.Handle(j.ctx, j.obs)
}

// Submit queues obs, waiting for room until ctx is done. The handler runs on
// a context detached from ctx cancellation, so a kill sequence already
// started is not cut short by shutdown.
func (p *Pool) Submit(ctx context.Context, obs model.ProcessObservation) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- job{ctx: context.WithoutCancel(ctx), obs: obs}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops intake and waits for queued and in-flight work to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
