// Package workers provides a bounded pool of goroutines draining a task queue.
package workers

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/fruitsalade/nimbus/internal/logging"
	"github.com/fruitsalade/nimbus/internal/metrics"
)

// ErrPoolClosed is returned by Submit after Stop.
var ErrPoolClosed = errors.New("worker pool closed")

// Task is a unit of background work.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed number of goroutines.
type Pool struct {
	name    string
	queue   chan Task
	workers int

	mu      sync.RWMutex
	closed  bool
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	pending sync.WaitGroup
}

// New creates a pool. Tasks beyond queueSize block Submit until a worker
// frees a slot.
func New(name string, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	return &Pool{
		name:    name,
		queue:   make(chan Task, queueSize),
		workers: workers,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	logging.Info("worker pool started", zap.String("pool", p.name), zap.Int("workers", p.workers))
}

// Stop stops accepting tasks, lets workers drain the queue and waits for them.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	if p.cancel != nil {
		p.cancel()
	}
	logging.Info("worker pool stopped", zap.String("pool", p.name))
}

// Submit queues a task. It blocks while the queue is full.
// Tasks must not call Submit on their own pool.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.pending.Add(1)
	p.queue <- task
	metrics.SetPoolQueueDepth(p.name, len(p.queue))
	return nil
}

// Wait blocks until every submitted task has finished.
func (p *Pool) Wait() {
	p.pending.Wait()
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for task := range p.queue {
		metrics.SetPoolQueueDepth(p.name, len(p.queue))
		p.run(ctx, task)
	}
}

func (p *Pool) run(ctx context.Context, task Task) {
	defer p.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			logging.Error("worker task panicked", zap.String("pool", p.name), zap.Any("panic", r))
		}
	}()
	task(ctx)
	metrics.RecordPoolTask(p.name)
}
