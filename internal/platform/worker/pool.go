// Package worker provides a bounded worker pool for background tasks such as
// vetting newly discovered tokens.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is returned when submitting to a closed pool
var ErrPoolClosed = errors.New("worker: pool closed")

// Task is a unit of work. It receives the pool context, which is cancelled on Close.
type Task struct {
	ID  string
	Run func(ctx context.Context) error
}

// Stats is a snapshot of pool counters
type Stats struct {
	Workers   int    `json:"workers"`
	Queued    int    `json:"queued"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

// Pool runs tasks on a fixed number of goroutines fed by a bounded queue
type Pool struct {
	workers int
	queue   chan Task
	onError func(task Task, err error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	completed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// Option configures a Pool
type Option func(*Pool)

// WithErrorHandler sets a callback for failed or panicking tasks
func WithErrorHandler(fn func(task Task, err error)) Option {
	return func(p *Pool) { p.onError = fn }
}

// NewPool starts workers goroutines reading from a queue of queueSize
func NewPool(ctx context.Context, workers, queueSize int, opts ...Option) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	poolCtx, cancel := context.WithCancel(ctx)
	p := &Pool{
		workers: workers,
		queue:   make(chan Task, queueSize),
		ctx:     poolCtx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(p)
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.loop()
	}

	return p
}

func (p *Pool) loop() {
	defer p.wg.Done()

	for task := range p.queue {
		if p.ctx.Err() != nil {
			p.dropped.Add(1)
			continue
		}
		p.execute(task)
	}
}

func (p *Pool) execute(task Task) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task %s panicked: %v", task.ID, r)
			}
		}()
		err = task.Run(p.ctx)
	}()

	if err != nil {
		p.failed.Add(1)
		if p.onError != nil {
			p.onError(task, err)
		}
		return
	}
	p.completed.Add(1)
}

// Submit enqueues a task, blocking while the queue is full
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// TrySubmit enqueues a task without blocking. A full queue drops the task.
func (p *Pool) TrySubmit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}

	select {
	case p.queue <- task:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// Close stops accepting tasks, cancels running ones and waits for workers.
// Tasks still queued are dropped.
func (p *Pool) Close() {
	p.cancel()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

// Shutdown stops accepting tasks and waits for queued tasks to finish. When
// ctx expires first the remaining tasks are cancelled and dropped as in Close.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// Stats returns pool counters
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Queued:    len(p.queue),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
	}
}
