// Package mailbox serializes work per key. Each key gets a worker goroutine
// that runs submitted functions one at a time in arrival order; distinct keys
// run in parallel. Idle workers exit after a timeout.
package mailbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultIdleTimeout = 30 * time.Second
	defaultQueueSize   = 64
)

// ErrClosed is returned when work is submitted after Close.
var ErrClosed = errors.New("mailbox: closed")

const (
	jobQueued int32 = iota
	jobStarted
	jobAbandoned
)

type job struct {
	fn    func() error
	state atomic.Int32
	done  chan error
}

type worker struct {
	jobs    chan *job
	pending int
}

// Mailbox routes work to per-key workers.
type Mailbox[K comparable] struct {
	mu        sync.Mutex
	workers   map[K]*worker
	idle      time.Duration
	queueSize int
	closed    bool
	handoff   sync.WaitGroup
	wg        sync.WaitGroup
}

// Option customises a Mailbox.
type Option func(*options)

type options struct {
	idle      time.Duration
	queueSize int
}

// WithIdleTimeout sets how long a worker waits for new work before exiting.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.idle = d
		}
	}
}

// WithQueueSize sets the per-key buffer of queued jobs.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// New constructs an empty mailbox.
func New[K comparable](opts ...Option) *Mailbox[K] {
	cfg := options{idle: defaultIdleTimeout, queueSize: defaultQueueSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Mailbox[K]{
		workers:   make(map[K]*worker),
		idle:      cfg.idle,
		queueSize: cfg.queueSize,
	}
}

// Do runs fn on the worker for key and waits for its result. When ctx ends
// before fn has started, fn is never run and Do returns the context error.
// Once fn has started it runs to completion and Do returns its result.
func (m *Mailbox[K]) Do(ctx context.Context, key K, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	j := &job{fn: fn, done: make(chan error, 1)}
	w, err := m.acquire(key)
	if err != nil {
		return err
	}
	select {
	case w.jobs <- j:
		m.handoff.Done()
	case <-ctx.Done():
		m.mu.Lock()
		w.pending--
		m.mu.Unlock()
		m.handoff.Done()
		return ctx.Err()
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		if j.state.CompareAndSwap(jobQueued, jobAbandoned) {
			return ctx.Err()
		}
		return <-j.done
	}
}

// acquire returns the worker for key, starting one if needed. The pending
// count keeps the worker from retiring before the job reaches it.
func (m *Mailbox[K]) acquire(key K) (*worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	w, ok := m.workers[key]
	if !ok {
		w = &worker{jobs: make(chan *job, m.queueSize)}
		m.workers[key] = w
		m.wg.Add(1)
		go m.run(key, w)
	}
	w.pending++
	m.handoff.Add(1)
	return w, nil
}

func (m *Mailbox[K]) run(key K, w *worker) {
	defer m.wg.Done()
	timer := time.NewTimer(m.idle)
	defer timer.Stop()
	for {
		select {
		case j, ok := <-w.jobs:
			if !ok {
				return
			}
			if j.state.CompareAndSwap(jobQueued, jobStarted) {
				j.done <- j.fn()
			}
			m.mu.Lock()
			w.pending--
			m.mu.Unlock()
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(m.idle)
		case <-timer.C:
			m.mu.Lock()
			if w.pending == 0 && m.workers[key] == w {
				delete(m.workers, key)
				m.mu.Unlock()
				return
			}
			m.mu.Unlock()
			timer.Reset(m.idle)
		}
	}
}

// Workers reports the number of live workers.
func (m *Mailbox[K]) Workers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// Close stops accepting work, lets queued jobs finish and waits for every
// worker to exit.
func (m *Mailbox[K]) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.handoff.Wait()

	m.mu.Lock()
	for key, w := range m.workers {
		close(w.jobs)
		delete(m.workers, key)
	}
	m.mu.Unlock()
	m.wg.Wait()
}
