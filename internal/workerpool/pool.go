// Package workerpool implements the fixed-size task worker pool (C4): each
// worker pins one pooled database session for its entire lifetime and
// drains internal/taskqueue under a per-task arena, generalizing the
// teacher's goroutine-per-accepted-connection shape (internal/proxy.Server
// acceptLoop) into goroutine-per-worker-slot draining a shared queue
// instead of a listener.
package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zlovtnik/sentinel/internal/arena"
	"github.com/zlovtnik/sentinel/internal/dbpool"
	"github.com/zlovtnik/sentinel/internal/events"
	"github.com/zlovtnik/sentinel/internal/metrics"
	"github.com/zlovtnik/sentinel/internal/taskqueue"
)

// Handler executes one task using the worker's pinned session and scratch
// arena. Implementations are supplied per TaskKind by the caller wiring the
// pool together (cmd/sentinel).
type Handler func(ctx context.Context, s *dbpool.Session, a *arena.Arena, t events.Task) error

// Stats is a point-in-time snapshot of worker pool health.
type Stats struct {
	ActiveWorkers int32
	FailedWorkers int32
	TasksHandled  int64
	TasksFailed   int64
	InProgress    int32
}

// Pool runs a fixed number of workers, each holding one dbpool.Session for
// its lifetime, pulling from a shared taskqueue.Queue.
type Pool struct {
	size      int
	dbpool    *dbpool.Pool
	queue     *taskqueue.Queue
	handlers  map[events.TaskKind]Handler
	metrics   *metrics.Collector
	popTimeout time.Duration

	activeWorkers int32
	failedWorkers int32
	tasksHandled  int64
	tasksFailed   int64
	inProgress    int32

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// ErrUnstartable is returned by Start when fewer than size workers could
// acquire a session, per the all-or-nothing startup contract.
type ErrUnstartable struct {
	Acquired int
	Wanted   int
	Cause    error
}

func (e *ErrUnstartable) Error() string {
	return fmt.Sprintf("workerpool: only %d/%d workers could start: %v", e.Acquired, e.Wanted, e.Cause)
}

func (e *ErrUnstartable) Unwrap() error { return e.Cause }

// New builds a Pool of the given size with handlers dispatched by TaskKind.
// m may be nil in tests that don't care about the worker-task catalogue.
func New(size int, dp *dbpool.Pool, q *taskqueue.Queue, handlers map[events.TaskKind]Handler, m *metrics.Collector) *Pool {
	return &Pool{
		size:       size,
		dbpool:     dp,
		queue:      q,
		handlers:   handlers,
		metrics:    m,
		popTimeout: 500 * time.Millisecond,
	}
}

// Start acquires one session per worker up front and only then spawns the
// workers. If any acquire fails, the sessions already acquired are released
// and Start returns an error without spawning any worker — all-or-nothing,
// per §4.4.
func (p *Pool) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	type started struct {
		session *dbpool.Session
	}
	startedWorkers := make([]started, 0, p.size)

	for i := 0; i < p.size; i++ {
		s, err := p.dbpool.Acquire(runCtx)
		if err != nil {
			atomic.AddInt32(&p.failedWorkers, 1)
			for _, sw := range startedWorkers {
				p.dbpool.Release(sw.session)
			}
			cancel()
			return &ErrUnstartable{Acquired: len(startedWorkers), Wanted: p.size, Cause: err}
		}
		startedWorkers = append(startedWorkers, started{session: s})
	}

	for i, sw := range startedWorkers {
		p.wg.Add(1)
		atomic.AddInt32(&p.activeWorkers, 1)
		go p.run(runCtx, i, sw.session)
	}

	return nil
}

func (p *Pool) run(ctx context.Context, id int, s *dbpool.Session) {
	defer p.wg.Done()
	defer atomic.AddInt32(&p.activeWorkers, -1)
	defer p.dbpool.Release(s)

	a := arena.Get()
	defer arena.Put(a)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := p.queue.Pop(p.popTimeout)
		if err != nil {
			continue // ErrTimeout/ErrEmpty — nothing to do, re-check ctx
		}

		atomic.AddInt32(&p.inProgress, 1)
		a.Reset()
		start := time.Now()
		handlerErr := p.dispatch(ctx, s, a, task, id)
		duration := time.Since(start)
		atomic.AddInt32(&p.inProgress, -1)

		atomic.AddInt64(&p.tasksHandled, 1)
		if handlerErr != nil {
			atomic.AddInt64(&p.tasksFailed, 1)
		}
		task.Complete(handlerErr)
		if p.metrics != nil {
			p.metrics.WorkerTaskCompleted(string(task.Kind), handlerErr, duration)
		}
	}
}

func (p *Pool) dispatch(ctx context.Context, s *dbpool.Session, a *arena.Arena, t events.Task, workerID int) error {
	h, ok := p.handlers[t.Kind]
	if !ok {
		return fmt.Errorf("workerpool: worker %d: no handler registered for task kind %q", workerID, t.Kind)
	}
	if err := h(ctx, s, a, t); err != nil {
		slog.Error("workerpool: task failed", "worker", workerID, "kind", t.Kind, "err", err)
		return err
	}
	return nil
}

// Stop signals all workers to exit after their current task and blocks
// until they've returned (each worker releases its pinned session on exit).
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Stats returns current worker pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		ActiveWorkers: atomic.LoadInt32(&p.activeWorkers),
		FailedWorkers: atomic.LoadInt32(&p.failedWorkers),
		TasksHandled:  atomic.LoadInt64(&p.tasksHandled),
		TasksFailed:   atomic.LoadInt64(&p.tasksFailed),
		InProgress:    atomic.LoadInt32(&p.inProgress),
	}
}
