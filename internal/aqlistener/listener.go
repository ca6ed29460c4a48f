// Package aqlistener implements the single-loop Oracle AQ consumer (C5): one
// borrowed session per iteration, a cached object-type descriptor, and a
// dequeue-many call configured for wait-then-timeout semantics, generalizing
// the teacher's single-goroutine acceptLoop (internal/proxy.Server) from
// "accept a socket" to "dequeue a queue message".
package aqlistener

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/godror/godror"

	"github.com/zlovtnik/sentinel/internal/dbpool"
	"github.com/zlovtnik/sentinel/internal/events"
)

// Config holds the queue identity and dequeue tuning knobs from §6.
type Config struct {
	QueueName    string
	PayloadType  string // the AQ payload object type, e.g. SENTINEL_EVENT_T
	WaitSeconds  int    // DeqOptions.Wait; 0 means "no wait" per §4.5
	BatchSize    int    // SENTINEL_AQ_BATCH_SIZE, default 1
	ErrorBackoff time.Duration
}

// DefaultErrorBackoff is the sleep applied after a non-timeout dequeue
// error before retrying, per §4.5 step 5.
const DefaultErrorBackoff = time.Second

// Stats is a point-in-time snapshot of listener activity.
type Stats struct {
	Received int64
	Handled  int64
	Failed   int64
	Timeouts int64
}

// Handler turns one dequeued Event into a Task to hand off to the worker
// pool; returning an error causes the message to not be committed, so it
// redelivers.
type Handler func(ctx context.Context, ev events.Event) error

// Listener runs the single AQ-consumption loop.
type Listener struct {
	cfg     Config
	pool    *dbpool.Pool
	handler Handler

	stopCh chan struct{}
	doneCh chan struct{}

	received, handled, failed, timeouts int64
}

// New builds a Listener. handler is invoked synchronously for each
// dequeued event, inside the same session/transaction the dequeue used, so
// handler and commit succeed or fail together — handler is responsible for
// pushing a Task onto the worker queue (or handling inline), since the
// listener itself is queue-agnostic.
func New(cfg Config, pool *dbpool.Pool, handler Handler) *Listener {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = DefaultErrorBackoff
	}
	return &Listener{
		cfg:     cfg,
		pool:    pool,
		handler: handler,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Run blocks, dequeuing until Stop is called or ctx is canceled.
func (l *Listener) Run(ctx context.Context) {
	defer close(l.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		default:
		}

		if err := l.iterate(ctx); err != nil {
			l.failed++
			slog.Error("aqlistener: iteration failed", "err", err)
			select {
			case <-time.After(l.cfg.ErrorBackoff):
			case <-ctx.Done():
				return
			case <-l.stopCh:
				return
			}
		}
	}
}

// Stop requests the loop exit after its current iteration and blocks until
// it has.
func (l *Listener) Stop() {
	close(l.stopCh)
	<-l.doneCh
}

// Stats returns current listener counters.
func (l *Listener) Stats() Stats {
	return Stats{
		Received: l.received,
		Handled:  l.handled,
		Failed:   l.failed,
		Timeouts: l.timeouts,
	}
}

// iterate performs one borrow-dequeue-handle-commit cycle, per §4.5:
//  1. borrow a session, look up (or reuse cached) the payload object-type
//     descriptor
//  2. dequeue-many with navigation=first-message, wait=WaitSeconds,
//     visibility=on-commit
//  3. on timeout: no-op, return nil (not an error)
//  4. on message: extract the six named attributes, build an Event, invoke
//     handler, then commit
//  5. on other errors: return the error; Run counts it and applies the
//     backoff
func (l *Listener) iterate(ctx context.Context) error {
	s, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("aqlistener: acquire session: %w", err)
	}
	defer l.pool.Release(s)

	objType, err := l.lookupObjectType(ctx, s)
	if err != nil {
		return fmt.Errorf("aqlistener: object type lookup: %w", err)
	}

	// visibility=on-commit requires the dequeue to run inside an explicit
	// transaction: the message is only removed from the queue once this
	// tx commits, which happens after handler has run successfully.
	tx, err := s.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("aqlistener: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	q, err := godror.NewQueue(ctx, tx, l.cfg.QueueName, objType.Name)
	if err != nil {
		return fmt.Errorf("aqlistener: open queue %s: %w", l.cfg.QueueName, err)
	}
	defer q.Close()

	q.Dequeue.Mode = godror.DeqRemove
	q.Dequeue.Navigation = godror.NavFirstMsg
	q.Dequeue.Visibility = godror.VisibleOnCommit
	q.Dequeue.Wait = time.Duration(l.cfg.WaitSeconds) * time.Second

	msgs := make([]godror.Message, l.cfg.BatchSize)
	n, err := q.Dequeue(msgs)
	if err != nil {
		if godror.IsTimeout(err) {
			l.timeouts++
			return nil
		}
		return fmt.Errorf("aqlistener: dequeue: %w", err)
	}
	if n == 0 {
		l.timeouts++
		return nil
	}

	for _, msg := range msgs[:n] {
		l.received++
		ev, err := l.toEvent(msg)
		if err != nil {
			return fmt.Errorf("aqlistener: decode message: %w", err)
		}
		if err := l.handler(ctx, ev); err != nil {
			return fmt.Errorf("aqlistener: handler: %w", err)
		}
		l.handled++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("aqlistener: commit: %w", err)
	}
	committed = true

	return nil
}

// lookupObjectType returns the cached descriptor for the payload type if
// present on this session, otherwise resolves and caches it — §4.5 step 1:
// "looked up once per session".
func (l *Listener) lookupObjectType(ctx context.Context, s *dbpool.Session) (godror.ObjectType, error) {
	if cached, ok := s.Descriptor(l.cfg.PayloadType); ok {
		return cached.(godror.ObjectType), nil
	}

	conn, err := godror.DriverConn(ctx, s.Conn())
	if err != nil {
		return godror.ObjectType{}, err
	}
	objType, err := conn.GetObjectType(l.cfg.PayloadType)
	if err != nil {
		return godror.ObjectType{}, err
	}
	s.CacheDescriptor(l.cfg.PayloadType, objType)
	return objType, nil
}

// toEvent extracts the six named attributes from the payload object and
// builds an Event. Attributes are always read by name, never by position,
// per the spec's resolved Open Question.
func (l *Listener) toEvent(msg godror.Message) (events.Event, error) {
	obj := msg.Object
	if obj == nil {
		return events.Event{}, fmt.Errorf("aqlistener: message payload is nil")
	}
	defer obj.Close()

	eventID, err := attrString(obj, "EVENT_ID")
	if err != nil {
		return events.Event{}, err
	}
	eventTypeRaw, err := attrString(obj, "EVENT_TYPE")
	if err != nil {
		return events.Event{}, err
	}
	processID, err := attrString(obj, "PROCESS_ID")
	if err != nil {
		return events.Event{}, err
	}
	tenantID, err := attrString(obj, "TENANT_ID")
	if err != nil {
		return events.Event{}, err
	}
	tsRaw, err := attrTime(obj, "TIMESTAMP_UTC")
	if err != nil {
		return events.Event{}, err
	}
	payload, err := attrPayload(obj, "PAYLOAD")
	if err != nil {
		return events.Event{}, err
	}

	ev := events.Event{
		EventID:      eventID,
		EventType:    events.Type(eventTypeRaw),
		ProcessID:    processID,
		TenantID:     tenantID,
		TimestampUTC: tsRaw,
		Payload:      payload,
	}
	if err := ev.Validate(); err != nil {
		return events.Event{}, fmt.Errorf("aqlistener: invalid event payload: %w", err)
	}
	return ev, nil
}

func attrString(obj *godror.Object, name string) (string, error) {
	v, err := obj.Get(name)
	if err != nil {
		return "", fmt.Errorf("attribute %s: %w", name, err)
	}
	s, _ := v.(string)
	return s, nil
}

func attrTime(obj *godror.Object, name string) (time.Time, error) {
	v, err := obj.Get(name)
	if err != nil {
		return time.Time{}, fmt.Errorf("attribute %s: %w", name, err)
	}
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, fmt.Errorf("attribute %s: unexpected type %T", name, v)
	}
	return t, nil
}

// attrPayload reads the PAYLOAD attribute, streaming it via io.ReadAll when
// it is a CLOB/*godror.Lob, per the resolved Open Question on large payload
// handling — the LOB reader is exhausted before message properties (and the
// owning session) are released.
func attrPayload(obj *godror.Object, name string) (json.RawMessage, error) {
	v, err := obj.Get(name)
	if err != nil {
		return nil, fmt.Errorf("attribute %s: %w", name, err)
	}
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return json.RawMessage(t), nil
	case *godror.Lob:
		b, err := io.ReadAll(t)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: reading LOB: %w", name, err)
		}
		return json.RawMessage(b), nil
	default:
		return nil, fmt.Errorf("attribute %s: unexpected type %T", name, v)
	}
}
