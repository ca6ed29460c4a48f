// Package logflush implements the bulk array-DML log flusher (C2): rows
// are buffered under a mutex and periodically bound as columnar arrays into
// one multi-row INSERT, following the teacher's lock/swap/unlock-then-I/O
// shape (internal/pool.TenantPool.Acquire creates outside the lock;
// internal/pool.TenantPool.Drain closes then waits) generalized from
// "session lifecycle" to "batch lifecycle".
package logflush

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zlovtnik/sentinel/internal/dbpool"
	"github.com/zlovtnik/sentinel/internal/dbschema"
	"github.com/zlovtnik/sentinel/internal/events"
)

// DefaultBatchSize is SENTINEL_LOG_BATCH_SIZE's default (§6).
const DefaultBatchSize = 1000

// Stats is a point-in-time snapshot of flusher activity.
type Stats struct {
	RowsFlushed  int64
	FlushErrors  int64
	FlushCount   int64
	BufferedRows int
}

// Flusher buffers LogRow values and periodically writes them as one
// array-DML statement.
type Flusher struct {
	mu        sync.Mutex
	buf       []events.LogRow
	batchSize int

	flushing sync.Mutex // serializes flush() — "one in-flight batch at a time"

	rowsFlushed int64
	flushErrors int64
	flushCount  int64
}

// New creates a Flusher with the given batch size (0 uses DefaultBatchSize).
func New(batchSize int) *Flusher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Flusher{
		buf:       make([]events.LogRow, 0, batchSize),
		batchSize: batchSize,
	}
}

// Append copies row into the buffer so the caller's memory may be freed
// immediately, per §3's ownership summary.
func (f *Flusher) Append(row events.LogRow) error {
	if err := row.Validate(); err != nil {
		return fmt.Errorf("logflush: append: %w", err)
	}
	f.mu.Lock()
	f.buf = append(f.buf, row.Clone())
	f.mu.Unlock()
	return nil
}

// Len returns the current buffer length.
func (f *Flusher) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buf)
}

// ShouldFlush reports whether the buffer has reached batch_size.
func (f *Flusher) ShouldFlush() bool {
	return f.Len() >= f.batchSize
}

// Flush atomically takes ownership of the current buffer, executes one
// multi-row insert via array binding, commits, and returns the row count.
// On failure the batch is dropped and FlushErrors is incremented — logs
// are observability, not ledger, so the service favors availability over
// log durability.
func (f *Flusher) Flush(ctx context.Context, s *dbpool.Session) (int, error) {
	f.flushing.Lock()
	defer f.flushing.Unlock()

	f.mu.Lock()
	batch := f.buf
	f.buf = make([]events.LogRow, 0, f.batchSize)
	f.mu.Unlock()

	if len(batch) == 0 {
		return 0, nil
	}

	n, err := f.execBatch(ctx, s, batch)
	f.mu.Lock()
	f.flushCount++
	if err != nil {
		f.flushErrors++
	} else {
		f.rowsFlushed += int64(n)
	}
	f.mu.Unlock()

	if err != nil {
		return 0, fmt.Errorf("logflush: flush: %w", err)
	}
	return n, nil
}

// execBatch builds one column-array per LogRow field and issues a single
// execute-many via godror's array-bind support: passing a slice as a bind
// argument executes the statement once per slice element in one round-trip.
func (f *Flusher) execBatch(ctx context.Context, s *dbpool.Session, batch []events.LogRow) (int, error) {
	n := len(batch)
	processID := make([]string, n)
	tenantID := make([]string, n)
	logLevel := make([]string, n)
	eventType := make([]string, n)
	component := make([]string, n)
	message := make([]string, n)
	detailsJSON := make([]string, n)
	stackTrace := make([]string, n)
	correlationID := make([]string, n)
	spanID := make([]string, n)
	traceID := make([]string, n)
	durationUs := make([]int64, n)

	for i, r := range batch {
		processID[i] = r.ProcessID
		tenantID[i] = r.TenantID
		logLevel[i] = string(r.LogLevel)
		eventType[i] = string(r.EventType)
		component[i] = r.Component
		message[i] = r.Message
		detailsJSON[i] = r.DetailsJSON
		stackTrace[i] = r.StackTrace
		correlationID[i] = r.CorrelationID
		spanID[i] = r.SpanID
		traceID[i] = r.TraceID
		durationUs[i] = r.EventDurationUs
	}

	res, err := s.ExecContext(ctx, dbschema.InsertLogBatch,
		processID, tenantID, logLevel, eventType, component, message,
		detailsJSON, stackTrace, correlationID, spanID, traceID, durationUs,
	)
	if err != nil {
		return 0, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return n, nil // driver didn't report a count; batch still committed
	}
	return int(affected), nil
}

// Stats returns current flusher counters.
func (f *Flusher) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		RowsFlushed:  f.rowsFlushed,
		FlushErrors:  f.flushErrors,
		FlushCount:   f.flushCount,
		BufferedRows: len(f.buf),
	}
}

// FlushLoop periodically flushes the buffer on a ticker, stopping when ctx
// is canceled. Intended to run as a background goroutine alongside the
// worker pool.
func (f *Flusher) FlushLoop(ctx context.Context, pool *dbpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if f.Len() == 0 {
				continue
			}
			s, err := pool.Acquire(ctx)
			if err != nil {
				continue
			}
			f.Flush(ctx, s)
			pool.Release(s)
		}
	}
}
