// Package events defines the data model shared between the AQ listener,
// the worker pool, and the bulk log flusher.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type is the closed set of process-lifecycle event kinds a producer may
// enqueue.
type Type string

const (
	TypeStarted   Type = "STARTED"
	TypeHeartbeat Type = "HEARTBEAT"
	TypeProgress  Type = "PROGRESS"
	TypeCompleted Type = "COMPLETED"
	TypeError     Type = "ERROR"
)

// Valid reports whether t is one of the closed enumeration values.
func (t Type) Valid() bool {
	switch t {
	case TypeStarted, TypeHeartbeat, TypeProgress, TypeCompleted, TypeError:
		return true
	default:
		return false
	}
}

// Priority returns the AQ enqueue priority for this event type: ERROR is
// highest priority (1), everything else is 5, per §6.
func (t Type) Priority() int {
	if t == TypeError {
		return 1
	}
	return 5
}

// Event is a process-lifecycle event dequeued from SENTINEL_QUEUE.
type Event struct {
	EventID      string          `json:"event_id"`
	EventType    Type            `json:"event_type"`
	ProcessID    string          `json:"process_id"`
	TenantID     string          `json:"tenant_id"`
	TimestampUTC time.Time       `json:"timestamp_utc"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the fixed-schema invariants from §3: event_id, process_id
// and tenant_id must be non-empty and event_type must be in the closed
// enumeration. String lengths are not checked. payload is optional.
func (e Event) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event: event_id is required")
	}
	if !e.EventType.Valid() {
		return fmt.Errorf("event %s: invalid event_type %q", e.EventID, e.EventType)
	}
	if e.ProcessID == "" {
		return fmt.Errorf("event %s: process_id is required", e.EventID)
	}
	if e.TenantID == "" {
		return fmt.Errorf("event %s: tenant_id is required", e.EventID)
	}
	return nil
}

// LogLevel is the closed log-level enumeration for LogRow.
type LogLevel string

const (
	LevelTrace LogLevel = "TRACE"
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
	LevelFatal LogLevel = "FATAL"
)

func (l LogLevel) Valid() bool {
	switch l {
	case LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
		return true
	default:
		return false
	}
}

// MaxMessageLen is the declared width of LogRow.Message (§3).
const MaxMessageLen = 4000

// LogRow is a single row destined for process_logs, produced by workers and
// consumed by the bulk log flusher.
type LogRow struct {
	ProcessID      string
	TenantID       string
	LogLevel       LogLevel
	EventType      Type
	Component      string
	Message        string
	DetailsJSON    string
	StackTrace     string
	CorrelationID  string
	SpanID         string
	TraceID        string
	EventDurationUs int64
}

// Validate enforces the LogRow field-width and enum invariants from §3.
func (r LogRow) Validate() error {
	if r.ProcessID == "" {
		return fmt.Errorf("log row: process_id is required")
	}
	if r.TenantID == "" {
		return fmt.Errorf("log row: tenant_id is required")
	}
	if !r.LogLevel.Valid() {
		return fmt.Errorf("log row: invalid log_level %q", r.LogLevel)
	}
	if len(r.Message) > MaxMessageLen {
		return fmt.Errorf("log row: message exceeds %d chars", MaxMessageLen)
	}
	return nil
}

// Clone returns a deep copy of r. The bulk flusher calls this on Append so
// the caller's memory may be freed immediately afterward (§3 ownership
// summary: "Buffers written into the bulk flusher are copied on append").
func (r LogRow) Clone() LogRow {
	return r // all fields are value types (strings/int64); a struct copy is a deep copy
}

// TaskKind is the closed variant of internal hand-off tasks between the AQ
// listener (or other producers) and the worker pool.
type TaskKind string

const (
	TaskLogBatch       TaskKind = "LogBatch"
	TaskStatusUpdate   TaskKind = "StatusUpdate"
	TaskHeartbeatCheck TaskKind = "HeartbeatCheck"
	TaskProcessEvent   TaskKind = "ProcessEvent"
	TaskCleanupExpired TaskKind = "CleanupExpired"
	TaskCustom         TaskKind = "Custom"
)

// Task is the internal hand-off record between C5 (or any producer) and C4.
// Payload is opaque to the queue; only the worker executing the task
// interprets it based on Kind.
type Task struct {
	Kind     TaskKind
	Payload  interface{}
	Callback func(err error)
}

// Complete invokes the task's completion callback, if present, swallowing
// nothing — callers decide what to do with err.
func (t Task) Complete(err error) {
	if t.Callback != nil {
		t.Callback(err)
	}
}
