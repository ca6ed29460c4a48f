// Package dbschema holds the SQL text Sentinel issues against the
// external schema named in §6: the process_logs insert, the process
// status upsert, the aggregated metrics query, and the tenant-scoped
// SELECTs served by the HTTP surface. Named constants only, no execution
// logic — callers bind parameters and run these through a *dbpool.Session,
// following the teacher's pattern of keeping SQL text out of handler code.
package dbschema

// InsertLogBatch is the array-DML insert the bulk log flusher (C2) issues
// once per flush, positional-bound against parallel column slices.
const InsertLogBatch = `
INSERT INTO process_logs (
	process_id, tenant_id, log_level, event_type, component, message,
	details_json, stack_trace, correlation_id, span_id, trace_id,
	event_duration_us, logged_at
) VALUES (
	:1, :2, :3, :4, :5, :6, :7, :8, :9, :10, :11, :12, SYSTIMESTAMP
)`

// UpsertProcessStatus is issued by the worker pool's ProcessEvent handler
// (cmd/sentinel) for every dequeued event:
// insert the row if this is the first event seen for process_id, otherwise
// advance its status/last_event_at/updated_at.
const UpsertProcessStatus = `
MERGE INTO process_status dst
USING (SELECT :1 AS process_id, :2 AS tenant_id FROM dual) src
ON (dst.process_id = src.process_id)
WHEN MATCHED THEN UPDATE SET
	dst.status = :3,
	dst.last_event_at = :4,
	dst.updated_at = SYSTIMESTAMP
WHEN NOT MATCHED THEN INSERT (
	process_id, tenant_id, status, started_at, last_event_at, updated_at
) VALUES (
	:1, :2, :3, :4, :4, SYSTIMESTAMP
)`

// SelectProcessStatus backs GET /status/{pid}; tenantguard.Rewrite injects
// the tenant predicate before this runs.
const SelectProcessStatus = `
SELECT process_id, tenant_id, status, started_at, last_event_at, updated_at
FROM process_status
WHERE process_id = :process_id`

// SelectProcesses backs GET /processes; tenantguard.Rewrite injects the
// tenant predicate before this runs.
const SelectProcesses = `
SELECT process_id, tenant_id, status, started_at, last_event_at, updated_at
FROM process_status
ORDER BY last_event_at DESC`

// SelectLogsForProcess backs GET /logs/{pid}; tenantguard.Rewrite injects
// the tenant predicate before this runs.
const SelectLogsForProcess = `
SELECT process_id, tenant_id, log_level, event_type, component, message,
       details_json, stack_trace, correlation_id, span_id, trace_id,
       event_duration_us, logged_at
FROM process_logs
WHERE process_id = :process_id
ORDER BY logged_at DESC`

// SelectMetricAggregation backs cmd/sentinel's periodic housekeeping loop
// (counts of events processed per tenant per event_type over the last
// hour), exposed nowhere in the HTTP surface but logged so an operator can
// cross-check it against sentinel_queue_events_processed_total.
const SelectMetricAggregation = `
SELECT tenant_id, event_type, COUNT(*) AS event_count
FROM process_logs
WHERE logged_at >= SYSTIMESTAMP - INTERVAL '1' HOUR
GROUP BY tenant_id, event_type`

// TenantColumn is the column tenantguard.Rewrite injects a predicate
// against for every query above that is tenant-scoped.
const TenantColumn = "tenant_id"
