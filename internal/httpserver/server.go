// Package httpserver implements the HTTP control plane (C6): unauthenticated
// health/ready/metrics endpoints and bearer-gated status/processes/logs
// endpoints, each handler running against a private per-request arena.
// Routing follows the teacher's internal/api.Server shape (gorilla/mux,
// writeJSON/writeError helpers, one http.Server with Start/Stop), adapted
// from tenant-pool administration to read-only process/log lookups backed
// by internal/dbpool and filtered through internal/tenantguard.
package httpserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zlovtnik/sentinel/internal/arena"
	"github.com/zlovtnik/sentinel/internal/authn"
	"github.com/zlovtnik/sentinel/internal/dbpool"
	"github.com/zlovtnik/sentinel/internal/dbschema"
	"github.com/zlovtnik/sentinel/internal/metrics"
	"github.com/zlovtnik/sentinel/internal/tenantguard"
	"github.com/zlovtnik/sentinel/internal/traceparent"
)

// arenaContextKey is the unexported context key the arena middleware stores
// the request's Arena under.
type arenaContextKey struct{}

// ArenaFromContext returns the Arena the middleware attached to r's context.
func ArenaFromContext(ctx context.Context) *arena.Arena {
	a, _ := ctx.Value(arenaContextKey{}).(*arena.Arena)
	return a
}

// traceContextKey is the unexported context key the traceparent middleware
// stores the request's resolved TraceParent under.
type traceContextKey struct{}

// TraceParentFromContext returns the TraceParent the middleware resolved for
// r, extracted from an incoming traceparent header or freshly generated.
func TraceParentFromContext(ctx context.Context) (traceparent.TraceParent, bool) {
	tp, ok := ctx.Value(traceContextKey{}).(traceparent.TraceParent)
	return tp, ok
}

// ReadyFunc reports whether the service is ready to serve authenticated
// traffic (e.g. the database pool has at least one open session).
type ReadyFunc func() (ready bool, reason string)

// Server is Sentinel's HTTP control plane.
type Server struct {
	pool      *dbpool.Pool
	validator *authn.Validator
	metrics   *metrics.Collector
	ready     ReadyFunc

	httpServer *http.Server
	startTime  time.Time
}

// New builds a Server. ready may be nil, in which case /ready always
// reports READY.
func New(pool *dbpool.Pool, validator *authn.Validator, m *metrics.Collector, ready ReadyFunc) *Server {
	if ready == nil {
		ready = func() (bool, string) { return true, "" }
	}
	return &Server{pool: pool, validator: validator, metrics: m, ready: ready, startTime: time.Now()}
}

// Start builds the route table and begins serving on port in the
// background, mirroring the teacher's fire-and-forget ListenAndServe
// goroutine in internal/api.Server.Start.
func (s *Server) Start(port int) error {
	r := s.routes()

	addr := fmt.Sprintf("0.0.0.0:%d", port)
	s.httpServer = &http.Server{
		Addr:           addr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	log.Printf("[httpserver] listening on %s", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[httpserver] server error: %v", err)
		}
	}()

	return nil
}

// routes builds the full mux.Router, split out from Start so tests can
// exercise it directly via httptest without binding a real port.
func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.arenaMiddleware)
	r.Use(s.traceparentMiddleware)
	r.Use(s.metricsMiddleware)

	r.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.readyHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.readyHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	protected := r.NewRoute().Subrouter()
	protected.Use(s.validator.Middleware)
	protected.HandleFunc("/status/{pid}", s.statusHandler).Methods(http.MethodGet)
	protected.HandleFunc("/processes", s.processesHandler).Methods(http.MethodGet)
	protected.HandleFunc("/logs/{pid}", s.logsHandler).Methods(http.MethodGet)

	return r
}

// Stop gracefully shuts the server down within the §5 soft budget.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// arenaMiddleware attaches a fresh Arena to the request context and
// returns it to the pool when the handler returns, per the "private arena
// per handler" requirement.
func (s *Server) arenaMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := arena.Get()
		defer arena.Put(a)
		ctx := context.WithValue(r.Context(), arenaContextKey{}, a)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// traceparentMiddleware extracts the incoming traceparent header (per §8's
// round-trip law), falling back to a freshly generated one when absent or
// malformed, and echoes the resolved value back on the response so a
// caller that sent none still gets one to correlate against.
func (s *Server) traceparentMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tp, err := traceparent.Parse(r.Header.Get("traceparent"))
		if err != nil {
			tp, err = traceparent.New()
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
		}
		w.Header().Set("traceparent", tp.String())
		ctx := context.WithValue(r.Context(), traceContextKey{}, tp)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// metricsMiddleware records request counts, in-flight gauge, and duration
// for every route, labeled by the matched mux route template (not the raw
// path, to keep cardinality bounded).
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeTemplate(r)
		s.metrics.RequestStarted(route, r.Method)
		start := time.Now()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.metrics.RequestCompleted(route, r.Method, rec.status, time.Since(start))
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ready, reason := s.ready()
	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "DOWN", "reason": reason})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "READY"})
}

// processStatus mirrors one row of process_status, per §3/§6.
type processStatus struct {
	ProcessID   string    `json:"process_id"`
	TenantID    string    `json:"tenant_id"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	LastEventAt time.Time `json:"last_event_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// logEntry mirrors one row of process_logs, per §3/§6.
type logEntry struct {
	ProcessID       string    `json:"process_id"`
	TenantID        string    `json:"tenant_id"`
	LogLevel        string    `json:"log_level"`
	EventType       string    `json:"event_type"`
	Component       string    `json:"component"`
	Message         string    `json:"message"`
	DetailsJSON     string    `json:"details_json,omitempty"`
	StackTrace      string    `json:"stack_trace,omitempty"`
	CorrelationID   string    `json:"correlation_id,omitempty"`
	SpanID          string    `json:"span_id,omitempty"`
	TraceID         string    `json:"trace_id,omitempty"`
	EventDurationUs int64     `json:"event_duration_us"`
	LoggedAt        time.Time `json:"logged_at"`
}

// targetTenant resolves the tenant_id a request is actually querying: the
// caller's own tenant by default, or an explicit ?tenant_id= override for
// system/admin contexts per §4.7. It must be checked via authn.CheckAccess
// before any handler binds it to a query.
func targetTenant(r *http.Request, tc authn.TenantContext) string {
	if override := r.URL.Query().Get("tenant_id"); override != "" {
		return override
	}
	return tc.TenantID
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	pid := mux.Vars(r)["pid"]
	tc, _ := authn.TenantContextFrom(r.Context())
	tenantID := targetTenant(r, tc)
	if err := authn.CheckAccess(tc, tenantID); err != nil {
		writeError(w, http.StatusForbidden, "cross-tenant access denied")
		return
	}

	query, err := tenantguard.Rewrite(dbschema.SelectProcessStatus, dbschema.TenantColumn)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "building query")
		return
	}

	sess, err := s.pool.Acquire(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	defer s.pool.Release(sess)

	start := time.Now()
	row := sess.Conn().QueryRowContext(r.Context(), query, sql.Named("tenant_id", tenantID), sql.Named("process_id", pid))

	var ps processStatus
	err = row.Scan(&ps.ProcessID, &ps.TenantID, &ps.Status, &ps.StartedAt, &ps.LastEventAt, &ps.UpdatedAt)
	s.metrics.DBQuery("select_process_status", time.Since(start))
	if err != nil {
		if err == sql.ErrNoRows {
			writeError(w, http.StatusNotFound, "process not found")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}

	writeJSON(w, http.StatusOK, ps)
}

func (s *Server) processesHandler(w http.ResponseWriter, r *http.Request) {
	tc, _ := authn.TenantContextFrom(r.Context())
	tenantID := targetTenant(r, tc)
	if err := authn.CheckAccess(tc, tenantID); err != nil {
		writeError(w, http.StatusForbidden, "cross-tenant access denied")
		return
	}

	query, err := tenantguard.Rewrite(dbschema.SelectProcesses, dbschema.TenantColumn)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "building query")
		return
	}

	sess, err := s.pool.Acquire(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	defer s.pool.Release(sess)

	start := time.Now()
	rows, err := sess.QueryContext(r.Context(), query, sql.Named("tenant_id", tenantID))
	s.metrics.DBQuery("select_processes", time.Since(start))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	defer rows.Close()

	a := ArenaFromContext(r.Context())
	processes := make([]processStatus, 0, 16)
	for rows.Next() {
		var ps processStatus
		if err := rows.Scan(&ps.ProcessID, &ps.TenantID, &ps.Status, &ps.StartedAt, &ps.LastEventAt, &ps.UpdatedAt); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		processes = append(processes, ps)
	}
	if a != nil {
		a.Hold(processes)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"processes": processes})
}

func (s *Server) logsHandler(w http.ResponseWriter, r *http.Request) {
	pid := mux.Vars(r)["pid"]
	tc, _ := authn.TenantContextFrom(r.Context())
	tenantID := targetTenant(r, tc)
	if err := authn.CheckAccess(tc, tenantID); err != nil {
		writeError(w, http.StatusForbidden, "cross-tenant access denied")
		return
	}

	query, err := tenantguard.Rewrite(dbschema.SelectLogsForProcess, dbschema.TenantColumn)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "building query")
		return
	}

	sess, err := s.pool.Acquire(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	defer s.pool.Release(sess)

	start := time.Now()
	rows, err := sess.QueryContext(r.Context(), query, sql.Named("tenant_id", tenantID), sql.Named("process_id", pid))
	s.metrics.DBQuery("select_logs_for_process", time.Since(start))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	defer rows.Close()

	a := ArenaFromContext(r.Context())
	logs := make([]logEntry, 0, 32)
	for rows.Next() {
		var le logEntry
		if err := rows.Scan(
			&le.ProcessID, &le.TenantID, &le.LogLevel, &le.EventType, &le.Component, &le.Message,
			&le.DetailsJSON, &le.StackTrace, &le.CorrelationID, &le.SpanID, &le.TraceID,
			&le.EventDurationUs, &le.LoggedAt,
		); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		logs = append(logs, le)
	}
	if a != nil {
		a.Hold(logs)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": logs})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
