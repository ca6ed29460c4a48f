package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/zlovtnik/sentinel/internal/aqlistener"
	"github.com/zlovtnik/sentinel/internal/arena"
	"github.com/zlovtnik/sentinel/internal/authn"
	"github.com/zlovtnik/sentinel/internal/config"
	"github.com/zlovtnik/sentinel/internal/dbpool"
	"github.com/zlovtnik/sentinel/internal/dbschema"
	"github.com/zlovtnik/sentinel/internal/events"
	"github.com/zlovtnik/sentinel/internal/httpserver"
	"github.com/zlovtnik/sentinel/internal/logflush"
	"github.com/zlovtnik/sentinel/internal/metrics"
	"github.com/zlovtnik/sentinel/internal/taskqueue"
	"github.com/zlovtnik/sentinel/internal/traceparent"
	"github.com/zlovtnik/sentinel/internal/walletauth"
	"github.com/zlovtnik/sentinel/internal/workerpool"
)

// taskQueueCapacity bounds the MPMC ring between the AQ listener and the
// worker pool; sized generously above the worker count so a burst of
// dequeued events never blocks the listener's single goroutine.
const taskQueueCapacity = 4096

// exit codes, per §6.
const (
	exitOK             = 0
	exitConfigFailure  = 1
	exitWalletFailure  = 2
	exitStartupFailure = 3
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("Sentinel starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		os.Exit(exitConfigFailure)
	}
	log.Printf("Configuration loaded (queue=%s, workers=%d, http_port=%d)",
		cfg.Queue.Name, cfg.Worker.Threads, cfg.HTTP.Port)

	walletDir, err := resolveWallet(cfg.Oracle)
	if err != nil {
		log.Printf("Wallet setup failed: %v", err)
		os.Exit(exitWalletFailure)
	}
	log.Printf("Wallet ready at %s", walletDir)

	m := metrics.New()

	pool, err := dbpool.New(dbpool.DialParams{
		TNSName:          cfg.Oracle.TNSName,
		WalletDir:        walletDir,
		SSLServerDNMatch: cfg.Oracle.SSLServerDNMatch,
	}, dbpool.Config{
		MinSessions:        cfg.Pool.MinSessions,
		MaxSessions:        cfg.Pool.MaxSessions,
		SessionIncrement:   1,
		PingInterval:       cfg.Pool.PingInterval,
		WaitTimeout:        cfg.Pool.WaitTimeout,
		MaxLifetimeSession: cfg.Pool.MaxLifetime,
		GetMode:            dbpool.GetModeTimedWait,
		Homogeneous:        true,
	})
	if err != nil {
		log.Printf("Failed to create connection pool: %v", err)
		os.Exit(exitStartupFailure)
	}

	var tuningWatcher *config.Watcher
	if tuningPath := os.Getenv("SENTINEL_TUNING_FILE"); tuningPath != "" {
		tuningWatcher, err = config.NewWatcher(tuningPath, cfg.Pool, func(pc config.PoolConfig) {
			pool.SetTuning(dbpool.Config{
				MinSessions:        pc.MinSessions,
				MaxSessions:        pc.MaxSessions,
				SessionIncrement:   1,
				PingInterval:       pc.PingInterval,
				WaitTimeout:        pc.WaitTimeout,
				MaxLifetimeSession: pc.MaxLifetime,
				GetMode:            dbpool.GetModeTimedWait,
				Homogeneous:        true,
			})
		})
		if err != nil {
			log.Printf("Warning: pool tuning hot-reload unavailable: %v", err)
			tuningWatcher = nil
		}
	}

	flusher := logflush.New(cfg.Queue.LogBatchSize)
	queue := taskqueue.New(taskQueueCapacity)

	handlers := map[events.TaskKind]workerpool.Handler{
		events.TaskProcessEvent: processEventHandler(flusher, m),
	}
	wp := workerpool.New(cfg.Worker.Threads, pool, queue, handlers, m)

	validator := authn.New(authn.Config{
		Issuer:          cfg.OAuth2.IssuerURI,
		Audience:        cfg.OAuth2.Audience,
		JWKSURI:         cfg.OAuth2.JWKSetURI,
		DevBypassToken:  cfg.OAuth2.DevBypassToken,
		DevBypassTenant: cfg.OAuth2.DevBypassTenant,
	}, nil)
	if cfg.OAuth2.JWKSetURI != "" {
		if err := validator.Refresh(context.Background()); err != nil {
			log.Printf("Warning: initial JWKS fetch failed, will retry lazily: %v", err)
		}
	}

	listener := aqlistener.New(aqlistener.Config{
		QueueName:    cfg.Queue.Name,
		PayloadType:  "SENTINEL_EVENT_T",
		WaitSeconds:  5,
		BatchSize:    cfg.Queue.BatchSize,
		ErrorBackoff: aqlistener.DefaultErrorBackoff,
	}, pool, listenerHandler(queue, m))

	httpSrv := httpserver.New(pool, validator, m, func() (bool, string) {
		st := pool.Stats()
		if st.Open == 0 && st.Waiting > 0 {
			return false, "no database sessions available"
		}
		return true, ""
	})

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	if err := wp.Start(rootCtx); err != nil {
		log.Printf("Failed to start worker pool: %v", err)
		os.Exit(exitStartupFailure)
	}
	go listener.Run(rootCtx)
	go flusher.FlushLoop(rootCtx, pool, time.Second)
	go reportStatsLoop(rootCtx, m, pool, queue, wp)
	go housekeepingLoop(rootCtx, pool, m)

	if err := httpSrv.Start(cfg.HTTP.Port); err != nil {
		log.Printf("Failed to start HTTP server: %v", err)
		os.Exit(exitStartupFailure)
	}

	log.Printf("Sentinel ready - HTTP:%d queue:%s workers:%d", cfg.HTTP.Port, cfg.Queue.Name, cfg.Worker.Threads)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received signal %s, shutting down...", sig)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	// Shutdown order per §5: listener, then HTTP, then worker pool.
	listener.Stop()
	if err := httpSrv.Stop(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	cancelRoot()
	wp.Stop()
	if tuningWatcher != nil {
		if err := tuningWatcher.Stop(); err != nil {
			log.Printf("tuning file watcher shutdown error: %v", err)
		}
	}
	pool.Close()

	log.Printf("Sentinel stopped")
	os.Exit(exitOK)
}

// resolveWallet satisfies the "exactly one of ORACLE_WALLET_LOCATION or
// ORACLE_WALLET_BASE64" contract: extract the archive if base64 was
// supplied, otherwise validate the pre-existing directory.
func resolveWallet(oc config.OracleConfig) (string, error) {
	if oc.WalletBase64 != "" {
		return walletauth.ExtractBase64(os.TempDir(), strconv.Itoa(os.Getpid()), oc.WalletBase64)
	}
	if err := walletauth.ValidateDir(oc.WalletLocation); err != nil {
		return "", err
	}
	return oc.WalletLocation, nil
}

// listenerHandler turns a dequeued Event into a Task handed off to the
// worker pool. It never blocks on the queue being full: a full queue
// means the event is not committed and will redeliver, per the AQ
// listener's propagation contract.
func listenerHandler(queue *taskqueue.Queue, m *metrics.Collector) aqlistener.Handler {
	return func(ctx context.Context, ev events.Event) error {
		m.QueueEventReceived(string(ev.EventType))

		done := make(chan error, 1)
		err := queue.Push(events.Task{
			Kind:    events.TaskProcessEvent,
			Payload: ev,
			Callback: func(err error) {
				done <- err
			},
		})
		if err != nil {
			m.QueueEventFailed(string(ev.EventType))
			return err
		}

		select {
		case err := <-done:
			if err != nil {
				m.QueueEventFailed(string(ev.EventType))
				return err
			}
			m.QueueEventProcessed(string(ev.EventType))
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// processEventHandler upserts the process status row and appends a log row
// for every dequeued event, using the worker's pinned session.
func processEventHandler(flusher *logflush.Flusher, m *metrics.Collector) workerpool.Handler {
	return func(ctx context.Context, s *dbpool.Session, a *arena.Arena, t events.Task) error {
		ev, ok := t.Payload.(events.Event)
		if !ok {
			return nil
		}

		start := time.Now()
		_, err := s.ExecContext(ctx, dbschema.UpsertProcessStatus,
			ev.ProcessID, ev.TenantID, string(ev.EventType), ev.TimestampUTC)
		m.DBQuery("upsert_process_status", time.Since(start))
		if err != nil {
			return err
		}

		row := events.LogRow{
			ProcessID: ev.ProcessID,
			TenantID:  ev.TenantID,
			LogLevel:  events.LevelInfo,
			EventType: ev.EventType,
			Component: "aqlistener",
			Message:   "event processed",
		}
		// A dequeued event carries no HTTP traceparent header of its own, so
		// mint a fresh one here to give this event's log rows a trace_id/
		// span_id an operator can correlate across process_logs.
		if tp, err := traceparent.New(); err == nil {
			row.TraceID = tp.TraceIDHex()
			row.SpanID = tp.SpanIDHex()
		}

		return flusher.Append(row)
	}
}

// housekeepingLoop periodically runs dbschema.SelectMetricAggregation and
// logs its per-tenant, per-event_type counts so an operator can eyeball
// them against sentinel_queue_events_processed_total on the metrics
// dashboard — a best-effort cross-check, not a programmatic assertion,
// since Prometheus counter values aren't meant to be read back out of
// process.
func housekeepingLoop(ctx context.Context, pool *dbpool.Pool, m *metrics.Collector) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runMetricAggregation(ctx, pool, m)
		}
	}
}

func runMetricAggregation(ctx context.Context, pool *dbpool.Pool, m *metrics.Collector) {
	sess, err := pool.Acquire(ctx)
	if err != nil {
		log.Printf("[housekeeping] acquiring session: %v", err)
		return
	}
	defer pool.Release(sess)

	start := time.Now()
	rows, err := sess.QueryContext(ctx, dbschema.SelectMetricAggregation)
	m.DBQuery("select_metric_aggregation", time.Since(start))
	if err != nil {
		log.Printf("[housekeeping] running metric aggregation: %v", err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		var tenantID, eventType string
		var count int64
		if err := rows.Scan(&tenantID, &eventType, &count); err != nil {
			log.Printf("[housekeeping] scanning metric aggregation row: %v", err)
			return
		}
		log.Printf("[housekeeping] tenant=%s event_type=%s processed_last_hour=%d", tenantID, eventType, count)
	}
}

func reportStatsLoop(ctx context.Context, m *metrics.Collector, pool *dbpool.Pool, queue *taskqueue.Queue, wp *workerpool.Pool) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ps := pool.Stats()
			m.SetPoolStats(ps.Open, ps.Busy)
			m.SetQueueDepth(queue.Size())
			m.SetWorkerTasksInProgress(int(wp.Stats().InProgress))
		}
	}
}
