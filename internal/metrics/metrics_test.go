package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// newTestCollector creates a Collector registered with a fresh registry
// so tests don't conflict with each other or with the default registry.
func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	c := New()
	return c, c.Registry
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	g.Write(m)
	return m.GetGauge().GetValue()
}

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	c.Write(m)
	return m.GetCounter().GetValue()
}

func sampleCount(reg *prometheus.Registry, name string) uint64 {
	families, _ := reg.Gather()
	for _, f := range families {
		if f.GetName() == name {
			m := f.GetMetric()
			if len(m) == 0 {
				return 0
			}
			return m[0].GetHistogram().GetSampleCount()
		}
	}
	return 0
}

func TestRequestCompletedSuccessAndError(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RequestStarted("/v1/status", "GET")
	c.RequestCompleted("/v1/status", "GET", 200, 10*time.Millisecond)

	if v := getCounterValue(c.requestsSuccess.WithLabelValues("/v1/status", "GET")); v != 1 {
		t.Errorf("expected 1 success, got %v", v)
	}

	c.RequestStarted("/v1/status", "GET")
	c.RequestCompleted("/v1/status", "GET", 500, 5*time.Millisecond)

	if v := getCounterValue(c.requestsError.WithLabelValues("/v1/status", "GET", "5xx")); v != 1 {
		t.Errorf("expected 1 5xx error, got %v", v)
	}
	if v := getGaugeValue(c.httpRequestsInFlight); v != 0 {
		t.Errorf("expected in-flight gauge back to 0, got %v", v)
	}
}

func TestHTTPRequestDurationHistogram(t *testing.T) {
	c, reg := newTestCollector(t)

	c.RequestStarted("/v1/processes", "GET")
	c.RequestCompleted("/v1/processes", "GET", 200, 100*time.Millisecond)
	c.RequestStarted("/v1/processes", "GET")
	c.RequestCompleted("/v1/processes", "GET", 200, 200*time.Millisecond)

	if n := sampleCount(reg, "sentinel_http_request_duration_seconds"); n != 2 {
		t.Errorf("expected 2 duration samples, got %d", n)
	}
}

func TestQueueEventCounters(t *testing.T) {
	c, _ := newTestCollector(t)

	c.QueueEventReceived("STARTED")
	c.QueueEventReceived("STARTED")
	c.QueueEventProcessed("STARTED")
	c.QueueEventFailed("ERROR")

	if v := getCounterValue(c.queueEventsReceived.WithLabelValues("STARTED")); v != 2 {
		t.Errorf("expected 2 received, got %v", v)
	}
	if v := getCounterValue(c.queueEventsProcessed.WithLabelValues("STARTED")); v != 1 {
		t.Errorf("expected 1 processed, got %v", v)
	}
	if v := getCounterValue(c.queueEventsFailed.WithLabelValues("ERROR")); v != 1 {
		t.Errorf("expected 1 failed, got %v", v)
	}
}

func TestDBQueryRecordsCountAndDuration(t *testing.T) {
	c, reg := newTestCollector(t)

	c.DBQuery("insert_log_batch", 2*time.Millisecond)
	c.DBQuery("insert_log_batch", 3*time.Millisecond)

	if v := getCounterValue(c.dbQueriesTotal.WithLabelValues("insert_log_batch")); v != 2 {
		t.Errorf("expected 2 queries, got %v", v)
	}
	if n := sampleCount(reg, "sentinel_db_query_duration_seconds"); n != 2 {
		t.Errorf("expected 2 duration samples, got %d", n)
	}
}

func TestWorkerTaskCompletedSuccessAndFailure(t *testing.T) {
	c, _ := newTestCollector(t)

	c.WorkerTaskCompleted("LogBatch", nil, time.Millisecond)
	c.WorkerTaskCompleted("LogBatch", errors.New("boom"), time.Millisecond)

	if v := getCounterValue(c.workerTasksTotal.WithLabelValues("LogBatch", "success")); v != 1 {
		t.Errorf("expected 1 success, got %v", v)
	}
	if v := getCounterValue(c.workerTasksTotal.WithLabelValues("LogBatch", "failure")); v != 1 {
		t.Errorf("expected 1 failure, got %v", v)
	}
}

func TestSetPoolStatsReplacesNotAccumulates(t *testing.T) {
	c, _ := newTestCollector(t)

	c.SetPoolStats(8, 3)
	if v := getGaugeValue(c.poolOpenConnections); v != 8 {
		t.Errorf("expected open=8, got %v", v)
	}

	c.SetPoolStats(4, 1)
	if v := getGaugeValue(c.poolOpenConnections); v != 4 {
		t.Errorf("expected open=4 after update, got %v", v)
	}
	if v := getGaugeValue(c.poolBusyConnections); v != 1 {
		t.Errorf("expected busy=1 after update, got %v", v)
	}
}

func TestSetQueueDepthAndWorkerTasksInProgress(t *testing.T) {
	c, _ := newTestCollector(t)

	c.SetQueueDepth(42)
	if v := getGaugeValue(c.queueDepth); v != 42 {
		t.Errorf("expected queue depth=42, got %v", v)
	}

	c.SetWorkerTasksInProgress(7)
	if v := getGaugeValue(c.workerTasksInProgress); v != 7 {
		t.Errorf("expected in-progress=7, got %v", v)
	}
}

func TestNewDoesNotPanicOnMultipleCalls(t *testing.T) {
	// Calling New() multiple times should not panic because each creates
	// its own registry instead of using the global default.
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("New() panicked on repeated calls: %v", r)
		}
	}()

	c1 := New()
	c2 := New()

	c1.SetPoolStats(1, 0)
	c2.SetPoolStats(2, 0)

	if v := getGaugeValue(c1.poolOpenConnections); v != 1 {
		t.Errorf("c1 expected open=1, got %v", v)
	}
	if v := getGaugeValue(c2.poolOpenConnections); v != 2 {
		t.Errorf("c2 expected open=2, got %v", v)
	}
}
