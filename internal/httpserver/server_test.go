package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zlovtnik/sentinel/internal/authn"
	"github.com/zlovtnik/sentinel/internal/metrics"
)

func newTestServer() *Server {
	v := authn.New(authn.Config{Issuer: "sentinel", Audience: "sentinel-api"}, func(ctx context.Context, uri string) ([]byte, error) {
		return []byte(`{"keys":[]}`), nil
	})
	m := metrics.New()
	return New(nil, v, m, nil)
}

func TestHealthHandlerAlwaysUp(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "UP" {
		t.Fatalf("expected status UP, got %q", body["status"])
	}
}

func TestReadyHandlerReportsDownWithReason(t *testing.T) {
	v := authn.New(authn.Config{}, nil)
	m := metrics.New()
	s := New(nil, v, m, func() (bool, string) { return false, "pool not initialized" })

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["reason"] != "pool not initialized" {
		t.Fatalf("expected reason surfaced in body, got %q", body["reason"])
	}
}

func TestMetricsEndpointIsUnauthenticated(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected non-empty metrics exposition body")
	}
}

func TestProtectedRoutesRejectMissingToken(t *testing.T) {
	s := newTestServer()
	routes := []string{"/status/proc-1", "/processes", "/logs/proc-1"}

	for _, path := range routes {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.routes().ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401 without a token, got %d", path, rec.Code)
		}
	}
}

func TestProtectedRoutesRejectCrossTenantOverride(t *testing.T) {
	v := authn.New(authn.Config{
		DevBypassToken:  "dev-secret",
		DevBypassTenant: "tenant-a",
	}, nil)
	m := metrics.New()
	s := New(nil, v, m, nil)

	routes := []string{"/status/proc-1?tenant_id=tenant-b", "/processes?tenant_id=tenant-b", "/logs/proc-1?tenant_id=tenant-b"}
	for _, path := range routes {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer dev-secret")
		rec := httptest.NewRecorder()
		s.routes().ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Errorf("%s: expected 403 for a cross-tenant override, got %d", path, rec.Code)
		}
	}
}

func TestArenaMiddlewareAttachesArenaToContext(t *testing.T) {
	s := newTestServer()

	var gotArena bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotArena = ArenaFromContext(r.Context()) != nil
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	s.arenaMiddleware(inner).ServeHTTP(rec, req)

	if !gotArena {
		t.Fatal("expected an Arena to be attached to the request context")
	}
}

func TestMetricsMiddlewareRecordsRequestDuration(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	// A second private registry call would double-register; instead verify
	// indirectly that /metrics now reflects the observed /health sample.
	metricsReq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsRec := httptest.NewRecorder()
	s.routes().ServeHTTP(metricsRec, metricsReq)
	if !strings.Contains(metricsRec.Body.String(), `sentinel_http_request_duration_seconds_count{method="GET",route="/health"}`) {
		t.Fatal("expected a request duration sample for /health in the metrics exposition")
	}
}
