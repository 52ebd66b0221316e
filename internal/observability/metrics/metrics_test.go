package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRecorderJobLifecycleCounters(t *testing.T) {
	t.Parallel()

	rec := New()
	rec.JobStarted()
	if rec.ActiveJobs() != 1 {
		t.Fatalf("expected one active job, got %d", rec.ActiveJobs())
	}

	rec.JobRetried()
	rec.JobDuplicate()
	rec.JobCompleted("ready")
	if rec.ActiveJobs() != 0 {
		t.Fatalf("expected no active jobs after completion, got %d", rec.ActiveJobs())
	}

	counts := rec.JobCounts()
	for _, event := range []string{"started", "retried", "duplicate", "ready"} {
		if counts[event] != 1 {
			t.Fatalf("expected one %q event, got %d", event, counts[event])
		}
	}
}

func TestRecorderActiveJobsNeverNegative(t *testing.T) {
	t.Parallel()

	rec := New()
	rec.JobCompleted("failed")
	if rec.ActiveJobs() != 0 {
		t.Fatalf("expected gauge clamped at zero, got %d", rec.ActiveJobs())
	}
}

func TestRecorderHandlerExposition(t *testing.T) {
	t.Parallel()

	rec := New()
	rec.ObserveRequest(http.MethodGet, "/api/assets", http.StatusOK, 250*time.Millisecond)
	rec.ObserveRendition("480p", "ready")
	rec.ObserveSweep(2, 1)

	rr := httptest.NewRecorder()
	rec.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if got := rr.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("unexpected content type %q", got)
	}

	body := rr.Body.String()
	for _, want := range []string{
		`videoflix_http_requests_total{method="GET",path="/api/assets",status="200"} 1`,
		`videoflix_renditions_total{rendition="480p",status="ready"} 1`,
		"videoflix_sweep_removals_total 2",
		"videoflix_sweep_errors_total 1",
		"videoflix_active_jobs 0",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition missing %q:\n%s", want, body)
		}
	}
}

func TestHTTPMiddlewareRecordsStatus(t *testing.T) {
	t.Parallel()

	rec := New()
	handler := HTTPMiddleware(rec, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/assets/missing/480p/manifest", nil))

	var body strings.Builder
	rec.Write(&body)
	if !strings.Contains(body.String(), `status="404"`) {
		t.Fatalf("expected 404 status label in exposition:\n%s", body.String())
	}
}
