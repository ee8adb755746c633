package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler_nilMetrics(t *testing.T) {
	var m *Metrics
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	m.Handler().ServeHTTP(rr, req)
	m.ObserveRPC("global.login", nil)
	m.IncLogin("ok")
	m.ObserveScanRun("full", true, time.Second)
	m.AddScanFiles(1, 1)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if got := rr.Body.String(); !strings.Contains(got, "metrics unavailable") {
		t.Fatalf("expected body to mention metrics unavailable, got %q", got)
	}
}

func TestHandler_exposesRegisteredMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest(http.MethodGet, "/readyz", http.StatusOK, 12*time.Millisecond)
	m.ObserveRPC("global.keepAlive", nil)
	m.ObserveRPC("global.keepAlive", errors.New("boom"))
	m.IncLogin("blocked")
	m.ObserveScanRun("cursor", false, 3*time.Second)
	m.AddScanFiles(7, 2)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	body := rr.Body.String()
	for _, want := range []string{
		"ipcmanview_http_requests_total{method=\"GET\",path=\"/readyz\",status=\"200\"} 1",
		"ipcmanview_rpc_requests_total{method=\"global.keepAlive\",outcome=\"error\"} 1",
		"ipcmanview_rpc_requests_total{method=\"global.keepAlive\",outcome=\"ok\"} 1",
		"ipcmanview_logins_total{outcome=\"blocked\"} 1",
		"ipcmanview_scan_runs_total{kind=\"cursor\",result=\"failure\"} 1",
		"ipcmanview_scan_run_duration_seconds_count{kind=\"cursor\"} 1",
		"ipcmanview_scan_files_upserted_total 7",
		"ipcmanview_scan_files_deleted_total 2",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in body=%s", want, body)
		}
	}
}
