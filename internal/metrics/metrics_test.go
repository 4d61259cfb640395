package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/ws", "/ws"},
		{"/agents/tax-helper/stream", "/agents/{agent}/stream"},
		{"/stream/abc-123", "/stream/{id}"},
		{"/stream/abc-123/cancel", "/stream/{id}/cancel"},
		{"/favicon.ico", "other"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestMiddleware_RecordsStatus(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("GET", "/health", "418"))
	req := httptest.NewRequest("GET", "/health", http.NoBody)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	after := testutil.ToFloat64(RequestsTotal.WithLabelValues("GET", "/health", "418"))

	if after-before != 1 {
		t.Errorf("requests counter delta = %v, want 1", after-before)
	}
}

func TestRecordStream(t *testing.T) {
	RecordStreamStart("metrics-test", "sse")
	if got := testutil.ToFloat64(ActiveStreams.WithLabelValues("metrics-test")); got != 1 {
		t.Errorf("active = %v, want 1", got)
	}
	RecordStreamEnd("metrics-test", "completed", 0.2)
	if got := testutil.ToFloat64(ActiveStreams.WithLabelValues("metrics-test")); got != 0 {
		t.Errorf("active = %v, want 0", got)
	}
	if got := testutil.ToFloat64(StreamsFinished.WithLabelValues("metrics-test", "completed")); got != 1 {
		t.Errorf("finished = %v, want 1", got)
	}
}

func TestSetLinkState(t *testing.T) {
	all := []string{"open", "connecting"}
	SetLinkState("open", all)
	if testutil.ToFloat64(LinkState.WithLabelValues("open")) != 1 ||
		testutil.ToFloat64(LinkState.WithLabelValues("connecting")) != 0 {
		t.Error("only the current state should be 1")
	}
}

func TestHandler_Exposes(t *testing.T) {
	RecordMalformedFrame()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", http.NoBody))
	if !strings.Contains(rec.Body.String(), "agentrelay_malformed_frames_total") {
		t.Error("metrics output missing agentrelay_malformed_frames_total")
	}
}
