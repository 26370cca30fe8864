package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSessionTransitionMovesGauge(t *testing.T) {
	c := New()
	c.SessionTransition("disconnected", "connecting")
	c.SessionTransition("connecting", "connected")

	if got := testutil.ToFloat64(c.sessionState.WithLabelValues("connected")); got != 1 {
		t.Fatalf("expected connected gauge 1, got %v", got)
	}
	if got := testutil.ToFloat64(c.sessionState.WithLabelValues("disconnected")); got != 0 {
		t.Fatalf("expected disconnected gauge 0, got %v", got)
	}
	if got := testutil.ToFloat64(c.transitions.WithLabelValues("connecting", "connected")); got != 1 {
		t.Fatalf("unexpected transition count %v", got)
	}
}

func TestObserveCallAndHTTP(t *testing.T) {
	c := New()
	c.ObserveCall("write", "register", "", 2*time.Second)
	c.ObserveCall("write", "register", "USER_REJECTED", time.Second)
	c.ObserveHTTPRequest("/api/v1/session", http.MethodGet, 200, 10*time.Millisecond)
	c.ObserveHTTPRequest("/api/v1/session", http.MethodGet, 503, 10*time.Millisecond)

	if got := testutil.ToFloat64(c.calls.WithLabelValues("write", "register", "OK")); got != 1 {
		t.Fatalf("unexpected success count %v", got)
	}
	if got := testutil.ToFloat64(c.calls.WithLabelValues("write", "register", "USER_REJECTED")); got != 1 {
		t.Fatalf("unexpected rejection count %v", got)
	}
	if got := testutil.ToFloat64(c.httpErrors.WithLabelValues("/api/v1/session", http.MethodGet)); got != 1 {
		t.Fatalf("unexpected error count %v", got)
	}

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"dappbridge_contract_calls_total", "dappbridge_http_requests_total", "dappbridge_session_state"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}
