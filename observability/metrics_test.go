package observability

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"licensestake/core/events"
)

func TestAPIMetricsObserveRequest(t *testing.T) {
	m := API()
	conflicts := m.requests.WithLabelValues(http.MethodPost, "/v1/stake/claim", "4xx")
	before := testutil.ToFloat64(conflicts)
	m.ObserveRequest(http.MethodPost, "/v1/stake/claim", http.StatusConflict, 5*time.Millisecond)
	m.ObserveRequest(http.MethodPost, "/v1/stake/claim", http.StatusOK, time.Millisecond)
	if got := testutil.ToFloat64(conflicts); got != before+1 {
		t.Fatalf("expected one more 4xx, got %v (before %v)", got, before)
	}

	m.RecordRejection("auth", "")
	if got := testutil.ToFloat64(m.rejections.WithLabelValues("auth", "unspecified")); got < 1 {
		t.Fatalf("rejection not recorded")
	}

	done := m.Track()
	if got := testutil.ToFloat64(m.inflight); got < 1 {
		t.Fatalf("expected a request in flight, got %v", got)
	}
	done()

	var nilMetrics *apiMetrics
	nilMetrics.ObserveRequest(http.MethodGet, "/", http.StatusOK, time.Millisecond)
	nilMetrics.Track()()
}

func TestStatusClass(t *testing.T) {
	for status, want := range map[int]string{200: "2xx", 101: "1xx", 503: "5xx", 0: "unknown", 700: "unknown"} {
		if got := statusClass(status); got != want {
			t.Fatalf("status %d: got %s want %s", status, got, want)
		}
	}
}

func TestEventCounter(t *testing.T) {
	counter := Events().emitted.WithLabelValues(events.EventEpochClosed)
	before := testutil.ToFloat64(counter)
	EventCounter{}.Emit(events.EpochClosed{})
	EventCounter{}.Emit(nil)
	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Fatalf("expected %v, got %v", before+1, got)
	}
}
