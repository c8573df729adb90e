package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"callmerge/internal/merge"
)

var _ merge.Observer = (*Metrics)(nil)

func TestObservePass_CountsGroups(t *testing.T) {
	m := New()
	m.ObservePass(merge.OutcomePartial, merge.Summary{GroupsProcessed: 4, Created: 2, Updated: 1, Failed: 1, Malformed: 3}, 2*time.Second)

	if got := testutil.ToFloat64(m.Passes.WithLabelValues("partial")); got != 1 {
		t.Fatalf("expected 1 partial pass, got %v", got)
	}
	if got := testutil.ToFloat64(m.Groups.WithLabelValues("created")); got != 2 {
		t.Fatalf("expected 2 created, got %v", got)
	}
	if got := testutil.ToFloat64(m.Groups.WithLabelValues("failed")); got != 1 {
		t.Fatalf("expected 1 failed, got %v", got)
	}
	if got := testutil.ToFloat64(m.Malformed); got != 3 {
		t.Fatalf("expected 3 malformed, got %v", got)
	}
	if testutil.ToFloat64(m.LastSuccess) == 0 {
		t.Fatalf("expected last success timestamp set")
	}
}

func TestObservePass_SkippedOnlyCountsPass(t *testing.T) {
	m := New()
	m.ObservePass(merge.OutcomeSkipped, merge.Summary{}, 0)

	if got := testutil.ToFloat64(m.Passes.WithLabelValues("skipped")); got != 1 {
		t.Fatalf("expected 1 skipped pass, got %v", got)
	}
	if got := testutil.CollectAndCount(m.PassDuration); got != 1 {
		t.Fatalf("expected histogram registered once, got %d", got)
	}
	if testutil.ToFloat64(m.LastSuccess) != 0 {
		t.Fatalf("expected no success timestamp for skipped pass")
	}
}

func TestHandler_ServesMetrics(t *testing.T) {
	m := New()
	m.ObservePass(merge.OutcomeOK, merge.Summary{Created: 1}, time.Second)
	m.ObserveWebhook("accepted")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"callmerge_passes_total", "callmerge_pass_duration_seconds_bucket", `callmerge_webhook_events_total{result="accepted"} 1`, "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}
