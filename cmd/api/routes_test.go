package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"callmerge/internal/audit"
	"callmerge/internal/auth"
	"callmerge/internal/calls"
	"callmerge/internal/config"
	"callmerge/internal/events"
	"callmerge/internal/merge"
	"callmerge/internal/metrics"
	"callmerge/internal/reporting"

	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T) (*gin.Engine, *auth.Manager, *events.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret"})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	ev := events.NewMemoryStore()
	recs := calls.NewMemoryRepo()
	met := metrics.New()
	d := deps{
		auth:         m,
		metrics:      met,
		events:       ev,
		records:      recs,
		orchestrator: merge.NewOrchestrator(ev, recs, merge.Options{Observer: met}),
		reports:      reporting.NewService(reporting.NewMemoryRepo()),
		audit:        audit.NewService(audit.NewMemoryRepo()),
	}
	r := gin.New()
	registerRoutes(r, d)
	return r, m, ev
}

func serve(r http.Handler, method, path, token, body string) int {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRoutes_PublicEndpoints(t *testing.T) {
	r, _, ev := newTestRouter(t)

	// No database handle: health reports degraded.
	if code := serve(r, http.MethodGet, "/healthz", "", ""); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
	if code := serve(r, http.MethodGet, "/metrics", "", ""); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := serve(r, http.MethodPost, "/webhooks/calls", "", `{"callId":"c-1","status":"ringing"}`); code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}
	if len(ev.Events()) != 1 {
		t.Fatalf("expected webhook stored")
	}
}

func TestRoutes_AdminRequiresTokenAndRole(t *testing.T) {
	r, m, _ := newTestRouter(t)
	now := time.Now()
	viewer, _ := m.Issue(now, "v", "viewer")
	operator, _ := m.Issue(now, "o", "operator")

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		code   int
	}{
		{"no token", http.MethodGet, "/v1/calls", "", http.StatusUnauthorized},
		{"viewer reads", http.MethodGet, "/v1/calls", viewer, http.StatusOK},
		{"viewer summary", http.MethodGet, "/v1/reports/summary", viewer, http.StatusOK},
		{"viewer cannot run", http.MethodPost, "/v1/merge/run", viewer, http.StatusForbidden},
		{"operator runs", http.MethodPost, "/v1/merge/run", operator, http.StatusOK},
		{"operator unknown call", http.MethodPost, "/v1/merge/calls/nope", operator, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if code := serve(r, tc.method, tc.path, tc.token, ""); code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, code)
			}
		})
	}
}
