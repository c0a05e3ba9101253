package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"conti/internal/core"
	"conti/internal/currency"
	"conti/internal/log"
	"conti/internal/services"
	"conti/internal/storage"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type testServer struct {
	srv  *Server
	repo *storage.SQLiteRepository
}

func newTestServer(t *testing.T, mutate func(*Dependencies)) *testServer {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "conti.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	// One USD is worth 0.80 EUR. GBP has no rate.
	rates := currency.NewStaticProvider(currency.NewTable("EUR", map[core.Currency]decimal.Decimal{
		"USD": decimal.RequireFromString("0.8"),
	}, time.Time{}))

	deps := Dependencies{
		Accounts:          services.NewAccountService(repo),
		Ledger:            services.NewLedgerService(repo, rates, nil),
		Budgets:           services.NewBudgetService(repo, rates),
		Schedules:         services.NewRecurringService(repo, time.UTC),
		Readiness:         map[string]Pinger{"database": repo},
		Logger:            log.New(log.Config{Output: io.Discard}),
		RequestsPerMinute: 10000,
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv := NewServer(":0", deps)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testServer{srv: srv, repo: repo}
}

// do sends a request as user (0 means anonymous) and decodes a JSON
// response into out when out is non-nil.
func (ts *testServer) do(t *testing.T, method, path string, user int64, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			r = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("marshal body: %v", err)
			}
			r = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, r)
	if user != 0 {
		req.Header.Set(HeaderUserID, strconv.FormatInt(user, 10))
	}
	rr := httptest.NewRecorder()
	ts.srv.Handler.ServeHTTP(rr, req)

	if out != nil && rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rr.Body.String(), err)
		}
	}
	return rr
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := ts.do(t, http.MethodGet, path, 0, nil, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", path, rr.Code, rr.Body.String())
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s content type = %q", path, ct)
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Errorf("%s missing X-Request-ID", path)
		}
	}
}

func TestReadyReportsFailingDependency(t *testing.T) {
	ts := newTestServer(t, func(d *Dependencies) {
		d.Readiness["broker"] = fakePinger{err: errors.New("connection refused")}
	})

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	rr := ts.do(t, http.MethodGet, "/readyz", 0, nil, &body)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rr.Code)
	}
	if body.Status != "not_ready" || body.Checks["database"] != "ok" || !strings.Contains(body.Checks["broker"], "connection refused") {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodGet, "/healthz", 0, nil, nil)

	rr := ts.do(t, http.MethodGet, "/metrics", 0, nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	for _, want := range []string{"http_requests_total 2", "rate_limit_hits_total 0", "uptime_seconds"} {
		if !strings.Contains(rr.Body.String(), want) {
			t.Errorf("metrics missing %q:\n%s", want, rr.Body.String())
		}
	}
}

func TestRequiresUserID(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"not a number", "abc"},
		{"zero", "0"},
		{"negative", "-4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
			if tt.header != "" {
				req.Header.Set(HeaderUserID, tt.header)
			}
			rr := httptest.NewRecorder()
			ts.srv.Handler.ServeHTTP(rr, req)
			if rr.Code != http.StatusUnauthorized {
				t.Errorf("status=%d, want 401", rr.Code)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(d *Dependencies) { d.RequestsPerMinute = 2 })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, ts.do(t, http.MethodGet, "/healthz", 0, nil, nil).Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v, want [200 200 429]", codes)
	}
}

func TestRunJob(t *testing.T) {
	calls := 0
	ts := newTestServer(t, func(d *Dependencies) {
		d.Jobs = map[string]JobFunc{
			"execute": func(ctx context.Context, now time.Time) (any, error) {
				calls++
				return services.RunReport{Processed: 2, Skipped: 1}, nil
			},
			"remind": func(ctx context.Context, now time.Time) (any, error) {
				return nil, errors.New("mail provider down")
			},
		}
	})

	var ok struct {
		Job    string              `json:"job"`
		Report services.RunReport `json:"report"`
	}
	rr := ts.do(t, http.MethodPost, "/api/ops/run/execute", 0, nil, &ok)
	if rr.Code != http.StatusOK || calls != 1 {
		t.Fatalf("status=%d calls=%d", rr.Code, calls)
	}
	if ok.Job != "execute" || ok.Report.Processed != 2 || ok.Report.Skipped != 1 {
		t.Errorf("unexpected body: %+v", ok)
	}

	var failed errorJSON
	rr = ts.do(t, http.MethodPost, "/api/ops/run/remind", 0, nil, &failed)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("failing job status=%d, want 500", rr.Code)
	}
	if strings.Contains(failed.Error, "mail provider") {
		t.Errorf("internal error details leaked: %q", failed.Error)
	}

	rr = ts.do(t, http.MethodPost, "/api/ops/run/backup", 0, nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown job status=%d, want 404", rr.Code)
	}

	rr = ts.do(t, http.MethodGet, "/api/ops/run/execute", 0, nil, nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status=%d, want 405", rr.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", core.ErrInvalidAmount, http.StatusUnprocessableEntity},
		{"wrapped validation", errors.Join(errors.New("ctx"), core.Validationf("bad")), http.StatusUnprocessableEntity},
		{"not found", core.ErrScheduleNotFound, http.StatusNotFound},
		{"rate", core.RateUnavailable("GBP"), http.StatusFailedDependency},
		{"conflict", core.ErrAlreadyExecuted, http.StatusConflict},
		{"persistence", core.Persistence("insert", errors.New("disk full")), http.StatusInternalServerError},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
		{"identity", errMissingUser, http.StatusUnauthorized},
		{"malformed", errBadRequest, http.StatusBadRequest},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestSecurityHeadersAndClientIP(t *testing.T) {
	ts := newTestServer(t, func(d *Dependencies) { d.RequestsPerMinute = 1 })

	// Behind a trusted proxy each forwarded client gets its own budget.
	for _, ip := range []string{"198.51.100.1", "198.51.100.2"} {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.2:5000"
		req.Header.Set("X-Forwarded-For", ip)
		rr := httptest.NewRecorder()
		ts.srv.Handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("client %s status=%d", ip, rr.Code)
		}
		if rr.Header().Get("X-Content-Type-Options") != "nosniff" || rr.Header().Get("Cache-Control") != "no-store" {
			t.Errorf("missing security headers: %v", rr.Header())
		}
	}

	// An untrusted peer cannot dodge the limit by rotating the header.
	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "203.0.113.7:5000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", 10+i))
		rr := httptest.NewRecorder()
		ts.srv.Handler.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Errorf("request %d status=%d, want %d", i, rr.Code, want)
		}
	}
}

func TestSuspiciousRequestsAreCounted(t *testing.T) {
	ts := newTestServer(t, nil)
	if rr := ts.do(t, http.MethodGet, "/.env", 0, nil, nil); rr.Code != http.StatusNotFound {
		t.Errorf("probe status=%d, want 404", rr.Code)
	}
	rr := ts.do(t, http.MethodGet, "/metrics", 0, nil, nil)
	if !strings.Contains(rr.Body.String(), "security_suspicious_requests_total 1") {
		t.Errorf("probe not counted:\n%s", rr.Body.String())
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", defaultLimit},
		{"?limit=10", 10},
		{"?limit=0", defaultLimit},
		{"?limit=abc", defaultLimit},
		{"?limit=100000", maxLimit},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/transactions"+tt.query, nil)
		if got := parseLimit(r); got != tt.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}

func TestSanitizeInput(t *testing.T) {
	if got := sanitizeInput("  Rent\x00\x07 March\t "); got != "Rent March" {
		t.Errorf("sanitizeInput() = %q", got)
	}
}
