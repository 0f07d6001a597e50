package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/diprog/systemd-panel/internal/api"
	"github.com/diprog/systemd-panel/internal/auth"
	"github.com/diprog/systemd-panel/internal/statusbus"
	"github.com/diprog/systemd-panel/internal/systemd"
)

const testSecret = "server-test-token"

func testDigest() []byte {
	digest := sha256.Sum256([]byte(testSecret))
	return digest[:]
}

func newTestHandler(t *testing.T) *api.Handler {
	t.Helper()
	dir := t.TempDir()
	unitBody := "[Unit]\nDescription=Demo daemon\n\n[Service]\nExecStart=/bin/true\n"
	if err := os.WriteFile(filepath.Join(dir, "demo.service"), []byte(unitBody), 0o644); err != nil {
		t.Fatalf("write unit file: %v", err)
	}
	manager, err := auth.NewManager(hex.EncodeToString(testDigest()), time.Hour)
	if err != nil {
		t.Fatalf("new auth manager: %v", err)
	}
	units := systemd.NewManager(systemd.Config{
		Dir: dir,
		Runner: func(ctx context.Context, name string, args ...string) (int, string, string, error) {
			return 0, "ActiveState=active\nSubState=running\nLoadState=loaded\nUnitFileState=enabled\n", "", nil
		},
	})
	registry := statusbus.NewRegistry(func(scope string) *statusbus.Bus {
		return statusbus.New(statusbus.Config{Provider: units, Interval: time.Hour})
	})
	t.Cleanup(registry.Shutdown)
	return api.NewHandler(manager, units, registry)
}

func sessionFor(t *testing.T, handler *api.Handler) string {
	t.Helper()
	nonce, err := handler.Auth.IssueChallenge()
	if err != nil {
		t.Fatalf("issue challenge: %v", err)
	}
	mac := hmac.New(sha256.New, testDigest())
	mac.Write([]byte(nonce))
	session, err := handler.Auth.Redeem(nonce, hex.EncodeToString(mac.Sum(nil)))
	if err != nil {
		t.Fatalf("redeem challenge: %v", err)
	}
	return session
}

func TestNewReturnsErrorWhenHandlerNil(t *testing.T) {
	t.Parallel()

	srv, err := New(nil, Config{})
	if err == nil {
		t.Fatalf("expected error when handler is nil, got server: %#v", srv)
	}
}

func TestAuthMiddlewareAcceptsCookie(t *testing.T) {
	handler := newTestHandler(t)
	session := sessionFor(t, handler)

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	})

	req := httptest.NewRequest(http.MethodGet, "/api/services", nil)
	req.AddCookie(&http.Cookie{Name: api.SessionCookieName, Value: session})
	rec := httptest.NewRecorder()

	authMiddleware(handler, next).ServeHTTP(rec, req)

	if !nextCalled {
		t.Fatal("expected middleware to call next handler")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsMissingSession(t *testing.T) {
	handler := newTestHandler(t)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected call to next handler")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/services", nil)
	rec := httptest.NewRecorder()

	authMiddleware(handler, next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["error"] == "" {
		t.Fatal("expected error message in response")
	}
}

func TestAuthMiddlewareSkipsPublicRoutes(t *testing.T) {
	handler := newTestHandler(t)
	for _, path := range []string{"/api/auth/challenge", "/api/auth/login", "/api/auth/logout", "/healthz", "/", "/static/app.js"} {
		nextCalled := false
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nextCalled = true
		})
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		authMiddleware(handler, next).ServeHTTP(rec, req)
		if !nextCalled {
			t.Fatalf("middleware blocked public route %s", path)
		}
	}
}

func TestRateLimitMiddlewareThrottlesLogin(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{LoginLimit: 2, LoginWindow: time.Minute})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	middleware := rateLimitMiddleware(rl, nil, next)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "192.0.2.10:4321"
		rec := httptest.NewRecorder()
		middleware.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d returned %d", i, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = "192.0.2.10:4321"
	rec := httptest.NewRecorder()
	middleware.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third attempt returned %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("throttled response missing Retry-After")
	}

	// Another address is unaffected.
	req = httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = "192.0.2.99:4321"
	rec = httptest.NewRecorder()
	middleware.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("fresh address returned %d", rec.Code)
	}
}

func TestSecurityHeadersApplied(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	rec := httptest.NewRecorder()
	securityHeadersMiddleware(SecurityConfig{}, next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("X-Frame-Options %q", got)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options %q", got)
	}
	csp := rec.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "default-src 'self'") || !strings.Contains(csp, "frame-ancestors 'none'") {
		t.Fatalf("unexpected CSP %q", csp)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	rec := httptest.NewRecorder()
	requestIDMiddlewareWithGenerator(nil, func() string { return "generated-id" }, next).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Get("X-Request-Id"); got != "generated-id" {
		t.Fatalf("generated id %q", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "caller-id")
	rec = httptest.NewRecorder()
	requestIDMiddleware(nil, next).ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "caller-id" {
		t.Fatalf("echoed id %q", got)
	}
}

func TestAuditMiddlewareUsesRequestScopedLogger(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	chain := requestIDMiddleware(logger, auditMiddleware(logger, next))

	req := httptest.NewRequest(http.MethodPost, "/api/service/demo.service/restart", nil)
	req.Header.Set("X-Request-Id", "audit-req-1")
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)

	out := buf.String()
	if !strings.Contains(out, `"msg":"audit"`) {
		t.Fatalf("expected audit entry, got %q", out)
	}
	if !strings.Contains(out, `"request_id":"audit-req-1"`) {
		t.Fatalf("expected audit entry to carry the request id, got %q", out)
	}

	// Reads are not audited.
	buf.Reset()
	chain.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/services", nil))
	if strings.Contains(buf.String(), `"msg":"audit"`) {
		t.Fatalf("unexpected audit entry for GET: %q", buf.String())
	}
}

func TestServerServesDashboardAndGuardsAPI(t *testing.T) {
	handler := newTestHandler(t)
	srv, err := New(handler, Config{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz returned %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "<title>Systemd Panel</title>") {
		t.Fatalf("index returned %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/services")
	if err != nil {
		t.Fatalf("services: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated services returned %d, want 401", resp.StatusCode)
	}

	session := sessionFor(t, handler)
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/services", nil)
	req.AddCookie(&http.Cookie{Name: api.SessionCookieName, Value: session})
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authenticated services: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated services returned %d", resp.StatusCode)
	}
	var payload struct {
		Services []systemd.UnitStatus `json:"services"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode services: %v", err)
	}
	if len(payload.Services) != 1 || payload.Services[0].Unit != "demo.service" {
		t.Fatalf("unexpected services: %+v", payload.Services)
	}
}

func TestServerRunGracefulShutdown(t *testing.T) {
	handler := newTestHandler(t)
	srv, err := New(handler, Config{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	ready := make(chan struct{})
	go func() {
		done <- srv.Run(ctx, ready)
	}()

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("server did not start")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestTokenBucketRefills(t *testing.T) {
	bucket := newTokenBucket(100, 1)
	if !bucket.Allow() {
		t.Fatal("first request should pass")
	}
	if bucket.Allow() {
		t.Fatal("burst exhausted, second request should fail")
	}
	time.Sleep(30 * time.Millisecond)
	if !bucket.Allow() {
		t.Fatal("bucket should refill at 100 rps")
	}
}
