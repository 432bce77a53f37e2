package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aeternacy/aeterngw/pkg/accounts"
	"github.com/aeternacy/aeterngw/pkg/gate"
	"github.com/aeternacy/aeterngw/pkg/gateway/config"
	"github.com/aeternacy/aeterngw/pkg/store/memory"
	"github.com/aeternacy/aeterngw/pkg/tokens"
)

func newTestServer(cfg config.Config) *Server {
	svc := accounts.NewService(memory.New(), tokens.TierFamily, nil)
	g := gate.New(svc, gate.NewUsageCounter(), nil, nil)
	return New(cfg, Deps{Accounts: svc, Gate: g}, nil)
}

func TestHandler_HealthOutsideAuth(t *testing.T) {
	s := newTestServer(config.Config{
		AuthMode: config.AuthModeRequired,
		APIKeys:  map[string]string{"sk_test": "acct_a"},
	})
	h := s.Handler()

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s without auth: status = %d", path, rec.Code)
		}
	}
}

func TestHandler_TokensRequiresAuth(t *testing.T) {
	s := newTestServer(config.Config{
		AuthMode: config.AuthModeRequired,
		APIKeys:  map[string]string{"sk_test": "acct_a"},
	})
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tokens", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/tokens", nil)
	req.Header.Set("Authorization", "Bearer sk_test")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authed status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_RequestIDOnEveryResponse(t *testing.T) {
	s := newTestServer(config.Config{AuthMode: config.AuthModeDisabled})
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID")
	}
}

func TestHandler_ReadyzDrains(t *testing.T) {
	s := newTestServer(config.Config{AuthMode: config.AuthModeDisabled})
	h := s.Handler()

	s.Lifecycle().SetDraining(true)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandler_NoWebhookRouteWithoutSecret(t *testing.T) {
	s := newTestServer(config.Config{AuthMode: config.AuthModeDisabled})
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/billing/webhook", nil))
	// Falls through to the authed mux, which has no such route.
	if rec.Code == http.StatusOK {
		t.Fatalf("webhook route exists without a configured webhook")
	}
}
