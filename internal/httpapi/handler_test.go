package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sessioncoordinator/coordinator/internal/cryptoutil"
	"github.com/sessioncoordinator/coordinator/internal/hub"
	"github.com/sessioncoordinator/coordinator/internal/lifecycle"
	"github.com/sessioncoordinator/coordinator/internal/policy"
	"github.com/sessioncoordinator/coordinator/internal/registry"
	"github.com/sessioncoordinator/coordinator/internal/sandboxclient"
	"github.com/sessioncoordinator/coordinator/internal/vcshost"
)

const testServiceSecret = "test-service-secret"

// newTestHandler builds a Handler against a throwaway data directory and a
// sandbox provider stub that always refuses creation, since these tests
// exercise routing, auth, and envelope shape rather than sandbox spawning.
func newTestHandler(t *testing.T) (*Handler, *cryptoutil.HMACSigner) {
	t.Helper()

	providerServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(providerServer.Close)

	gate, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("new policy engine: %v", err)
	}
	cipher, err := cryptoutil.NewTokenCipher([]byte("01234567890123456789012345678901"[:32]))
	if err != nil {
		t.Fatalf("new token cipher: %v", err)
	}

	reg, err := registry.New(t.TempDir(), registry.CommonDeps{
		Provider: sandboxclient.NewClient(providerServer.URL, cryptoutil.NewHMACSigner("secret")),
		VCS:      vcshost.NewClient("https://api.github.com", nil, ""),
		Cipher:   cipher,
		Gate:     gate,
		Lifecycle: lifecycle.Config{
			InactivityTimeout:      time.Minute,
			HeartbeatThreshold:     time.Minute,
			CircuitBreakerWindow:   time.Minute,
			CircuitBreakerCooldown: time.Minute,
			CircuitBreakerLimit:    3,
		},
		WS: hub.Config{
			AuthTimeout:    time.Second,
			PingInterval:   time.Second,
			WriteTimeout:   time.Second,
			ReadTimeout:    time.Second,
			MaxMessageSize: 65536,
		},
		PushTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	signer := cryptoutil.NewHMACSigner(testServiceSecret)
	return NewHandler(reg, signer), signer
}

func bearer(signer *cryptoutil.HMACSigner) string {
	return "Bearer " + signer.Mint(time.Now())
}

func TestHealth(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Health(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestServiceAuthRejectsMissingBearer(t *testing.T) {
	_, signer := newTestHandler(t)
	mw := serviceAuth(signer)
	called := false
	next := mw(func(c echo.Context) error { called = true; return nil })

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := next(c); err != nil {
		t.Fatalf("middleware error: %v", err)
	}
	if called {
		t.Fatal("expected the handler to be skipped with no bearer token")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestServiceAuthRejectsInvalidToken(t *testing.T) {
	_, signer := newTestHandler(t)
	mw := serviceAuth(signer)
	next := mw(func(c echo.Context) error { return nil })

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := next(c); err != nil {
		t.Fatalf("middleware error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestServiceAuthAcceptsValidToken(t *testing.T) {
	_, signer := newTestHandler(t)
	mw := serviceAuth(signer)
	called := false
	next := mw(func(c echo.Context) error { called = true; return c.JSON(http.StatusOK, map[string]bool{"ok": true}) })

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Authorization", bearer(signer))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := next(c); err != nil {
		t.Fatalf("middleware error: %v", err)
	}
	if !called {
		t.Fatal("expected the handler to run with a valid bearer token")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestServiceAuthFailsClosedWithoutConfiguredSecret(t *testing.T) {
	mw := serviceAuth(cryptoutil.NewHMACSigner(""))
	next := mw(func(c echo.Context) error { return nil })

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := next(c); err != nil {
		t.Fatalf("middleware error: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when no secret is configured, got %d", rec.Code)
	}
}
