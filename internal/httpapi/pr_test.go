package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequestPRRejectsMissingBearer(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)
	id := createSessionViaHandler(t, h)

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/pr", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)

	if err := h.RequestPR(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequestPRAcceptsServiceTokenButFailsDownstream(t *testing.T) {
	e := echo.New()
	h, signer := newTestHandler(t)
	id := createSessionViaHandler(t, h)

	// No message is processing yet, so the service token authenticates
	// successfully but the coordinator rejects the request before any
	// network call, proving the auth layer let a valid service token
	// through rather than rejecting on credentials.
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/pr", nil)
	req.Header.Set("Authorization", bearer(signer))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)

	if err := h.RequestPR(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code == http.StatusUnauthorized {
		t.Fatalf("expected the service token to authenticate, got 401: %s", rec.Body.String())
	}
}

func TestRequestPRRejectsInvalidSandboxToken(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)
	id := createSessionViaHandler(t, h)

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/pr", nil)
	req.Header.Set("Authorization", "Bearer not-a-sandbox-token")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)

	if err := h.RequestPR(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
