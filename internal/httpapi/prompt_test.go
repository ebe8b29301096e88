package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/sessioncoordinator/coordinator/internal/domain"
)

func TestEnqueuePromptAndListMessages(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)
	id := createSessionViaHandler(t, h)

	body := `{"author_id":"p1","content":"build it"}`
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/prompt", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)

	if err := h.EnqueuePrompt(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	req2 := httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/messages", nil)
	rec2 := httptest.NewRecorder()
	c2 := e.NewContext(req2, rec2)
	c2.SetParamNames("id")
	c2.SetParamValues(id)
	if err := h.ListMessages(c2); err != nil {
		t.Fatalf("list messages handler error: %v", err)
	}
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec2.Code)
	}

	var resp struct {
		Items   []domain.Message `json:"items"`
		HasMore bool             `json:"hasMore"`
	}
	if err := json.Unmarshal(rec2.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Content != "build it" {
		t.Fatalf("unexpected messages: %+v", resp)
	}
}

func TestEnqueuePromptRejectsMissingContent(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)
	id := createSessionViaHandler(t, h)

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/prompt", bytes.NewBufferString(`{"author_id":"p1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)

	if err := h.EnqueuePrompt(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStopWithNothingProcessingIsOK(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)
	id := createSessionViaHandler(t, h)

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/stop", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)

	if err := h.Stop(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestListArtifactsEmptyEnvelope(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)
	id := createSessionViaHandler(t, h)

	req := httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/artifacts", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)

	if err := h.ListArtifacts(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Items []domain.Artifact `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Items != nil && len(resp.Items) != 0 {
		t.Fatalf("expected no artifacts, got %+v", resp.Items)
	}
}
