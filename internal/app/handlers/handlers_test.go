package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clashwatch/engine/internal/adapter/cache"
	"github.com/clashwatch/engine/internal/adapter/geoip"
	"github.com/clashwatch/engine/internal/adapter/store"
	"github.com/clashwatch/engine/internal/config"
	"github.com/clashwatch/engine/internal/logger"
	"github.com/clashwatch/engine/internal/router"
	"github.com/clashwatch/engine/internal/theme"
)

func newTestApplication(t *testing.T) *Application {
	t.Helper()
	st, err := store.Open(":memory:", geoip.Noop{})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	l, cleanup, err := logger.New(&logger.Config{Level: "error"})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(cleanup)
	styled := logger.NewStyledLogger(l, theme.Default())

	return NewApplication(config.DefaultConfig(), st, cache.New(), nil, styled, router.NewRouteRegistry(styled))
}

func TestHandleHealth_ReportsOKWithNoSupervisor(t *testing.T) {
	a := newTestApplication(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	a.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status field = %q, want ok", resp.Status)
	}
}

func TestHandleBackendsCollection_CreateThenList(t *testing.T) {
	a := newTestApplication(t)

	body, _ := json.Marshal(createBackendRequest{Name: "router-1", URL: "http://127.0.0.1:9090", Token: "secret"})
	req := httptest.NewRequest(http.MethodPost, "/api/backends", bytes.NewReader(body))
	w := httptest.NewRecorder()
	a.handleBackendsCollection(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var created backendView
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created backend: %v", err)
	}
	if created.ID == "" {
		t.Fatal("created backend has empty ID")
	}
	if !created.HasToken {
		t.Error("HasToken = false, want true since a token was supplied")
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/backends", nil)
	listW := httptest.NewRecorder()
	a.handleBackendsCollection(listW, listReq)

	var views []backendView
	if err := json.Unmarshal(listW.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode backend list: %v", err)
	}
	if len(views) != 1 || views[0].ID != created.ID {
		t.Fatalf("list = %+v, want one backend matching %q", views, created.ID)
	}
}

func TestHandleBackendsCollection_RejectsMissingFields(t *testing.T) {
	a := newTestApplication(t)
	body, _ := json.Marshal(createBackendRequest{Name: "", URL: ""})
	req := httptest.NewRequest(http.MethodPost, "/api/backends", bytes.NewReader(body))
	w := httptest.NewRecorder()

	a.handleBackendsCollection(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleStatsSummary_ReturnsZeroedSummaryForUnknownBackend(t *testing.T) {
	a := newTestApplication(t)
	req := httptest.NewRequest(http.MethodGet, "/api/stats/summary?backendId=nonexistent", nil)
	w := httptest.NewRecorder()

	a.handleStatsSummary(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var sum store.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.UploadBytes != 0 || sum.DownloadBytes != 0 {
		t.Errorf("totals = %d/%d, want 0/0 for an unknown backend", sum.UploadBytes, sum.DownloadBytes)
	}
}
