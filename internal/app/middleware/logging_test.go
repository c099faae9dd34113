package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clashwatch/engine/internal/logger"
	"github.com/clashwatch/engine/internal/theme"
)

func testLogger(t *testing.T) *logger.StyledLogger {
	t.Helper()
	l, cleanup, err := logger.New(&logger.Config{Level: "error"})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(cleanup)
	return logger.NewStyledLogger(l, theme.Default())
}

func TestLoggingMiddleware(t *testing.T) {
	sl := testLogger(t)

	handlerCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		if GetRequestID(r.Context()) == "" {
			t.Error("expected request ID to be set in context")
		}
		w.WriteHeader(http.StatusOK)
	})

	mw := LoggingMiddleware(sl)
	req := httptest.NewRequest(http.MethodGet, "/api/stats/summary", nil)
	rr := httptest.NewRecorder()

	mw(next).ServeHTTP(rr, req)

	if !handlerCalled {
		t.Fatal("expected wrapped handler to be called")
	}
	if rr.Header().Get(HeaderRequestID) == "" {
		t.Error("expected request ID header to be set on response")
	}
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	sl := testLogger(t)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	mw := RecoverMiddleware(sl)
	req := httptest.NewRequest(http.MethodGet, "/api/stats/summary", nil)
	rr := httptest.NewRecorder()

	mw(next).ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
}
