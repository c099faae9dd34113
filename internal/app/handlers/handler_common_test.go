package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/clashwatch/engine/internal/core/domain"
)

func TestWriteDomainError_MapsSentinelsToStatusCodes(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrBackendNotFound, http.StatusNotFound},
		{domain.ErrDuplicateBackendName, http.StatusConflict},
		{domain.ErrInvalidTimeRange, http.StatusBadRequest},
		{domain.ErrInvalidRetention, http.StatusBadRequest},
		{errUnmapped, http.StatusInternalServerError},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		writeDomainError(w, c.err)
		if w.Code != c.want {
			t.Errorf("writeDomainError(%v) = %d, want %d", c.err, w.Code, c.want)
		}
	}
}

func TestParseWindow_RequiresBothBoundsAndOrdering(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?", nil)
	w, err := parseWindow(req)
	if err != nil || w.Set {
		t.Errorf("no params: window=%+v err=%v, want unset window and no error", w, err)
	}

	req = httptest.NewRequest(http.MethodGet, "/?start=2026-01-01T00:00:00Z", nil)
	if _, err := parseWindow(req); err != domain.ErrInvalidTimeRange {
		t.Errorf("start without end: err = %v, want ErrInvalidTimeRange", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/?start=not-a-time&end=2026-01-01T00:00:00Z", nil)
	if _, err := parseWindow(req); err != domain.ErrInvalidTimeRange {
		t.Errorf("bad start: err = %v, want ErrInvalidTimeRange", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/?start=2026-01-02T00:00:00Z&end=2026-01-01T00:00:00Z", nil)
	if _, err := parseWindow(req); err != domain.ErrInvalidTimeRange {
		t.Errorf("end before start: err = %v, want ErrInvalidTimeRange", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/?start=2026-01-01T00:00:00Z&end=2026-01-02T00:00:00Z", nil)
	w, err = parseWindow(req)
	if err != nil || !w.Set {
		t.Errorf("valid range: window=%+v err=%v, want set window and no error", w, err)
	}
}

func TestParsePagination_ReadsQueryParams(t *testing.T) {
	q := url.Values{"offset": {"20"}, "limit": {"50"}, "sortBy": {"download"}, "sortOrder": {"asc"}, "search": {"foo"}}
	req := httptest.NewRequest(http.MethodGet, "/?"+q.Encode(), nil)
	p := parsePagination(req)
	if p.Offset != 20 || p.Limit != 50 || p.SortBy != "download" || p.SortOrder != "asc" || p.Search != "foo" {
		t.Errorf("pagination = %+v, want {20 50 download asc foo}", p)
	}
}

var errUnmapped = domain.NewBackendError("test", "b1", http.ErrBodyNotAllowed)
