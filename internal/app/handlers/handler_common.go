package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/clashwatch/engine/internal/adapter/store"
	"github.com/clashwatch/engine/internal/core/domain"
)

const contentTypeJSON = "application/json"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeDomainError maps a domain sentinel/wrapped error to an HTTP status;
// anything unrecognised is a 500.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrBackendNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrDuplicateBackendName):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidTimeRange), errors.Is(err, domain.ErrInvalidRetention):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// parseWindow reads optional start/end RFC3339 query params into a
// store.Window. Absent params leave the window unset (whole history).
func parseWindow(r *http.Request) (store.Window, error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")
	if startStr == "" && endStr == "" {
		return store.Window{}, nil
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return store.Window{}, domain.ErrInvalidTimeRange
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return store.Window{}, domain.ErrInvalidTimeRange
	}
	if end.Before(start) {
		return store.Window{}, domain.ErrInvalidTimeRange
	}
	return store.Window{Start: start, End: end, Set: true}, nil
}

func parsePagination(r *http.Request) store.Pagination {
	q := r.URL.Query()
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return store.Pagination{
		Offset:    offset,
		Limit:     limit,
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
		Search:    q.Get("search"),
	}
}

func optionalBackendID(r *http.Request) *string {
	id := r.URL.Query().Get("backendId")
	if id == "" {
		return nil
	}
	return &id
}

func queryLimit(r *http.Request, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
