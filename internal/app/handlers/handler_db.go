package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/clashwatch/engine/internal/adapter/store"
	"github.com/clashwatch/engine/internal/core/domain"
)

func (a *Application) handleDBStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.Store.GetDBStats()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type cleanupRequest struct {
	Days      int     `json:"days"`
	BackendID *string `json:"backendId"`
}

func (a *Application) handleDBCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Days < 0 {
		writeDomainError(w, domain.ErrInvalidRetention)
		return
	}
	removed, err := a.Store.CleanupOldData(req.BackendID, req.Days)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (a *Application) handleDBVacuum(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.Vacuum(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"vacuumed": true})
}

func (a *Application) handleDBRetention(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rs, err := a.Store.GetRetentionConfig()
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rs)
	case http.MethodPost, http.MethodPut:
		var rs store.RetentionSettings
		if err := json.NewDecoder(r.Body).Decode(&rs); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := a.Store.SetRetentionConfig(rs); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rs)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
