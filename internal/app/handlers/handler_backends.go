package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/clashwatch/engine/internal/core/domain"
)

// backendView elides the secret token from a Backend, replacing it with a
// hasToken flag so clients can tell a backend has credentials without ever
// seeing them.
type backendView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Enabled   bool   `json:"enabled"`
	HasToken  bool   `json:"hasToken"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func toBackendView(b domain.Backend) backendView {
	return backendView{
		ID:        b.ID,
		Name:      b.Name,
		URL:       b.URL,
		Enabled:   b.Enabled,
		HasToken:  b.Secret != "",
		CreatedAt: b.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt: b.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (a *Application) handleBackendsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listBackends(w, r)
	case http.MethodPost:
		a.createBackend(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *Application) listBackends(w http.ResponseWriter, r *http.Request) {
	backends, err := a.Store.ListBackends()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	views := make([]backendView, 0, len(backends))
	for _, b := range backends {
		views = append(views, toBackendView(b))
	}
	writeJSON(w, http.StatusOK, views)
}

type createBackendRequest struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Token string `json:"token"`
}

func (a *Application) createBackend(w http.ResponseWriter, r *http.Request) {
	var req createBackendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "name and url are required")
		return
	}

	b := domain.Backend{
		ID:      uuid.NewString(),
		Name:    req.Name,
		URL:     req.URL,
		Secret:  req.Token,
		Enabled: true,
	}
	created, err := a.Store.CreateBackend(b)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if a.Supervisor != nil {
		a.Supervisor.Notify(created.ID, "created")
	}
	writeJSON(w, http.StatusCreated, toBackendView(created))
}

func (a *Application) handleBackendsActive(w http.ResponseWriter, r *http.Request) {
	b, err := a.Store.GetActiveBackend()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBackendView(b))
}

func (a *Application) handleBackendsListening(w http.ResponseWriter, r *http.Request) {
	backends, err := a.Store.ListListeningBackends()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	views := make([]backendView, 0, len(backends))
	for _, b := range backends {
		views = append(views, toBackendView(b))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleBackendsItem routes /api/backends/{id}[/action].
func (a *Application) handleBackendsItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/backends/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusBadRequest, "backend id required")
		return
	}

	if len(parts) == 2 {
		a.handleBackendAction(w, r, id, parts[1])
		return
	}

	switch r.Method {
	case http.MethodGet:
		b, err := a.Store.GetBackend(id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBackendView(b))
	case http.MethodPut:
		a.updateBackend(w, r, id)
	case http.MethodDelete:
		a.deleteBackend(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type updateBackendRequest struct {
	Name    *string `json:"name"`
	URL     *string `json:"url"`
	Token   *string `json:"token"`
	Enabled *bool   `json:"enabled"`
}

func (a *Application) updateBackend(w http.ResponseWriter, r *http.Request, id string) {
	var req updateBackendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	updated, err := a.Store.UpdateBackend(id, req.Name, req.URL, req.Token, req.Enabled)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if a.Supervisor != nil {
		a.Supervisor.Notify(id, "updated")
	}
	writeJSON(w, http.StatusOK, toBackendView(updated))
}

func (a *Application) deleteBackend(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.Store.DeleteBackend(id); err != nil {
		writeDomainError(w, err)
		return
	}
	a.Cache.ClearBackend(id)
	if a.Supervisor != nil {
		a.Supervisor.Notify(id, "deleted")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Application) handleBackendAction(w http.ResponseWriter, r *http.Request, id, action string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch action {
	case "activate":
		if err := a.Store.SetActive(id); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"active": true})
	case "listening":
		var body struct {
			Listening bool `json:"listening"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if err := a.Store.SetListening(id, body.Listening); err != nil {
			writeDomainError(w, err)
			return
		}
		if a.Supervisor != nil {
			a.Supervisor.Notify(id, "listening-toggled")
		}
		writeJSON(w, http.StatusOK, map[string]bool{"listening": body.Listening})
	case "clear-data":
		if _, err := a.Store.CleanupOldData(&id, 0); err != nil {
			writeDomainError(w, err)
			return
		}
		a.Cache.ClearBackend(id)
		writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
	case "test":
		a.testBackend(w, r)
	default:
		writeError(w, http.StatusNotFound, "unknown backend action")
	}
}

type testBackendRequest struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// testBackend and POST /api/backends/test both dial the candidate URL with a
// 5s timeout and report reachability without persisting anything.
func (a *Application) handleBackendsTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	a.testBackend(w, r)
}

func (a *Application) testBackend(w http.ResponseWriter, r *http.Request) {
	var req testBackendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ok, testErr := dialTestConnection(r.Context(), req.URL, req.Token)
	resp := map[string]any{"reachable": ok}
	if testErr != nil {
		resp["error"] = testErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
