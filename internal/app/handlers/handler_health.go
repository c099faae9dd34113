package handlers

import "net/http"

type healthResponse struct {
	Status   string        `json:"status"`
	Sessions []sessionView `json:"sessions,omitempty"`
}

type sessionView struct {
	BackendID string `json:"backendId"`
	State     string `json:"state"`
	Status    string `json:"status"`
}

func (a *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if a.Supervisor != nil {
		for _, h := range a.Supervisor.Health() {
			resp.Sessions = append(resp.Sessions, sessionView{
				BackendID: h.BackendID,
				State:     string(h.State),
				Status:    h.Status.String(),
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
