package handlers

import (
	"net/http"
	"time"

	"github.com/clashwatch/engine/internal/adapter/cache"
	"github.com/clashwatch/engine/internal/adapter/store"
)

type paginatedResponse struct {
	Data  any `json:"data"`
	Total int `json:"total"`
}

func (a *Application) handleStatsSummary(w http.ResponseWriter, r *http.Request) {
	backendID := r.URL.Query().Get("backendId")
	if backendID == "" {
		b, err := a.Store.GetActiveBackend()
		if err != nil {
			writeDomainError(w, err)
			return
		}
		backendID = b.ID
	}
	window, err := parseWindow(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	sum, err := a.Store.GetSummary(backendID, window)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	overlaid := a.overlayApplies(window)
	if overlaid {
		sum.UploadBytes, sum.DownloadBytes = a.Cache.ApplySummaryDelta(backendID, sum.UploadBytes, sum.DownloadBytes)
		sum.TopDomains = a.Cache.MergeTopDomains(backendID, sum.TopDomains, 10)
		sum.TopIPs = a.Cache.MergeTopIPs(backendID, sum.TopIPs, 10)
		sum.ProxyStats = a.Cache.MergeProxyStats(backendID, sum.ProxyStats)
		sum.HourlyStats = a.Cache.MergeTrend(backendID, sum.HourlyStats, time.Now().UTC(), 60)
	}
	todayUpload, todayDownload := a.Cache.GetTodayDelta(backendID, time.Now().UTC())
	sum.Today = store.TodayDelta{UploadBytes: todayUpload, DownloadBytes: todayDownload}
	sum.Overlaid = overlaid
	writeJSON(w, http.StatusOK, sum)
}

func (a *Application) handleStatsGlobal(w http.ResponseWriter, r *http.Request) {
	sum, err := a.Store.GetGlobalSummary()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *Application) handleStatsDomains(w http.ResponseWriter, r *http.Request) {
	backendID := optionalBackendID(r)
	window, err := parseWindow(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rows, total, err := a.Store.ListDomains(backendID, window, parsePagination(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if backendID != nil && a.overlayApplies(window) {
		rows = a.Cache.MergeTopDomains(*backendID, rows, 0)
	}
	writeJSON(w, http.StatusOK, paginatedResponse{Data: rows, Total: total})
}

func (a *Application) handleStatsIPs(w http.ResponseWriter, r *http.Request) {
	backendID := optionalBackendID(r)
	window, err := parseWindow(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rows, total, err := a.Store.ListIPs(backendID, window, parsePagination(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if backendID != nil && a.overlayApplies(window) {
		rows = a.Cache.MergeTopIPs(*backendID, rows, 0)
	}
	writeJSON(w, http.StatusOK, paginatedResponse{Data: rows, Total: total})
}

func (a *Application) handleDomainProxyStats(w http.ResponseWriter, r *http.Request) {
	backendID := r.URL.Query().Get("backendId")
	host := r.URL.Query().Get("host")
	if backendID == "" || host == "" {
		writeError(w, http.StatusBadRequest, "backendId and host are required")
		return
	}
	window, err := parseWindow(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rows, err := a.Store.DomainProxyBreakdown(backendID, host, window)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *Application) handleIPDomainDetails(w http.ResponseWriter, r *http.Request) {
	backendID := r.URL.Query().Get("backendId")
	sourceIP := r.URL.Query().Get("sourceIp")
	if backendID == "" || sourceIP == "" {
		writeError(w, http.StatusBadRequest, "backendId and sourceIp are required")
		return
	}
	window, err := parseWindow(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rows, err := a.Store.IPDomainDetails(backendID, sourceIP, window, queryLimit(r, 50))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *Application) handleStatsProxies(w http.ResponseWriter, r *http.Request) {
	backendID := optionalBackendID(r)
	window, err := parseWindow(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rows, err := a.Store.ListProxies(backendID, window)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if backendID != nil && a.overlayApplies(window) {
		rows = a.Cache.MergeProxyStats(*backendID, rows)
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *Application) handleStatsRules(w http.ResponseWriter, r *http.Request) {
	backendID := optionalBackendID(r)
	window, err := parseWindow(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rows, err := a.Store.ListRules(backendID, window)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *Application) handleStatsDevices(w http.ResponseWriter, r *http.Request) {
	backendID := optionalBackendID(r)
	window, err := parseWindow(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rows, err := a.Store.ListDevices(backendID, window)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *Application) handleStatsCountries(w http.ResponseWriter, r *http.Request) {
	backendID := optionalBackendID(r)
	window, err := parseWindow(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rows, err := a.Store.ListCountries(backendID, window)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if backendID != nil && a.overlayApplies(window) {
		rows = a.Cache.MergeCountryStats(*backendID, rows)
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *Application) handleStatsConnections(w http.ResponseWriter, r *http.Request) {
	backendID := optionalBackendID(r)
	window, err := parseWindow(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rows, total, err := a.Store.ListConnections(backendID, window, parsePagination(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paginatedResponse{Data: rows, Total: total})
}

func (a *Application) handleStatsTrendAggregated(w http.ResponseWriter, r *http.Request) {
	backendID := r.URL.Query().Get("backendId")
	if backendID == "" {
		b, err := a.Store.GetActiveBackend()
		if err != nil {
			writeDomainError(w, err)
			return
		}
		backendID = b.ID
	}
	window, err := parseWindow(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rows, err := a.Store.GetDailyTrend(backendID, window)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *Application) handleProxyDomains(w http.ResponseWriter, r *http.Request) {
	backendID := r.URL.Query().Get("backendId")
	chain := r.URL.Query().Get("chain")
	if backendID == "" || chain == "" {
		writeError(w, http.StatusBadRequest, "backendId and chain are required")
		return
	}
	window, err := parseWindow(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rows, err := a.Store.ListProxyDomains(backendID, chain, window)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *Application) handleProxyIPs(w http.ResponseWriter, r *http.Request) {
	backendID := r.URL.Query().Get("backendId")
	chain := r.URL.Query().Get("chain")
	if backendID == "" || chain == "" {
		writeError(w, http.StatusBadRequest, "backendId and chain are required")
		return
	}
	window, err := parseWindow(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rows, err := a.Store.ListProxyIPs(backendID, chain, window)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *Application) handleRuleDomains(w http.ResponseWriter, r *http.Request) {
	backendID := r.URL.Query().Get("backendId")
	rule := r.URL.Query().Get("rule")
	if backendID == "" || rule == "" {
		writeError(w, http.StatusBadRequest, "backendId and rule are required")
		return
	}
	window, err := parseWindow(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rows, err := a.Store.ListRuleDomains(backendID, rule, window)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *Application) handleStatsHourly(w http.ResponseWriter, r *http.Request) {
	backendID := r.URL.Query().Get("backendId")
	if backendID == "" {
		b, err := a.Store.GetActiveBackend()
		if err != nil {
			writeDomainError(w, err)
			return
		}
		backendID = b.ID
	}
	window, err := parseWindow(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rows, err := a.Store.GetHourlyStats(backendID, window)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if a.overlayApplies(window) {
		rows = a.Cache.MergeTrend(backendID, rows, time.Now().UTC(), 60)
	}
	writeJSON(w, http.StatusOK, rows)
}

// overlayApplies reports whether a query window is recent enough that
// pending Realtime Cache deltas (not yet flushed to the Store) should be
// merged into the response. The tolerance comes from REALTIME_RANGE_END_TOLERANCE_MS.
func (a *Application) overlayApplies(window store.Window) bool {
	if !window.Set {
		return true
	}
	return cache.WithinOverlayTolerance(window.End, time.Now().UTC(), a.Config.Realtime.Tolerance())
}
