package store

import (
	"fmt"
	"time"

	"github.com/clashwatch/engine/internal/core/domain"
)

var domainSortCols = map[string]bool{"upload": true, "download": true, "connections": true, "last_seen": true}

// ListDomains returns a paginated, searchable page of domain rows for a
// backend (or every backend when backendID is nil), plus the total row
// count for the caller's pager.
func (s *Store) ListDomains(backendID *string, window Window, p Pagination) ([]domain.DomainStat, int, error) {
	p = p.normalised(domainSortCols)
	where, args := backendWindowClause(backendID, "time_bucket", window)
	if p.Search != "" {
		where += " AND host LIKE ?"
		args = append(args, "%"+p.Search+"%")
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM (SELECT host FROM domain_stats WHERE %s GROUP BY backend_id, host)`, where)
	if err := s.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count domains: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT backend_id, host, SUM(upload), SUM(download), SUM(connections)
		FROM domain_stats
		WHERE %s
		GROUP BY backend_id, host
		ORDER BY %s %s
		LIMIT ? OFFSET ?
	`, where, p.SortBy, p.SortOrder)
	rows, err := s.db.Query(query, append(args, p.Limit, p.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var out []domain.DomainStat
	for rows.Next() {
		var st domain.DomainStat
		if err := rows.Scan(&st.Key.BackendID, &st.Key.Host, &st.UploadBytes, &st.DownloadBytes, &st.ConnectionCount); err != nil {
			return nil, 0, fmt.Errorf("scan domain row: %w", err)
		}
		out = append(out, st)
	}
	return out, total, rows.Err()
}

func (s *Store) ListIPs(backendID *string, window Window, p Pagination) ([]domain.IPStat, int, error) {
	p = p.normalised(domainSortCols)
	where, args := backendWindowClause(backendID, "time_bucket", window)
	if p.Search != "" {
		where += " AND source_ip LIKE ?"
		args = append(args, "%"+p.Search+"%")
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM (SELECT source_ip FROM ip_stats WHERE %s GROUP BY backend_id, source_ip)`, where)
	if err := s.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ips: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT backend_id, source_ip, SUM(upload), SUM(download), SUM(connections), COALESCE(MAX(country), '')
		FROM ip_stats
		WHERE %s
		GROUP BY backend_id, source_ip
		ORDER BY %s %s
		LIMIT ? OFFSET ?
	`, where, p.SortBy, p.SortOrder)
	rows, err := s.db.Query(query, append(args, p.Limit, p.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list ips: %w", err)
	}
	defer rows.Close()

	var out []domain.IPStat
	for rows.Next() {
		var st domain.IPStat
		if err := rows.Scan(&st.Key.BackendID, &st.Key.SourceIP, &st.UploadBytes, &st.DownloadBytes, &st.ConnectionCount, &st.Country); err != nil {
			return nil, 0, fmt.Errorf("scan ip row: %w", err)
		}
		out = append(out, st)
	}
	return out, total, rows.Err()
}

func (s *Store) ListProxies(backendID *string, window Window) ([]domain.ProxyStat, error) {
	where, args := backendWindowClause(backendID, "time_bucket", window)
	query := fmt.Sprintf(`
		SELECT backend_id, proxy_chain, SUM(upload), SUM(download), SUM(connections)
		FROM proxy_stats WHERE %s GROUP BY backend_id, proxy_chain ORDER BY SUM(download) DESC
	`, where)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list proxies: %w", err)
	}
	defer rows.Close()

	var out []domain.ProxyStat
	for rows.Next() {
		var st domain.ProxyStat
		if err := rows.Scan(&st.Key.BackendID, &st.Key.ProxyChain, &st.UploadBytes, &st.DownloadBytes, &st.ConnectionCount); err != nil {
			return nil, fmt.Errorf("scan proxy row: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) ListRules(backendID *string, window Window) ([]domain.RuleStat, error) {
	where, args := backendWindowClause(backendID, "time_bucket", window)
	query := fmt.Sprintf(`
		SELECT backend_id, rule, SUM(upload), SUM(download), SUM(connections)
		FROM rule_stats WHERE %s GROUP BY backend_id, rule ORDER BY SUM(download) DESC
	`, where)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []domain.RuleStat
	for rows.Next() {
		var st domain.RuleStat
		if err := rows.Scan(&st.Key.BackendID, &st.Key.Rule, &st.UploadBytes, &st.DownloadBytes, &st.ConnectionCount); err != nil {
			return nil, fmt.Errorf("scan rule row: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) ListDevices(backendID *string, window Window) ([]domain.DeviceStat, error) {
	where, args := backendWindowClause(backendID, "time_bucket", window)
	query := fmt.Sprintf(`
		SELECT backend_id, device, SUM(upload), SUM(download), SUM(connections)
		FROM device_stats WHERE %s GROUP BY backend_id, device ORDER BY SUM(download) DESC
	`, where)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []domain.DeviceStat
	for rows.Next() {
		var st domain.DeviceStat
		if err := rows.Scan(&st.Key.BackendID, &st.Key.Device, &st.UploadBytes, &st.DownloadBytes, &st.ConnectionCount); err != nil {
			return nil, fmt.Errorf("scan device row: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) ListCountries(backendID *string, window Window) ([]domain.CountryStat, error) {
	where, args := backendWindowClause(backendID, "time_bucket", window)
	query := fmt.Sprintf(`
		SELECT backend_id, country, SUM(upload), SUM(download), SUM(connections)
		FROM country_stats WHERE %s GROUP BY backend_id, country ORDER BY SUM(download) DESC
	`, where)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list countries: %w", err)
	}
	defer rows.Close()

	var out []domain.CountryStat
	for rows.Next() {
		var st domain.CountryStat
		if err := rows.Scan(&st.Key.BackendID, &st.Key.Country, &st.UploadBytes, &st.DownloadBytes, &st.ConnectionCount); err != nil {
			return nil, fmt.Errorf("scan country row: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ListProxyDomains drills a proxy chain down into the hosts it carried
// traffic for.
func (s *Store) ListProxyDomains(backendID, chain string, window Window) ([]domain.ProxyDomainStat, error) {
	where := "backend_id = ? AND proxy_chain = ?"
	args := []any{backendID, chain}
	if window.Set {
		where += " AND time_bucket >= ? AND time_bucket <= ?"
		args = append(args, domain.HourBucket(window.Start), domain.HourBucket(window.End))
	}
	query := fmt.Sprintf(`
		SELECT backend_id, proxy_chain, host, SUM(upload), SUM(download), SUM(connections)
		FROM proxy_domain_stats WHERE %s GROUP BY backend_id, proxy_chain, host ORDER BY SUM(download) DESC
	`, where)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list proxy domains: %w", err)
	}
	defer rows.Close()

	var out []domain.ProxyDomainStat
	for rows.Next() {
		var st domain.ProxyDomainStat
		if err := rows.Scan(&st.Key.BackendID, &st.Key.ProxyChain, &st.Key.Host, &st.UploadBytes, &st.DownloadBytes, &st.ConnectionCount); err != nil {
			return nil, fmt.Errorf("scan proxy-domain row: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ListProxyIPs drills a proxy chain down into the source IPs it carried
// traffic for.
func (s *Store) ListProxyIPs(backendID, chain string, window Window) ([]domain.ProxyIPStat, error) {
	where := "backend_id = ? AND proxy_chain = ?"
	args := []any{backendID, chain}
	if window.Set {
		where += " AND time_bucket >= ? AND time_bucket <= ?"
		args = append(args, domain.HourBucket(window.Start), domain.HourBucket(window.End))
	}
	query := fmt.Sprintf(`
		SELECT backend_id, proxy_chain, source_ip, SUM(upload), SUM(download), SUM(connections)
		FROM proxy_ip_stats WHERE %s GROUP BY backend_id, proxy_chain, source_ip ORDER BY SUM(download) DESC
	`, where)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list proxy ips: %w", err)
	}
	defer rows.Close()

	var out []domain.ProxyIPStat
	for rows.Next() {
		var st domain.ProxyIPStat
		if err := rows.Scan(&st.Key.BackendID, &st.Key.ProxyChain, &st.Key.SourceIP, &st.UploadBytes, &st.DownloadBytes, &st.ConnectionCount); err != nil {
			return nil, fmt.Errorf("scan proxy-ip row: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ListRuleDomains drills a matched rule down into the hosts it applied to.
func (s *Store) ListRuleDomains(backendID, rule string, window Window) ([]domain.RuleDomainStat, error) {
	where := "backend_id = ? AND rule = ?"
	args := []any{backendID, rule}
	if window.Set {
		where += " AND time_bucket >= ? AND time_bucket <= ?"
		args = append(args, domain.HourBucket(window.Start), domain.HourBucket(window.End))
	}
	query := fmt.Sprintf(`
		SELECT backend_id, rule, host, SUM(upload), SUM(download), SUM(connections)
		FROM rule_domain_stats WHERE %s GROUP BY backend_id, rule, host ORDER BY SUM(download) DESC
	`, where)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rule domains: %w", err)
	}
	defer rows.Close()

	var out []domain.RuleDomainStat
	for rows.Next() {
		var st domain.RuleDomainStat
		if err := rows.Scan(&st.Key.BackendID, &st.Key.Rule, &st.Key.Host, &st.UploadBytes, &st.DownloadBytes, &st.ConnectionCount); err != nil {
			return nil, fmt.Errorf("scan rule-domain row: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

var connectionSortCols = map[string]bool{"upload": true, "download": true, "started_at": true, "closed_at": true}

// ListConnections returns a paginated page of persisted connection records
// for a backend, newest-closed-first by default.
func (s *Store) ListConnections(backendID *string, window Window, p Pagination) ([]domain.ConnectionRecord, int, error) {
	p = p.normalised(connectionSortCols)
	where := "1=1"
	var args []any
	if backendID != nil {
		where += " AND backend_id = ?"
		args = append(args, *backendID)
	}
	if window.Set {
		where += " AND closed_at >= ? AND closed_at <= ?"
		args = append(args, window.Start.UTC().Format(time.RFC3339), window.End.UTC().Format(time.RFC3339))
	}
	if p.Search != "" {
		where += " AND host LIKE ?"
		args = append(args, "%"+p.Search+"%")
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM connections WHERE %s`, where)
	if err := s.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count connections: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT backend_id, connection_id, host, dest_ip, source_ip, proxy_chain, rule, device, country,
			upload, download, COALESCE(started_at, ''), COALESCE(closed_at, '')
		FROM connections
		WHERE %s
		ORDER BY %s %s
		LIMIT ? OFFSET ?
	`, where, p.SortBy, p.SortOrder)
	rows, err := s.db.Query(query, append(args, p.Limit, p.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []domain.ConnectionRecord
	for rows.Next() {
		var r domain.ConnectionRecord
		if err := rows.Scan(&r.BackendID, &r.ConnectionID, &r.Host, &r.DestIP, &r.SourceIP, &r.ProxyChain, &r.Rule, &r.Device, &r.Country,
			&r.UploadBytes, &r.DownloadBytes, &r.StartedAt, &r.ClosedAt); err != nil {
			return nil, 0, fmt.Errorf("scan connection row: %w", err)
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// GetHourlyStats returns the hourly trend line for a backend within window,
// ordered oldest-first for charting.
func (s *Store) GetHourlyStats(backendID string, window Window) ([]domain.HourlyStat, error) {
	where := "backend_id = ?"
	args := []any{backendID}
	if window.Set {
		where += " AND hour_start >= ? AND hour_start < ?"
		args = append(args, window.Start.UTC().Format(time.RFC3339), window.End.UTC().Format(time.RFC3339))
	}
	query := fmt.Sprintf(`SELECT backend_id, hour_start, upload, download, connections FROM hourly_stats WHERE %s ORDER BY hour_start ASC`, where)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get hourly stats: %w", err)
	}
	defer rows.Close()

	var out []domain.HourlyStat
	for rows.Next() {
		var st domain.HourlyStat
		if err := rows.Scan(&st.Key.BackendID, &st.Key.HourStart, &st.UploadBytes, &st.DownloadBytes, &st.ConnectionCount); err != nil {
			return nil, fmt.Errorf("scan hourly row: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// GetDailyTrend aggregates the hourly trend line into UTC calendar-day
// buckets, backing the aggregated trend endpoint used by dashboards that
// chart longer ranges than makes sense at hourly resolution.
func (s *Store) GetDailyTrend(backendID string, window Window) ([]domain.HourlyStat, error) {
	where := "backend_id = ?"
	args := []any{backendID}
	if window.Set {
		where += " AND hour_start >= ? AND hour_start < ?"
		args = append(args, window.Start.UTC().Format(time.RFC3339), window.End.UTC().Format(time.RFC3339))
	}
	query := fmt.Sprintf(`
		SELECT backend_id, substr(hour_start, 1, 10), SUM(upload), SUM(download), SUM(connections)
		FROM hourly_stats WHERE %s GROUP BY backend_id, substr(hour_start, 1, 10) ORDER BY 2 ASC
	`, where)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get daily trend: %w", err)
	}
	defer rows.Close()

	var out []domain.HourlyStat
	for rows.Next() {
		var st domain.HourlyStat
		if err := rows.Scan(&st.Key.BackendID, &st.Key.HourStart, &st.UploadBytes, &st.DownloadBytes, &st.ConnectionCount); err != nil {
			return nil, fmt.Errorf("scan daily trend row: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// DomainProxyBreakdown drills down from a domain to the source IPs that
// carried its traffic.
func (s *Store) DomainProxyBreakdown(backendID, host string, window Window) ([]domain.DomainIPStat, error) {
	where := "backend_id = ? AND host = ?"
	args := []any{backendID, host}
	if window.Set {
		where += " AND time_bucket >= ? AND time_bucket <= ?"
		args = append(args, domain.HourBucket(window.Start), domain.HourBucket(window.End))
	}
	query := fmt.Sprintf(`
		SELECT backend_id, host, source_ip, SUM(upload), SUM(download), SUM(connections)
		FROM domain_ip_stats WHERE %s GROUP BY backend_id, host, source_ip ORDER BY SUM(download) DESC
	`, where)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("domain proxy breakdown: %w", err)
	}
	defer rows.Close()

	var out []domain.DomainIPStat
	for rows.Next() {
		var st domain.DomainIPStat
		if err := rows.Scan(&st.Key.BackendID, &st.Key.Host, &st.Key.SourceIP, &st.UploadBytes, &st.DownloadBytes, &st.ConnectionCount); err != nil {
			return nil, fmt.Errorf("scan domain-ip row: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// IPDomainDetails drills down from a source IP to the domains it visited.
func (s *Store) IPDomainDetails(backendID, sourceIP string, window Window, limit int) ([]domain.DomainIPStat, error) {
	where := "backend_id = ? AND source_ip = ?"
	args := []any{backendID, sourceIP}
	if window.Set {
		where += " AND time_bucket >= ? AND time_bucket <= ?"
		args = append(args, domain.HourBucket(window.Start), domain.HourBucket(window.End))
	}
	if limit <= 0 || limit > MaxPageLimit {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT backend_id, host, source_ip, SUM(upload), SUM(download), SUM(connections)
		FROM domain_ip_stats WHERE %s GROUP BY backend_id, host ORDER BY SUM(download) DESC LIMIT ?
	`, where)
	rows, err := s.db.Query(query, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("ip domain details: %w", err)
	}
	defer rows.Close()

	var out []domain.DomainIPStat
	for rows.Next() {
		var st domain.DomainIPStat
		if err := rows.Scan(&st.Key.BackendID, &st.Key.Host, &st.Key.SourceIP, &st.UploadBytes, &st.DownloadBytes, &st.ConnectionCount); err != nil {
			return nil, fmt.Errorf("scan domain-ip row: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// TodayDelta is the Realtime Cache's not-yet-flushed total for the current
// UTC day, reported alongside a summary so callers can tell historical
// totals apart from traffic still sitting in memory.
type TodayDelta struct {
	UploadBytes   uint64 `json:"uploadBytes"`
	DownloadBytes uint64 `json:"downloadBytes"`
}

// Summary bundles the cross-dimension totals backing /api/stats/summary.
type Summary struct {
	BackendID       string
	UploadBytes     uint64
	DownloadBytes   uint64
	ConnectionCount int64
	TopDomains      []domain.DomainStat
	TopIPs          []domain.IPStat
	ProxyStats      []domain.ProxyStat
	RuleStats       []domain.RuleStat
	HourlyStats     []domain.HourlyStat
	Today           TodayDelta
	Overlaid        bool
}

// GetSummary computes Store-only totals for one backend. The Query API
// overlays Realtime Cache deltas on top when the window is time-proximate.
func (s *Store) GetSummary(backendID string, window Window) (Summary, error) {
	sum := Summary{BackendID: backendID}

	where, args := backendWindowClause(&backendID, "time_bucket", window)
	totalsQuery := fmt.Sprintf(`SELECT COALESCE(SUM(upload),0), COALESCE(SUM(download),0), COALESCE(SUM(connections),0) FROM domain_stats WHERE %s`, where)
	if err := s.db.QueryRow(totalsQuery, args...).Scan(&sum.UploadBytes, &sum.DownloadBytes, &sum.ConnectionCount); err != nil {
		return Summary{}, fmt.Errorf("summary totals: %w", err)
	}

	var err error
	if sum.TopDomains, _, err = s.ListDomains(&backendID, window, Pagination{Limit: 10, SortBy: "download", SortOrder: "desc"}); err != nil {
		return Summary{}, err
	}
	if sum.TopIPs, _, err = s.ListIPs(&backendID, window, Pagination{Limit: 10, SortBy: "download", SortOrder: "desc"}); err != nil {
		return Summary{}, err
	}
	if sum.ProxyStats, err = s.ListProxies(&backendID, window); err != nil {
		return Summary{}, err
	}
	if sum.RuleStats, err = s.ListRules(&backendID, window); err != nil {
		return Summary{}, err
	}
	hourlyWindow := window
	if !hourlyWindow.Set {
		hourlyWindow = Window{Start: time.Now().UTC().Add(-24 * time.Hour), End: time.Now().UTC(), Set: true}
	}
	if sum.HourlyStats, err = s.GetHourlyStats(backendID, hourlyWindow); err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// GetGlobalSummary aggregates totals across every backend; never overlaid
// with cache deltas, since it spans backends rather than one of them.
func (s *Store) GetGlobalSummary() (Summary, error) {
	sum := Summary{}
	row := s.db.QueryRow(`SELECT COALESCE(SUM(upload),0), COALESCE(SUM(download),0), COALESCE(SUM(connections),0) FROM domain_stats`)
	if err := row.Scan(&sum.UploadBytes, &sum.DownloadBytes, &sum.ConnectionCount); err != nil {
		return Summary{}, fmt.Errorf("global summary: %w", err)
	}
	var err error
	if sum.TopDomains, _, err = s.ListDomains(nil, Window{}, Pagination{Limit: 10, SortBy: "download", SortOrder: "desc"}); err != nil {
		return Summary{}, err
	}
	if sum.TopIPs, _, err = s.ListIPs(nil, Window{}, Pagination{Limit: 10, SortBy: "download", SortOrder: "desc"}); err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// backendWindowClause builds the WHERE clause shared by every dimension
// list query: an optional backend filter plus an optional inclusive
// [Start, End] range over bucketCol, compared as UTC hour-floor strings.
func backendWindowClause(backendID *string, bucketCol string, window Window) (string, []any) {
	where := "1=1"
	var args []any
	if backendID != nil {
		where += " AND backend_id = ?"
		args = append(args, *backendID)
	}
	if window.Set {
		where += fmt.Sprintf(" AND %s >= ? AND %s <= ?", bucketCol, bucketCol)
		args = append(args, domain.HourBucket(window.Start), domain.HourBucket(window.End))
	}
	return where, args
}
