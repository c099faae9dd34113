package store

import (
	"fmt"
	"time"

	"github.com/clashwatch/engine/internal/core/domain"
)

// RetentionSettings mirrors the retention_config singleton row.
type RetentionSettings struct {
	ConnectionLogsDays int
	HourlyStatsDays    int
	AutoCleanup        bool
}

func (s *Store) GetRetentionConfig() (RetentionSettings, error) {
	var rs RetentionSettings
	var autoCleanup int
	err := s.db.QueryRow(`SELECT connection_logs_days, hourly_stats_days, auto_cleanup FROM retention_config WHERE id = 1`).
		Scan(&rs.ConnectionLogsDays, &rs.HourlyStatsDays, &autoCleanup)
	if err != nil {
		return RetentionSettings{}, fmt.Errorf("get retention config: %w", err)
	}
	rs.AutoCleanup = autoCleanup != 0
	return rs, nil
}

// SetRetentionConfig validates bounds before persisting.
func (s *Store) SetRetentionConfig(rs RetentionSettings) error {
	if rs.ConnectionLogsDays < 1 || rs.ConnectionLogsDays > 90 {
		return domain.ErrInvalidRetention
	}
	if rs.HourlyStatsDays < 7 || rs.HourlyStatsDays > 365 {
		return domain.ErrInvalidRetention
	}
	_, err := s.db.Exec(
		`UPDATE retention_config SET connection_logs_days=?, hourly_stats_days=?, auto_cleanup=? WHERE id=1`,
		rs.ConnectionLogsDays, rs.HourlyStatsDays, boolToInt(rs.AutoCleanup),
	)
	if err != nil {
		return fmt.Errorf("set retention config: %w", err)
	}
	return nil
}

// CleanupOldData deletes rows older than days for one backend, or every
// backend when backendID is nil. days=0 wipes all historical rows for the
// target scope. It returns the number of rows removed per table.
func (s *Store) CleanupOldData(backendID *string, days int) (map[string]int64, error) {
	result := make(map[string]int64)

	tables := []struct {
		name   string
		dayCol string
	}{
		{"domain_stats", "time_bucket"}, {"ip_stats", "time_bucket"}, {"proxy_stats", "time_bucket"},
		{"rule_stats", "time_bucket"}, {"device_stats", "time_bucket"}, {"country_stats", "time_bucket"},
		{"domain_ip_stats", "time_bucket"}, {"proxy_domain_stats", "time_bucket"},
		{"proxy_ip_stats", "time_bucket"}, {"rule_domain_stats", "time_bucket"},
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("cleanup old data: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := domain.DayString(time.Now().UTC().AddDate(0, 0, -days))

	for _, t := range tables {
		var query string
		var args []any
		switch {
		case days == 0 && backendID != nil:
			query = fmt.Sprintf(`DELETE FROM %s WHERE backend_id = ?`, t.name)
			args = []any{*backendID}
		case days == 0:
			query = fmt.Sprintf(`DELETE FROM %s`, t.name)
		case backendID != nil:
			query = fmt.Sprintf(`DELETE FROM %s WHERE backend_id = ? AND %s < ?`, t.name, t.dayCol)
			args = []any{*backendID, cutoff}
		default:
			query = fmt.Sprintf(`DELETE FROM %s WHERE %s < ?`, t.name, t.dayCol)
			args = []any{cutoff}
		}
		res, err := tx.Exec(query, args...)
		if err != nil {
			return nil, fmt.Errorf("cleanup %s: %w", t.name, err)
		}
		n, _ := res.RowsAffected()
		result[t.name] = n
	}

	// hourly_stats is cut off at a full RFC3339 timestamp rather than the
	// day-string cutoff used for the dimension tables above.
	hourlyCutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
	var hourlyQuery string
	var hourlyArgs []any
	switch {
	case days == 0 && backendID != nil:
		hourlyQuery, hourlyArgs = `DELETE FROM hourly_stats WHERE backend_id = ?`, []any{*backendID}
	case days == 0:
		hourlyQuery = `DELETE FROM hourly_stats`
	case backendID != nil:
		hourlyQuery, hourlyArgs = `DELETE FROM hourly_stats WHERE backend_id = ? AND hour_start < ?`, []any{*backendID, hourlyCutoff}
	default:
		hourlyQuery, hourlyArgs = `DELETE FROM hourly_stats WHERE hour_start < ?`, []any{hourlyCutoff}
	}
	res, err := tx.Exec(hourlyQuery, hourlyArgs...)
	if err != nil {
		return nil, fmt.Errorf("cleanup hourly_stats: %w", err)
	}
	n, _ := res.RowsAffected()
	result["hourly_stats"] = n

	// connections table keys on closed_at, an RFC3339 timestamp.
	var connQuery string
	var connArgs []any
	switch {
	case days == 0 && backendID != nil:
		connQuery, connArgs = `DELETE FROM connections WHERE backend_id = ?`, []any{*backendID}
	case days == 0:
		connQuery = `DELETE FROM connections`
	case backendID != nil:
		connQuery, connArgs = `DELETE FROM connections WHERE backend_id = ? AND closed_at < ?`, []any{*backendID, hourlyCutoff}
	default:
		connQuery, connArgs = `DELETE FROM connections WHERE closed_at < ?`, []any{hourlyCutoff}
	}
	res, err = tx.Exec(connQuery, connArgs...)
	if err != nil {
		return nil, fmt.Errorf("cleanup connections: %w", err)
	}
	n, _ = res.RowsAffected()
	result["connections"] = n

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit cleanup: %w", err)
	}
	return result, nil
}

// DBStats backs /api/db/stats: row counts and on-disk size.
type DBStats struct {
	Backends   int64
	Domains    int64
	IPs        int64
	Connections int64
	SizeBytes  int64
}

func (s *Store) GetDBStats() (DBStats, error) {
	var st DBStats
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM backends`).Scan(&st.Backends); err != nil {
		return DBStats{}, fmt.Errorf("count backends: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM domain_stats`).Scan(&st.Domains); err != nil {
		return DBStats{}, fmt.Errorf("count domains: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM ip_stats`).Scan(&st.IPs); err != nil {
		return DBStats{}, fmt.Errorf("count ips: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM connections`).Scan(&st.Connections); err != nil {
		return DBStats{}, fmt.Errorf("count connections: %w", err)
	}
	var pageCount, pageSize int64
	if err := s.db.QueryRow(`PRAGMA page_count`).Scan(&pageCount); err == nil {
		if err := s.db.QueryRow(`PRAGMA page_size`).Scan(&pageSize); err == nil {
			st.SizeBytes = pageCount * pageSize
		}
	}
	return st, nil
}
