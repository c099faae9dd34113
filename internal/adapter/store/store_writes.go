package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/clashwatch/engine/internal/core/domain"
)

// WriteHourly batch-upserts hourly-trend rows in one transaction using an
// additive "INSERT ... ON CONFLICT DO UPDATE SET col = col + excluded.col"
// so repeated flushes of overlapping hours only ever add, never replace.
// Any row failure aborts the whole batch so the Flusher can classify the
// error and decide whether to retry just this dimension.
func (s *Store) WriteHourly(rows []domain.HourlyStat) error {
	if len(rows) == 0 {
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO hourly_stats (backend_id, hour_start, upload, download, connections)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(backend_id, hour_start) DO UPDATE SET
				upload = upload + excluded.upload,
				download = download + excluded.download,
				connections = connections + excluded.connections
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.Exec(r.Key.BackendID, r.Key.HourStart, r.UploadBytes, r.DownloadBytes, r.ConnectionCount); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) WriteDomains(rows []domain.DomainStat) error {
	if len(rows) == 0 {
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO domain_stats (backend_id, time_bucket, host, upload, download, connections, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(backend_id, time_bucket, host) DO UPDATE SET
				upload = upload + excluded.upload,
				download = download + excluded.download,
				connections = connections + excluded.connections,
				last_seen = excluded.last_seen
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.Exec(r.Key.BackendID, r.Key.TimeBucket, r.Key.Host, r.UploadBytes, r.DownloadBytes, r.ConnectionCount, nowRFC3339()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) WriteIPs(rows []domain.IPStat) error {
	if len(rows) == 0 {
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO ip_stats (backend_id, time_bucket, source_ip, upload, download, connections, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(backend_id, time_bucket, source_ip) DO UPDATE SET
				upload = upload + excluded.upload,
				download = download + excluded.download,
				connections = connections + excluded.connections,
				last_seen = excluded.last_seen
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.Exec(r.Key.BackendID, r.Key.TimeBucket, r.Key.SourceIP, r.UploadBytes, r.DownloadBytes, r.ConnectionCount, nowRFC3339()); err != nil {
				return err
			}
		}
		return s.backfillGeoIP(tx, rows)
	})
}

// backfillGeoIP resolves country codes for IP rows that don't have one yet.
// A lookup failure degrades to an empty geoIP rather than failing the
// whole write.
func (s *Store) backfillGeoIP(tx *sql.Tx, rows []domain.IPStat) error {
	for _, r := range rows {
		var existing sql.NullString
		err := tx.QueryRow(`SELECT country FROM ip_stats WHERE backend_id=? AND time_bucket=? AND source_ip=?`,
			r.Key.BackendID, r.Key.TimeBucket, r.Key.SourceIP).Scan(&existing)
		if err != nil || existing.Valid && existing.String != "" {
			continue
		}
		code, lookupErr := s.geoip.CountryCode(r.Key.SourceIP)
		if lookupErr != nil || code == "" {
			continue
		}
		if _, err := tx.Exec(`UPDATE ip_stats SET country=? WHERE backend_id=? AND time_bucket=? AND source_ip=?`,
			code, r.Key.BackendID, r.Key.TimeBucket, r.Key.SourceIP); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) WriteProxies(rows []domain.ProxyStat) error {
	if len(rows) == 0 {
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO proxy_stats (backend_id, time_bucket, proxy_chain, upload, download, connections, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(backend_id, time_bucket, proxy_chain) DO UPDATE SET
				upload = upload + excluded.upload,
				download = download + excluded.download,
				connections = connections + excluded.connections,
				last_seen = excluded.last_seen
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.Exec(r.Key.BackendID, r.Key.TimeBucket, r.Key.ProxyChain, r.UploadBytes, r.DownloadBytes, r.ConnectionCount, nowRFC3339()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) WriteRules(rows []domain.RuleStat) error {
	if len(rows) == 0 {
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO rule_stats (backend_id, time_bucket, rule, upload, download, connections, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(backend_id, time_bucket, rule) DO UPDATE SET
				upload = upload + excluded.upload,
				download = download + excluded.download,
				connections = connections + excluded.connections,
				last_seen = excluded.last_seen
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.Exec(r.Key.BackendID, r.Key.TimeBucket, r.Key.Rule, r.UploadBytes, r.DownloadBytes, r.ConnectionCount, nowRFC3339()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) WriteDevices(rows []domain.DeviceStat) error {
	if len(rows) == 0 {
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO device_stats (backend_id, time_bucket, device, upload, download, connections, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(backend_id, time_bucket, device) DO UPDATE SET
				upload = upload + excluded.upload,
				download = download + excluded.download,
				connections = connections + excluded.connections,
				last_seen = excluded.last_seen
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.Exec(r.Key.BackendID, r.Key.TimeBucket, r.Key.Device, r.UploadBytes, r.DownloadBytes, r.ConnectionCount, nowRFC3339()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) WriteCountries(rows []domain.CountryStat) error {
	if len(rows) == 0 {
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO country_stats (backend_id, time_bucket, country, upload, download, connections, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(backend_id, time_bucket, country) DO UPDATE SET
				upload = upload + excluded.upload,
				download = download + excluded.download,
				connections = connections + excluded.connections,
				last_seen = excluded.last_seen
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.Exec(r.Key.BackendID, r.Key.TimeBucket, r.Key.Country, r.UploadBytes, r.DownloadBytes, r.ConnectionCount, nowRFC3339()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) WriteDomainIPs(rows []domain.DomainIPStat) error {
	if len(rows) == 0 {
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO domain_ip_stats (backend_id, time_bucket, host, source_ip, upload, download, connections, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(backend_id, time_bucket, host, source_ip) DO UPDATE SET
				upload = upload + excluded.upload,
				download = download + excluded.download,
				connections = connections + excluded.connections,
				last_seen = excluded.last_seen
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.Exec(r.Key.BackendID, r.Key.TimeBucket, r.Key.Host, r.Key.SourceIP, r.UploadBytes, r.DownloadBytes, r.ConnectionCount, nowRFC3339()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) WriteProxyDomains(rows []domain.ProxyDomainStat) error {
	if len(rows) == 0 {
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO proxy_domain_stats (backend_id, time_bucket, proxy_chain, host, upload, download, connections, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(backend_id, time_bucket, proxy_chain, host) DO UPDATE SET
				upload = upload + excluded.upload,
				download = download + excluded.download,
				connections = connections + excluded.connections,
				last_seen = excluded.last_seen
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.Exec(r.Key.BackendID, r.Key.TimeBucket, r.Key.ProxyChain, r.Key.Host, r.UploadBytes, r.DownloadBytes, r.ConnectionCount, nowRFC3339()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) WriteProxyIPs(rows []domain.ProxyIPStat) error {
	if len(rows) == 0 {
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO proxy_ip_stats (backend_id, time_bucket, proxy_chain, source_ip, upload, download, connections, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(backend_id, time_bucket, proxy_chain, source_ip) DO UPDATE SET
				upload = upload + excluded.upload,
				download = download + excluded.download,
				connections = connections + excluded.connections,
				last_seen = excluded.last_seen
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.Exec(r.Key.BackendID, r.Key.TimeBucket, r.Key.ProxyChain, r.Key.SourceIP, r.UploadBytes, r.DownloadBytes, r.ConnectionCount, nowRFC3339()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) WriteRuleDomains(rows []domain.RuleDomainStat) error {
	if len(rows) == 0 {
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO rule_domain_stats (backend_id, time_bucket, rule, host, upload, download, connections, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(backend_id, time_bucket, rule, host) DO UPDATE SET
				upload = upload + excluded.upload,
				download = download + excluded.download,
				connections = connections + excluded.connections,
				last_seen = excluded.last_seen
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.Exec(r.Key.BackendID, r.Key.TimeBucket, r.Key.Rule, r.Key.Host, r.UploadBytes, r.DownloadBytes, r.ConnectionCount, nowRFC3339()); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertConnectionClose writes (or updates) the final-bytes record for a
// closed connection. Best-effort: a failure here never blocks ingestion.
func (s *Store) UpsertConnectionClose(backendID, connectionID, host, destIP, sourceIP, proxyChain, rule, device, country string, upload, download uint64, startedAt, closedAt string) error {
	_, err := s.db.Exec(`
		INSERT INTO connections (backend_id, connection_id, host, dest_ip, source_ip, proxy_chain, rule, device, country, upload, download, started_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(backend_id, connection_id) DO UPDATE SET
			upload = excluded.upload,
			download = excluded.download,
			closed_at = excluded.closed_at
	`, backendID, connectionID, host, destIP, sourceIP, proxyChain, rule, device, country, upload, download, startedAt, closedAt)
	if err != nil {
		return fmt.Errorf("upsert connection close: %w", err)
	}
	return nil
}

func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
