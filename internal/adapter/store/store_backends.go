package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clashwatch/engine/internal/core/domain"
)

// CreateBackend inserts a new backend, failing with ErrDuplicateBackendName
// if the name is already taken. If this is the first backend, it becomes
// active.
func (s *Store) CreateBackend(b domain.Backend) (domain.Backend, error) {
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	tx, err := s.db.Begin()
	if err != nil {
		return domain.Backend{}, fmt.Errorf("create backend: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM backends`).Scan(&count); err != nil {
		return domain.Backend{}, fmt.Errorf("count backends: %w", err)
	}
	isActive := count == 0

	_, err = tx.Exec(
		`INSERT INTO backends (id, name, url, token, enabled, listening, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.URL, b.Secret, boolToInt(b.Enabled), boolToInt(true), boolToInt(isActive),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return domain.Backend{}, domain.ErrDuplicateBackendName
		}
		return domain.Backend{}, fmt.Errorf("insert backend: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Backend{}, fmt.Errorf("commit create backend: %w", err)
	}
	return b, nil
}

func (s *Store) GetBackend(id string) (domain.Backend, error) {
	row := s.db.QueryRow(`SELECT id, name, url, token, enabled, created_at, updated_at FROM backends WHERE id = ?`, id)
	return scanBackend(row)
}

func (s *Store) GetActiveBackend() (domain.Backend, error) {
	row := s.db.QueryRow(`SELECT id, name, url, token, enabled, created_at, updated_at FROM backends WHERE is_active = 1 LIMIT 1`)
	return scanBackend(row)
}

func (s *Store) ListBackends() ([]domain.Backend, error) {
	rows, err := s.db.Query(`SELECT id, name, url, token, enabled, created_at, updated_at FROM backends ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list backends: %w", err)
	}
	defer rows.Close()

	var out []domain.Backend
	for rows.Next() {
		b, err := scanBackendRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListListeningBackends returns enabled backends currently listening — the
// Supervisor's reconciliation target set.
func (s *Store) ListListeningBackends() ([]domain.Backend, error) {
	rows, err := s.db.Query(`SELECT id, name, url, token, enabled, created_at, updated_at FROM backends WHERE enabled = 1 AND listening = 1`)
	if err != nil {
		return nil, fmt.Errorf("list listening backends: %w", err)
	}
	defer rows.Close()

	var out []domain.Backend
	for rows.Next() {
		b, err := scanBackendRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) UpdateBackend(id string, name, url, token *string, enabled *bool) (domain.Backend, error) {
	b, err := s.GetBackend(id)
	if err != nil {
		return domain.Backend{}, err
	}
	if name != nil {
		b.Name = *name
	}
	if url != nil {
		b.URL = *url
	}
	if token != nil {
		b.Secret = *token
	}
	if enabled != nil {
		b.Enabled = *enabled
	}
	b.UpdatedAt = time.Now().UTC()

	_, err = s.db.Exec(
		`UPDATE backends SET name=?, url=?, token=?, enabled=?, updated_at=? WHERE id=?`,
		b.Name, b.URL, b.Secret, boolToInt(b.Enabled), b.UpdatedAt.Format(time.RFC3339), id,
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return domain.Backend{}, domain.ErrDuplicateBackendName
		}
		return domain.Backend{}, fmt.Errorf("update backend: %w", err)
	}
	return b, nil
}

func (s *Store) SetListening(id string, listening bool) error {
	res, err := s.db.Exec(`UPDATE backends SET listening=?, updated_at=? WHERE id=?`, boolToInt(listening), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("set listening: %w", err)
	}
	return expectOneRow(res)
}

// SetActive clears every other backend's active flag and activates id.
func (s *Store) SetActive(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`UPDATE backends SET is_active=0`); err != nil {
		return fmt.Errorf("clear active flags: %w", err)
	}
	res, err := tx.Exec(`UPDATE backends SET is_active=1 WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteBackend removes a backend and cascades to every dimension row that
// carries its backend_id, keeping each backend's data fully isolated.
func (s *Store) DeleteBackend(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("delete backend: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tables := []string{
		"connections", "domain_stats", "ip_stats", "proxy_stats", "rule_stats",
		"device_stats", "country_stats", "hourly_stats", "domain_ip_stats",
		"proxy_domain_stats", "proxy_ip_stats", "rule_domain_stats",
	}
	for _, table := range tables {
		if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE backend_id=?`, table), id); err != nil {
			return fmt.Errorf("cascade delete from %s: %w", table, err)
		}
	}

	res, err := tx.Exec(`DELETE FROM backends WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete backend: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

func scanBackend(row *sql.Row) (domain.Backend, error) {
	var b domain.Backend
	var token sql.NullString
	var createdAt, updatedAt string
	var enabledInt int
	err := row.Scan(&b.ID, &b.Name, &b.URL, &token, &enabledInt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Backend{}, domain.ErrBackendNotFound
	}
	if err != nil {
		return domain.Backend{}, fmt.Errorf("scan backend: %w", err)
	}
	b.Secret = token.String
	b.Enabled = enabledInt != 0
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return b, nil
}

func scanBackendRows(rows *sql.Rows) (domain.Backend, error) {
	var b domain.Backend
	var token sql.NullString
	var createdAt, updatedAt string
	var enabledInt int
	if err := rows.Scan(&b.ID, &b.Name, &b.URL, &token, &enabledInt, &createdAt, &updatedAt); err != nil {
		return domain.Backend{}, fmt.Errorf("scan backend row: %w", err)
	}
	b.Secret = token.String
	b.Enabled = enabledInt != 0
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return b, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrBackendNotFound
	}
	return nil
}

func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
