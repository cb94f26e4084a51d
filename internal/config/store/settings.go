package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// LoadSettings returns key/value settings for the active instance/profile.
// Optional keys limit the selection to specific entries.
func (s *Store) LoadSettings(ctx context.Context, keys ...string) (map[string]string, error) {
	query := `SELECT key, value FROM settings WHERE instance_name = ? AND profile_name = ?`
	args := []any{s.instance, s.profile}

	if len(keys) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(keys)), ",")
		query += fmt.Sprintf(" AND key IN (%s)", placeholders)
		for _, key := range keys {
			args = append(args, key)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("config: load settings: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("config: scan settings row: %w", err)
		}
		result[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: iterate settings rows: %w", err)
	}

	return result, nil
}

// GetSetting returns a single setting value, or NotFoundError.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE instance_name = ? AND profile_name = ? AND key = ?`,
		s.instance, s.profile, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", NotFoundError{Entity: "setting", Key: key}
	}
	if err != nil {
		return "", fmt.Errorf("config: get setting %q: %w", key, err)
	}
	return value, nil
}

// SaveSettings upserts the provided key/value pairs for the active profile.
func (s *Store) SaveSettings(ctx context.Context, values map[string]string) error {
	if s.readOnly {
		return fmt.Errorf("config: save settings: store opened read-only")
	}
	if len(values) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
            INSERT INTO settings (instance_name, profile_name, key, value, updated_at)
            VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
            ON CONFLICT(instance_name, profile_name, key) DO UPDATE SET
                value = excluded.value,
                updated_at = CURRENT_TIMESTAMP
        `)
		if err != nil {
			return fmt.Errorf("config: prepare save settings: %w", err)
		}
		defer stmt.Close()

		for key, value := range values {
			if _, err := stmt.ExecContext(ctx, s.instance, s.profile, key, value); err != nil {
				return fmt.Errorf("config: exec save setting %q: %w", key, err)
			}
		}
		return nil
	})
}

// DeleteSetting removes one setting; deleting an absent key is a no-op.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	if s.readOnly {
		return fmt.Errorf("config: delete setting: store opened read-only")
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM settings WHERE instance_name = ? AND profile_name = ? AND key = ?`,
		s.instance, s.profile, key); err != nil {
		return fmt.Errorf("config: delete setting %q: %w", key, err)
	}
	return nil
}
