package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// GetSetting returns the value for a key, or empty string if unset.
func (q *Queries) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := q.db.QueryRowContext(ctx, `SELECT value FROM service_settings WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// SetSetting writes a key, overwriting any prior value.
func (q *Queries) SetSetting(ctx context.Context, key, value string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO service_settings (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, strings.TrimSpace(value))
	return err
}

// GetBoolSetting reads a boolean setting, falling back to def when the key is
// missing or the value is not a recognized token.
func (q *Queries) GetBoolSetting(ctx context.Context, key string, def bool) (bool, error) {
	v, err := q.GetSetting(ctx, key)
	if err != nil {
		return def, err
	}
	if v == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return def, nil
	}
}
