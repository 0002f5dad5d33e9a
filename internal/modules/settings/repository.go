// Package settings manages runtime configuration stored in config.db:
// plain key-value settings plus per-user rebalancing preferences. Database
// values take precedence over environment defaults so behavior can change
// without a restart.
package settings

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Repository handles settings database operations. Values are stored as
// strings; typed getters convert on the way out and fall back to the given
// default on a miss or a parse failure.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a settings repository over config.db.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "settings").Logger(),
	}
}

// Get retrieves a setting value by key. Returns nil (not an error) when the
// setting does not exist.
func (r *Repository) Get(key string) (*string, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return &value, nil
}

// Set upserts a setting value. The description is optional.
func (r *Repository) Set(key, value string, description *string) error {
	now := time.Now().Unix()

	if description != nil {
		_, err := r.db.Exec(`
			INSERT INTO settings (key, value, description, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				description = excluded.description,
				updated_at = excluded.updated_at
		`, key, value, *description, now)
		return err
	}

	_, err := r.db.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, now)
	return err
}

// GetAll retrieves every setting as a map.
func (r *Repository) GetAll() (map[string]string, error) {
	rows, err := r.db.Query("SELECT key, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("failed to get all settings: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan setting row")
			continue
		}
		result[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings: %w", err)
	}

	return result, nil
}

// GetInt retrieves a setting as an integer, via float so "12.0" strings
// parse too.
func (r *Repository) GetInt(key string, defaultValue int) (int, error) {
	value, err := r.Get(key)
	if err != nil {
		return defaultValue, err
	}
	if value == nil {
		return defaultValue, nil
	}

	floatVal, err := strconv.ParseFloat(*value, 64)
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Str("value", *value).Msg("Failed to parse int setting")
		return defaultValue, nil
	}

	return int(floatVal), nil
}

// GetBool retrieves a setting as a boolean. "true", "1", "yes" and "on"
// are truthy; everything else is false.
func (r *Repository) GetBool(key string, defaultValue bool) (bool, error) {
	value, err := r.Get(key)
	if err != nil {
		return defaultValue, err
	}
	if value == nil {
		return defaultValue, nil
	}

	switch *value {
	case "true", "1", "yes", "on":
		return true, nil
	}
	return false, nil
}

// Delete removes a setting. Idempotent.
func (r *Repository) Delete(key string) error {
	_, err := r.db.Exec("DELETE FROM settings WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}

// EnsureUser registers a user id if it is not already present.
func (r *Repository) EnsureUser(id string) error {
	_, err := r.db.Exec(`
		INSERT INTO users (id, enabled, created_at)
		VALUES (?, 1, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to ensure user %s: %w", id, err)
	}
	return nil
}

// EnabledUsers returns the ids of all enabled users, ordered by creation.
func (r *Repository) EnabledUsers() ([]string, error) {
	rows, err := r.db.Query("SELECT id FROM users WHERE enabled = 1 ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}
