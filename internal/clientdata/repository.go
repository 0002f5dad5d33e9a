// Package clientdata provides persistent caching for external API client
// responses. Payloads are stored as msgpack blobs with expiration timestamps
// for cache-first behavior. This replaces in-process memoization: the cache
// policy (TTL per table) is explicit and owned by the caller, and the engine
// itself stays stateless between invocations.
package clientdata

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// AllTables lists all tables in cache.db for cleanup operations.
var AllTables = []string{
	"coinmarketcap_listings",
	"binance_exchange_info",
	"binance_prices",
	"binance_klines",
}

// validTables is a set for O(1) table name validation.
var validTables = func() map[string]bool {
	m := make(map[string]bool, len(AllTables))
	for _, t := range AllTables {
		m[t] = true
	}
	return m
}()

// Repository provides cache operations for client data.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new client data repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// validateTable ensures the table name is in our allowed list.
// This prevents SQL injection through table names.
func validateTable(table string) error {
	if !validTables[table] {
		return fmt.Errorf("invalid table name: %s", table)
	}
	return nil
}

// getKeyColumn returns the primary key column name for a table.
func getKeyColumn(table string) string {
	switch table {
	case "coinmarketcap_listings":
		return "quote"
	case "binance_klines":
		return "pair"
	default:
		return "region"
	}
}

// Store saves data with expiration = now + ttl.
// Uses INSERT OR REPLACE to upsert data.
func (r *Repository) Store(table, key string, data interface{}, ttl time.Duration) error {
	if err := validateTable(table); err != nil {
		return err
	}

	blob, err := msgpack.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	expiresAt := time.Now().Add(ttl).Unix()
	keyCol := getKeyColumn(table)

	query := fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (%s, data, expires_at) VALUES (?, ?, ?)",
		table, keyCol,
	)

	if _, err := r.db.Exec(query, key, blob, expiresAt); err != nil {
		return fmt.Errorf("failed to store data in %s: %w", table, err)
	}

	return nil
}

// GetIfFresh returns the cached blob only when it has not expired.
// A miss (absent or expired) returns nil data and nil error.
func (r *Repository) GetIfFresh(table, key string) ([]byte, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}

	keyCol := getKeyColumn(table)
	query := fmt.Sprintf(
		"SELECT data FROM %s WHERE %s = ? AND expires_at > ?",
		table, keyCol,
	)

	var blob []byte
	err := r.db.QueryRow(query, key, time.Now().Unix()).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}

	return blob, nil
}

// Get returns the cached blob regardless of expiration. Used as a fallback
// when the upstream API is down: stale data beats no data.
func (r *Repository) Get(table, key string) ([]byte, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}

	keyCol := getKeyColumn(table)
	query := fmt.Sprintf("SELECT data FROM %s WHERE %s = ?", table, keyCol)

	var blob []byte
	err := r.db.QueryRow(query, key).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}

	return blob, nil
}

// Unmarshal decodes a cached blob into out.
func Unmarshal(blob []byte, out interface{}) error {
	return msgpack.Unmarshal(blob, out)
}

// DeleteExpired removes expired rows from one table and reports how many
// were deleted.
func (r *Repository) DeleteExpired(table string) (int64, error) {
	if err := validateTable(table); err != nil {
		return 0, err
	}

	result, err := r.db.Exec(
		fmt.Sprintf("DELETE FROM %s WHERE expires_at <= ?", table),
		time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired rows from %s: %w", table, err)
	}

	deleted, _ := result.RowsAffected()
	return deleted, nil
}
