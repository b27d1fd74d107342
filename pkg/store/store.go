// Package store implements the durable key/value state store used by the
// scheduler, poller, and learning components. All writes are transactional
// per call; authoritative dedup for filings remains the filing log's unique
// constraint.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when no value exists for (namespace, key).
var ErrNotFound = errors.New("state key not found")

// Store is the transactional KV facade over the state_store table.
type Store struct {
	db *sql.DB
}

// New creates a Store over the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get reads the value for (namespace, key) into dest (JSON decode).
func (s *Store) Get(ctx context.Context, namespace, key string, dest any) error {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM state_store WHERE namespace = $1 AND key = $2`,
		namespace, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s/%s: %w", namespace, key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Put upserts the value for (namespace, key).
func (s *Store) Put(ctx context.Context, namespace, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", namespace, key, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO state_store (namespace, key, value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (namespace, key) DO UPDATE SET value = $3, updated_at = now()`,
		namespace, key, raw)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", namespace, key, err)
	}
	return nil
}

// CompareAndSwap sets the value only if the stored value equals old.
// A nil old means "only if absent". Returns whether the swap happened.
func (s *Store) CompareAndSwap(ctx context.Context, namespace, key string, old, new any) (bool, error) {
	newRaw, err := json.Marshal(new)
	if err != nil {
		return false, fmt.Errorf("encode %s/%s: %w", namespace, key, err)
	}

	if old == nil {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO state_store (namespace, key, value, updated_at)
			 VALUES ($1, $2, $3, now())
			 ON CONFLICT (namespace, key) DO NOTHING`,
			namespace, key, newRaw)
		if err != nil {
			return false, fmt.Errorf("cas insert %s/%s: %w", namespace, key, err)
		}
		n, _ := res.RowsAffected()
		return n > 0, nil
	}

	oldRaw, err := json.Marshal(old)
	if err != nil {
		return false, fmt.Errorf("encode old %s/%s: %w", namespace, key, err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE state_store SET value = $3, updated_at = now()
		 WHERE namespace = $1 AND key = $2 AND value = $4::jsonb`,
		namespace, key, newRaw, oldRaw)
	if err != nil {
		return false, fmt.Errorf("cas update %s/%s: %w", namespace, key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AppendBounded appends value to the string list at (namespace, key),
// keeping only the most recent maxLen entries. The read-modify-write runs
// in a single transaction with the row locked.
func (s *Store) AppendBounded(ctx context.Context, namespace, key, value string, maxLen int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append %s/%s: begin: %w", namespace, key, err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM state_store WHERE namespace = $1 AND key = $2 FOR UPDATE`,
		namespace, key).Scan(&raw)
	var list []string
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First append for this key.
	case err != nil:
		return fmt.Errorf("append %s/%s: read: %w", namespace, key, err)
	default:
		if err := json.Unmarshal(raw, &list); err != nil {
			return fmt.Errorf("append %s/%s: decode: %w", namespace, key, err)
		}
	}

	list = append(list, value)
	if maxLen > 0 && len(list) > maxLen {
		list = list[len(list)-maxLen:]
	}
	newRaw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("append %s/%s: encode: %w", namespace, key, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO state_store (namespace, key, value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (namespace, key) DO UPDATE SET value = $3, updated_at = now()`,
		namespace, key, newRaw)
	if err != nil {
		return fmt.Errorf("append %s/%s: write: %w", namespace, key, err)
	}
	return tx.Commit()
}

// GetStringList reads the string list at (namespace, key). A missing key
// yields an empty list.
func (s *Store) GetStringList(ctx context.Context, namespace, key string) ([]string, error) {
	var list []string
	err := s.Get(ctx, namespace, key, &list)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return list, nil
}

// ListContains reports whether the string list at (namespace, key) contains
// value.
func (s *Store) ListContains(ctx context.Context, namespace, key, value string) (bool, error) {
	list, err := s.GetStringList(ctx, namespace, key)
	if err != nil {
		return false, err
	}
	for _, v := range list {
		if v == value {
			return true, nil
		}
	}
	return false, nil
}

// Scan returns all values in a namespace whose key starts with prefix.
func (s *Store) Scan(ctx context.Context, namespace, prefix string) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM state_store
		 WHERE namespace = $1 AND key LIKE $2 || '%'
		 ORDER BY key`,
		namespace, prefix)
	if err != nil {
		return nil, fmt.Errorf("scan %s/%s*: %w", namespace, prefix, err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan %s/%s*: %w", namespace, prefix, err)
		}
		out[key] = json.RawMessage(raw)
	}
	return out, rows.Err()
}

// Delete removes (namespace, key). Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM state_store WHERE namespace = $1 AND key = $2`,
		namespace, key)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", namespace, key, err)
	}
	return nil
}
