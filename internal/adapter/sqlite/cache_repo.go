package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vertextoedge/convert-cache/internal/domain"
	"github.com/vertextoedge/convert-cache/internal/port"
)

// Open opens (creating if needed) the named cache
func (s *Store) Open(ctx context.Context, name string) (port.CacheHandle, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty cache name", domain.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO caches (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache %s: %w", name, err)
	}

	return &cacheHandle{db: s.db, name: name}, nil
}

// Delete destroys the named cache and all of its entries
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_name = ?`, name); err != nil {
		return false, fmt.Errorf("failed to delete cache entries: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM caches WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("failed to delete cache: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}

	return affected > 0, nil
}

// cacheHandle implements port.CacheHandle for one cache name
type cacheHandle struct {
	db   *sql.DB
	name string
}

// Ensure cacheHandle implements port.CacheHandle
var _ port.CacheHandle = (*cacheHandle)(nil)

func (h *cacheHandle) Name() string {
	return h.name
}

func (h *cacheHandle) Keys(ctx context.Context) ([]string, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT url FROM cache_entries WHERE cache_name = ? ORDER BY url`, h.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		keys = append(keys, url)
	}

	return keys, rows.Err()
}

func (h *cacheHandle) Match(ctx context.Context, key string) (*domain.CacheEntry, error) {
	entry := &domain.CacheEntry{Location: key}

	err := h.db.QueryRowContext(ctx,
		`SELECT content_type, body FROM cache_entries WHERE cache_name = ? AND url = ?`,
		h.name, key,
	).Scan(&entry.ContentType, &entry.Body)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return entry, nil
}

func (h *cacheHandle) Put(ctx context.Context, entry *domain.CacheEntry) error {
	body := entry.Body
	if body == nil {
		body = []byte{}
	}

	// The EXISTS guard keeps writes through a handle of a destroyed cache
	// from resurrecting it.
	query := `
		INSERT INTO cache_entries (cache_name, url, content_type, body, size)
		SELECT ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM caches WHERE name = ?)
		ON CONFLICT (cache_name, url) DO UPDATE SET
			content_type = excluded.content_type,
			body = excluded.body,
			size = excluded.size,
			updated_at = CURRENT_TIMESTAMP
	`

	result, err := h.db.ExecContext(ctx, query,
		h.name, entry.Location, entry.ContentType, body, len(body), h.name)
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", entry.Location, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("put %s: %w", entry.Location, domain.ErrCacheDeleted)
	}

	return nil
}

func (h *cacheHandle) Delete(ctx context.Context, key string) (bool, error) {
	result, err := h.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE cache_name = ? AND url = ?`, h.name, key)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}
