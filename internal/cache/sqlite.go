package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vportnov/linkpost/internal/domain"
)

// SQLite is the persistent Store. Expired rows are removed lazily on
// read and in bulk by a periodic purge.
type SQLite struct {
	db   *sql.DB
	done chan struct{}
	once sync.Once
}

// NewSQLite opens (and if needed creates) the cache database at path.
func NewSQLite(path string, purgeInterval time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// expires_at is unix milliseconds so comparisons stay driver-neutral.
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS media_cache (
			content_id TEXT PRIMARY KEY,
			media TEXT NOT NULL,
			expires_at INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_media_cache_expires ON media_cache(expires_at);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	s := &SQLite{db: db, done: make(chan struct{})}
	if purgeInterval <= 0 {
		purgeInterval = time.Hour
	}
	go s.purger(purgeInterval)
	return s, nil
}

func (s *SQLite) Get(ctx context.Context, contentID string) ([]domain.CachedMedia, bool, error) {
	var raw string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT media, expires_at FROM media_cache WHERE content_id = ?`, contentID,
	).Scan(&raw, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query cache: %w", err)
	}

	if time.Now().UnixMilli() >= expiresAt {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM media_cache WHERE content_id = ?`, contentID)
		return nil, false, nil
	}

	var media []domain.CachedMedia
	if err := json.Unmarshal([]byte(raw), &media); err != nil {
		return nil, false, fmt.Errorf("decode cached media: %w", err)
	}
	return media, true, nil
}

func (s *SQLite) Set(ctx context.Context, contentID string, media []domain.CachedMedia, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	raw, err := json.Marshal(media)
	if err != nil {
		return fmt.Errorf("encode media: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO media_cache (content_id, media, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(content_id) DO UPDATE SET media = excluded.media, expires_at = excluded.expires_at
	`, contentID, string(raw), time.Now().Add(ttl).UnixMilli())
	if err != nil {
		return fmt.Errorf("store cache entry: %w", err)
	}
	return nil
}

// Len reports the live entry count; feeds the stats endpoint.
func (s *SQLite) Len() int {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM media_cache WHERE expires_at > ?`, time.Now().UnixMilli()).Scan(&n); err != nil {
		return 0
	}
	return n
}

func (s *SQLite) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.db.Close()
}

func (s *SQLite) purger(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			_, _ = s.db.Exec(`DELETE FROM media_cache WHERE expires_at <= ?`, time.Now().UnixMilli())
		}
	}
}
