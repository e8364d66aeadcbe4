// Package cache remembers delivered media by content ID so repeated
// links re-send host file handles instead of re-downloading.
package cache

import (
	"context"
	"time"

	"github.com/vportnov/linkpost/internal/domain"
)

// DefaultTTL is how long an entry stays valid unless configured
// otherwise.
const DefaultTTL = 7 * 24 * time.Hour

// Store is the media cache contract. Concurrent Set calls for the same
// content ID are last-writer-wins; both writers hold valid handles.
type Store interface {
	// Get returns the cached media for a content ID. The second return
	// is false on a miss or an expired entry.
	Get(ctx context.Context, contentID string) ([]domain.CachedMedia, bool, error)

	// Set stores media under a content ID with the given TTL; ttl <= 0
	// selects DefaultTTL.
	Set(ctx context.Context, contentID string, media []domain.CachedMedia, ttl time.Duration) error

	// Close releases store resources.
	Close() error
}
