package cache

import (
	"context"
	"sync"
	"time"

	"github.com/vportnov/linkpost/internal/domain"
)

// Memory is the in-process Store. A janitor goroutine sweeps expired
// entries; reads also drop expired entries lazily so the sweep cadence
// is not load-bearing.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	done    chan struct{}
	once    sync.Once
}

type memoryEntry struct {
	media     []domain.CachedMedia
	expiresAt time.Time
}

// NewMemory creates a memory store sweeping at the given interval;
// zero selects one hour.
func NewMemory(sweepInterval time.Duration) *Memory {
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}
	m := &Memory{
		entries: make(map[string]memoryEntry),
		done:    make(chan struct{}),
	}
	go m.janitor(sweepInterval)
	return m
}

func (m *Memory) Get(_ context.Context, contentID string) ([]domain.CachedMedia, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[contentID]
	m.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, contentID)
		m.mu.Unlock()
		return nil, false, nil
	}
	return entry.media, true, nil
}

func (m *Memory) Set(_ context.Context, contentID string, media []domain.CachedMedia, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	m.entries[contentID] = memoryEntry{media: media, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

// Len reports the live entry count; feeds the stats endpoint.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

func (m *Memory) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for id, entry := range m.entries {
				if now.After(entry.expiresAt) {
					delete(m.entries, id)
				}
			}
			m.mu.Unlock()
		}
	}
}
