// Package service wires matching, fetching, downloading, and delivery
// into the per-message pipeline.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vportnov/linkpost/internal/cache"
	"github.com/vportnov/linkpost/internal/domain"
	"github.com/vportnov/linkpost/internal/match"
	"github.com/vportnov/linkpost/internal/provider"
)

// Downloader turns media sources into payloads.
type Downloader interface {
	DownloadAll(ctx context.Context, sources []domain.MediaSource) ([]domain.MediaItem, error)
}

// Deliverer sends a post to a chat and reports the host file handles.
type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, post *domain.Post, cached []domain.CachedMedia) ([]domain.CachedMedia, error)
}

// Notifier sends short user-facing notices.
type Notifier interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Stats are the pipeline counters behind the ops endpoint.
type Stats struct {
	URLsMatched int64 `json:"urls_matched"`
	Fetched     int64 `json:"fetched"`
	Delivered   int64 `json:"delivered"`
	CacheHits   int64 `json:"cache_hits"`
	Failed      int64 `json:"failed"`
}

// FetchService runs the message-to-delivery pipeline.
type FetchService struct {
	matcher    *match.Matcher
	registry   *provider.Registry
	downloader Downloader
	deliverer  Deliverer
	notifier   Notifier
	store      cache.Store
	cacheTTL   time.Duration
	logger     *slog.Logger

	urlsMatched atomic.Int64
	fetched     atomic.Int64
	delivered   atomic.Int64
	cacheHits   atomic.Int64
	failed      atomic.Int64
}

// NewFetchService creates the service. cacheTTL <= 0 selects the cache
// default.
func NewFetchService(
	matcher *match.Matcher,
	registry *provider.Registry,
	downloader Downloader,
	deliverer Deliverer,
	notifier Notifier,
	store cache.Store,
	cacheTTL time.Duration,
	logger *slog.Logger,
) *FetchService {
	return &FetchService{
		matcher:    matcher,
		registry:   registry,
		downloader: downloader,
		deliverer:  deliverer,
		notifier:   notifier,
		store:      store,
		cacheTTL:   cacheTTL,
		logger:     logger,
	}
}

// HandleText extracts supported links from a message and runs each
// through the pipeline. Auto-detected links fail silently; explicit
// requests get a short notice describing the failure class.
func (s *FetchService) HandleText(ctx context.Context, chatID int64, text string, explicit bool) {
	urls := s.matcher.Extract(text)
	s.urlsMatched.Add(int64(len(urls)))

	if len(urls) == 0 {
		if explicit {
			s.notify(ctx, chatID, "No supported links in that message.")
		}
		return
	}

	for _, u := range urls {
		if err := s.handleURL(ctx, chatID, u); err != nil {
			s.failed.Add(1)
			if explicit {
				s.notify(ctx, chatID, noticeFor(err))
			}
		}
	}
}

func (s *FetchService) handleURL(ctx context.Context, chatID int64, url string) error {
	logger := s.logger.With("fetch_id", uuid.NewString(), "url", url)

	p, ok := s.registry.For(url)
	if !ok {
		logger.Debug("no provider for url")
		return domain.ErrNoProvider
	}
	logger = logger.With("provider", p.Name())

	started := time.Now()
	post, err := p.Fetch(ctx, url)
	if err != nil {
		logger.Warn("fetch failed", "error", err)
		return err
	}
	s.fetched.Add(1)
	logger.Info("post fetched",
		"content_id", post.ContentID,
		"sources", len(post.Sources),
		"elapsed", time.Since(started))

	cached := s.probeCache(ctx, logger, post.ContentID)
	if cached == nil {
		items, err := s.downloader.DownloadAll(ctx, post.Sources)
		if err != nil {
			logger.Warn("download failed", "error", err)
			return err
		}
		post.Media = items
	}

	handles, err := s.deliverer.Deliver(ctx, chatID, post, cached)
	if err != nil {
		logger.Warn("delivery failed", "error", err)
		return err
	}
	s.delivered.Add(1)

	if cached == nil && post.ContentID != "" && len(handles) > 0 {
		if err := s.store.Set(ctx, post.ContentID, handles, s.cacheTTL); err != nil {
			logger.Warn("cache store failed", "error", err)
		}
	}

	logger.Info("post delivered", "items", len(handles), "from_cache", cached != nil)
	return nil
}

func (s *FetchService) probeCache(ctx context.Context, logger *slog.Logger, contentID string) []domain.CachedMedia {
	if contentID == "" {
		return nil
	}
	cached, ok, err := s.store.Get(ctx, contentID)
	if err != nil {
		logger.Warn("cache probe failed", "error", err)
		return nil
	}
	if !ok || len(cached) == 0 {
		return nil
	}
	s.cacheHits.Add(1)
	return cached
}

func (s *FetchService) notify(ctx context.Context, chatID int64, text string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.SendText(ctx, chatID, text); err != nil {
		s.logger.Warn("notice failed", "error", err)
	}
}

// noticeFor maps an error class to the user-facing one-liner.
func noticeFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrUnsupportedMedia),
		errors.Is(err, domain.ErrNoProvider):
		return "Nothing found at that link."
	default:
		return "Could not fetch that link right now."
	}
}

// Snapshot returns the current counter values.
func (s *FetchService) Snapshot() Stats {
	return Stats{
		URLsMatched: s.urlsMatched.Load(),
		Fetched:     s.fetched.Load(),
		Delivered:   s.delivered.Load(),
		CacheHits:   s.cacheHits.Load(),
		Failed:      s.failed.Load(),
	}
}
