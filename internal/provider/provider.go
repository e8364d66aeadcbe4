// Package provider defines the per-platform fetch contract and the
// registry that routes URLs to adapters. Adapters scrape undocumented
// endpoints and are best-effort by design: one platform breaking must
// never affect the others.
package provider

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/vportnov/linkpost/internal/domain"
)

// Provider fetches a post from one platform.
//
// Fetch returns domain.ErrNotFound for deleted/private/missing posts,
// domain.ErrBlocked when an anti-bot challenge could not be passed on
// any mirror, and domain.ErrNetwork for transport failures. Raw
// transport errors never escape an adapter.
type Provider interface {
	// Name is the short platform key, e.g. "twitter".
	Name() string

	// Website is the human-readable platform name used in captions.
	Website() string

	// Pattern matches the platform's post links inside free text.
	Pattern() *regexp.Regexp

	// Fetch retrieves and normalizes the post behind url.
	Fetch(ctx context.Context, url string) (*domain.Post, error)
}

// Registry holds providers in priority order.
type Registry struct {
	providers []Provider
}

// NewRegistry creates a registry over the given providers.
func NewRegistry(providers ...Provider) *Registry {
	return &Registry{providers: providers}
}

// Register appends a provider.
func (r *Registry) Register(p Provider) {
	r.providers = append(r.providers, p)
}

// For returns the first provider whose pattern matches url.
func (r *Registry) For(url string) (Provider, bool) {
	for _, p := range r.providers {
		if p.Pattern().MatchString(url) {
			return p, true
		}
	}
	return nil, false
}

// All returns the registered providers in order.
func (r *Registry) All() []Provider {
	return r.providers
}

// BrowserHeaders are attached to scraping requests so adapter traffic
// looks like a regular browser session.
func BrowserHeaders(req *http.Request, userAgent string) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
}

// DefaultUserAgent is used when the caller does not supply one.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// NewHTTPClient builds the client adapters share: sane timeout,
// redirects followed so the final URL is observable on the response.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
