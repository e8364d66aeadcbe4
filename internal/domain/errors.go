package domain

import "errors"

// Fetch outcome taxonomy. Providers return these instead of raw
// transport errors so call sites can branch on the outcome.
var (
	// ErrNotFound is returned when the post is deleted, private, or the
	// URL carries no extractable identifier.
	ErrNotFound = errors.New("post not found")

	// ErrBlocked is returned when the anti-bot challenge was exhausted
	// across all configured mirrors.
	ErrBlocked = errors.New("blocked by anti-bot challenge")

	// ErrUnsupportedMedia is returned when every media source of a post
	// was rejected by MIME validation.
	ErrUnsupportedMedia = errors.New("no supported media")

	// ErrNetwork is returned for timeouts and connection failures.
	ErrNetwork = errors.New("network failure")

	// ErrTranscode is returned when re-encoding a single image fails.
	// Drops that source only, never the whole post.
	ErrTranscode = errors.New("transcode failed")

	// ErrNoProvider is returned when no registered provider matches a URL.
	ErrNoProvider = errors.New("no provider for URL")

	// ErrChallengeUnsolved is returned when a single mirror's challenge
	// attempt failed verification.
	ErrChallengeUnsolved = errors.New("challenge not solved")
)

// FetchError wraps an error with provider and URL context.
type FetchError struct {
	Provider string
	URL      string
	Err      error
}

func (e *FetchError) Error() string {
	if e.URL != "" {
		return e.Provider + " [" + e.URL + "]: " + e.Err.Error()
	}
	return e.Provider + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a FetchError.
func NewFetchError(provider, url string, err error) *FetchError {
	return &FetchError{Provider: provider, URL: url, Err: err}
}
