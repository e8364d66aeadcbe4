package domain

import "time"

// MediaKind distinguishes photo and video payloads.
type MediaKind string

const (
	MediaKindPhoto MediaKind = "photo"
	MediaKindVideo MediaKind = "video"
)

// MediaSource describes a downloadable media unit before the bytes are
// fetched. Produced by providers, consumed by the downloader. Transient;
// never persisted.
type MediaSource struct {
	Kind         MediaKind
	URL          string
	ThumbnailURL string
	Duration     time.Duration
	Width        int
	Height       int
}

// MediaItem is a downloaded, ready-to-send media unit. Owned by the
// downloader until handed to delivery; discarded after send.
type MediaItem struct {
	Kind      MediaKind
	Payload   []byte
	Filename  string
	SourceURL string
	Duration  time.Duration
	Width     int
	Height    int
	Thumbnail []byte
}

// Post is the platform-agnostic shape of a fetched post.
// Media must be non-empty; a fetch that yields no media is NotFound.
type Post struct {
	AuthorName   string
	AuthorHandle string
	Text         string
	URL          string
	Website      string
	ContentID    string
	Media        []MediaItem
	Sources      []MediaSource
}

// HasMedia reports whether any media source or item is attached.
func (p *Post) HasMedia() bool {
	return len(p.Sources) > 0 || len(p.Media) > 0
}

// CachedMedia is a previously delivered media unit identified by the
// host platform's file handle. Reused on cache hits to skip re-download.
type CachedMedia struct {
	Kind   MediaKind `json:"kind"`
	FileID string    `json:"file_id"`
}
