// Package fetch turns media sources into sendable payloads. Downloads
// run with bounded parallelism; a failed source drops out of the batch
// instead of failing it.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vportnov/linkpost/internal/config"
	"github.com/vportnov/linkpost/internal/domain"
	"github.com/vportnov/linkpost/internal/hls"
	"github.com/vportnov/linkpost/internal/provider"
)

// allowedMIME is the content-type allow-list. Anything else drops the
// source.
var allowedMIME = map[string]bool{
	"image/jpeg":                    true,
	"image/png":                     true,
	"image/gif":                     true,
	"image/webp":                    true,
	"video/mp4":                     true,
	"video/webm":                    true,
	"video/quicktime":               true,
	"video/x-msvideo":               true,
	"application/vnd.apple.mpegurl": true,
	"application/x-mpegurl":         true,
}

// Remuxer losslessly assembles downloaded playlist segments into a
// single container.
type Remuxer interface {
	ConcatRemux(ctx context.Context, segmentFiles []string, outPath string) error
}

type httpPayload struct {
	data        []byte
	contentType string
}

// Downloader fetches media sources concurrently.
type Downloader struct {
	client    *http.Client
	userAgent string
	cfg       config.Download
	remuxer   Remuxer
	logger    *slog.Logger
}

// NewDownloader creates a Downloader. remuxer may be nil, which turns
// playlist payloads into dropped sources.
func NewDownloader(cfg config.Download, remuxer Remuxer, logger *slog.Logger) *Downloader {
	return &Downloader{
		client: &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: 30 * time.Second},
			Timeout:   cfg.Timeout,
		},
		userAgent: cfg.UserAgent,
		cfg:       cfg,
		remuxer:   remuxer,
		logger:    logger,
	}
}

// DownloadAll fetches every source, keeping the input order. Sources
// that fail are logged and skipped; only a batch with zero successes is
// an error (ErrUnsupportedMedia).
func (d *Downloader) DownloadAll(ctx context.Context, sources []domain.MediaSource) ([]domain.MediaItem, error) {
	if len(sources) == 0 {
		return nil, domain.ErrUnsupportedMedia
	}

	parallelism := d.cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	sem := make(chan struct{}, parallelism)
	results := make([]*domain.MediaItem, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src domain.MediaSource) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			item, err := d.downloadOne(ctx, src)
			if err != nil {
				d.logger.Warn("source dropped", "url", src.URL, "error", err)
				return
			}
			results[i] = item
		}(i, src)
	}
	wg.Wait()

	items := make([]domain.MediaItem, 0, len(sources))
	for _, item := range results {
		if item != nil {
			items = append(items, *item)
		}
	}
	if len(items) == 0 {
		return nil, domain.ErrUnsupportedMedia
	}
	return items, nil
}

func (d *Downloader) downloadOne(ctx context.Context, src domain.MediaSource) (*domain.MediaItem, error) {
	got, err := Retry(ctx, DefaultRetryConfig(), func() (httpPayload, error) {
		data, contentType, err := d.get(ctx, src.URL)
		return httpPayload{data: data, contentType: contentType}, err
	})
	if err != nil {
		return nil, err
	}
	payload, contentType := got.data, got.contentType

	if !allowedMIME[contentType] && !hls.IsManifest(payload) {
		return nil, fmt.Errorf("%w: content type %q", domain.ErrUnsupportedMedia, contentType)
	}

	item := &domain.MediaItem{
		Kind:      src.Kind,
		Payload:   payload,
		Filename:  filenameFor(src.URL, contentType),
		SourceURL: src.URL,
		Duration:  src.Duration,
		Width:     src.Width,
		Height:    src.Height,
	}

	// A playlist payload means the progressive rewrite did not exist
	// upstream; assemble the segments instead.
	if hls.IsManifest(payload) {
		assembled, err := d.assemblePlaylist(ctx, src.URL, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrTranscode, err)
		}
		item.Payload = assembled
		item.Filename = strings.TrimSuffix(item.Filename, path.Ext(item.Filename)) + ".mp4"
	}

	if src.Kind == domain.MediaKindPhoto {
		processed, err := NormalizeImage(item.Payload, d.cfg.MaxImageBytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrTranscode, err)
		}
		if processed.Reencoded {
			item.Payload = processed.Data
			item.Filename = strings.TrimSuffix(item.Filename, path.Ext(item.Filename)) + ".jpg"
		}
		item.Width = processed.Width
		item.Height = processed.Height
	}

	if src.Kind == domain.MediaKindVideo && src.ThumbnailURL != "" {
		if thumb, _, err := d.get(ctx, src.ThumbnailURL); err == nil {
			item.Thumbnail = thumb
		}
	}

	return item, nil
}

func (d *Downloader) get(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	provider.BrowserHeaders(req, d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: status %d", domain.ErrNetwork, resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = strings.ToLower(mt)
	}
	return payload, contentType, nil
}

// assemblePlaylist downloads every segment of a media playlist to the
// temp dir and remuxes them into one mp4 without re-encoding. A master
// playlist is first resolved to its best variant; when the variant URL
// serves actual media instead of another playlist, that payload is
// returned as-is.
func (d *Downloader) assemblePlaylist(ctx context.Context, playlistURL string, playlist []byte) ([]byte, error) {
	if d.remuxer == nil {
		return nil, fmt.Errorf("no remuxer available for playlist payload")
	}

	base, err := url.Parse(playlistURL)
	if err != nil {
		return nil, fmt.Errorf("parse playlist URL: %w", err)
	}

	if hls.IsMasterPlaylist(string(playlist)) {
		variant, err := hls.Resolve(string(playlist), base)
		if err != nil {
			return nil, fmt.Errorf("resolve master playlist: %w", err)
		}
		data, _, err := d.get(ctx, variant.URL.String())
		if err != nil {
			return nil, fmt.Errorf("fetch variant playlist: %w", err)
		}
		if !hls.IsManifest(data) {
			return data, nil
		}
		base = variant.URL
		playlist = data
	}

	segments := hls.Segments(string(playlist), base)
	if len(segments) == 0 {
		return nil, fmt.Errorf("playlist has no segments")
	}

	workDir := filepath.Join(d.cfg.TempPath, uuid.NewString())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	files := make([]string, 0, len(segments))
	for i, seg := range segments {
		data, _, err := d.get(ctx, seg.String())
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		segPath := filepath.Join(workDir, fmt.Sprintf("seg%05d.ts", i))
		if err := os.WriteFile(segPath, data, 0o644); err != nil {
			return nil, fmt.Errorf("write segment %d: %w", i, err)
		}
		files = append(files, segPath)
	}

	outPath := filepath.Join(workDir, "out.mp4")
	if err := d.remuxer.ConcatRemux(ctx, files, outPath); err != nil {
		return nil, fmt.Errorf("remux: %w", err)
	}

	return os.ReadFile(outPath)
}

// filenameFor derives a stable filename from the URL path, falling back
// to the content type's extension.
func filenameFor(rawURL, contentType string) string {
	name := ""
	if u, err := url.Parse(rawURL); err == nil {
		name = path.Base(u.Path)
	}
	if name == "" || name == "." || name == "/" {
		name = "media"
	}
	if path.Ext(name) == "" {
		switch {
		case strings.HasPrefix(contentType, "image/"):
			name += "." + strings.TrimPrefix(contentType, "image/")
		case strings.HasPrefix(contentType, "video/"):
			name += ".mp4"
		}
	}
	return name
}
