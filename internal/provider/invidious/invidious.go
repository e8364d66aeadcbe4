// Package invidious fetches youtube videos through invidious mirrors.
// Mirrors are tried in order; ones sitting behind an anti-bot
// interstitial get a solve-and-retry before the next mirror is tried.
package invidious

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/vportnov/linkpost/internal/anubis"
	"github.com/vportnov/linkpost/internal/domain"
	"github.com/vportnov/linkpost/internal/hls"
	"github.com/vportnov/linkpost/internal/provider"
)

var (
	linkPattern = regexp.MustCompile(`(?:https?:)?//(?:www\.|m\.|music\.)?(?:youtube\.com/(?:watch|shorts/|embed/)|youtu\.be/)[^\s]+`)
	videoIDRe   = regexp.MustCompile(`(?:youtube\.com/(?:watch\?(?:[^\s#]*&)?v=|shorts/|embed/)|youtu\.be/)([A-Za-z0-9_-]{11})`)
)

// Invidious is the mirror-backed youtube adapter.
type Invidious struct {
	client      *http.Client
	userAgent   string
	mirrors     []string
	solver      *anubis.Solver
	logger      *slog.Logger
	maxAttempts int
}

// New creates the adapter. The shared client gets a cookie jar when it
// has none: the clearance cookie from a solved challenge must survive
// to the retried request.
func New(client *http.Client, userAgent string, mirrors []string, solveBudget time.Duration, logger *slog.Logger) *Invidious {
	if client == nil {
		client = provider.NewHTTPClient(30 * time.Second)
	}
	if client.Jar == nil {
		jar, _ := cookiejar.New(nil)
		client.Jar = jar
	}
	if userAgent == "" {
		userAgent = provider.DefaultUserAgent
	}
	return &Invidious{
		client:      client,
		userAgent:   userAgent,
		mirrors:     mirrors,
		solver:      anubis.NewSolver(client, solveBudget, logger),
		logger:      logger,
		maxAttempts: 2,
	}
}

func (iv *Invidious) Name() string            { return "youtube" }
func (iv *Invidious) Website() string         { return "YouTube" }
func (iv *Invidious) Pattern() *regexp.Regexp { return linkPattern }

// Fetch tries each mirror in order until one serves the video. Only
// when every mirror is blocked does the whole fetch report ErrBlocked;
// a missing video short-circuits as ErrNotFound without burning the
// remaining mirrors.
func (iv *Invidious) Fetch(ctx context.Context, rawURL string) (*domain.Post, error) {
	m := videoIDRe.FindStringSubmatch(rawURL)
	if m == nil {
		return nil, domain.NewFetchError(iv.Name(), rawURL, domain.ErrNotFound)
	}
	videoID := m[1]

	var lastErr error
	for _, mirror := range iv.mirrors {
		video, err := iv.fetchFromMirror(ctx, mirror, videoID)
		if err == nil {
			return iv.buildPost(ctx, mirror, videoID, video)
		}
		if ctx.Err() != nil {
			return nil, domain.NewFetchError(iv.Name(), rawURL, ctx.Err())
		}
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewFetchError(iv.Name(), rawURL, domain.ErrNotFound)
		}
		iv.logger.Warn("mirror failed", "mirror", mirror, "video_id", videoID, "error", err)
		lastErr = err
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no mirrors configured")
	}
	return nil, domain.NewFetchError(iv.Name(), rawURL, fmt.Errorf("%w: %v", domain.ErrBlocked, lastErr))
}

// fetchFromMirror requests the video from one mirror, solving at most
// one challenge interstitial before giving up on it.
func (iv *Invidious) fetchFromMirror(ctx context.Context, mirror, videoID string) (*videoResponse, error) {
	apiURL := strings.TrimSuffix(mirror, "/") + "/api/v1/videos/" + videoID

	for attempt := 0; attempt < iv.maxAttempts; attempt++ {
		body, status, err := iv.get(ctx, apiURL)
		if err != nil {
			return nil, err
		}

		if anubis.IsChallenge(body) {
			if attempt+1 == iv.maxAttempts {
				return nil, domain.ErrChallengeUnsolved
			}
			pageURL, err := url.Parse(apiURL)
			if err != nil {
				return nil, err
			}
			ch, err := anubis.ParseChallenge(body, pageURL)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrChallengeUnsolved, err)
			}
			if err := iv.solver.Solve(ctx, ch); err != nil {
				return nil, err
			}
			continue
		}

		if status == http.StatusNotFound {
			return nil, domain.ErrNotFound
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("%w: status %d", domain.ErrNetwork, status)
		}

		var video videoResponse
		if err := json.Unmarshal(body, &video); err != nil {
			return nil, fmt.Errorf("decode video: %v", err)
		}
		if video.Error != "" {
			return nil, domain.ErrNotFound
		}
		return &video, nil
	}

	return nil, domain.ErrChallengeUnsolved
}

func (iv *Invidious) get(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	provider.BrowserHeaders(req, iv.userAgent)

	resp, err := iv.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	return body, resp.StatusCode, nil
}

// videoResponse is the /api/v1/videos shape the adapter reads.
type videoResponse struct {
	Error         string `json:"error"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	AuthorID      string `json:"authorId"`
	LengthSeconds int    `json:"lengthSeconds"`
	HLSURL        string `json:"hlsUrl"`
	FormatStreams []struct {
		URL        string `json:"url"`
		Type       string `json:"type"`
		Resolution string `json:"resolution"`
		Size       string `json:"size"`
	} `json:"formatStreams"`
	VideoThumbnails []struct {
		Quality string `json:"quality"`
		URL     string `json:"url"`
		Width   int    `json:"width"`
		Height  int    `json:"height"`
	} `json:"videoThumbnails"`
}

func (iv *Invidious) buildPost(ctx context.Context, mirror, videoID string, video *videoResponse) (*domain.Post, error) {
	src := domain.MediaSource{
		Kind:         domain.MediaKindVideo,
		Duration:     time.Duration(video.LengthSeconds) * time.Second,
		ThumbnailURL: video.bestThumbnail(),
	}

	// The highest-resolution muxed stream is preferred; live and
	// stream-only videos fall back to the HLS manifest.
	if stream := video.bestFormatStream(); stream != "" {
		src.URL = stream
	} else if video.HLSURL != "" {
		resolved, err := iv.resolveHLS(ctx, video.HLSURL)
		if err != nil {
			return nil, domain.NewFetchError(iv.Name(), videoID, err)
		}
		src.URL = resolved
	} else {
		return nil, domain.NewFetchError(iv.Name(), videoID, domain.ErrUnsupportedMedia)
	}

	return &domain.Post{
		AuthorName:   video.Author,
		AuthorHandle: video.AuthorID,
		Text:         video.Title,
		URL:          "https://www.youtube.com/watch?v=" + videoID,
		Website:      iv.Website(),
		ContentID:    "youtube:" + videoID,
		Sources:      []domain.MediaSource{src},
	}, nil
}

// bestFormatStream returns the URL of the largest muxed stream.
func (v *videoResponse) bestFormatStream() string {
	best := ""
	bestPixels := -1
	for _, s := range v.FormatStreams {
		if s.URL == "" {
			continue
		}
		var w, h int
		fmt.Sscanf(s.Size, "%dx%d", &w, &h)
		if w*h > bestPixels {
			bestPixels = w * h
			best = s.URL
		}
	}
	return best
}

func (v *videoResponse) bestThumbnail() string {
	best := ""
	bestPixels := -1
	for _, t := range v.VideoThumbnails {
		if t.URL == "" {
			continue
		}
		if t.Width*t.Height > bestPixels {
			bestPixels = t.Width * t.Height
			best = t.URL
		}
	}
	return best
}

// resolveHLS picks the top-bandwidth variant from the master playlist
// and rewrites it to its progressive counterpart.
func (iv *Invidious) resolveHLS(ctx context.Context, manifestURL string) (string, error) {
	u, err := url.Parse(manifestURL)
	if err != nil {
		return "", fmt.Errorf("parse manifest URL: %w", err)
	}

	body, status, err := iv.get(ctx, manifestURL)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("%w: manifest status %d", domain.ErrNetwork, status)
	}

	variant, err := hls.Resolve(string(body), u)
	if err != nil {
		return "", err
	}
	if progressive, ok := hls.ProgressiveURL(variant); ok {
		return progressive.String(), nil
	}
	return variant.URL.String(), nil
}
