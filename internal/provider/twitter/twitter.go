// Package twitter fetches posts through the public syndication API.
package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/vportnov/linkpost/internal/domain"
	"github.com/vportnov/linkpost/internal/hls"
	"github.com/vportnov/linkpost/internal/provider"
)

const syndicationURL = "https://cdn.syndication.twimg.com/tweet-result"

var (
	linkPattern = regexp.MustCompile(`(?:https?:)?//(?:www\.|mobile\.)?(?:twitter\.com|x\.com)/[A-Za-z0-9_]+/status/\d+[^\s]*`)
	statusIDRe  = regexp.MustCompile(`(?:twitter\.com|x\.com)/([A-Za-z0-9_]+)/status/(\d+)`)
)

// Twitter is the syndication-API adapter.
type Twitter struct {
	client    *http.Client
	userAgent string
	endpoint  string
}

// New creates the adapter.
func New(client *http.Client, userAgent string) *Twitter {
	if client == nil {
		client = provider.NewHTTPClient(30 * time.Second)
	}
	if userAgent == "" {
		userAgent = provider.DefaultUserAgent
	}
	return &Twitter{client: client, userAgent: userAgent, endpoint: syndicationURL}
}

func (t *Twitter) Name() string            { return "twitter" }
func (t *Twitter) Website() string         { return "Twitter" }
func (t *Twitter) Pattern() *regexp.Regexp { return linkPattern }

// Fetch retrieves a tweet by status ID via the syndication endpoint.
func (t *Twitter) Fetch(ctx context.Context, rawURL string) (*domain.Post, error) {
	m := statusIDRe.FindStringSubmatch(rawURL)
	if m == nil {
		return nil, domain.NewFetchError(t.Name(), rawURL, domain.ErrNotFound)
	}
	screenName, tweetID := m[1], m[2]

	params := url.Values{}
	params.Set("id", tweetID)
	// Required by the endpoint; the value is not validated.
	params.Set("token", "x")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, domain.NewFetchError(t.Name(), rawURL, fmt.Errorf("%w: %v", domain.ErrNetwork, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.NewFetchError(t.Name(), rawURL, domain.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewFetchError(t.Name(), rawURL, fmt.Errorf("%w: status %d", domain.ErrNetwork, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, domain.NewFetchError(t.Name(), rawURL, fmt.Errorf("%w: %v", domain.ErrNetwork, err))
	}
	// An empty body or a tombstone means the tweet is gone or protected.
	if len(body) == 0 {
		return nil, domain.NewFetchError(t.Name(), rawURL, domain.ErrNotFound)
	}

	var tw tweetResult
	if err := json.Unmarshal(body, &tw); err != nil {
		return nil, domain.NewFetchError(t.Name(), rawURL, fmt.Errorf("decode response: %v", err))
	}
	if tw.Tombstone != nil || (tw.IDStr == "" && len(tw.Photos) == 0 && tw.Video.Poster == "") {
		return nil, domain.NewFetchError(t.Name(), rawURL, domain.ErrNotFound)
	}

	post := &domain.Post{
		AuthorName:   tw.User.Name,
		AuthorHandle: "@" + tw.User.ScreenName,
		Text:         tw.Text,
		URL:          canonicalURL(tw.User.ScreenName, screenName, tweetID),
		Website:      t.Website(),
		ContentID:    "twitter:" + tweetID,
		Sources:      t.mediaSources(ctx, &tw),
	}

	if len(post.Sources) == 0 {
		return nil, domain.NewFetchError(t.Name(), rawURL, domain.ErrNotFound)
	}
	return post, nil
}

func canonicalURL(echoedName, urlName, tweetID string) string {
	name := echoedName
	if name == "" {
		name = urlName
	}
	return fmt.Sprintf("https://twitter.com/%s/status/%s", name, tweetID)
}

// tweetResult is the syndication API response shape.
type tweetResult struct {
	IDStr string `json:"id_str"`
	Text  string `json:"text"`
	User  struct {
		Name       string `json:"name"`
		ScreenName string `json:"screen_name"`
	} `json:"user"`
	Photos []struct {
		URL    string `json:"url"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	} `json:"photos"`
	Video struct {
		Poster     string `json:"poster"`
		DurationMs int    `json:"durationMs"`
		Variants   []struct {
			Type string `json:"type"`
			Src  string `json:"src"`
		} `json:"variants"`
	} `json:"video"`
	MediaDetails []struct {
		Type          string `json:"type"`
		MediaURLHTTPS string `json:"media_url_https"`
		VideoInfo     struct {
			DurationMillis int `json:"duration_millis"`
			Variants       []struct {
				Bitrate     int    `json:"bitrate"`
				ContentType string `json:"content_type"`
				URL         string `json:"url"`
			} `json:"variants"`
		} `json:"video_info"`
	} `json:"mediaDetails"`
	Tombstone *struct{} `json:"tombstone"`
}

// mediaSources collects photos and the best video rendition. Among
// video variants the highest-bitrate progressive mp4 wins; the HLS
// resolver is consulted only when no progressive variant exists.
func (t *Twitter) mediaSources(ctx context.Context, tw *tweetResult) []domain.MediaSource {
	var sources []domain.MediaSource
	seen := make(map[string]bool)

	for _, p := range tw.Photos {
		if p.URL == "" || seen[p.URL] {
			continue
		}
		seen[p.URL] = true
		sources = append(sources, domain.MediaSource{
			Kind:   domain.MediaKindPhoto,
			URL:    p.URL,
			Width:  p.Width,
			Height: p.Height,
		})
	}

	type candidate struct {
		url     string
		bitrate int
	}
	var candidates []candidate
	var playlistURL string

	for _, v := range tw.Video.Variants {
		switch {
		case v.Type == "video/mp4" || strings.Contains(v.Src, ".mp4"):
			candidates = append(candidates, candidate{url: v.Src, bitrate: bitrateFromURL(v.Src)})
		case v.Type == "application/x-mpegURL" || strings.Contains(v.Src, ".m3u8"):
			playlistURL = v.Src
		}
	}
	for _, md := range tw.MediaDetails {
		if md.Type != "video" && md.Type != "animated_gif" {
			continue
		}
		for _, v := range md.VideoInfo.Variants {
			switch v.ContentType {
			case "video/mp4":
				candidates = append(candidates, candidate{url: v.URL, bitrate: v.Bitrate})
			case "application/x-mpegURL":
				playlistURL = v.URL
			}
		}
	}

	duration := time.Duration(tw.Video.DurationMs) * time.Millisecond

	if len(candidates) > 0 {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].bitrate > candidates[j].bitrate
		})
		best := candidates[0]
		if !seen[best.url] {
			seen[best.url] = true
			sources = append(sources, domain.MediaSource{
				Kind:         domain.MediaKindVideo,
				URL:          best.url,
				ThumbnailURL: tw.Video.Poster,
				Duration:     duration,
			})
		}
		return sources
	}

	if playlistURL != "" {
		if resolved, err := t.resolvePlaylist(ctx, playlistURL); err == nil {
			sources = append(sources, domain.MediaSource{
				Kind:         domain.MediaKindVideo,
				URL:          resolved,
				ThumbnailURL: tw.Video.Poster,
				Duration:     duration,
			})
		}
	}

	return sources
}

func (t *Twitter) resolvePlaylist(ctx context.Context, playlistURL string) (string, error) {
	u, err := url.Parse(playlistURL)
	if err != nil {
		return "", fmt.Errorf("parse playlist URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, playlistURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.New("playlist fetch failed")
	}

	manifest, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	variant, err := hls.Resolve(string(manifest), u)
	if err != nil {
		return "", err
	}
	return variant.URL.String(), nil
}

var bitrateRe = regexp.MustCompile(`/(\d+)x(\d+)/`)

// bitrateFromURL infers a sort key from the WxH path segment twitter
// embeds in variant URLs when no explicit bitrate is given.
func bitrateFromURL(src string) int {
	m := bitrateRe.FindStringSubmatch(src)
	if m == nil {
		return 0
	}
	var w, h int
	fmt.Sscanf(m[1], "%d", &w)
	fmt.Sscanf(m[2], "%d", &h)
	return w * h
}
