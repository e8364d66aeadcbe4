// Package reddit fetches posts through reddit's public JSON endpoint.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/vportnov/linkpost/internal/domain"
	"github.com/vportnov/linkpost/internal/provider"
)

var (
	linkPattern = regexp.MustCompile(`(?:https?:)?//(?:www\.|old\.|new\.|m\.)?(?:reddit\.com|redd\.it)/[^\s]+`)
	permalinkRe = regexp.MustCompile(`(/r/[A-Za-z0-9_]+/comments/[a-z0-9]+(?:/[^\s?#]*)?)`)
	shareLinkRe = regexp.MustCompile(`/r/[A-Za-z0-9_]+/s/[A-Za-z0-9]+`)
	postIDRe    = regexp.MustCompile(`/comments/([a-z0-9]+)`)
)

// Reddit is the JSON-API adapter.
type Reddit struct {
	client    *http.Client
	userAgent string
	baseURL   string
}

// New creates the adapter.
func New(client *http.Client, userAgent string) *Reddit {
	if client == nil {
		client = provider.NewHTTPClient(30 * time.Second)
	}
	if userAgent == "" {
		userAgent = provider.DefaultUserAgent
	}
	return &Reddit{client: client, userAgent: userAgent, baseURL: "https://www.reddit.com"}
}

func (r *Reddit) Name() string            { return "reddit" }
func (r *Reddit) Website() string         { return "Reddit" }
func (r *Reddit) Pattern() *regexp.Regexp { return linkPattern }

// Fetch retrieves a post. Share short-links are resolved to the full
// permalink with a redirect-following request before extraction.
func (r *Reddit) Fetch(ctx context.Context, rawURL string) (*domain.Post, error) {
	resolved := rawURL
	if shareLinkRe.MatchString(rawURL) {
		final, err := r.resolveShareLink(ctx, rawURL)
		if err != nil {
			return nil, domain.NewFetchError(r.Name(), rawURL, fmt.Errorf("%w: %v", domain.ErrNetwork, err))
		}
		resolved = final
	}

	m := permalinkRe.FindStringSubmatch(resolved)
	if m == nil {
		return nil, domain.NewFetchError(r.Name(), rawURL, domain.ErrNotFound)
	}
	permalink := m[1]

	listing, err := r.fetchListing(ctx, permalink)
	if err != nil {
		return nil, domain.NewFetchError(r.Name(), rawURL, err)
	}

	post := &domain.Post{
		AuthorName:   listing.Author,
		AuthorHandle: "u/" + listing.Author,
		Text:         listing.Title,
		URL:          r.baseURL + permalink,
		Website:      r.Website(),
		Sources:      r.mediaSources(listing),
	}
	if id := postIDRe.FindStringSubmatch(permalink); id != nil {
		post.ContentID = "reddit:" + id[1]
	}

	if len(post.Sources) == 0 {
		return nil, domain.NewFetchError(r.Name(), rawURL, domain.ErrNotFound)
	}
	return post, nil
}

// resolveShareLink follows redirects with a HEAD request and returns
// the final URL.
func (r *Reddit) resolveShareLink(ctx context.Context, shareURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, shareURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	resp.Body.Close()

	return resp.Request.URL.String(), nil
}

func (r *Reddit) fetchListing(ctx context.Context, permalink string) (*postData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+permalink+".json?raw_json=1", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
		return nil, domain.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", domain.ErrNetwork, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}

	var listings []struct {
		Data struct {
			Children []struct {
				Data postData `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &listings); err != nil {
		return nil, fmt.Errorf("decode listing: %v", err)
	}
	if len(listings) == 0 || len(listings[0].Data.Children) == 0 {
		return nil, domain.ErrNotFound
	}

	return &listings[0].Data.Children[0].Data, nil
}

// postData is the subset of a reddit post the adapter reads.
type postData struct {
	Title     string `json:"title"`
	Author    string `json:"author"`
	Permalink string `json:"permalink"`
	PostHint  string `json:"post_hint"`
	URL       string `json:"url_overridden_by_dest"`
	IsVideo   bool   `json:"is_video"`
	IsGallery bool   `json:"is_gallery"`
	Media     struct {
		RedditVideo struct {
			FallbackURL string `json:"fallback_url"`
			HLSURL      string `json:"hls_url"`
			Duration    int    `json:"duration"`
			Width       int    `json:"width"`
			Height      int    `json:"height"`
		} `json:"reddit_video"`
	} `json:"media"`
	Preview struct {
		Images []struct {
			Source struct {
				URL    string `json:"url"`
				Width  int    `json:"width"`
				Height int    `json:"height"`
			} `json:"source"`
		} `json:"images"`
	} `json:"preview"`
	GalleryData struct {
		Items []struct {
			MediaID string `json:"media_id"`
		} `json:"items"`
	} `json:"gallery_data"`
	MediaMetadata map[string]struct {
		M string `json:"m"`
		S struct {
			U string `json:"u"`
			X int    `json:"x"`
			Y int    `json:"y"`
		} `json:"s"`
	} `json:"media_metadata"`
}

func (r *Reddit) mediaSources(p *postData) []domain.MediaSource {
	// Gallery posts carry ordered item ids into media_metadata.
	if p.IsGallery {
		var sources []domain.MediaSource
		for _, item := range p.GalleryData.Items {
			meta, ok := p.MediaMetadata[item.MediaID]
			if !ok || meta.S.U == "" {
				continue
			}
			sources = append(sources, domain.MediaSource{
				Kind:   domain.MediaKindPhoto,
				URL:    html.UnescapeString(meta.S.U),
				Width:  meta.S.X,
				Height: meta.S.Y,
			})
		}
		return sources
	}

	if p.IsVideo {
		v := p.Media.RedditVideo
		src := domain.MediaSource{
			Kind:     domain.MediaKindVideo,
			Duration: time.Duration(v.Duration) * time.Second,
			Width:    v.Width,
			Height:   v.Height,
		}
		if len(p.Preview.Images) > 0 {
			src.ThumbnailURL = html.UnescapeString(p.Preview.Images[0].Source.URL)
		}
		switch {
		case v.FallbackURL != "":
			src.URL = html.UnescapeString(v.FallbackURL)
		case v.HLSURL != "":
			src.URL = html.UnescapeString(v.HLSURL)
		default:
			return nil
		}
		return []domain.MediaSource{src}
	}

	// Direct image link or preview image.
	if u := p.URL; u != "" && isImageURL(u) {
		src := domain.MediaSource{Kind: domain.MediaKindPhoto, URL: html.UnescapeString(u)}
		if len(p.Preview.Images) > 0 {
			src.Width = p.Preview.Images[0].Source.Width
			src.Height = p.Preview.Images[0].Source.Height
		}
		return []domain.MediaSource{src}
	}
	if len(p.Preview.Images) > 0 && p.Preview.Images[0].Source.URL != "" {
		img := p.Preview.Images[0].Source
		return []domain.MediaSource{{
			Kind:   domain.MediaKindPhoto,
			URL:    html.UnescapeString(img.URL),
			Width:  img.Width,
			Height: img.Height,
		}}
	}

	return nil
}

func isImageURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif", ".webp"} {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}
