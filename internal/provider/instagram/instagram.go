// Package instagram scrapes posts from the embed page's inline JSON.
package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/vportnov/linkpost/internal/domain"
	"github.com/vportnov/linkpost/internal/provider"
)

var (
	linkPattern = regexp.MustCompile(`(?:https?:)?//(?:www\.)?instagram\.com/(?:[A-Za-z0-9_.]+/)?(?:p|reel|tv)/[A-Za-z0-9_-]+[^\s]*`)
	shortcodeRe = regexp.MustCompile(`instagram\.com/(?:[A-Za-z0-9_.]+/)?(?:p|reel|tv)/([A-Za-z0-9_-]+)`)
)

// Instagram is the embed-page scraping adapter.
type Instagram struct {
	client    *http.Client
	userAgent string
	baseURL   string
}

// New creates the adapter.
func New(client *http.Client, userAgent string) *Instagram {
	if client == nil {
		client = provider.NewHTTPClient(30 * time.Second)
	}
	if userAgent == "" {
		userAgent = provider.DefaultUserAgent
	}
	return &Instagram{client: client, userAgent: userAgent, baseURL: "https://www.instagram.com"}
}

func (ig *Instagram) Name() string            { return "instagram" }
func (ig *Instagram) Website() string         { return "Instagram" }
func (ig *Instagram) Pattern() *regexp.Regexp { return linkPattern }

// Fetch extracts the shortcode, loads the captioned embed page, and
// parses the gql blob embedded in it.
func (ig *Instagram) Fetch(ctx context.Context, rawURL string) (*domain.Post, error) {
	m := shortcodeRe.FindStringSubmatch(rawURL)
	if m == nil {
		return nil, domain.NewFetchError(ig.Name(), rawURL, domain.ErrNotFound)
	}
	shortcode := m[1]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ig.baseURL+"/p/"+shortcode+"/embed/captioned/", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	provider.BrowserHeaders(req, ig.userAgent)

	resp, err := ig.client.Do(req)
	if err != nil {
		return nil, domain.NewFetchError(ig.Name(), rawURL, fmt.Errorf("%w: %v", domain.ErrNetwork, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.NewFetchError(ig.Name(), rawURL, domain.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewFetchError(ig.Name(), rawURL, fmt.Errorf("%w: status %d", domain.ErrNetwork, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, domain.NewFetchError(ig.Name(), rawURL, fmt.Errorf("%w: %v", domain.ErrNetwork, err))
	}

	media, err := parseEmbedPage(body)
	if err != nil {
		return nil, domain.NewFetchError(ig.Name(), rawURL, domain.ErrNotFound)
	}

	post := &domain.Post{
		AuthorName:   media.Owner.FullName,
		AuthorHandle: "@" + media.Owner.Username,
		Text:         media.caption(),
		URL:          ig.baseURL + "/p/" + shortcode + "/",
		Website:      ig.Website(),
		ContentID:    "instagram:" + shortcode,
		Sources:      media.sources(),
	}
	if post.AuthorName == "" {
		post.AuthorName = media.Owner.Username
	}

	if len(post.Sources) == 0 {
		return nil, domain.NewFetchError(ig.Name(), rawURL, domain.ErrNotFound)
	}
	return post, nil
}

// shortcodeMedia is the gql shape shared by single posts and carousel
// children.
type shortcodeMedia struct {
	Typename   string `json:"__typename"`
	DisplayURL string `json:"display_url"`
	VideoURL   string `json:"video_url"`
	IsVideo    bool   `json:"is_video"`
	Dimensions struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"dimensions"`
	Owner struct {
		Username string `json:"username"`
		FullName string `json:"full_name"`
	} `json:"owner"`
	EdgeMediaToCaption struct {
		Edges []struct {
			Node struct {
				Text string `json:"text"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"edge_media_to_caption"`
	EdgeSidecarToChildren struct {
		Edges []struct {
			Node shortcodeMedia `json:"node"`
		} `json:"edges"`
	} `json:"edge_sidecar_to_children"`
}

func (m *shortcodeMedia) caption() string {
	if len(m.EdgeMediaToCaption.Edges) == 0 {
		return ""
	}
	return m.EdgeMediaToCaption.Edges[0].Node.Text
}

func (m *shortcodeMedia) sources() []domain.MediaSource {
	children := m.EdgeSidecarToChildren.Edges
	if len(children) == 0 {
		return []domain.MediaSource{m.source()}
	}
	out := make([]domain.MediaSource, 0, len(children))
	for _, edge := range children {
		out = append(out, edge.Node.source())
	}
	return out
}

func (m *shortcodeMedia) source() domain.MediaSource {
	src := domain.MediaSource{
		Kind:   domain.MediaKindPhoto,
		URL:    m.DisplayURL,
		Width:  m.Dimensions.Width,
		Height: m.Dimensions.Height,
	}
	if m.IsVideo && m.VideoURL != "" {
		src.Kind = domain.MediaKindVideo
		src.URL = m.VideoURL
		src.ThumbnailURL = m.DisplayURL
	}
	return src
}

// parseEmbedPage digs the shortcode_media object out of the page. The
// blob sits behind a "gql_data" key (sometimes JSON-escaped inside
// contextJSON); both placements are tried.
func parseEmbedPage(body []byte) (*shortcodeMedia, error) {
	page := string(body)

	if blob, ok := extractJSONObject(page, `"gql_data":`); ok {
		var data struct {
			ShortcodeMedia *shortcodeMedia `json:"shortcode_media"`
		}
		if err := json.Unmarshal([]byte(blob), &data); err == nil && data.ShortcodeMedia != nil {
			return data.ShortcodeMedia, nil
		}
	}

	if blob, ok := extractJSONString(page, `"contextJSON":`); ok {
		var contextJSON string
		if err := json.Unmarshal([]byte(blob), &contextJSON); err == nil {
			if inner, ok := extractJSONObject(contextJSON, `"gql_data":`); ok {
				var data struct {
					ShortcodeMedia *shortcodeMedia `json:"shortcode_media"`
				}
				if err := json.Unmarshal([]byte(inner), &data); err == nil && data.ShortcodeMedia != nil {
					return data.ShortcodeMedia, nil
				}
			}
		}
	}

	return nil, fmt.Errorf("no media data in embed page")
}

// extractJSONObject returns the balanced {...} object that follows
// marker.
func extractJSONObject(s, marker string) (string, bool) {
	idx := strings.Index(s, marker)
	if idx < 0 {
		return "", false
	}
	rest := s[idx+len(marker):]
	start := strings.IndexByte(rest, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(rest); i++ {
		c := rest[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return rest[start : i+1], true
			}
		}
	}
	return "", false
}

// extractJSONString returns the quoted "..." literal that follows
// marker, including its quotes.
func extractJSONString(s, marker string) (string, bool) {
	idx := strings.Index(s, marker)
	if idx < 0 {
		return "", false
	}
	rest := s[idx+len(marker):]
	start := strings.IndexByte(rest, '"')
	if start < 0 {
		return "", false
	}

	escaped := false
	for i := start + 1; i < len(rest); i++ {
		c := rest[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			return rest[start : i+1], true
		}
	}
	return "", false
}
