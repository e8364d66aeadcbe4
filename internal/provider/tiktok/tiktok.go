// Package tiktok scrapes the rehydration JSON embedded in video pages.
package tiktok

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

const rehydrationMarker = `<script id="__UNIVERSAL_DATA_FOR_REHYDRATION__" type="application/json">`

var (
	linkPattern = regexp.MustCompile(`(?:https?:)?//(?:www\.|vm\.|vt\.|m\.)?tiktok\.com/[^\s]+`)
	shortLinkRe = regexp.MustCompile(`//(?:vm|vt)\.tiktok\.com/[A-Za-z0-9]+`)
	videoIDRe   = regexp.MustCompile(`tiktok\.com/@([A-Za-z0-9_.]+)/(?:video|photo)/(\d+)`)
)

// TikTok is the page-scraping adapter. Share short-links are expanded
// with a redirect-following request before the page is fetched.
type TikTok struct {
	client    *http.Client
	userAgent string
	baseURL   string
}

// New creates the adapter.
func New(client *http.Client, userAgent string) *TikTok {
	if client == nil {
		client = provider.NewHTTPClient(30 * time.Second)
	}
	if userAgent == "" {
		userAgent = provider.DefaultUserAgent
	}
	return &TikTok{client: client, userAgent: userAgent, baseURL: "https://www.tiktok.com"}
}

func (tk *TikTok) Name() string            { return "tiktok" }
func (tk *TikTok) Website() string         { return "TikTok" }
func (tk *TikTok) Pattern() *regexp.Regexp { return linkPattern }

func (tk *TikTok) Fetch(ctx context.Context, rawURL string) (*domain.Post, error) {
	resolved := rawURL
	if shortLinkRe.MatchString(rawURL) {
		final, err := tk.resolveShortLink(ctx, rawURL)
		if err != nil {
			return nil, domain.NewFetchError(tk.Name(), rawURL, fmt.Errorf("%w: %v", domain.ErrNetwork, err))
		}
		resolved = final
	}

	m := videoIDRe.FindStringSubmatch(resolved)
	if m == nil {
		return nil, domain.NewFetchError(tk.Name(), rawURL, domain.ErrNotFound)
	}
	author, videoID := m[1], m[2]
	pageURL := tk.baseURL + "/@" + author + "/video/" + videoID

	item, err := tk.fetchItem(ctx, pageURL)
	if err != nil {
		return nil, domain.NewFetchError(tk.Name(), rawURL, err)
	}

	post := &domain.Post{
		AuthorName:   item.Author.Nickname,
		AuthorHandle: "@" + item.Author.UniqueID,
		Text:         item.Desc,
		URL:          pageURL,
		Website:      tk.Website(),
		ContentID:    "tiktok:" + videoID,
		Sources:      item.sources(),
	}
	if post.AuthorName == "" {
		post.AuthorName = item.Author.UniqueID
	}

	if len(post.Sources) == 0 {
		return nil, domain.NewFetchError(tk.Name(), rawURL, domain.ErrNotFound)
	}
	return post, nil
}

// resolveShortLink follows redirects and returns the final URL.
func (tk *TikTok) resolveShortLink(ctx context.Context, shortURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, shortURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", tk.userAgent)

	resp, err := tk.client.Do(req)
	if err != nil {
		return "", err
	}
	resp.Body.Close()

	return resp.Request.URL.String(), nil
}

func (tk *TikTok) fetchItem(ctx context.Context, pageURL string) (*itemStruct, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	provider.BrowserHeaders(req, tk.userAgent)

	resp, err := tk.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", domain.ErrNetwork, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}

	return parseRehydrationData(body)
}

// parseRehydrationData pulls the item struct out of the inline
// __UNIVERSAL_DATA_FOR_REHYDRATION__ script.
func parseRehydrationData(body []byte) (*itemStruct, error) {
	page := string(body)
	idx := strings.Index(page, rehydrationMarker)
	if idx < 0 {
		return nil, domain.ErrNotFound
	}
	rest := page[idx+len(rehydrationMarker):]
	end := strings.Index(rest, "</script>")
	if end < 0 {
		return nil, domain.ErrNotFound
	}

	var data struct {
		DefaultScope struct {
			VideoDetail struct {
				ItemInfo struct {
					ItemStruct itemStruct `json:"itemStruct"`
				} `json:"itemInfo"`
				StatusCode int `json:"statusCode"`
			} `json:"webapp.video-detail"`
		} `json:"__DEFAULT_SCOPE__"`
	}
	if err := json.Unmarshal([]byte(rest[:end]), &data); err != nil {
		return nil, fmt.Errorf("decode rehydration data: %v", err)
	}

	detail := data.DefaultScope.VideoDetail
	if detail.StatusCode != 0 {
		return nil, domain.ErrNotFound
	}
	return &detail.ItemInfo.ItemStruct, nil
}

// itemStruct is the subset of the rehydration payload the adapter reads.
type itemStruct struct {
	ID     string `json:"id"`
	Desc   string `json:"desc"`
	Author struct {
		UniqueID string `json:"uniqueId"`
		Nickname string `json:"nickname"`
	} `json:"author"`
	Video struct {
		PlayAddr string `json:"playAddr"`
		Cover    string `json:"cover"`
		Duration int    `json:"duration"`
		Width    int    `json:"width"`
		Height   int    `json:"height"`
	} `json:"video"`
	ImagePost struct {
		Images []struct {
			ImageURL struct {
				URLList []string `json:"urlList"`
			} `json:"imageURL"`
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"images"`
	} `json:"imagePost"`
}

// sources prefers the photo-mode image list; a plain video falls back
// to the progressive play address.
func (it *itemStruct) sources() []domain.MediaSource {
	if imgs := it.ImagePost.Images; len(imgs) > 0 {
		out := make([]domain.MediaSource, 0, len(imgs))
		for _, img := range imgs {
			if len(img.ImageURL.URLList) == 0 {
				continue
			}
			out = append(out, domain.MediaSource{
				Kind:   domain.MediaKindPhoto,
				URL:    img.ImageURL.URLList[0],
				Width:  img.Width,
				Height: img.Height,
			})
		}
		return out
	}

	if it.Video.PlayAddr == "" {
		return nil
	}
	return []domain.MediaSource{{
		Kind:         domain.MediaKindVideo,
		URL:          it.Video.PlayAddr,
		ThumbnailURL: it.Video.Cover,
		Duration:     time.Duration(it.Video.Duration) * time.Second,
		Width:        it.Video.Width,
		Height:       it.Video.Height,
	}}
}
