package instagram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vportnov/linkpost/internal/domain"
)

func embedPage(gqlData string) string {
	return fmt.Sprintf(`<!DOCTYPE html><html><body>
<script>window.__data = {"gql_data":%s,"other":1};</script>
</body></html>`, gqlData)
}

const singlePhoto = `{"shortcode_media": {
	"__typename": "GraphImage",
	"display_url": "https://scontent.cdninstagram.com/one.jpg",
	"dimensions": {"width": 1080, "height": 1350},
	"owner": {"username": "jane", "full_name": "Jane Doe"},
	"edge_media_to_caption": {"edges": [{"node": {"text": "golden hour"}}]}
}}`

const singleVideo = `{"shortcode_media": {
	"__typename": "GraphVideo",
	"is_video": true,
	"display_url": "https://scontent.cdninstagram.com/poster.jpg",
	"video_url": "https://scontent.cdninstagram.com/clip.mp4",
	"dimensions": {"width": 720, "height": 1280},
	"owner": {"username": "jane", "full_name": "Jane Doe"},
	"edge_media_to_caption": {"edges": []}
}}`

const carousel = `{"shortcode_media": {
	"__typename": "GraphSidecar",
	"display_url": "https://scontent.cdninstagram.com/first.jpg",
	"owner": {"username": "jane", "full_name": ""},
	"edge_media_to_caption": {"edges": [{"node": {"text": "trip"}}]},
	"edge_sidecar_to_children": {"edges": [
		{"node": {"__typename": "GraphImage", "display_url": "https://scontent.cdninstagram.com/first.jpg", "dimensions": {"width": 1080, "height": 1080}}},
		{"node": {"__typename": "GraphVideo", "is_video": true, "display_url": "https://scontent.cdninstagram.com/second-poster.jpg", "video_url": "https://scontent.cdninstagram.com/second.mp4"}},
		{"node": {"__typename": "GraphImage", "display_url": "https://scontent.cdninstagram.com/third.jpg"}}
	]}
}}`

func newTestAdapter(handler http.Handler) (*Instagram, *httptest.Server) {
	srv := httptest.NewServer(handler)
	ig := New(srv.Client(), "test-agent")
	ig.baseURL = srv.URL
	return ig, srv
}

func TestFetch_SinglePhoto(t *testing.T) {
	ig, srv := newTestAdapter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/p/Cabc123/embed/captioned/" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		fmt.Fprint(w, embedPage(singlePhoto))
	}))
	defer srv.Close()

	post, err := ig.Fetch(context.Background(), "https://www.instagram.com/p/Cabc123/")
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}

	if post.AuthorName != "Jane Doe" || post.AuthorHandle != "@jane" {
		t.Errorf("author = %s %s", post.AuthorName, post.AuthorHandle)
	}
	if post.Text != "golden hour" {
		t.Errorf("text = %q", post.Text)
	}
	if post.ContentID != "instagram:Cabc123" {
		t.Errorf("content id = %q", post.ContentID)
	}
	if len(post.Sources) != 1 {
		t.Fatalf("sources = %d, want 1", len(post.Sources))
	}
	src := post.Sources[0]
	if src.Kind != domain.MediaKindPhoto || src.URL != "https://scontent.cdninstagram.com/one.jpg" {
		t.Errorf("source = %+v", src)
	}
	if src.Width != 1080 || src.Height != 1350 {
		t.Errorf("dimensions = %dx%d", src.Width, src.Height)
	}
}

func TestFetch_SingleVideo(t *testing.T) {
	ig, srv := newTestAdapter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, embedPage(singleVideo))
	}))
	defer srv.Close()

	post, err := ig.Fetch(context.Background(), "https://instagram.com/reel/Cdef456/")
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}

	if len(post.Sources) != 1 {
		t.Fatalf("sources = %d, want 1", len(post.Sources))
	}
	src := post.Sources[0]
	if src.Kind != domain.MediaKindVideo {
		t.Errorf("kind = %q", src.Kind)
	}
	if src.URL != "https://scontent.cdninstagram.com/clip.mp4" {
		t.Errorf("URL = %q", src.URL)
	}
	if src.ThumbnailURL != "https://scontent.cdninstagram.com/poster.jpg" {
		t.Errorf("thumbnail = %q", src.ThumbnailURL)
	}
	// No caption edge means empty text, not an error.
	if post.Text != "" {
		t.Errorf("text = %q, want empty", post.Text)
	}
}

func TestFetch_CarouselOrdered(t *testing.T) {
	ig, srv := newTestAdapter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, embedPage(carousel))
	}))
	defer srv.Close()

	post, err := ig.Fetch(context.Background(), "https://www.instagram.com/p/Cghi789/")
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}

	if len(post.Sources) != 3 {
		t.Fatalf("sources = %d, want 3", len(post.Sources))
	}
	wantKinds := []domain.MediaKind{domain.MediaKindPhoto, domain.MediaKindVideo, domain.MediaKindPhoto}
	wantURLs := []string{
		"https://scontent.cdninstagram.com/first.jpg",
		"https://scontent.cdninstagram.com/second.mp4",
		"https://scontent.cdninstagram.com/third.jpg",
	}
	for i := range post.Sources {
		if post.Sources[i].Kind != wantKinds[i] {
			t.Errorf("source[%d] kind = %q, want %q", i, post.Sources[i].Kind, wantKinds[i])
		}
		if post.Sources[i].URL != wantURLs[i] {
			t.Errorf("source[%d] URL = %q, want %q", i, post.Sources[i].URL, wantURLs[i])
		}
	}
	// Owner has no full name; the username stands in.
	if post.AuthorName != "jane" {
		t.Errorf("author name = %q", post.AuthorName)
	}
}

func TestFetch_ContextJSONFallback(t *testing.T) {
	// Some embed pages carry the blob JSON-escaped inside contextJSON.
	page := `<html><script>{"contextJSON":"{\"gql_data\":{\"shortcode_media\":{\"__typename\":\"GraphImage\",\"display_url\":\"https://scontent.cdninstagram.com/esc.jpg\",\"owner\":{\"username\":\"jane\"}}}}"}</script></html>`
	ig, srv := newTestAdapter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	post, err := ig.Fetch(context.Background(), "https://www.instagram.com/p/Cesc000/")
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if len(post.Sources) != 1 || post.Sources[0].URL != "https://scontent.cdninstagram.com/esc.jpg" {
		t.Errorf("sources = %+v", post.Sources)
	}
}

func TestFetch_LoginWall(t *testing.T) {
	ig, srv := newTestAdapter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>Log in to see photos and videos</body></html>`)
	}))
	defer srv.Close()

	_, err := ig.Fetch(context.Background(), "https://www.instagram.com/p/Cwall00/")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Fetch() error = %v, want ErrNotFound when embed page has no data", err)
	}
}

func TestFetch_Gone(t *testing.T) {
	ig, srv := newTestAdapter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := ig.Fetch(context.Background(), "https://www.instagram.com/p/Cgone00/")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Fetch() error = %v, want ErrNotFound", err)
	}
}

func TestPatternMatches(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.instagram.com/p/Cabc123/", true},
		{"https://instagram.com/reel/Cdef456/", true},
		{"https://www.instagram.com/tv/Cghi789/", true},
		{"https://www.instagram.com/jane/p/Cabc123/", true},
		{"//instagram.com/p/Cabc123/", true},
		{"https://www.instagram.com/jane/", false},
		{"https://example.com/p/Cabc123/", false},
	}

	ig := New(nil, "")
	for _, tt := range tests {
		if got := ig.Pattern().MatchString(tt.url); got != tt.want {
			t.Errorf("Pattern().MatchString(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestExtractJSONObject(t *testing.T) {
	s := `prefix "gql_data":{"a":{"b":"}"},"c":1} suffix`
	got, ok := extractJSONObject(s, `"gql_data":`)
	if !ok {
		t.Fatal("extractJSONObject() not found")
	}
	if got != `{"a":{"b":"}"},"c":1}` {
		t.Errorf("extractJSONObject() = %q", got)
	}

	if _, ok := extractJSONObject("no marker here", `"gql_data":`); ok {
		t.Error("extractJSONObject() matched missing marker")
	}
}
