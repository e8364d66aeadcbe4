package invidious

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vportnov/linkpost/internal/domain"
)

const videoJSON = `{
	"title": "a talk",
	"author": "Jane",
	"authorId": "UCjane",
	"lengthSeconds": 61,
	"formatStreams": [
		{"url": "https://inv.example/v/low.mp4", "type": "video/mp4", "size": "640x360"},
		{"url": "https://inv.example/v/high.mp4", "type": "video/mp4", "size": "1280x720"}
	],
	"videoThumbnails": [
		{"quality": "medium", "url": "https://inv.example/t/m.jpg", "width": 320, "height": 180},
		{"quality": "maxres", "url": "https://inv.example/t/max.jpg", "width": 1280, "height": 720}
	]
}`

// challengePage carries the flat descriptor shape with a zero
// difficulty so solving costs no wall time.
func challengePage(passURL string) string {
	return fmt.Sprintf(`<html><head><title>Making sure you're not a bot!</title>
<script id="anubis_challenge" type="application/json">{"algorithm":"metarefresh","difficulty":0,"id":"ch-1","randomData":"rnd","passUrl":%q}</script>
</head><body></body></html>`, passURL)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAdapter(mirrors ...string) *Invidious {
	return New(nil, "test-agent", mirrors, time.Second, testLogger())
}

func TestFetch_PicksLargestFormatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/videos/dQw4w9WgXcQ" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		fmt.Fprint(w, videoJSON)
	}))
	defer srv.Close()

	iv := newAdapter(srv.URL)
	post, err := iv.Fetch(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}

	if post.AuthorName != "Jane" || post.Text != "a talk" {
		t.Errorf("author/title = %q %q", post.AuthorName, post.Text)
	}
	if post.ContentID != "youtube:dQw4w9WgXcQ" {
		t.Errorf("content id = %q", post.ContentID)
	}
	if post.URL != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
		t.Errorf("canonical URL = %q", post.URL)
	}
	if len(post.Sources) != 1 {
		t.Fatalf("sources = %d, want 1", len(post.Sources))
	}
	src := post.Sources[0]
	if src.URL != "https://inv.example/v/high.mp4" {
		t.Errorf("URL = %q, want the 1280x720 stream", src.URL)
	}
	if src.ThumbnailURL != "https://inv.example/t/max.jpg" {
		t.Errorf("thumbnail = %q", src.ThumbnailURL)
	}
	if src.Duration != 61*time.Second {
		t.Errorf("duration = %v", src.Duration)
	}
}

func TestFetch_ShortAndShortsURLs(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		fmt.Fprint(w, videoJSON)
	}))
	defer srv.Close()

	iv := newAdapter(srv.URL)
	for _, u := range []string{
		"https://youtu.be/dQw4w9WgXcQ",
		"https://www.youtube.com/shorts/dQw4w9WgXcQ",
		"https://m.youtube.com/watch?feature=shared&v=dQw4w9WgXcQ",
	} {
		if _, err := iv.Fetch(context.Background(), u); err != nil {
			t.Fatalf("Fetch(%q) error: %v", u, err)
		}
	}
	for i, p := range paths {
		if p != "/api/v1/videos/dQw4w9WgXcQ" {
			t.Errorf("request %d path = %q", i, p)
		}
	}
}

func TestFetch_SolvesChallengeThenRetries(t *testing.T) {
	cleared := false
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/api/v1/videos/dQw4w9WgXcQ", func(w http.ResponseWriter, r *http.Request) {
		if !cleared {
			fmt.Fprint(w, challengePage(srv.URL+"/pass"))
			return
		}
		fmt.Fprint(w, videoJSON)
	})
	mux.HandleFunc("/pass", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("challenge"); got != "rnd" {
			t.Errorf("pass challenge param = %q, want rnd", got)
		}
		cleared = true
		fmt.Fprint(w, "<html><body>ok</body></html>")
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	iv := newAdapter(srv.URL)
	post, err := iv.Fetch(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if post.ContentID != "youtube:dQw4w9WgXcQ" {
		t.Errorf("content id = %q", post.ContentID)
	}
}

func TestFetch_FallsBackToNextMirror(t *testing.T) {
	// First mirror stays blocked no matter what; second serves.
	blocked := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, challengePage("/pass"))
	}))
	defer blocked.Close()
	open := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, videoJSON)
	}))
	defer open.Close()

	iv := newAdapter(blocked.URL, open.URL)
	post, err := iv.Fetch(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if len(post.Sources) != 1 {
		t.Errorf("sources = %d", len(post.Sources))
	}
}

func TestFetch_AllMirrorsBlocked(t *testing.T) {
	blocked := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, challengePage("/pass"))
	}))
	defer blocked.Close()

	iv := newAdapter(blocked.URL, blocked.URL)
	_, err := iv.Fetch(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	if !errors.Is(err, domain.ErrBlocked) {
		t.Errorf("Fetch() error = %v, want ErrBlocked", err)
	}
}

func TestFetch_NotFoundSkipsRemainingMirrors(t *testing.T) {
	calls := 0
	gone := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer gone.Close()

	iv := newAdapter(gone.URL, gone.URL, gone.URL)
	_, err := iv.Fetch(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Fetch() error = %v, want ErrNotFound", err)
	}
	if calls != 1 {
		t.Errorf("mirror calls = %d, a missing video should not burn the other mirrors", calls)
	}
}

func TestFetch_HLSFallbackRewritesProgressive(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/api/v1/videos/dQw4w9WgXcQ", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"title": "live", "author": "Jane", "authorId": "UCjane", "lengthSeconds": 0, "hlsUrl": %q}`, srv.URL+"/hls/master.m3u8")
	})
	mux.HandleFunc("/hls/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n"+
			"#EXT-X-STREAM-INF:BANDWIDTH=500000,RESOLUTION=640x360\n"+
			"360/index.m3u8\n"+
			"#EXT-X-STREAM-INF:BANDWIDTH=2000000,RESOLUTION=1280x720\n"+
			"720/index.m3u8\n")
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	iv := newAdapter(srv.URL)
	post, err := iv.Fetch(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if got := post.Sources[0].URL; got != srv.URL+"/hls/720/index.mp4" {
		t.Errorf("URL = %q, want top-bandwidth variant rewritten to .mp4", got)
	}
}

func TestFetch_NoMirrors(t *testing.T) {
	iv := newAdapter()
	_, err := iv.Fetch(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	if !errors.Is(err, domain.ErrBlocked) {
		t.Errorf("Fetch() error = %v, want ErrBlocked when no mirror answered", err)
	}
}

func TestPatternMatches(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", true},
		{"https://youtu.be/dQw4w9WgXcQ", true},
		{"https://www.youtube.com/shorts/dQw4w9WgXcQ", true},
		{"https://m.youtube.com/watch?v=dQw4w9WgXcQ", true},
		{"//youtube.com/watch?v=dQw4w9WgXcQ", true},
		{"https://example.com/watch?v=dQw4w9WgXcQ", false},
	}

	iv := newAdapter()
	for _, tt := range tests {
		if got := iv.Pattern().MatchString(tt.url); got != tt.want {
			t.Errorf("Pattern().MatchString(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
