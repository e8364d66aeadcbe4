package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/vportnov/linkpost/internal/domain"
)

// fakeSender records calls and hands back synthetic file handles.
type fakeSender struct {
	photos []Media
	videos []Media
	groups [][]GroupItem
	texts  []string

	lastCaption string
	lastButton  *LinkButton
	err         error
}

func (f *fakeSender) SendPhoto(_ context.Context, _ int64, photo Media, caption string, button *LinkButton) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.photos = append(f.photos, photo)
	f.lastCaption = caption
	f.lastButton = button
	return fmt.Sprintf("photo-fid-%d", len(f.photos)), nil
}

func (f *fakeSender) SendVideo(_ context.Context, _ int64, video Media, caption string, button *LinkButton) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.videos = append(f.videos, video)
	f.lastCaption = caption
	f.lastButton = button
	return fmt.Sprintf("video-fid-%d", len(f.videos)), nil
}

func (f *fakeSender) SendMediaGroup(_ context.Context, _ int64, items []GroupItem) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.groups = append(f.groups, items)
	ids := make([]string, len(items))
	for i := range items {
		ids[i] = fmt.Sprintf("group-fid-%d", i)
	}
	return ids, nil
}

func (f *fakeSender) SendText(_ context.Context, _ int64, text string) error {
	f.texts = append(f.texts, text)
	return f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func photoPost(n int) *domain.Post {
	p := &domain.Post{
		AuthorName:   "Jane",
		AuthorHandle: "@jane",
		Text:         "hello",
		URL:          "https://example.com/p/1",
		Website:      "Example",
		ContentID:    "example:1",
	}
	for i := 0; i < n; i++ {
		p.Media = append(p.Media, domain.MediaItem{
			Kind:     domain.MediaKindPhoto,
			Payload:  []byte{byte(i)},
			Filename: fmt.Sprintf("p%d.jpg", i),
		})
	}
	return p
}

func TestDeliver_SinglePhoto(t *testing.T) {
	sender := &fakeSender{}
	o := NewOrchestrator(sender, 1024, 10, testLogger())

	cached, err := o.Deliver(context.Background(), 42, photoPost(1), nil)
	if err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}

	if len(sender.photos) != 1 || len(sender.groups) != 0 {
		t.Fatalf("photos=%d groups=%d, want a single send", len(sender.photos), len(sender.groups))
	}
	if sender.lastButton == nil || sender.lastButton.Label != "Open in Example" {
		t.Errorf("button = %+v", sender.lastButton)
	}
	if strings.Contains(sender.lastCaption, "<a ") {
		t.Errorf("single-send caption must not inline the link: %q", sender.lastCaption)
	}
	if !strings.Contains(sender.lastCaption, "<b>Jane (@jane)</b>") {
		t.Errorf("caption = %q", sender.lastCaption)
	}
	if len(cached) != 1 || cached[0].FileID != "photo-fid-1" || cached[0].Kind != domain.MediaKindPhoto {
		t.Errorf("cached = %+v", cached)
	}
}

func TestDeliver_SingleVideo(t *testing.T) {
	sender := &fakeSender{}
	o := NewOrchestrator(sender, 1024, 10, testLogger())

	post := photoPost(0)
	post.Media = []domain.MediaItem{{Kind: domain.MediaKindVideo, Payload: []byte("v"), Filename: "v.mp4", Thumbnail: []byte("t")}}

	cached, err := o.Deliver(context.Background(), 42, post, nil)
	if err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}
	if len(sender.videos) != 1 {
		t.Fatalf("videos = %d", len(sender.videos))
	}
	if string(sender.videos[0].Thumbnail) != "t" {
		t.Error("thumbnail not forwarded")
	}
	if cached[0].Kind != domain.MediaKindVideo {
		t.Errorf("cached kind = %q", cached[0].Kind)
	}
}

func TestDeliver_GroupOnlyLastCaptioned(t *testing.T) {
	sender := &fakeSender{}
	o := NewOrchestrator(sender, 1024, 10, testLogger())

	_, err := o.Deliver(context.Background(), 42, photoPost(3), nil)
	if err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}

	if len(sender.groups) != 1 {
		t.Fatalf("groups = %d", len(sender.groups))
	}
	items := sender.groups[0]
	if len(items) != 3 {
		t.Fatalf("group size = %d", len(items))
	}
	for i := 0; i < 2; i++ {
		if items[i].Caption != "" {
			t.Errorf("item %d caption = %q, want empty", i, items[i].Caption)
		}
	}
	last := items[2].Caption
	if !strings.Contains(last, "<b>Jane (@jane)</b>") {
		t.Errorf("last caption = %q", last)
	}
	// Groups cannot carry keyboards; the link rides inside the caption.
	if !strings.Contains(last, `<a href="https://example.com/p/1">Open in Example</a>`) {
		t.Errorf("last caption missing inline link: %q", last)
	}
}

func TestDeliver_GroupCappedAtTen(t *testing.T) {
	sender := &fakeSender{}
	o := NewOrchestrator(sender, 1024, 10, testLogger())

	cached, err := o.Deliver(context.Background(), 42, photoPost(12), nil)
	if err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}
	if got := len(sender.groups[0]); got != 10 {
		t.Errorf("group size = %d, want 10", got)
	}
	if len(cached) != 10 {
		t.Errorf("cached = %d, want 10", len(cached))
	}
	// The kept items are the first ten, in order.
	if sender.groups[0][0].Media.Filename != "p0.jpg" || sender.groups[0][9].Media.Filename != "p9.jpg" {
		t.Error("truncation must keep the leading items")
	}
}

func TestDeliver_CachedHandlesSkipPayloads(t *testing.T) {
	sender := &fakeSender{}
	o := NewOrchestrator(sender, 1024, 10, testLogger())

	cached := []domain.CachedMedia{
		{Kind: domain.MediaKindPhoto, FileID: "old-1"},
		{Kind: domain.MediaKindPhoto, FileID: "old-2"},
	}
	post := photoPost(0) // nothing downloaded
	_, err := o.Deliver(context.Background(), 42, post, cached)
	if err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}

	items := sender.groups[0]
	if items[0].Media.FileID != "old-1" || items[1].Media.FileID != "old-2" {
		t.Errorf("group = %+v, want cached file ids", items)
	}
	if len(items[0].Media.Payload) != 0 {
		t.Error("cached delivery must not carry payload bytes")
	}
	// Caption is rebuilt fresh even on a cache hit.
	if !strings.Contains(items[1].Caption, "<b>Jane (@jane)</b>") {
		t.Errorf("caption = %q", items[1].Caption)
	}
}

func TestDeliver_NoMedia(t *testing.T) {
	o := NewOrchestrator(&fakeSender{}, 1024, 10, testLogger())
	_, err := o.Deliver(context.Background(), 42, photoPost(0), nil)
	if !errors.Is(err, domain.ErrUnsupportedMedia) {
		t.Errorf("Deliver() error = %v, want ErrUnsupportedMedia", err)
	}
}

func TestDeliver_SenderError(t *testing.T) {
	wantErr := errors.New("telegram: 400")
	o := NewOrchestrator(&fakeSender{err: wantErr}, 1024, 10, testLogger())
	_, err := o.Deliver(context.Background(), 42, photoPost(2), nil)
	if !errors.Is(err, wantErr) {
		t.Errorf("Deliver() error = %v, want wrapped sender error", err)
	}
}
