// Package delivery sends fetched posts to a chat, choosing between a
// single captioned send and a media group.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vportnov/linkpost/internal/caption"
	"github.com/vportnov/linkpost/internal/domain"
)

// Media is one sendable unit: fresh bytes or a host file handle from a
// previous delivery. FileID wins when both are set.
type Media struct {
	Kind      domain.MediaKind
	Payload   []byte
	FileID    string
	Filename  string
	Thumbnail []byte
	Duration  time.Duration
	Width     int
	Height    int
}

// GroupItem pairs a media unit with its per-item caption.
type GroupItem struct {
	Media   Media
	Caption string
}

// LinkButton is a single-URL inline keyboard.
type LinkButton struct {
	Label string
	URL   string
}

// Sender is the host-platform transport. Implementations return the
// platform file handles of what they sent, in input order.
type Sender interface {
	SendPhoto(ctx context.Context, chatID int64, photo Media, caption string, button *LinkButton) (string, error)
	SendVideo(ctx context.Context, chatID int64, video Media, caption string, button *LinkButton) (string, error)
	SendMediaGroup(ctx context.Context, chatID int64, items []GroupItem) ([]string, error)
	SendText(ctx context.Context, chatID int64, text string) error
}

// Orchestrator maps a post onto send operations.
type Orchestrator struct {
	sender       Sender
	captionLimit int
	groupLimit   int
	logger       *slog.Logger
}

// NewOrchestrator creates an Orchestrator. Zero limits select the host
// platform's: 1024-character captions, 10-item groups.
func NewOrchestrator(sender Sender, captionLimit, groupLimit int, logger *slog.Logger) *Orchestrator {
	if captionLimit <= 0 {
		captionLimit = 1024
	}
	if groupLimit <= 0 {
		groupLimit = 10
	}
	return &Orchestrator{
		sender:       sender,
		captionLimit: captionLimit,
		groupLimit:   groupLimit,
		logger:       logger,
	}
}

// Deliver sends the post's media to chatID. cached, when non-empty,
// replaces the post's downloaded payloads with file handles. The
// returned handles are what the caller stores for the next hit.
//
// One item goes out as a captioned single send with an open-in button.
// More go out as a media group capped at the group limit; only the last
// item carries the caption, with the open-in link inlined since groups
// cannot carry keyboards.
func (o *Orchestrator) Deliver(ctx context.Context, chatID int64, post *domain.Post, cached []domain.CachedMedia) ([]domain.CachedMedia, error) {
	media := mediaFor(post, cached)
	if len(media) == 0 {
		return nil, domain.ErrUnsupportedMedia
	}

	if len(media) == 1 {
		return o.deliverSingle(ctx, chatID, post, media[0])
	}
	return o.deliverGroup(ctx, chatID, post, media)
}

func (o *Orchestrator) deliverSingle(ctx context.Context, chatID int64, post *domain.Post, m Media) ([]domain.CachedMedia, error) {
	// The button carries the link, so the caption goes out without one.
	linkless := *post
	linkless.URL = ""
	text := caption.Build(&linkless, o.captionLimit)

	var button *LinkButton
	if post.URL != "" {
		button = &LinkButton{Label: "Open in " + post.Website, URL: post.URL}
	}

	var fileID string
	var err error
	switch m.Kind {
	case domain.MediaKindVideo:
		fileID, err = o.sender.SendVideo(ctx, chatID, m, text, button)
	default:
		fileID, err = o.sender.SendPhoto(ctx, chatID, m, text, button)
	}
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", m.Kind, err)
	}

	return []domain.CachedMedia{{Kind: m.Kind, FileID: fileID}}, nil
}

func (o *Orchestrator) deliverGroup(ctx context.Context, chatID int64, post *domain.Post, media []Media) ([]domain.CachedMedia, error) {
	if len(media) > o.groupLimit {
		o.logger.Warn("media group truncated",
			"content_id", post.ContentID,
			"items", len(media),
			"limit", o.groupLimit)
		media = media[:o.groupLimit]
	}

	items := make([]GroupItem, len(media))
	for i, m := range media {
		items[i] = GroupItem{Media: m}
	}
	items[len(items)-1].Caption = caption.Build(post, o.captionLimit)

	fileIDs, err := o.sender.SendMediaGroup(ctx, chatID, items)
	if err != nil {
		return nil, fmt.Errorf("send media group: %w", err)
	}

	out := make([]domain.CachedMedia, 0, len(fileIDs))
	for i, id := range fileIDs {
		if i >= len(media) {
			break
		}
		out = append(out, domain.CachedMedia{Kind: media[i].Kind, FileID: id})
	}
	return out, nil
}

// mediaFor prefers cached handles over downloaded payloads.
func mediaFor(post *domain.Post, cached []domain.CachedMedia) []Media {
	if len(cached) > 0 {
		out := make([]Media, len(cached))
		for i, c := range cached {
			out[i] = Media{Kind: c.Kind, FileID: c.FileID}
		}
		return out
	}

	out := make([]Media, 0, len(post.Media))
	for _, item := range post.Media {
		out = append(out, Media{
			Kind:      item.Kind,
			Payload:   item.Payload,
			Filename:  item.Filename,
			Thumbnail: item.Thumbnail,
			Duration:  item.Duration,
			Width:     item.Width,
			Height:    item.Height,
		})
	}
	return out
}
