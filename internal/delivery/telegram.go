package delivery

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/vportnov/linkpost/internal/domain"
)

// botAPI is the slice of tgbotapi.BotAPI the sender uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	SendMediaGroup(config tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
}

// Telegram implements Sender over the bot API. Captions go out as HTML.
type Telegram struct {
	bot botAPI
}

// NewTelegram creates the sender.
func NewTelegram(bot *tgbotapi.BotAPI) *Telegram {
	return &Telegram{bot: bot}
}

func (t *Telegram) SendPhoto(ctx context.Context, chatID int64, photo Media, caption string, button *LinkButton) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	cfg := tgbotapi.NewPhoto(chatID, requestFile(photo))
	cfg.Caption = caption
	cfg.ParseMode = tgbotapi.ModeHTML
	if button != nil {
		cfg.ReplyMarkup = keyboard(button)
	}

	msg, err := t.bot.Send(cfg)
	if err != nil {
		return "", fmt.Errorf("send photo: %w", err)
	}
	return photoFileID(&msg), nil
}

func (t *Telegram) SendVideo(ctx context.Context, chatID int64, video Media, caption string, button *LinkButton) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	cfg := tgbotapi.NewVideo(chatID, requestFile(video))
	cfg.Caption = caption
	cfg.ParseMode = tgbotapi.ModeHTML
	cfg.Duration = int(video.Duration.Seconds())
	cfg.SupportsStreaming = true
	if len(video.Thumbnail) > 0 {
		cfg.Thumb = tgbotapi.FileBytes{Name: "thumb.jpg", Bytes: video.Thumbnail}
	}
	if button != nil {
		cfg.ReplyMarkup = keyboard(button)
	}

	msg, err := t.bot.Send(cfg)
	if err != nil {
		return "", fmt.Errorf("send video: %w", err)
	}
	if msg.Video != nil {
		return msg.Video.FileID, nil
	}
	return "", nil
}

func (t *Telegram) SendMediaGroup(ctx context.Context, chatID int64, items []GroupItem) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	media := make([]interface{}, 0, len(items))
	for _, item := range items {
		media = append(media, inputMedia(item))
	}

	msgs, err := t.bot.SendMediaGroup(tgbotapi.NewMediaGroup(chatID, media))
	if err != nil {
		return nil, fmt.Errorf("send media group: %w", err)
	}

	fileIDs := make([]string, 0, len(msgs))
	for i := range msgs {
		switch {
		case msgs[i].Video != nil:
			fileIDs = append(fileIDs, msgs[i].Video.FileID)
		default:
			fileIDs = append(fileIDs, photoFileID(&msgs[i]))
		}
	}
	return fileIDs, nil
}

func (t *Telegram) SendText(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

func inputMedia(item GroupItem) interface{} {
	file := requestFile(item.Media)
	if item.Media.Kind == domain.MediaKindVideo {
		v := tgbotapi.NewInputMediaVideo(file)
		v.Caption = item.Caption
		v.ParseMode = tgbotapi.ModeHTML
		v.SupportsStreaming = true
		return v
	}
	p := tgbotapi.NewInputMediaPhoto(file)
	p.Caption = item.Caption
	p.ParseMode = tgbotapi.ModeHTML
	return p
}

// requestFile prefers a cached handle over raw bytes.
func requestFile(m Media) tgbotapi.RequestFileData {
	if m.FileID != "" {
		return tgbotapi.FileID(m.FileID)
	}
	name := m.Filename
	if name == "" {
		name = "media"
	}
	return tgbotapi.FileBytes{Name: name, Bytes: m.Payload}
}

func keyboard(button *LinkButton) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(button.Label, button.URL),
		),
	)
}

// photoFileID returns the handle of the largest rendition the host
// generated.
func photoFileID(msg *tgbotapi.Message) string {
	best := ""
	bestPixels := -1
	for _, p := range msg.Photo {
		if p.Width*p.Height > bestPixels {
			bestPixels = p.Width * p.Height
			best = p.FileID
		}
	}
	return best
}
