// Package delivery uploads a fetched artifact to the requesting chat.
package delivery

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/awwantil/relaybot/internal/fetch"
	"github.com/awwantil/relaybot/internal/jobs"
	"github.com/awwantil/relaybot/internal/metrics"
)

// DefaultPreviewLimit is the largest file the Bot API accepts on the
// video preview path.
const DefaultPreviewLimit int64 = 50 * 1024 * 1024

// maxCaptionRunes is the Bot API caption limit.
const maxCaptionRunes = 1024

// Path names the transport used for an upload.
type Path string

const (
	PathVideo    Path = "video"
	PathAudio    Path = "audio"
	PathDocument Path = "document"
)

type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Deliverer struct {
	sender       Sender
	previewLimit int64
	logger       *slog.Logger
}

func New(sender Sender, previewLimit int64, logger *slog.Logger) *Deliverer {
	if previewLimit <= 0 {
		previewLimit = DefaultPreviewLimit
	}
	return &Deliverer{
		sender:       sender,
		previewLimit: previewLimit,
		logger:       logger.With("component", "delivery"),
	}
}

// ChoosePath picks the upload transport. Audio always goes out as an audio
// message; media goes out as a video up to limit and as a document above it.
func ChoosePath(mode jobs.Mode, size, limit int64) Path {
	if mode == jobs.ModeAudio {
		return PathAudio
	}
	if size <= limit {
		return PathVideo
	}
	return PathDocument
}

// Caption is the downloader title, or the file name when there is none.
func Caption(title, path string) string {
	c := strings.TrimSpace(title)
	if c == "" {
		c = filepath.Base(path)
	}
	if utf8.RuneCountInString(c) > maxCaptionRunes {
		r := []rune(c)
		c = string(r[:maxCaptionRunes-1]) + "…"
	}
	return c
}

// Deliver uploads res to chatID and reports the path it used.
func (d *Deliverer) Deliver(chatID int64, mode jobs.Mode, res *fetch.Result) (Path, error) {
	path := ChoosePath(mode, res.Size, d.previewLimit)
	caption := Caption(res.Title, res.Path)
	file := tgbotapi.FilePath(res.Path)

	var msg tgbotapi.Chattable
	switch path {
	case PathAudio:
		audio := tgbotapi.NewAudio(chatID, file)
		audio.Caption = caption
		audio.Title = strings.TrimSpace(res.Title)
		msg = audio
	case PathVideo:
		video := tgbotapi.NewVideo(chatID, file)
		video.Caption = caption
		video.SupportsStreaming = true
		msg = video
	default:
		doc := tgbotapi.NewDocument(chatID, file)
		doc.Caption = caption
		msg = doc
	}

	if _, err := d.sender.Send(msg); err != nil {
		metrics.DeliveriesTotal.WithLabelValues(string(path), "error").Inc()
		return path, fmt.Errorf("failed to send %s to chat %d: %w", path, chatID, err)
	}
	metrics.DeliveriesTotal.WithLabelValues(string(path), "ok").Inc()
	d.logger.Info("delivered", "chat_id", chatID, "path", string(path), "size", res.Size, "file", res.Path)
	return path, nil
}
