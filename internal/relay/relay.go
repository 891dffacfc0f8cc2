// Package relay runs one job end to end: fetch, deliver, report and clean up.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/awwantil/relaybot/internal/delivery"
	"github.com/awwantil/relaybot/internal/fetch"
	"github.com/awwantil/relaybot/internal/jobs"
	"github.com/awwantil/relaybot/internal/metrics"
)

const (
	TextDone       = "✅ Done."
	TextRestricted = "🔒 This video needs a signed-in or age-verified account, so I can't download it. " +
		"Try another link or ask the bot owner to configure cookies."
	TextNotFound = "❌ The download finished but produced no file."
)

// Sender is the slice of the Telegram API the pipeline talks to.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, job *jobs.Job) fetch.Outcome
}

type Deliverer interface {
	Deliver(chatID int64, mode jobs.Mode, res *fetch.Result) (delivery.Path, error)
}

type Relay struct {
	fetcher   Fetcher
	deliverer Deliverer
	ws        *jobs.Workspace
	sender    Sender
	logger    *slog.Logger
}

func New(fetcher Fetcher, deliverer Deliverer, ws *jobs.Workspace, sender Sender, logger *slog.Logger) *Relay {
	return &Relay{
		fetcher:   fetcher,
		deliverer: deliverer,
		ws:        ws,
		sender:    sender,
		logger:    logger.With("component", "relay"),
	}
}

// Process runs job to completion. Every file the job left in the work dir is
// removed before Process returns or panics.
func (r *Relay) Process(ctx context.Context, job *jobs.Job) {
	start := time.Now()
	result := "panic"
	metrics.JobsInFlight.Inc()
	defer func() {
		removed := r.ws.Cleanup(job.ID)
		metrics.JobsInFlight.Dec()
		metrics.JobsTotal.WithLabelValues(string(job.Mode), result).Inc()
		metrics.JobDuration.WithLabelValues(string(job.Mode)).Observe(time.Since(start).Seconds())
		r.logger.Info("job_finished",
			"job_id", job.ID,
			"mode", string(job.Mode),
			"outcome", result,
			"removed", removed,
			"elapsed", time.Since(start).Round(time.Millisecond).String(),
		)
	}()

	result = r.run(ctx, job)
}

func (r *Relay) run(ctx context.Context, job *jobs.Job) string {
	r.logger.Info("job_started", "job_id", job.ID, "chat_id", job.ChatID, "user_id", job.UserID, "mode", string(job.Mode), "url", job.URL)
	r.reply(job.ChatID, statusText(job.Mode))
	r.chatAction(job)

	out := r.fetcher.Fetch(ctx, job)
	switch out.Status {
	case fetch.StatusSuccess:
	case fetch.StatusRestricted:
		r.reply(job.ChatID, TextRestricted)
		return out.Status.String()
	case fetch.StatusNotFound:
		r.reply(job.ChatID, TextNotFound)
		return out.Status.String()
	default:
		r.reply(job.ChatID, "❌ Download failed: "+out.Reason)
		return out.Status.String()
	}
	if out.Result == nil {
		r.reply(job.ChatID, TextNotFound)
		return fetch.StatusNotFound.String()
	}

	if _, err := r.deliverer.Deliver(job.ChatID, job.Mode, out.Result); err != nil {
		r.logger.Error("delivery_failed", "job_id", job.ID, "chat_id", job.ChatID, "error", err)
		r.reply(job.ChatID, fmt.Sprintf("❌ Could not upload the file (%s).", sizeLabel(out.Result.Size)))
		return "delivery_failed"
	}
	r.reply(job.ChatID, TextDone)
	return out.Status.String()
}

func (r *Relay) reply(chatID int64, text string) {
	if _, err := r.sender.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		r.logger.Warn("reply_failed", "chat_id", chatID, "error", err)
	}
}

func (r *Relay) chatAction(job *jobs.Job) {
	action := tgbotapi.ChatUploadVideo
	if job.Mode == jobs.ModeAudio {
		action = tgbotapi.ChatUploadVoice
	}
	if _, err := r.sender.Request(tgbotapi.NewChatAction(job.ChatID, action)); err != nil {
		r.logger.Debug("chat_action_failed", "chat_id", job.ChatID, "error", err)
	}
}

func statusText(mode jobs.Mode) string {
	if mode == jobs.ModeAudio {
		return "⏳ Downloading audio…"
	}
	return "⏳ Downloading video…"
}

func sizeLabel(size int64) string {
	const mib = 1024 * 1024
	if size >= mib {
		return fmt.Sprintf("%.1f MiB", float64(size)/mib)
	}
	return fmt.Sprintf("%d bytes", size)
}
