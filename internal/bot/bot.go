// Package bot owns the Telegram update loop. Handlers stay quick: downloads
// and chat-completion calls run on dispatchers, replies go through the outbox.
package bot

import (
	"context"
	"log/slog"
	"runtime/debug"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/awwantil/relaybot/internal/access"
	"github.com/awwantil/relaybot/internal/choice"
	"github.com/awwantil/relaybot/internal/jobs"
	"github.com/awwantil/relaybot/internal/metrics"
)

type Processor interface {
	Process(ctx context.Context, job *jobs.Job)
}

type Limiter interface {
	Allow(ctx context.Context, userID int64) bool
}

type Answerer interface {
	Answer(ctx context.Context, chatID int64, text string) string
}

// Deps wires a Bot. Assistant and Limiter may be nil.
type Deps struct {
	Outbox    *Outbox
	Selector  *choice.Selector
	Workspace *jobs.Workspace
	Relay     Processor
	Access    *access.AllowList
	Limiter   Limiter
	Assistant Answerer
	Jobs      *Dispatcher
	Chat      *Dispatcher
	Logger    *slog.Logger
}

type Bot struct {
	out       *Outbox
	selector  *choice.Selector
	ws        *jobs.Workspace
	relay     Processor
	access    *access.AllowList
	limiter   Limiter
	assistant Answerer
	jobs      *Dispatcher
	chat      *Dispatcher
	logger    *slog.Logger
}

func New(d Deps) *Bot {
	return &Bot{
		out:       d.Outbox,
		selector:  d.Selector,
		ws:        d.Workspace,
		relay:     d.Relay,
		access:    d.Access,
		limiter:   d.Limiter,
		assistant: d.Assistant,
		jobs:      d.Jobs,
		chat:      d.Chat,
		logger:    d.Logger.With("component", "bot"),
	}
}

// Run handles updates until ctx is done or updates is closed, then waits for
// running tasks and stops the outbox.
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	b.out.Start()
	defer b.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) shutdown() {
	b.logger.Info("waiting_for_tasks")
	b.jobs.Wait()
	if b.chat != nil {
		b.chat.Wait()
	}
	b.out.Close()
	b.logger.Info("bot_stopped")
}

// handleUpdate never lets a panic escape into the update loop.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("update_panic", "update_id", update.UpdateID, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		metrics.UpdatesTotal.WithLabelValues("callback").Inc()
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		metrics.UpdatesTotal.WithLabelValues("command").Inc()
		b.handleCommand(update.Message)
	case update.Message != nil && update.Message.Text != "":
		metrics.UpdatesTotal.WithLabelValues("text").Inc()
		b.handleText(ctx, update.Message)
	default:
		metrics.UpdatesTotal.WithLabelValues("other").Inc()
	}
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.out.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Warn("reply_failed", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) allowed(u *tgbotapi.User) bool {
	if u == nil {
		return !b.access.Enabled()
	}
	return b.access.Allowed(u.ID, u.UserName)
}
