package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/awwantil/relaybot/internal/choice"
	"github.com/awwantil/relaybot/internal/classifier"
	"github.com/awwantil/relaybot/internal/metrics"
)

const (
	callbackAbout = "about"

	TextDenied      = "⛔ Sorry, you are not allowed to use this bot."
	TextRateLimited = "⏱ Too many downloads in a short time. Please wait a minute and try again."
	TextExpired     = "⌛ This button has expired. Please send the link again."
	TextGuidance    = "Send me a link to a video (YouTube, TikTok, Instagram, X and many more) and I'll fetch it for you."
	TextChoose      = "What should I download?"
	TextAbout       = "Relay bot: downloads videos and audio from links you send and uploads them here.\nMedia extraction by yt-dlp."
	TextBusy        = "The bot is shutting down, please try again later."
)

// request is one inbound text message and the link found in it, if any.
type request struct {
	chatID      int64
	messageID   int
	rawText     string
	detectedURL string
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if !b.allowed(msg.From) {
		b.deny(chatID, msg.From)
		return
	}
	switch msg.Command() {
	case "start":
		var name string
		if msg.From != nil {
			name = msg.From.FirstName
			if name == "" {
				name = msg.From.UserName
			}
		}
		if name == "" {
			name = "friend"
		}
		out := tgbotapi.NewMessage(chatID, fmt.Sprintf("Hello %s! 👋\n\n%s", name, b.guidance()))
		out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("ℹ️ About", callbackAbout)),
		)
		if _, err := b.out.Send(out); err != nil {
			b.logger.Warn("reply_failed", "chat_id", chatID, "error", err)
		}
	case "help":
		b.reply(chatID, "/start - start\n/help - this help\n/about - about the bot\n\n"+b.guidance())
	case "about":
		b.reply(chatID, TextAbout)
	default:
		b.reply(chatID, "Unknown command. Use /help.")
	}
}

func (b *Bot) guidance() string {
	if b.assistant != nil {
		return TextGuidance + " Anything else you write goes to the assistant."
	}
	return TextGuidance
}

func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message) {
	req := request{
		chatID:    msg.Chat.ID,
		messageID: msg.MessageID,
		rawText:   msg.Text,
	}
	if !b.allowed(msg.From) {
		b.deny(req.chatID, msg.From)
		return
	}

	if url, ok := classifier.FindURL(req.rawText); ok {
		req.detectedURL = url
		b.prompt(req)
		return
	}

	if b.assistant == nil || b.chat == nil {
		b.logger.Debug("no_url_found", "chat_id", req.chatID)
		b.reply(req.chatID, TextGuidance)
		return
	}
	b.chat.Submit(ctx, func(ctx context.Context) {
		_, _ = b.out.Request(tgbotapi.NewChatAction(req.chatID, tgbotapi.ChatTyping))
		answer := b.assistant.Answer(ctx, req.chatID, req.rawText)
		out := tgbotapi.NewMessage(req.chatID, answer)
		out.ReplyToMessageID = req.messageID
		if _, err := b.out.Send(out); err != nil {
			b.logger.Warn("reply_failed", "chat_id", req.chatID, "error", err)
		}
	}, nil)
}

func (b *Bot) prompt(req request) {
	out := tgbotapi.NewMessage(req.chatID, TextChoose)
	out.ReplyToMessageID = req.messageID
	out.ReplyMarkup = b.selector.Keyboard(req.detectedURL)
	if _, err := b.out.Send(out); err != nil {
		b.logger.Warn("prompt_failed", "chat_id", req.chatID, "error", err)
		return
	}
	b.logger.Debug("prompt_sent", "chat_id", req.chatID, "url", req.detectedURL)
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if _, err := b.out.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		b.logger.Debug("callback_ack_failed", "error", err)
	}
	if cq.Message == nil {
		return
	}
	chatID := cq.Message.Chat.ID

	switch {
	case cq.Data == callbackAbout:
		if !b.allowed(cq.From) {
			b.deny(chatID, cq.From)
			return
		}
		b.reply(chatID, TextAbout)
	case choice.IsChoice(cq.Data):
		b.handleChoice(ctx, chatID, cq)
	default:
		b.logger.Debug("unknown_callback", "chat_id", chatID, "data", cq.Data)
	}
}

// handleChoice is the only place a job is created.
func (b *Bot) handleChoice(ctx context.Context, chatID int64, cq *tgbotapi.CallbackQuery) {
	if !b.allowed(cq.From) {
		b.deny(chatID, cq.From)
		return
	}
	var userID int64
	if cq.From != nil {
		userID = cq.From.ID
	}

	mode, url, err := b.selector.Resolve(cq.Data)
	if err != nil {
		if errors.Is(err, choice.ErrExpired) {
			b.reply(chatID, TextExpired)
			return
		}
		b.logger.Warn("bad_choice", "chat_id", chatID, "data", cq.Data, "error", err)
		return
	}

	if b.limiter != nil && !b.limiter.Allow(ctx, userID) {
		metrics.DeniedTotal.WithLabelValues("rate_limit").Inc()
		b.reply(chatID, TextRateLimited)
		return
	}

	job, err := b.ws.NewJob(chatID, userID, url, mode)
	if err != nil {
		b.logger.Error("job_create_failed", "chat_id", chatID, "error", err)
		b.reply(chatID, "❌ Could not start the download, please try again.")
		return
	}
	b.logger.Info("job_submitted", "job_id", job.ID, "chat_id", chatID, "mode", string(mode))
	b.jobs.Submit(ctx, func(ctx context.Context) {
		b.relay.Process(ctx, job)
	}, func() {
		b.reply(chatID, TextBusy)
	})
}

func (b *Bot) deny(chatID int64, u *tgbotapi.User) {
	metrics.DeniedTotal.WithLabelValues("allowlist").Inc()
	var (
		id   int64
		name string
	)
	if u != nil {
		id, name = u.ID, u.UserName
	}
	b.logger.Info("access_denied", "chat_id", chatID, "user_id", id, "username", strings.TrimSpace(name))
	b.reply(chatID, TextDenied)
}
