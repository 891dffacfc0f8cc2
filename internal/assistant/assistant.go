package assistant

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

const (
	RoleUser = "user"
	RoleBot  = "bot"

	TextBlocked     = "Sorry, I can't help with illegal or harmful requests."
	TextServerError = "Sorry, the assistant server has a problem. Please try again later."
	TextUnreachable = "Sorry, I could not reach the assistant service."
)

type Completer interface {
	Complete(ctx context.Context, message string, history []Turn) (string, error)
}

// Assistant answers free text on behalf of a chat.
type Assistant struct {
	client  Completer
	history *History
	blocked []string
	logger  *slog.Logger
}

func New(client Completer, history *History, blocked []string, logger *slog.Logger) *Assistant {
	kw := make([]string, 0, len(blocked))
	for _, b := range blocked {
		if b = strings.ToLower(strings.TrimSpace(b)); b != "" {
			kw = append(kw, b)
		}
	}
	return &Assistant{
		client:  client,
		history: history,
		blocked: kw,
		logger:  logger.With("component", "assistant"),
	}
}

// Blocked reports whether text contains a configured keyword.
func (a *Assistant) Blocked(text string) bool {
	lower := strings.ToLower(text)
	for _, k := range a.blocked {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Answer always returns something to show the user. Failed calls are not
// recorded in the history.
func (a *Assistant) Answer(ctx context.Context, chatID int64, text string) string {
	text = strings.TrimSpace(text)
	if a.Blocked(text) {
		a.logger.Info("message_blocked", "chat_id", chatID)
		return TextBlocked
	}

	reply, err := a.client.Complete(ctx, text, a.history.Get(chatID))
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			a.logger.Error("chat_endpoint_status", "chat_id", chatID, "status", se.Code, "body", se.Body)
			return TextServerError
		}
		a.logger.Error("chat_endpoint_failed", "chat_id", chatID, "error", err)
		return TextUnreachable
	}
	if reply == "" {
		reply = "…"
	}
	a.history.Append(chatID, Turn{Role: RoleUser, Content: text}, Turn{Role: RoleBot, Content: reply})
	return reply
}
