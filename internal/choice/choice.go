// Package choice builds the media/audio prompt shown for a detected link and
// decodes the button the user pressed.
package choice

import (
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/awwantil/relaybot/internal/jobs"
)

const (
	Separator = "|"

	// MaxCallbackData is the Telegram limit for inline button payloads, in bytes.
	MaxCallbackData = 64

	refPrefix = "ref:"

	mediaLabel = "🎬 Video"
	audioLabel = "🎵 Audio (MP3)"
)

var (
	ErrMalformed = errors.New("malformed choice token")
	ErrExpired   = errors.New("choice expired")
)

// Encode joins mode and url as "<mode>|<url>".
func Encode(mode jobs.Mode, url string) string {
	return string(mode) + Separator + url
}

// Decode splits token on the first separator only, so the url may contain
// separators of its own.
func Decode(token string) (jobs.Mode, string, error) {
	modeStr, rest, ok := strings.Cut(token, Separator)
	if !ok {
		return "", "", ErrMalformed
	}
	mode, err := jobs.ParseMode(modeStr)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(rest) == "" {
		return "", "", fmt.Errorf("%w: empty url", ErrMalformed)
	}
	return mode, rest, nil
}

// Selector renders prompts and resolves pressed buttons. Links too long for
// a callback payload are parked in refs and referenced by id.
type Selector struct {
	refs *RefStore
}

func NewSelector(refs *RefStore) *Selector {
	return &Selector{refs: refs}
}

// Keyboard returns the two-button prompt for url.
func (s *Selector) Keyboard(url string) tgbotapi.InlineKeyboardMarkup {
	payload := url
	if s.needsRef(url) {
		payload = refPrefix + s.refs.Put(url)
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(mediaLabel, Encode(jobs.ModeMedia, payload)),
			tgbotapi.NewInlineKeyboardButtonData(audioLabel, Encode(jobs.ModeAudio, payload)),
		),
	)
}

// Resolve decodes callback data into the chosen mode and the original url.
func (s *Selector) Resolve(data string) (jobs.Mode, string, error) {
	mode, payload, err := Decode(data)
	if err != nil {
		return "", "", err
	}
	if !strings.HasPrefix(payload, refPrefix) {
		return mode, payload, nil
	}
	url, ok := s.refs.Get(strings.TrimPrefix(payload, refPrefix))
	if !ok {
		return "", "", ErrExpired
	}
	return mode, url, nil
}

// IsChoice reports whether callback data looks like a mode selection.
func IsChoice(data string) bool {
	_, _, err := Decode(data)
	return err == nil
}

func (s *Selector) needsRef(url string) bool {
	if strings.HasPrefix(url, refPrefix) {
		return true
	}
	longest := len(Encode(jobs.ModeMedia, url))
	if l := len(Encode(jobs.ModeAudio, url)); l > longest {
		longest = l
	}
	return longest > MaxCallbackData
}

func newRefID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
