package bot

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/awwantil/relaybot/internal/access"
	"github.com/awwantil/relaybot/internal/choice"
	"github.com/awwantil/relaybot/internal/delivery"
	"github.com/awwantil/relaybot/internal/fetch"
	"github.com/awwantil/relaybot/internal/fetch/fetchtest"
	"github.com/awwantil/relaybot/internal/jobs"
	"github.com/awwantil/relaybot/internal/logutil"
	"github.com/awwantil/relaybot/internal/relay"
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable

	// uploadDelay slows down attachment sends; uploading is closed when the
	// first one starts.
	uploadDelay   time.Duration
	uploading     chan struct{}
	uploadStarted sync.Once
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	switch c.(type) {
	case tgbotapi.VideoConfig, tgbotapi.AudioConfig, tgbotapi.DocumentConfig:
		if f.uploading != nil {
			f.uploadStarted.Do(func() { close(f.uploading) })
		}
		time.Sleep(f.uploadDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

type countingProcessor struct {
	inner Processor
	n     atomic.Int32
}

func (c *countingProcessor) Process(ctx context.Context, job *jobs.Job) {
	c.n.Add(1)
	c.inner.Process(ctx, job)
}

type harness struct {
	bot    *Bot
	api    *fakeAPI
	ws     *jobs.Workspace
	runner *fetchtest.Runner
	proc   *countingProcessor
}

func newHarness(t *testing.T, allowed []string, runner *fetchtest.Runner) *harness {
	t.Helper()
	logger := logutil.Discard()
	ws, err := jobs.NewWorkspace(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	api := &fakeAPI{}
	out := NewOutbox(api, logger)
	f := fetch.New(runner, fetch.Options{Retries: 1}, logger)
	d := delivery.New(api, delivery.DefaultPreviewLimit, logger)
	proc := &countingProcessor{inner: relay.New(f, d, ws, out, logger)}

	b := New(Deps{
		Outbox:    out,
		Selector:  choice.NewSelector(choice.NewRefStore(16, time.Hour)),
		Workspace: ws,
		Relay:     proc,
		Access:    access.NewAllowList(allowed),
		Jobs:      NewDispatcher("jobs", 2, 5*time.Second, logger),
		Logger:    logger,
	})
	out.Start()
	return &harness{bot: b, api: api, ws: ws, runner: runner, proc: proc}
}

// finish waits for every task and stops the outbox.
func (h *harness) finish() {
	h.bot.shutdown()
}

func callbackUpdate(userID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 1,
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      "cb",
			From:    &tgbotapi.User{ID: userID},
			Message: &tgbotapi.Message{MessageID: 5, Chat: &tgbotapi.Chat{ID: userID}},
			Data:    data,
		},
	}
}

func textUpdate(userID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 2,
		Message: &tgbotapi.Message{
			MessageID: 9,
			From:      &tgbotapi.User{ID: userID},
			Chat:      &tgbotapi.Chat{ID: userID},
			Text:      text,
		},
	}
}

func TestDeniedUserGetsNoJob(t *testing.T) {
	runner := &fetchtest.Runner{Files: map[string]int64{".mp3": 10}}
	h := newHarness(t, []string{"111"}, runner)

	h.bot.handleUpdate(context.Background(), callbackUpdate(222, choice.Encode(jobs.ModeAudio, "https://youtu.be/abc123")))
	h.finish()

	texts := h.api.texts()
	if len(texts) != 1 || texts[0] != TextDenied {
		t.Fatalf("replies = %q, want only the denial", texts)
	}
	if n := len(runner.Calls()); n != 0 {
		t.Fatalf("downloader called %d times", n)
	}
	if n := h.proc.n.Load(); n != 0 {
		t.Fatalf("%d jobs processed", n)
	}
	entries, _ := os.ReadDir(h.ws.Dir())
	if len(entries) != 0 {
		t.Fatalf("work dir has %d entries", len(entries))
	}
}

func TestDeniedUserTextGetsNoPrompt(t *testing.T) {
	h := newHarness(t, []string{"111"}, &fetchtest.Runner{})
	h.bot.handleUpdate(context.Background(), textUpdate(222, "https://youtu.be/abc123"))
	h.finish()

	if len(h.api.sent) != 1 {
		t.Fatalf("sent %d messages", len(h.api.sent))
	}
	m := h.api.sent[0].(tgbotapi.MessageConfig)
	if m.Text != TextDenied || m.ReplyMarkup != nil {
		t.Fatalf("unexpected reply %#v", m)
	}
}

func TestAllowedUserAudioFlow(t *testing.T) {
	runner := &fetchtest.Runner{
		Files:  map[string]int64{".mp3": 2048},
		Stdout: `{"title":"Track"}`,
	}
	h := newHarness(t, []string{"111"}, runner)

	h.bot.handleUpdate(context.Background(), callbackUpdate(111, choice.Encode(jobs.ModeAudio, "https://youtu.be/abc123")))
	h.finish()

	if n := len(runner.Calls()); n != 1 {
		t.Fatalf("downloader called %d times", n)
	}
	var audio int
	for _, c := range h.api.sent {
		if _, ok := c.(tgbotapi.AudioConfig); ok {
			audio++
		}
	}
	if audio != 1 {
		t.Fatalf("expected one audio upload, got %d", audio)
	}
	texts := h.api.texts()
	if texts[len(texts)-1] != relay.TextDone {
		t.Fatalf("last reply = %q", texts[len(texts)-1])
	}
	if _, ok := h.api.requests[0].(tgbotapi.CallbackConfig); !ok {
		t.Fatalf("callback was not acknowledged first: %T", h.api.requests[0])
	}
	entries, _ := os.ReadDir(h.ws.Dir())
	if len(entries) != 0 {
		t.Fatalf("work dir has %d entries", len(entries))
	}
}

func TestSlowUploadDoesNotStallOtherChats(t *testing.T) {
	runner := &fetchtest.Runner{Files: map[string]int64{".mp4": 1024}}
	h := newHarness(t, nil, runner)
	h.api.uploadDelay = 2 * time.Second
	h.api.uploading = make(chan struct{})

	ctx := context.Background()
	h.bot.handleUpdate(ctx, callbackUpdate(1, choice.Encode(jobs.ModeMedia, "https://youtu.be/abc123")))
	select {
	case <-h.api.uploading:
	case <-time.After(5 * time.Second):
		t.Fatalf("upload never started")
	}

	start := time.Now()
	h.bot.handleUpdate(ctx, textUpdate(2, "https://youtu.be/xyz789"))
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("update for another chat took %s while an upload was running", elapsed)
	}
	h.finish()
}

func TestTextWithURLGetsKeyboard(t *testing.T) {
	h := newHarness(t, nil, &fetchtest.Runner{})
	h.bot.handleUpdate(context.Background(), textUpdate(5, "check this out https://youtu.be/abc123 nice"))
	h.finish()

	if len(h.api.sent) != 1 {
		t.Fatalf("sent %d messages", len(h.api.sent))
	}
	m := h.api.sent[0].(tgbotapi.MessageConfig)
	kb, ok := m.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("reply markup is %T", m.ReplyMarkup)
	}
	row := kb.InlineKeyboard[0]
	if len(row) != 2 {
		t.Fatalf("expected two buttons, got %d", len(row))
	}
	if *row[0].CallbackData != "media|https://youtu.be/abc123" || *row[1].CallbackData != "audio|https://youtu.be/abc123" {
		t.Fatalf("unexpected callback data %q / %q", *row[0].CallbackData, *row[1].CallbackData)
	}
}

func TestTextWithoutURLGetsGuidance(t *testing.T) {
	h := newHarness(t, nil, &fetchtest.Runner{})
	h.bot.handleUpdate(context.Background(), textUpdate(5, "   hello there   "))
	h.finish()

	texts := h.api.texts()
	if len(texts) != 1 || texts[0] != TextGuidance {
		t.Fatalf("replies = %q", texts)
	}
}

type echoAssistant struct{}

func (echoAssistant) Answer(_ context.Context, _ int64, text string) string {
	return "you said: " + text
}

func TestTextWithoutURLGoesToAssistant(t *testing.T) {
	h := newHarness(t, nil, &fetchtest.Runner{})
	h.bot.assistant = echoAssistant{}
	h.bot.chat = NewDispatcher("chat", 1, time.Second, logutil.Discard())

	h.bot.handleUpdate(context.Background(), textUpdate(5, "hello"))
	h.finish()

	texts := h.api.texts()
	if len(texts) != 1 || texts[0] != "you said: hello" {
		t.Fatalf("replies = %q", texts)
	}
	if m := h.api.sent[0].(tgbotapi.MessageConfig); m.ReplyToMessageID != 9 {
		t.Fatalf("answer should reply to the question")
	}
}

func TestExpiredReference(t *testing.T) {
	runner := &fetchtest.Runner{}
	h := newHarness(t, nil, runner)
	h.bot.handleUpdate(context.Background(), callbackUpdate(5, "audio|ref:0123456789abcdef"))
	h.finish()

	texts := h.api.texts()
	if len(texts) != 1 || texts[0] != TextExpired {
		t.Fatalf("replies = %q", texts)
	}
	if len(runner.Calls()) != 0 {
		t.Fatalf("downloader must not run for an expired reference")
	}
}

type denyAll struct{}

func (denyAll) Allow(context.Context, int64) bool { return false }

func TestRateLimitedChoice(t *testing.T) {
	runner := &fetchtest.Runner{}
	h := newHarness(t, nil, runner)
	h.bot.limiter = denyAll{}

	h.bot.handleUpdate(context.Background(), callbackUpdate(5, choice.Encode(jobs.ModeMedia, "https://youtu.be/abc123")))
	h.finish()

	texts := h.api.texts()
	if len(texts) != 1 || texts[0] != TextRateLimited {
		t.Fatalf("replies = %q", texts)
	}
	if len(runner.Calls()) != 0 {
		t.Fatalf("downloader must not run when rate limited")
	}
}

func TestCommands(t *testing.T) {
	h := newHarness(t, nil, &fetchtest.Runner{})
	start := textUpdate(5, "/start")
	start.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}}
	start.Message.From.FirstName = "Ann"
	h.bot.handleUpdate(context.Background(), start)
	h.bot.handleUpdate(context.Background(), callbackUpdate(5, callbackAbout))
	h.finish()

	first := h.api.sent[0].(tgbotapi.MessageConfig)
	if _, ok := first.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup); !ok {
		t.Fatalf("/start should carry the About button")
	}
	texts := h.api.texts()
	if texts[len(texts)-1] != TextAbout {
		t.Fatalf("about callback reply = %q", texts[len(texts)-1])
	}
}

func TestDeniedUserCommandsAndAbout(t *testing.T) {
	h := newHarness(t, []string{"111"}, &fetchtest.Runner{})
	start := textUpdate(222, "/start")
	start.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}}
	h.bot.handleUpdate(context.Background(), start)
	h.bot.handleUpdate(context.Background(), callbackUpdate(222, callbackAbout))
	h.finish()

	texts := h.api.texts()
	if len(texts) != 2 || texts[0] != TextDenied || texts[1] != TextDenied {
		t.Fatalf("replies = %q, want two denials", texts)
	}
}

func TestHandleUpdateRecovers(t *testing.T) {
	h := newHarness(t, nil, &fetchtest.Runner{})
	defer h.finish()

	// A message without a chat makes the text handler dereference nil.
	bad := tgbotapi.Update{Message: &tgbotapi.Message{Text: "hi", From: &tgbotapi.User{ID: 1}}}
	h.bot.handleUpdate(context.Background(), bad)
}

func TestRunStopsOnClosedChannel(t *testing.T) {
	h := newHarness(t, nil, &fetchtest.Runner{})
	updates := make(chan tgbotapi.Update, 1)
	updates <- textUpdate(5, "hello")
	close(updates)

	if err := h.bot.Run(context.Background(), updates); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if texts := h.api.texts(); len(texts) != 1 {
		t.Fatalf("replies = %q", texts)
	}
	if _, err := h.bot.out.Send(tgbotapi.NewMessage(1, "late")); err != ErrOutboxClosed {
		t.Fatalf("send after stop: %v", err)
	}
}
