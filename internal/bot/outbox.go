package bot

import (
	"errors"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var ErrOutboxClosed = errors.New("outbox closed")

// API is the part of *tgbotapi.BotAPI the bot writes through.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type outboxItem struct {
	c       tgbotapi.Chattable
	request bool
	done    chan outboxResult
}

type outboxResult struct {
	msg  tgbotapi.Message
	resp *tgbotapi.APIResponse
	err  error
}

// Outbox serializes short outgoing calls (replies, acks, chat actions) on one
// goroutine. Handlers and job workers hand it messages and wait for the
// result. File uploads must not go through it.
type Outbox struct {
	api    API
	queue  chan outboxItem
	quit   chan struct{}
	loopWg sync.WaitGroup
	start  sync.Once
	stop   sync.Once
	logger *slog.Logger
}

func NewOutbox(api API, logger *slog.Logger) *Outbox {
	return &Outbox{
		api:    api,
		queue:  make(chan outboxItem),
		quit:   make(chan struct{}),
		logger: logger.With("component", "outbox"),
	}
}

// Start launches the sending goroutine. Calling it again is a no-op.
func (o *Outbox) Start() {
	o.start.Do(func() {
		o.loopWg.Add(1)
		go o.loop()
	})
}

// Close stops the sending goroutine. Pending and later calls fail with
// ErrOutboxClosed.
func (o *Outbox) Close() {
	o.stop.Do(func() { close(o.quit) })
	o.loopWg.Wait()
}

func (o *Outbox) loop() {
	defer o.loopWg.Done()
	for {
		select {
		case <-o.quit:
			return
		case it := <-o.queue:
			it.done <- o.deliver(it)
		}
	}
}

func (o *Outbox) deliver(it outboxItem) (res outboxResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("send_panic", "panic", r)
			res = outboxResult{err: errors.New("send panicked")}
		}
	}()
	if it.request {
		resp, err := o.api.Request(it.c)
		return outboxResult{resp: resp, err: err}
	}
	msg, err := o.api.Send(it.c)
	return outboxResult{msg: msg, err: err}
}

func (o *Outbox) submit(it outboxItem) outboxResult {
	it.done = make(chan outboxResult, 1)
	select {
	case o.queue <- it:
	case <-o.quit:
		return outboxResult{err: ErrOutboxClosed}
	}
	return <-it.done
}

func (o *Outbox) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	res := o.submit(outboxItem{c: c})
	return res.msg, res.err
}

func (o *Outbox) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	res := o.submit(outboxItem{c: c, request: true})
	return res.resp, res.err
}
