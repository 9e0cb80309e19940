package adapter

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// SendRatePerSec bounds outbound calls (send + edit). Telegram allows ~30/s per bot.
	SendRatePerSec int
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	limiter *rate.Limiter

	// sink is the channel handlers forward into; nil while stopped.
	sink    atomic.Pointer[chan<- kit.Update]
	dropped atomic.Uint64

	mu  sync.Mutex
	sup *rtsup.Supervisor // non-nil while running

	menuMu   sync.Mutex
	menuHash uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.SendRatePerSec <= 0 {
		cfg.SendRatePerSec = 25
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "telegram")),
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(cfg.SendRatePerSec), cfg.SendRatePerSec),
	}
	b.Handle(tele.OnText, func(c tele.Context) error {
		if up, ok := messageUpdate(c.Message()); ok {
			a.forward(up)
		}
		return nil
	})
	b.Handle(tele.OnCallback, func(c tele.Context) error {
		if up, ok := callbackUpdate(c.Callback(), c.Message()); ok {
			a.forward(up)
		}
		return nil
	})
	return a, nil
}

func messageUpdate(m *tele.Message) (kit.Update, bool) {
	if m == nil || m.Sender == nil || m.Chat == nil {
		return kit.Update{}, false
	}
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		ThreadID:     m.ThreadID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		Text:         m.Text,
		Private:      m.Chat.Type == tele.ChatPrivate,
	}}, true
}

func callbackUpdate(cb *tele.Callback, m *tele.Message) (kit.Update, bool) {
	if cb == nil || cb.Sender == nil || m == nil || m.Chat == nil {
		return kit.Update{}, false
	}
	return kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID:        cb.ID,
		ChatID:    m.Chat.ID,
		ThreadID:  m.ThreadID,
		FromID:    cb.Sender.ID,
		MessageID: m.ID,
		// telebot prefixes unique-less callback data with \f
		Data: strings.TrimPrefix(cb.Data, "\f"),
	}}, true
}

// forward never blocks the poller; a full sink drops the update.
func (a *Adapter) forward(up kit.Update) {
	p := a.sink.Load()
	if p == nil {
		return
	}
	select {
	case *p <- up:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.sink.Store(&out)
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))
	a.sup = sup

	sup.Go0("drop_report", func(c context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				if n := a.dropped.Swap(0); n > 0 {
					a.log.Warn("updates dropped, dispatcher busy", logx.Uint64("count", n), logx.Int("cap", cap(out)))
				}
			}
		}
	})
	// bot.Start blocks until bot.Stop, so cancellation has to stop it from outside.
	sup.Go0("stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	sup.GoRestart("poll", func(context.Context) error {
		a.log.Info("polling started", logx.Duration("timeout", a.cfg.PollTimeout))
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

// Stop waits at most two seconds (or until ctx) for the long poll to end.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup = nil
	a.sink.Store(nil)
	a.mu.Unlock()
	if sup == nil {
		return nil
	}

	sup.Cancel()
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("poller did not stop in time", logx.Err(err))
	}
	return nil
}

const telegramTextLimit = 4000

// splitTelegramText splits long messages on newline boundaries near the limit.
func splitTelegramText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func markup(opt *kit.SendOptions) *tele.ReplyMarkup {
	if opt == nil || len(opt.Buttons) == 0 {
		return nil
	}
	rm := &tele.ReplyMarkup{}
	for _, row := range opt.Buttons {
		btns := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			btns = append(btns, tele.InlineButton{Text: b.Text, Data: b.Data})
		}
		rm.InlineKeyboard = append(rm.InlineKeyboard, btns)
	}
	return rm
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}
	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit) {
		if err := a.limiter.Wait(ctx); err != nil {
			return first, err
		}
		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		}
		if i == 0 {
			sendOpt.ReplyMarkup = markup(opt)
		}
		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	chunks := splitTelegramText(text, telegramTextLimit)
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	_, err := a.bot.Edit(m, chunks[0], &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ReplyMarkup:           markup(opt),
	})
	// Re-rendering identical content is not a failure.
	if errors.Is(err, tele.ErrSameMessageContent) {
		return nil
	}
	return err
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// UpdateMenuCommands publishes the bot's command menu. Unchanged lists are
// not resent.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(d))
		h.Write([]byte{0})
		out = append(out, tele.Command{Text: c.Command, Description: d})
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := a.bot.SetCommands(out); err != nil {
		return err
	}
	a.menuHash = sum
	return nil
}
