package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"gopkg.in/natefinch/lumberjack.v2"

	kit "remindbot/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

// FileConfig controls the rotating JSON log file.
type FileConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// TelegramConfig forwards warnings and errors to a chat.
type TelegramConfig struct {
	Enabled    bool
	ChatID     int64
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

// Service owns the sinks. Loggers obtained from it follow Apply.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	file *lumberjack.Logger
	tg   *telegramSink
}

// New creates the logging service, applies cfg and returns the root Logger.
// sender may be nil; the Telegram sink then stays quiet until SetSender.
func New(cfg Config, sender kit.Adapter) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeLayout

	s := &Service{tg: newTelegramSink(sender)}
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{src: s} }

func (s *Service) SetSender(sender kit.Adapter) { s.tg.setSender(sender) }

// Close flushes the Telegram queue worker and closes the log file.
func (s *Service) Close() error {
	s.tg.stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Apply rebuilds the writer set and level. Safe to call concurrently.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter(stdout))
	}
	if cfg.File.Enabled {
		s.file = rotatingFile(cfg.File)
		writers = append(writers, s.file)
	}
	if cfg.Telegram.Enabled {
		if cfg.Telegram.ChatID == 0 {
			fmt.Fprintln(os.Stderr, "logx: logging.telegram.enabled without chat_id; sink disabled")
		}
		s.tg.configure(cfg.Telegram)
		writers = append(writers, s.tg)
	}
	if len(writers) == 0 {
		writers = []io.Writer{consoleWriter(stdout)}
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, LevelInfo)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

func rotatingFile(cfg FileConfig) *lumberjack.Logger {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./remindbot.log"
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    positiveOr(cfg.MaxSizeMB, 20),
		MaxBackups: positiveOr(cfg.MaxBackups, 5),
		MaxAge:     positiveOr(cfg.MaxAgeDays, 28),
		Compress:   cfg.Compress,
	}
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// telegramSink is a zerolog.LevelWriter that queues formatted entries for a
// chat. Entries over the rate limit or a full queue are dropped.
type telegramSink struct {
	queue chan telegramEntry

	mu      sync.Mutex
	sender  kit.Adapter
	to      kit.ChatTarget
	min     Level
	limiter *rate.Limiter
	cancel  context.CancelFunc
	done    chan struct{}
}

type telegramEntry struct {
	to   kit.ChatTarget
	text string
}

func newTelegramSink(sender kit.Adapter) *telegramSink {
	return &telegramSink{queue: make(chan telegramEntry, 256), sender: sender, min: LevelWarn}
}

func (t *telegramSink) setSender(a kit.Adapter) {
	t.mu.Lock()
	t.sender = a
	t.mu.Unlock()
}

// configure updates the target and limits and starts the worker on first use.
func (t *telegramSink) configure(cfg TelegramConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.to = kit.ChatTarget{ChatID: cfg.ChatID, ThreadID: cfg.ThreadID}
	t.min = parseLevel(cfg.MinLevel, LevelWarn)
	rps := positiveOr(cfg.RatePerSec, 1)
	t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if t.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel, t.done = cancel, make(chan struct{})
	go t.run(ctx, t.done)
}

func (t *telegramSink) stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (t *telegramSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-t.queue:
			t.mu.Lock()
			sender := t.sender
			t.mu.Unlock()
			if sender != nil {
				_, _ = sender.SendText(ctx, e.to, e.text, &kit.SendOptions{DisablePreview: true})
			}
		}
	}
}

func (t *telegramSink) Write(p []byte) (int, error) { return t.WriteLevel(LevelInfo, p) }

func (t *telegramSink) WriteLevel(level Level, p []byte) (int, error) {
	t.mu.Lock()
	to, min, lim := t.to, t.min, t.limiter
	t.mu.Unlock()

	if to.ChatID == 0 || level < min || lim == nil || !lim.Allow() {
		return len(p), nil
	}
	if text := formatTelegramJSON(p); text != "" {
		select {
		case t.queue <- telegramEntry{to: to, text: text}:
		default:
		}
	}
	return len(p), nil
}

func formatTelegramJSON(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(p))), &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), 3500)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n- " + k + "=")
		b.WriteString(truncate(fmt.Sprint(m[k]), 600))
	}
	return truncate(b.String(), 3500)
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
