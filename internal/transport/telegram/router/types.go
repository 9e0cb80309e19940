package router

import (
	"context"
	"sync"
	"time"

	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	// Route is a space-separated command path, e.g.:
	//   "events"
	//   "event delete"
	// Multi-token routes also answer to the joined form ("/event_delete").
	Route       string
	Aliases     []string
	Description string
	Usage       string
	Access      Access

	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline-button presses whose data starts with
// Prefix followed by ':'.
type CallbackRoute struct {
	Prefix      string
	Description string
	Access      Access
	Timeout     time.Duration
	Handle      CallbackHandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Private bool
	Path    []string // matched command path tokens (for message updates)
	Command string   // route, or "cb:<prefix>" for callbacks
	Args    []string // positional arguments
	Payload string   // callback payload after the prefix

	// Opts holds key=value arguments; RawArgs keeps every token after the path.
	Opts    map[string]string
	RawArgs []string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger

	ansMu  sync.Mutex
	answer string
}

// Reply sends HTML text back to the chat the request came from.
func (r *Request) Reply(ctx context.Context, html string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, html, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

// Answer sets the toast shown for a callback once its handler returns.
func (r *Request) Answer(text string) {
	r.ansMu.Lock()
	r.answer = text
	r.ansMu.Unlock()
}

func (r *Request) answerText() string {
	r.ansMu.Lock()
	defer r.ansMu.Unlock()
	return r.answer
}

// Opt returns the trimmed key=value option, or def when absent.
func (r *Request) Opt(key, def string) string {
	if v, ok := r.Opts[key]; ok {
		return v
	}
	return def
}
