package router

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []string
	answers chan string
	menu    chan []kit.BotCommand
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{answers: make(chan string, 8), menu: make(chan []kit.BotCommand, 1)}
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	f.answers <- text
	return nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.menu <- cmds
	return nil
}

func (f *fakeAdapter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"/events", []string{"/events"}},
		{`/event when="next tue 7pm" title='Raid night' lead=60,10`, []string{"/event", "when=next tue 7pm", "title=Raid night", "lead=60,10"}},
		{`/remind text=“smart quotes” when=in\ 2h`, []string{"/remind", "text=smart quotes", "when=in 2h"}},
		{`/x ""`, []string{"/x", ""}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := tokenizeCommandLine(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("tokenizeCommandLine(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseOptions(t *testing.T) {
	t.Parallel()
	pos, opts := parseOptions([]string{"12", "Title=Raid", "2+2=4", "dm=true", "lead="})
	if !reflect.DeepEqual(pos, []string{"12", "2+2=4"}) {
		t.Fatalf("pos = %q", pos)
	}
	want := map[string]string{"title": "Raid", "dm": "true", "lead": ""}
	if !reflect.DeepEqual(opts, want) {
		t.Fatalf("opts = %v, want %v", opts, want)
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"event delete":   "event_delete",
		"Remind-Delete":  "remind_delete",
		"  tz ":          "tz",
		"9lives":         "cmd_9lives",
		"ünïcode only":   "ncode_only",
		"!!!":            "",
		strings.Repeat("a", 40): strings.Repeat("a", 32),
	}
	for in, want := range tests {
		if got := sanitizeTelegramCommand(in); got != want {
			t.Fatalf("sanitizeTelegramCommand(%q) = %q, want %q", in, got, want)
		}
	}
}

type call struct {
	route string
	req   *Request
}

func startRouter(t *testing.T, a *fakeAdapter, opts ...Option) (*Router, chan<- kit.Update, chan call) {
	t.Helper()
	calls := make(chan call, 8)
	rec := func(route string) HandlerFunc {
		return func(_ context.Context, req *Request) error {
			calls <- call{route: route, req: req}
			return nil
		}
	}
	r := New(logx.Nop(), a, opts...)
	r.SetRegistry([]Command{
		{Route: "event", Description: "create an event", Handle: rec("event")},
		{Route: "event delete", Description: "delete an event", Handle: rec("event delete")},
		{Route: "events", Description: "list events", Handle: rec("events")},
		{Route: "admin", Access: AccessOwnerOnly, Handle: rec("admin")},
	}, []CallbackRoute{{
		Prefix: "rsvp",
		Handle: func(_ context.Context, req *Request, payload string) error {
			req.Answer("ok " + payload)
			return nil
		},
	}})

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.DispatchLoop(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r, updates, calls
}

func message(text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: -5, ThreadID: 2, FromID: 7, Text: text}}
}

func waitCall(t *testing.T, calls chan call) call {
	t.Helper()
	select {
	case c := <-calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
		return call{}
	}
}

func TestRouteCommands(t *testing.T) {
	t.Parallel()
	_, updates, calls := startRouter(t, newFakeAdapter())

	tests := []struct {
		text  string
		route string
		args  []string
		opts  map[string]string
	}{
		{`/event title="Raid night" when="in 2h"`, "event", nil, map[string]string{"title": "Raid night", "when": "in 2h"}},
		{"/event delete 12", "event delete", []string{"12"}, map[string]string{}},
		{"/event_delete 12", "event delete", []string{"12"}, map[string]string{}},
		{"/Events@remind_bot", "events", nil, map[string]string{}},
	}
	for _, tt := range tests {
		updates <- message(tt.text)
		c := waitCall(t, calls)
		if c.route != tt.route {
			t.Fatalf("%q routed to %q, want %q", tt.text, c.route, tt.route)
		}
		if !reflect.DeepEqual(c.req.Args, tt.args) || !reflect.DeepEqual(c.req.Opts, tt.opts) {
			t.Fatalf("%q args = %q opts = %v", tt.text, c.req.Args, c.req.Opts)
		}
		if c.req.Chat != (kit.ChatTarget{ChatID: -5, ThreadID: 2}) || c.req.FromID != 7 {
			t.Fatalf("%q request = %+v", tt.text, c.req)
		}
	}
}

func TestOwnerOnlyCommand(t *testing.T) {
	t.Parallel()
	a := newFakeAdapter()
	_, updates, calls := startRouter(t, a, WithOwners(99))

	updates <- message("/admin")
	deadline := time.Now().Add(2 * time.Second)
	for len(a.texts()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := a.texts(); len(got) != 1 || got[0] != "unauthorized" {
		t.Fatalf("sent = %q, want [unauthorized]", got)
	}
	select {
	case c := <-calls:
		t.Fatalf("owner-only handler ran for non-owner: %+v", c)
	default:
	}
}

func TestCallbackAnswer(t *testing.T) {
	t.Parallel()
	a := newFakeAdapter()
	_, updates, _ := startRouter(t, a)

	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c1", ChatID: -5, FromID: 7, Data: "rsvp:12:going"}}
	select {
	case got := <-a.answers:
		if got != "ok 12:going" {
			t.Fatalf("answer = %q, want %q", got, "ok 12:going")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback not answered")
	}

	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c2", Data: "nope:1"}}
	select {
	case got := <-a.answers:
		if got != "" {
			t.Fatalf("unknown callback answer = %q, want empty", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("unknown callback not answered")
	}
}

func TestMenuAndHelp(t *testing.T) {
	t.Parallel()
	a := newFakeAdapter()
	r, _, _ := startRouter(t, a)

	select {
	case menu := <-a.menu:
		names := make([]string, 0, len(menu))
		for _, c := range menu {
			names = append(names, c.Command)
		}
		want := []string{"event", "event_delete", "events", "help", "admin"}
		if !reflect.DeepEqual(names, want) {
			t.Fatalf("menu = %q, want %q", names, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("menu not published")
	}

	top := r.helpText(nil)
	for _, s := range []string{"/event_delete", "/events", "🔒 <code>/admin"} {
		if !strings.Contains(top, s) {
			t.Fatalf("help missing %q:\n%s", s, top)
		}
	}
	if node := r.helpText([]string{"event_delete"}); !strings.Contains(node, "delete an event") {
		t.Fatalf("alias help = %q", node)
	}
	if unk := r.helpText([]string{"bogus"}); !strings.Contains(unk, "Unknown command") {
		t.Fatalf("unknown help = %q", unk)
	}
}
