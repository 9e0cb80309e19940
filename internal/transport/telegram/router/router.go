// Package router turns Telegram updates into command and callback handler
// calls, running them on a bounded, supervised worker pool.
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

const defaultQueueSize = 256

type Router struct {
	mu sync.RWMutex

	root   *cmdNode
	alias  map[string]*cmdNode // alias -> leaf node
	owners []int64

	cbMu      sync.RWMutex
	callbacks map[string]CallbackRoute // prefix -> route

	log     logx.Logger
	adapter kit.Adapter

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	workers int
	jobs    chan func()
}

type Option func(*Router)

// WithWorkers bounds concurrent handlers. Defaults to NumCPU, at least 2.
func WithWorkers(n int) Option { return func(r *Router) { r.workers = n } }

// WithOwners sets the users allowed to run AccessOwnerOnly commands.
func WithOwners(ids ...int64) Option {
	return func(r *Router) { r.owners = append([]int64(nil), ids...) }
}

func New(log logx.Logger, adapter kit.Adapter, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		root:      newRoot(),
		alias:     map[string]*cmdNode{},
		callbacks: map[string]CallbackRoute{},
		log:       log.With(logx.String("comp", "telegram.router")),
		adapter:   adapter,
		jobs:      make(chan func(), defaultQueueSize),
	}
	for _, o := range opts {
		o(r)
	}
	if r.workers <= 0 {
		r.workers = runtime.NumCPU()
		if r.workers < 2 {
			r.workers = 2
		}
	}
	return r
}

// SetOwners replaces the owner list. Safe during hot reload.
func (m *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *Router) ownersSnapshot() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int64(nil), m.owners...)
}

// SetRegistry installs the command and callback tables, replacing the old
// ones atomically. A /help command is always added.
func (m *Router) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	cmds = append(cmds, Command{
		Route:       "help",
		Aliases:     []string{"start"},
		Description: "show commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args))
		},
	})

	root := newRoot()
	alias := map[string]*cmdNode{}
	menuCandidates := make([]Command, 0, len(cmds))

	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		leaf := root.add(route, c)
		menuCandidates = append(menuCandidates, c)

		// Single-token routes never alias themselves, or "/event delete"
		// would stop at "event".
		if menu, ok := telegramCommandNameFromRoute(route); ok {
			if len(route) > 1 || menu != route[0] {
				if _, exists := alias[menu]; !exists {
					alias[menu] = leaf
				}
			}
		}
		for _, a := range c.Aliases {
			a = strings.TrimSpace(a)
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = leaf
		}
	}

	cb := map[string]CallbackRoute{}
	for _, r := range cbs {
		p := strings.TrimSpace(r.Prefix)
		if p == "" || r.Handle == nil {
			continue
		}
		cb[p] = r
	}

	m.mu.Lock()
	m.root = root
	m.alias = alias
	m.mu.Unlock()

	m.cbMu.Lock()
	m.callbacks = cb
	m.cbMu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildTelegramMenuCommands(menuCandidates)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(ctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// Supervisor returns the worker pool's supervisor while DispatchLoop runs.
func (m *Router) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *Router) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue reports false when the queue is full or already closed.
func (m *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop routes updates until ctx ends or updates is closed. It can
// run once per Router.
func (m *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(m.log),
		rtsup.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("queue_cap", cap(m.jobs)))

	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					m.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		m.setSupervisor(sup, false)
		close(m.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.Route(ctx, up)
		}
	}
}

func (m *Router) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

// Route queues the handler for one update.
func (m *Router) Route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(ctx, up)
	case kit.UpdateCallback:
		m.routeCallback(ctx, up)
	}
}

func (m *Router) routeMessage(root context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	args := parts[1:]
	chat := msg.Target()

	m.mu.RLock()
	rootNode := m.root
	aliasMap := m.alias
	m.mu.RUnlock()

	if leaf, ok := aliasMap[word]; ok && leaf.cmd != nil {
		m.enqueueCommand(root, up, *leaf.cmd, splitRoute(leaf.cmd.Route), args)
		return
	}

	cur, ok := rootNode.child(word)
	if !ok {
		// Unknown commands in groups are usually meant for another bot.
		if msg.Private {
			_, _ = m.adapter.SendText(root, chat, "unknown command. try /help", nil)
		}
		return
	}
	path := []string{word}
	for len(args) > 0 {
		child, ok := cur.child(strings.ToLower(args[0]))
		if !ok {
			break
		}
		cur = child
		path = append(path, child.name)
		args = args[1:]
	}

	if cur.cmd == nil {
		_, _ = m.adapter.SendText(root, chat, m.helpText(path), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
		return
	}
	m.enqueueCommand(root, up, *cur.cmd, path, args)
}

func (m *Router) enqueueCommand(root context.Context, up kit.Update, cmd Command, path []string, raw []string) {
	msg := up.Message
	chat := msg.Target()
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, m.ownersSnapshot()) {
		_, _ = m.adapter.SendText(root, chat, "unauthorized", nil)
		return
	}

	rid := newReqID()
	pos, opts := parseOptions(raw)
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  msg.FromID,
		Private: msg.Private,
		Path:    path,
		Command: cmd.Route,
		Args:    pos,
		Opts:    opts,
		RawArgs: raw,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Route),
		),
	}

	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(cmd.Timeout),
	)
	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		_, _ = m.adapter.SendText(root, chat, "busy, try again", nil)
	}
}

func (m *Router) routeCallback(root context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	prefix, payload, _ := strings.Cut(strings.TrimSpace(cb.Data), ":")

	m.cbMu.RLock()
	route, ok := m.callbacks[prefix]
	m.cbMu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(root, cb.ID, "")
		return
	}
	if route.Access == AccessOwnerOnly && !isOwner(cb.FromID, m.ownersSnapshot()) {
		_ = m.adapter.AnswerCallback(root, cb.ID, "forbidden")
		return
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    cb.Target(),
		FromID:  cb.FromID,
		Command: "cb:" + prefix,
		Payload: payload,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", cb.ChatID),
			logx.Int64("from_id", cb.FromID),
			logx.String("cmd", "cb:"+prefix),
		),
	}

	h := func(ctx context.Context, r *Request) error { return route.Handle(ctx, r, payload) }
	final := Chain(
		h,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(route.Timeout),
	)
	if !m.tryEnqueue(func() {
		_ = final(root, req)
		_ = m.adapter.AnswerCallback(root, cb.ID, req.answerText())
	}) {
		_ = m.adapter.AnswerCallback(root, cb.ID, "busy")
	}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
