package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"remindbot/internal/eventbus"
	rtsup "remindbot/internal/runtime/supervisor"
	logx "remindbot/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Service runs tasks one at a time, in enqueue order, on a single worker.
// Fired jobs therefore never run concurrently with each other.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q   chan queuedTask
	sup *rtsup.Supervisor

	hmu     sync.Mutex
	history []HistoryItem

	idSeq    atomic.Uint64
	executed atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64

	lastQueueFullWarnAt atomic.Int64
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{cfg: cfg, log: log, bus: bus}
}

// Start launches the worker. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.q = make(chan queuedTask, s.cfg.QueueSize)
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "taskengine"))),
		rtsup.WithCancelOnError(false),
	)
	q := s.q
	s.sup.GoRestart("taskengine.worker", func(c context.Context) error {
		return s.worker(c, q)
	})
	s.log.Info("task engine started", logx.Int("queue_size", s.cfg.QueueSize), logx.Duration("default_timeout", s.cfg.DefaultTimeout))
}

// Stop cancels the worker. Queued tasks that have not started are dropped.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("task engine stop incomplete", logx.Err(err))
	}
	s.log.Info("task engine stopped", logx.Uint64("executed", s.executed.Load()))
}

// Enqueue hands t to the worker without blocking.
func (s *Service) Enqueue(t Task) error {
	if t.Run == nil {
		return fmt.Errorf("task %q has no Run func", t.Name)
	}
	s.mu.Lock()
	q := s.q
	running := s.sup != nil
	s.mu.Unlock()
	if !running {
		return ErrStopped
	}
	if t.ID == "" {
		t.ID = strconv.FormatUint(s.idSeq.Add(1), 10)
	}
	select {
	case q <- queuedTask{task: t, enqueuedAt: time.Now()}:
		return nil
	default:
		s.dropped.Add(1)
		now := time.Now().UnixNano()
		if last := s.lastQueueFullWarnAt.Load(); now-last > int64(warnThrottleEvery) && s.lastQueueFullWarnAt.CompareAndSwap(last, now) {
			s.log.Warn("task dropped (queue full)", logx.String("task", t.Name), logx.Int("queue_cap", cap(q)))
		}
		return ErrQueueFull
	}
}

func (s *Service) worker(ctx context.Context, q <-chan queuedTask) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case qt := <-q:
			s.execOne(ctx, qt)
		}
	}
}

func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	start := time.Now()
	t := qt.task

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("task panicked", logx.String("task", t.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return t.Run(runCtx)
	}()
	cancel()

	dur := time.Since(start)
	s.executed.Add(1)
	hi := HistoryItem{ID: t.ID, Name: t.Name, Started: start, QueueDelay: start.Sub(qt.enqueuedAt), Duration: dur}
	if err != nil {
		s.failed.Add(1)
		hi.Error = err.Error()
		s.log.Warn("task failed", logx.String("task", t.Name), logx.Duration("took", dur), logx.Err(err))
	} else {
		s.log.Debug("task done", logx.String("task", t.Name), logx.Duration("took", dur))
	}
	s.pushHistory(hi)
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskFinished, Data: TaskEvent{ID: t.ID, Name: t.Name, Duration: dur, Error: hi.Error}})
}

func (s *Service) pushHistory(hi HistoryItem) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, hi)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	q := s.q
	running := s.sup != nil
	s.mu.Unlock()

	s.hmu.Lock()
	hist := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()

	return Snapshot{
		Running:  running,
		QueueLen: len(q),
		QueueCap: cap(q),
		Executed: s.executed.Load(),
		Failed:   s.failed.Load(),
		Dropped:  s.dropped.Load(),
		History:  hist,
	}
}
