package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/eventbus"
	"remindbot/internal/schedule"
	"remindbot/internal/task/engine"
	logx "remindbot/pkg/logx"
)

type entry struct {
	spec  Spec
	ver   uint64
	timer *time.Timer
	sched cron.Schedule
	cid   cron.EntryID
}

// Table owns every armed job of the process. Create one with New and pass it
// to whoever needs to schedule or cancel.
type Table struct {
	mu sync.Mutex

	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	runner  Runner
	handler Handler

	loc  *time.Location
	c    *cron.Cron
	jobs map[string]*entry
	ver  uint64

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

func New(cfg Config, runner Runner, handler Handler, log logx.Logger, bus eventbus.Bus) *Table {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Table{
		cfg:         cfg,
		log:         log,
		bus:         bus,
		runner:      runner,
		handler:     handler,
		loc:         loadLocation(cfg.Timezone, log),
		jobs:        map[string]*entry{},
		lastEnqWarn: map[string]time.Time{},
	}
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; using UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}

// Start begins cron triggering. One-shot timers are armed by Schedule whether
// or not the table has started; cron jobs registered earlier are attached here.
func (t *Table) Start(ctx context.Context) {
	_ = ctx

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c != nil {
		return
	}
	t.c = cron.New(cron.WithLocation(t.loc))
	for _, e := range t.jobs {
		if e.sched != nil {
			t.attachCronLocked(e)
		}
	}
	t.c.Start()
	t.log.Info("job table started", logx.String("tz", t.loc.String()), logx.Int("jobs", len(t.jobs)))
}

// Stop halts cron triggering and disarms every one-shot timer. The table is
// emptied; the store remains the source of truth for the next start.
func (t *Table) Stop(ctx context.Context) {
	t.mu.Lock()
	c := t.c
	t.c = nil
	for id, e := range t.jobs {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(t.jobs, id)
	}
	t.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	t.log.Info("job table stopped")
}

// Location is the zone cron jobs are evaluated in.
func (t *Table) Location() *time.Location {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loc
}

// Schedule arms spec, replacing any job with the same id.
func (t *Table) Schedule(spec Spec) error {
	if strings.TrimSpace(spec.ID) == "" {
		return errors.New("job id required")
	}
	if spec.IsCron() == !spec.At.IsZero() {
		return fmt.Errorf("job %s: exactly one of At or Cron required", spec.ID)
	}
	var sched cron.Schedule
	if spec.IsCron() {
		s, err := schedule.ParseCron(spec.Cron)
		if err != nil {
			return err
		}
		sched = s
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked(spec.ID)
	t.ver++
	e := &entry{spec: spec, ver: t.ver}
	t.jobs[spec.ID] = e

	if sched != nil {
		e.sched = sched
		if t.c != nil {
			t.attachCronLocked(e)
		}
	} else {
		delay := time.Until(spec.At)
		if delay < 0 {
			delay = 0
		}
		id, ver := spec.ID, e.ver
		e.timer = time.AfterFunc(delay, func() { t.fireOnce(id, ver) })
	}

	t.log.Debug("job scheduled", logx.String("job", spec.ID), logx.Time("next", t.nextLocked(e)))
	t.bus.Publish(eventbus.Event{Type: eventbus.TypeJobScheduled, Data: jobData(spec)})
	return nil
}

func (t *Table) attachCronLocked(e *entry) {
	spec := e.spec
	e.cid = t.c.Schedule(e.sched, cron.FuncJob(func() { t.fireCron(spec) }))
}

// Cancel removes the job with id. It reports whether a job was present.
func (t *Table) Cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.jobs[id]
	if !ok {
		return false
	}
	t.cancelLocked(id)
	t.log.Debug("job canceled", logx.String("job", id))
	t.bus.Publish(eventbus.Event{Type: eventbus.TypeJobCanceled, Data: jobData(e.spec)})
	return true
}

func (t *Table) cancelLocked(id string) {
	e, ok := t.jobs[id]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.cid != 0 && t.c != nil {
		t.c.Remove(e.cid)
	}
	delete(t.jobs, id)
}

func (t *Table) Has(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.jobs[id]
	return ok
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

// Jobs returns a snapshot sorted by id.
func (t *Table) Jobs() []JobInfo {
	t.mu.Lock()
	out := make([]JobInfo, 0, len(t.jobs))
	for _, e := range t.jobs {
		out = append(out, JobInfo{Spec: e.spec, Next: t.nextLocked(e)})
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Spec.ID < out[j].Spec.ID })
	return out
}

func (t *Table) nextLocked(e *entry) time.Time {
	if e.sched == nil {
		return e.spec.At
	}
	if e.cid != 0 && t.c != nil {
		if n := t.c.Entry(e.cid).Next; !n.IsZero() {
			return n
		}
	}
	return e.sched.Next(time.Now().In(t.loc))
}

func (t *Table) fireOnce(id string, ver uint64) {
	t.mu.Lock()
	e, ok := t.jobs[id]
	if !ok || e.ver != ver {
		// replaced or canceled after the timer was armed
		t.mu.Unlock()
		return
	}
	delete(t.jobs, id)
	spec := e.spec
	t.mu.Unlock()

	t.enqueue(spec)
}

func (t *Table) fireCron(spec Spec) {
	t.mu.Lock()
	_, ok := t.jobs[spec.ID]
	t.mu.Unlock()
	if !ok {
		return
	}
	t.enqueue(spec)
}

func (t *Table) enqueue(spec Spec) {
	t.bus.Publish(eventbus.Event{Type: eventbus.TypeJobFired, Data: jobData(spec)})
	if t.runner == nil || t.handler == nil {
		return
	}
	h := t.handler
	err := t.runner.Enqueue(engine.Task{
		ID:      spec.ID,
		Name:    "job:" + spec.ID,
		Timeout: t.cfg.Timeout,
		Run:     func(ctx context.Context) error { return h(ctx, spec) },
	})
	if err != nil {
		t.bus.Publish(eventbus.Event{Type: eventbus.TypeJobDropped, Data: jobData(spec)})
		t.reportEnqueueError(spec.ID, err)
	}
}

func (t *Table) reportEnqueueError(id string, err error) {
	t.enqMu.Lock()
	last := t.lastEnqWarn[id]
	now := time.Now()
	if now.Sub(last) < 30*time.Second {
		t.enqMu.Unlock()
		return
	}
	t.lastEnqWarn[id] = now
	t.enqMu.Unlock()

	t.log.Warn("job enqueue failed", logx.String("job", id), logx.Err(err))
}

func jobData(s Spec) eventbus.JobData {
	return eventbus.JobData{JobID: s.ID, Kind: string(s.Kind), ItemID: s.ItemID, Lead: s.LeadMinutes}
}
