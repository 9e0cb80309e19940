// Package reconcile rebuilds the job table from the store at process start.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/item"
	"remindbot/internal/task/jobs"
	logx "remindbot/pkg/logx"
)

type Store interface {
	ListAllEvents(ctx context.Context) ([]*item.Item, error)
	ListAllReminders(ctx context.Context) ([]*item.Item, error)
}

// Scheduler is the part of the job table the reconciler fills.
type Scheduler interface {
	Schedule(spec jobs.Spec) error
}

// Report summarizes one run. Installed counts jobs; the rest count items.
type Report struct {
	Items     int
	Installed int
	Past      int
	Invalid   int
}

type Reconciler struct {
	store Store
	table Scheduler
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time
}

type Option func(*Reconciler)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func New(store Store, table Scheduler, log logx.Logger, bus eventbus.Bus, opts ...Option) *Reconciler {
	r := &Reconciler{store: store, table: table, log: log, bus: bus, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	if r.bus == nil {
		r.bus = eventbus.Nop()
	}
	return r
}

// Run installs jobs for every stored item. Past absolute items stay in the
// store untouched and items with a malformed schedule are skipped; neither
// stops the run. Only a failure to list items is returned.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	now := r.now()
	var rep Report

	events, err := r.store.ListAllEvents(ctx)
	if err != nil {
		return rep, fmt.Errorf("reconcile events: %w", err)
	}
	reminders, err := r.store.ListAllReminders(ctx)
	if err != nil {
		return rep, fmt.Errorf("reconcile reminders: %w", err)
	}

	for _, it := range append(events, reminders...) {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Items++
		r.install(it, now, &rep)
	}

	r.log.Info("reconciled",
		logx.Int("items", rep.Items),
		logx.Int("jobs", rep.Installed),
		logx.Int("past", rep.Past),
		logx.Int("invalid", rep.Invalid),
		logx.Duration("took", time.Since(start)),
	)
	r.bus.Publish(eventbus.Event{Type: eventbus.TypeReconcileFinish, Data: rep})
	return rep, nil
}

func (r *Reconciler) install(it *item.Item, now time.Time, rep *Report) {
	specs, err := jobs.PlanItem(it, now)
	if err != nil {
		rep.Invalid++
		r.log.Warn("skipping item with bad schedule", logx.String("job", it.PrimaryJobID()), logx.String("schedule", it.Schedule.String()), logx.Err(err))
		return
	}
	if len(specs) == 0 {
		rep.Past++
		r.log.Debug("skipping past item", logx.String("job", it.PrimaryJobID()), logx.Time("at", it.Schedule.At))
		return
	}
	for _, s := range specs {
		if err := r.table.Schedule(s); err != nil {
			r.log.Warn("job install failed", logx.String("job", s.ID), logx.Err(err))
			continue
		}
		rep.Installed++
	}
}
