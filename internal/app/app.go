// Package app wires the scheduler, storage, transport and observability
// services into one process and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/agenda"
	"remindbot/internal/bot"
	"remindbot/internal/config"
	"remindbot/internal/delivery"
	"remindbot/internal/dispatch"
	"remindbot/internal/eventbus"
	"remindbot/internal/humantime"
	"remindbot/internal/metrics"
	"remindbot/internal/observability/debugsrv"
	"remindbot/internal/reconcile"
	"remindbot/internal/rsvp"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/jobs"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	adapter kit.Adapter
	store   storage.Store
	engine  *engine.Service
	table   *jobs.Table
	recon   *reconcile.Reconciler
	zones   *humantime.Zones
	router  *router.Router
	metrics *metrics.Collector
	debug   *debugsrv.Server

	updates chan kit.Update
}

// New loads the config and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	if err := config.LoadDotEnv(cfgPath); err != nil {
		return nil, err
	}
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	tgCfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(tgCfg, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()
	collector := metrics.New(log)

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	a, err := assemble(cfg, ad, store, log, bus, collector)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgm = cfgm
	a.logs = logSvc
	return a, nil
}

// assemble builds the scheduler core and the chat surface on top of an
// opened store and transport.
func assemble(cfg *config.Config, ad kit.Adapter, store storage.Store, log logx.Logger, bus eventbus.Bus, collector *metrics.Collector) (*App, error) {
	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	jobsCfg, err := mapJobsConfig(cfg)
	if err != nil {
		return nil, err
	}
	dbgCfg, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}
	ttl, err := config.ParseDurationOrDefault("scheduler.timezone_cache_ttl", cfg.Scheduler.TimezoneCacheTTL, defaultZoneCacheTTL)
	if err != nil {
		return nil, err
	}

	out := delivery.NewTelegram(ad)
	eng := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)
	disp := dispatch.New(store, out, log.With(logx.String("comp", "dispatch")), bus)
	table := jobs.New(jobsCfg, eng, disp.Fire, log.With(logx.String("comp", "jobs")), bus)
	collector.TrackJobs(table.Len)

	zones := humantime.NewZones(store, cfg.Scheduler.DefaultUserTimezone, ttl, log.With(logx.String("comp", "timezones")))
	votes := rsvp.New(store, out, zones, log.With(logx.String("comp", "rsvp")), bus)
	ag := agenda.New(agenda.Deps{
		Store:  store,
		Jobs:   table,
		Out:    out,
		Views:  votes,
		Zones:  zones,
		Parser: humantime.NewParser(),
		Log:    log.With(logx.String("comp", "agenda")),
	})

	a := &App{
		log:     log.With(logx.String("comp", "app")),
		bus:     bus,
		adapter: ad,
		store:   store,
		engine:  eng,
		table:   table,
		recon:   reconcile.New(store, table, log.With(logx.String("comp", "reconcile")), bus),
		zones:   zones,
		metrics: collector,
		updates: make(chan kit.Update, 256),
	}
	a.router = router.New(log, ad,
		router.WithWorkers(cfg.Telegram.Workers),
		router.WithOwners(cfg.Telegram.OwnerUserIDs...),
	)
	cmds := bot.New(ag, votes, defaultHandlerTimeout).WithOps(opsView{a})
	a.router.SetRegistry(cmds.Commands(), cmds.Callbacks())
	a.debug = debugsrv.New(dbgCfg, collector.Handler(), a.healthy, log)
	return a, nil
}

// Done is closed when the app supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) healthy() error {
	if a.sup == nil {
		return errors.New("not started")
	}
	if err := a.sup.Err(); err != nil {
		return err
	}
	if !a.engine.Snapshot().Running {
		return errors.New("task engine stopped")
	}
	return nil
}

// Start runs the components in dependency order. The job table is rebuilt
// from the store before the first chat update is accepted.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	// Subscribe before reconciliation publishes job.scheduled events.
	a.sup.Go("metrics", a.metrics.Attach(a.bus))
	a.sup.Go0("eventbus.log", a.eventLogger())

	a.engine.Start(run)
	a.table.Start(run)
	rep, err := a.recon.Run(run)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	if err := a.adapter.Start(run, a.updates); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.debug.Start(run)

	if a.cfgm != nil {
		sub := a.cfgm.Subscribe(4)
		a.sup.Go0("config.apply", func(c context.Context) { a.applyConfigLoop(c, sub) })
		a.sup.Go("config.watch", a.cfgm.Watch)
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		if err := systemd.Watchdog(c, a.healthy); err != nil {
			a.log.Warn("systemd watchdog stopped", logx.Err(err))
		}
	})

	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		_, _ = systemd.Status("%d jobs armed", rep.Installed)
	}
	a.log.Info("app started", logx.Int("items", rep.Items), logx.Int("jobs", rep.Installed))
	return nil
}

func (a *App) eventLogger() func(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	return func(ctx context.Context) {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	}
}

func (a *App) applyConfigLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	applied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			a.applyConfig(ctx, applied, next)
			applied = next
		}
	}
}

// applyConfig applies the live-reloadable sections and warns about the rest.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	changed, attrs := config.SummarizeChange(prev, next)
	if len(changed) == 0 {
		a.log.Debug("config reload had no effective changes")
		return
	}

	a.logs.Apply(mapLogConfig(next))
	a.router.SetOwners(next.Telegram.OwnerUserIDs)
	a.zones.SetDefault(next.Scheduler.DefaultUserTimezone)
	if dc, err := mapDebugConfig(next); err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
	} else {
		a.debug.Reconfigure(ctx, dc)
	}

	if pending := config.RestartRequired(prev, next); len(pending) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(pending, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in reverse start order. Each step is bounded
// so one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		c, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(c)
		}()
		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				a.log.Warn("stop step failed", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-c.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("max", max))
		}
	}

	step("adapter", 3*time.Second, a.adapter.Stop)
	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("jobs", 2*time.Second, func(c context.Context) error { a.table.Stop(c); return nil })
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		// A fatal error was already reported when it happened.
		if err := a.sup.Wait(c); errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

// opsView serves the owner-only status commands.
type opsView struct{ a *App }

func (o opsView) Jobs() []jobs.JobInfo         { return o.a.table.Jobs() }
func (o opsView) EngineStats() engine.Snapshot { return o.a.engine.Snapshot() }
func (o opsView) Resync(ctx context.Context) (reconcile.Report, error) {
	return o.a.recon.Run(ctx)
}
