package config

import (
	"reflect"
	"sort"
	"strings"

	logx "remindbot/pkg/logx"
)

// SummarizeChange lists the sections that differ and safe attrs for logging.
// Tokens and DSNs are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.PollTimeout != nt.PollTimeout || ot.SendRatePerSec != nt.SendRatePerSec ||
		ot.Workers != nt.Workers || !reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		l := newCfg.Logging
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", l.Level),
			logx.Bool("logging.console", l.Console),
			logx.Bool("logging.file_enabled", l.File.Enabled),
			logx.Bool("logging.telegram_enabled", l.Telegram.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		s := newCfg.Scheduler
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", s.Timezone),
			logx.String("scheduler.default_user_timezone", s.DefaultUserTimezone),
		)
	}

	if oldCfg.TaskEngine != newCfg.TaskEngine {
		te := newCfg.TaskEngine
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.queue_size", te.QueueSize),
			logx.String("task_engine.default_timeout", te.DefaultTimeout),
			logx.Int("task_engine.history_size", te.HistorySize),
		)
	}

	if ns := newCfg.Storage; oldCfg.Storage != ns {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", ns.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(ns.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(ns.DSN) != ""),
		)
	}

	if oldCfg.Debug != newCfg.Debug {
		d := newCfg.Debug
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", d.Enabled),
			logx.String("debug.addr", d.Addr),
			logx.Bool("debug.token_set", d.Token != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired names the changed keys that only take effect after a
// restart. Owners, logging, the default user timezone and the debug
// listener are applied live.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.PollTimeout != nt.PollTimeout || ot.SendRatePerSec != nt.SendRatePerSec || ot.Workers != nt.Workers {
		out = append(out, "telegram")
	}
	if oldCfg.Scheduler.Timezone != newCfg.Scheduler.Timezone ||
		oldCfg.Scheduler.FireTimeout != newCfg.Scheduler.FireTimeout ||
		oldCfg.Scheduler.TimezoneCacheTTL != newCfg.Scheduler.TimezoneCacheTTL {
		out = append(out, "scheduler")
	}
	if oldCfg.TaskEngine != newCfg.TaskEngine {
		out = append(out, "task_engine")
	}
	if oldCfg.Storage != newCfg.Storage {
		out = append(out, "storage")
	}
	return out
}
