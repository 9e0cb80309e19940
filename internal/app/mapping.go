package app

import (
	"time"

	"remindbot/internal/config"
	"remindbot/internal/observability/debugsrv"
	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/jobs"
	telegram "remindbot/internal/transport/telegram/adapter"
	logx "remindbot/pkg/logx"
)

const (
	defaultPollTimeout    = 10 * time.Second
	defaultSendRate       = 25
	defaultEngineTimeout  = 30 * time.Second
	defaultHandlerTimeout = 15 * time.Second
	defaultZoneCacheTTL   = 10 * time.Minute
)

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	rps := cfg.Telegram.SendRatePerSec
	if rps <= 0 {
		rps = defaultSendRate
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll, SendRatePerSec: rps}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
			Compress:   l.File.Compress,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: busy,
	}, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := cfg.TaskEngine
	timeout, err := config.ParseDurationOrDefault("task_engine.default_timeout", te.DefaultTimeout, defaultEngineTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{QueueSize: te.QueueSize, DefaultTimeout: timeout, HistorySize: te.HistorySize}, nil
}

func mapJobsConfig(cfg *config.Config) (jobs.Config, error) {
	timeout, err := config.ParseDurationField("scheduler.fire_timeout", cfg.Scheduler.FireTimeout)
	if err != nil {
		return jobs.Config{}, err
	}
	return jobs.Config{Timezone: cfg.Scheduler.Timezone, Timeout: timeout}, nil
}

func mapDebugConfig(cfg *config.Config) (debugsrv.Config, error) {
	d := cfg.Debug
	out := debugsrv.Config{
		Enabled:       d.Enabled,
		Addr:          d.Addr,
		Prefix:        d.Prefix,
		Token:         d.Token,
		AllowInsecure: d.AllowInsecure,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("debug.read_timeout", d.ReadTimeout, 10*time.Second); err != nil {
		return debugsrv.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("debug.write_timeout", d.WriteTimeout); err != nil {
		return debugsrv.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("debug.idle_timeout", d.IdleTimeout, time.Minute); err != nil {
		return debugsrv.Config{}, err
	}
	return out, nil
}
