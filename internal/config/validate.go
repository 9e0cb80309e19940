package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate reports every problem at once. It does not touch the network
// or the filesystem.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add(fmt.Errorf("telegram.token: required (or set %s)", EnvTelegramToken))
	}
	_, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout)
	add(err)
	if c.Telegram.SendRatePerSec < 0 || c.Telegram.Workers < 0 {
		add(errors.New("telegram: send_rate_per_sec and workers must be >= 0"))
	}

	add(checkZone("scheduler.timezone", c.Scheduler.Timezone))
	add(checkZone("scheduler.default_user_timezone", c.Scheduler.DefaultUserTimezone))
	_, err = ParseDurationField("scheduler.fire_timeout", c.Scheduler.FireTimeout)
	add(err)
	_, err = ParseDurationField("scheduler.timezone_cache_ttl", c.Scheduler.TimezoneCacheTTL)
	add(err)

	if c.TaskEngine.QueueSize < 0 || c.TaskEngine.HistorySize < 0 {
		add(errors.New("task_engine: queue_size and history_size must be >= 0"))
	}
	_, err = ParseDurationField("task_engine.default_timeout", c.TaskEngine.DefaultTimeout)
	add(err)

	switch d := strings.ToLower(strings.TrimSpace(c.Storage.Driver)); d {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			add(errors.New("storage.path: required for sqlite"))
		}
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			add(fmt.Errorf("storage.dsn: required for postgres (or set %s)", EnvStorageDSN))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", d))
	}
	_, err = ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	add(err)

	for _, f := range []struct{ path, raw string }{
		{"debug.read_timeout", c.Debug.ReadTimeout},
		{"debug.write_timeout", c.Debug.WriteTimeout},
		{"debug.idle_timeout", c.Debug.IdleTimeout},
	} {
		_, err = ParseDurationField(f.path, f.raw)
		add(err)
	}

	return errors.Join(errs...)
}

func checkZone(path, zone string) error {
	zone = strings.TrimSpace(zone)
	if zone == "" {
		return nil
	}
	if strings.EqualFold(zone, "local") {
		return fmt.Errorf("%s: %q is not allowed, name an IANA zone", path, zone)
	}
	if _, err := time.LoadLocation(zone); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
