package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDurationField parses the duration found at config key path. On top of
// time.ParseDuration it accepts a leading day count ("1d", "1.5d", "2d12h").
// An empty value is 0; negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := parseWithDays(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0, got %s", path, d)
	}
	return d, nil
}

func parseWithDays(raw string) (time.Duration, error) {
	days, rest, ok := strings.Cut(raw, "d")
	if !ok {
		return time.ParseDuration(raw)
	}
	n, err := strconv.ParseFloat(days, 64)
	if err != nil {
		return 0, fmt.Errorf("bad day count %q", days)
	}
	d := time.Duration(n * float64(24*time.Hour))
	if rest == "" {
		return d, nil
	}
	extra, err := time.ParseDuration(rest)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return d - extra, nil
	}
	return d + extra, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for 0.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
