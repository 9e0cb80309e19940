package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrMalformedSchedule is returned (wrapped) for invalid cron expressions,
// zero instants and non-positive lead offsets.
var ErrMalformedSchedule = errors.New("malformed schedule")

// MalformedError identifies the part of a schedule that failed validation.
type MalformedError struct {
	Field string
	Value string
	Err   error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed schedule: %s %q: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("malformed schedule: %s %q", e.Field, e.Value)
}

func (e *MalformedError) Is(target error) bool { return target == ErrMalformedSchedule }
func (e *MalformedError) Unwrap() error        { return e.Err }

// Kind describes which of the two schedule forms a Spec holds.
type Kind int

const (
	KindAbsolute Kind = iota
	KindCron
)

func (k Kind) String() string {
	switch k {
	case KindAbsolute:
		return "absolute"
	case KindCron:
		return "cron"
	default:
		return "unknown"
	}
}

// Spec is a stored schedule description. Exactly one of At or Cron is meaningful,
// selected by Kind.
type Spec struct {
	Kind Kind
	At   time.Time
	Cron string
}

func Absolute(at time.Time) Spec { return Spec{Kind: KindAbsolute, At: at.UTC()} }
func Cron(expr string) Spec      { return Spec{Kind: KindCron, Cron: normalizeCron(expr)} }

func (s Spec) IsCron() bool { return s.Kind == KindCron }

// Validate checks the spec without computing anything.
func (s Spec) Validate() error {
	switch s.Kind {
	case KindAbsolute:
		_, err := AbsoluteFire(s.At)
		return err
	case KindCron:
		_, err := ParseCron(s.Cron)
		return err
	default:
		return &MalformedError{Field: "kind", Value: s.Kind.String()}
	}
}

func (s Spec) String() string {
	if s.IsCron() {
		return "cron(" + s.Cron + ")"
	}
	return "at(" + s.At.UTC().Format(time.RFC3339) + ")"
}

// Five fields, no seconds, no descriptors: the stored form must round-trip
// through any crontab-style tool.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

var cronFieldNames = [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}

func normalizeCron(expr string) string {
	return strings.Join(strings.Fields(expr), " ")
}

// ParseCron validates a five-field cron expression. On failure the returned error
// wraps ErrMalformedSchedule and names the offending field.
func ParseCron(expr string) (cron.Schedule, error) {
	expr = normalizeCron(expr)
	fields := strings.Fields(expr)
	if len(fields) != len(cronFieldNames) {
		return nil, &MalformedError{
			Field: "expression",
			Value: expr,
			Err:   fmt.Errorf("expected %d fields, got %d", len(cronFieldNames), len(fields)),
		}
	}

	// Probe each field on its own so the error can point at it.
	for i, f := range fields {
		probe := [5]string{"*", "*", "*", "*", "*"}
		probe[i] = f
		if _, err := cronParser.Parse(strings.Join(probe[:], " ")); err != nil {
			return nil, &MalformedError{Field: cronFieldNames[i], Value: f, Err: err}
		}
	}

	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, &MalformedError{Field: "expression", Value: expr, Err: err}
	}
	return sched, nil
}

// AbsoluteFire returns at unchanged after checking it is a usable instant.
func AbsoluteFire(at time.Time) (time.Time, error) {
	if at.IsZero() {
		return time.Time{}, &MalformedError{Field: "at", Value: "zero time"}
	}
	return at, nil
}

// NextCron returns the first instant >= after that matches expr.
// Matching uses after's location.
func NextCron(expr string, after time.Time) (time.Time, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	// cron.Schedule.Next is strictly-after at second resolution.
	base := after.Add(-time.Second)
	if after.Nanosecond() != 0 {
		base = after.Truncate(time.Second)
	}
	next := sched.Next(base)
	if next.IsZero() {
		return time.Time{}, &MalformedError{Field: "expression", Value: expr, Err: errors.New("never fires")}
	}
	return next, nil
}
