package jobs

import (
	"context"
	"time"

	"remindbot/internal/item"
	"remindbot/internal/task/engine"
)

// Fire distinguishes the primary fire of an item from its lead fires.
type Fire int

const (
	FirePrimary Fire = iota
	FireLead
)

func (f Fire) String() string {
	if f == FireLead {
		return "lead"
	}
	return "primary"
}

// Spec is the immutable description of one job. Exactly one of At or Cron is set.
type Spec struct {
	ID          string
	Kind        item.Kind
	ItemID      int64
	Fire        Fire
	LeadMinutes int
	At          time.Time
	Cron        string
}

func (s Spec) IsCron() bool { return s.Cron != "" }

// Handler runs a fired job.
type Handler func(ctx context.Context, spec Spec) error

// Runner accepts fired jobs for execution. *engine.Service satisfies it.
type Runner interface {
	Enqueue(t engine.Task) error
}

type Config struct {
	// Timezone is the IANA zone cron expressions are evaluated in. Empty means UTC.
	Timezone string

	// Timeout is the per-fire task timeout. 0 uses the engine default.
	Timeout time.Duration
}

// JobInfo is a diagnostics view of one scheduled job.
type JobInfo struct {
	Spec Spec
	Next time.Time
}
