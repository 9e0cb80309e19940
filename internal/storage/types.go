package storage

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/item"
)

var (
	// ErrNotFound means the addressed row does not exist. Callers at fire and
	// RSVP time treat it as a no-op.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable matches every backend failure (see OpError).
	ErrUnavailable = errors.New("store unavailable")
)

// OpError wraps a backend failure with the operation that hit it.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string { return "storage " + e.Op + ": " + e.Err.Error() }
func (e *OpError) Unwrap() error { return e.Err }

func (e *OpError) Is(target error) bool { return target == ErrUnavailable }

func opErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL reachable through DSN
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DefaultListLimit bounds ListEvents and ListReminders when limit <= 0.
const DefaultListLimit = 20

// Store is the persistence API used by the scheduler core and the agenda service.
type Store interface {
	// CreateEvent inserts it and assigns ID and CreatedAt.
	CreateEvent(ctx context.Context, it *item.Item) error
	GetEvent(ctx context.Context, id int64) (*item.Item, error)
	// ListEvents returns a scope's events: absolute ones by time, cron ones last.
	ListEvents(ctx context.Context, scope int64, limit int) ([]*item.Item, error)
	ListAllEvents(ctx context.Context) ([]*item.Item, error)
	SetEventMessage(ctx context.Context, id int64, ref item.MessageRef) error
	// DeleteEvent removes an event owned by scope together with its RSVP rows.
	DeleteEvent(ctx context.Context, scope, id int64) (bool, error)

	CreateReminder(ctx context.Context, it *item.Item) error
	GetReminder(ctx context.Context, id int64) (*item.Item, error)
	ListReminders(ctx context.Context, userID int64, limit int) ([]*item.Item, error)
	ListAllReminders(ctx context.Context) ([]*item.Item, error)
	DeleteReminder(ctx context.Context, userID, id int64) (bool, error)
	// ConsumeReminder deletes a fired one-shot reminder. A missing row is not an error.
	ConsumeReminder(ctx context.Context, id int64) error

	// UpsertRSVP returns ErrNotFound when the event does not exist.
	UpsertRSVP(ctx context.Context, r item.RSVP) error
	RSVPTally(ctx context.Context, eventID int64) (item.Tally, error)

	GetTimezone(ctx context.Context, userID int64) (string, bool, error)
	SetTimezone(ctx context.Context, userID int64, tz string) error

	Close() error
}
