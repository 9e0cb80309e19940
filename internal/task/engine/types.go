package engine

import (
	"context"
	"time"
)

// Config controls the task execution engine.
type Config struct {
	QueueSize int

	// DefaultTimeout is used when Task.Timeout is 0. 0 disables it.
	DefaultTimeout time.Duration

	HistorySize int
}

// Task is a unit of work executed by the engine. Tasks never retry.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type HistoryItem struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// TaskEvent is published on the bus after each task.
type TaskEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running  bool
	QueueLen int
	QueueCap int
	Executed uint64
	Failed   uint64
	Dropped  uint64
	History  []HistoryItem
}
