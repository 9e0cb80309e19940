package item

import (
	"fmt"
	"strings"
	"time"
)

// RSVPStatus is a user's answer to an event. Any status may replace any other.
type RSVPStatus string

const (
	RSVPGoing    RSVPStatus = "going"
	RSVPNotGoing RSVPStatus = "not-going"
	RSVPMaybe    RSVPStatus = "maybe"
)

func (s RSVPStatus) Valid() bool {
	return s == RSVPGoing || s == RSVPNotGoing || s == RSVPMaybe
}

// ParseRSVPStatus accepts the canonical names plus a few chat-friendly aliases.
func ParseRSVPStatus(raw string) (RSVPStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "going", "yes", "y":
		return RSVPGoing, nil
	case "not-going", "not", "no", "n", "notgoing":
		return RSVPNotGoing, nil
	case "maybe", "m", "?":
		return RSVPMaybe, nil
	default:
		return "", fmt.Errorf("unknown rsvp status %q", raw)
	}
}

// RSVP is one user's vote on one event.
type RSVP struct {
	ItemID    int64
	UserID    int64
	Status    RSVPStatus
	UpdatedAt time.Time
}

// Tally groups user ids per status. It is always rebuilt from storage.
type Tally struct {
	Going    []int64
	Maybe    []int64
	NotGoing []int64
}

func (t *Tally) Add(userID int64, st RSVPStatus) {
	switch st {
	case RSVPGoing:
		t.Going = append(t.Going, userID)
	case RSVPMaybe:
		t.Maybe = append(t.Maybe, userID)
	case RSVPNotGoing:
		t.NotGoing = append(t.NotGoing, userID)
	}
}

func (t Tally) Counts() map[RSVPStatus]int {
	return map[RSVPStatus]int{
		RSVPGoing:    len(t.Going),
		RSVPMaybe:    len(t.Maybe),
		RSVPNotGoing: len(t.NotGoing),
	}
}

func (t Tally) Total() int { return len(t.Going) + len(t.Maybe) + len(t.NotGoing) }
