// Package item holds the schedulable domain types shared by storage, the job
// table and the dispatch path.
package item

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/schedule"
)

// Kind distinguishes the two item tables. It is also the prefix of every job id.
type Kind string

const (
	KindEvent    Kind = "event"
	KindReminder Kind = "reminder"
)

func (k Kind) Valid() bool { return k == KindEvent || k == KindReminder }

// TargetKind tags the Target variant.
type TargetKind int

const (
	TargetChannel TargetKind = iota + 1
	TargetUser
)

// Target is where a fired item is delivered: a chat (optionally a forum thread)
// or a user's direct messages. Build it with ChannelTarget or UserTarget.
type Target struct {
	Kind     TargetKind
	ChatID   int64
	ThreadID int
	UserID   int64
}

func ChannelTarget(chatID int64, threadID int) Target {
	return Target{Kind: TargetChannel, ChatID: chatID, ThreadID: threadID}
}

func UserTarget(userID int64) Target { return Target{Kind: TargetUser, UserID: userID} }

func (t Target) Valid() bool {
	switch t.Kind {
	case TargetChannel:
		return t.ChatID != 0
	case TargetUser:
		return t.UserID != 0
	default:
		return false
	}
}

func (t Target) String() string {
	switch t.Kind {
	case TargetChannel:
		if t.ThreadID != 0 {
			return fmt.Sprintf("channel:%d/%d", t.ChatID, t.ThreadID)
		}
		return fmt.Sprintf("channel:%d", t.ChatID)
	case TargetUser:
		return fmt.Sprintf("user:%d", t.UserID)
	default:
		return "none"
	}
}

// MessageRef addresses a posted announcement so it can be edited later.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Item is a stored event or reminder.
type Item struct {
	ID          int64
	Kind        Kind
	Scope       int64
	Payload     string
	Schedule    schedule.Spec
	LeadOffsets []int
	Target      Target
	Mention     string
	CreatedBy   int64
	CreatedAt   time.Time
	Message     *MessageRef
}

var ErrInvalid = errors.New("invalid item")

// Validate enforces the item invariants. Schedule problems are reported as
// schedule.ErrMalformedSchedule; everything else wraps ErrInvalid.
func (it *Item) Validate() error {
	if it == nil {
		return fmt.Errorf("%w: nil", ErrInvalid)
	}
	if !it.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalid, it.Kind)
	}
	if strings.TrimSpace(it.Payload) == "" {
		return fmt.Errorf("%w: empty payload", ErrInvalid)
	}
	if !it.Target.Valid() {
		return fmt.Errorf("%w: missing target", ErrInvalid)
	}
	if err := it.Schedule.Validate(); err != nil {
		return err
	}
	if len(it.LeadOffsets) > 0 {
		if it.Schedule.IsCron() {
			return &schedule.MalformedError{Field: "lead", Value: schedule.FormatLeadOffsets(it.LeadOffsets), Err: errors.New("lead offsets require an absolute time")}
		}
		if it.Kind != KindEvent {
			return fmt.Errorf("%w: lead offsets are only supported on events", ErrInvalid)
		}
		norm, err := schedule.NormalizeLeadOffsets(it.LeadOffsets)
		if err != nil {
			return err
		}
		it.LeadOffsets = norm
	}
	return nil
}

// PrimaryJobID is the job id of the item's main trigger.
func (it *Item) PrimaryJobID() string { return PrimaryJobID(it.Kind, it.ID) }

// LeadJobID is the job id of the lead trigger m minutes before the main one.
func (it *Item) LeadJobID(m int) string { return LeadJobID(it.Kind, it.ID, m) }

// JobIDs lists every job id the item can own, whether or not it is installed.
func (it *Item) JobIDs() []string {
	ids := make([]string, 0, 1+len(it.LeadOffsets))
	ids = append(ids, it.PrimaryJobID())
	for _, m := range it.LeadOffsets {
		ids = append(ids, it.LeadJobID(m))
	}
	return ids
}

func PrimaryJobID(k Kind, id int64) string {
	return string(k) + ":" + strconv.FormatInt(id, 10)
}

func LeadJobID(k Kind, id int64, m int) string {
	return PrimaryJobID(k, id) + ":lead:" + strconv.Itoa(m)
}

// ParseJobID is the inverse of PrimaryJobID/LeadJobID. lead is 0 for primary ids.
func ParseJobID(s string) (k Kind, id int64, lead int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 && !(len(parts) == 4 && parts[2] == "lead") {
		return "", 0, 0, fmt.Errorf("bad job id %q", s)
	}
	k = Kind(parts[0])
	if !k.Valid() {
		return "", 0, 0, fmt.Errorf("bad job id %q: unknown kind", s)
	}
	id, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("bad job id %q: %w", s, err)
	}
	if len(parts) == 4 {
		lead, err = strconv.Atoi(parts[3])
		if err != nil || lead <= 0 {
			return "", 0, 0, fmt.Errorf("bad job id %q: lead", s)
		}
	}
	return k, id, lead, nil
}
