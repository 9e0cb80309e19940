// Package delivery defines the outbound collaborators of the scheduler core
// (message delivery, user timezones, human time parsing) and renders the
// texts they carry.
package delivery

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/item"
)

// ErrUnavailable matches every delivery failure. The core logs it and moves on.
var ErrUnavailable = errors.New("delivery unavailable")

// DefaultTimezone is used for users who never set one.
const DefaultTimezone = "America/Chicago"

type ChannelRef struct {
	ChatID   int64
	ThreadID int
}

type UserRef struct {
	UserID int64
}

// Button is an inline button; Data comes back with the press.
type Button struct {
	Text string
	Data string
}

// View is a rendered message with optional inline buttons. Text is HTML.
type View struct {
	Text    string
	Buttons [][]Button
}

// Deliverer sends rendered texts to chats and users.
type Deliverer interface {
	DeliverToChannel(ctx context.Context, ch ChannelRef, text string) error
	DeliverToUser(ctx context.Context, u UserRef, text string) error
	PostAnnouncement(ctx context.Context, ch ChannelRef, v View) (item.MessageRef, error)
	EditAnnouncement(ctx context.Context, ref item.MessageRef, v View) error
}

// TimezoneResolver returns a user's IANA zone, DefaultTimezone when unset.
type TimezoneResolver interface {
	ResolveUserTimezone(ctx context.Context, userID int64) string
}

// HumanTimeParser turns text like "tomorrow 7pm" into an instant, reading it
// in zone relative to now.
type HumanTimeParser interface {
	ParseHumanTime(text, zone string, now time.Time) (time.Time, bool)
}

// DeliverTo routes text to the item's target.
func DeliverTo(ctx context.Context, d Deliverer, t item.Target, text string) error {
	switch t.Kind {
	case item.TargetChannel:
		return d.DeliverToChannel(ctx, ChannelRef{ChatID: t.ChatID, ThreadID: t.ThreadID}, text)
	case item.TargetUser:
		return d.DeliverToUser(ctx, UserRef{UserID: t.UserID}, text)
	default:
		return errors.New("target has no destination")
	}
}
