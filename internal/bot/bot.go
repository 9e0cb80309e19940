// Package bot maps chat commands and RSVP button presses onto the agenda
// and rsvp services.
package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/agenda"
	"remindbot/internal/delivery"
	"remindbot/internal/humantime"
	"remindbot/internal/item"
	"remindbot/internal/schedule"
	"remindbot/internal/storage"
	"remindbot/internal/transport/telegram/router"
)

// Agenda is the client-operation surface the commands call.
type Agenda interface {
	CreateEvent(ctx context.Context, req agenda.EventRequest) (*item.Item, error)
	CreateReminder(ctx context.Context, req agenda.ReminderRequest) (*item.Item, error)
	ListEvents(ctx context.Context, scope int64) ([]*item.Item, error)
	ListReminders(ctx context.Context, userID int64) ([]*item.Item, error)
	DeleteEvent(ctx context.Context, scope, id int64) (bool, error)
	DeleteReminder(ctx context.Context, userID, id int64) (bool, error)
	Announce(ctx context.Context, scope, id int64) (item.MessageRef, error)
	RSVPs(ctx context.Context, scope, id int64) (*item.Item, item.Tally, error)
	SetTimezone(ctx context.Context, userID int64, zone string) error
	Timezone(ctx context.Context, userID int64) string
}

// Votes records RSVP button presses.
type Votes interface {
	SetStatus(ctx context.Context, itemID, userID int64, status item.RSVPStatus) (item.Tally, error)
}

type Bot struct {
	agenda  Agenda
	votes   Votes
	ops     Ops
	timeout time.Duration
}

// New returns the command set. timeout bounds each handler; zero leaves
// them unbounded.
func New(a Agenda, v Votes, timeout time.Duration) *Bot {
	return &Bot{agenda: a, votes: v, timeout: timeout}
}

// Commands returns the routes to install with router.SetRegistry.
func (b *Bot) Commands() []router.Command {
	return append([]router.Command{
		{
			Route:       "event",
			Description: "create an event",
			Usage:       `/event when="next tue 7pm" title="Raid night" [lead=60,10] [mention=@raiders] [announce=false] | /event cron="0 19 * * TUE" title=...`,
			Timeout:     b.timeout,
			Handle:      b.createEvent,
		},
		{Route: "events", Description: "list events in this chat", Usage: "/events", Timeout: b.timeout, Handle: b.listEvents},
		{Route: "event delete", Description: "delete an event", Usage: "/event_delete <id>", Timeout: b.timeout, Handle: b.deleteEvent},
		{Route: "event announce", Description: "post an RSVP announcement", Usage: "/event_announce <id>", Timeout: b.timeout, Handle: b.announceEvent},
		{Route: "event rsvps", Description: "show who is coming", Usage: "/event_rsvps <id>", Timeout: b.timeout, Handle: b.eventRSVPs},
		{
			Route:       "remind",
			Description: "set a reminder",
			Usage:       `/remind when="in 2h" text="stretch" [dm=true] [mention=@me]`,
			Timeout:     b.timeout,
			Handle:      b.createReminder,
		},
		{Route: "reminders", Description: "list your reminders", Usage: "/reminders", Timeout: b.timeout, Handle: b.listReminders},
		{Route: "remind delete", Description: "delete a reminder", Usage: "/remind_delete <id>", Timeout: b.timeout, Handle: b.deleteReminder},
		{Route: "tz", Description: "show or set your timezone", Usage: "/tz [Area/City]", Timeout: b.timeout, Handle: b.timezone},
	}, b.opsCommands()...)
}

// Callbacks returns the inline-button routes.
func (b *Bot) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{{
		Prefix:      "rsvp",
		Description: "RSVP buttons",
		Access:      router.AccessEveryone,
		Timeout:     b.timeout,
		Handle:      b.rsvpPressed,
	}}
}

// replyErr turns a domain error into a user-facing reply. Errors that are
// not the user's fault are returned so the request log records them.
func replyErr(ctx context.Context, req *router.Request, err error) error {
	var msg string
	switch {
	case errors.Is(err, agenda.ErrPastTime):
		msg = "That time is already in the past."
	case errors.Is(err, agenda.ErrUnparsedTime):
		msg = "I couldn't understand that time. Try <code>in 2h</code>, <code>tomorrow 7pm</code> or <code>2025-06-01 19:00</code>."
	case errors.Is(err, schedule.ErrMalformedSchedule), errors.Is(err, item.ErrInvalid):
		msg = "❌ " + html.EscapeString(err.Error())
	case errors.Is(err, storage.ErrNotFound):
		msg = "Not found."
	default:
		_ = req.Reply(ctx, "Something went wrong, please try again later.")
		return err
	}
	return req.Reply(ctx, msg)
}

func usage(ctx context.Context, req *router.Request, u string) error {
	return req.Reply(ctx, "Usage: <code>"+html.EscapeString(u)+"</code>")
}

func parseID(req *router.Request) (int64, bool) {
	if len(req.Args) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(req.Args[0], "#"), 10, 64)
	return id, err == nil && id > 0
}

func parseBool(s string, def bool) bool {
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		switch strings.ToLower(s) {
		case "yes", "y", "on":
			return true
		case "no", "n", "off":
			return false
		}
		return def
	}
	return v
}

func (b *Bot) createEvent(ctx context.Context, req *router.Request) error {
	title := req.Opt("title", strings.Join(req.Args, " "))
	when, cron := req.Opt("when", ""), req.Opt("cron", "")
	if strings.TrimSpace(title) == "" || (when == "" && cron == "") {
		return usage(ctx, req, `/event when="next tue 7pm" title="Raid night"`)
	}
	lead, err := schedule.ParseLeadOffsets(req.Opt("lead", ""))
	if err != nil {
		return replyErr(ctx, req, err)
	}
	ev, err := b.agenda.CreateEvent(ctx, agenda.EventRequest{
		Scope:     req.Chat.ChatID,
		ChatID:    req.Chat.ChatID,
		ThreadID:  req.Chat.ThreadID,
		CreatedBy: req.FromID,
		Title:     title,
		When:      when,
		Cron:      cron,
		Lead:      lead,
		Mention:   req.Opt("mention", ""),
		Announce:  parseBool(req.Opt("announce", ""), true),
	})
	if err != nil {
		return replyErr(ctx, req, err)
	}
	zone := b.agenda.Timezone(ctx, req.FromID)
	text := fmt.Sprintf("✅ Event <b>#%d</b> created: %s\n<b>When:</b> %s",
		ev.ID, html.EscapeString(ev.Payload), html.EscapeString(delivery.WhenText(ev, zone)))
	if len(ev.LeadOffsets) > 0 {
		text += "\n<b>Lead:</b> " + schedule.FormatLeadOffsets(ev.LeadOffsets) + " min"
	}
	return req.Reply(ctx, text)
}

func (b *Bot) listEvents(ctx context.Context, req *router.Request) error {
	evs, err := b.agenda.ListEvents(ctx, req.Chat.ChatID)
	if err != nil {
		return replyErr(ctx, req, err)
	}
	if len(evs) == 0 {
		return req.Reply(ctx, "No events scheduled.")
	}
	zone := b.agenda.Timezone(ctx, req.FromID)
	return req.Reply(ctx, "📅 <b>Events</b>\n"+itemLines(evs, zone))
}

func itemLines(items []*item.Item, zone string) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, fmt.Sprintf("<b>#%d</b> %s · %s", it.ID,
			html.EscapeString(it.Payload), html.EscapeString(delivery.WhenText(it, zone))))
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) deleteEvent(ctx context.Context, req *router.Request) error {
	id, ok := parseID(req)
	if !ok {
		return usage(ctx, req, "/event_delete <id>")
	}
	deleted, err := b.agenda.DeleteEvent(ctx, req.Chat.ChatID, id)
	if err != nil {
		return replyErr(ctx, req, err)
	}
	if !deleted {
		return req.Reply(ctx, fmt.Sprintf("Event #%d not found.", id))
	}
	return req.Reply(ctx, fmt.Sprintf("🗑 Event #%d deleted.", id))
}

func (b *Bot) announceEvent(ctx context.Context, req *router.Request) error {
	id, ok := parseID(req)
	if !ok {
		return usage(ctx, req, "/event_announce <id>")
	}
	if _, err := b.agenda.Announce(ctx, req.Chat.ChatID, id); err != nil {
		return replyErr(ctx, req, err)
	}
	return nil
}

func (b *Bot) eventRSVPs(ctx context.Context, req *router.Request) error {
	id, ok := parseID(req)
	if !ok {
		return usage(ctx, req, "/event_rsvps <id>")
	}
	ev, tally, err := b.agenda.RSVPs(ctx, req.Chat.ChatID, id)
	if err != nil {
		return replyErr(ctx, req, err)
	}
	return req.Reply(ctx, delivery.AnnouncementView(ev, tally, b.agenda.Timezone(ctx, req.FromID)).Text)
}

func (b *Bot) createReminder(ctx context.Context, req *router.Request) error {
	text := req.Opt("text", strings.Join(req.Args, " "))
	when := req.Opt("when", "")
	if strings.TrimSpace(text) == "" || when == "" {
		return usage(ctx, req, `/remind when="in 2h" text="stretch"`)
	}
	r, err := b.agenda.CreateReminder(ctx, agenda.ReminderRequest{
		Scope:     req.Chat.ChatID,
		ChatID:    req.Chat.ChatID,
		ThreadID:  req.Chat.ThreadID,
		CreatedBy: req.FromID,
		Text:      text,
		When:      when,
		DM:        req.Private || parseBool(req.Opt("dm", ""), false),
		Mention:   req.Opt("mention", ""),
	})
	if err != nil {
		return replyErr(ctx, req, err)
	}
	where := "here"
	if r.Target.Kind == item.TargetUser {
		where = "in a direct message"
	}
	zone := b.agenda.Timezone(ctx, req.FromID)
	return req.Reply(ctx, fmt.Sprintf("⏰ Reminder <b>#%d</b> set for %s, %s.",
		r.ID, html.EscapeString(delivery.WhenText(r, zone)), where))
}

func (b *Bot) listReminders(ctx context.Context, req *router.Request) error {
	rs, err := b.agenda.ListReminders(ctx, req.FromID)
	if err != nil {
		return replyErr(ctx, req, err)
	}
	if len(rs) == 0 {
		return req.Reply(ctx, "You have no reminders.")
	}
	zone := b.agenda.Timezone(ctx, req.FromID)
	return req.Reply(ctx, "🔔 <b>Your reminders</b>\n"+itemLines(rs, zone))
}

func (b *Bot) deleteReminder(ctx context.Context, req *router.Request) error {
	id, ok := parseID(req)
	if !ok {
		return usage(ctx, req, "/remind_delete <id>")
	}
	deleted, err := b.agenda.DeleteReminder(ctx, req.FromID, id)
	if err != nil {
		return replyErr(ctx, req, err)
	}
	if !deleted {
		return req.Reply(ctx, fmt.Sprintf("Reminder #%d not found.", id))
	}
	return req.Reply(ctx, fmt.Sprintf("🗑 Reminder #%d deleted.", id))
}

func (b *Bot) timezone(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		zone := b.agenda.Timezone(ctx, req.FromID)
		return req.Reply(ctx, "Your timezone is <code>"+html.EscapeString(zone)+"</code>. Change it with <code>/tz Area/City</code>.")
	}
	zone := req.Args[0]
	if err := b.agenda.SetTimezone(ctx, req.FromID, zone); err != nil {
		if errors.Is(err, humantime.ErrUnknownTimezone) {
			return req.Reply(ctx, "Unknown timezone <code>"+html.EscapeString(zone)+"</code>. Use a name like <code>Europe/Berlin</code>.")
		}
		return replyErr(ctx, req, err)
	}
	return req.Reply(ctx, "🌍 Timezone set to <code>"+html.EscapeString(zone)+"</code>.")
}

var rsvpToast = map[item.RSVPStatus]string{
	item.RSVPGoing:    "✅ You're going",
	item.RSVPMaybe:    "❓ Marked as maybe",
	item.RSVPNotGoing: "❌ Marked as not going",
}

func (b *Bot) rsvpPressed(ctx context.Context, req *router.Request, payload string) error {
	id, status, ok := delivery.ParseRSVPCallback("rsvp:" + payload)
	if !ok {
		req.Answer("Unknown button")
		return nil
	}
	if _, err := b.votes.SetStatus(ctx, id, req.FromID, status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			req.Answer("This event no longer exists")
			return nil
		}
		req.Answer("Could not record your answer, try again")
		return err
	}
	req.Answer(rsvpToast[status])
	return nil
}
