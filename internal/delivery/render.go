package delivery

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/item"
)

// WhenLayout formats instants shown to users.
const WhenLayout = "2006-01-02 03:04 PM MST"

const rsvpCallbackPrefix = "rsvp:"

// FormatWhen renders t in zone; an unknown zone falls back to DefaultTimezone.
func FormatWhen(t time.Time, zone string) string {
	return t.In(LoadZone(zone)).Format(WhenLayout)
}

// LoadZone resolves zone, falling back to DefaultTimezone and then UTC.
func LoadZone(zone string) *time.Location {
	if zone = strings.TrimSpace(zone); zone != "" {
		if loc, err := time.LoadLocation(zone); err == nil {
			return loc
		}
	}
	if loc, err := time.LoadLocation(DefaultTimezone); err == nil {
		return loc
	}
	return time.UTC
}

func withMention(s, mention string) string {
	if m := strings.TrimSpace(mention); m != "" {
		return s + " " + html.EscapeString(m)
	}
	return s
}

// LeadTitle is the payload of a lead fire.
func LeadTitle(title string, minutes int) string {
	return fmt.Sprintf("%s starts in %d min", title, minutes)
}

// EventText renders an event fire. leadMinutes > 0 renders a lead fire.
func EventText(it *item.Item, leadMinutes int) string {
	title := it.Payload
	if leadMinutes > 0 {
		title = LeadTitle(title, leadMinutes)
	}
	return withMention("⏰ <b>Event Reminder:</b> "+html.EscapeString(title), it.Mention)
}

// ReminderText renders a reminder fire.
func ReminderText(it *item.Item) string {
	return withMention("🔔 <b>Reminder:</b> "+html.EscapeString(it.Payload), it.Mention)
}

// WhenText describes an item's schedule for display.
func WhenText(it *item.Item, zone string) string {
	if it.Schedule.IsCron() {
		return "recurring (" + it.Schedule.Cron + ")"
	}
	return FormatWhen(it.Schedule.At, zone)
}

func voterList(ids []int64) string {
	if len(ids) == 0 {
		return "—"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf(`<a href="tg://user?id=%d">%d</a>`, id, id)
	}
	return strings.Join(parts, ", ")
}

// AnnouncementView renders the RSVP announcement of an event with its buttons.
func AnnouncementView(it *item.Item, t item.Tally, zone string) View {
	var b strings.Builder
	b.WriteString("📅 <b>" + html.EscapeString(it.Payload) + "</b>\n")
	b.WriteString("<b>When:</b> " + html.EscapeString(WhenText(it, zone)) + "\n")
	if m := strings.TrimSpace(it.Mention); m != "" {
		b.WriteString(html.EscapeString(m) + "\n")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "<b>✅ Going (%d):</b> %s\n", len(t.Going), voterList(t.Going))
	fmt.Fprintf(&b, "<b>❓ Maybe (%d):</b> %s\n", len(t.Maybe), voterList(t.Maybe))
	fmt.Fprintf(&b, "<b>❌ Not Going (%d):</b> %s", len(t.NotGoing), voterList(t.NotGoing))

	return View{
		Text: b.String(),
		Buttons: [][]Button{{
			{Text: "✅ Going", Data: RSVPCallbackData(it.ID, item.RSVPGoing)},
			{Text: "❓ Maybe", Data: RSVPCallbackData(it.ID, item.RSVPMaybe)},
			{Text: "❌ Not Going", Data: RSVPCallbackData(it.ID, item.RSVPNotGoing)},
		}},
	}
}

func RSVPCallbackData(id int64, st item.RSVPStatus) string {
	return rsvpCallbackPrefix + strconv.FormatInt(id, 10) + ":" + string(st)
}

// ParseRSVPCallback is the inverse of RSVPCallbackData.
func ParseRSVPCallback(data string) (int64, item.RSVPStatus, bool) {
	rest, ok := strings.CutPrefix(data, rsvpCallbackPrefix)
	if !ok {
		return 0, "", false
	}
	idStr, stStr, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, "", false
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	st := item.RSVPStatus(stStr)
	if !st.Valid() {
		return 0, "", false
	}
	return id, st, true
}
