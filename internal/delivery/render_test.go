package delivery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"remindbot/internal/item"
	"remindbot/internal/schedule"
	kit "remindbot/internal/transport"
)

func TestEventText(t *testing.T) {
	t.Parallel()
	it := &item.Item{Payload: "Raid <night>", Mention: "@raiders"}
	tests := []struct {
		lead int
		want string
	}{
		{0, "⏰ <b>Event Reminder:</b> Raid &lt;night&gt; @raiders"},
		{10, "⏰ <b>Event Reminder:</b> Raid &lt;night&gt; starts in 10 min @raiders"},
	}
	for _, tt := range tests {
		if got := EventText(it, tt.lead); got != tt.want {
			t.Fatalf("EventText(%d) = %q, want %q", tt.lead, got, tt.want)
		}
	}
	if got := ReminderText(&item.Item{Payload: "stretch"}); got != "🔔 <b>Reminder:</b> stretch" {
		t.Fatalf("ReminderText() = %q", got)
	}
}

func TestFormatWhen(t *testing.T) {
	t.Parallel()
	at := time.Date(2030, 7, 4, 0, 30, 0, 0, time.UTC)
	if got, want := FormatWhen(at, "America/Chicago"), "2030-07-03 07:30 PM CDT"; got != want {
		t.Fatalf("FormatWhen() = %q, want %q", got, want)
	}
	if got, want := FormatWhen(at, "Not/AZone"), "2030-07-03 07:30 PM CDT"; got != want {
		t.Fatalf("FormatWhen(bad zone) = %q, want %q", got, want)
	}
}

func TestAnnouncementView(t *testing.T) {
	t.Parallel()
	it := &item.Item{ID: 12, Payload: "Weekly sync", Schedule: schedule.Cron("0 19 * * 2")}
	tally := item.Tally{Going: []int64{1, 2}}
	v := AnnouncementView(it, tally, "UTC")

	for _, want := range []string{
		"📅 <b>Weekly sync</b>",
		"<b>When:</b> recurring (0 19 * * 2)",
		"✅ Going (2):</b> <a href=\"tg://user?id=1\">1</a>, <a href=\"tg://user?id=2\">2</a>",
		"❓ Maybe (0):</b> —",
		"❌ Not Going (0):</b> —",
	} {
		if !strings.Contains(v.Text, want) {
			t.Fatalf("view text missing %q:\n%s", want, v.Text)
		}
	}
	if len(v.Buttons) != 1 || len(v.Buttons[0]) != 3 || v.Buttons[0][2].Data != "rsvp:12:not-going" {
		t.Fatalf("Buttons = %+v", v.Buttons)
	}
}

func TestParseRSVPCallback(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		id   int64
		st   item.RSVPStatus
		okay bool
	}{
		{RSVPCallbackData(5, item.RSVPMaybe), 5, item.RSVPMaybe, true},
		{"rsvp:5:sure", 0, "", false},
		{"rsvp:x:going", 0, "", false},
		{"rsvp:5", 0, "", false},
		{"vote:5:going", 0, "", false},
	}
	for _, tt := range tests {
		id, st, ok := ParseRSVPCallback(tt.in)
		if id != tt.id || st != tt.st || ok != tt.okay {
			t.Fatalf("ParseRSVPCallback(%q) = %d, %q, %v", tt.in, id, st, ok)
		}
	}
}

type fakeTransport struct {
	kit.Adapter
	to   kit.ChatTarget
	opt  *kit.SendOptions
	edit kit.MessageRef
	err  error
}

func (f *fakeTransport) SendText(_ context.Context, to kit.ChatTarget, _ string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.to, f.opt = to, opt
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: 99}, f.err
}

func (f *fakeTransport) EditText(_ context.Context, ref kit.MessageRef, _ string, opt *kit.SendOptions) error {
	f.edit, f.opt = ref, opt
	return f.err
}

func TestTelegramDelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := &fakeTransport{}
	d := NewTelegram(tr)

	if err := DeliverTo(ctx, d, item.UserTarget(77), "hi"); err != nil {
		t.Fatal(err)
	}
	if tr.to.ChatID != 77 || tr.opt.ParseMode != "HTML" {
		t.Fatalf("DM sent to %+v with %+v", tr.to, tr.opt)
	}

	ref, err := d.PostAnnouncement(ctx, ChannelRef{ChatID: -5, ThreadID: 3}, View{Text: "x", Buttons: [][]Button{{{Text: "a", Data: "b"}}}})
	if err != nil {
		t.Fatal(err)
	}
	if ref != (item.MessageRef{ChatID: -5, ThreadID: 3, MessageID: 99}) || len(tr.opt.Buttons) != 1 {
		t.Fatalf("PostAnnouncement() = %+v, opts %+v", ref, tr.opt)
	}
	if htmlOpts.Buttons != nil {
		t.Fatal("shared send options mutated")
	}

	tr.err = errors.New("chat not found")
	if err := d.DeliverToChannel(ctx, ChannelRef{ChatID: -5}, "x"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("DeliverToChannel() = %v, want ErrUnavailable", err)
	}
	if err := d.EditAnnouncement(ctx, ref, View{}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("EditAnnouncement() = %v, want ErrUnavailable", err)
	}
}
