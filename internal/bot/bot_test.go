package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"remindbot/internal/agenda"
	"remindbot/internal/humantime"
	"remindbot/internal/item"
	"remindbot/internal/schedule"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

type fakeAdapter struct {
	sent    chan string
	answers chan string
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }
func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.sent <- text
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}
func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}
func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	f.answers <- text
	return nil
}

type fakeAgenda struct {
	mu        sync.Mutex
	events    []agenda.EventRequest
	reminders []agenda.ReminderRequest
	deleted   []int64
	zone      string
	err       error
}

func (a *fakeAgenda) CreateEvent(_ context.Context, req agenda.EventRequest) (*item.Item, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	a.events = append(a.events, req)
	sp := schedule.Absolute(time.Date(2030, 1, 2, 19, 0, 0, 0, time.UTC))
	if req.Cron != "" {
		sp = schedule.Cron(req.Cron)
	}
	return &item.Item{ID: 3, Kind: item.KindEvent, Payload: req.Title, Schedule: sp, LeadOffsets: req.Lead}, nil
}

func (a *fakeAgenda) CreateReminder(_ context.Context, req agenda.ReminderRequest) (*item.Item, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reminders = append(a.reminders, req)
	tgt := item.ChannelTarget(req.ChatID, req.ThreadID)
	if req.DM {
		tgt = item.UserTarget(req.CreatedBy)
	}
	return &item.Item{ID: 4, Kind: item.KindReminder, Payload: req.Text, Target: tgt,
		Schedule: schedule.Absolute(time.Date(2030, 1, 2, 19, 0, 0, 0, time.UTC))}, nil
}

func (a *fakeAgenda) ListEvents(context.Context, int64) ([]*item.Item, error) {
	return []*item.Item{
		{ID: 1, Payload: "Raid <night>", Schedule: schedule.Absolute(time.Date(2030, 1, 2, 19, 0, 0, 0, time.UTC))},
		{ID: 2, Payload: "Weekly", Schedule: schedule.Cron("0 19 * * 2")},
	}, nil
}

func (a *fakeAgenda) ListReminders(context.Context, int64) ([]*item.Item, error) { return nil, nil }

func (a *fakeAgenda) DeleteEvent(_ context.Context, _ int64, id int64) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = append(a.deleted, id)
	return id == 1, nil
}

func (a *fakeAgenda) DeleteReminder(context.Context, int64, int64) (bool, error) { return false, nil }

func (a *fakeAgenda) Announce(context.Context, int64, int64) (item.MessageRef, error) {
	return item.MessageRef{}, storage.ErrNotFound
}

func (a *fakeAgenda) RSVPs(context.Context, int64, int64) (*item.Item, item.Tally, error) {
	ev := &item.Item{ID: 1, Payload: "Raid", Schedule: schedule.Cron("0 19 * * 2")}
	return ev, item.Tally{Going: []int64{5}}, nil
}

func (a *fakeAgenda) SetTimezone(_ context.Context, _ int64, zone string) error {
	if zone == "Nowhere/Land" {
		return humantime.ErrUnknownTimezone
	}
	return nil
}

func (a *fakeAgenda) Timezone(context.Context, int64) string {
	if a.zone != "" {
		return a.zone
	}
	return "UTC"
}

type fakeVotes struct {
	err error
	got chan item.RSVPStatus
}

func (v *fakeVotes) SetStatus(_ context.Context, _, _ int64, st item.RSVPStatus) (item.Tally, error) {
	if v.err != nil {
		return item.Tally{}, v.err
	}
	v.got <- st
	return item.Tally{}, nil
}

type harness struct {
	ag      *fakeAgenda
	votes   *fakeVotes
	adapter *fakeAdapter
	updates chan kit.Update
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ag:      &fakeAgenda{},
		votes:   &fakeVotes{got: make(chan item.RSVPStatus, 4)},
		adapter: &fakeAdapter{sent: make(chan string, 8), answers: make(chan string, 8)},
		updates: make(chan kit.Update, 8),
	}
	b := New(h.ag, h.votes, time.Second)
	r := router.New(logx.Nop(), h.adapter, router.WithWorkers(1))
	r.SetRegistry(b.Commands(), b.Callbacks())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.DispatchLoop(ctx, h.updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) say(t *testing.T, text string, private bool) string {
	t.Helper()
	h.updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: -10, ThreadID: 6, FromID: 42, Text: text, Private: private}}
	select {
	case got := <-h.adapter.sent:
		return got
	case <-time.After(2 * time.Second):
		t.Fatalf("no reply to %q", text)
		return ""
	}
}

func TestCreateEventCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	reply := h.say(t, `/event when="next tue 7pm" title="Raid night" lead=60,10 mention=@raiders`, false)
	if !strings.Contains(reply, "Event <b>#3</b> created: Raid night") || !strings.Contains(reply, "Lead:</b> 60,10") {
		t.Fatalf("reply = %q", reply)
	}
	h.ag.mu.Lock()
	req := h.ag.events[0]
	h.ag.mu.Unlock()
	if req.Scope != -10 || req.ThreadID != 6 || req.CreatedBy != 42 || req.When != "next tue 7pm" ||
		req.Mention != "@raiders" || !req.Announce || len(req.Lead) != 2 {
		t.Fatalf("request = %+v", req)
	}

	reply = h.say(t, `/event cron="0 19 * * TUE" title=Weekly announce=no`, false)
	if !strings.Contains(reply, "recurring (0 19 * * TUE)") {
		t.Fatalf("cron reply = %q", reply)
	}
	h.ag.mu.Lock()
	req = h.ag.events[1]
	h.ag.mu.Unlock()
	if req.Announce || req.Cron != "0 19 * * TUE" {
		t.Fatalf("cron request = %+v", req)
	}
}

func TestCreateEventErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if reply := h.say(t, "/event", false); !strings.HasPrefix(reply, "Usage:") {
		t.Fatalf("reply = %q", reply)
	}
	if reply := h.say(t, `/event when=soon title=x lead=abc`, false); !strings.Contains(reply, "malformed schedule") {
		t.Fatalf("bad lead reply = %q", reply)
	}

	h.ag.mu.Lock()
	h.ag.err = agenda.ErrPastTime
	h.ag.mu.Unlock()
	if reply := h.say(t, `/event when=yesterday title=x`, false); !strings.Contains(reply, "in the past") {
		t.Fatalf("past reply = %q", reply)
	}

	h.ag.mu.Lock()
	h.ag.err = errors.New("disk on fire")
	h.ag.mu.Unlock()
	if reply := h.say(t, `/event when=tomorrow title=x`, false); !strings.Contains(reply, "Something went wrong") {
		t.Fatalf("internal error reply = %q", reply)
	}
}

func TestListAndDeleteEvents(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	reply := h.say(t, "/events", false)
	for _, want := range []string{"<b>#1</b> Raid &lt;night&gt; · 2030-01-02 07:00 PM UTC", "<b>#2</b> Weekly · recurring (0 19 * * 2)"} {
		if !strings.Contains(reply, want) {
			t.Fatalf("list reply missing %q:\n%s", want, reply)
		}
	}
	if reply := h.say(t, "/event_delete #1", false); !strings.Contains(reply, "Event #1 deleted") {
		t.Fatalf("delete reply = %q", reply)
	}
	if reply := h.say(t, "/event delete 9", false); !strings.Contains(reply, "#9 not found") {
		t.Fatalf("delete missing reply = %q", reply)
	}
	if reply := h.say(t, "/event_delete abc", false); !strings.HasPrefix(reply, "Usage:") {
		t.Fatalf("bad id reply = %q", reply)
	}
	if reply := h.say(t, "/event_announce 5", false); reply != "Not found." {
		t.Fatalf("announce reply = %q", reply)
	}
	if reply := h.say(t, "/event_rsvps 1", false); !strings.Contains(reply, "Going (1)") {
		t.Fatalf("rsvps reply = %q", reply)
	}
}

func TestRemindCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if reply := h.say(t, `/remind when="in 2h" text=stretch`, false); !strings.Contains(reply, ", here.") {
		t.Fatalf("reply = %q", reply)
	}
	if reply := h.say(t, `/remind when="in 2h" text=stretch`, true); !strings.Contains(reply, "direct message") {
		t.Fatalf("private reply = %q", reply)
	}
	if reply := h.say(t, `/remind when="in 2h" dm=true pay rent`, false); !strings.Contains(reply, "direct message") {
		t.Fatalf("dm reply = %q", reply)
	}
	h.ag.mu.Lock()
	last := h.ag.reminders[2]
	h.ag.mu.Unlock()
	if last.Text != "pay rent" || !last.DM {
		t.Fatalf("request = %+v", last)
	}
	if reply := h.say(t, "/reminders", false); reply != "You have no reminders." {
		t.Fatalf("list reply = %q", reply)
	}
}

func TestTimezoneCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	if reply := h.say(t, "/tz", false); !strings.Contains(reply, "<code>UTC</code>") {
		t.Fatalf("reply = %q", reply)
	}
	if reply := h.say(t, "/tz Nowhere/Land", false); !strings.Contains(reply, "Unknown timezone") {
		t.Fatalf("bad zone reply = %q", reply)
	}
	if reply := h.say(t, "/tz Europe/Berlin", false); !strings.Contains(reply, "Timezone set") {
		t.Fatalf("set reply = %q", reply)
	}
}

func TestRSVPButton(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	press := func(data string) string {
		h.updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "q", ChatID: -10, FromID: 42, Data: data}}
		select {
		case a := <-h.adapter.answers:
			return a
		case <-time.After(2 * time.Second):
			t.Fatalf("callback %q not answered", data)
			return ""
		}
	}

	if got := press("rsvp:7:maybe"); got != "❓ Marked as maybe" {
		t.Fatalf("answer = %q", got)
	}
	if st := <-h.votes.got; st != item.RSVPMaybe {
		t.Fatalf("status = %q", st)
	}
	if got := press("rsvp:7:sideways"); got != "Unknown button" {
		t.Fatalf("bad status answer = %q", got)
	}
	h.votes.err = storage.ErrNotFound
	if got := press("rsvp:8:going"); got != "This event no longer exists" {
		t.Fatalf("missing event answer = %q", got)
	}
}
