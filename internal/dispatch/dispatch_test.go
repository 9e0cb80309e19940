package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"remindbot/internal/delivery"
	"remindbot/internal/delivery/deliverytest"
	"remindbot/internal/eventbus"
	"remindbot/internal/item"
	"remindbot/internal/schedule"
	"remindbot/internal/storage"
	"remindbot/internal/task/jobs"
	logx "remindbot/pkg/logx"
)

type memStore struct {
	events    map[int64]*item.Item
	reminders map[int64]*item.Item
	consumed  []int64
	err       error
}

func (m *memStore) GetEvent(_ context.Context, id int64) (*item.Item, error) {
	if m.err != nil {
		return nil, m.err
	}
	if it, ok := m.events[id]; ok {
		return it, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) GetReminder(_ context.Context, id int64) (*item.Item, error) {
	if m.err != nil {
		return nil, m.err
	}
	if it, ok := m.reminders[id]; ok {
		return it, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) ConsumeReminder(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.consumed = append(m.consumed, id)
	delete(m.reminders, id)
	return nil
}

func fixture() (*memStore, *deliverytest.Recorder, *Dispatcher) {
	at := time.Now().Add(time.Hour)
	st := &memStore{
		events: map[int64]*item.Item{
			7: {ID: 7, Kind: item.KindEvent, Payload: "Raid", Schedule: schedule.Absolute(at), Target: item.ChannelTarget(-100, 2), Mention: "@all"},
			8: {ID: 8, Kind: item.KindEvent, Payload: "Weekly", Schedule: schedule.Cron("0 19 * * 2"), Target: item.ChannelTarget(-100, 0)},
		},
		reminders: map[int64]*item.Item{
			3: {ID: 3, Kind: item.KindReminder, Payload: "stretch", Schedule: schedule.Absolute(at), Target: item.UserTarget(55)},
		},
	}
	rec := &deliverytest.Recorder{}
	return st, rec, New(st, rec, logx.Nop(), eventbus.New())
}

func TestFireEventAndLead(t *testing.T) {
	t.Parallel()
	st, rec, d := fixture()
	ctx := context.Background()

	if err := d.Fire(ctx, jobs.Spec{ID: "event:7", Kind: item.KindEvent, ItemID: 7}); err != nil {
		t.Fatal(err)
	}
	last := rec.Last()
	if last.Channel == nil || last.Channel.ChatID != -100 || last.Channel.ThreadID != 2 {
		t.Fatalf("delivered to %+v", last)
	}
	if last.Text != "⏰ <b>Event Reminder:</b> Raid @all" {
		t.Fatalf("text = %q", last.Text)
	}

	lead := jobs.Spec{ID: "event:7:lead:10", Kind: item.KindEvent, ItemID: 7, Fire: jobs.FireLead, LeadMinutes: 10}
	if err := d.Fire(ctx, lead); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rec.Last().Text, "Raid starts in 10 min") {
		t.Fatalf("lead text = %q", rec.Last().Text)
	}
	if len(st.events) != 2 || len(st.consumed) != 0 {
		t.Fatal("events must never be deleted by a fire")
	}
}

func TestFireReminderConsumes(t *testing.T) {
	t.Parallel()
	st, rec, d := fixture()
	if err := d.Fire(context.Background(), jobs.Spec{ID: "reminder:3", Kind: item.KindReminder, ItemID: 3}); err != nil {
		t.Fatal(err)
	}
	if u := rec.Last().User; u == nil || u.UserID != 55 {
		t.Fatalf("delivered to %+v", rec.Last())
	}
	if len(st.consumed) != 1 || st.consumed[0] != 3 {
		t.Fatalf("consumed = %v", st.consumed)
	}
}

func TestFireReminderConsumedEvenWhenDeliveryFails(t *testing.T) {
	t.Parallel()
	st, rec, d := fixture()
	rec.Err = delivery.ErrUnavailable
	if err := d.Fire(context.Background(), jobs.Spec{ID: "reminder:3", Kind: item.KindReminder, ItemID: 3}); err != nil {
		t.Fatalf("Fire() = %v, delivery errors must be swallowed", err)
	}
	if len(st.consumed) != 1 {
		t.Fatalf("consumed = %v", st.consumed)
	}
}

func TestFireMissingItemIsNoop(t *testing.T) {
	t.Parallel()
	_, rec, d := fixture()
	if err := d.Fire(context.Background(), jobs.Spec{ID: "event:99", Kind: item.KindEvent, ItemID: 99}); err != nil {
		t.Fatalf("Fire() = %v", err)
	}
	if len(rec.Sent()) != 0 {
		t.Fatal("delivered a missing item")
	}
}

func TestFireStoreFailurePropagates(t *testing.T) {
	t.Parallel()
	st, _, d := fixture()
	st.err = &storage.OpError{Op: "events.get", Err: errors.New("disk I/O error")}
	err := d.Fire(context.Background(), jobs.Spec{ID: "event:7", Kind: item.KindEvent, ItemID: 7})
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("Fire() = %v, want ErrUnavailable", err)
	}
}

func TestFireCronNeverDeletes(t *testing.T) {
	t.Parallel()
	st, rec, d := fixture()
	for i := 0; i < 3; i++ {
		if err := d.Fire(context.Background(), jobs.Spec{ID: "event:8", Kind: item.KindEvent, ItemID: 8, Cron: "0 19 * * 2"}); err != nil {
			t.Fatal(err)
		}
	}
	if len(rec.Sent()) != 3 || len(st.consumed) != 0 {
		t.Fatalf("sent %d, consumed %v", len(rec.Sent()), st.consumed)
	}
}

// stalledUser never completes a DM until its context ends.
type stalledUser struct{ *deliverytest.Recorder }

func (stalledUser) DeliverToUser(ctx context.Context, _ delivery.UserRef, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestFireReminderConsumedAfterDeliveryTimeout(t *testing.T) {
	t.Parallel()
	st, _, _ := fixture()
	d := New(st, stalledUser{&deliverytest.Recorder{}}, logx.Nop(), eventbus.New())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := d.Fire(ctx, jobs.Spec{ID: "reminder:3", Kind: item.KindReminder, ItemID: 3}); err != nil {
		t.Fatalf("Fire() = %v", err)
	}
	if len(st.consumed) != 1 || st.consumed[0] != 3 {
		t.Fatalf("consumed = %v, want [3]", st.consumed)
	}
	if _, ok := st.reminders[3]; ok {
		t.Fatal("reminder still stored after a timed-out delivery")
	}
}
