package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"remindbot/internal/eventbus"
	"remindbot/internal/item"
	"remindbot/internal/reconcile"
	"remindbot/internal/rsvp"
	"remindbot/internal/task/engine"
	logx "remindbot/pkg/logx"
)

func TestObserve(t *testing.T) {
	t.Parallel()
	c := New(logx.Nop())

	lead := eventbus.JobData{JobID: "event:1:lead:10", Kind: "event", ItemID: 1, Lead: 10}
	primary := eventbus.JobData{JobID: "reminder:2", Kind: "reminder", ItemID: 2}
	for _, e := range []eventbus.Event{
		{Type: eventbus.TypeJobScheduled, Data: lead},
		{Type: eventbus.TypeJobScheduled, Data: primary},
		{Type: eventbus.TypeJobCanceled, Data: lead},
		{Type: eventbus.TypeJobFired, Data: lead},
		{Type: eventbus.TypeJobFired, Data: primary},
		{Type: eventbus.TypeJobDropped, Data: primary},
		{Type: eventbus.TypeDelivered, Data: primary},
		{Type: eventbus.TypeDeliveryFailed, Data: lead},
		{Type: eventbus.TypeItemConsumed, Data: primary},
		{Type: eventbus.TypeRSVPUpdated, Data: rsvp.Update{ItemID: 1, UserID: 3, Status: item.RSVPMaybe}},
		{Type: eventbus.TypeReconcileFinish, Data: reconcile.Report{Items: 4, Installed: 6}},
		{Type: eventbus.TypeTaskFinished, Data: engine.TaskEvent{ID: "a", Duration: 20 * time.Millisecond}},
		{Type: eventbus.TypeTaskFinished, Data: engine.TaskEvent{ID: "b", Error: "boom"}},
		{Type: "something.else", Data: 42},
	} {
		c.Observe(e)
	}

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"scheduled", testutil.ToFloat64(c.jobsScheduled), 2},
		{"canceled", testutil.ToFloat64(c.jobsCanceled), 1},
		{"fired lead", testutil.ToFloat64(c.jobsFired.WithLabelValues("event", "lead")), 1},
		{"fired primary", testutil.ToFloat64(c.jobsFired.WithLabelValues("reminder", "primary")), 1},
		{"dropped", testutil.ToFloat64(c.jobsDropped.WithLabelValues("reminder", "primary")), 1},
		{"delivered", testutil.ToFloat64(c.delivered.WithLabelValues("reminder")), 1},
		{"failed", testutil.ToFloat64(c.deliveryFailed.WithLabelValues("event")), 1},
		{"consumed", testutil.ToFloat64(c.consumed), 1},
		{"rsvp", testutil.ToFloat64(c.rsvpVotes.WithLabelValues("maybe")), 1},
		{"reconcile runs", testutil.ToFloat64(c.reconcileRuns), 1},
		{"reconcile jobs", testutil.ToFloat64(c.reconcileJobs), 6},
		{"tasks ok", testutil.ToFloat64(c.tasks.WithLabelValues("ok")), 1},
		{"tasks error", testutil.ToFloat64(c.tasks.WithLabelValues("error")), 1},
	}
	for _, ck := range checks {
		if ck.got != ck.want {
			t.Fatalf("%s = %v, want %v", ck.name, ck.got, ck.want)
		}
	}
}

func TestAttachAndHandler(t *testing.T) {
	t.Parallel()
	c := New(logx.Nop())
	c.TrackJobs(func() int { return 7 })
	bus := eventbus.New()

	run := c.Attach(bus)
	// Published before the loop runs; the subscription already buffers it.
	bus.Publish(eventbus.Event{Type: eventbus.TypeItemConsumed})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(c.consumed) < 1 {
		if time.Now().After(deadline) {
			t.Fatal("event published before the loop started was lost")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"remindbot_jobs_armed 7", "remindbot_reminders_consumed_total", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("scrape missing %q", want)
		}
	}
}
