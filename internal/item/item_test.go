package item

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"remindbot/internal/schedule"
)

func TestJobIDs(t *testing.T) {
	t.Parallel()
	it := &Item{ID: 7, Kind: KindEvent, LeadOffsets: []int{60, 10}}
	want := []string{"event:7", "event:7:lead:60", "event:7:lead:10"}
	if got := it.JobIDs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("JobIDs = %v, want %v", got, want)
	}
	if got := PrimaryJobID(KindReminder, 3); got != "reminder:3" {
		t.Fatalf("PrimaryJobID = %q", got)
	}
}

func TestParseJobID(t *testing.T) {
	t.Parallel()
	k, id, lead, err := ParseJobID("event:42:lead:15")
	if err != nil || k != KindEvent || id != 42 || lead != 15 {
		t.Fatalf("ParseJobID = %v %v %v %v", k, id, lead, err)
	}
	k, id, lead, err = ParseJobID("reminder:9")
	if err != nil || k != KindReminder || id != 9 || lead != 0 {
		t.Fatalf("ParseJobID = %v %v %v %v", k, id, lead, err)
	}
	for _, bad := range []string{"", "event", "task:1", "event:x", "event:1:lead", "event:1:lead:0", "event:1:foo:2"} {
		if _, _, _, err := ParseJobID(bad); err == nil {
			t.Fatalf("ParseJobID(%q) expected error", bad)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)
	base := func() *Item {
		return &Item{
			Kind:     KindEvent,
			Payload:  "Raid night",
			Schedule: schedule.Absolute(at),
			Target:   ChannelTarget(-1001, 0),
		}
	}

	it := base()
	it.LeadOffsets = []int{10, 60, 10}
	if err := it.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if want := []int{60, 10}; !reflect.DeepEqual(it.LeadOffsets, want) {
		t.Fatalf("LeadOffsets = %v, want %v", it.LeadOffsets, want)
	}

	it = base()
	it.Schedule = schedule.Cron("* * * *")
	if err := it.Validate(); !errors.Is(err, schedule.ErrMalformedSchedule) {
		t.Fatalf("bad cron err = %v", err)
	}

	it = base()
	it.Schedule = schedule.Cron("0 19 * * TUE")
	it.LeadOffsets = []int{10}
	if err := it.Validate(); !errors.Is(err, schedule.ErrMalformedSchedule) {
		t.Fatalf("cron+lead err = %v", err)
	}

	it = base()
	it.LeadOffsets = []int{0}
	if err := it.Validate(); !errors.Is(err, schedule.ErrMalformedSchedule) {
		t.Fatalf("zero lead err = %v", err)
	}

	it = base()
	it.Target = Target{}
	if err := it.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("missing target err = %v", err)
	}

	it = base()
	it.Kind = KindReminder
	it.LeadOffsets = []int{5}
	if err := it.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("reminder lead err = %v", err)
	}
}

func TestTally(t *testing.T) {
	t.Parallel()
	var tl Tally
	tl.Add(1, RSVPGoing)
	tl.Add(2, RSVPMaybe)
	tl.Add(3, RSVPGoing)
	c := tl.Counts()
	if c[RSVPGoing] != 2 || c[RSVPMaybe] != 1 || c[RSVPNotGoing] != 0 || tl.Total() != 3 {
		t.Fatalf("Counts = %v", c)
	}
	if st, err := ParseRSVPStatus("No"); err != nil || st != RSVPNotGoing {
		t.Fatalf("ParseRSVPStatus = %v, %v", st, err)
	}
	if _, err := ParseRSVPStatus("perhaps"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}
