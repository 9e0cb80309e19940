// Package agenda implements the client operations on events, reminders and
// user preferences: it validates requests, persists items and keeps the job
// table in step with the store.
package agenda

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/delivery"
	"remindbot/internal/item"
	"remindbot/internal/schedule"
	"remindbot/internal/storage"
	"remindbot/internal/task/jobs"
	logx "remindbot/pkg/logx"
)

var (
	ErrPastTime     = errors.New("time is in the past")
	ErrUnparsedTime = errors.New("could not understand the time")
)

// Jobs is the part of the job table agenda drives.
type Jobs interface {
	Schedule(spec jobs.Spec) error
	Cancel(id string) bool
}

// Views renders event announcements.
type Views interface {
	View(ctx context.Context, it *item.Item) (delivery.View, error)
}

// Zones resolves and stores user timezones.
type Zones interface {
	delivery.TimezoneResolver
	SetTimezone(ctx context.Context, userID int64, zone string) error
}

type Service struct {
	store  storage.Store
	jobs   Jobs
	out    delivery.Deliverer
	views  Views
	zones  Zones
	parser delivery.HumanTimeParser
	log    logx.Logger
	now    func() time.Time
}

type Deps struct {
	Store  storage.Store
	Jobs   Jobs
	Out    delivery.Deliverer
	Views  Views
	Zones  Zones
	Parser delivery.HumanTimeParser
	Log    logx.Logger
	Now    func() time.Time
}

func New(d Deps) *Service {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		store:  d.Store,
		jobs:   d.Jobs,
		out:    d.Out,
		views:  d.Views,
		zones:  d.Zones,
		parser: d.Parser,
		log:    d.Log.With(logx.String("comp", "agenda")),
		now:    d.Now,
	}
}

// EventRequest creates an event. Exactly one of When/At or Cron is set; When
// is read in the creator's timezone.
type EventRequest struct {
	Scope     int64
	ChatID    int64
	ThreadID  int
	CreatedBy int64
	Title     string
	When      string
	At        time.Time
	Cron      string
	Lead      []int
	Mention   string
	Announce  bool
}

// ReminderRequest creates a reminder delivered to the chat, or to the
// creator's direct messages when DM is set.
type ReminderRequest struct {
	Scope     int64
	ChatID    int64
	ThreadID  int
	CreatedBy int64
	Text      string
	When      string
	At        time.Time
	DM        bool
	Mention   string
}

func (s *Service) resolveAt(ctx context.Context, userID int64, when string, at time.Time) (time.Time, error) {
	if at.IsZero() {
		zone := s.zones.ResolveUserTimezone(ctx, userID)
		t, ok := s.parser.ParseHumanTime(when, zone, s.now())
		if !ok {
			return time.Time{}, fmt.Errorf("%w: %q", ErrUnparsedTime, when)
		}
		at = t
	}
	if !at.After(s.now()) {
		return time.Time{}, ErrPastTime
	}
	return at.UTC(), nil
}

func (s *Service) CreateEvent(ctx context.Context, req EventRequest) (*item.Item, error) {
	hasTime := strings.TrimSpace(req.When) != "" || !req.At.IsZero()
	hasCron := strings.TrimSpace(req.Cron) != ""
	if hasTime == hasCron {
		return nil, fmt.Errorf("%w: give either a time or a cron expression", item.ErrInvalid)
	}

	it := &item.Item{
		Kind:        item.KindEvent,
		Scope:       req.Scope,
		Payload:     strings.TrimSpace(req.Title),
		LeadOffsets: req.Lead,
		Target:      item.ChannelTarget(req.ChatID, req.ThreadID),
		Mention:     strings.TrimSpace(req.Mention),
		CreatedBy:   req.CreatedBy,
	}
	if hasCron {
		it.Schedule = schedule.Cron(req.Cron)
	} else {
		at, err := s.resolveAt(ctx, req.CreatedBy, req.When, req.At)
		if err != nil {
			return nil, err
		}
		it.Schedule = schedule.Absolute(at)
	}
	if err := it.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateEvent(ctx, it); err != nil {
		return nil, err
	}
	s.install(it)
	s.log.Info("event created", logx.Int64("id", it.ID), logx.Int64("scope", it.Scope), logx.String("schedule", it.Schedule.String()))

	if req.Announce && !it.Schedule.IsCron() {
		if ref, err := s.announce(ctx, it); err != nil {
			s.log.Warn("auto announce failed", logx.Int64("id", it.ID), logx.Err(err))
		} else {
			it.Message = &ref
		}
	}
	return it, nil
}

func (s *Service) CreateReminder(ctx context.Context, req ReminderRequest) (*item.Item, error) {
	at, err := s.resolveAt(ctx, req.CreatedBy, req.When, req.At)
	if err != nil {
		return nil, err
	}
	it := &item.Item{
		Kind:      item.KindReminder,
		Scope:     req.Scope,
		Payload:   strings.TrimSpace(req.Text),
		Schedule:  schedule.Absolute(at),
		Target:    item.ChannelTarget(req.ChatID, req.ThreadID),
		Mention:   strings.TrimSpace(req.Mention),
		CreatedBy: req.CreatedBy,
	}
	if req.DM || req.ChatID == 0 {
		it.Scope = 0
		it.Target = item.UserTarget(req.CreatedBy)
	}
	if err := it.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateReminder(ctx, it); err != nil {
		return nil, err
	}
	s.install(it)
	s.log.Info("reminder created", logx.Int64("id", it.ID), logx.String("target", it.Target.String()), logx.Time("at", at))
	return it, nil
}

// install schedules the item's jobs. The item is already stored, so a
// failure here is logged and left for the next reconciliation.
func (s *Service) install(it *item.Item) {
	specs, err := jobs.PlanItem(it, s.now())
	if err != nil {
		s.log.Error("plan failed", logx.String("job", it.PrimaryJobID()), logx.Err(err))
		return
	}
	for _, sp := range specs {
		if err := s.jobs.Schedule(sp); err != nil {
			s.log.Error("schedule failed", logx.String("job", sp.ID), logx.Err(err))
		}
	}
}

func (s *Service) ListEvents(ctx context.Context, scope int64) ([]*item.Item, error) {
	return s.store.ListEvents(ctx, scope, storage.DefaultListLimit)
}

func (s *Service) ListReminders(ctx context.Context, userID int64) ([]*item.Item, error) {
	return s.store.ListReminders(ctx, userID, storage.DefaultListLimit)
}

// DeleteEvent removes an event of scope. Its jobs are canceled first so a
// fire racing the delete finds nothing to deliver.
func (s *Service) DeleteEvent(ctx context.Context, scope, id int64) (bool, error) {
	it, err := s.store.GetEvent(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if it.Scope != scope {
		return false, nil
	}
	s.cancel(it)
	ok, err := s.store.DeleteEvent(ctx, scope, id)
	if err == nil && ok {
		s.log.Info("event deleted", logx.Int64("id", id), logx.Int64("scope", scope))
	}
	return ok, err
}

func (s *Service) DeleteReminder(ctx context.Context, userID, id int64) (bool, error) {
	it, err := s.store.GetReminder(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if it.CreatedBy != userID {
		return false, nil
	}
	s.cancel(it)
	ok, err := s.store.DeleteReminder(ctx, userID, id)
	if err == nil && ok {
		s.log.Info("reminder deleted", logx.Int64("id", id), logx.Int64("user", userID))
	}
	return ok, err
}

func (s *Service) cancel(it *item.Item) {
	for _, id := range it.JobIDs() {
		s.jobs.Cancel(id)
	}
}

func (s *Service) scopedEvent(ctx context.Context, scope, id int64) (*item.Item, error) {
	it, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if it.Scope != scope {
		return nil, storage.ErrNotFound
	}
	return it, nil
}

// Announce posts the RSVP announcement of an event and remembers where it is.
func (s *Service) Announce(ctx context.Context, scope, id int64) (item.MessageRef, error) {
	it, err := s.scopedEvent(ctx, scope, id)
	if err != nil {
		return item.MessageRef{}, err
	}
	return s.announce(ctx, it)
}

func (s *Service) announce(ctx context.Context, it *item.Item) (item.MessageRef, error) {
	v, err := s.views.View(ctx, it)
	if err != nil {
		return item.MessageRef{}, err
	}
	ch := delivery.ChannelRef{ChatID: it.Target.ChatID, ThreadID: it.Target.ThreadID}
	if it.Target.Kind != item.TargetChannel {
		ch = delivery.ChannelRef{ChatID: it.Scope}
	}
	ref, err := s.out.PostAnnouncement(ctx, ch, v)
	if err != nil {
		return item.MessageRef{}, err
	}
	if err := s.store.SetEventMessage(ctx, it.ID, ref); err != nil {
		return item.MessageRef{}, err
	}
	return ref, nil
}

func (s *Service) RSVPs(ctx context.Context, scope, id int64) (*item.Item, item.Tally, error) {
	it, err := s.scopedEvent(ctx, scope, id)
	if err != nil {
		return nil, item.Tally{}, err
	}
	t, err := s.store.RSVPTally(ctx, id)
	return it, t, err
}

func (s *Service) SetTimezone(ctx context.Context, userID int64, zone string) error {
	return s.zones.SetTimezone(ctx, userID, zone)
}

func (s *Service) Timezone(ctx context.Context, userID int64) string {
	return s.zones.ResolveUserTimezone(ctx, userID)
}
