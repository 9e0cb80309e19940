// Package rsvp records RSVP votes and keeps the event announcement in sync
// with the stored tally.
package rsvp

import (
	"context"
	"fmt"

	"remindbot/internal/delivery"
	"remindbot/internal/eventbus"
	"remindbot/internal/item"
	logx "remindbot/pkg/logx"
)

type Store interface {
	GetEvent(ctx context.Context, id int64) (*item.Item, error)
	UpsertRSVP(ctx context.Context, r item.RSVP) error
	RSVPTally(ctx context.Context, eventID int64) (item.Tally, error)
}

// Update is the payload of rsvp.updated bus events.
type Update struct {
	ItemID int64
	UserID int64
	Status item.RSVPStatus
	Tally  item.Tally
}

type Manager struct {
	store Store
	out   delivery.Deliverer
	zones delivery.TimezoneResolver
	log   logx.Logger
	bus   eventbus.Bus
	locks *keyLock
}

func New(store Store, out delivery.Deliverer, zones delivery.TimezoneResolver, log logx.Logger, bus eventbus.Bus) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Manager{store: store, out: out, zones: zones, log: log, bus: bus, locks: newKeyLock()}
}

// SetStatus records userID's vote on an event and re-renders the event's
// announcement from the full stored tally. Votes on the same event are
// applied one at a time, so the last edit always shows the newest tally.
//
// storage.ErrNotFound is returned for a missing event. A failed announcement
// edit is logged; the vote stays recorded.
func (m *Manager) SetStatus(ctx context.Context, itemID, userID int64, status item.RSVPStatus) (item.Tally, error) {
	if !status.Valid() {
		return item.Tally{}, fmt.Errorf("%w: rsvp status %q", item.ErrInvalid, status)
	}
	unlock, err := m.locks.lock(ctx, itemID)
	if err != nil {
		return item.Tally{}, err
	}
	defer unlock()

	if err := m.store.UpsertRSVP(ctx, item.RSVP{ItemID: itemID, UserID: userID, Status: status}); err != nil {
		return item.Tally{}, err
	}
	it, err := m.store.GetEvent(ctx, itemID)
	if err != nil {
		return item.Tally{}, err
	}
	tally, err := m.store.RSVPTally(ctx, itemID)
	if err != nil {
		return item.Tally{}, err
	}

	if it.Message != nil {
		v := m.view(ctx, it, tally)
		if err := m.out.EditAnnouncement(ctx, *it.Message, v); err != nil {
			m.log.Warn("announcement edit failed", logx.Int64("event", itemID), logx.Err(err))
		}
	}
	m.log.Debug("rsvp recorded", logx.Int64("event", itemID), logx.Int64("user", userID), logx.String("status", string(status)))
	m.bus.Publish(eventbus.Event{Type: eventbus.TypeRSVPUpdated, Data: Update{ItemID: itemID, UserID: userID, Status: status, Tally: tally}})
	return tally, nil
}

// View renders the announcement of it with its current tally, in the creator's zone.
func (m *Manager) View(ctx context.Context, it *item.Item) (delivery.View, error) {
	tally, err := m.store.RSVPTally(ctx, it.ID)
	if err != nil {
		return delivery.View{}, err
	}
	return m.view(ctx, it, tally), nil
}

func (m *Manager) view(ctx context.Context, it *item.Item, t item.Tally) delivery.View {
	zone := delivery.DefaultTimezone
	if m.zones != nil {
		zone = m.zones.ResolveUserTimezone(ctx, it.CreatedBy)
	}
	return delivery.AnnouncementView(it, t, zone)
}
