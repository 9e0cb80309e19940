// Package dispatch turns a fired job into a delivered message.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindbot/internal/delivery"
	"remindbot/internal/eventbus"
	"remindbot/internal/item"
	"remindbot/internal/storage"
	"remindbot/internal/task/jobs"
	logx "remindbot/pkg/logx"
)

// Store is the part of storage.Store the dispatcher reads and cleans up.
type Store interface {
	GetEvent(ctx context.Context, id int64) (*item.Item, error)
	GetReminder(ctx context.Context, id int64) (*item.Item, error)
	ConsumeReminder(ctx context.Context, id int64) error
}

// cleanupTimeout bounds the reminder delete. It runs detached from the fire
// context so a delivery that used up the task deadline cannot keep the row.
const cleanupTimeout = 5 * time.Second

type Dispatcher struct {
	store Store
	out   delivery.Deliverer
	log   logx.Logger
	bus   eventbus.Bus
}

func New(store Store, out delivery.Deliverer, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Dispatcher{store: store, out: out, log: log, bus: bus}
}

// Fire delivers the item behind spec using its latest stored state.
//
// A missing item is a no-op. Delivery failures are logged and swallowed. A
// one-shot reminder is consumed after the delivery attempt whether or not it
// succeeded; events and cron items are never removed here.
func (d *Dispatcher) Fire(ctx context.Context, spec jobs.Spec) error {
	it, err := d.load(ctx, spec)
	if errors.Is(err, storage.ErrNotFound) {
		d.log.Debug("fired item no longer exists", logx.String("job", spec.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", spec.ID, err)
	}

	var text string
	switch spec.Kind {
	case item.KindEvent:
		lead := 0
		if spec.Fire == jobs.FireLead {
			lead = spec.LeadMinutes
		}
		text = delivery.EventText(it, lead)
	default:
		text = delivery.ReminderText(it)
	}

	data := eventbus.JobData{JobID: spec.ID, Kind: string(spec.Kind), ItemID: spec.ItemID, Lead: spec.LeadMinutes}
	if err := delivery.DeliverTo(ctx, d.out, it.Target, text); err != nil {
		d.log.Warn("delivery failed", logx.String("job", spec.ID), logx.String("target", it.Target.String()), logx.Err(err))
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeDeliveryFailed, Data: data})
	} else {
		d.log.Info("delivered", logx.String("job", spec.ID), logx.String("target", it.Target.String()))
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeDelivered, Data: data})
	}

	if spec.Kind == item.KindReminder && spec.Fire == jobs.FirePrimary && !spec.IsCron() && !it.Schedule.IsCron() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if err := d.store.ConsumeReminder(cctx, it.ID); err != nil {
			return fmt.Errorf("consume %s: %w", spec.ID, err)
		}
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeItemConsumed, Data: data})
	}
	return nil
}

func (d *Dispatcher) load(ctx context.Context, spec jobs.Spec) (*item.Item, error) {
	switch spec.Kind {
	case item.KindEvent:
		return d.store.GetEvent(ctx, spec.ItemID)
	case item.KindReminder:
		return d.store.GetReminder(ctx, spec.ItemID)
	default:
		return nil, fmt.Errorf("%w: job kind %q", item.ErrInvalid, spec.Kind)
	}
}
