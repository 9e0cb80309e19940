package storage

import (
	"fmt"
	"strings"
	"time"

	"remindbot/internal/item"
	"remindbot/internal/schedule"
)

// row is the driver-neutral shape of an events or reminders row. Nullable
// columns are pointers; drivers fill it through their own scan adapters.
type row struct {
	ID        int64
	Scope     int64
	Payload   string
	WhenAt    *time.Time
	Cron      *string
	Lead      *string
	TKind     int
	TChat     int64
	TThread   int
	TUser     int64
	Mention   *string
	CreatedBy int64
	CreatedAt time.Time
	MsgChat   *int64
	MsgThread *int
	MsgID     *int
}

func (r *row) toItem(kind item.Kind) (*item.Item, error) {
	it := &item.Item{
		ID:        r.ID,
		Kind:      kind,
		Scope:     r.Scope,
		Payload:   r.Payload,
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt.UTC(),
		Target: item.Target{
			Kind:     item.TargetKind(r.TKind),
			ChatID:   r.TChat,
			ThreadID: r.TThread,
			UserID:   r.TUser,
		},
	}
	if r.Mention != nil {
		it.Mention = *r.Mention
	}
	switch {
	case r.Cron != nil && strings.TrimSpace(*r.Cron) != "":
		it.Schedule = schedule.Cron(*r.Cron)
	case r.WhenAt != nil:
		it.Schedule = schedule.Absolute(*r.WhenAt)
	}
	if r.Lead != nil && *r.Lead != "" {
		offs, err := schedule.ParseLeadOffsets(*r.Lead)
		if err != nil {
			return nil, err
		}
		it.LeadOffsets = offs
	}
	if r.MsgChat != nil && r.MsgID != nil && *r.MsgID != 0 {
		ref := &item.MessageRef{ChatID: *r.MsgChat, MessageID: *r.MsgID}
		if r.MsgThread != nil {
			ref.ThreadID = *r.MsgThread
		}
		it.Message = ref
	}
	return it, nil
}

// insertArgs returns the column values shared by both item tables, in
// insertColumns order.
func insertArgs(it *item.Item) (when *time.Time, cron, lead, mention *string) {
	if it.Schedule.IsCron() {
		c := it.Schedule.Cron
		cron = &c
	} else {
		w := it.Schedule.At.UTC()
		when = &w
	}
	if len(it.LeadOffsets) > 0 {
		l := schedule.FormatLeadOffsets(it.LeadOffsets)
		lead = &l
	}
	if strings.TrimSpace(it.Mention) != "" {
		m := it.Mention
		mention = &m
	}
	return when, cron, lead, mention
}

func prepareInsert(it *item.Item, kind item.Kind) error {
	if it.Kind == "" {
		it.Kind = kind
	}
	if it.Kind != kind {
		return fmt.Errorf("%w: %s stored as %s", item.ErrInvalid, it.Kind, kind)
	}
	if err := it.Validate(); err != nil {
		return err
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	return nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
