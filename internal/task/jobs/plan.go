package jobs

import (
	"fmt"
	"time"

	"remindbot/internal/item"
	"remindbot/internal/schedule"
)

// PlanItem returns the jobs an item needs at now: the primary fire and its
// strictly-future lead fires for an absolute schedule, or a single recurring
// job for a cron schedule. A past absolute item needs no jobs.
func PlanItem(it *item.Item, now time.Time) ([]Spec, error) {
	if it == nil {
		return nil, fmt.Errorf("plan: %w", item.ErrInvalid)
	}
	switch it.Schedule.Kind {
	case schedule.KindCron:
		if _, err := schedule.ParseCron(it.Schedule.Cron); err != nil {
			return nil, err
		}
		return []Spec{{
			ID:     it.PrimaryJobID(),
			Kind:   it.Kind,
			ItemID: it.ID,
			Fire:   FirePrimary,
			Cron:   it.Schedule.Cron,
		}}, nil
	case schedule.KindAbsolute:
		at, err := schedule.AbsoluteFire(it.Schedule.At)
		if err != nil {
			return nil, err
		}
		if !at.After(now) {
			return nil, nil
		}
		leads := schedule.LeadFires(at, it.LeadOffsets, now)
		out := make([]Spec, 0, 1+len(leads))
		out = append(out, Spec{
			ID:     it.PrimaryJobID(),
			Kind:   it.Kind,
			ItemID: it.ID,
			Fire:   FirePrimary,
			At:     at,
		})
		for _, lf := range leads {
			out = append(out, Spec{
				ID:          it.LeadJobID(lf.Minutes),
				Kind:        it.Kind,
				ItemID:      it.ID,
				Fire:        FireLead,
				LeadMinutes: lf.Minutes,
				At:          lf.At,
			})
		}
		return out, nil
	default:
		return nil, &schedule.MalformedError{Field: "kind", Value: it.Schedule.Kind.String()}
	}
}
