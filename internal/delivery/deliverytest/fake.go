// Package deliverytest provides an in-memory delivery.Deliverer for tests.
package deliverytest

import (
	"context"
	"sync"

	"remindbot/internal/delivery"
	"remindbot/internal/item"
)

// Sent is one recorded delivery.
type Sent struct {
	Channel *delivery.ChannelRef
	User    *delivery.UserRef
	Edit    *item.MessageRef
	Text    string
	View    *delivery.View
}

// Recorder records every call. Set Err to make all calls fail.
type Recorder struct {
	mu     sync.Mutex
	sent   []Sent
	nextID int

	Err error
}

func (r *Recorder) record(s Sent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, s)
	return nil
}

func (r *Recorder) DeliverToChannel(_ context.Context, ch delivery.ChannelRef, text string) error {
	return r.record(Sent{Channel: &ch, Text: text})
}

func (r *Recorder) DeliverToUser(_ context.Context, u delivery.UserRef, text string) error {
	return r.record(Sent{User: &u, Text: text})
}

func (r *Recorder) PostAnnouncement(_ context.Context, ch delivery.ChannelRef, v delivery.View) (item.MessageRef, error) {
	if err := r.record(Sent{Channel: &ch, Text: v.Text, View: &v}); err != nil {
		return item.MessageRef{}, err
	}
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.mu.Unlock()
	return item.MessageRef{ChatID: ch.ChatID, ThreadID: ch.ThreadID, MessageID: id}, nil
}

func (r *Recorder) EditAnnouncement(_ context.Context, ref item.MessageRef, v delivery.View) error {
	return r.record(Sent{Edit: &ref, Text: v.Text, View: &v})
}

// Sent returns a copy of everything recorded so far.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// Last returns the most recent record, or the zero value.
func (r *Recorder) Last() Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return Sent{}
	}
	return r.sent[len(r.sent)-1]
}

// Zones is a fixed delivery.TimezoneResolver.
type Zones map[int64]string

func (z Zones) ResolveUserTimezone(_ context.Context, userID int64) string {
	if tz, ok := z[userID]; ok {
		return tz
	}
	return delivery.DefaultTimezone
}
