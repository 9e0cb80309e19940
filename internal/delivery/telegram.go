package delivery

import (
	"context"
	"fmt"

	"remindbot/internal/item"
	kit "remindbot/internal/transport"
)

// Telegram delivers through a chat transport. Direct messages go to the
// private chat whose id equals the user id.
type Telegram struct {
	tr kit.Adapter
}

func NewTelegram(tr kit.Adapter) *Telegram { return &Telegram{tr: tr} }

var htmlOpts = &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}

func viewOpts(v View) *kit.SendOptions {
	opt := *htmlOpts
	for _, row := range v.Buttons {
		r := make([]kit.Button, 0, len(row))
		for _, b := range row {
			r = append(r, kit.Button{Text: b.Text, Data: b.Data})
		}
		opt.Buttons = append(opt.Buttons, r)
	}
	return &opt
}

func (t *Telegram) DeliverToChannel(ctx context.Context, ch ChannelRef, text string) error {
	if _, err := t.tr.SendText(ctx, kit.ChatTarget{ChatID: ch.ChatID, ThreadID: ch.ThreadID}, text, htmlOpts); err != nil {
		return fmt.Errorf("%w: chat %d: %w", ErrUnavailable, ch.ChatID, err)
	}
	return nil
}

func (t *Telegram) DeliverToUser(ctx context.Context, u UserRef, text string) error {
	if _, err := t.tr.SendText(ctx, kit.ChatTarget{ChatID: u.UserID}, text, htmlOpts); err != nil {
		return fmt.Errorf("%w: user %d: %w", ErrUnavailable, u.UserID, err)
	}
	return nil
}

func (t *Telegram) PostAnnouncement(ctx context.Context, ch ChannelRef, v View) (item.MessageRef, error) {
	ref, err := t.tr.SendText(ctx, kit.ChatTarget{ChatID: ch.ChatID, ThreadID: ch.ThreadID}, v.Text, viewOpts(v))
	if err != nil {
		return item.MessageRef{}, fmt.Errorf("%w: announce in chat %d: %w", ErrUnavailable, ch.ChatID, err)
	}
	return item.MessageRef{ChatID: ref.ChatID, ThreadID: ref.ThreadID, MessageID: ref.MessageID}, nil
}

func (t *Telegram) EditAnnouncement(ctx context.Context, ref item.MessageRef, v View) error {
	err := t.tr.EditText(ctx, kit.MessageRef{ChatID: ref.ChatID, ThreadID: ref.ThreadID, MessageID: ref.MessageID}, v.Text, viewOpts(v))
	if err != nil {
		return fmt.Errorf("%w: edit message %d: %w", ErrUnavailable, ref.MessageID, err)
	}
	return nil
}
