// Package transport defines the chat-platform surface the bot runs on:
// inbound updates and the outbound Adapter.
package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

// Update carries exactly one of Message or Callback, matching Kind.
type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic, 0 outside topics
	FromID       int64
	FromUsername string
	Text         string
	Private      bool
}

// Target is where a reply to m goes.
func (m *Message) Target() ChatTarget { return ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID} }

// Callback is an inline button press.
type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

func (c *Callback) Target() ChatTarget { return ChatTarget{ChatID: c.ChatID, ThreadID: c.ThreadID} }

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// MessageRef identifies a sent message so it can be edited later.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Button is an inline button; Data comes back as Callback.Data when pressed.
type Button struct {
	Text string
	Data string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Buttons        [][]Button // rows
}

// Adapter is implemented by each chat platform client.
type Adapter interface {
	// Start delivers updates to out until ctx ends or Stop is called.
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	// AnswerCallback acknowledges a button press; text may be empty.
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand is one entry of the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional Adapter extension.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
