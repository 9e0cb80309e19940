package bot

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"remindbot/internal/reconcile"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/jobs"
	"remindbot/internal/transport/telegram/router"
)

// Ops exposes scheduler internals to bot owners.
type Ops interface {
	Jobs() []jobs.JobInfo
	EngineStats() engine.Snapshot
	Resync(ctx context.Context) (reconcile.Report, error)
}

const statusUpcoming = 5

// WithOps enables the owner-only /status and /resync commands.
func (b *Bot) WithOps(o Ops) *Bot {
	b.ops = o
	return b
}

func (b *Bot) opsCommands() []router.Command {
	if b.ops == nil {
		return nil
	}
	return []router.Command{
		{Route: "status", Description: "scheduler status", Usage: "/status", Access: router.AccessOwnerOnly, Timeout: b.timeout, Handle: b.status},
		{Route: "resync", Description: "reinstall jobs from the store", Usage: "/resync", Access: router.AccessOwnerOnly, Timeout: b.timeout, Handle: b.resync},
	}
}

func (b *Bot) status(ctx context.Context, req *router.Request) error {
	list := b.ops.Jobs()
	es := b.ops.EngineStats()

	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>Jobs armed:</b> %d\n", len(list))
	fmt.Fprintf(&sb, "<b>Queue:</b> %d/%d · executed %d · failed %d · dropped %d\n",
		es.QueueLen, es.QueueCap, es.Executed, es.Failed, es.Dropped)

	sort.Slice(list, func(i, j int) bool { return list[i].Next.Before(list[j].Next) })
	shown := 0
	for _, j := range list {
		if j.Next.IsZero() {
			continue
		}
		if shown == 0 {
			sb.WriteString("\n<b>Next</b>\n")
		}
		fmt.Fprintf(&sb, "<code>%s</code> %s\n", html.EscapeString(j.Spec.ID), j.Next.UTC().Format("2006-01-02 15:04 MST"))
		if shown++; shown == statusUpcoming {
			break
		}
	}

	if n := len(es.History); n > 0 {
		last := es.History[n-1]
		res := "ok"
		if last.Error != "" {
			res = html.EscapeString(last.Error)
		}
		fmt.Fprintf(&sb, "\n<b>Last fire:</b> %s (%s, %s)", html.EscapeString(last.Name),
			last.Duration.Round(time.Millisecond), res)
	}
	return req.Reply(ctx, strings.TrimRight(sb.String(), "\n"))
}

func (b *Bot) resync(ctx context.Context, req *router.Request) error {
	rep, err := b.ops.Resync(ctx)
	if err != nil {
		return replyErr(ctx, req, err)
	}
	return req.Reply(ctx, fmt.Sprintf("🔄 Resynced %d items: %d jobs installed, %d past, %d invalid.",
		rep.Items, rep.Installed, rep.Past, rep.Invalid))
}
