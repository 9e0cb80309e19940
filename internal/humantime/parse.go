// Package humantime implements the natural-language time parser and the
// per-user timezone lookup used by the bot.
package humantime

import (
	"strings"
	"time"

	"github.com/jonas747/when"
	"github.com/jonas747/when/rules"
	wcommon "github.com/jonas747/when/rules/common"
	"github.com/jonas747/when/rules/en"

	"remindbot/internal/delivery"
)

// Parser understands explicit timestamps ("2030-05-01 19:00"), offsets
// ("in 90m", "+2h") and English phrases ("tomorrow 7pm", "next friday at 18:30").
type Parser struct {
	w *when.Parser
}

var layouts = []string{
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02 3:04PM",
	"2006-01-02 3:04pm",
	"2006-01-02 3:04 PM",
	"2006-01-02",
}

func NewParser() *Parser {
	w := when.New(&rules.Options{
		Distance:     10,
		MatchByOrder: true,
	})
	w.Add(
		en.Weekday(rules.Override),
		en.CasualDate(rules.Override),
		en.CasualTime(rules.Override),
		en.Hour(rules.Override),
		en.HourMinute(rules.Override),
		en.Deadline(rules.Override),
		en.ExactMonthDate(rules.Override),
	)
	w.Add(wcommon.All...)
	return &Parser{w: w}
}

// ParseHumanTime reads text in zone relative to now. The instant is returned in UTC.
func (p *Parser) ParseHumanTime(text, zone string, now time.Time) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}
	loc := delivery.LoadZone(zone)
	base := now.In(loc)

	if d, ok := parseOffset(text); ok {
		return base.Add(d).UTC(), true
	}
	for _, l := range layouts {
		if t, err := time.ParseInLocation(l, text, loc); err == nil {
			return t.UTC(), true
		}
	}

	res, err := p.w.Parse(text, base)
	if err != nil || res == nil {
		return time.Time{}, false
	}
	return res.Time.UTC(), true
}

// parseOffset accepts "in 90m", "in 1h30m" and "+2h".
func parseOffset(text string) (time.Duration, bool) {
	lower := strings.ToLower(text)
	var rest string
	switch {
	case strings.HasPrefix(lower, "in "):
		rest = lower[3:]
	case strings.HasPrefix(lower, "+"):
		rest = lower[1:]
	default:
		return 0, false
	}
	d, err := time.ParseDuration(strings.ReplaceAll(rest, " ", ""))
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

var _ delivery.HumanTimeParser = (*Parser)(nil)
