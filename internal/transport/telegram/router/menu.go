package router

import (
	"sort"
	"strings"
	"unicode"

	kit "remindbot/internal/transport"
)

// Telegram limits: command names [a-z0-9_]{1,32}, 256-byte descriptions,
// 100 entries.
const (
	maxMenuCommand = 32
	maxMenuDesc    = 256
	maxMenuEntries = 100
)

// sanitizeTelegramCommand maps an arbitrary route or alias onto a name
// Telegram accepts as a bot command, or "" when nothing usable remains.
func sanitizeTelegramCommand(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > maxMenuCommand {
		out = strings.TrimRight(out[:maxMenuCommand], "_")
	}
	return out
}

// telegramCommandNameFromRoute joins route tokens with '_':
// ["event","delete"] -> "event_delete".
func telegramCommandNameFromRoute(route []string) (string, bool) {
	if len(route) == 0 {
		return "", false
	}
	out := sanitizeTelegramCommand(strings.Join(route, "_"))
	return out, out != ""
}

// buildTelegramMenuCommands lists every command under its menu name, public
// commands first.
func buildTelegramMenuCommands(cmds []Command) []kit.BotCommand {
	type entry struct {
		cmd  string
		desc string
		lock bool
	}
	byCmd := map[string]entry{}
	for _, c := range cmds {
		name, ok := telegramCommandNameFromRoute(splitRoute(c.Route))
		if !ok {
			continue
		}
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = strings.TrimSpace(c.Route)
		}
		lock := c.Access == AccessOwnerOnly
		if lock {
			desc = "🔒 " + desc
		}
		if len(desc) > maxMenuDesc {
			desc = desc[:maxMenuDesc]
		}
		if _, dup := byCmd[name]; !dup {
			byCmd[name] = entry{cmd: name, desc: desc, lock: lock}
		}
	}

	entries := make([]entry, 0, len(byCmd))
	for _, e := range byCmd {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].lock != entries[j].lock {
			return !entries[i].lock
		}
		return entries[i].cmd < entries[j].cmd
	})
	if len(entries) > maxMenuEntries {
		entries = entries[:maxMenuEntries]
	}

	out := make([]kit.BotCommand, 0, len(entries))
	for _, e := range entries {
		out = append(out, kit.BotCommand{Command: e.cmd, Description: e.desc})
	}
	return out
}
