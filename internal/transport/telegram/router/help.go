package router

import (
	"html"
	"sort"
	"strings"
)

// helpText renders help in HTML parse mode. An empty path lists every
// top-level command.
func (m *Router) helpText(path []string) string {
	m.mu.RLock()
	root := m.root
	alias := m.alias
	m.mu.RUnlock()

	cur := root
	full := make([]string, 0, len(path))
	for _, p := range path {
		p = strings.ToLower(strings.TrimPrefix(p, "/"))
		n, ok := cur.child(p)
		if !ok {
			if leaf, ok := alias[p]; ok && leaf.cmd != nil {
				cur = leaf
				full = splitRoute(leaf.cmd.Route)
				break
			}
			return "❓ <b>Unknown command</b>\nSend <code>/help</code> for the list."
		}
		cur = n
		full = append(full, p)
	}
	if len(full) == 0 {
		return helpTop(root)
	}
	return helpNode(cur, full)
}

func helpTop(root *cmdNode) string {
	type row struct {
		cmd  string
		desc string
		lock bool
	}
	var rows []row
	var walk func(n *cmdNode, path []string)
	walk = func(n *cmdNode, path []string) {
		for _, name := range n.childNames() {
			c, _ := n.child(name)
			p := append(append([]string(nil), path...), name)
			if c.cmd != nil {
				cmd := strings.Join(p, " ")
				if menu, ok := telegramCommandNameFromRoute(p); ok {
					cmd = menu
				}
				rows = append(rows, row{cmd: cmd, desc: strings.TrimSpace(c.cmd.Description), lock: c.cmd.Access == AccessOwnerOnly})
			}
			walk(c, p)
		}
	}
	walk(root, nil)
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].lock != rows[j].lock {
			return !rows[i].lock
		}
		return rows[i].cmd < rows[j].cmd
	})

	lines := []string{"📚 <b>Commands</b>", "Send <code>/help &lt;command&gt;</code> for details.", ""}
	for _, r := range rows {
		line := "• <code>/" + html.EscapeString(r.cmd) + "</code>"
		if r.lock {
			line = "• 🔒 <code>/" + html.EscapeString(r.cmd) + "</code>"
		}
		if r.desc != "" {
			line += " — " + html.EscapeString(r.desc)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func helpNode(n *cmdNode, full []string) string {
	lines := []string{"📌 <code>/" + html.EscapeString(strings.Join(full, " ")) + "</code>"}
	if c := n.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, html.EscapeString(d))
		}
		if c.Access == AccessOwnerOnly {
			lines = append(lines, "🔒 <i>owner only</i>")
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(u)+"</code>")
		}
		if short := shortcuts(*c); len(short) > 0 {
			lines = append(lines, "", "<b>Also</b> "+html.EscapeString("/"+strings.Join(short, ", /")))
		}
	}
	if len(n.children) > 0 {
		lines = append(lines, "", "<b>Subcommands</b>")
		for _, name := range n.childNames() {
			c, _ := n.child(name)
			line := "• <code>/" + html.EscapeString(strings.Join(append(append([]string(nil), full...), name), " ")) + "</code>"
			if c.cmd != nil && c.cmd.Description != "" {
				line += " — " + html.EscapeString(c.cmd.Description)
			}
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func shortcuts(c Command) []string {
	seen := map[string]bool{}
	var out []string
	route := splitRoute(c.Route)
	if menu, ok := telegramCommandNameFromRoute(route); ok && len(route) > 1 {
		seen[menu] = true
		out = append(out, menu)
	}
	for _, a := range c.Aliases {
		a = strings.TrimSpace(a)
		if a != "" && !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out
}
