package router

import (
	"maps"
	"slices"
	"strings"
)

// cmdNode is one word of a command route. Nodes that end a registered route
// carry the command; the rest only group children.
type cmdNode struct {
	name     string
	cmd      *Command
	children map[string]*cmdNode
}

func newRoot() *cmdNode { return &cmdNode{} }

func splitRoute(route string) []string { return strings.Fields(route) }

// add walks route from n, creating missing nodes, and attaches c to the last one.
func (n *cmdNode) add(route []string, c Command) *cmdNode {
	for _, word := range route {
		next, ok := n.children[word]
		if !ok {
			if n.children == nil {
				n.children = make(map[string]*cmdNode)
			}
			next = &cmdNode{name: word}
			n.children[word] = next
		}
		n = next
	}
	n.cmd = &c
	return n
}

func (n *cmdNode) child(name string) (*cmdNode, bool) {
	c, ok := n.children[name]
	return c, ok
}

func (n *cmdNode) childNames() []string {
	return slices.Sorted(maps.Keys(n.children))
}
