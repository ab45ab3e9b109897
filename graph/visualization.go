package graph

import (
	"fmt"
	"sort"
	"strings"
)

// Visualizer renders a Graph for humans. A single Export method keeps every implementation
// swappable behind one plug point; MermaidVisualizer and TextVisualizer are this package's two
// concrete renderings.
type Visualizer interface {
	Export(g *Graph) string
}

// MermaidVisualizer renders a Graph as a Mermaid flowchart.
type MermaidVisualizer struct{}

// Export renders g as a Mermaid flowchart (top-down), shaping each node by kind: sources as
// stadiums, sinks as rounded rectangles, joins/aggregates as diamonds, transforms as plain
// rectangles.
func (MermaidVisualizer) Export(g *Graph) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")

	nodes := append([]NodeDefinition{}, g.Nodes...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	for _, n := range nodes {
		b.WriteString("    ")
		b.WriteString(string(n.ID))
		switch n.Kind {
		case SourceKind:
			fmt.Fprintf(&b, "([%s])\n", n.Name)
		case SinkKind:
			fmt.Fprintf(&b, "(%s)\n", n.Name)
		case JoinKind, AggregateKind:
			fmt.Fprintf(&b, "{%s}\n", n.Name)
		default:
			fmt.Fprintf(&b, "[%s]\n", n.Name)
		}
	}

	edges := append([]Edge{}, g.Edges...)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	for _, e := range edges {
		label := ""
		if to, ok := g.Node(e.To); ok && to.Kind == JoinKind {
			if e.TargetPort == SecondInput {
				label = "|second|"
			} else {
				label = "|first|"
			}
		}
		fmt.Fprintf(&b, "    %s -->%s %s\n", e.From, label, e.To)
	}

	return b.String()
}

// TextVisualizer renders a plain-text topological summary, one line per node.
type TextVisualizer struct{}

// Export lists every node in topological order with its kind, declared types, and outbound
// edges.
func (TextVisualizer) Export(g *Graph) string {
	order, err := topoOrder(g)
	if err != nil {
		order = make([]NodeID, len(g.Nodes))
		for i, n := range g.Nodes {
			order[i] = n.ID
		}
	}

	var b strings.Builder
	for _, id := range order {
		n, ok := g.Node(id)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s (%s)", n.Name, n.Kind)
		if n.InputType != (TypeToken{}) {
			fmt.Fprintf(&b, " in=%s", n.InputType)
		}
		if n.OutputType != (TypeToken{}) {
			fmt.Fprintf(&b, " out=%s", n.OutputType)
		}
		out := g.OutEdges(id)
		if len(out) > 0 {
			names := make([]string, len(out))
			for i, e := range out {
				if target, ok := g.Node(e.To); ok {
					names[i] = target.Name
				} else {
					names[i] = string(e.To)
				}
			}
			fmt.Fprintf(&b, " -> [%s]", strings.Join(names, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
