package graph

import "fmt"

// ValidationMode controls how Builder.Build treats Warning-severity issues.
type ValidationMode int

const (
	// LenientValidation (the default) fails Build only on Error-severity issues.
	LenientValidation ValidationMode = iota
	// StrictValidation fails Build on any issue, Warning or Error.
	StrictValidation
)

// Rule inspects a candidate Graph and reports any issues it finds. The standard rules (cycle
// detection, type-matched edges, unique names, dangling edges) always run; callers add further
// Rules via Builder.AddValidationRule for domain-specific structural checks.
type Rule interface {
	Check(g *Graph) []Issue
}

// RuleFunc adapts a plain function to Rule.
type RuleFunc func(g *Graph) []Issue

// Check implements Rule.
func (f RuleFunc) Check(g *Graph) []Issue { return f(g) }

// Validate runs the standard rule set plus extra against g, returning every issue found. It
// never mutates g.
func Validate(g *Graph, extra []Rule) []Issue {
	var issues []Issue
	for _, r := range standardRules {
		issues = append(issues, r.Check(g)...)
	}
	for _, r := range extra {
		issues = append(issues, r.Check(g)...)
	}
	return issues
}

var standardRules = []Rule{
	RuleFunc(checkAtLeastOneNode),
	RuleFunc(checkUniqueNames),
	RuleFunc(checkDanglingEdges),
	RuleFunc(checkTypeMatchedEdges),
	RuleFunc(checkNoCycles),
	RuleFunc(checkSourceSinkDegree),
	RuleFunc(checkJoinPorts),
	RuleFunc(checkCustomCardinalityMapper),
}

// checkAtLeastOneNode requires a graph to declare at least one node; an empty graph has nothing
// to run.
func checkAtLeastOneNode(g *Graph) []Issue {
	if len(g.Nodes) == 0 {
		return []Issue{{
			Severity: SeverityError,
			Category: "empty-graph",
			Message:  "graph must declare at least one node",
		}}
	}
	return nil
}

// checkSourceSinkDegree requires a Source node to have in-degree 0 and at least one outgoing
// edge, and a Sink node to have out-degree 0.
func checkSourceSinkDegree(g *Graph) []Issue {
	var issues []Issue
	for _, n := range g.Nodes {
		switch n.Kind {
		case SourceKind:
			if len(g.InEdges(n.ID)) > 0 {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Category: "bad-source-degree",
					Message:  fmt.Sprintf("source node %q must have in-degree 0", n.Name),
				})
			}
			if len(g.OutEdges(n.ID)) == 0 {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Category: "bad-source-degree",
					Message:  fmt.Sprintf("source node %q must have at least one outgoing edge", n.Name),
				})
			}
		case SinkKind:
			if len(g.OutEdges(n.ID)) > 0 {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Category: "bad-sink-degree",
					Message:  fmt.Sprintf("sink node %q must have out-degree 0", n.Name),
				})
			}
		}
	}
	return issues
}

func checkUniqueNames(g *Graph) []Issue {
	seen := make(map[string]bool, len(g.Nodes))
	var issues []Issue
	for _, n := range g.Nodes {
		if seen[n.Name] {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Category: "duplicate-name",
				Message:  fmt.Sprintf("node name %q is registered more than once", n.Name),
			})
		}
		seen[n.Name] = true
	}
	return issues
}

func checkDanglingEdges(g *Graph) []Issue {
	var issues []Issue
	for _, e := range g.Edges {
		if _, ok := g.Node(e.From); !ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Category: "dangling-edge",
				Message:  fmt.Sprintf("edge references unknown source node %q", e.From),
			})
		}
		if _, ok := g.Node(e.To); !ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Category: "dangling-edge",
				Message:  fmt.Sprintf("edge references unknown target node %q", e.To),
			})
		}
	}
	return issues
}

// checkTypeMatchedEdges requires an edge's source OutputType equal the target's InputType.
// Edges into a Join node are not checked.
func checkTypeMatchedEdges(g *Graph) []Issue {
	var issues []Issue
	for _, e := range g.Edges {
		from, ok := g.Node(e.From)
		if !ok {
			continue
		}
		to, ok := g.Node(e.To)
		if !ok {
			continue
		}
		if to.Kind == JoinKind {
			// Join input types are declared on the typed Join implementation, invisible to the
			// erased NodeDefinition (which has no InputType for a Join), and Connect/ConnectJoin
			// take plain NodeIDs, so an edge into a Join is accepted whatever its type.
			continue
		}
		if from.OutputType != to.InputType {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Category: "type-mismatch",
				Message:  fmt.Sprintf("edge %s -> %s: output type %s does not match input type %s", e.From, e.To, from.OutputType, to.InputType),
			})
		}
	}
	return issues
}

func checkNoCycles(g *Graph) []Issue {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[NodeID]int, len(g.Nodes))
	var cyclic bool

	var visit func(id NodeID)
	visit = func(id NodeID) {
		if cyclic || color[id] == black {
			return
		}
		if color[id] == gray {
			cyclic = true
			return
		}
		color[id] = gray
		for _, e := range g.OutEdges(id) {
			visit(e.To)
		}
		color[id] = black
	}

	for _, n := range g.Nodes {
		visit(n.ID)
		if cyclic {
			break
		}
	}

	if cyclic {
		return []Issue{{Severity: SeverityError, Category: "cycle", Message: "graph contains a cycle"}}
	}
	return nil
}

// checkJoinPorts requires at least one edge into each of a Join node's two inputs, so a Join is
// never left permanently starved on one side. An edge whose TargetPort is not SecondInput
// counts as FirstInput.
func checkJoinPorts(g *Graph) []Issue {
	var issues []Issue
	for _, n := range g.Nodes {
		if n.Kind != JoinKind {
			continue
		}
		var hasFirst, hasSecond bool
		for _, e := range g.InEdges(n.ID) {
			if e.TargetPort == SecondInput {
				hasSecond = true
			} else {
				hasFirst = true
			}
		}
		if !hasFirst || !hasSecond {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Category: "incomplete-join",
				Message:  fmt.Sprintf("join node %q must have at least one edge into each of FirstInput and SecondInput", n.Name),
			})
		}
	}
	return issues
}

func checkCustomCardinalityMapper(g *Graph) []Issue {
	var issues []Issue
	for _, n := range g.Nodes {
		if n.Kind == TransformKind && n.Cardinality == CustomCardinality && n.LineageMapper == nil {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Category: "missing-lineage-mapper",
				Message:  fmt.Sprintf("transform node %q declares CustomCardinality but has no LineageMapper; lineage tracking will be skipped for it", n.Name),
			})
		}
	}
	return issues
}
