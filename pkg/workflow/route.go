package workflow

import "fmt"

// Node identifies a state machine node.
type Node int

const (
	NodePlan Node = iota
	NodeGenerate
	NodeReview
	NodeDone
)

func (n Node) String() string {
	switch n {
	case NodePlan:
		return "plan"
	case NodeGenerate:
		return "generate"
	case NodeReview:
		return "review"
	case NodeDone:
		return "done"
	default:
		return "unknown"
	}
}

// MarshalText encodes the node by name.
func (n Node) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// Route picks the node to run next.
//
// A rejected review with every step generated routes to Generate, which
// completes immediately because no step is left; review rejection never
// triggers rework.
//
// An empty ReviewFeedback means no review has run yet. The engine stores a
// blank model review as "(empty review)" rather than the raw whitespace,
// so ReviewFeedback may hold that placeholder after Review.
func Route(s State) Node {
	switch {
	case s.IsComplete:
		return NodeDone
	case len(s.Plan) == 0:
		return NodePlan
	case s.CurrentIteration < len(s.Plan):
		return NodeGenerate
	case s.ReviewFeedback == "":
		return NodeReview
	default:
		return NodeGenerate
	}
}

// UnmarshalText decodes a node name.
func (n *Node) UnmarshalText(text []byte) error {
	for _, candidate := range []Node{NodePlan, NodeGenerate, NodeReview, NodeDone} {
		if candidate.String() == string(text) {
			*n = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown node %q", text)
}
