// Package scheduling decides, per sample, which scores run and which are
// skipped because a prerequisite was skipped, failed, or did not satisfy
// its condition.
package scheduling

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AnthusAI/Plexus-sub006/internal/domain"
	"github.com/AnthusAI/Plexus-sub006/internal/scorecard"
)

// ErrIllegalTransition is returned when a node is moved out of order.
var ErrIllegalTransition = errors.New("illegal schedule transition")

// State is a node's position in a sample's schedule.
type State uint8

const (
	StatePending State = iota
	StateEligible
	StateRunning
	StateDone
	StateSkipped
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateEligible:
		return "eligible"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the node will not change again.
func (s State) IsTerminal() bool { return s == StateDone || s == StateSkipped }

// Action tells the dispatcher what to do with a resolved node.
type Action uint8

const (
	ActionRun Action = iota
	ActionSkip
)

// Decision is the resolution of one node.
type Decision struct {
	NodeID string
	Action Action
	Reason string
}

// SampleSchedule is the state machine for one sample. It is driven by a
// single goroutine and is not safe for concurrent use.
type SampleSchedule struct {
	graph   *scorecard.Graph
	order   []string
	states  map[string]State
	results map[string]domain.ScoreResult
	open    int
}

// NewSampleSchedule creates a schedule over scope, which must be closed under
// prerequisites (see Graph.Closure). An empty scope covers the whole graph.
func NewSampleSchedule(graph *scorecard.Graph, scope []string) *SampleSchedule {
	inScope := make(map[string]bool, len(scope))
	for _, id := range scope {
		inScope[id] = true
	}
	s := &SampleSchedule{
		graph:   graph,
		states:  make(map[string]State, graph.Len()),
		results: make(map[string]domain.ScoreResult, graph.Len()),
	}
	for _, id := range graph.Order() {
		if len(scope) > 0 && !inScope[id] {
			continue
		}
		s.order = append(s.order, id)
		s.states[id] = StatePending
	}
	s.open = len(s.order)
	return s
}

// Next resolves every pending node whose dependencies are all terminal.
// Nodes are visited in topological order, so a skip cascades to its
// dependents within the same call.
func (s *SampleSchedule) Next() []Decision {
	var decisions []Decision
	for _, id := range s.order {
		if s.states[id] != StatePending {
			continue
		}
		node, _ := s.graph.Node(id)
		d, ready := s.resolve(node)
		if !ready {
			continue
		}
		decisions = append(decisions, d)
		if d.Action == ActionSkip {
			s.states[id] = StateSkipped
			s.open--
		} else {
			s.states[id] = StateEligible
		}
	}
	return decisions
}

func (s *SampleSchedule) resolve(node domain.ScoreNode) (Decision, bool) {
	for _, edge := range node.DependsOn {
		st, tracked := s.states[edge.TargetID]
		if tracked && !st.IsTerminal() {
			return Decision{}, false
		}
	}

	for _, edge := range node.DependsOn {
		st, tracked := s.states[edge.TargetID]
		if !tracked {
			return Decision{NodeID: node.ID, Action: ActionSkip,
				Reason: fmt.Sprintf("dependency %q is not part of this run", edge.TargetName)}, true
		}
		if st == StateSkipped {
			return Decision{NodeID: node.ID, Action: ActionSkip,
				Reason: fmt.Sprintf("dependency %q was skipped", edge.TargetName)}, true
		}
		if s.results[edge.TargetID].Outcome == domain.OutcomeFailed {
			return Decision{NodeID: node.ID, Action: ActionSkip,
				Reason: fmt.Sprintf("dependency %q failed", edge.TargetName)}, true
		}
	}

	for _, edge := range node.DependsOn {
		value := s.results[edge.TargetID].Value
		if !Evaluate(edge, value) {
			return Decision{NodeID: node.ID, Action: ActionSkip,
				Reason: fmt.Sprintf("condition %s %s %v not met (got %q)",
					edge.TargetName, edge.Operator, edge.Expected, value)}, true
		}
	}
	return Decision{NodeID: node.ID, Action: ActionRun}, true
}

// Start moves an eligible node to running.
func (s *SampleSchedule) Start(id string) error {
	return s.transition(id, StateEligible, StateRunning)
}

// Complete records the result of a running node. A node whose result is a
// skip (the predictor declined the unit) ends skipped rather than done, so
// its dependents are skipped transitively by the next call to Next.
func (s *SampleSchedule) Complete(id string, result domain.ScoreResult) error {
	to := StateDone
	if result.Outcome == domain.OutcomeSkipped {
		to = StateSkipped
	}
	if err := s.transition(id, StateRunning, to); err != nil {
		return err
	}
	s.results[id] = result
	s.open--
	return nil
}

func (s *SampleSchedule) transition(id string, from, to State) error {
	st, ok := s.states[id]
	if !ok {
		return fmt.Errorf("%w: unknown node %q", ErrIllegalTransition, id)
	}
	if st != from {
		return fmt.Errorf("%w: node %q is %s, want %s before %s", ErrIllegalTransition, id, st, from, to)
	}
	s.states[id] = to
	return nil
}

// State returns a node's current state.
func (s *SampleSchedule) State(id string) State { return s.states[id] }

// Result returns the recorded result of a done node.
func (s *SampleSchedule) Result(id string) (domain.ScoreResult, bool) {
	r, ok := s.results[id]
	return r, ok
}

// Done reports whether every node in scope is terminal.
func (s *SampleSchedule) Done() bool { return s.open == 0 }

// Len returns the number of nodes in scope.
func (s *SampleSchedule) Len() int { return len(s.order) }

// Evaluate applies an edge's condition to a dependency value. Values are
// compared case-insensitively after trimming whitespace.
func Evaluate(edge domain.DependencyEdge, value string) bool {
	switch edge.Operator {
	case domain.OpUnconditional:
		return true
	case domain.OpEquals:
		return len(edge.Expected) > 0 && same(value, edge.Expected[0])
	case domain.OpNotEquals:
		return len(edge.Expected) == 0 || !same(value, edge.Expected[0])
	case domain.OpIn:
		return contains(edge.Expected, value)
	case domain.OpNotIn:
		return !contains(edge.Expected, value)
	default:
		return false
	}
}

func same(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func contains(set []string, v string) bool {
	for _, e := range set {
		if same(v, e) {
			return true
		}
	}
	return false
}
