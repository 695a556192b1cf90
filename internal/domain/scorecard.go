package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Operator is the comparison applied by a conditional dependency.
// The set is closed: unknown operators are rejected when the scorecard loads.
type Operator uint8

const (
	// OpUnconditional requires only that the dependency completed.
	OpUnconditional Operator = iota
	// OpEquals requires the dependency value to equal the expected value.
	OpEquals
	// OpNotEquals requires the dependency value to differ from the expected value.
	OpNotEquals
	// OpIn requires the dependency value to be a member of the expected set.
	OpIn
	// OpNotIn requires the dependency value to be absent from the expected set.
	OpNotIn
)

// String returns the configuration spelling of the operator.
func (o Operator) String() string {
	switch o {
	case OpUnconditional:
		return "unconditional"
	case OpEquals:
		return "=="
	case OpNotEquals:
		return "!="
	case OpIn:
		return "in"
	case OpNotIn:
		return "not in"
	default:
		return "unknown"
	}
}

// IsSetOperator reports whether the operator compares against a set of values.
func (o Operator) IsSetOperator() bool { return o == OpIn || o == OpNotIn }

// ParseOperator converts a configuration string into an Operator.
// Accepted spellings are ==, !=, in, and not in (also not-in and not_in),
// matched case-insensitively. An empty string means unconditional.
func ParseOperator(s string) (Operator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unconditional":
		return OpUnconditional, nil
	case "==", "=", "eq":
		return OpEquals, nil
	case "!=", "ne":
		return OpNotEquals, nil
	case "in":
		return OpIn, nil
	case "not in", "not-in", "not_in", "notin":
		return OpNotIn, nil
	default:
		return OpUnconditional, fmt.Errorf("%w: %q", ErrUnknownOperator, s)
	}
}

// DependencyEdge is a resolved, typed dependency of one score on another.
type DependencyEdge struct {
	TargetID   string   `json:"target_id"`
	TargetName string   `json:"target_name"`
	Operator   Operator `json:"operator"`
	Expected   []string `json:"expected,omitempty"`
}

// ScoreNode is a vertex of the scorecard dependency graph.
type ScoreNode struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	DependsOn      []DependencyEdge `json:"depends_on,omitempty"`
	PositiveLabels []string         `json:"positive_labels,omitempty"`
}

// Condition is the raw {operator, value} form of a conditional dependency.
type Condition struct {
	Operator string `yaml:"operator" json:"operator"`
	Value    any    `yaml:"value"    json:"value"`
}

// DependencySpec is one entry of a score's depends_on block before resolution.
type DependencySpec struct {
	Name      string
	Condition Condition
}

// ExpectedValues flattens the condition value into strings.
// A scalar yields a single element; a list yields one element per item.
func (d DependencySpec) ExpectedValues() []string {
	switch v := d.Condition.Value.(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}

// DependsOn holds a score's dependencies. It decodes from either a list of
// score names (unconditional) or a map of name to {operator, value}.
type DependsOn []DependencySpec

// Names returns the dependency names in declaration order.
func (d DependsOn) Names() []string {
	names := make([]string, len(d))
	for i, spec := range d {
		names[i] = spec.Name
	}
	return names
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *DependsOn) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return fmt.Errorf("depends_on list: %w", err)
		}
		*d = fromNames(names)
		return nil
	case yaml.MappingNode:
		conditions := make(map[string]Condition, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			name := node.Content[i].Value
			valueNode := node.Content[i+1]
			var cond Condition
			if valueNode.Kind == yaml.ScalarNode {
				// Shorthand: `dep: "yes"` means == "yes".
				if valueNode.Tag != "!!null" {
					cond = Condition{Operator: "==", Value: valueNode.Value}
				}
			} else if err := valueNode.Decode(&cond); err != nil {
				return fmt.Errorf("depends_on %q: %w", name, err)
			}
			conditions[name] = cond
		}
		*d = fromConditions(conditions)
		return nil
	case yaml.ScalarNode:
		if node.Tag == "!!null" || node.Value == "" {
			*d = nil
			return nil
		}
		if node.Tag != "!!str" {
			return fmt.Errorf("%w: depends_on must be a list, a map, or a score name", ErrInvalidScorecard)
		}
		*d = fromNames([]string{node.Value})
		return nil
	default:
		return fmt.Errorf("%w: depends_on must be a list or a map", ErrInvalidScorecard)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *DependsOn) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*d = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var names []string
		if err := json.Unmarshal(data, &names); err != nil {
			return fmt.Errorf("depends_on list: %w", err)
		}
		*d = fromNames(names)
		return nil
	}
	var conditions map[string]Condition
	if err := json.Unmarshal(data, &conditions); err != nil {
		return fmt.Errorf("depends_on map: %w", err)
	}
	*d = fromConditions(conditions)
	return nil
}

// MarshalJSON renders the list form when every dependency is unconditional
// and the map form otherwise, so the value round-trips through UnmarshalJSON.
func (d DependsOn) MarshalJSON() ([]byte, error) {
	conditional := false
	for _, spec := range d {
		if spec.Condition.Operator != "" || spec.Condition.Value != nil {
			conditional = true
			break
		}
	}
	if !conditional {
		return json.Marshal(d.Names())
	}
	m := make(map[string]Condition, len(d))
	for _, spec := range d {
		m[spec.Name] = spec.Condition
	}
	return json.Marshal(m)
}

func fromNames(names []string) DependsOn {
	out := make(DependsOn, 0, len(names))
	for _, n := range names {
		out = append(out, DependencySpec{Name: n})
	}
	return out
}

// fromConditions sorts by name so map iteration order never leaks into the graph.
func fromConditions(conditions map[string]Condition) DependsOn {
	names := make([]string, 0, len(conditions))
	for n := range conditions {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make(DependsOn, 0, len(names))
	for _, n := range names {
		out = append(out, DependencySpec{Name: n, Condition: conditions[n]})
	}
	return out
}

// ScoreConfig is one score entry of a scorecard.
type ScoreConfig struct {
	Name           string    `yaml:"name"            json:"name"                      validate:"required"`
	ID             string    `yaml:"id"              json:"id,omitempty"`
	DependsOn      DependsOn `yaml:"depends_on"      json:"depends_on,omitempty"`
	PositiveLabels []string  `yaml:"positive_labels" json:"positive_labels,omitempty"`
}

// Key returns the score id, falling back to the name when no id is configured.
func (s ScoreConfig) Key() string {
	if s.ID != "" {
		return s.ID
	}
	return s.Name
}

// Scorecard is the ordered set of scores evaluated together.
type Scorecard struct {
	ID     string        `yaml:"id"     json:"id,omitempty"`
	Name   string        `yaml:"name"   json:"name"   validate:"required"`
	Scores []ScoreConfig `yaml:"scores" json:"scores" validate:"required,min=1,dive"`
}

// Validate checks structural requirements. Dependency resolution happens
// when the graph is built.
func (s Scorecard) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidScorecard, err)
	}
	return nil
}
