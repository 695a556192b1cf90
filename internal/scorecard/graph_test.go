package scorecard

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnthusAI/Plexus-sub006/internal/domain"
)

func deps(names ...string) domain.DependsOn {
	out := make(domain.DependsOn, len(names))
	for i, n := range names {
		out[i] = domain.DependencySpec{Name: n}
	}
	return out
}

func cond(name, op string, value any) domain.DependencySpec {
	return domain.DependencySpec{Name: name, Condition: domain.Condition{Operator: op, Value: value}}
}

func TestBuild_OrderAndLookups(t *testing.T) {
	scores := []domain.ScoreConfig{
		{Name: "C", DependsOn: deps("A", "B")},
		{Name: "A"},
		{Name: "B", ID: "b-id", DependsOn: deps("A")},
		{Name: "D"},
	}

	g, err := Build(scores)
	require.NoError(t, err)

	assert.Equal(t, 4, g.Len())
	assert.Equal(t, []string{"A", "b-id", "C", "D"}, g.Order())

	id, ok := g.IDForName("B")
	require.True(t, ok)
	assert.Equal(t, "b-id", id)

	node, ok := g.Node("C")
	require.True(t, ok)
	require.Len(t, node.DependsOn, 2)
	assert.Equal(t, "b-id", node.DependsOn[1].TargetID)
	assert.Equal(t, "B", node.DependsOn[1].TargetName)
	assert.Equal(t, domain.OpUnconditional, node.DependsOn[0].Operator)

	assert.Equal(t, []string{"C", "b-id"}, g.Dependents("A"))
	assert.Empty(t, g.Dependents("D"))
}

func TestBuild_Conditions(t *testing.T) {
	scores := []domain.ScoreConfig{
		{Name: "gate"},
		{Name: "eq", DependsOn: domain.DependsOn{cond("gate", "==", "Yes")}},
		{Name: "in", DependsOn: domain.DependsOn{cond("gate", "in", []any{"a", "b"})}},
		{Name: "notin", DependsOn: domain.DependsOn{cond("gate", "not in", "c")}},
		{Name: "shorthand", DependsOn: domain.DependsOn{cond("gate", "", "yes")}},
	}
	g, err := Build(scores)
	require.NoError(t, err)

	tests := []struct {
		id       string
		op       domain.Operator
		expected []string
	}{
		{"eq", domain.OpEquals, []string{"Yes"}},
		{"in", domain.OpIn, []string{"a", "b"}},
		{"notin", domain.OpNotIn, []string{"c"}},
		{"shorthand", domain.OpEquals, []string{"yes"}},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			n, ok := g.Node(tt.id)
			require.True(t, ok)
			require.Len(t, n.DependsOn, 1)
			assert.Equal(t, tt.op, n.DependsOn[0].Operator)
			assert.Equal(t, tt.expected, n.DependsOn[0].Expected)
		})
	}
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name   string
		scores []domain.ScoreConfig
		want   error
	}{
		{
			name:   "unknown dependency",
			scores: []domain.ScoreConfig{{Name: "A", DependsOn: deps("missing")}},
			want:   domain.ErrUnknownDependency,
		},
		{
			name:   "duplicate name",
			scores: []domain.ScoreConfig{{Name: "A"}, {Name: "A", ID: "other"}},
			want:   domain.ErrDuplicateScore,
		},
		{
			name:   "duplicate id",
			scores: []domain.ScoreConfig{{Name: "A", ID: "x"}, {Name: "B", ID: "x"}},
			want:   domain.ErrDuplicateScore,
		},
		{
			name:   "unknown operator",
			scores: []domain.ScoreConfig{{Name: "A"}, {Name: "B", DependsOn: domain.DependsOn{cond("A", ">", "1")}}},
			want:   domain.ErrUnknownOperator,
		},
		{
			name:   "equals without value",
			scores: []domain.ScoreConfig{{Name: "A"}, {Name: "B", DependsOn: domain.DependsOn{cond("A", "==", nil)}}},
			want:   domain.ErrInvalidScorecard,
		},
		{
			name:   "equals with a list",
			scores: []domain.ScoreConfig{{Name: "A"}, {Name: "B", DependsOn: domain.DependsOn{cond("A", "==", []any{"x", "y"})}}},
			want:   domain.ErrInvalidScorecard,
		},
		{
			name:   "self dependency",
			scores: []domain.ScoreConfig{{Name: "A", DependsOn: deps("A")}},
			want:   domain.ErrCyclicDependency,
		},
		{
			name:   "missing name",
			scores: []domain.ScoreConfig{{ID: "x"}},
			want:   domain.ErrInvalidScorecard,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.scores)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBuild_CyclePath(t *testing.T) {
	scores := []domain.ScoreConfig{
		{Name: "A", DependsOn: deps("C")},
		{Name: "B", DependsOn: deps("A")},
		{Name: "C", DependsOn: deps("B")},
	}
	_, err := Build(scores)
	require.Error(t, err)

	var cycle *domain.CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"A", "C", "B", "A"}, cycle.Path)
	assert.Contains(t, err.Error(), "A -> C -> B -> A")
}

func TestGraph_Closure(t *testing.T) {
	scores := []domain.ScoreConfig{
		{Name: "A"},
		{Name: "B", DependsOn: deps("A")},
		{Name: "C", DependsOn: deps("B")},
		{Name: "D"},
	}
	g, err := Build(scores)
	require.NoError(t, err)

	got, err := g.Closure([]string{"C"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, got)

	all, err := g.Closure(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, all)

	_, err = g.Closure([]string{"nope"})
	assert.ErrorIs(t, err, domain.ErrUnknownDependency)

	ids, err := g.ResolveNames([]string{"D", "B"})
	require.NoError(t, err)
	assert.Equal(t, []string{"D", "B"}, ids)
}

const sampleCard = `
name: Support QA
scores:
  - name: Is Relevant
    positive_labels: ["yes"]
  - name: Tone
    depends_on: [Is Relevant]
  - name: Resolution
    id: res-1
    depends_on:
      Is Relevant:
        operator: "=="
        value: "yes"
      Tone:
        operator: in
        value: [warm, neutral]
`

func TestParse(t *testing.T) {
	card, err := Parse(strings.NewReader(sampleCard))
	require.NoError(t, err)
	assert.Equal(t, "Support QA", card.Name)
	require.Len(t, card.Scores, 3)

	g, err := Build(card.Scores)
	require.NoError(t, err)
	assert.Equal(t, []string{"Is Relevant", "Tone", "res-1"}, g.Order())

	node, ok := g.Node("res-1")
	require.True(t, ok)
	require.Len(t, node.DependsOn, 2)
	assert.Equal(t, domain.OpEquals, node.DependsOn[0].Operator)
	assert.Equal(t, domain.OpIn, node.DependsOn[1].Operator)
	assert.Equal(t, []string{"warm", "neutral"}, node.DependsOn[1].Expected)

	relevant, _ := g.Node("Is Relevant")
	assert.Equal(t, []string{"yes"}, relevant.PositiveLabels)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{name: "empty", src: ""},
		{name: "no scores", src: "name: x\n"},
		{name: "unknown field", src: "name: x\nscores:\n  - name: a\n    weight: 2\n"},
		{name: "depends_on wrong shape", src: "name: x\nscores:\n  - name: a\n    depends_on: 3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestLoadGraph(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "card.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCard), 0o600))

	card, g, err := LoadGraph(path)
	require.NoError(t, err)
	assert.Equal(t, "Support QA", card.Name)
	assert.Equal(t, 3, g.Len())

	_, _, err = LoadGraph(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
