package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unix1010/pants/types"
)

func TestValidateSelectChain(t *testing.T) {
	tasks := NewTasks()
	tasks.AddRootSubjectType(testRoot{})
	tasks.SingletonAdd(cBox{V: "x"}, constraint(cBox{}))
	tasks.TaskBegin(fn("b_from_c", func(args []any) (any, error) { return bBox{}, nil }), constraint(bBox{}))
	tasks.AddSelect(constraint(cBox{}))
	tasks.TaskEnd()

	g := NewRuleGraph(NewRuleIndex(tasks))
	assert.NoError(t, g.Validate())

	root := tasks.Externs().TypeIdOf(testRoot{})
	assert.True(t, g.Satisfiable(root, tasks.Externs().ConstraintFor(constraint(bBox{}))))
}

func TestValidateMissingEdge(t *testing.T) {
	tasks := NewTasks()
	tasks.AddRootSubjectType(testRoot{})
	// aBox needs a bBox, and nothing can produce one.
	tasks.TaskBegin(fn("a_from_b", func(args []any) (any, error) { return aBox{}, nil }), constraint(aBox{}))
	tasks.AddSelect(constraint(bBox{}))
	tasks.TaskEnd()

	g := NewRuleGraph(NewRuleIndex(tasks))
	err := g.Validate()
	require.Error(t, err)

	var rulesetErr *types.RulesetError
	require.ErrorAs(t, err, &rulesetErr)
	assert.NotEmpty(t, rulesetErr.Missing)
	assert.Contains(t, err.Error(), "a_from_b")
}

func TestValidateRejectsAmbiguousProviders(t *testing.T) {
	tasks := NewTasks()
	tasks.AddRootSubjectType(testRoot{})
	tasks.TaskBegin(fn("first", func(args []any) (any, error) { return aBox{}, nil }), constraint(aBox{}))
	tasks.TaskEnd()
	tasks.TaskBegin(fn("second", func(args []any) (any, error) { return aBox{}, nil }), constraint(aBox{}))
	tasks.TaskEnd()

	g := NewRuleGraph(NewRuleIndex(tasks))
	assert.Error(t, g.Validate())
}

func TestSingletonResolvesAmbiguity(t *testing.T) {
	tasks := NewTasks()
	tasks.AddRootSubjectType(testRoot{})
	tasks.SingletonAdd(aBox{V: "s"}, constraint(aBox{}))
	tasks.TaskBegin(fn("first", func(args []any) (any, error) { return aBox{}, nil }), constraint(aBox{}))
	tasks.TaskEnd()
	tasks.TaskBegin(fn("second", func(args []any) (any, error) { return aBox{}, nil }), constraint(aBox{}))
	tasks.TaskEnd()

	g := NewRuleGraph(NewRuleIndex(tasks))
	assert.NoError(t, g.Validate())
}

func TestVariantTagsResolveAmbiguity(t *testing.T) {
	tasks := NewTasks()
	tasks.AddRootSubjectType(testRoot{})
	tasks.TaskBegin(fn("first", func(args []any) (any, error) { return aBox{}, nil }), constraint(aBox{}))
	tasks.TaskVariant("v1")
	tasks.TaskEnd()
	tasks.TaskBegin(fn("second", func(args []any) (any, error) { return aBox{}, nil }), constraint(aBox{}))
	tasks.TaskVariant("v2")
	tasks.TaskEnd()

	g := NewRuleGraph(NewRuleIndex(tasks))
	assert.NoError(t, g.Validate())
}

func TestRuleGraphDot(t *testing.T) {
	tasks := NewTasks()
	tasks.AddRootSubjectType(testRoot{})
	tasks.SingletonAdd(cBox{V: "x"}, constraint(cBox{}))
	tasks.TaskBegin(fn("b_from_c", func(args []any) (any, error) { return bBox{}, nil }), constraint(bBox{}))
	tasks.AddSelect(constraint(cBox{}))
	tasks.TaskEnd()

	g := NewRuleGraph(NewRuleIndex(tasks))
	var out strings.Builder
	require.NoError(t, g.WriteDot(&out))
	assert.Contains(t, out.String(), "digraph rules")
	assert.Contains(t, out.String(), "b_from_c")
}
