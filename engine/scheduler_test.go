package engine

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/unix1010/pants/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testRoot struct {
	Id int
}

type aBox struct{ V string }
type bBox struct{ V string }
type cBox struct{ V string }
type intBox struct{ N int }

func constraint(zero any) types.Constraint {
	return types.ConstraintForType(zero)
}

func fn(name string, f func(args []any) (any, error)) types.RunnableFunc {
	return types.RunnableFunc{
		FuncName: name,
		Fn: func(ctx context.Context, args []any) (any, error) {
			return f(args)
		},
	}
}

func quietConfig(opts ...types.Option) types.Config {
	return types.NewConfig(append([]types.Option{types.WithLogger(types.NopLogger())}, opts...)...)
}

func requireRoots(t *testing.T, s *Scheduler, want int) []types.RawNode {
	t.Helper()
	roots := s.ExecutionRoots()
	require.Len(t, roots, want)
	return roots
}

// S1: a singleton is the only provider for its product, even when a task
// rule competes.
func TestSingletonOverride(t *testing.T) {
	var taskCalls atomic.Int64
	tasks := NewTasks()
	tasks.AddRootSubjectType(testRoot{})
	tasks.SingletonAdd(intBox{N: 42}, constraint(intBox{}))
	tasks.TaskBegin(fn("competing_int", func(args []any) (any, error) {
		taskCalls.Add(1)
		return intBox{N: 7}, nil
	}), constraint(intBox{}))
	tasks.TaskEnd()

	s, err := NewScheduler(tasks, quietConfig())
	require.NoError(t, err)

	require.NoError(t, s.ExecutionAddRootSelect(testRoot{Id: 1}, constraint(intBox{})))
	_, err = s.ExecutionExecute()
	require.NoError(t, err)

	roots := requireRoots(t, s, 1)
	assert.Equal(t, types.StateTagReturn, roots[0].StateTag)
	assert.Equal(t, intBox{N: 42}, roots[0].StateValue.Inner)
	assert.Equal(t, int64(0), taskCalls.Load())
}

// S2: a Select chain A -> B -> C resolves through exactly three nodes.
func TestSelectChain(t *testing.T) {
	tasks := NewTasks()
	tasks.AddRootSubjectType(testRoot{})
	tasks.SingletonAdd(cBox{V: "x"}, constraint(cBox{}))

	tasks.TaskBegin(fn("b_from_c", func(args []any) (any, error) {
		return bBox{V: "b:" + args[0].(cBox).V}, nil
	}), constraint(bBox{}))
	tasks.AddSelect(constraint(cBox{}))
	tasks.TaskEnd()

	tasks.TaskBegin(fn("a_from_b", func(args []any) (any, error) {
		return aBox{V: "a:" + args[0].(bBox).V}, nil
	}), constraint(aBox{}))
	tasks.AddSelect(constraint(bBox{}))
	tasks.TaskEnd()

	s, err := NewScheduler(tasks, quietConfig())
	require.NoError(t, err)

	require.NoError(t, s.ExecutionAddRootSelect(testRoot{Id: 0}, constraint(aBox{})))
	_, err = s.ExecutionExecute()
	require.NoError(t, err)

	roots := requireRoots(t, s, 1)
	require.Equal(t, types.StateTagReturn, roots[0].StateTag)
	assert.Equal(t, aBox{V: "a:b:x"}, roots[0].StateValue.Inner)
	assert.Equal(t, 3, s.GraphLen())
}

type dep struct{ Name string }
type depsHolder struct{ Deps []dep }
type upper struct{ Name string }
type collected struct{ Names []string }

// S3: SelectDependencies projects the field, requests the product per
// member, and delivers the results in declaration order.
func TestSelectDependencies(t *testing.T) {
	tasks := NewTasks()
	tasks.AddRootSubjectType(testRoot{})

	tasks.TaskBegin(fn("deps_for_root", func(args []any) (any, error) {
		return depsHolder{Deps: []dep{{Name: "s1"}, {Name: "s2"}}}, nil
	}), constraint(depsHolder{}))
	tasks.TaskEnd()

	tasks.TaskBegin(fn("upper_for_dep", func(args []any) (any, error) {
		return upper{Name: strings.ToUpper(args[0].(dep).Name)}, nil
	}), constraint(upper{}))
	tasks.AddSelect(constraint(dep{}))
	tasks.TaskEnd()

	tasks.TaskBegin(fn("collect", func(args []any) (any, error) {
		var out collected
		for _, u := range args[0].([]any) {
			out.Names = append(out.Names, u.(upper).Name)
		}
		return out, nil
	}), constraint(collected{}))
	tasks.AddSelectDependencies(constraint(upper{}), constraint(depsHolder{}), "Deps", dep{})
	tasks.TaskEnd()

	s, err := NewScheduler(tasks, quietConfig())
	require.NoError(t, err)

	require.NoError(t, s.ExecutionAddRootSelect(testRoot{Id: 0}, constraint(collected{})))
	_, err = s.ExecutionExecute()
	require.NoError(t, err)

	roots := requireRoots(t, s, 1)
	require.Equal(t, types.StateTagReturn, roots[0].StateTag)
	assert.Equal(t, collected{Names: []string{"S1", "S2"}}, roots[0].StateValue.Inner)
}

type xBox struct{ V string }
type yBox struct{ V string }

// S4: an unmatched Select noops the candidate, and with no other candidate
// the requesting node cascades to Noop.
func TestNoopCascade(t *testing.T) {
	tasks := NewTasks()
	tasks.AddRootSubjectType(testRoot{})
	// yBox is producible when the subject is itself a yBox, which keeps the
	// ruleset statically valid while leaving testRoot subjects unmatched.
	tasks.AddRootSubjectType(yBox{})

	tasks.TaskBegin(fn("x_from_y", func(args []any) (any, error) {
		return xBox{V: args[0].(yBox).V}, nil
	}), constraint(xBox{}))
	tasks.AddSelect(constraint(yBox{}))
	tasks.TaskEnd()

	s, err := NewScheduler(tasks, quietConfig())
	require.NoError(t, err)

	require.NoError(t, s.ExecutionAddRootSelect(testRoot{Id: 0}, constraint(xBox{})))
	_, err = s.ExecutionExecute()
	require.NoError(t, err)

	roots := requireRoots(t, s, 1)
	assert.Equal(t, types.StateTagNoop, roots[0].StateTag)
	assert.Contains(t, s.Externs().ValToStr(roots[0].StateValue), types.NoopDependencyNoop.String())
}

// S6: a second execute while one is in progress is rejected.
func TestConcurrentRunRejection(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	tasks := NewTasks()
	tasks.AddRootSubjectType(testRoot{})
	tasks.TaskBegin(fn("slow", func(args []any) (any, error) {
		once.Do(func() { close(started) })
		<-block
		return intBox{N: 1}, nil
	}), constraint(intBox{}))
	tasks.TaskEnd()

	s, err := NewScheduler(tasks, quietConfig())
	require.NoError(t, err)
	require.NoError(t, s.ExecutionAddRootSelect(testRoot{Id: 0}, constraint(intBox{})))

	done := make(chan error, 1)
	go func() {
		_, err := s.ExecutionExecute()
		done <- err
	}()

	<-started
	_, err = s.ExecutionExecute()
	assert.ErrorIs(t, err, types.ErrConcurrentExecution)

	close(block)
	require.NoError(t, <-done)

	roots := requireRoots(t, s, 1)
	assert.Equal(t, types.StateTagReturn, roots[0].StateTag)
}

// Invariant 3: equal (subject, product, variants) triples dispatch the rule
// function at most once per run.
func TestMemoizedDispatch(t *testing.T) {
	var bCalls atomic.Int64
	tasks := NewTasks()
	tasks.AddRootSubjectType(testRoot{})
	tasks.SingletonAdd(cBox{V: "x"}, constraint(cBox{}))

	tasks.TaskBegin(fn("b_once", func(args []any) (any, error) {
		bCalls.Add(1)
		return bBox{V: "b"}, nil
	}), constraint(bBox{}))
	tasks.AddSelect(constraint(cBox{}))
	tasks.TaskEnd()

	tasks.TaskBegin(fn("a_from_b", func(args []any) (any, error) {
		return aBox{V: "a"}, nil
	}), constraint(aBox{}))
	tasks.AddSelect(constraint(bBox{}))
	tasks.TaskEnd()

	s, err := NewScheduler(tasks, quietConfig())
	require.NoError(t, err)

	// Both roots demand bBox for the same subject: directly, and via aBox.
	require.NoError(t, s.ExecutionAddRootSelect(testRoot{Id: 1}, constraint(aBox{})))
	require.NoError(t, s.ExecutionAddRootSelect(testRoot{Id: 1}, constraint(bBox{})))
	_, err = s.ExecutionExecute()
	require.NoError(t, err)

	assert.Equal(t, int64(1), bCalls.Load())

	// A second run hits the memoized states without re-dispatching.
	_, err = s.ExecutionExecute()
	require.NoError(t, err)
	assert.Equal(t, int64(1), bCalls.Load())
}

type tNode struct{ Name string }
type tProduct struct {
	Name string
	Deps []tNode
}
type transitiveOut struct{ Names []string }

// Invariant 5: SelectTransitive delivers producers before their consumers.
func TestSelectTransitiveTopologicalOrder(t *testing.T) {
	depTable := map[string][]tNode{
		"a": {{Name: "b"}, {Name: "c"}},
		"b": {{Name: "c"}},
		"c": {},
	}

	tasks := NewTasks()
	tasks.AddRootSubjectType(testRoot{})

	tasks.TaskBegin(fn("seed", func(args []any) (any, error) {
		return tHolder{Deps: []tNode{{Name: "a"}}}, nil
	}), constraint(tHolder{}))
	tasks.TaskEnd()

	tasks.TaskBegin(fn("resolve", func(args []any) (any, error) {
		n := args[0].(tNode)
		return tProduct{Name: n.Name, Deps: depTable[n.Name]}, nil
	}), constraint(tProduct{}))
	tasks.AddSelect(constraint(tNode{}))
	tasks.TaskEnd()

	tasks.TaskBegin(fn("close_over", func(args []any) (any, error) {
		var out transitiveOut
		for _, p := range args[0].([]any) {
			out.Names = append(out.Names, p.(tProduct).Name)
		}
		return out, nil
	}), constraint(transitiveOut{}))
	tasks.AddSelectTransitive(constraint(tProduct{}), constraint(tHolder{}), "Deps", tNode{})
	tasks.TaskEnd()

	s, err := NewScheduler(tasks, quietConfig())
	require.NoError(t, err)

	require.NoError(t, s.ExecutionAddRootSelect(testRoot{Id: 0}, constraint(transitiveOut{})))
	_, err = s.ExecutionExecute()
	require.NoError(t, err)

	roots := requireRoots(t, s, 1)
	require.Equal(t, types.StateTagReturn, roots[0].StateTag)
	assert.Equal(t, []string{"c", "b", "a"}, roots[0].StateValue.Inner.(transitiveOut).Names)
}

type tHolder struct{ Deps []tNode }

type vBox struct{ V string }

// Variant tags narrow rule choice for subjects with multiple providers.
func TestVariantNarrowsChoice(t *testing.T) {
	tasks := NewTasks()
	tasks.AddRootSubjectType(testRoot{})

	tasks.TaskBegin(fn("v1", func(args []any) (any, error) {
		return vBox{V: "one"}, nil
	}), constraint(vBox{}))
	tasks.TaskVariant("v1")
	tasks.TaskEnd()

	tasks.TaskBegin(fn("v2", func(args []any) (any, error) {
		return vBox{V: "two"}, nil
	}), constraint(vBox{}))
	tasks.TaskVariant("v2")
	tasks.TaskEnd()

	s, err := NewScheduler(tasks, quietConfig())
	require.NoError(t, err)

	require.NoError(t, s.ExecutionAddRootSelectVariants(
		testRoot{Id: 0}, constraint(vBox{}), types.Variants{"flavor": "v2"}))
	_, err = s.ExecutionExecute()
	require.NoError(t, err)

	roots := requireRoots(t, s, 1)
	require.Equal(t, types.StateTagReturn, roots[0].StateTag)
	assert.Equal(t, vBox{V: "two"}, roots[0].StateValue.Inner)

	// Without a matching variant value, neither tagged rule applies.
	s.ExecutionReset()
	require.NoError(t, s.ExecutionAddRootSelect(testRoot{Id: 0}, constraint(vBox{})))
	_, err = s.ExecutionExecute()
	require.NoError(t, err)
	roots = requireRoots(t, s, 1)
	assert.Equal(t, types.StateTagNoop, roots[0].StateTag)
}

type wBox struct{ V string }

// A SelectVariant whose key is absent from the subject's variants noops the
// candidate with the no-variant reason.
func TestSelectVariantKeyMiss(t *testing.T) {
	tasks := NewTasks()
	tasks.AddRootSubjectType(testRoot{})

	tasks.TaskBegin(fn("v_any", func(args []any) (any, error) {
		return vBox{V: "x"}, nil
	}), constraint(vBox{}))
	tasks.TaskEnd()

	tasks.TaskBegin(fn("w_from_variant", func(args []any) (any, error) {
		return wBox{V: args[0].(vBox).V}, nil
	}), constraint(wBox{}))
	tasks.AddSelectVariant(constraint(vBox{}), "flavor")
	tasks.TaskEnd()

	s, err := NewScheduler(tasks, quietConfig())
	require.NoError(t, err)

	require.NoError(t, s.ExecutionAddRootSelect(testRoot{Id: 0}, constraint(wBox{})))
	_, err = s.ExecutionExecute()
	require.NoError(t, err)

	roots := requireRoots(t, s, 1)
	require.Equal(t, types.StateTagNoop, roots[0].StateTag)
	assert.Contains(t, s.Externs().ValToStr(roots[0].StateValue), types.NoopNoVariant.String())

	// With the variant key present, the selector resolves normally.
	s.ExecutionReset()
	require.NoError(t, s.ExecutionAddRootSelectVariants(
		testRoot{Id: 0}, constraint(wBox{}), types.Variants{"flavor": "any"}))
	_, err = s.ExecutionExecute()
	require.NoError(t, err)
	roots = requireRoots(t, s, 1)
	require.Equal(t, types.StateTagReturn, roots[0].StateTag)
	assert.Equal(t, wBox{V: "x"}, roots[0].StateValue.Inner)
}

// A dependency cycle with no runnable work is an invariant violation, not a
// hang.
func TestDependencyCycleFails(t *testing.T) {
	tasks := NewTasks()
	tasks.AddRootSubjectType(testRoot{})

	tasks.TaskBegin(fn("a_from_b", func(args []any) (any, error) {
		return aBox{}, nil
	}), constraint(aBox{}))
	tasks.AddSelect(constraint(bBox{}))
	tasks.TaskEnd()

	tasks.TaskBegin(fn("b_from_a", func(args []any) (any, error) {
		return bBox{}, nil
	}), constraint(bBox{}))
	tasks.AddSelect(constraint(aBox{}))
	tasks.TaskEnd()

	s, err := NewScheduler(tasks, quietConfig())
	require.NoError(t, err)

	require.NoError(t, s.ExecutionAddRootSelect(testRoot{Id: 0}, constraint(aBox{})))
	_, err = s.ExecutionExecute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invariant violation")
}

// A Throw in a rule function propagates to the root and renders through
// ProductRequest as an ExecutionError with the graph trace.
func TestThrowPropagation(t *testing.T) {
	tasks := NewTasks()
	tasks.AddRootSubjectType(testRoot{})
	tasks.SingletonAdd(cBox{V: "x"}, constraint(cBox{}))

	tasks.TaskBegin(fn("explode", func(args []any) (any, error) {
		return nil, assert.AnError
	}), constraint(bBox{}))
	tasks.AddSelect(constraint(cBox{}))
	tasks.TaskEnd()

	tasks.TaskBegin(fn("a_from_b", func(args []any) (any, error) {
		return aBox{}, nil
	}), constraint(aBox{}))
	tasks.AddSelect(constraint(bBox{}))
	tasks.TaskEnd()

	s, err := NewScheduler(tasks, quietConfig())
	require.NoError(t, err)

	require.NoError(t, s.ExecutionAddRootSelect(testRoot{Id: 0}, constraint(aBox{})))
	_, err = s.ExecutionExecute()
	require.NoError(t, err)

	roots := requireRoots(t, s, 1)
	assert.Equal(t, types.StateTagThrow, roots[0].StateTag)

	_, err = s.ProductRequest(constraint(aBox{}), []any{testRoot{Id: 0}})
	var execErr *types.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Error(), "Throw")
}

// Roots must use a registered root subject type.
func TestRootSubjectTypeEnforced(t *testing.T) {
	tasks := NewTasks()
	tasks.AddRootSubjectType(testRoot{})
	tasks.SingletonAdd(intBox{N: 1}, constraint(intBox{}))

	s, err := NewScheduler(tasks, quietConfig())
	require.NoError(t, err)

	err = s.ExecutionAddRootSelect("not a root", constraint(intBox{}))
	assert.ErrorIs(t, err, types.ErrNotRootSubject)
}

// Invariant 1: after a successful run, every requested root is terminal.
func TestRootsTerminalAfterRun(t *testing.T) {
	tasks := NewTasks()
	tasks.AddRootSubjectType(testRoot{})
	tasks.SingletonAdd(intBox{N: 3}, constraint(intBox{}))
	tasks.SingletonAdd(cBox{V: "c"}, constraint(cBox{}))

	s, err := NewScheduler(tasks, quietConfig())
	require.NoError(t, err)

	require.NoError(t, s.ExecutionAddRootSelect(testRoot{Id: 0}, constraint(intBox{})))
	require.NoError(t, s.ExecutionAddRootSelect(testRoot{Id: 1}, constraint(cBox{})))
	stat, err := s.ExecutionExecute()
	require.NoError(t, err)
	assert.Positive(t, stat.SchedulingIterations)

	for _, root := range requireRoots(t, s, 2) {
		assert.NotEqual(t, types.StateTagEmpty, root.StateTag)
	}
}
