package engine

import (
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unix1010/pants/types"
)

type internee struct {
	Name string
	Deps []string
}

// Invariant 6: put(v1) == put(v2) iff the host considers v1 and v2 equal.
func TestInterningEquality(t *testing.T) {
	ex := NewExternContext()

	a1 := ex.Put(internee{Name: "a", Deps: []string{"x"}})
	a2 := ex.Put(internee{Name: "a", Deps: []string{"x"}})
	b := ex.Put(internee{Name: "b", Deps: []string{"x"}})

	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)

	// Ids are monotonic and never recycled.
	assert.Greater(t, b, a1)
}

func TestKeyRoundTrip(t *testing.T) {
	ex := NewExternContext()
	v := ex.ToValue(internee{Name: "a"})
	k := ex.KeyFor(v)

	back := ex.ValFor(k)
	assert.Equal(t, v.Inner, back.Inner)
	assert.Equal(t, v.TypeId, k.TypeId)
}

func TestTypeInterning(t *testing.T) {
	ex := NewExternContext()
	t1 := ex.TypeIdOf(internee{})
	t2 := ex.TypeIdOf(internee{Name: "other"})
	assert.Equal(t, t1, t2)
	assert.Equal(t, reflect.TypeOf(internee{}), ex.TypeForId(t1))
}

func TestSatisfiedBy(t *testing.T) {
	ex := NewExternContext()
	exact := ex.ConstraintFor(types.Exactly{T: reflect.TypeOf(internee{})})

	assert.True(t, ex.SatisfiedBy(exact, ex.TypeIdOf(internee{})))
	assert.False(t, ex.SatisfiedBy(exact, ex.TypeIdOf("string")))

	union := ex.ConstraintFor(types.UnionOf{Members: []reflect.Type{
		reflect.TypeOf(internee{}),
		reflect.TypeOf(""),
	}})
	assert.True(t, ex.SatisfiedBy(union, ex.TypeIdOf("s")))
	assert.False(t, ex.SatisfiedBy(union, ex.TypeIdOf(1)))
}

func TestStoreListMerge(t *testing.T) {
	ex := NewExternContext()

	lists := []types.Value{
		ex.ToValue([]any{"a", "b"}),
		ex.ToValue([]any{"b", "c"}),
	}
	merged := ex.StoreList(lists, true)
	assert.Equal(t, []any{"a", "b", "c"}, merged.Inner)

	plain := ex.StoreList(lists, false)
	require.IsType(t, []any{}, plain.Inner)
	assert.Len(t, plain.Inner.([]any), 2)
}

func TestProjectStructField(t *testing.T) {
	ex := NewExternContext()
	v := ex.ToValue(internee{Name: "hello", Deps: []string{"d1", "d2"}})

	projected, err := ex.Project(v, "Name", ex.TypeIdOf(""))
	require.NoError(t, err)
	assert.Equal(t, "hello", projected.Inner)

	// Lower-cased field names resolve to the exported field.
	projected, err = ex.Project(v, "name", ex.TypeIdOf(""))
	require.NoError(t, err)
	assert.Equal(t, "hello", projected.Inner)

	_, err = ex.Project(v, "Missing", ex.TypeIdOf(""))
	assert.Error(t, err)
}

func TestProjectWrapsSingleFieldStruct(t *testing.T) {
	ex := NewExternContext()
	v := ex.ToValue(types.Dir{Path: "src/jvm"})

	projected, err := ex.Project(v, "Path", ex.TypeIdOf(types.Path{}))
	require.NoError(t, err)
	assert.Equal(t, types.Path{Path: "src/jvm"}, projected.Inner)
}

func TestProjectMulti(t *testing.T) {
	ex := NewExternContext()
	v := ex.ToValue(internee{Name: "a", Deps: []string{"d1", "d2"}})

	vals, err := ex.ProjectMulti(v, "Deps")
	require.NoError(t, err)
	require.Len(t, vals, 2)
	assert.Equal(t, "d1", vals[0].Inner)
	assert.Equal(t, "d2", vals[1].Inner)

	_, err = ex.ProjectMulti(v, "Name")
	assert.Error(t, err)
}

func TestHandleBookkeeping(t *testing.T) {
	ex := NewExternContext()
	v := ex.ToValue(internee{Name: "a"})

	h1 := ex.RegisterHandle(v)
	h2 := ex.RegisterHandle(v)
	assert.Equal(t, 2, ex.OutstandingHandles())

	ex.DropHandles([]types.Handle{h1, h2})
	assert.Equal(t, 0, ex.OutstandingHandles())
}

func TestLiftDirectoryListing(t *testing.T) {
	ex := NewExternContext()
	listing := types.DirectoryListing{
		Directory: types.Dir{Path: "d"},
		Dependencies: []types.Stat{
			types.Dir{Path: "d/sub"},
			types.File{Path: "d/f.txt"},
			types.Link{Path: "d/l"},
		},
	}

	stats, err := ex.LiftDirectoryListing(ex.ToValue(listing))
	require.NoError(t, err)

	want := []types.RawStat{
		{Path: "d/sub", Tag: types.StatTagDir},
		{Path: "d/f.txt", Tag: types.StatTagFile},
		{Path: "d/l", Tag: types.StatTagLink},
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Fatalf("unexpected stats (-want +got):\n%s", diff)
	}
}

func TestInvokeRunnableThrow(t *testing.T) {
	ex := NewExternContext()
	failing := ex.FunctionFor(fn("failing", func(args []any) (any, error) {
		return nil, assert.AnError
	}))

	v, isThrow := ex.InvokeRunnable(t.Context(), failing, nil, true)
	assert.True(t, isThrow)
	assert.Equal(t, assert.AnError, v.Inner)
}
