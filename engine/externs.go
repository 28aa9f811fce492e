/*
 * Copyright 2017 Pants project contributors (see CONTRIBUTORS.md).
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package engine

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"unicode"

	"github.com/fatih/structs"

	"github.com/unix1010/pants/types"
)

// Ensuring ExternContext implements the Externs boundary.
var _ types.Externs = (*ExternContext)(nil)

// ExternContext is the interning store: a bidirectional mapping between host
// objects and Ids, plus the handle bookkeeping for values handed out of the
// engine. It is scoped to a scheduler instance, not the process.
//
// Operations are called concurrently from the scheduler loop and from worker
// goroutines; all state is serialized by a single internal mutex. Id
// assignment is monotonic and ids are never recycled.
type ExternContext struct {
	mu sync.Mutex

	nextId  types.Id
	idToObj map[types.Id]any
	objToId map[any]types.Id

	nextHandle types.Handle
	handles    map[types.Handle]types.Value
}

// NewExternContext returns an empty interning store.
func NewExternContext() *ExternContext {
	return &ExternContext{
		nextId:  1,
		idToObj: make(map[types.Id]any),
		objToId: make(map[any]types.Id),
		handles: make(map[types.Handle]types.Value),
	}
}

// internKey derives the map key host equality is judged by. Comparable
// objects are their own key; everything else (slices, funcs, maps) is keyed
// by its printed form, so structurally equal values share an Id.
func internKey(obj any) any {
	rv := reflect.ValueOf(obj)
	if rv.IsValid() && rv.Type().Comparable() {
		return obj
	}
	return fmt.Sprintf("%T:%v", obj, obj)
}

func (c *ExternContext) put(obj any) types.Id {
	key := internKey(obj)
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.objToId[key]; ok {
		return id
	}
	id := c.nextId
	c.nextId++
	c.objToId[key] = id
	c.idToObj[id] = obj
	return id
}

func (c *ExternContext) get(id types.Id) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idToObj[id]
}

// Put interns a host object and returns its Id.
func (c *ExternContext) Put(obj any) types.Id {
	return c.put(obj)
}

// Get resolves an Id back to its host object.
func (c *ExternContext) Get(id types.Id) any {
	return c.get(id)
}

// TypeIdOf interns the concrete type of obj.
func (c *ExternContext) TypeIdOf(obj any) types.TypeId {
	return types.TypeId{Id: c.put(reflect.TypeOf(obj))}
}

// TypeForId resolves an interned TypeId.
func (c *ExternContext) TypeForId(t types.TypeId) reflect.Type {
	typ, _ := c.get(t.Id).(reflect.Type)
	return typ
}

// ConstraintFor interns a Constraint.
func (c *ExternContext) ConstraintFor(constraint types.Constraint) types.TypeConstraint {
	return types.TypeConstraint{Id: c.put(constraint)}
}

// FunctionFor interns a Runnable.
func (c *ExternContext) FunctionFor(r types.Runnable) types.Function {
	return types.Function{Id: c.put(r)}
}

// RunnableFor resolves an interned Function back to its Runnable.
func (c *ExternContext) RunnableFor(fn types.Function) (types.Runnable, bool) {
	r, ok := c.get(fn.Id).(types.Runnable)
	return r, ok
}

// ToValue lifts a host object into a Value.
func (c *ExternContext) ToValue(obj any) types.Value {
	return types.Value{Inner: obj, TypeId: c.TypeIdOf(obj)}
}

// FromValue lowers a Value back to its host object.
func (c *ExternContext) FromValue(v types.Value) any {
	return v.Inner
}

// KeyFor interns the Value and returns its canonical Key.
func (c *ExternContext) KeyFor(v types.Value) types.Key {
	return types.Key{Id: c.put(v.Inner), TypeId: v.TypeId}
}

// KeyForObj interns a host object directly.
func (c *ExternContext) KeyForObj(obj any) types.Key {
	return types.Key{Id: c.put(obj), TypeId: c.TypeIdOf(obj)}
}

// ValFor is the reverse lookup for KeyFor.
func (c *ExternContext) ValFor(k types.Key) types.Value {
	return types.Value{Inner: c.get(k.Id), TypeId: k.TypeId}
}

// CloneVal copies the Value. Host values are treated as immutable, so the
// clone shares the inner object.
func (c *ExternContext) CloneVal(v types.Value) types.Value {
	return types.Value{Inner: v.Inner, TypeId: v.TypeId}
}

// RegisterHandle roots a Value that is being handed out of the engine and
// returns the Handle the holder must eventually drop.
func (c *ExternContext) RegisterHandle(v types.Value) types.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.nextHandle
	c.nextHandle++
	c.handles[h] = v
	return h
}

// DropHandles releases the engine's references for the given handles.
func (c *ExternContext) DropHandles(handles []types.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range handles {
		delete(c.handles, h)
	}
}

// OutstandingHandles reports the number of live handles.
func (c *ExternContext) OutstandingHandles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}

// IdToStr formats the interned object behind id for diagnostics.
func (c *ExternContext) IdToStr(id types.Id) string {
	return fmt.Sprintf("%v", c.get(id))
}

// ValToStr formats a Value for diagnostics.
func (c *ExternContext) ValToStr(v types.Value) string {
	return fmt.Sprintf("%v", v.Inner)
}

// SatisfiedBy reports whether the constraint admits the given type.
func (c *ExternContext) SatisfiedBy(constraint types.TypeConstraint, t types.TypeId) bool {
	cons, ok := c.get(constraint.Id).(types.Constraint)
	if !ok {
		return false
	}
	typ, ok := c.get(t.Id).(reflect.Type)
	if !ok {
		return false
	}
	return cons.Satisfied(typ)
}

// StoreList builds a Value representing a list. With merge set, each input
// is itself treated as a list and the result is a de-duplicating
// concatenation preserving first-seen order.
func (c *ExternContext) StoreList(vals []types.Value, merge bool) types.Value {
	if !merge {
		out := make([]any, len(vals))
		for i, v := range vals {
			out[i] = v.Inner
		}
		return c.ToValue(out)
	}

	seen := make(map[any]struct{})
	var out []any
	for _, v := range vals {
		for _, inner := range asList(v.Inner) {
			key := internKey(inner)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, inner)
		}
	}
	return c.ToValue(out)
}

func asList(obj any) []any {
	if l, ok := obj.([]any); ok {
		return l
	}
	rv := reflect.ValueOf(obj)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return []any{obj}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// StoreBytes builds a Value representing a byte string.
func (c *ExternContext) StoreBytes(b []byte) types.Value {
	return c.ToValue(b)
}

// CreateException wraps an error message as a throwable Value.
func (c *ExternContext) CreateException(msg string) types.Value {
	return c.ToValue(fmt.Errorf("%s", msg))
}

// Project reads the named field of the Value and coerces it to the type
// behind t: identical types pass through, convertible types convert, and a
// single-field target struct wraps the projected value.
func (c *ExternContext) Project(v types.Value, field string, t types.TypeId) (types.Value, error) {
	projected, err := projectField(v.Inner, field)
	if err != nil {
		return types.Value{}, err
	}
	target := c.TypeForId(t)
	if target == nil {
		return types.Value{}, fmt.Errorf("unknown projected type id %d", t.Id)
	}
	coerced, err := coerce(projected, target)
	if err != nil {
		return types.Value{}, err
	}
	return c.ToValue(coerced), nil
}

// ProjectMulti reads the named list-typed field of the Value.
func (c *ExternContext) ProjectMulti(v types.Value, field string) ([]types.Value, error) {
	projected, err := projectField(v.Inner, field)
	if err != nil {
		return nil, err
	}
	rv := reflect.ValueOf(projected)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, fmt.Errorf("field %q of %T is not list-typed", field, v.Inner)
	}
	out := make([]types.Value, rv.Len())
	for i := range out {
		out[i] = c.ToValue(rv.Index(i).Interface())
	}
	return out, nil
}

func projectField(obj any, field string) (any, error) {
	if m, ok := obj.(map[string]any); ok {
		val, ok := m[field]
		if !ok {
			return nil, fmt.Errorf("map subject has no field %q", field)
		}
		return val, nil
	}

	rv := reflect.ValueOf(obj)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("cannot project field %q from %T", field, obj)
	}

	s := structs.New(rv.Interface())
	if f, ok := s.FieldOk(field); ok {
		return f.Value(), nil
	}
	if f, ok := s.FieldOk(exportedName(field)); ok {
		return f.Value(), nil
	}
	return nil, fmt.Errorf("%T has no field %q", obj, field)
}

func exportedName(field string) string {
	if field == "" {
		return field
	}
	r := []rune(field)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func coerce(obj any, target reflect.Type) (any, error) {
	rv := reflect.ValueOf(obj)
	if rv.IsValid() && rv.Type() == target {
		return obj, nil
	}
	if rv.IsValid() && rv.Type().ConvertibleTo(target) && !lossyConversion(rv.Type(), target) {
		return rv.Convert(target).Interface(), nil
	}
	// Wrap into a single-field struct, the way a host constructor would.
	if target.Kind() == reflect.Struct && target.NumField() == 1 {
		f := target.Field(0)
		if rv.IsValid() && rv.Type().ConvertibleTo(f.Type) {
			out := reflect.New(target).Elem()
			out.Field(0).Set(rv.Convert(f.Type))
			return out.Interface(), nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %T to %s", obj, target)
}

// lossyConversion guards against surprising string<->number conversions that
// reflect would otherwise permit.
func lossyConversion(from, to reflect.Type) bool {
	integer := func(k reflect.Kind) bool {
		return k >= reflect.Int && k <= reflect.Uintptr
	}
	return from.Kind() == reflect.String && integer(to.Kind()) ||
		to.Kind() == reflect.String && integer(from.Kind())
}

// InvokeRunnable dispatches the rule function behind fn. The second return
// is true if the function threw; the Value then wraps the error.
func (c *ExternContext) InvokeRunnable(ctx context.Context, fn types.Function, args []types.Value, cacheable bool) (types.Value, bool) {
	runnable, ok := c.RunnableFor(fn)
	if !ok {
		return c.CreateException(fmt.Sprintf("no runnable registered for function id %d", fn.Id)), true
	}
	lowered := make([]any, len(args))
	for i, a := range args {
		lowered[i] = c.FromValue(a)
	}
	out, err := runnable.Call(ctx, lowered)
	if err != nil {
		return c.ToValue(err), true
	}
	return c.ToValue(out), false
}

// LiftDirectoryListing converts a DirectoryListing Value to native stats.
func (c *ExternContext) LiftDirectoryListing(v types.Value) ([]types.RawStat, error) {
	listing, ok := v.Inner.(types.DirectoryListing)
	if !ok {
		return nil, fmt.Errorf("value of type %T is not a DirectoryListing", v.Inner)
	}
	out := make([]types.RawStat, len(listing.Dependencies))
	for i, stat := range listing.Dependencies {
		out[i] = types.RawStat{Path: stat.StatPath(), Tag: stat.StatTag()}
	}
	return out, nil
}
