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

// Package types defines the contract types shared between the execution
// engine and its callers: interned identifiers, opaque values, type
// constraints, selectors, rules, and node states.
//
// The engine never introspects a Value directly. Everything it needs from a
// host object goes through the Externs interface: interning, field
// projection, list construction, and runnable dispatch. Callers register
// rules against TypeConstraints and receive terminal States back for the
// roots they request.
package types

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Id identifies an interned object (a value, a type, a constraint, or a
// function) within a single scheduler instance. Ids are assigned
// monotonically and are never recycled for the lifetime of the process.
type Id uint64

// Handle identifies an outstanding reference to a Value that has been handed
// out by the interning store. The holder signals release via
// Externs.DropHandles.
type Handle uint64

// TypeId names a concrete host type.
type TypeId struct {
	Id Id
}

// TypeConstraint is an interned predicate over TypeIds. Membership is decided
// by the Constraint object it was interned from, via Externs.SatisfiedBy.
type TypeConstraint struct {
	Id Id
}

// Function is an interned handle for a Runnable.
type Function struct {
	Id Id
}

// Key is the canonical identifier assigned when a Value is interned. Two
// Values judged equal by the store share a Key. A Key carries the TypeId of
// the value it names.
type Key struct {
	Id     Id
	TypeId TypeId
}

// Value wraps an opaque host object together with its TypeId. The engine
// holds Values, compares their TypeIds, and passes them to rule functions; it
// never looks inside Inner itself.
type Value struct {
	Inner  any
	TypeId TypeId
}

// Constraint is a host-defined predicate over concrete types. Constraints are
// interned into TypeConstraints and evaluated on demand during rule
// selection.
type Constraint interface {
	Satisfied(t reflect.Type) bool
	String() string
}

// Exactly matches a single concrete type.
type Exactly struct {
	T reflect.Type
}

func (c Exactly) Satisfied(t reflect.Type) bool {
	return t == c.T
}

func (c Exactly) String() string {
	return fmt.Sprintf("Exactly(%s)", typeName(c.T))
}

// SubclassesOf matches any type assignable to the given interface type, and
// the interface type itself.
type SubclassesOf struct {
	Iface reflect.Type
}

func (c SubclassesOf) Satisfied(t reflect.Type) bool {
	if t == c.Iface {
		return true
	}
	if c.Iface.Kind() == reflect.Interface {
		return t.Implements(c.Iface) || reflect.PointerTo(t).Implements(c.Iface)
	}
	return false
}

func (c SubclassesOf) String() string {
	return fmt.Sprintf("SubclassesOf(%s)", typeName(c.Iface))
}

// UnionOf matches membership in a fixed set of concrete types.
type UnionOf struct {
	Members []reflect.Type
}

func (c UnionOf) Satisfied(t reflect.Type) bool {
	for _, m := range c.Members {
		if m == t {
			return true
		}
	}
	return false
}

func (c UnionOf) String() string {
	names := make([]string, len(c.Members))
	for i, m := range c.Members {
		names[i] = typeName(m)
	}
	return fmt.Sprintf("UnionOf(%s)", strings.Join(names, "|"))
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

// ConstraintForType returns an exact-match Constraint for the type of the
// given zero value.
func ConstraintForType(v any) Constraint {
	return Exactly{T: reflect.TypeOf(v)}
}

// Runnable is a rule function. Args arrive already lowered to host values in
// selector-declaration order; the return value is lifted back into a Value by
// the interning store.
type Runnable interface {
	Name() string
	Call(ctx context.Context, args []any) (any, error)
}

// RunnableFunc adapts an ordinary Go function into a Runnable.
type RunnableFunc struct {
	FuncName string
	Fn       func(ctx context.Context, args []any) (any, error)
}

func (r RunnableFunc) Name() string {
	return r.FuncName
}

func (r RunnableFunc) Call(ctx context.Context, args []any) (any, error) {
	return r.Fn(ctx, args)
}

// RawStat is the native form of a single directory entry, as produced by
// Externs.LiftDirectoryListing.
type RawStat struct {
	Path string
	Tag  StatTag
}

// StatTag discriminates RawStat entries.
type StatTag uint8

const (
	StatTagDir StatTag = iota
	StatTagFile
	StatTagLink
)

// Externs is the boundary between the engine and the host representation of
// values. Every callback the engine needs is declared here; the engine's
// interning store provides the canonical implementation. Operations may be
// called concurrently and implementations must serialize internally.
type Externs interface {
	// KeyFor interns the Value and returns its canonical Key.
	KeyFor(v Value) Key
	// ValFor is the reverse lookup for KeyFor.
	ValFor(k Key) Value
	// CloneVal deep-copies the Value as the host defines deep copy.
	CloneVal(v Value) Value
	// DropHandles releases the engine's references for the given handles.
	DropHandles(handles []Handle)
	// IdToStr formats the interned object behind id for diagnostics.
	IdToStr(id Id) string
	// ValToStr formats the Value for diagnostics.
	ValToStr(v Value) string
	// SatisfiedBy reports whether the constraint admits the given type.
	SatisfiedBy(constraint TypeConstraint, t TypeId) bool
	// StoreList builds a Value representing a list of the given Values. With
	// merge set, each input is itself treated as a list and the result is a
	// de-duplicating concatenation.
	StoreList(vals []Value, merge bool) Value
	// StoreBytes builds a Value representing a byte string.
	StoreBytes(b []byte) Value
	// Project reads the named field of the Value and coerces it to the given
	// type.
	Project(v Value, field string, t TypeId) (Value, error)
	// ProjectMulti reads the named list-typed field of the Value.
	ProjectMulti(v Value, field string) ([]Value, error)
	// CreateException wraps an error message as a throwable Value.
	CreateException(msg string) Value
	// InvokeRunnable dispatches the rule function behind fn with the given
	// arguments. The second return is true if the function threw.
	InvokeRunnable(ctx context.Context, fn Function, args []Value, cacheable bool) (Value, bool)
	// LiftDirectoryListing converts a DirectoryListing Value to native stats.
	LiftDirectoryListing(v Value) ([]RawStat, error)

	// ToValue lifts a host object into a Value. It registers no handle root.
	ToValue(obj any) Value
	// FromValue lowers a Value back to the host object.
	FromValue(v Value) any
	// TypeIdOf interns the concrete type of the given host object.
	TypeIdOf(obj any) TypeId
	// TypeForId resolves an interned TypeId back to its type.
	TypeForId(t TypeId) reflect.Type
	// ConstraintFor interns a Constraint.
	ConstraintFor(c Constraint) TypeConstraint
	// FunctionFor interns a Runnable.
	FunctionFor(r Runnable) Function
}

// Variants parameterize rule selection for subjects with multiple providers.
// The mapping is attached to a subject at request time.
type Variants map[string]string

// Canonical returns a deterministic string form used for node identity.
func (v Variants) Canonical() string {
	if len(v) == 0 {
		return ""
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + v[k]
	}
	return strings.Join(parts, ",")
}

// Copy returns a shallow copy of the Variants.
func (v Variants) Copy() Variants {
	if v == nil {
		return nil
	}
	out := make(Variants, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}
