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
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/unix1010/pants/types"
)

// Node is the unit of memoization: a (subject Key, product TypeConstraint,
// variants) triple. Two requests with equal triples resolve to the same
// graph entry.
type Node struct {
	Subject  types.Key
	Product  types.TypeConstraint
	Variants string
}

// ErrStaleGeneration reports a completion whose node was dirtied while the
// evaluation ran; the result is discarded.
var ErrStaleGeneration = errors.New("node generation changed during evaluation")

// entry is the mutable per-node record. All fields are guarded by the graph
// lock; waiter closures run on the scheduler goroutine only.
type entry struct {
	node Node

	// subject is the host object behind node.Subject, kept for invalidation
	// matching and selector evaluation.
	subject  any
	variants types.Variants

	// state is the terminal state, nil while Waiting/Runnable or dirty.
	state types.State

	// generation increments on every dirty; completions carry the
	// generation they started from and stale ones are discarded.
	generation uint64

	// cacheable is false once the node completed via a non-cacheable rule;
	// such nodes are dirtied at the start of every run.
	cacheable bool

	// started marks an evaluation in progress on the scheduler.
	started bool

	dependencies []Node
	dependents   map[Node]struct{}

	waiters []func(types.State)
}

// Graph is the dynamic product graph: every node ever requested, its cached
// state, and its ordered outgoing edges. Nodes are inserted lazily and never
// removed; invalidation demotes them to dirty but preserves identity.
type Graph struct {
	mu      sync.Mutex
	entries map[Node]*entry
}

// NewGraph returns an empty product graph.
func NewGraph() *Graph {
	return &Graph{entries: make(map[Node]*entry)}
}

// Len returns the number of nodes ever inserted.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// GetOrCreate returns the entry for the node, inserting it on first request.
func (g *Graph) GetOrCreate(node Node, subject any, variants types.Variants) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.entries[node]; ok {
		return e
	}
	e := &entry{
		node:       node,
		subject:    subject,
		variants:   variants,
		cacheable:  true,
		dependents: make(map[Node]struct{}),
	}
	g.entries[node] = e
	return e
}

// TerminalState returns the cached terminal state, if the node has one and
// is not dirty.
func (g *Graph) TerminalState(node Node) (types.State, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[node]
	if !ok || e.state == nil {
		return nil, false
	}
	return e.state, true
}

// AddWaiter registers a continuation for the node's terminal state. If the
// node is already terminal the state is returned instead and the waiter is
// not kept.
func (g *Graph) AddWaiter(node Node, w func(types.State)) (types.State, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.entries[node]
	if e.state != nil {
		return e.state, true
	}
	e.waiters = append(e.waiters, w)
	return nil, false
}

// BeginEvaluation marks an evaluation started and returns the generation it
// runs under, clearing edges left from a previous evaluation. The second
// return is false if an evaluation is already in flight or the node is
// terminal.
func (g *Graph) BeginEvaluation(node Node) (uint64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.entries[node]
	if e.started || e.state != nil {
		return 0, false
	}
	e.started = true
	g.clearDepsLocked(e)
	return e.generation, true
}

func (g *Graph) clearDepsLocked(e *entry) {
	for _, dep := range e.dependencies {
		if child, ok := g.entries[dep]; ok {
			delete(child.dependents, e.node)
		}
	}
	e.dependencies = nil
}

// AddEdge records a parent -> child dependency. Edges are a multi-set and
// preserve selector order.
func (g *Graph) AddEdge(parent, child Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.entries[parent]
	c := g.entries[child]
	p.dependencies = append(p.dependencies, child)
	c.dependents[parent] = struct{}{}
}

// Complete transitions the node to a terminal state and returns the waiters
// to notify. Completing an already-terminal node is an invariant violation;
// a generation mismatch returns ErrStaleGeneration and the caller should
// re-evaluate.
func (g *Graph) Complete(node Node, st types.State, generation uint64) ([]func(types.State), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.entries[node]
	if e.generation != generation {
		e.started = false
		return nil, ErrStaleGeneration
	}
	if e.state != nil {
		return nil, fmt.Errorf("node %v already completed as %v", node, e.state)
	}
	e.state = st
	e.started = false
	waiters := e.waiters
	e.waiters = nil
	return waiters, nil
}

// Abandon releases a started evaluation without completing it, leaving the
// node eligible for re-evaluation.
func (g *Graph) Abandon(node Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.entries[node]; ok {
		e.started = false
	}
}

// ResetRunState drops per-run bookkeeping at the end of a run: in-progress
// markers and waiters, both of which belong to the run that registered them.
// Terminal states and edges are retained.
func (g *Graph) ResetRunState() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range g.entries {
		e.started = false
		e.waiters = nil
	}
}

// MarkUncacheable records that the node completed via a non-cacheable rule.
func (g *Graph) MarkUncacheable(node Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.entries[node]; ok {
		e.cacheable = false
	}
}

// DirtyUncacheable dirties every node produced by a non-cacheable rule, so
// the next run re-executes it. Returns the count dirtied.
func (g *Graph) DirtyUncacheable() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	dirtied := make(map[Node]struct{})
	for node, e := range g.entries {
		if !e.cacheable && e.state != nil {
			g.dirtyLocked(node, dirtied)
		}
	}
	return len(dirtied)
}

// dirtyLocked dirties the node and every transitive dependent.
func (g *Graph) dirtyLocked(node Node, dirtied map[Node]struct{}) {
	if _, done := dirtied[node]; done {
		return
	}
	e, ok := g.entries[node]
	if !ok {
		return
	}
	dirtied[node] = struct{}{}
	e.state = nil
	e.started = false
	e.generation++
	for parent := range e.dependents {
		g.dirtyLocked(parent, dirtied)
	}
}

// subjectMatcher decides whether a node's subject is covered by an
// invalidated path.
type subjectMatcher func(subject any) bool

// Invalidate dirties every node whose subject the matcher covers, plus all
// transitive dependents, returning the number of dirtied nodes. It never
// fails.
func (g *Graph) Invalidate(match subjectMatcher) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	dirtied := make(map[Node]struct{})
	for node, e := range g.entries {
		if match(e.subject) {
			g.dirtyLocked(node, dirtied)
		}
	}
	return len(dirtied)
}

// WriteDot emits the product graph as graphviz dot.
func (g *Graph) WriteDot(w io.Writer, format func(Node) string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := fmt.Fprintln(w, "digraph plans {"); err != nil {
		return err
	}
	fmt.Fprintln(w, "  node[colorscheme=set312];")
	fmt.Fprintln(w, "  concentrate=true;")
	fmt.Fprintln(w, "  rankdir=LR;")

	names := make(map[Node]string, len(g.entries))
	ordered := make([]Node, 0, len(g.entries))
	for node := range g.entries {
		ordered = append(ordered, node)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return nodeLess(ordered[i], ordered[j])
	})
	for _, node := range ordered {
		e := g.entries[node]
		label := format(node)
		if e.state != nil {
			label += "\\n" + e.state.String()
		}
		names[node] = label
		color := "3"
		switch {
		case e.state == nil:
			color = "8"
		case e.state.Tag() == types.StateTagThrow:
			color = "4"
		case e.state.Tag() == types.StateTagNoop:
			color = "7"
		}
		fmt.Fprintf(w, "  %q [style=filled, fillcolor=%s];\n", label, color)
	}
	for _, node := range ordered {
		for _, dep := range g.entries[node].dependencies {
			fmt.Fprintf(w, "  %q -> %q;\n", names[node], names[dep])
		}
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}

func nodeLess(a, b Node) bool {
	if a.Subject.Id != b.Subject.Id {
		return a.Subject.Id < b.Subject.Id
	}
	if a.Product.Id != b.Product.Id {
		return a.Product.Id < b.Product.Id
	}
	return a.Variants < b.Variants
}

// Trace writes an indented walk from each given root through its
// dependencies, annotated with states. Used to contextualize Throw roots.
func (g *Graph) Trace(w io.Writer, roots []Node, format func(Node) string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, root := range roots {
		if err := g.traceLocked(w, root, 1, make(map[Node]struct{}), format); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) traceLocked(w io.Writer, node Node, depth int, seen map[Node]struct{}, format func(Node) string) error {
	e, ok := g.entries[node]
	if !ok {
		return nil
	}
	if _, cyclic := seen[node]; cyclic {
		return nil
	}
	seen[node] = struct{}{}
	defer delete(seen, node)

	state := "<not started>"
	if e.state != nil {
		state = e.state.String()
	}
	if _, err := fmt.Fprintf(w, "%s%s == %s\n", strings.Repeat("  ", depth), format(node), state); err != nil {
		return err
	}
	for _, dep := range e.dependencies {
		if err := g.traceLocked(w, dep, depth+1, seen, format); err != nil {
			return err
		}
	}
	return nil
}

// Subjects passes every entry's subject and node to the visitor. Used by the
// invalidator to enumerate path-keyed nodes.
func (g *Graph) Subjects(visit func(node Node, subject any)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for node, e := range g.entries {
		visit(node, e.subject)
	}
}
