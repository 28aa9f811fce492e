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
	"fmt"

	"github.com/unix1010/pants/types"
)

// nodeEval drives one node through its candidate rules. Candidates are tried
// in tie-break order; within a candidate every selector resolves to a Value
// through sub-requests before the rule function is dispatched. A selector
// Noop abandons the candidate and advances to the next; a Throw terminates
// the node. All methods run on the scheduler goroutine.
type nodeEval struct {
	l        *runLoop
	node     Node
	subject  any
	variants types.Variants
	gen      uint64

	candidates []*types.TaskRule
	ci         int

	// round guards against callbacks from an abandoned candidate: every
	// child continuation captures the round it was issued under.
	round int
	done  bool

	results   []types.Value
	remaining int

	// noopReason remembers why the last candidate was abandoned; it becomes
	// the terminal reason once every candidate has failed.
	noopReason types.NoopReason
}

// orderCandidates applies the variant tie-break: rules tagged with a variant
// value present in the subject's variants come first, untagged rules follow,
// and tagged rules that match nothing are excluded.
func orderCandidates(tasks []*types.TaskRule, variants types.Variants) []*types.TaskRule {
	var matching, untagged []*types.TaskRule
	values := make(map[string]struct{}, len(variants))
	for _, v := range variants {
		values[v] = struct{}{}
	}
	for _, task := range tasks {
		switch {
		case task.Variant == "":
			untagged = append(untagged, task)
		default:
			if _, ok := values[task.Variant]; ok {
				matching = append(matching, task)
			}
		}
	}
	return append(matching, untagged...)
}

func (ev *nodeEval) tryCandidate() {
	task := ev.candidates[ev.ci]
	ev.round++
	round := ev.round
	ev.results = make([]types.Value, len(task.Selectors))
	ev.remaining = len(task.Selectors)

	if ev.remaining == 0 {
		ev.dispatch(task)
		return
	}
	for i, sel := range task.Selectors {
		ev.evalSelector(round, i, sel)
		if ev.round != round || ev.done {
			return
		}
	}
}

func (ev *nodeEval) stale(round int) bool {
	return ev.done || ev.round != round
}

// resolve records the selector's Value and dispatches the rule once every
// selector has resolved.
func (ev *nodeEval) resolve(round, slot int, v types.Value) {
	if ev.stale(round) {
		return
	}
	ev.results[slot] = v
	ev.remaining--
	if ev.remaining == 0 {
		ev.dispatch(ev.candidates[ev.ci])
	}
}

// noopCandidate abandons the current candidate for the given reason and
// tries the next; with none left the node terminates as Noop carrying the
// last candidate's reason.
func (ev *nodeEval) noopCandidate(round int, reason types.NoopReason) {
	if ev.stale(round) {
		return
	}
	ev.noopReason = reason
	ev.ci++
	if ev.ci < len(ev.candidates) {
		ev.tryCandidate()
		return
	}
	ev.done = true
	ev.l.completeNode(ev.node, ev.subject, ev.variants, ev.gen, types.Noop{Reason: ev.noopReason}, true)
}

func (ev *nodeEval) throw(round int, exc types.Value) {
	if ev.stale(round) {
		return
	}
	ev.done = true
	ev.l.completeNode(ev.node, ev.subject, ev.variants, ev.gen, types.Throw{Exc: exc}, true)
}

func (ev *nodeEval) throwErr(round int, err error) {
	ev.throw(round, ev.l.s.ex.ToValue(err))
}

func (ev *nodeEval) dispatch(task *types.TaskRule) {
	ev.done = true
	ev.l.dispatchTask(ev.node, ev.subject, ev.variants, ev.gen, task, ev.results)
}

// request issues a sub-request for (childSubject, product) under the node's
// variants and arranges for cb to receive the child's terminal state.
func (ev *nodeEval) request(childSubject any, product types.TypeConstraint, cb func(types.State)) {
	ev.l.requestChild(ev.node, childSubject, product, ev.variants, cb)
}

// deliver maps a plain child state onto the selector slot: Return resolves,
// Throw propagates, Noop abandons the candidate.
func (ev *nodeEval) deliver(round, slot int, st types.State) {
	if ev.stale(round) {
		return
	}
	switch s := st.(type) {
	case types.Return:
		ev.resolve(round, slot, s.Value)
	case types.Throw:
		ev.throw(round, s.Exc)
	case types.Noop:
		ev.noopCandidate(round, types.NoopDependencyNoop)
	}
}

func (ev *nodeEval) evalSelector(round, slot int, sel types.Selector) {
	switch s := sel.(type) {
	case types.Select:
		ev.request(ev.subject, s.Product, func(st types.State) {
			ev.deliver(round, slot, st)
		})
	case types.SelectVariant:
		if _, ok := ev.variants[s.VariantKey]; !ok {
			ev.noopCandidate(round, types.NoopNoVariant)
			return
		}
		ev.request(ev.subject, s.Product, func(st types.State) {
			ev.deliver(round, slot, st)
		})
	case types.SelectDependencies:
		ev.evalDependencies(round, slot, s)
	case types.SelectTransitive:
		w := &transitiveWalk{
			ev:      ev,
			round:   round,
			slot:    slot,
			sel:     s,
			seen:    make(map[types.Id]struct{}),
			results: make(map[types.Id]types.Value),
			deps:    make(map[types.Id][]types.Id),
		}
		w.start()
	case types.SelectProjection:
		ev.evalProjection(round, slot, s)
	default:
		ev.throwErr(round, fmt.Errorf("unrecognized selector type %T", sel))
	}
}

func (ev *nodeEval) checkFieldType(v types.Value, fieldTypes []types.TypeId, field string) error {
	for _, ft := range fieldTypes {
		if v.TypeId == ft {
			return nil
		}
	}
	return fmt.Errorf("value %v in field %q has unexpected type %s",
		v.Inner, field, ev.l.s.ex.IdToStr(v.TypeId.Id))
}

func (ev *nodeEval) evalDependencies(round, slot int, s types.SelectDependencies) {
	ex := ev.l.s.ex
	ev.request(ev.subject, s.DepProduct, func(st types.State) {
		if ev.stale(round) {
			return
		}
		ret, ok := st.(types.Return)
		if !ok {
			ev.deliver(round, slot, st)
			return
		}
		members, err := ex.ProjectMulti(ret.Value, s.Field)
		if err != nil {
			ev.throwErr(round, err)
			return
		}
		for _, m := range members {
			if err := ev.checkFieldType(m, s.FieldTypes, s.Field); err != nil {
				ev.throwErr(round, err)
				return
			}
		}
		if len(members) == 0 {
			ev.resolve(round, slot, ex.StoreList(nil, false))
			return
		}

		collected := make([]types.Value, len(members))
		pending := len(members)
		for j, m := range members {
			j := j
			ev.request(m.Inner, s.Product, func(cst types.State) {
				if ev.stale(round) {
					return
				}
				cret, ok := cst.(types.Return)
				if !ok {
					ev.deliver(round, slot, cst)
					return
				}
				collected[j] = cret.Value
				pending--
				if pending == 0 {
					ev.resolve(round, slot, ex.StoreList(collected, false))
				}
			})
		}
	})
}

func (ev *nodeEval) evalProjection(round, slot int, s types.SelectProjection) {
	ex := ev.l.s.ex
	ev.request(ev.subject, s.InputProduct, func(st types.State) {
		if ev.stale(round) {
			return
		}
		ret, ok := st.(types.Return)
		if !ok {
			ev.deliver(round, slot, st)
			return
		}
		projected, err := ex.Project(ret.Value, s.Field, s.ProjectedSubject)
		if err != nil {
			ev.throwErr(round, err)
			return
		}
		ev.request(projected.Inner, s.Product, func(cst types.State) {
			ev.deliver(round, slot, cst)
		})
	})
}

// transitiveWalk resolves a SelectTransitive selector: the dep product's
// field seeds the frontier, and the field of each produced product extends
// it until the closure is exhausted. Results are delivered in topological
// order, producers before their consumers.
type transitiveWalk struct {
	ev    *nodeEval
	round int
	slot  int
	sel   types.SelectTransitive

	pending int
	seen    map[types.Id]struct{}
	results map[types.Id]types.Value
	deps    map[types.Id][]types.Id
	roots   []types.Id
	order   []types.Id
}

func (w *transitiveWalk) start() {
	ev := w.ev
	ex := ev.l.s.ex
	ev.request(ev.subject, w.sel.DepProduct, func(st types.State) {
		if ev.stale(w.round) {
			return
		}
		ret, ok := st.(types.Return)
		if !ok {
			ev.deliver(w.round, w.slot, st)
			return
		}
		members, err := ex.ProjectMulti(ret.Value, w.sel.Field)
		if err != nil {
			ev.throwErr(w.round, err)
			return
		}
		if len(members) == 0 {
			ev.resolve(w.round, w.slot, ex.StoreList(nil, false))
			return
		}
		for _, m := range members {
			id, ok := w.visit(m)
			if !ok {
				return
			}
			w.roots = append(w.roots, id)
		}
	})
}

// visit requests the product for one frontier member, recursing into the
// members projected from the produced value. Returns the member's key id.
func (w *transitiveWalk) visit(m types.Value) (types.Id, bool) {
	ev := w.ev
	ex := ev.l.s.ex

	if err := ev.checkFieldType(m, w.sel.FieldTypes, w.sel.Field); err != nil {
		ev.throwErr(w.round, err)
		return 0, false
	}
	key := ex.KeyFor(m)
	if _, ok := w.seen[key.Id]; ok {
		return key.Id, true
	}
	w.seen[key.Id] = struct{}{}
	w.pending++

	ev.request(m.Inner, w.sel.Product, func(st types.State) {
		if ev.stale(w.round) {
			return
		}
		ret, ok := st.(types.Return)
		if !ok {
			ev.deliver(w.round, w.slot, st)
			return
		}
		w.results[key.Id] = ret.Value

		// Produced values without the field are leaves of the closure.
		if members, err := ex.ProjectMulti(ret.Value, w.sel.Field); err == nil {
			for _, child := range members {
				childId, ok := w.visit(child)
				if !ok {
					return
				}
				w.deps[key.Id] = append(w.deps[key.Id], childId)
			}
		}

		w.pending--
		if w.pending == 0 {
			w.finish()
		}
	})
	return key.Id, true
}

// finish emits the closure depth-first with dependencies before dependents.
func (w *transitiveWalk) finish() {
	emitted := make(map[types.Id]struct{})
	var emit func(id types.Id)
	emit = func(id types.Id) {
		if _, done := emitted[id]; done {
			return
		}
		emitted[id] = struct{}{}
		for _, dep := range w.deps[id] {
			emit(dep)
		}
		w.order = append(w.order, id)
	}
	for _, root := range w.roots {
		emit(root)
	}

	ex := w.ev.l.s.ex
	ordered := make([]types.Value, 0, len(w.order))
	for _, id := range w.order {
		ordered = append(ordered, w.results[id])
	}
	w.ev.resolve(w.round, w.slot, ex.StoreList(ordered, false))
}
