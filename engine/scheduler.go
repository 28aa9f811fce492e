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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/unix1010/pants/builtin/aspect"
	"github.com/unix1010/pants/types"
)

// Ensuring Scheduler implements the engine surface.
var _ types.Engine = (*Scheduler)(nil)

// BuiltinsAspects are appended to every scheduler's aspect list. The ruleset
// validator runs the static rule-graph check at construction.
var BuiltinsAspects = []types.Aspect{
	&aspect.RulesetValidator{},
}

type rootSelect struct {
	node     Node
	subject  any
	variants types.Variants
}

// Scheduler is the demand-driven evaluator: it expands the product graph by
// executing registered rules until the requested roots are terminal. A
// single scheduler thread advances the graph; rule functions and intrinsics
// run on the worker pool and reconcile over a completion channel.
type Scheduler struct {
	config    types.Config
	ex        *ExternContext
	idx       *RuleIndex
	ruleGraph *RuleGraph
	graph     *Graph

	aspects   types.AspectList
	runBefore []types.RunBeforeAspect
	runAfter  []types.RunAfterAspect
	nodeAfter []types.NodeAfterAspect

	// runMu is held for the duration of a run. TryLock failing is the
	// concurrent-execution error; PreFork drains by acquiring it.
	runMu sync.Mutex

	mu       sync.Mutex
	roots    []rootSelect
	runCount int
}

// NewScheduler seals the registration set, instantiates intrinsics, and
// validates the static rule graph. A RulesetError here is fatal: no
// execution is possible against an unsatisfiable root.
func NewScheduler(tasks *Tasks, config types.Config, aspects ...types.Aspect) (*Scheduler, error) {
	s := &Scheduler{
		config: config,
		ex:     tasks.Externs(),
		graph:  NewGraph(),
	}

	for _, intr := range tasks.intrinsics {
		instance := intr.Node.New()
		if err := instance.Init(config, intr.Configuration); err != nil {
			return nil, fmt.Errorf("intrinsic for %s init error: %w", instance.Subject(), err)
		}
		intr.Node = instance
	}

	s.idx = NewRuleIndex(tasks)
	s.ruleGraph = NewRuleGraph(s.idx)

	s.aspects = append(types.AspectList{}, aspects...)
	for _, builtin := range BuiltinsAspects {
		s.aspects = append(s.aspects, builtin.New())
	}
	for _, a := range s.aspects.GetOnSchedulerBeforeInitAspects() {
		if err := a.OnSchedulerBeforeInit(config, s.ruleGraph); err != nil {
			return nil, err
		}
	}
	s.runBefore, s.runAfter = s.aspects.GetRunAspects()
	s.nodeAfter = s.aspects.GetNodeAfterAspects()

	if config.VisualizeDir != "" {
		if err := s.visualizeRuleGraph(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Externs exposes the scheduler's interning store.
func (s *Scheduler) Externs() *ExternContext {
	return s.ex
}

// RuleGraph exposes the static rule graph for visualization.
func (s *Scheduler) RuleGraph() *RuleGraph {
	return s.ruleGraph
}

func (s *Scheduler) makeNode(subject any, product types.TypeConstraint, variants types.Variants) Node {
	return Node{
		Subject:  s.ex.KeyForObj(subject),
		Product:  product,
		Variants: variants.Canonical(),
	}
}

// ExecutionReset clears the roots of the previous request; the product graph
// and its memoized states are retained.
func (s *Scheduler) ExecutionReset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roots = nil
}

// ExecutionAddRootSelect seeds a (subject, product) root for the next run.
func (s *Scheduler) ExecutionAddRootSelect(subject any, product types.Constraint) error {
	return s.ExecutionAddRootSelectVariants(subject, product, nil)
}

// ExecutionAddRootSelectVariants seeds a root with variants attached to the
// subject.
func (s *Scheduler) ExecutionAddRootSelectVariants(subject any, product types.Constraint, variants types.Variants) error {
	if !s.idx.IsRootSubjectType(s.ex.TypeIdOf(subject)) {
		return fmt.Errorf("%w: %T", types.ErrNotRootSubject, subject)
	}
	node := s.makeNode(subject, s.ex.ConstraintFor(product), variants)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roots = append(s.roots, rootSelect{node: node, subject: subject, variants: variants})
	return nil
}

// ExecutionExecute advances the product graph until every root is terminal,
// or until a Throw under the fail-fast policy. One invocation is one run; a
// concurrent invocation is rejected.
func (s *Scheduler) ExecutionExecute() (types.ExecutionStat, error) {
	if !s.runMu.TryLock() {
		return types.ExecutionStat{}, types.ErrConcurrentExecution
	}
	defer s.runMu.Unlock()

	start := time.Now()
	runId := uuid.Must(uuid.NewV4()).String()
	for _, a := range s.runBefore {
		if err := a.Before(runId); err != nil {
			return types.ExecutionStat{}, err
		}
	}

	// Non-cacheable results never survive between runs.
	s.graph.DirtyUncacheable()

	s.mu.Lock()
	roots := append([]rootSelect(nil), s.roots...)
	s.mu.Unlock()

	l := &runLoop{
		s:           s,
		runner:      newRunner(s.config.Parallelism),
		completions: make(chan completion, 128),
	}

	remaining := len(roots)
	for _, r := range roots {
		l.ensure(r.node, r.subject, r.variants, func(st types.State) {
			remaining--
			if st.Tag() == types.StateTagThrow && s.config.FailFast {
				l.halted = true
			}
		})
	}

	var runErr error
	for remaining > 0 && !l.halted {
		l.stat.SchedulingIterations++
		for len(l.ready) > 0 && !l.halted {
			next := l.ready[0]
			l.ready = l.ready[1:]
			next()
		}
		if remaining == 0 || l.halted {
			break
		}
		if l.inFlight == 0 {
			if len(l.ready) == 0 {
				runErr = fmt.Errorf("invariant violation: %d roots waiting with no runnable work (dependency cycle?)", remaining)
				break
			}
			continue
		}
		c := <-l.completions
		l.inFlight--
		l.apply(c)
	}

	// Drain the pool so completions from an interrupted run still land in
	// the graph under their generation checks. No new work is dispatched
	// once halted.
	l.halted = true
	for l.inFlight > 0 {
		c := <-l.completions
		l.inFlight--
		l.apply(c)
	}
	for len(l.ready) > 0 {
		next := l.ready[0]
		l.ready = l.ready[1:]
		next()
	}
	l.runner.wait()
	s.graph.ResetRunState()

	status := "0"
	if runErr != nil {
		status = "100"
	}
	elapsed := time.Since(start)
	engineRunsTotal.WithLabelValues(status).Inc()
	engineRunDuration.Observe(elapsed.Seconds())
	engineRunnablesTotal.Add(float64(l.stat.RunnableCount))

	s.mu.Lock()
	run := s.runCount
	s.runCount++
	s.mu.Unlock()
	if s.config.VisualizeDir != "" {
		name := filepath.Join(s.config.VisualizeDir, "run."+strconv.Itoa(run)+".dot")
		if err := s.visualizeToFile(name); err != nil && runErr == nil {
			runErr = err
		}
	}

	s.config.Logger.Printf(
		"ran %d scheduling iterations and %d runnables in %f seconds. there are %d total nodes.",
		l.stat.SchedulingIterations, l.stat.RunnableCount, elapsed.Seconds(), s.graph.Len())

	for _, a := range s.runAfter {
		if err := a.After(runId, l.stat); err != nil && runErr == nil {
			runErr = err
		}
	}
	return l.stat, runErr
}

// ExecutionRoots returns the seeded roots with their current states in the
// root-node result encoding.
func (s *Scheduler) ExecutionRoots() []types.RawNode {
	s.mu.Lock()
	roots := append([]rootSelect(nil), s.roots...)
	s.mu.Unlock()

	out := make([]types.RawNode, len(roots))
	for i, r := range roots {
		raw := types.RawNode{
			Subject:  r.node.Subject,
			Product:  r.node.Product,
			StateTag: types.StateTagEmpty,
		}
		if st, ok := s.graph.TerminalState(r.node); ok {
			raw.StateTag = st.Tag()
			switch t := st.(type) {
			case types.Return:
				raw.StateValue = t.Value
			case types.Throw:
				raw.StateValue = t.Exc
			case types.Noop:
				raw.StateValue = s.ex.CreateException(t.Reason.String())
			}
		}
		out[i] = raw
	}
	return out
}

// GraphLen returns the number of nodes in the product graph.
func (s *Scheduler) GraphLen() int {
	return s.graph.Len()
}

// GraphInvalidate dirties all nodes whose subject covers one of the given
// build-root-relative paths, plus transitive dependents. It never fails.
func (s *Scheduler) GraphInvalidate(paths []string) int {
	count := newInvalidator(s.graph).InvalidatePaths(paths)
	engineInvalidatedNodes.Add(float64(count))
	s.config.Logger.Printf("invalidated %d nodes for: %v", count, paths)
	return count
}

// InvalidateFiles invalidates the given changed files plus each file's
// parent directory: watchers do not reliably emit events for children
// created or deleted under a directory, so the directory listing must be
// re-computed too.
func (s *Scheduler) InvalidateFiles(direct []string) int {
	seen := make(map[string]struct{}, len(direct)*2)
	var paths []string
	add := func(p string) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			paths = append(paths, p)
		}
	}
	for _, f := range direct {
		add(f)
		add(filepath.Dir(f))
	}
	return s.GraphInvalidate(paths)
}

// GraphVisualize writes the product graph as graphviz dot.
func (s *Scheduler) GraphVisualize(w io.Writer) error {
	return s.graph.WriteDot(w, s.formatNode)
}

// GraphTrace writes a trace from each root back through the graph.
func (s *Scheduler) GraphTrace(w io.Writer) error {
	s.mu.Lock()
	nodes := make([]Node, len(s.roots))
	for i, r := range s.roots {
		nodes[i] = r.node
	}
	s.mu.Unlock()
	return s.graph.Trace(w, nodes, s.formatNode)
}

// PreFork waits for an in-flight run to finish by acquiring the run lock, then
// releases it. The scheduler is not parked afterwards: a new run may start as
// soon as PreFork returns.
func (s *Scheduler) PreFork() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
}

func (s *Scheduler) formatNode(node Node) string {
	label := fmt.Sprintf("Select(%s, %s)", s.ex.IdToStr(node.Subject.Id), s.ex.IdToStr(node.Product.Id))
	if node.Variants != "" {
		label += "[" + node.Variants + "]"
	}
	return label
}

func (s *Scheduler) visualizeRuleGraph() error {
	f, err := os.Create(filepath.Join(s.config.VisualizeDir, "rule_graph.dot"))
	if err != nil {
		return err
	}
	defer f.Close()
	return s.ruleGraph.WriteDot(f)
}

func (s *Scheduler) visualizeToFile(name string) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.GraphVisualize(f)
}

// ProductRequest executes a request for one product over the given subjects
// and returns the produced values, with length and order matching subjects.
// Throw or Noop roots surface as an ExecutionError, embedding the graph
// trace when configured.
func (s *Scheduler) ProductRequest(product types.Constraint, subjects []any) ([]any, error) {
	s.ExecutionReset()
	for _, subject := range subjects {
		if err := s.ExecutionAddRootSelect(subject, product); err != nil {
			return nil, err
		}
	}
	if _, err := s.ExecutionExecute(); err != nil {
		return nil, err
	}

	var out []any
	var failures []string
	for _, raw := range s.ExecutionRoots() {
		switch raw.StateTag {
		case types.StateTagReturn:
			out = append(out, raw.StateValue.Inner)
		default:
			failures = append(failures, fmt.Sprintf("%s: %s", s.ex.IdToStr(raw.Subject.Id), s.ex.ValToStr(raw.StateValue)))
		}
	}
	if len(failures) > 0 {
		msg := "received unexpected Throw state(s):\n  " + strings.Join(failures, "\n  ")
		if s.config.IncludeTraceOnError {
			var trace strings.Builder
			if err := s.GraphTrace(&trace); err == nil {
				msg += "\n" + trace.String()
			}
		}
		return nil, &types.ExecutionError{Msg: msg}
	}
	return out, nil
}

// runLoop is the per-run evaluation state: the ready queue of scheduler
// thunks, the in-flight counter, and the single-consumer completion channel.
type runLoop struct {
	s           *Scheduler
	runner      *runner
	completions chan completion
	ready       []func()
	inFlight    int
	stat        types.ExecutionStat
	halted      bool
}

func (l *runLoop) push(f func()) {
	l.ready = append(l.ready, f)
}

// ensure requests the node, creating it on first demand. The waiter receives
// the terminal state, possibly immediately for a memoized node.
func (l *runLoop) ensure(node Node, subject any, variants types.Variants, waiter func(types.State)) {
	l.s.graph.GetOrCreate(node, subject, variants)
	if st, done := l.s.graph.AddWaiter(node, waiter); done {
		l.push(func() { waiter(st) })
		return
	}
	if gen, ok := l.s.graph.BeginEvaluation(node); ok {
		l.push(func() { l.startEval(node, subject, variants, gen) })
	}
}

// requestChild records the dependency edge and ensures the child.
func (l *runLoop) requestChild(parent Node, childSubject any, product types.TypeConstraint, variants types.Variants, cb func(types.State)) {
	child := l.s.makeNode(childSubject, product, variants)
	l.s.graph.GetOrCreate(child, childSubject, variants)
	l.s.graph.AddEdge(parent, child)
	l.ensure(child, childSubject, variants, cb)
}

// startEval resolves the node's providers in tie-break order: a singleton
// wins outright, a subject already satisfying the product is its own
// product, an intrinsic for the subject type wins over task rules, and task
// candidates are tried by the nodeEval state machine.
func (l *runLoop) startEval(node Node, subject any, variants types.Variants, gen uint64) {
	if l.halted {
		l.s.graph.Abandon(node)
		return
	}
	if singleton, ok := l.s.idx.Singleton(node.Product); ok {
		l.completeNode(node, subject, variants, gen, types.Return{Value: singleton.Value}, true)
		return
	}
	if l.s.ex.SatisfiedBy(node.Product, l.s.ex.TypeIdOf(subject)) {
		l.completeNode(node, subject, variants, gen, types.Return{Value: l.s.ex.ToValue(subject)}, true)
		return
	}
	if intrinsic, ok := l.s.idx.Intrinsic(l.s.ex.TypeIdOf(subject), node.Product); ok {
		l.dispatchIntrinsic(node, subject, variants, gen, intrinsic)
		return
	}
	candidates := orderCandidates(l.s.idx.TasksFor(node.Product), variants)
	if len(candidates) == 0 {
		l.completeNode(node, subject, variants, gen, types.Noop{Reason: types.NoopNoRuleApplicable}, true)
		return
	}
	ev := &nodeEval{
		l:          l,
		node:       node,
		subject:    subject,
		variants:   variants,
		gen:        gen,
		candidates: candidates,
	}
	ev.tryCandidate()
}

// completeNode records a terminal state and schedules the node's waiters. A
// stale generation (the node was dirtied while evaluating) discards the
// result and re-evaluates.
func (l *runLoop) completeNode(node Node, subject any, variants types.Variants, gen uint64, st types.State, cacheable bool) {
	if !cacheable {
		l.s.graph.MarkUncacheable(node)
	}
	waiters, err := l.s.graph.Complete(node, st, gen)
	if errors.Is(err, ErrStaleGeneration) {
		if gen2, ok := l.s.graph.BeginEvaluation(node); ok {
			l.push(func() { l.startEval(node, subject, variants, gen2) })
		}
		return
	}
	if err != nil {
		// Graph corruption is not recoverable.
		panic(err)
	}
	for _, a := range l.s.nodeAfter {
		a.AfterNode(l.s.ex.IdToStr(node.Subject.Id), l.s.ex.IdToStr(node.Product.Id), st)
	}
	for _, w := range waiters {
		w := w
		l.push(func() { w(st) })
	}
}

func (l *runLoop) dispatchTask(node Node, subject any, variants types.Variants, gen uint64, task *types.TaskRule, args []types.Value) {
	if l.halted {
		l.s.graph.Abandon(node)
		return
	}
	l.stat.RunnableCount++
	l.inFlight++
	l.runner.spawn(l.completions, func(ctx context.Context) completion {
		v, isThrow := l.s.ex.InvokeRunnable(ctx, task.Func, args, task.Cacheable)
		var st types.State
		if isThrow {
			st = types.Throw{Exc: v}
		} else {
			st = types.Return{Value: v}
		}
		return completion{
			node:        node,
			subject:     subject,
			variants:    variants,
			gen:         gen,
			state:       st,
			uncacheable: !task.Cacheable,
		}
	})
}

func (l *runLoop) dispatchIntrinsic(node Node, subject any, variants types.Variants, gen uint64, intrinsic *types.IntrinsicRule) {
	if l.halted {
		l.s.graph.Abandon(node)
		return
	}
	l.stat.RunnableCount++
	l.inFlight++
	ex := l.s.ex
	l.runner.spawn(l.completions, func(ctx context.Context) completion {
		v, err := intrinsic.Node.Run(ctx, ex, ex.ToValue(subject))
		var st types.State
		if err != nil {
			st = types.Throw{Exc: ex.ToValue(err)}
		} else {
			st = types.Return{Value: v}
		}
		return completion{node: node, subject: subject, variants: variants, gen: gen, state: st}
	})
}

func (l *runLoop) apply(c completion) {
	l.completeNode(c.node, c.subject, c.variants, c.gen, c.state, !c.uncacheable)
}
