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
	"runtime"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"golang.org/x/sync/semaphore"

	"github.com/unix1010/pants/types"
	"github.com/unix1010/pants/utils/js"
)

// completion carries a finished task back to the scheduler loop.
type completion struct {
	node        Node
	subject     any
	variants    types.Variants
	gen         uint64
	state       types.State
	uncacheable bool
}

// runner executes intrinsics and rule functions on a bounded worker pool.
// spawn never blocks the scheduler: the parallelism bound is acquired inside
// the worker goroutine, and completions reconcile over the single-consumer
// channel owned by the run loop.
type runner struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
	ctx context.Context
}

func newRunner(parallelism int) *runner {
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	return &runner{
		sem: semaphore.NewWeighted(int64(parallelism)),
		ctx: context.Background(),
	}
}

// spawn queues the task; its completion is delivered to out.
func (r *runner) spawn(out chan<- completion, task func(ctx context.Context) completion) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.sem.Acquire(r.ctx, 1); err != nil {
			return
		}
		c := task(r.ctx)
		r.sem.Release(1)
		out <- c
	}()
}

// wait blocks until every spawned task has delivered its completion.
func (r *runner) wait() {
	r.wg.Wait()
}

// exprRunnable is a rule function backed by a compiled expr-lang program.
// The expression sees its selector results as `args` plus `arg0..argN`, and
// the config's global properties as `global`.
type exprRunnable struct {
	name       string
	program    *vm.Program
	properties types.Properties
}

func newExprRunnable(name, source string, properties types.Properties) (*exprRunnable, error) {
	program, err := expr.Compile(source, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	return &exprRunnable{name: name, program: program, properties: properties}, nil
}

func (r *exprRunnable) Name() string { return r.name }

func (r *exprRunnable) Call(ctx context.Context, args []any) (any, error) {
	env := map[string]any{
		"args":   args,
		"global": map[string]any(r.properties),
	}
	for i, a := range args {
		env[fmt.Sprintf("arg%d", i)] = a
	}
	return vm.Run(r.program, env)
}

// jsRunnable is a rule function backed by a goja function.
type jsRunnable struct {
	name     string
	funcName string
	engine   *js.GojaJsEngine
}

func newJsRunnable(config types.Config, name, source, funcName string) (*jsRunnable, error) {
	engine, err := js.NewGojaJsEngine(config, source)
	if err != nil {
		return nil, err
	}
	if funcName == "" {
		funcName = name
	}
	return &jsRunnable{name: name, funcName: funcName, engine: engine}, nil
}

func (r *jsRunnable) Name() string { return r.name }

func (r *jsRunnable) Call(ctx context.Context, args []any) (any, error) {
	return r.engine.Execute(ctx, r.funcName, args...)
}
