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

package types

import (
	"io"
)

// Engine is the scheduler surface external collaborators drive: seed roots,
// execute, read results, and invalidate when watched files change.
type Engine interface {
	// ExecutionReset clears the roots of the previous request. The product
	// graph is retained.
	ExecutionReset()

	// ExecutionAddRootSelect seeds a (subject, product) root for the next
	// run. The subject's type must be root-allowed.
	ExecutionAddRootSelect(subject any, product Constraint) error

	// ExecutionExecute advances the product graph until all roots are
	// terminal, returning the run statistics. A second call while a run is
	// in progress returns ErrConcurrentExecution.
	ExecutionExecute() (ExecutionStat, error)

	// ExecutionRoots returns the seeded roots with their current states.
	ExecutionRoots() []RawNode

	// GraphLen returns the number of nodes in the product graph.
	GraphLen() int

	// GraphInvalidate dirties all nodes whose subject covers one of the
	// given build-root-relative paths, plus their transitive dependents, and
	// returns the number of dirtied nodes.
	GraphInvalidate(paths []string) int

	// GraphVisualize writes the product graph as graphviz dot.
	GraphVisualize(w io.Writer) error

	// GraphTrace writes a trace from each root back through the graph.
	GraphTrace(w io.Writer) error

	// PreFork waits for an in-flight run to finish and returns. The scheduler
	// is not parked afterwards: a new run may start as soon as it returns.
	PreFork()
}
