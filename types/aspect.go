package types

import (
	"io"
	"sort"
)

// RuleGraphInfo is the view of the static rule graph handed to
// scheduler-init aspects.
type RuleGraphInfo interface {
	Validate() error
	WriteDot(w io.Writer) error
}

// Aspect is a cross-cutting hook attached to a scheduler.
type Aspect interface {
	Order() int
	New() Aspect
}

// RunBeforeAspect runs before each execution run.
type RunBeforeAspect interface {
	Aspect
	Before(runId string) error
}

// RunAfterAspect runs after each execution run with the run statistics.
type RunAfterAspect interface {
	Aspect
	After(runId string, stat ExecutionStat) error
}

// NodeAfterAspect observes every node reaching a terminal state.
type NodeAfterAspect interface {
	Aspect
	AfterNode(subject string, product string, state State)
}

// OnSchedulerBeforeInitAspect runs once while the scheduler is constructed,
// before any execution. The ruleset validator is installed here.
type OnSchedulerBeforeInitAspect interface {
	Aspect
	OnSchedulerBeforeInit(config Config, graph RuleGraphInfo) error
}

// AspectList is an ordered collection of aspects.
type AspectList []Aspect

func (list AspectList) sorted() AspectList {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Order() < list[j].Order()
	})
	return list
}

// GetRunAspects returns the before/after run aspects in order.
func (list AspectList) GetRunAspects() ([]RunBeforeAspect, []RunAfterAspect) {
	var before []RunBeforeAspect
	var after []RunAfterAspect
	for _, item := range list.sorted() {
		if a, ok := item.(RunBeforeAspect); ok {
			before = append(before, a)
		}
		if a, ok := item.(RunAfterAspect); ok {
			after = append(after, a)
		}
	}
	return before, after
}

// GetNodeAfterAspects returns node-completion aspects in order.
func (list AspectList) GetNodeAfterAspects() []NodeAfterAspect {
	var out []NodeAfterAspect
	for _, item := range list.sorted() {
		if a, ok := item.(NodeAfterAspect); ok {
			out = append(out, a)
		}
	}
	return out
}

// GetOnSchedulerBeforeInitAspects returns construction-time aspects in order.
func (list AspectList) GetOnSchedulerBeforeInitAspects() []OnSchedulerBeforeInitAspect {
	var out []OnSchedulerBeforeInitAspect
	for _, item := range list.sorted() {
		if a, ok := item.(OnSchedulerBeforeInitAspect); ok {
			out = append(out, a)
		}
	}
	return out
}
