package aspect

import (
	"github.com/unix1010/pants/types"
)

var (
	_ types.OnSchedulerBeforeInitAspect = (*RulesetValidator)(nil)
)

// RulesetValidator runs the static rule-graph check while the scheduler is
// constructed, failing construction when a declared root is unsatisfiable.
type RulesetValidator struct {
}

func (aspect *RulesetValidator) Order() int {
	return 10
}

func (aspect *RulesetValidator) New() types.Aspect {
	return &RulesetValidator{}
}

func (aspect *RulesetValidator) Type() string {
	return "rulesetValidator"
}

func (aspect *RulesetValidator) OnSchedulerBeforeInit(config types.Config, graph types.RuleGraphInfo) error {
	return graph.Validate()
}
