package aspect

import (
	"fmt"

	"github.com/unix1010/pants/types"
)

var (
	_ types.RunBeforeAspect = (*RunDebug)(nil)
	_ types.RunAfterAspect  = (*RunDebug)(nil)
)

// RunDebug prints run boundaries and statistics.
type RunDebug struct {
}

func (aspect *RunDebug) Order() int {
	return 900
}

func (aspect *RunDebug) New() types.Aspect {
	return &RunDebug{}
}

func (aspect *RunDebug) Type() string {
	return "runDebug"
}

func (aspect *RunDebug) Before(runId string) error {
	fmt.Println("Before run:", runId)
	return nil
}

func (aspect *RunDebug) After(runId string, stat types.ExecutionStat) error {
	fmt.Println("After run:", runId, "runnables:", stat.RunnableCount, "iterations:", stat.SchedulingIterations)
	return nil
}
