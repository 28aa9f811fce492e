package main

import (
	"context"
	"fmt"
	"log"

	"github.com/unix1010/pants/engine"
	"github.com/unix1010/pants/types"
	"github.com/unix1010/pants/watch"
)

// snapshotLoop builds a scheduler with the fs intrinsics over buildRoot and
// re-snapshots the tree whenever the watcher reports changes.
func snapshotLoop(ctx context.Context, buildRoot string) error {
	tasks := engine.NewTasks()
	tasks.AddRootSubjectType(types.PathGlobs{})
	engine.RegisterIntrinsics(tasks)

	config := types.NewConfig(
		types.WithBuildRoot(buildRoot),
		types.WithIgnorePatterns("**/.git/"),
	)
	scheduler, err := engine.NewScheduler(tasks, config)
	if err != nil {
		return err
	}

	globs := types.PathGlobs{Include: []string{"**/*"}}
	snapshot := func() {
		results, err := scheduler.ProductRequest(types.ConstraintForType(types.Snapshot{}), []any{globs})
		if err != nil {
			log.Println(err)
			return
		}
		for _, s := range results {
			fmt.Printf("snapshot: %s (%d stats)\n", s.(types.Snapshot).Fingerprint, len(s.(types.Snapshot).PathStats))
		}
	}
	snapshot()

	watcher, err := watch.New(buildRoot, func(paths []string) {
		invalidated := scheduler.InvalidateFiles(paths)
		log.Printf("invalidated %d nodes for %v", invalidated, paths)
		snapshot()
	})
	if err != nil {
		return err
	}
	defer watcher.Close()
	return watcher.Run(ctx)
}
