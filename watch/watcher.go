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

// Package watch adapts a file-system watcher into the batched
// invalidation-path stream the engine consumes. The watcher owns no engine
// state: it only reports build-root-relative paths, typically into
// Scheduler.InvalidateFiles.
package watch

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/unix1010/pants/types"
)

// Handler receives one debounced batch of changed build-root-relative paths.
type Handler func(paths []string)

// Watcher watches a build root recursively and delivers change batches.
type Watcher struct {
	root     string
	debounce time.Duration
	logger   types.Logger
	handler  Handler

	fsw *fsnotify.Watcher
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the batching window. Default 50ms.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithLogger replaces the default logger.
func WithLogger(l types.Logger) Option {
	return func(w *Watcher) {
		w.logger = l
	}
}

// New creates a watcher over the given build root.
func New(root string, handler Handler, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:     root,
		debounce: 50 * time.Millisecond,
		logger:   types.DefaultLogger(),
		handler:  handler,
		fsw:      fsw,
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(p)
		}
		return nil
	})
}

// Run delivers batches until the context is canceled. Events inside the
// debounce window coalesce into one batch; duplicate paths are dropped.
func (w *Watcher) Run(ctx context.Context) error {
	pending := make(map[string]struct{})
	var flush <-chan time.Time

	deliver := func() {
		if len(pending) == 0 {
			return
		}
		batch := make([]string, 0, len(pending))
		for p := range pending {
			batch = append(batch, p)
		}
		pending = make(map[string]struct{})
		w.handler(batch)
	}

	for {
		select {
		case <-ctx.Done():
			deliver()
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				deliver()
				return nil
			}
			rel, err := filepath.Rel(w.root, event.Name)
			if err != nil {
				continue
			}
			pending[filepath.ToSlash(rel)] = struct{}{}
			// New directories must be watched before their children change.
			if event.Op.Has(fsnotify.Create) {
				_ = w.addRecursive(event.Name)
			}
			if flush == nil {
				flush = time.After(w.debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				deliver()
				return nil
			}
			w.logger.Printf("watcher error: %v", err)
		case <-flush:
			flush = nil
			deliver()
		}
	}
}

// Close stops the underlying watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
