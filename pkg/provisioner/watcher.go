package provisioner

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/techlabs/labforge/pkg/telemetry"
)

// WorkspaceEvent describes a change observed under the workspace root.
type WorkspaceEvent struct {
	// Workspace is the top-level workspace directory the change belongs to.
	Workspace string

	// Removed is true when the workspace directory itself disappeared.
	Removed bool
}

// Watcher observes the workspace root for out-of-band changes, typically an
// operator deleting a workspace directory by hand. Consumers feed these
// observations into the orphan sweep rather than acting on them directly.
type Watcher struct {
	root    string
	watcher *fsnotify.Watcher
	logger  *telemetry.Logger
}

// NewWatcher creates a watcher over the given workspace root.
func NewWatcher(root string, logger *telemetry.Logger) (*Watcher, error) {
	if logger == nil {
		logger = telemetry.FromContext(context.Background())
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		root:    root,
		watcher: fsw,
		logger:  logger.NewComponentLogger("workspace-watcher"),
	}, nil
}

// Watch delivers workspace events to fn until the context is canceled.
// Blocking; run it on its own goroutine.
func (w *Watcher) Watch(ctx context.Context, fn func(WorkspaceEvent)) error {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			workspace := w.workspaceOf(event.Name)
			if workspace == "" {
				continue
			}
			removed := event.Op&(fsnotify.Remove|fsnotify.Rename) != 0
			w.logger.WithWorkspace(workspace).Debugf("workspace change observed: %s", event.Op)
			fn(WorkspaceEvent{Workspace: workspace, Removed: removed})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("workspace watcher error")
		}
	}
}

// workspaceOf maps a changed path to its top-level workspace directory name,
// or "" for paths outside the root.
func (w *Watcher) workspaceOf(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || rel == ".." {
		return ""
	}
	// The watcher is non-recursive; events arrive for direct children only.
	return filepath.Base(rel)
}
