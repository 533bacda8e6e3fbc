package provisioner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestWatcherObservesRemoval tests that deleting a workspace directory
// surfaces as a removal event
func TestWatcherObservesRemoval(t *testing.T) {
	root := t.TempDir()
	workspace := filepath.Join(root, "attendee-att-1")
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}

	watcher, err := NewWatcher(root, nil)
	if err != nil {
		t.Fatalf("watcher creation failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan WorkspaceEvent, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = watcher.Watch(ctx, func(ev WorkspaceEvent) { events <- ev })
	}()

	if err := os.RemoveAll(workspace); err != nil {
		t.Fatalf("failed to remove workspace: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Workspace == "attendee-att-1" && ev.Removed {
				cancel()
				<-done
				return
			}
		case <-deadline:
			t.Fatal("no removal event observed within 2s")
		}
	}
}

// TestWatcherRejectsMissingRoot tests creation against an absent root
func TestWatcherRejectsMissingRoot(t *testing.T) {
	if _, err := NewWatcher(filepath.Join(t.TempDir(), "absent"), nil); err == nil {
		t.Error("expected an error for a missing workspace root")
	}
}

// TestWorkspaceOf tests path-to-workspace mapping
func TestWorkspaceOf(t *testing.T) {
	root := t.TempDir()
	watcher, err := NewWatcher(root, nil)
	if err != nil {
		t.Fatalf("watcher creation failed: %v", err)
	}
	defer watcher.watcher.Close()

	if got := watcher.workspaceOf(filepath.Join(root, "attendee-att-1")); got != "attendee-att-1" {
		t.Errorf("expected attendee-att-1, got %q", got)
	}
	if got := watcher.workspaceOf(root); got != "" {
		t.Errorf("the root itself must not map to a workspace, got %q", got)
	}
}
