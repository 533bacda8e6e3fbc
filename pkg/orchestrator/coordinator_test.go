package orchestrator

import (
	"context"
	"sync"
	"testing"
)

// recordedProgress collects reports handed to a ProgressReporter.
type recordedProgress struct {
	mu     sync.Mutex
	events []progressEvent
}

func (r *recordedProgress) Report(current, total int, label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, progressEvent{"", current, total, label})
}

// coordinatorFixture wires a coordinator with its lifecycle driver.
type coordinatorFixture struct {
	store       *fakeStore
	prov        *fakeProvisioner
	sink        *fakeSink
	coordinator *Coordinator
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	t.Helper()
	store := newFakeStore()
	prov := newFakeProvisioner()
	sink := &fakeSink{}
	lifecycle := NewLifecycleDriver(store, prov, sink, nil, nil, nil)
	return &coordinatorFixture{
		store:       store,
		prov:        prov,
		sink:        sink,
		coordinator: NewCoordinator(store, lifecycle, sink, nil),
	}
}

func (f *coordinatorFixture) seedWorkshop(t *testing.T, attendeeIDs ...string) {
	t.Helper()
	f.store.addWorkshop(testWorkshop("ws-1", WorkshopStatusPlanning))
	for _, id := range attendeeIDs {
		f.store.addAttendee(testAttendee(id, "ws-1", AttendeeStatusPlanning))
	}
}

// TestDeploySequentialAllSucceed tests the full-success run
func TestDeploySequentialAllSucceed(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.seedWorkshop(t, "att-1", "att-2", "att-3")

	report, err := f.coordinator.DeploySequential(context.Background(), "ws-1", nil)
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	if report.Deployed != 3 || report.Failed != 0 {
		t.Errorf("expected 3 deployed / 0 failed, got %d/%d", report.Deployed, report.Failed)
	}
	if report.WorkshopStatus != WorkshopStatusActive {
		t.Errorf("expected workshop active, got %s", report.WorkshopStatus)
	}
	if got := f.store.workshopStatus("ws-1"); got != WorkshopStatusActive {
		t.Errorf("expected persisted workshop active, got %s", got)
	}
	for _, id := range []string{"att-1", "att-2", "att-3"} {
		if got := f.store.attendeeStatus(id); got != AttendeeStatusActive {
			t.Errorf("attendee %s: expected active, got %s", id, got)
		}
	}
}

// TestDeploySequentialOrder tests strict creation-order sequencing
func TestDeploySequentialOrder(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.seedWorkshop(t, "att-1", "att-2", "att-3")

	progress := &recordedProgress{}
	if _, err := f.coordinator.DeploySequential(context.Background(), "ws-1", progress); err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	if len(progress.events) != 3 {
		t.Fatalf("expected 3 progress reports, got %d", len(progress.events))
	}
	for i, ev := range progress.events {
		if ev.current != i+1 || ev.total != 3 {
			t.Errorf("report %d: expected (%d, 3), got (%d, %d)", i, i+1, ev.current, ev.total)
		}
	}
	if progress.events[0].label != "Deploying user-att-1..." {
		t.Errorf("unexpected first label %q", progress.events[0].label)
	}

	// Deploying transitions must appear in creation order
	var deployingOrder []string
	f.store.mu.Lock()
	for _, w := range f.store.statusWrites {
		if w == "att-1:deploying" || w == "att-2:deploying" || w == "att-3:deploying" {
			deployingOrder = append(deployingOrder, w)
		}
	}
	f.store.mu.Unlock()
	want := []string{"att-1:deploying", "att-2:deploying", "att-3:deploying"}
	for i := range want {
		if deployingOrder[i] != want[i] {
			t.Fatalf("expected deploy order %v, got %v", want, deployingOrder)
		}
	}
}

// TestDeploySequentialContinuesPastFailure tests that one failed attendee
// does not abort the run
func TestDeploySequentialContinuesPastFailure(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.seedWorkshop(t, "att-1", "att-2", "att-3")
	f.prov.failApply[WorkspaceName("att-2")] = "Error: instance quota exceeded"

	report, err := f.coordinator.DeploySequential(context.Background(), "ws-1", nil)
	if err != nil {
		t.Fatalf("deploy returned error: %v", err)
	}

	if report.Deployed != 2 || report.Failed != 1 {
		t.Errorf("expected 2 deployed / 1 failed, got %d/%d", report.Deployed, report.Failed)
	}
	// Partial success still counts as an active workshop
	if report.WorkshopStatus != WorkshopStatusActive {
		t.Errorf("expected workshop active, got %s", report.WorkshopStatus)
	}

	if got := f.store.attendeeStatus("att-2"); got != AttendeeStatusFailed {
		t.Errorf("expected att-2 failed, got %s", got)
	}
	if got := f.store.attendeeStatus("att-3"); got != AttendeeStatusActive {
		t.Errorf("expected att-3 deployed after the failure, got %s", got)
	}
}

// TestDeploySequentialAllFail tests the all-failed terminal status
func TestDeploySequentialAllFail(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.seedWorkshop(t, "att-1", "att-2")
	f.prov.failPlan[WorkspaceName("att-1")] = "Error: invalid credentials"
	f.prov.failPlan[WorkspaceName("att-2")] = "Error: invalid credentials"

	report, err := f.coordinator.DeploySequential(context.Background(), "ws-1", nil)
	if err != nil {
		t.Fatalf("deploy returned error: %v", err)
	}

	if report.Deployed != 0 || report.Failed != 2 {
		t.Errorf("expected 0 deployed / 2 failed, got %d/%d", report.Deployed, report.Failed)
	}
	if report.WorkshopStatus != WorkshopStatusFailed {
		t.Errorf("expected workshop failed, got %s", report.WorkshopStatus)
	}
	if got := f.store.workshopStatus("ws-1"); got != WorkshopStatusFailed {
		t.Errorf("expected persisted workshop failed, got %s", got)
	}
}

// TestDeploySequentialNoAttendees tests the empty-workshop case
func TestDeploySequentialNoAttendees(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.seedWorkshop(t)

	report, err := f.coordinator.DeploySequential(context.Background(), "ws-1", nil)
	if err != nil {
		t.Fatalf("deploy returned error: %v", err)
	}
	if report.WorkshopStatus != WorkshopStatusActive {
		t.Errorf("expected empty workshop to end active, got %s", report.WorkshopStatus)
	}
	if report.Message != "No attendees to deploy" {
		t.Errorf("unexpected message %q", report.Message)
	}
}

// TestDeploySequentialRecoversPanic tests panic isolation per attendee
func TestDeploySequentialRecoversPanic(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.seedWorkshop(t, "att-1", "att-2")
	f.prov.panicApply[WorkspaceName("att-1")] = true

	report, err := f.coordinator.DeploySequential(context.Background(), "ws-1", nil)
	if err != nil {
		t.Fatalf("deploy returned error: %v", err)
	}

	if report.Deployed != 1 || report.Failed != 1 {
		t.Errorf("expected 1 deployed / 1 failed, got %d/%d", report.Deployed, report.Failed)
	}
	// The panicking attendee must still land in a terminal state
	if got := f.store.attendeeStatus("att-1"); got != AttendeeStatusFailed {
		t.Errorf("expected att-1 forced to failed, got %s", got)
	}
	if got := f.store.attendeeStatus("att-2"); got != AttendeeStatusActive {
		t.Errorf("expected att-2 active, got %s", got)
	}
}

// TestDeploySequentialUnknownWorkshop tests the lookup guard
func TestDeploySequentialUnknownWorkshop(t *testing.T) {
	f := newCoordinatorFixture(t)

	_, err := f.coordinator.DeploySequential(context.Background(), "missing", nil)
	if err == nil {
		t.Fatal("expected error for unknown workshop")
	}
	if !IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}
