package orchestrator

import (
	"context"
	"strings"
	"testing"
)

// lifecycleFixture wires a lifecycle driver against the in-memory fakes.
type lifecycleFixture struct {
	store    *fakeStore
	prov     *fakeProvisioner
	sink     *fakeSink
	notifier *fakeNotifier
	driver   *LifecycleDriver
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	store := newFakeStore()
	prov := newFakeProvisioner()
	sink := &fakeSink{}
	notifier := &fakeNotifier{}
	driver := NewLifecycleDriver(store, prov, sink, notifier, nil, nil)
	return &lifecycleFixture{
		store:    store,
		prov:     prov,
		sink:     sink,
		notifier: notifier,
		driver:   driver,
	}
}

// seedAttendee adds a workshop and one attendee in the given status.
func (f *lifecycleFixture) seedAttendee(t *testing.T, attendeeID string, status AttendeeStatus) {
	t.Helper()
	f.store.addWorkshop(testWorkshop("ws-1", WorkshopStatusDeploying))
	f.store.addAttendee(testAttendee(attendeeID, "ws-1", status))
}

// TestDeployAttendeeSuccess tests the full happy-path deployment sequence
func TestDeployAttendeeSuccess(t *testing.T) {
	f := newLifecycleFixture(t)
	f.seedAttendee(t, "att-1", AttendeeStatusPlanning)
	workspace := WorkspaceName("att-1")
	f.prov.setOutputs(workspace, map[string]OutputValue{
		"project_id": {Value: "prj-123"},
		"user_urn":   {Value: "urn:ovh:user/abc"},
		"username":   {Value: "ws-user-1"},
		"password":   {Value: "s3cret", Sensitive: true},
	})

	if err := f.driver.DeployAttendee(context.Background(), "att-1"); err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	attendee, _ := f.store.GetAttendee(context.Background(), "att-1")
	if attendee.Status != AttendeeStatusActive {
		t.Errorf("expected attendee active, got %s", attendee.Status)
	}
	if attendee.ProviderProjectID == nil || *attendee.ProviderProjectID != "prj-123" {
		t.Errorf("expected project ID recorded, got %v", attendee.ProviderProjectID)
	}
	if attendee.ProviderUserURN == nil || *attendee.ProviderUserURN != "urn:ovh:user/abc" {
		t.Errorf("expected user URN recorded, got %v", attendee.ProviderUserURN)
	}

	logs, _ := f.store.ListDeploymentLogsByAttendee(context.Background(), "att-1")
	if len(logs) != 1 {
		t.Fatalf("expected 1 deployment log, got %d", len(logs))
	}
	if logs[0].Action != LogActionDeploy || logs[0].Status != LogStatusCompleted {
		t.Errorf("unexpected log state: %s/%s", logs[0].Action, logs[0].Status)
	}
	if logs[0].CompletedAt == nil {
		t.Error("expected completion timestamp on log")
	}

	if got := f.sink.lastStatus("attendee", "att-1"); got != string(AttendeeStatusActive) {
		t.Errorf("expected final attendee event active, got %q", got)
	}

	// The single attendee is active, so the workshop follows
	if got := f.store.workshopStatus("ws-1"); got != WorkshopStatusActive {
		t.Errorf("expected workshop active, got %s", got)
	}
}

// TestDeployAttendeeProgressMilestones tests the progress event sequence
func TestDeployAttendeeProgressMilestones(t *testing.T) {
	f := newLifecycleFixture(t)
	f.seedAttendee(t, "att-1", AttendeeStatusPlanning)

	if err := f.driver.DeployAttendee(context.Background(), "att-1"); err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	want := []int{10, 40, 70, 90, 100}
	if len(f.sink.progress) != len(want) {
		t.Fatalf("expected %d progress events, got %d", len(want), len(f.sink.progress))
	}
	for i, ev := range f.sink.progress {
		if ev.current != want[i] {
			t.Errorf("progress %d: expected current %d, got %d", i, want[i], ev.current)
		}
		if ev.total != 100 {
			t.Errorf("progress %d: expected total 100, got %d", i, ev.total)
		}
		if ev.label == "" {
			t.Errorf("progress %d: empty label", i)
		}
	}
}

// TestDeployAttendeePlanFailure tests the failure path on plan
func TestDeployAttendeePlanFailure(t *testing.T) {
	f := newLifecycleFixture(t)
	f.seedAttendee(t, "att-1", AttendeeStatusPlanning)
	f.prov.failPlan[WorkspaceName("att-1")] = "Error: quota exceeded"

	err := f.driver.DeployAttendee(context.Background(), "att-1")
	if err == nil {
		t.Fatal("expected deploy to fail")
	}
	if !IsProvisionerFailure(err) {
		t.Errorf("expected a provisioner failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("expected diagnostic in error, got %q", err.Error())
	}

	if got := f.store.attendeeStatus("att-1"); got != AttendeeStatusFailed {
		t.Errorf("expected attendee failed, got %s", got)
	}

	logs, _ := f.store.ListDeploymentLogsByAttendee(context.Background(), "att-1")
	if len(logs) != 1 || logs[0].Status != LogStatusFailed {
		t.Fatalf("expected failed deployment log, got %+v", logs)
	}
	if logs[0].ErrorMessage != "Error: quota exceeded" {
		t.Errorf("expected diagnostic in log, got %q", logs[0].ErrorMessage)
	}

	// No credentials mail on failure
	if len(f.notifier.sent) != 0 {
		t.Errorf("expected no notifications, got %d", len(f.notifier.sent))
	}
}

// TestDeployAttendeeWorkspaceFailure tests failure on workspace creation
func TestDeployAttendeeWorkspaceFailure(t *testing.T) {
	f := newLifecycleFixture(t)
	f.seedAttendee(t, "att-1", AttendeeStatusPlanning)
	f.prov.failCreate[WorkspaceName("att-1")] = true

	if err := f.driver.DeployAttendee(context.Background(), "att-1"); err == nil {
		t.Fatal("expected deploy to fail")
	}
	if got := f.store.attendeeStatus("att-1"); got != AttendeeStatusFailed {
		t.Errorf("expected attendee failed, got %s", got)
	}
	if got := f.sink.lastStatus("attendee", "att-1"); got != string(AttendeeStatusFailed) {
		t.Errorf("expected failed event, got %q", got)
	}
}

// TestDeployAttendeeCredentialsMail tests credentials delivery with prefix
func TestDeployAttendeeCredentialsMail(t *testing.T) {
	f := newLifecycleFixture(t)
	f.driver.SetLoginPrefix("0541-8821-89/")
	f.seedAttendee(t, "att-1", AttendeeStatusPlanning)
	workspace := WorkspaceName("att-1")
	f.prov.setOutputs(workspace, map[string]OutputValue{
		"project_id": {Value: "prj-123"},
		"username":   {Value: "workshop-user"},
		"password":   {Value: "s3cret", Sensitive: true},
	})

	if err := f.driver.DeployAttendee(context.Background(), "att-1"); err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	if len(f.notifier.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(f.notifier.sent))
	}
	sent := f.notifier.sent[0]
	if sent.kind != "credentials" {
		t.Errorf("expected credentials mail, got %s", sent.kind)
	}
	if sent.email != "att-1@example.com" {
		t.Errorf("unexpected recipient %s", sent.email)
	}
	if got := sent.credentials["username"]; got != "0541-8821-89/workshop-user" {
		t.Errorf("expected prefixed username, got %q", got)
	}
	if got := sent.credentials["password"]; got != "s3cret" {
		t.Errorf("expected password in credentials, got %q", got)
	}
	if got := sent.credentials["project_id"]; got != "prj-123" {
		t.Errorf("expected project ID in credentials, got %q", got)
	}
}

// TestDeployAttendeeUnknownID tests the lookup failure path
func TestDeployAttendeeUnknownID(t *testing.T) {
	f := newLifecycleFixture(t)

	err := f.driver.DeployAttendee(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for unknown attendee")
	}
	if !IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

// TestDestroyAttendeeSuccess tests the happy-path teardown
func TestDestroyAttendeeSuccess(t *testing.T) {
	f := newLifecycleFixture(t)
	f.seedAttendee(t, "att-1", AttendeeStatusActive)
	workspace := WorkspaceName("att-1")
	f.prov.workspaces[workspace] = true
	projectID := "prj-123"
	_ = f.store.SetAttendeeResources(context.Background(), "att-1", &projectID, nil)

	if err := f.driver.DestroyAttendee(context.Background(), "att-1"); err != nil {
		t.Fatalf("destroy failed: %v", err)
	}

	attendee, _ := f.store.GetAttendee(context.Background(), "att-1")
	if attendee.Status != AttendeeStatusDeleted {
		t.Errorf("expected attendee deleted, got %s", attendee.Status)
	}
	if attendee.ProviderProjectID != nil {
		t.Error("expected resource identifiers cleared")
	}
	if f.prov.WorkspaceExists(workspace) {
		t.Error("expected workspace removed")
	}

	logs, _ := f.store.ListDeploymentLogsByAttendee(context.Background(), "att-1")
	if len(logs) != 1 || logs[0].Action != LogActionDestroy || logs[0].Status != LogStatusCompleted {
		t.Fatalf("expected completed destroy log, got %+v", logs)
	}
}

// TestDestroyAttendeeAbsentWorkspace tests that teardown converges when the
// workspace directory is already gone
func TestDestroyAttendeeAbsentWorkspace(t *testing.T) {
	f := newLifecycleFixture(t)
	f.seedAttendee(t, "att-1", AttendeeStatusActive)
	projectID := "prj-123"
	userURN := "urn:ovh:user/abc"
	_ = f.store.SetAttendeeResources(context.Background(), "att-1", &projectID, &userURN)

	// No workspace seeded: the directory was removed out of band
	if err := f.driver.DestroyAttendee(context.Background(), "att-1"); err != nil {
		t.Fatalf("destroy of an absent workspace must succeed: %v", err)
	}

	attendee, _ := f.store.GetAttendee(context.Background(), "att-1")
	if attendee.Status != AttendeeStatusDeleted {
		t.Errorf("expected attendee deleted, got %s", attendee.Status)
	}
	if attendee.ProviderProjectID != nil || attendee.ProviderUserURN != nil {
		t.Error("expected resource identifiers cleared")
	}

	logs, _ := f.store.ListDeploymentLogsByAttendee(context.Background(), "att-1")
	if len(logs) != 1 || logs[0].Status != LogStatusCompleted {
		t.Fatalf("expected completed destroy log, got %+v", logs)
	}
	if !strings.Contains(logs[0].Output, "no resources to destroy") {
		t.Errorf("expected the no-op diagnostic in the log, got %q", logs[0].Output)
	}
}

// TestDestroyAttendeeFailureKeepsWorkspace tests that a failed destroy
// preserves the workspace for a retry
func TestDestroyAttendeeFailureKeepsWorkspace(t *testing.T) {
	f := newLifecycleFixture(t)
	f.seedAttendee(t, "att-1", AttendeeStatusActive)
	workspace := WorkspaceName("att-1")
	f.prov.workspaces[workspace] = true
	f.prov.failDestroy[workspace] = "Error: resource locked"

	err := f.driver.DestroyAttendee(context.Background(), "att-1")
	if err == nil {
		t.Fatal("expected destroy to fail")
	}
	if !IsProvisionerFailure(err) {
		t.Errorf("expected provisioner failure, got %v", err)
	}

	if got := f.store.attendeeStatus("att-1"); got != AttendeeStatusFailed {
		t.Errorf("expected attendee failed, got %s", got)
	}
	if !f.prov.WorkspaceExists(workspace) {
		t.Error("workspace must survive a failed destroy")
	}

	logs, _ := f.store.ListDeploymentLogsByAttendee(context.Background(), "att-1")
	if len(logs) != 1 || logs[0].Status != LogStatusFailed {
		t.Fatalf("expected failed destroy log, got %+v", logs)
	}
}

// TestDestroyAttendeeCleanupFailureStillDeleted tests that a leftover
// directory does not fail the teardown
func TestDestroyAttendeeCleanupFailureStillDeleted(t *testing.T) {
	f := newLifecycleFixture(t)
	f.seedAttendee(t, "att-1", AttendeeStatusActive)
	workspace := WorkspaceName("att-1")
	f.prov.workspaces[workspace] = true
	f.prov.failCleanup[workspace] = true

	if err := f.driver.DestroyAttendee(context.Background(), "att-1"); err != nil {
		t.Fatalf("destroy should succeed despite cleanup failure: %v", err)
	}
	if got := f.store.attendeeStatus("att-1"); got != AttendeeStatusDeleted {
		t.Errorf("expected attendee deleted, got %s", got)
	}
}

// TestSyncWorkshopStatusOnlyWritesChanges tests the change-only persistence
func TestSyncWorkshopStatusOnlyWritesChanges(t *testing.T) {
	f := newLifecycleFixture(t)
	f.store.addWorkshop(testWorkshop("ws-1", WorkshopStatusActive))
	f.store.addAttendee(testAttendee("att-1", "ws-1", AttendeeStatusActive))

	f.driver.syncWorkshopStatus(context.Background(), "ws-1")

	// Status unchanged: no workshop event published
	if got := f.sink.lastStatus("workshop", "ws-1"); got != "" {
		t.Errorf("expected no workshop event, got %q", got)
	}

	// Flip one attendee to failed and resync
	_ = f.store.UpdateAttendeeStatus(context.Background(), "att-1", AttendeeStatusFailed)
	f.driver.syncWorkshopStatus(context.Background(), "ws-1")

	if got := f.store.workshopStatus("ws-1"); got != WorkshopStatusFailed {
		t.Errorf("expected workshop failed, got %s", got)
	}
	if got := f.sink.lastStatus("workshop", "ws-1"); got != string(WorkshopStatusFailed) {
		t.Errorf("expected workshop failed event, got %q", got)
	}
}

// TestTruncateDiagnostic tests diagnostic bounding
func TestTruncateDiagnostic(t *testing.T) {
	short := "plain error"
	if got := truncateDiagnostic(short); got != short {
		t.Errorf("short diagnostics must pass through, got %q", got)
	}

	long := strings.Repeat("x", 600)
	got := truncateDiagnostic(long)
	if len(got) != 503 {
		t.Errorf("expected 503 chars (500 + ellipsis), got %d", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("expected truncated diagnostic to end with ellipsis")
	}
}
