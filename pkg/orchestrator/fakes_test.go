package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeStore is an in-memory Store for tests.
type fakeStore struct {
	mu            sync.Mutex
	workshops     map[string]*Workshop
	attendees     map[string]*Attendee
	logs          map[string]*DeploymentLog
	attendeeOrder []string
	logOrder      []string

	// statusWrites records attendee status transitions as "id:status".
	statusWrites []string

	failUpdateAttendeeStatus bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		workshops: make(map[string]*Workshop),
		attendees: make(map[string]*Attendee),
		logs:      make(map[string]*DeploymentLog),
	}
}

func (s *fakeStore) addWorkshop(w *Workshop) *Workshop {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.workshops[w.ID] = &cp
	return &cp
}

func (s *fakeStore) addAttendee(a *Attendee) *Attendee {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.attendees[a.ID] = &cp
	s.attendeeOrder = append(s.attendeeOrder, a.ID)
	return &cp
}

func (s *fakeStore) workshopStatus(id string) WorkshopStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workshops[id].Status
}

func (s *fakeStore) attendeeStatus(id string) AttendeeStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attendees[id].Status
}

func (s *fakeStore) CreateWorkshop(_ context.Context, workshop *Workshop) error {
	s.addWorkshop(workshop)
	return nil
}

func (s *fakeStore) GetWorkshop(_ context.Context, id string) (*Workshop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workshops[id]
	if !ok {
		return nil, NewNotFoundError("workshop not found", nil).WithEntity(id)
	}
	cp := *w
	return &cp, nil
}

func (s *fakeStore) UpdateWorkshop(_ context.Context, workshop *Workshop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workshops[workshop.ID]; !ok {
		return NewNotFoundError("workshop not found", nil).WithEntity(workshop.ID)
	}
	cp := *workshop
	s.workshops[workshop.ID] = &cp
	return nil
}

func (s *fakeStore) UpdateWorkshopStatus(_ context.Context, id string, status WorkshopStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workshops[id]
	if !ok {
		return NewNotFoundError("workshop not found", nil).WithEntity(id)
	}
	w.Status = status
	w.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeStore) ScheduleWorkshopDeletion(_ context.Context, id string, at time.Time, status WorkshopStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workshops[id]
	if !ok {
		return NewNotFoundError("workshop not found", nil).WithEntity(id)
	}
	w.DeletionScheduledAt = &at
	w.Status = status
	w.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeStore) ListWorkshopsByStatus(_ context.Context, statuses ...WorkshopStatus) ([]*Workshop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Workshop
	for _, w := range s.workshops {
		for _, status := range statuses {
			if w.Status == status {
				cp := *w
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (s *fakeStore) ListEndedWorkshops(_ context.Context, now time.Time) ([]*Workshop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Workshop
	for _, w := range s.workshops {
		if w.Status == WorkshopStatusActive && !w.EndDate.After(now) {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) ListExpiredWorkshops(_ context.Context, now time.Time) ([]*Workshop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Workshop
	for _, w := range s.workshops {
		if w.Status != WorkshopStatusActive && w.Status != WorkshopStatusCompleted {
			continue
		}
		if w.DeletionScheduledAt != nil && !w.DeletionScheduledAt.After(now) {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) ListStuckDeploying(_ context.Context, cutoff time.Time) ([]*Workshop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Workshop
	for _, w := range s.workshops {
		if w.Status == WorkshopStatusDeploying && w.UpdatedAt.Before(cutoff) {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteWorkshop(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workshops[id]; !ok {
		return NewNotFoundError("workshop not found", nil).WithEntity(id)
	}
	delete(s.workshops, id)
	for aid, a := range s.attendees {
		if a.WorkshopID == id {
			delete(s.attendees, aid)
		}
	}
	return nil
}

func (s *fakeStore) CreateAttendee(_ context.Context, attendee *Attendee) error {
	s.addAttendee(attendee)
	return nil
}

func (s *fakeStore) GetAttendee(_ context.Context, id string) (*Attendee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attendees[id]
	if !ok {
		return nil, NewNotFoundError("attendee not found", nil).WithEntity(id)
	}
	cp := *a
	return &cp, nil
}

func (s *fakeStore) ListAttendeesByWorkshop(_ context.Context, workshopID string) ([]*Attendee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Attendee
	for _, id := range s.attendeeOrder {
		a, ok := s.attendees[id]
		if !ok || a.WorkshopID != workshopID {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) ListAttendeesInStatus(_ context.Context, workshopID string, statuses ...AttendeeStatus) ([]*Attendee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Attendee
	for _, id := range s.attendeeOrder {
		a, ok := s.attendees[id]
		if !ok {
			continue
		}
		if workshopID != "" && a.WorkshopID != workshopID {
			continue
		}
		for _, status := range statuses {
			if a.Status == status {
				cp := *a
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateAttendeeStatus(_ context.Context, id string, status AttendeeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdateAttendeeStatus {
		return fmt.Errorf("injected status write failure")
	}
	a, ok := s.attendees[id]
	if !ok {
		return NewNotFoundError("attendee not found", nil).WithEntity(id)
	}
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	s.statusWrites = append(s.statusWrites, id+":"+string(status))
	return nil
}

func (s *fakeStore) SetAttendeeResources(_ context.Context, id string, projectID, userURN *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attendees[id]
	if !ok {
		return NewNotFoundError("attendee not found", nil).WithEntity(id)
	}
	a.ProviderProjectID = projectID
	a.ProviderUserURN = userURN
	return nil
}

func (s *fakeStore) CreateDeploymentLog(_ context.Context, log *DeploymentLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *log
	s.logs[log.ID] = &cp
	s.logOrder = append(s.logOrder, log.ID)
	return nil
}

func (s *fakeStore) UpdateDeploymentLogStatus(_ context.Context, id string, status LogStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[id]
	if !ok {
		return NewNotFoundError("deployment log not found", nil).WithEntity(id)
	}
	l.Status = status
	return nil
}

func (s *fakeStore) CompleteDeploymentLog(_ context.Context, id string, status LogStatus, output, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[id]
	if !ok {
		return NewNotFoundError("deployment log not found", nil).WithEntity(id)
	}
	now := time.Now().UTC()
	l.Status = status
	l.Output = output
	l.ErrorMessage = errorMessage
	l.CompletedAt = &now
	return nil
}

func (s *fakeStore) ListDeploymentLogsByAttendee(_ context.Context, attendeeID string) ([]*DeploymentLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*DeploymentLog
	for i := len(s.logOrder) - 1; i >= 0; i-- {
		l := s.logs[s.logOrder[i]]
		if l.AttendeeID == attendeeID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

// fakeProvisioner simulates the infrastructure tool with per-workspace
// scripted failures.
type fakeProvisioner struct {
	mu         sync.Mutex
	workspaces map[string]bool
	outputs    map[string]map[string]OutputValue

	failCreate  map[string]bool
	failPlan    map[string]string
	failApply   map[string]string
	failDestroy map[string]string
	panicApply  map[string]bool
	failCleanup map[string]bool

	cleaned []string
	listErr error
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{
		workspaces:  make(map[string]bool),
		outputs:     make(map[string]map[string]OutputValue),
		failCreate:  make(map[string]bool),
		failPlan:    make(map[string]string),
		failApply:   make(map[string]string),
		failDestroy: make(map[string]string),
		panicApply:  make(map[string]bool),
		failCleanup: make(map[string]bool),
	}
}

func (p *fakeProvisioner) setOutputs(workspace string, outputs map[string]OutputValue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outputs[workspace] = outputs
}

func (p *fakeProvisioner) CreateWorkspace(_ context.Context, name string, _ WorkspaceConfig) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failCreate[name] {
		return false
	}
	p.workspaces[name] = true
	return true
}

func (p *fakeProvisioner) Plan(_ context.Context, name string) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if diag, ok := p.failPlan[name]; ok {
		return false, diag
	}
	return true, "Plan: 3 to add, 0 to change, 0 to destroy."
}

func (p *fakeProvisioner) Apply(_ context.Context, name string) (bool, string) {
	p.mu.Lock()
	if p.panicApply[name] {
		p.mu.Unlock()
		panic("apply exploded")
	}
	defer p.mu.Unlock()
	if diag, ok := p.failApply[name]; ok {
		return false, diag
	}
	return true, "Apply complete! Resources: 3 added."
}

func (p *fakeProvisioner) Destroy(_ context.Context, name string) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if diag, ok := p.failDestroy[name]; ok {
		return false, diag
	}
	if !p.workspaces[name] {
		return true, "no resources to destroy"
	}
	return true, "Destroy complete! Resources: 3 destroyed."
}

func (p *fakeProvisioner) Outputs(_ context.Context, name string) map[string]OutputValue {
	p.mu.Lock()
	defer p.mu.Unlock()
	out, ok := p.outputs[name]
	if !ok {
		return map[string]OutputValue{}
	}
	return out
}

func (p *fakeProvisioner) CleanupWorkspace(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failCleanup[name] {
		return false
	}
	delete(p.workspaces, name)
	p.cleaned = append(p.cleaned, name)
	return true
}

func (p *fakeProvisioner) WorkspaceExists(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workspaces[name]
}

func (p *fakeProvisioner) ListWorkspaces() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return nil, p.listErr
	}
	names := make([]string, 0, len(p.workspaces))
	for name := range p.workspaces {
		names = append(names, name)
	}
	return names, nil
}

// sinkEvent is one recorded status publication.
type sinkEvent struct {
	scope      string
	entityType string
	entityID   string
	status     string
	detail     map[string]string
}

// progressEvent is one recorded progress publication.
type progressEvent struct {
	scope   string
	current int
	total   int
	label   string
}

// fakeSink records published events.
type fakeSink struct {
	mu       sync.Mutex
	statuses []sinkEvent
	progress []progressEvent
}

func (f *fakeSink) PublishStatus(scope, entityType, entityID, status string, detail map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, sinkEvent{scope, entityType, entityID, status, detail})
}

func (f *fakeSink) PublishProgress(scope string, current, total int, label string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, progressEvent{scope, current, total, label})
}

func (f *fakeSink) lastStatus(entityType, entityID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	last := ""
	for _, ev := range f.statuses {
		if ev.entityType == entityType && ev.entityID == entityID {
			last = ev.status
		}
	}
	return last
}

// notification is one recorded email.
type notification struct {
	kind        string
	email       string
	name        string
	workshop    string
	credentials map[string]string
}

// fakeNotifier records sent notifications.
type fakeNotifier struct {
	mu      sync.Mutex
	sent    []notification
	sendErr error
}

func (f *fakeNotifier) SendCredentials(_ context.Context, email, name, workshopName string, credentials map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, notification{"credentials", email, name, workshopName, credentials})
	return nil
}

func (f *fakeNotifier) SendCompletionNotice(_ context.Context, email, name, workshopName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, notification{"completion", email, name, workshopName, nil})
	return nil
}

// queuedJob is one recorded enqueue.
type queuedJob struct {
	name string
	args []string
}

// fakeQueue records enqueued jobs.
type fakeQueue struct {
	mu         sync.Mutex
	jobs       []queuedJob
	enqueueErr error
}

func (f *fakeQueue) Enqueue(name string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.jobs = append(f.jobs, queuedJob{name, args})
	return nil
}

// testWorkshop builds a workshop fixture in the given status.
func testWorkshop(id string, status WorkshopStatus) *Workshop {
	now := time.Now().UTC()
	return &Workshop{
		ID:        id,
		Name:      "Go Fundamentals",
		StartDate: now.Add(-48 * time.Hour),
		EndDate:   now.Add(48 * time.Hour),
		Status:    status,
		CreatedAt: now.Add(-72 * time.Hour),
		UpdatedAt: now,
	}
}

// testAttendee builds an attendee fixture in the given status.
func testAttendee(id, workshopID string, status AttendeeStatus) *Attendee {
	now := time.Now().UTC()
	return &Attendee{
		ID:         id,
		WorkshopID: workshopID,
		Username:   "user-" + id,
		Email:      id + "@example.com",
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
