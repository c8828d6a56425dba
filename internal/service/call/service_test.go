package call

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-call-scheduler/internal/domain"
	"github.com/acme/outbound-call-scheduler/internal/hours"
	"github.com/acme/outbound-call-scheduler/internal/repository"
	apperrors "github.com/acme/outbound-call-scheduler/pkg/errors"
)

type fakeCampaigns struct {
	campaigns map[uuid.UUID]*domain.Campaign
}

func (f *fakeCampaigns) Create(context.Context, *domain.Campaign) error { return nil }
func (f *fakeCampaigns) Update(context.Context, *domain.Campaign) error { return nil }
func (f *fakeCampaigns) UpdateStatus(context.Context, uuid.UUID, domain.CampaignStatus) error {
	return nil
}
func (f *fakeCampaigns) List(context.Context, *uuid.UUID, int) ([]*domain.Campaign, error) {
	return nil, nil
}
func (f *fakeCampaigns) GetByType(context.Context, domain.CampaignType) (*domain.Campaign, error) {
	return nil, apperrors.ErrNotFound
}

func (f *fakeCampaigns) Get(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return c, nil
}

type fakeTasks struct {
	tasks     map[uuid.UUID]*domain.CallTask
	createErr error
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{tasks: make(map[uuid.UUID]*domain.CallTask)}
}

func (f *fakeTasks) Create(_ context.Context, task *domain.CallTask) error {
	if f.createErr != nil {
		return f.createErr
	}
	cp := *task
	f.tasks[task.ID] = &cp
	return nil
}

func (f *fakeTasks) Get(_ context.Context, id uuid.UUID) (*domain.CallTask, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return t, nil
}

func (f *fakeTasks) GetBatch(context.Context, []uuid.UUID) ([]*domain.CallTask, error) {
	return nil, nil
}

func (f *fakeTasks) TransitionStatus(_ context.Context, id uuid.UUID, from, to domain.TaskStatus, _ repository.TaskMutation) error {
	t, ok := f.tasks[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if t.Status != from {
		return repository.ErrConflict
	}
	t.Status = to
	return nil
}

func (f *fakeTasks) CountByStatus(context.Context, domain.TaskStatus) (int, error) { return 0, nil }
func (f *fakeTasks) ListByCampaign(context.Context, uuid.UUID, int, int) ([]*domain.CallTask, error) {
	return nil, nil
}

type fakeQueue struct {
	entries    map[uuid.UUID]time.Time
	enqueueErr error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{entries: make(map[uuid.UUID]time.Time)}
}

func (f *fakeQueue) Enqueue(_ context.Context, taskID uuid.UUID, scheduledAt time.Time) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.entries[taskID] = scheduledAt
	return nil
}

func (f *fakeQueue) Due(context.Context, time.Time, int) ([]uuid.UUID, error) { return nil, nil }

func (f *fakeQueue) Remove(_ context.Context, taskIDs ...uuid.UUID) error {
	for _, id := range taskIDs {
		delete(f.entries, id)
	}
	return nil
}

type fakeCooldown struct {
	reserved map[string]bool
	released []string
}

func newFakeCooldown() *fakeCooldown {
	return &fakeCooldown{reserved: make(map[string]bool)}
}

func (f *fakeCooldown) Reserve(_ context.Context, phone string, _ time.Time) error {
	if f.reserved[phone] {
		return fmt.Errorf("%w: number %s called recently", apperrors.ErrCooldownViolation, phone)
	}
	f.reserved[phone] = true
	return nil
}

func (f *fakeCooldown) Release(_ context.Context, phone string) error {
	f.released = append(f.released, phone)
	delete(f.reserved, phone)
	return nil
}

func testPolicy(t *testing.T) *hours.Policy {
	t.Helper()
	p, err := hours.NewPolicy("UTC", hours.Window{StartHour: 8, EndHour: 18}, []time.Weekday{time.Sunday})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return p
}

type fixture struct {
	svc      *Service
	tasks    *fakeTasks
	queue    *fakeQueue
	cooldown *fakeCooldown
	campaign *domain.Campaign
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	campaign := &domain.Campaign{
		ID:             uuid.New(),
		Name:           "reminders",
		Type:           domain.CampaignTypeAppointmentReminder,
		Status:         domain.CampaignStatusActive,
		ScriptTemplate: "Hello {patient_name}",
		MaxAttempts:    3,
		RetryInterval:  time.Hour,
		Priority:       5,
	}

	tasks := newFakeTasks()
	queue := newFakeQueue()
	cooldown := newFakeCooldown()
	svc := NewService(
		&fakeCampaigns{campaigns: map[uuid.UUID]*domain.Campaign{campaign.ID: campaign}},
		tasks, queue, cooldown, testPolicy(t),
	)
	return &fixture{svc: svc, tasks: tasks, queue: queue, cooldown: cooldown, campaign: campaign}
}

// 2026-03-02 is a Monday.
func admissibleTime() time.Time {
	return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
}

func (fx *fixture) input() ScheduleInput {
	return ScheduleInput{
		CampaignID:  fx.campaign.ID,
		PatientID:   "patient-1",
		PhoneNumber: "+14155550123",
		ScheduledAt: admissibleTime(),
	}
}

func TestScheduleHappyPath(t *testing.T) {
	fx := newFixture(t)

	id, err := fx.svc.Schedule(context.Background(), fx.input())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	task, ok := fx.tasks.tasks[id]
	if !ok {
		t.Fatalf("task was not persisted")
	}
	if task.Status != domain.TaskStatusScheduled {
		t.Errorf("status = %q, want scheduled", task.Status)
	}
	if task.MaxAttempts != fx.campaign.MaxAttempts {
		t.Errorf("max attempts = %d, want %d", task.MaxAttempts, fx.campaign.MaxAttempts)
	}
	if _, queued := fx.queue.entries[id]; !queued {
		t.Errorf("task was not enqueued")
	}
}

func TestScheduleRejectsInvalidPhone(t *testing.T) {
	fx := newFixture(t)
	input := fx.input()
	input.PhoneNumber = "not-a-number"

	if _, err := fx.svc.Schedule(context.Background(), input); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(fx.tasks.tasks) != 0 {
		t.Errorf("no task should be persisted on validation failure")
	}
}

func TestScheduleRejectsMissingCampaign(t *testing.T) {
	fx := newFixture(t)
	input := fx.input()
	input.CampaignID = uuid.New()

	if _, err := fx.svc.Schedule(context.Background(), input); !errors.Is(err, apperrors.ErrCampaignInactive) {
		t.Fatalf("expected inactive campaign error, got %v", err)
	}
}

func TestScheduleRejectsPausedCampaign(t *testing.T) {
	fx := newFixture(t)
	fx.campaign.Status = domain.CampaignStatusPaused

	if _, err := fx.svc.Schedule(context.Background(), fx.input()); !errors.Is(err, apperrors.ErrCampaignInactive) {
		t.Fatalf("expected inactive campaign error, got %v", err)
	}
	if len(fx.tasks.tasks) != 0 {
		t.Errorf("no task should be persisted for a paused campaign")
	}
}

func TestScheduleRewritesInadmissibleTime(t *testing.T) {
	fx := newFixture(t)
	input := fx.input()
	// Monday 20:00 is past the operating window; expect Tuesday 08:00.
	input.ScheduledAt = time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)

	id, err := fx.svc.Schedule(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	task := fx.tasks.tasks[id]
	if !task.ScheduledAt.Equal(want) {
		t.Errorf("scheduled at = %v, want %v", task.ScheduledAt, want)
	}
	if got := fx.queue.entries[id]; !got.Equal(want) {
		t.Errorf("queue score = %v, want %v", got, want)
	}
}

func TestScheduleEnforcesCooldown(t *testing.T) {
	fx := newFixture(t)

	if _, err := fx.svc.Schedule(context.Background(), fx.input()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Second request for the same number inside the cooldown window fails
	// and leaves no second task behind.
	if _, err := fx.svc.Schedule(context.Background(), fx.input()); !errors.Is(err, apperrors.ErrCooldownViolation) {
		t.Fatalf("expected cooldown violation, got %v", err)
	}
	if len(fx.tasks.tasks) != 1 {
		t.Errorf("task count = %d, want 1", len(fx.tasks.tasks))
	}
}

func TestScheduleReleasesCooldownWhenPersistFails(t *testing.T) {
	fx := newFixture(t)
	fx.tasks.createErr = errors.New("connection reset")

	if _, err := fx.svc.Schedule(context.Background(), fx.input()); err == nil {
		t.Fatalf("expected error")
	}
	if len(fx.cooldown.released) != 1 {
		t.Errorf("cooldown reservation was not released")
	}
	if len(fx.queue.entries) != 0 {
		t.Errorf("nothing should be enqueued when persist fails")
	}
}

func TestScheduleReleasesCooldownWhenEnqueueFails(t *testing.T) {
	fx := newFixture(t)
	fx.queue.enqueueErr = errors.New("redis down")

	if _, err := fx.svc.Schedule(context.Background(), fx.input()); err == nil {
		t.Fatalf("expected error")
	}
	if len(fx.cooldown.released) != 1 {
		t.Errorf("cooldown reservation was not released")
	}
}

func TestCancelScheduledTask(t *testing.T) {
	fx := newFixture(t)

	id, err := fx.svc.Schedule(context.Background(), fx.input())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := fx.svc.Cancel(context.Background(), id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := fx.tasks.tasks[id].Status; got != domain.TaskStatusCancelled {
		t.Errorf("status = %q, want cancelled", got)
	}
	if _, queued := fx.queue.entries[id]; queued {
		t.Errorf("cancelled task should be removed from the queue")
	}
}

func TestCancelRejectsClaimedTask(t *testing.T) {
	fx := newFixture(t)

	id, err := fx.svc.Schedule(context.Background(), fx.input())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fx.tasks.tasks[id].Status = domain.TaskStatusInProgress

	if err := fx.svc.Cancel(context.Background(), id); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}
