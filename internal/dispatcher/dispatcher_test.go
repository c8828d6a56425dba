package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/outbound-call-scheduler/internal/domain"
	"github.com/acme/outbound-call-scheduler/internal/hours"
	"github.com/acme/outbound-call-scheduler/internal/queue"
	"github.com/acme/outbound-call-scheduler/internal/repository"
	"github.com/acme/outbound-call-scheduler/internal/telephony"
	apperrors "github.com/acme/outbound-call-scheduler/pkg/errors"
	"github.com/acme/outbound-call-scheduler/pkg/logger"
)

type memCampaigns struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]*domain.Campaign
}

func (m *memCampaigns) Create(context.Context, *domain.Campaign) error { return nil }
func (m *memCampaigns) Update(context.Context, *domain.Campaign) error { return nil }
func (m *memCampaigns) UpdateStatus(context.Context, uuid.UUID, domain.CampaignStatus) error {
	return nil
}
func (m *memCampaigns) List(context.Context, *uuid.UUID, int) ([]*domain.Campaign, error) {
	return nil, nil
}
func (m *memCampaigns) GetByType(context.Context, domain.CampaignType) (*domain.Campaign, error) {
	return nil, apperrors.ErrNotFound
}

func (m *memCampaigns) Get(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

type memTasks struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.CallTask
}

func newMemTasks() *memTasks {
	return &memTasks{tasks: make(map[uuid.UUID]*domain.CallTask)}
}

func (m *memTasks) Create(_ context.Context, task *domain.CallTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *memTasks) Get(_ context.Context, id uuid.UUID) (*domain.CallTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTasks) GetBatch(_ context.Context, ids []uuid.UUID) ([]*domain.CallTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.CallTask, 0, len(ids))
	for _, id := range ids {
		if t, ok := m.tasks[id]; ok {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memTasks) TransitionStatus(_ context.Context, id uuid.UUID, from, to domain.TaskStatus, mut repository.TaskMutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return repository.ErrNotFound
	}
	if t.Status != from {
		return repository.ErrConflict
	}
	t.Status = to
	t.Attempts += mut.AttemptsDelta
	if mut.AttemptedAt != nil {
		t.AttemptedAt = mut.AttemptedAt
	}
	if mut.CompletedAt != nil {
		t.CompletedAt = mut.CompletedAt
	}
	if mut.ScheduledAt != nil {
		t.ScheduledAt = *mut.ScheduledAt
	}
	if mut.CallDuration != nil {
		t.CallDuration = *mut.CallDuration
	}
	if mut.ResponseData != nil {
		t.ResponseData = mut.ResponseData
	}
	if mut.Notes != nil {
		t.Notes = mut.Notes
	}
	return nil
}

func (m *memTasks) CountByStatus(_ context.Context, status domain.TaskStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if t.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *memTasks) ListByCampaign(context.Context, uuid.UUID, int, int) ([]*domain.CallTask, error) {
	return nil, nil
}

func (m *memTasks) statusCounts() map[domain.TaskStatus]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.TaskStatus]int)
	for _, t := range m.tasks {
		counts[t.Status]++
	}
	return counts
}

type memQueue struct {
	mu      sync.Mutex
	entries map[uuid.UUID]time.Time
}

func newMemQueue() *memQueue {
	return &memQueue{entries: make(map[uuid.UUID]time.Time)}
}

func (m *memQueue) Enqueue(_ context.Context, taskID uuid.UUID, scheduledAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[taskID] = scheduledAt
	return nil
}

func (m *memQueue) Due(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uuid.UUID
	for id, at := range m.entries {
		if !at.After(now) {
			out = append(out, id)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memQueue) Remove(_ context.Context, taskIDs ...uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range taskIDs {
		delete(m.entries, id)
	}
	return nil
}

// minuteLimiter mirrors the Redis limiter: a fixed cap per minute bucket.
type minuteLimiter struct {
	mu     sync.Mutex
	cap    int
	counts map[int64]int
}

func newMinuteLimiter(cap int) *minuteLimiter {
	return &minuteLimiter{cap: cap, counts: make(map[int64]int)}
}

func (l *minuteLimiter) Allow(_ context.Context, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket := now.Unix() / 60
	if l.counts[bucket] >= l.cap {
		return fmt.Errorf("%w: %d calls this minute", apperrors.ErrRateLimited, l.counts[bucket])
	}
	l.counts[bucket]++
	return nil
}

type markRecorder struct {
	mu    sync.Mutex
	marks []string
}

func (r *markRecorder) Mark(_ context.Context, phone string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marks = append(r.marks, phone)
	return nil
}

type fakeGateway struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (g *fakeGateway) PlaceCall(_ context.Context, phone, script string) (*telephony.CallResult, error) {
	g.mu.Lock()
	g.calls = append(g.calls, phone)
	g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	return &telephony.CallResult{
		Duration:     90 * time.Second,
		ResultType:   domain.ResultTypeConfirmed,
		ResponseData: map[string]any{"script": script},
	}, nil
}

type outcomeRecorder struct {
	mu       sync.Mutex
	messages []queue.OutcomeMessage
}

func (r *outcomeRecorder) PublishOutcome(_ context.Context, msg queue.OutcomeMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

type dispatcherFixture struct {
	d         *Dispatcher
	campaigns *memCampaigns
	tasks     *memTasks
	queue     *memQueue
	limiter   *minuteLimiter
	cooldown  *markRecorder
	gateway   *fakeGateway
	outcomes  *outcomeRecorder
	campaign  *domain.Campaign
	now       time.Time
}

func alwaysOpen(t *testing.T) *hours.Policy {
	t.Helper()
	p, err := hours.NewPolicy("UTC", hours.Window{StartHour: 0, EndHour: 24}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return p
}

func newDispatcherFixture(t *testing.T, cfg Config, policy *hours.Policy) *dispatcherFixture {
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

	fx := &dispatcherFixture{
		campaigns: &memCampaigns{campaigns: map[uuid.UUID]*domain.Campaign{campaign.ID: campaign}},
		tasks:     newMemTasks(),
		queue:     newMemQueue(),
		limiter:   newMinuteLimiter(1000),
		cooldown:  &markRecorder{},
		gateway:   &fakeGateway{},
		outcomes:  &outcomeRecorder{},
		campaign:  campaign,
		now:       time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}

	fx.d = New(cfg, fx.campaigns, fx.tasks, fx.queue, policy,
		fx.limiter, fx.cooldown, fx.gateway, fx.outcomes,
		&logger.Logger{Logger: zap.NewNop()})
	fx.d.now = func() time.Time { return fx.now }
	return fx
}

func (fx *dispatcherFixture) addTask(t *testing.T, campaign *domain.Campaign, scheduledAt time.Time, phone string) uuid.UUID {
	t.Helper()
	task := &domain.CallTask{
		ID:          uuid.New(),
		CampaignID:  campaign.ID,
		PatientID:   "patient-1",
		PhoneNumber: phone,
		ScheduledAt: scheduledAt,
		Status:      domain.TaskStatusScheduled,
		MaxAttempts: campaign.MaxAttempts,
		Variables:   map[string]string{"patient_name": "Ada"},
	}
	if err := fx.tasks.Create(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := fx.queue.Enqueue(context.Background(), task.ID, scheduledAt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return task.ID
}

func TestTickDispatchesDueTasks(t *testing.T) {
	fx := newDispatcherFixture(t, Config{MaxConcurrentCalls: 10}, alwaysOpen(t))

	due := fx.now.Add(-time.Minute)
	for i := 0; i < 3; i++ {
		fx.addTask(t, fx.campaign, due, fmt.Sprintf("+1415555010%d", i))
	}

	if err := fx.d.Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	counts := fx.tasks.statusCounts()
	if counts[domain.TaskStatusCompleted] != 3 {
		t.Fatalf("completed = %d, want 3", counts[domain.TaskStatusCompleted])
	}
	if len(fx.outcomes.messages) != 3 {
		t.Errorf("outcomes published = %d, want 3", len(fx.outcomes.messages))
	}
	if len(fx.cooldown.marks) != 3 {
		t.Errorf("cooldown marks = %d, want 3", len(fx.cooldown.marks))
	}
	if len(fx.queue.entries) != 0 {
		t.Errorf("queue should be drained, %d entries left", len(fx.queue.entries))
	}
}

func TestTickHonorsConcurrencyCeiling(t *testing.T) {
	fx := newDispatcherFixture(t, Config{MaxConcurrentCalls: 2}, alwaysOpen(t))

	due := fx.now.Add(-time.Minute)
	for i := 0; i < 5; i++ {
		fx.addTask(t, fx.campaign, due, fmt.Sprintf("+1415555010%d", i))
	}

	if err := fx.d.Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	counts := fx.tasks.statusCounts()
	if counts[domain.TaskStatusCompleted] != 2 {
		t.Errorf("completed = %d, want 2", counts[domain.TaskStatusCompleted])
	}
	if counts[domain.TaskStatusScheduled] != 3 {
		t.Errorf("scheduled = %d, want 3", counts[domain.TaskStatusScheduled])
	}
}

func TestTickCountsInFlightAgainstCeiling(t *testing.T) {
	fx := newDispatcherFixture(t, Config{MaxConcurrentCalls: 2}, alwaysOpen(t))

	due := fx.now.Add(-time.Minute)
	inFlight := fx.addTask(t, fx.campaign, due, "+14155550100")
	if err := fx.tasks.TransitionStatus(context.Background(), inFlight,
		domain.TaskStatusScheduled, domain.TaskStatusInProgress, repository.TaskMutation{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = fx.queue.Remove(context.Background(), inFlight)

	for i := 0; i < 3; i++ {
		fx.addTask(t, fx.campaign, due, fmt.Sprintf("+1415555020%d", i))
	}

	if err := fx.d.Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	counts := fx.tasks.statusCounts()
	if counts[domain.TaskStatusCompleted] != 1 {
		t.Errorf("completed = %d, want 1 (one slot free)", counts[domain.TaskStatusCompleted])
	}
}

func TestTickSkipsOutsideOperatingHours(t *testing.T) {
	policy, err := hours.NewPolicy("UTC", hours.Window{StartHour: 8, EndHour: 18}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fx := newDispatcherFixture(t, Config{MaxConcurrentCalls: 10}, policy)
	fx.now = time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)

	fx.addTask(t, fx.campaign, fx.now.Add(-time.Minute), "+14155550100")

	if err := fx.d.Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fx.gateway.calls) != 0 {
		t.Errorf("no calls should be placed outside operating hours")
	}
	counts := fx.tasks.statusCounts()
	if counts[domain.TaskStatusScheduled] != 1 {
		t.Errorf("task should remain scheduled")
	}
}

func TestTickSkipsPausedCampaign(t *testing.T) {
	fx := newDispatcherFixture(t, Config{MaxConcurrentCalls: 10}, alwaysOpen(t))

	paused := &domain.Campaign{
		ID:             uuid.New(),
		Name:           "paused",
		Type:           domain.CampaignTypeSatisfactionSurvey,
		Status:         domain.CampaignStatusPaused,
		ScriptTemplate: "Hi",
		MaxAttempts:    3,
		RetryInterval:  time.Hour,
		Priority:       5,
	}
	fx.campaigns.campaigns[paused.ID] = paused

	fx.addTask(t, paused, fx.now.Add(-time.Minute), "+14155550100")

	if err := fx.d.Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fx.gateway.calls) != 0 {
		t.Errorf("paused campaign task should not be dispatched")
	}
}

func TestTickOrdersByPriorityThenScheduledTime(t *testing.T) {
	fx := newDispatcherFixture(t, Config{MaxConcurrentCalls: 1}, alwaysOpen(t))

	urgent := &domain.Campaign{
		ID:             uuid.New(),
		Name:           "urgent",
		Type:           domain.CampaignTypeEmergencyNotification,
		Status:         domain.CampaignStatusActive,
		ScriptTemplate: "Urgent",
		MaxAttempts:    3,
		RetryInterval:  time.Hour,
		Priority:       10,
	}
	fx.campaigns.campaigns[urgent.ID] = urgent

	// The routine task has been waiting longer, but the urgent campaign
	// outranks it for the single slot.
	fx.addTask(t, fx.campaign, fx.now.Add(-time.Hour), "+14155550101")
	urgentID := fx.addTask(t, urgent, fx.now.Add(-time.Minute), "+14155550102")

	if err := fx.d.Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	task, err := fx.tasks.Get(context.Background(), urgentID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Status != domain.TaskStatusCompleted {
		t.Errorf("urgent task status = %q, want completed", task.Status)
	}
}

func TestRateLimitedAttemptIsConsumed(t *testing.T) {
	fx := newDispatcherFixture(t, Config{MaxConcurrentCalls: 20}, alwaysOpen(t))
	fx.limiter = newMinuteLimiter(10)
	fx.d.limiter = fx.limiter

	due := fx.now.Add(-time.Minute)
	for i := 0; i < 11; i++ {
		fx.addTask(t, fx.campaign, due, fmt.Sprintf("+141555501%02d", i))
	}

	if err := fx.d.Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	counts := fx.tasks.statusCounts()
	if counts[domain.TaskStatusCompleted] != 10 {
		t.Errorf("completed = %d, want 10", counts[domain.TaskStatusCompleted])
	}
	// The spilled task burned an attempt and went back to scheduled with a
	// deferred dispatch time; it never reached the gateway.
	if counts[domain.TaskStatusScheduled] != 1 {
		t.Errorf("scheduled = %d, want 1", counts[domain.TaskStatusScheduled])
	}
	if len(fx.gateway.calls) != 10 {
		t.Errorf("gateway calls = %d, want 10", len(fx.gateway.calls))
	}

	fx.tasks.mu.Lock()
	defer fx.tasks.mu.Unlock()
	for _, task := range fx.tasks.tasks {
		if task.Status != domain.TaskStatusScheduled {
			continue
		}
		if task.Attempts != 1 {
			t.Errorf("rate-limited task attempts = %d, want 1", task.Attempts)
		}
		want := fx.now.Add(fx.campaign.RetryInterval)
		if !task.ScheduledAt.Equal(want) {
			t.Errorf("rescheduled at %v, want %v", task.ScheduledAt, want)
		}
	}
}

func TestFailingGatewayExhaustsAttempts(t *testing.T) {
	fx := newDispatcherFixture(t, Config{MaxConcurrentCalls: 10}, alwaysOpen(t))
	fx.gateway.err = fmt.Errorf("%w: carrier rejected", apperrors.ErrGateway)

	id := fx.addTask(t, fx.campaign, fx.now.Add(-time.Minute), "+14155550100")

	for attempt := 1; attempt <= fx.campaign.MaxAttempts; attempt++ {
		if err := fx.d.Tick(context.Background()); err != nil {
			t.Fatalf("tick %d: unexpected error: %v", attempt, err)
		}

		task, err := fx.tasks.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if task.Attempts != attempt {
			t.Fatalf("after tick %d: attempts = %d, want %d", attempt, task.Attempts, attempt)
		}

		if attempt < fx.campaign.MaxAttempts {
			if task.Status != domain.TaskStatusScheduled {
				t.Fatalf("after tick %d: status = %q, want scheduled for retry", attempt, task.Status)
			}
			// Jump past the retry backoff so the next tick sees the task.
			fx.now = task.ScheduledAt.Add(time.Minute)
		} else {
			if task.Status != domain.TaskStatusFailed {
				t.Fatalf("status = %q, want failed after final attempt", task.Status)
			}
			if task.CompletedAt == nil {
				t.Errorf("failed task should carry a completion time")
			}
			if task.Notes == nil {
				t.Errorf("failed task should carry the failure cause")
			}
		}
	}

	if len(fx.gateway.calls) != fx.campaign.MaxAttempts {
		t.Errorf("gateway calls = %d, want %d", len(fx.gateway.calls), fx.campaign.MaxAttempts)
	}

	// Exactly one failure outcome, after the last attempt.
	failures := 0
	for _, msg := range fx.outcomes.messages {
		if !msg.Succeeded {
			failures++
		}
	}
	if failures != 1 {
		t.Errorf("failure outcomes = %d, want 1", failures)
	}
}

func TestTickPrunesStaleQueueMembers(t *testing.T) {
	fx := newDispatcherFixture(t, Config{MaxConcurrentCalls: 10}, alwaysOpen(t))

	// A queue member whose task no longer exists.
	ghost := uuid.New()
	_ = fx.queue.Enqueue(context.Background(), ghost, fx.now.Add(-time.Minute))

	// A queue member whose task was already cancelled.
	cancelled := fx.addTask(t, fx.campaign, fx.now.Add(-time.Minute), "+14155550100")
	if err := fx.tasks.TransitionStatus(context.Background(), cancelled,
		domain.TaskStatusScheduled, domain.TaskStatusCancelled, repository.TaskMutation{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := fx.d.Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fx.queue.entries) != 0 {
		t.Errorf("stale members should be pruned, %d left", len(fx.queue.entries))
	}
	if len(fx.gateway.calls) != 0 {
		t.Errorf("no calls should be placed for stale members")
	}

	task, err := fx.tasks.Get(context.Background(), cancelled)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Attempts != 0 {
		t.Errorf("cancelled task must not accrue attempts")
	}
}

func TestDispatchSkipsConcurrentlyClaimedTask(t *testing.T) {
	fx := newDispatcherFixture(t, Config{MaxConcurrentCalls: 10}, alwaysOpen(t))

	id := fx.addTask(t, fx.campaign, fx.now.Add(-time.Minute), "+14155550100")
	task, err := fx.tasks.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Another instance wins the claim between selection and dispatch.
	if err := fx.tasks.TransitionStatus(context.Background(), id,
		domain.TaskStatusScheduled, domain.TaskStatusInProgress, repository.TaskMutation{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fx.d.dispatchOne(context.Background(), task, fx.campaign)

	if len(fx.gateway.calls) != 0 {
		t.Errorf("lost claim must not reach the gateway")
	}
	stored, _ := fx.tasks.Get(context.Background(), id)
	if stored.Status != domain.TaskStatusInProgress {
		t.Errorf("status = %q, want in_progress untouched", stored.Status)
	}
}

var errTransient = errors.New("transient dial failure")

func TestUnwrappedGatewayErrorStillRetries(t *testing.T) {
	fx := newDispatcherFixture(t, Config{MaxConcurrentCalls: 10}, alwaysOpen(t))
	fx.gateway.err = errTransient

	id := fx.addTask(t, fx.campaign, fx.now.Add(-time.Minute), "+14155550100")

	if err := fx.d.Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	task, err := fx.tasks.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Status != domain.TaskStatusScheduled {
		t.Fatalf("status = %q, want scheduled for retry", task.Status)
	}
	if task.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", task.Attempts)
	}
}
