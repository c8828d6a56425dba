package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-call-scheduler/internal/domain"
	"github.com/acme/outbound-call-scheduler/internal/hours"
	"github.com/acme/outbound-call-scheduler/internal/repository"
	apperrors "github.com/acme/outbound-call-scheduler/pkg/errors"
)

// CooldownGuard is the slice of the admission guard the scheduler needs.
type CooldownGuard interface {
	Reserve(ctx context.Context, phone string, now time.Time) error
	Release(ctx context.Context, phone string) error
}

// Service is the call scheduler: it validates scheduling requests against
// the owning campaign and operating hours, persists the task, and enqueues
// it for dispatch.
type Service struct {
	campaigns repository.CampaignRepository
	tasks     repository.TaskRepository
	queue     repository.DispatchQueue
	cooldown  CooldownGuard
	policy    *hours.Policy
	now       func() time.Time
}

// NewService builds the call scheduler.
func NewService(
	campaigns repository.CampaignRepository,
	tasks repository.TaskRepository,
	queue repository.DispatchQueue,
	cooldown CooldownGuard,
	policy *hours.Policy,
) *Service {
	return &Service{
		campaigns: campaigns,
		tasks:     tasks,
		queue:     queue,
		cooldown:  cooldown,
		policy:    policy,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ScheduleInput encapsulates a scheduling request.
type ScheduleInput struct {
	CampaignID  uuid.UUID
	PatientID   string
	PhoneNumber string
	ScheduledAt time.Time
	Variables   map[string]string
	Notes       *string
}

// Schedule validates the request, persists a call task, and inserts it into
// the dispatch queue. A requested time outside operating hours is silently
// moved to the next admissible slot rather than rejected, so callers never
// have to loop probing for open windows. Nothing reaches the queue unless
// every validation passed and the task was persisted.
func (s *Service) Schedule(ctx context.Context, input ScheduleInput) (uuid.UUID, error) {
	if !domain.ValidPhoneNumber(input.PhoneNumber) {
		return uuid.Nil, fmt.Errorf("%w: phone number %q does not match dialing pattern", apperrors.ErrValidation, input.PhoneNumber)
	}
	if input.ScheduledAt.IsZero() {
		return uuid.Nil, fmt.Errorf("%w: scheduled_at is required", apperrors.ErrValidation)
	}

	campaign, err := s.campaigns.Get(ctx, input.CampaignID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return uuid.Nil, fmt.Errorf("%w: campaign %s does not exist", apperrors.ErrCampaignInactive, input.CampaignID)
		}
		return uuid.Nil, fmt.Errorf("call scheduler: lookup campaign: %w", err)
	}
	if !campaign.Dispatchable() {
		return uuid.Nil, fmt.Errorf("%w: campaign %s is %s", apperrors.ErrCampaignInactive, campaign.ID, campaign.Status)
	}

	scheduledAt := input.ScheduledAt
	if !s.policy.Admissible(scheduledAt) {
		scheduledAt = s.policy.NextAdmissible(scheduledAt)
	}

	now := s.now()
	if err := s.cooldown.Reserve(ctx, input.PhoneNumber, now); err != nil {
		return uuid.Nil, err
	}

	task := &domain.CallTask{
		ID:          uuid.New(),
		CampaignID:  campaign.ID,
		PatientID:   input.PatientID,
		PhoneNumber: input.PhoneNumber,
		ScheduledAt: scheduledAt,
		Status:      domain.TaskStatusScheduled,
		Attempts:    0,
		MaxAttempts: campaign.MaxAttempts,
		Variables:   input.Variables,
		Notes:       input.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.tasks.Create(ctx, task); err != nil {
		s.releaseCooldown(ctx, input.PhoneNumber)
		return uuid.Nil, fmt.Errorf("call scheduler: persist task: %w", err)
	}

	if err := s.queue.Enqueue(ctx, task.ID, scheduledAt); err != nil {
		s.releaseCooldown(ctx, input.PhoneNumber)
		return uuid.Nil, fmt.Errorf("call scheduler: enqueue task: %w", err)
	}

	return task.ID, nil
}

// Cancel moves a scheduled task to cancelled and drops it from the queue.
// Tasks already claimed by the dispatcher cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, taskID uuid.UUID) error {
	err := s.tasks.TransitionStatus(ctx, taskID,
		domain.TaskStatusScheduled, domain.TaskStatusCancelled, repository.TaskMutation{})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return fmt.Errorf("%w: task %s is no longer scheduled", apperrors.ErrConflict, taskID)
		}
		return err
	}
	return s.queue.Remove(ctx, taskID)
}

// Get retrieves a task by id.
func (s *Service) Get(ctx context.Context, taskID uuid.UUID) (*domain.CallTask, error) {
	return s.tasks.Get(ctx, taskID)
}

// ListByCampaign lists a campaign's tasks.
func (s *Service) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit, offset int) ([]*domain.CallTask, error) {
	return s.tasks.ListByCampaign(ctx, campaignID, limit, offset)
}

func (s *Service) releaseCooldown(ctx context.Context, phone string) {
	// Best effort: an orphaned reservation expires with the cooldown TTL.
	_ = s.cooldown.Release(ctx, phone)
}
