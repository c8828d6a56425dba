package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-call-scheduler/internal/domain"
	"github.com/acme/outbound-call-scheduler/internal/repository"
	apperrors "github.com/acme/outbound-call-scheduler/pkg/errors"
)

// Service is the campaign registry: CRUD, status lifecycle, and type lookup
// for the automatic builders.
type Service struct {
	repo repository.CampaignRepository
}

// NewService constructs the registry.
func NewService(repo repository.CampaignRepository) *Service {
	return &Service{repo: repo}
}

// CreateInput captures campaign creation parameters. Zero values fall back
// to the documented defaults.
type CreateInput struct {
	Name           string
	Type           domain.CampaignType
	ScriptTemplate string
	MaxAttempts    int
	RetryInterval  time.Duration
	Priority       int
}

// UpdateInput captures updatable properties; nil fields are left untouched.
type UpdateInput struct {
	ID             uuid.UUID
	Name           *string
	ScriptTemplate *string
	MaxAttempts    *int
	RetryInterval  *time.Duration
	Priority       *int
}

// Create provisions a new campaign in active status.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Campaign, error) {
	applyDefaults(&input)
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	campaign := &domain.Campaign{
		ID:             uuid.New(),
		Name:           input.Name,
		Type:           input.Type,
		Status:         domain.CampaignStatusActive,
		ScriptTemplate: input.ScriptTemplate,
		MaxAttempts:    input.MaxAttempts,
		RetryInterval:  input.RetryInterval,
		Priority:       input.Priority,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign service: create: %w", err)
	}
	return campaign, nil
}

// Get retrieves a campaign by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// List returns campaigns with keyset pagination.
func (s *Service) List(ctx context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	return s.repo.List(ctx, afterID, limit)
}

// GetByType returns the most recently created active campaign of the type,
// so the automatic builders reuse campaigns instead of creating duplicates.
func (s *Service) GetByType(ctx context.Context, campaignType domain.CampaignType) (*domain.Campaign, error) {
	if !campaignType.Valid() {
		return nil, fmt.Errorf("%w: unknown campaign type %q", apperrors.ErrValidation, campaignType)
	}
	return s.repo.GetByType(ctx, campaignType)
}

// Update modifies campaign metadata.
func (s *Service) Update(ctx context.Context, input UpdateInput) (*domain.Campaign, error) {
	campaign, err := s.repo.Get(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		campaign.Name = *input.Name
	}
	if input.ScriptTemplate != nil {
		campaign.ScriptTemplate = *input.ScriptTemplate
	}
	if input.MaxAttempts != nil {
		campaign.MaxAttempts = *input.MaxAttempts
	}
	if input.RetryInterval != nil {
		campaign.RetryInterval = *input.RetryInterval
	}
	if input.Priority != nil {
		campaign.Priority = *input.Priority
	}
	campaign.UpdatedAt = time.Now().UTC()

	if err := validatePolicy(campaign.MaxAttempts, campaign.RetryInterval, campaign.Priority); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

// SetStatus moves the campaign to the given status. Transitions are
// unrestricted; status only gates dispatch eligibility.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown campaign status %q", apperrors.ErrValidation, status)
	}
	return s.repo.UpdateStatus(ctx, id, status)
}

func applyDefaults(input *CreateInput) {
	if input.MaxAttempts == 0 {
		input.MaxAttempts = domain.DefaultMaxAttempts
	}
	if input.RetryInterval == 0 {
		input.RetryInterval = domain.DefaultRetryInterval
	}
	if input.Priority == 0 {
		input.Priority = domain.DefaultPriority
	}
}

func validateCreateInput(input CreateInput) error {
	if input.Name == "" {
		return fmt.Errorf("%w: campaign name is required", apperrors.ErrValidation)
	}
	if !input.Type.Valid() {
		return fmt.Errorf("%w: unknown campaign type %q", apperrors.ErrValidation, input.Type)
	}
	if input.ScriptTemplate == "" {
		return fmt.Errorf("%w: script template is required", apperrors.ErrValidation)
	}
	return validatePolicy(input.MaxAttempts, input.RetryInterval, input.Priority)
}

func validatePolicy(maxAttempts int, retryInterval time.Duration, priority int) error {
	if maxAttempts < domain.MinAttempts || maxAttempts > domain.MaxAttemptsCeiling {
		return fmt.Errorf("%w: max_attempts %d outside [%d, %d]",
			apperrors.ErrValidation, maxAttempts, domain.MinAttempts, domain.MaxAttemptsCeiling)
	}
	if retryInterval < domain.MinRetryInterval {
		return fmt.Errorf("%w: retry_interval %s below minimum %s",
			apperrors.ErrValidation, retryInterval, domain.MinRetryInterval)
	}
	if priority < domain.MinPriority || priority > domain.MaxPriority {
		return fmt.Errorf("%w: priority %d outside [%d, %d]",
			apperrors.ErrValidation, priority, domain.MinPriority, domain.MaxPriority)
	}
	return nil
}
