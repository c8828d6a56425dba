package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-call-scheduler/internal/domain"
	apperrors "github.com/acme/outbound-call-scheduler/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a conditional update lost against a concurrent
	// writer, or a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// CampaignRepository manages campaign persistence.
type CampaignRepository interface {
	Create(ctx context.Context, campaign *domain.Campaign) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	Update(ctx context.Context, campaign *domain.Campaign) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus) error
	List(ctx context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error)
	// GetByType returns the most recently created active campaign of the type.
	GetByType(ctx context.Context, campaignType domain.CampaignType) (*domain.Campaign, error)
}

// TaskRepository persists call tasks. Status changes go through
// TransitionStatus so a concurrent dispatcher tick can never double-claim a
// task: the update applies only if the stored status still matches `from`,
// otherwise ErrConflict.
type TaskRepository interface {
	Create(ctx context.Context, task *domain.CallTask) error
	Get(ctx context.Context, id uuid.UUID) (*domain.CallTask, error)
	GetBatch(ctx context.Context, ids []uuid.UUID) ([]*domain.CallTask, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.TaskStatus, mut TaskMutation) error
	CountByStatus(ctx context.Context, status domain.TaskStatus) (int, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit, offset int) ([]*domain.CallTask, error)
}

// TaskMutation carries the optional field updates applied alongside a status
// transition. Nil fields are left untouched.
type TaskMutation struct {
	AttemptedAt   *time.Time
	CompletedAt   *time.Time
	ScheduledAt   *time.Time
	AttemptsDelta int
	CallDuration  *time.Duration
	ResponseData  map[string]any
	Notes         *string
}

// ResultStore appends and reads campaign results. Records are never mutated.
type ResultStore interface {
	Append(ctx context.Context, result *domain.CampaignResult) error
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int) ([]domain.CampaignResult, error)
	CountByCampaign(ctx context.Context, campaignID uuid.UUID) (total, converted int64, err error)
}

// DispatchQueue is the time-ordered queue the dispatcher consumes. Members
// are task ids scored by their scheduled time.
type DispatchQueue interface {
	Enqueue(ctx context.Context, taskID uuid.UUID, scheduledAt time.Time) error
	Due(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	Remove(ctx context.Context, taskIDs ...uuid.UUID) error
}

// ReportRepository computes read-side rollups over persisted tasks. Nothing
// is cached; every call recomputes from storage.
type ReportRepository interface {
	CampaignRollup(ctx context.Context, campaignID uuid.UUID) (*CampaignRollup, error)
	DailyRollup(ctx context.Context, campaignID uuid.UUID, from, until time.Time) ([]DailyRollup, error)
	TopCampaigns(ctx context.Context, limit int) ([]CampaignRollup, error)
}

// CampaignRollup aggregates task counts and durations for one campaign.
type CampaignRollup struct {
	CampaignID           uuid.UUID `db:"campaign_id"`
	Total                int64     `db:"total"`
	Scheduled            int64     `db:"scheduled"`
	InProgress           int64     `db:"in_progress"`
	Completed            int64     `db:"completed"`
	Failed               int64     `db:"failed"`
	Cancelled            int64     `db:"cancelled"`
	TotalDurationSeconds int64     `db:"total_duration_seconds"`
}

// DailyRollup aggregates task counts for one calendar date.
type DailyRollup struct {
	Date      time.Time `db:"date"`
	Total     int64     `db:"total"`
	Completed int64     `db:"completed"`
	Failed    int64     `db:"failed"`
}

// AppointmentRepository feeds the automatic campaign builders. Appointments
// live in the clinic system's schema; this scheduler only reads them.
type AppointmentRepository interface {
	Upcoming(ctx context.Context, from, until time.Time, limit int) ([]Appointment, error)
	RecentlyCompleted(ctx context.Context, since time.Time, limit int) ([]Appointment, error)
}

// Appointment is the read-side projection of a clinic appointment.
type Appointment struct {
	ID          uuid.UUID  `db:"id"`
	PatientID   string     `db:"patient_id"`
	PatientName string     `db:"patient_name"`
	PhoneNumber string     `db:"phone_number"`
	Provider    string     `db:"provider"`
	StartsAt    time.Time  `db:"starts_at"`
	CompletedAt *time.Time `db:"completed_at"`
}
