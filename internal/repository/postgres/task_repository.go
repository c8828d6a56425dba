package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/outbound-call-scheduler/internal/domain"
	"github.com/acme/outbound-call-scheduler/internal/repository"
)

// TaskRepository implements repository.TaskRepository using PostgreSQL.
type TaskRepository struct {
	db *sqlx.DB
}

// NewTaskRepository constructs a new repository.
func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `id, campaign_id, patient_id, phone_number, scheduled_at,
	attempted_at, completed_at, status, attempts, max_attempts,
	call_duration_seconds, response_data, notes, variables, created_at, updated_at`

// Create inserts a new call task.
func (r *TaskRepository) Create(ctx context.Context, task *domain.CallTask) error {
	responseData, err := json.Marshal(task.ResponseData)
	if err != nil {
		return fmt.Errorf("task repo: marshal response data: %w", err)
	}
	variables, err := json.Marshal(task.Variables)
	if err != nil {
		return fmt.Errorf("task repo: marshal variables: %w", err)
	}

	q := `INSERT INTO call_tasks (
		id, campaign_id, patient_id, phone_number, scheduled_at,
		attempted_at, completed_at, status, attempts, max_attempts,
		call_duration_seconds, response_data, notes, variables, created_at, updated_at
	) VALUES (
		:id, :campaign_id, :patient_id, :phone_number, :scheduled_at,
		:attempted_at, :completed_at, :status, :attempts, :max_attempts,
		:call_duration_seconds, :response_data, :notes, :variables, :created_at, :updated_at
	)`

	params := map[string]any{
		"id":                    task.ID,
		"campaign_id":           task.CampaignID,
		"patient_id":            task.PatientID,
		"phone_number":          task.PhoneNumber,
		"scheduled_at":          task.ScheduledAt,
		"attempted_at":          task.AttemptedAt,
		"completed_at":          task.CompletedAt,
		"status":                task.Status,
		"attempts":              task.Attempts,
		"max_attempts":          task.MaxAttempts,
		"call_duration_seconds": int64(task.CallDuration / time.Second),
		"response_data":         responseData,
		"notes":                 task.Notes,
		"variables":             variables,
		"created_at":            task.CreatedAt,
		"updated_at":            task.UpdatedAt,
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("task repo: insert: %w", err)
	}
	return nil
}

// Get fetches a task by id.
func (r *TaskRepository) Get(ctx context.Context, id uuid.UUID) (*domain.CallTask, error) {
	var record taskRecord
	q := `SELECT ` + taskColumns + ` FROM call_tasks WHERE id = $1`
	if err := r.db.QueryRowxContext(ctx, q, id).StructScan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("task repo: get: %w", err)
	}
	return record.toDomain()
}

// GetBatch fetches tasks for the given ids. Missing ids are simply absent
// from the result.
func (r *TaskRepository) GetBatch(ctx context.Context, ids []uuid.UUID) ([]*domain.CallTask, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	q, args, err := sqlx.In(`SELECT `+taskColumns+` FROM call_tasks WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("task repo: build batch query: %w", err)
	}
	q = r.db.Rebind(q)

	rows, err := r.db.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("task repo: get batch: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.CallTask
	for rows.Next() {
		var record taskRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("task repo: scan: %w", err)
		}
		task, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task repo: rows err: %w", err)
	}
	return tasks, nil
}

// TransitionStatus applies a conditional status update. The write succeeds
// only if the stored status still equals `from`; otherwise ErrConflict, so a
// concurrent tick claiming the same task loses cleanly.
func (r *TaskRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.TaskStatus, mut repository.TaskMutation) error {
	set := []string{"status = :to", "updated_at = NOW()"}
	params := map[string]any{
		"id":   id,
		"from": from,
		"to":   to,
	}

	if mut.AttemptedAt != nil {
		set = append(set, "attempted_at = :attempted_at")
		params["attempted_at"] = *mut.AttemptedAt
	}
	if mut.CompletedAt != nil {
		set = append(set, "completed_at = :completed_at")
		params["completed_at"] = *mut.CompletedAt
	}
	if mut.ScheduledAt != nil {
		set = append(set, "scheduled_at = :scheduled_at")
		params["scheduled_at"] = *mut.ScheduledAt
	}
	if mut.AttemptsDelta != 0 {
		set = append(set, "attempts = attempts + :attempts_delta")
		params["attempts_delta"] = mut.AttemptsDelta
	}
	if mut.CallDuration != nil {
		set = append(set, "call_duration_seconds = :call_duration_seconds")
		params["call_duration_seconds"] = int64(*mut.CallDuration / time.Second)
	}
	if mut.ResponseData != nil {
		encoded, err := json.Marshal(mut.ResponseData)
		if err != nil {
			return fmt.Errorf("task repo: marshal response data: %w", err)
		}
		set = append(set, "response_data = :response_data")
		params["response_data"] = encoded
	}
	if mut.Notes != nil {
		set = append(set, "notes = :notes")
		params["notes"] = *mut.Notes
	}

	q := `UPDATE call_tasks SET ` + strings.Join(set, ", ") +
		` WHERE id = :id AND status = :from`

	res, err := r.db.NamedExecContext(ctx, q, params)
	if err != nil {
		return fmt.Errorf("task repo: transition %s -> %s: %w", from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("task repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrConflict
	}
	return nil
}

// CountByStatus counts tasks with the given status.
func (r *TaskRepository) CountByStatus(ctx context.Context, status domain.TaskStatus) (int, error) {
	var count int
	if err := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM call_tasks WHERE status = $1`, status).Scan(&count); err != nil {
		return 0, fmt.Errorf("task repo: count by status: %w", err)
	}
	return count, nil
}

// ListByCampaign returns tasks for a campaign ordered by creation time.
func (r *TaskRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit, offset int) ([]*domain.CallTask, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx,
		`SELECT `+taskColumns+` FROM call_tasks WHERE campaign_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, campaignID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("task repo: list by campaign: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.CallTask
	for rows.Next() {
		var record taskRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("task repo: scan: %w", err)
		}
		task, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task repo: rows err: %w", err)
	}
	return tasks, nil
}

type taskRecord struct {
	ID                  uuid.UUID       `db:"id"`
	CampaignID          uuid.UUID       `db:"campaign_id"`
	PatientID           string          `db:"patient_id"`
	PhoneNumber         string          `db:"phone_number"`
	ScheduledAt         time.Time       `db:"scheduled_at"`
	AttemptedAt         *time.Time      `db:"attempted_at"`
	CompletedAt         *time.Time      `db:"completed_at"`
	Status              string          `db:"status"`
	Attempts            int             `db:"attempts"`
	MaxAttempts         int             `db:"max_attempts"`
	CallDurationSeconds int64           `db:"call_duration_seconds"`
	ResponseData        json.RawMessage `db:"response_data"`
	Notes               *string         `db:"notes"`
	Variables           json.RawMessage `db:"variables"`
	CreatedAt           time.Time       `db:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at"`
}

func (r taskRecord) toDomain() (*domain.CallTask, error) {
	task := &domain.CallTask{
		ID:           r.ID,
		CampaignID:   r.CampaignID,
		PatientID:    r.PatientID,
		PhoneNumber:  r.PhoneNumber,
		ScheduledAt:  r.ScheduledAt,
		AttemptedAt:  r.AttemptedAt,
		CompletedAt:  r.CompletedAt,
		Status:       domain.TaskStatus(r.Status),
		Attempts:     r.Attempts,
		MaxAttempts:  r.MaxAttempts,
		CallDuration: time.Duration(r.CallDurationSeconds) * time.Second,
		Notes:        r.Notes,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}

	if len(r.ResponseData) > 0 {
		if err := json.Unmarshal(r.ResponseData, &task.ResponseData); err != nil {
			return nil, fmt.Errorf("task repo: unmarshal response data: %w", err)
		}
	}
	if len(r.Variables) > 0 {
		if err := json.Unmarshal(r.Variables, &task.Variables); err != nil {
			return nil, fmt.Errorf("task repo: unmarshal variables: %w", err)
		}
	}
	return task, nil
}
