package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/outbound-call-scheduler/internal/domain"
	"github.com/acme/outbound-call-scheduler/internal/repository"
)

// CampaignRepository implements repository.CampaignRepository using PostgreSQL.
type CampaignRepository struct {
	db *sqlx.DB
}

// NewCampaignRepository constructs a new repository.
func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, name, type, status, script_template, max_attempts,
	retry_interval_seconds, priority, created_at, updated_at`

// Create inserts a new campaign.
func (r *CampaignRepository) Create(ctx context.Context, campaign *domain.Campaign) error {
	q := `INSERT INTO campaigns (
		id, name, type, status, script_template, max_attempts,
		retry_interval_seconds, priority, created_at, updated_at
	) VALUES (
		:id, :name, :type, :status, :script_template, :max_attempts,
		:retry_interval_seconds, :priority, :created_at, :updated_at
	)`

	if _, err := r.db.NamedExecContext(ctx, q, campaignParams(campaign)); err != nil {
		return fmt.Errorf("campaign repo: insert: %w", err)
	}
	return nil
}

// Get fetches a campaign by id.
func (r *CampaignRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`

	var record campaignRecord
	if err := r.db.QueryRowxContext(ctx, q, id).StructScan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign repo: get: %w", err)
	}

	campaign := record.toDomain()
	return &campaign, nil
}

// Update persists mutable campaign fields.
func (r *CampaignRepository) Update(ctx context.Context, campaign *domain.Campaign) error {
	q := `UPDATE campaigns SET
		name = :name,
		status = :status,
		script_template = :script_template,
		max_attempts = :max_attempts,
		retry_interval_seconds = :retry_interval_seconds,
		priority = :priority,
		updated_at = :updated_at
	 WHERE id = :id`

	res, err := r.db.NamedExecContext(ctx, q, campaignParams(campaign))
	if err != nil {
		return fmt.Errorf("campaign repo: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateStatus updates campaign status. Transitions are unrestricted; the
// dispatcher enforces that only active campaigns get calls.
func (r *CampaignRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("campaign repo: update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// List returns campaigns with keyset pagination.
func (r *CampaignRepository) List(ctx context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows *sqlx.Rows
	var err error
	if afterID != nil {
		rows, err = r.db.QueryxContext(ctx,
			`SELECT `+campaignColumns+` FROM campaigns WHERE id > $1 ORDER BY id ASC LIMIT $2`, *afterID, limit)
	} else {
		rows, err = r.db.QueryxContext(ctx,
			`SELECT `+campaignColumns+` FROM campaigns ORDER BY id ASC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list: %w", err)
	}
	defer rows.Close()

	return scanCampaigns(rows)
}

// GetByType returns the most recently created active campaign of the type.
func (r *CampaignRepository) GetByType(ctx context.Context, campaignType domain.CampaignType) (*domain.Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaigns
		WHERE type = $1 AND status = $2
		ORDER BY created_at DESC LIMIT 1`

	var record campaignRecord
	if err := r.db.QueryRowxContext(ctx, q, campaignType, domain.CampaignStatusActive).StructScan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign repo: get by type: %w", err)
	}

	campaign := record.toDomain()
	return &campaign, nil
}

func scanCampaigns(rows *sqlx.Rows) ([]*domain.Campaign, error) {
	var results []*domain.Campaign
	for rows.Next() {
		var record campaignRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("campaign repo: scan: %w", err)
		}
		campaign := record.toDomain()
		results = append(results, &campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign repo: rows err: %w", err)
	}
	return results, nil
}

func campaignParams(c *domain.Campaign) map[string]any {
	return map[string]any{
		"id":                     c.ID,
		"name":                   c.Name,
		"type":                   c.Type,
		"status":                 c.Status,
		"script_template":        c.ScriptTemplate,
		"max_attempts":           c.MaxAttempts,
		"retry_interval_seconds": int64(c.RetryInterval / time.Second),
		"priority":               c.Priority,
		"created_at":             c.CreatedAt,
		"updated_at":             c.UpdatedAt,
	}
}

type campaignRecord struct {
	ID                   uuid.UUID    `db:"id"`
	Name                 string       `db:"name"`
	Type                 string       `db:"type"`
	Status               string       `db:"status"`
	ScriptTemplate       string       `db:"script_template"`
	MaxAttempts          int          `db:"max_attempts"`
	RetryIntervalSeconds int64        `db:"retry_interval_seconds"`
	Priority             int          `db:"priority"`
	CreatedAt            sql.NullTime `db:"created_at"`
	UpdatedAt            sql.NullTime `db:"updated_at"`
}

func (r campaignRecord) toDomain() domain.Campaign {
	return domain.Campaign{
		ID:             r.ID,
		Name:           r.Name,
		Type:           domain.CampaignType(r.Type),
		Status:         domain.CampaignStatus(r.Status),
		ScriptTemplate: r.ScriptTemplate,
		MaxAttempts:    r.MaxAttempts,
		RetryInterval:  time.Duration(r.RetryIntervalSeconds) * time.Second,
		Priority:       r.Priority,
		CreatedAt:      r.CreatedAt.Time,
		UpdatedAt:      r.UpdatedAt.Time,
	}
}
