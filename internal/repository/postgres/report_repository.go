package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/outbound-call-scheduler/internal/repository"
)

// ReportRepository computes rollups over call_tasks with aggregate queries.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs a new repository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// CampaignRollup aggregates one campaign's tasks by status.
func (r *ReportRepository) CampaignRollup(ctx context.Context, campaignID uuid.UUID) (*repository.CampaignRollup, error) {
	q := `SELECT
		campaign_id,
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE status = 'scheduled') AS scheduled,
		COUNT(*) FILTER (WHERE status = 'in_progress') AS in_progress,
		COUNT(*) FILTER (WHERE status = 'completed') AS completed,
		COUNT(*) FILTER (WHERE status = 'failed') AS failed,
		COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled,
		COALESCE(SUM(call_duration_seconds) FILTER (WHERE status = 'completed'), 0) AS total_duration_seconds
	FROM call_tasks WHERE campaign_id = $1 GROUP BY campaign_id`

	var rollup repository.CampaignRollup
	if err := r.db.QueryRowxContext(ctx, q, campaignID).StructScan(&rollup); err != nil {
		// A campaign with no tasks yet rolls up to zeroes.
		if errors.Is(err, sql.ErrNoRows) {
			return &repository.CampaignRollup{CampaignID: campaignID}, nil
		}
		return nil, fmt.Errorf("report repo: campaign rollup: %w", err)
	}
	return &rollup, nil
}

// DailyRollup groups a campaign's tasks by calendar date.
func (r *ReportRepository) DailyRollup(ctx context.Context, campaignID uuid.UUID, from, until time.Time) ([]repository.DailyRollup, error) {
	q := `SELECT
		DATE_TRUNC('day', created_at) AS date,
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE status = 'completed') AS completed,
		COUNT(*) FILTER (WHERE status = 'failed') AS failed
	FROM call_tasks
	WHERE campaign_id = $1 AND created_at >= $2 AND created_at < $3
	GROUP BY 1 ORDER BY 1 ASC`

	rows, err := r.db.QueryxContext(ctx, q, campaignID, from, until)
	if err != nil {
		return nil, fmt.Errorf("report repo: daily rollup: %w", err)
	}
	defer rows.Close()

	var results []repository.DailyRollup
	for rows.Next() {
		var row repository.DailyRollup
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("report repo: scan: %w", err)
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report repo: rows err: %w", err)
	}
	return results, nil
}

// TopCampaigns ranks campaigns by completed calls.
func (r *ReportRepository) TopCampaigns(ctx context.Context, limit int) ([]repository.CampaignRollup, error) {
	if limit <= 0 {
		limit = 10
	}

	q := `SELECT
		campaign_id,
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE status = 'scheduled') AS scheduled,
		COUNT(*) FILTER (WHERE status = 'in_progress') AS in_progress,
		COUNT(*) FILTER (WHERE status = 'completed') AS completed,
		COUNT(*) FILTER (WHERE status = 'failed') AS failed,
		COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled,
		COALESCE(SUM(call_duration_seconds) FILTER (WHERE status = 'completed'), 0) AS total_duration_seconds
	FROM call_tasks GROUP BY campaign_id ORDER BY completed DESC LIMIT $1`

	rows, err := r.db.QueryxContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("report repo: top campaigns: %w", err)
	}
	defer rows.Close()

	var results []repository.CampaignRollup
	for rows.Next() {
		var row repository.CampaignRollup
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("report repo: scan: %w", err)
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report repo: rows err: %w", err)
	}
	return results, nil
}
