package stats

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-call-scheduler/internal/repository"
)

// CampaignStats is the per-campaign rollup exposed to operators. Rates are
// percentages in [0, 100].
type CampaignStats struct {
	CampaignID      uuid.UUID
	TotalCalls      int64
	Scheduled       int64
	InProgress      int64
	Completed       int64
	Failed          int64
	Cancelled       int64
	SuccessRate     float64
	AverageDuration time.Duration
	TotalResults    int64
	ConversionRate  float64
}

// Service computes read-only statistics. Nothing is cached; every call
// recomputes from storage, which keeps the numbers honest at the cost of a
// few aggregate queries.
type Service struct {
	reports repository.ReportRepository
	results repository.ResultStore
}

// NewService builds the aggregator.
func NewService(reports repository.ReportRepository, results repository.ResultStore) *Service {
	return &Service{reports: reports, results: results}
}

// CampaignStats aggregates one campaign's tasks and results.
func (s *Service) CampaignStats(ctx context.Context, campaignID uuid.UUID) (*CampaignStats, error) {
	rollup, err := s.reports.CampaignRollup(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	total, converted, err := s.results.CountByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	out := &CampaignStats{
		CampaignID:   campaignID,
		TotalCalls:   rollup.Total,
		Scheduled:    rollup.Scheduled,
		InProgress:   rollup.InProgress,
		Completed:    rollup.Completed,
		Failed:       rollup.Failed,
		Cancelled:    rollup.Cancelled,
		TotalResults: total,
	}
	out.SuccessRate = percentage(rollup.Completed, rollup.Total)
	out.ConversionRate = percentage(converted, total)
	if rollup.Completed > 0 {
		out.AverageDuration = time.Duration(rollup.TotalDurationSeconds/rollup.Completed) * time.Second
	}
	return out, nil
}

// DailyReport groups one campaign's tasks by calendar date.
func (s *Service) DailyReport(ctx context.Context, campaignID uuid.UUID, from, until time.Time) ([]repository.DailyRollup, error) {
	return s.reports.DailyRollup(ctx, campaignID, from, until)
}

// TopCampaigns ranks campaigns by completed calls.
func (s *Service) TopCampaigns(ctx context.Context, limit int) ([]repository.CampaignRollup, error) {
	return s.reports.TopCampaigns(ctx, limit)
}

func percentage(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}
