package stats

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-call-scheduler/internal/domain"
	"github.com/acme/outbound-call-scheduler/internal/repository"
)

type fakeReports struct {
	rollup repository.CampaignRollup
}

func (f *fakeReports) CampaignRollup(_ context.Context, campaignID uuid.UUID) (*repository.CampaignRollup, error) {
	r := f.rollup
	r.CampaignID = campaignID
	return &r, nil
}

func (f *fakeReports) DailyRollup(context.Context, uuid.UUID, time.Time, time.Time) ([]repository.DailyRollup, error) {
	return nil, nil
}

func (f *fakeReports) TopCampaigns(context.Context, int) ([]repository.CampaignRollup, error) {
	return nil, nil
}

type fakeResults struct {
	total     int64
	converted int64
}

func (f *fakeResults) Append(context.Context, *domain.CampaignResult) error { return nil }
func (f *fakeResults) ListByCampaign(context.Context, uuid.UUID, int) ([]domain.CampaignResult, error) {
	return nil, nil
}
func (f *fakeResults) CountByCampaign(context.Context, uuid.UUID) (int64, int64, error) {
	return f.total, f.converted, nil
}

func TestCampaignStatsRates(t *testing.T) {
	svc := NewService(
		&fakeReports{rollup: repository.CampaignRollup{
			Total:                200,
			Scheduled:            40,
			InProgress:           10,
			Completed:            120,
			Failed:               20,
			Cancelled:            10,
			TotalDurationSeconds: 7200,
		}},
		&fakeResults{total: 120, converted: 30},
	)

	stats, err := svc.CampaignStats(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.SuccessRate != 60 {
		t.Errorf("success rate = %v, want 60", stats.SuccessRate)
	}
	if stats.ConversionRate != 25 {
		t.Errorf("conversion rate = %v, want 25", stats.ConversionRate)
	}
	if stats.AverageDuration != time.Minute {
		t.Errorf("average duration = %v, want 1m", stats.AverageDuration)
	}
}

func TestCampaignStatsEmptyCampaign(t *testing.T) {
	svc := NewService(&fakeReports{}, &fakeResults{})

	stats, err := svc.CampaignStats(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.SuccessRate != 0 || stats.ConversionRate != 0 {
		t.Errorf("rates on empty campaign should be zero, got %v and %v",
			stats.SuccessRate, stats.ConversionRate)
	}
	if stats.AverageDuration != 0 {
		t.Errorf("average duration on empty campaign should be zero")
	}
}
