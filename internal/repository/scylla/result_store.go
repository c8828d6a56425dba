package scylla

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/outbound-call-scheduler/internal/domain"
)

// ResultStore persists append-only campaign results in Scylla, partitioned
// by campaign and day bucket. Rows are never updated or deleted.
type ResultStore struct {
	session *gocql.Session
}

// NewResultStore creates a new result store.
func NewResultStore(session *gocql.Session) *ResultStore {
	return &ResultStore{session: session}
}

// Append inserts a result record.
func (s *ResultStore) Append(ctx context.Context, result *domain.CampaignResult) error {
	data, err := json.Marshal(result.ResultData)
	if err != nil {
		return fmt.Errorf("result store: marshal result data: %w", err)
	}

	bucket := bucketDate(result.RecordedAt)
	if err := s.session.Query(`INSERT INTO results_by_campaign (campaign_id, bucket, result_id, call_id, result_type, result_data, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		result.CampaignID.String(), bucket, result.ID.String(), result.CallID.String(),
		result.ResultType, string(data), result.RecordedAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("result store: insert: %w", err)
	}
	return nil
}

// ListByCampaign reads recent results for a campaign.
func (s *ResultStore) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int) ([]domain.CampaignResult, error) {
	if limit <= 0 {
		limit = 100
	}

	iter := s.session.Query(`SELECT bucket, result_id, call_id, result_type, result_data, recorded_at
		FROM results_by_campaign WHERE campaign_id = ?`,
		campaignID.String()).WithContext(ctx).PageSize(limit).Iter()

	results := make([]domain.CampaignResult, 0, limit)
	var (
		bucket     time.Time
		resultID   string
		callID     string
		resultType string
		rawData    string
		recordedAt time.Time
	)

	for iter.Scan(&bucket, &resultID, &callID, &resultType, &rawData, &recordedAt) {
		rid, err := uuid.Parse(resultID)
		if err != nil {
			continue
		}
		cid, err := uuid.Parse(callID)
		if err != nil {
			continue
		}

		record := domain.CampaignResult{
			ID:         rid,
			CampaignID: campaignID,
			CallID:     cid,
			ResultType: resultType,
			RecordedAt: recordedAt,
		}
		if rawData != "" {
			if err := json.Unmarshal([]byte(rawData), &record.ResultData); err != nil {
				continue
			}
		}
		results = append(results, record)
		if len(results) >= limit {
			break
		}
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("result store: iter close: %w", err)
	}
	return results, nil
}

// CountByCampaign counts total and converted results for a campaign.
func (s *ResultStore) CountByCampaign(ctx context.Context, campaignID uuid.UUID) (int64, int64, error) {
	iter := s.session.Query(`SELECT result_type FROM results_by_campaign WHERE campaign_id = ?`,
		campaignID.String()).WithContext(ctx).Iter()

	var total, converted int64
	var resultType string
	for iter.Scan(&resultType) {
		total++
		record := domain.CampaignResult{ResultType: resultType}
		if record.Converted() {
			converted++
		}
	}

	if err := iter.Close(); err != nil {
		return 0, 0, fmt.Errorf("result store: count: %w", err)
	}
	return total, converted, nil
}

func bucketDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
