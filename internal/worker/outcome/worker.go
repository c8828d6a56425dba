// Package outcome consumes call outcome events and appends campaign
// results. Keeping the append on a consumer means a slow result store never
// blocks the dispatch path.
package outcome

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/acme/outbound-call-scheduler/internal/domain"
	"github.com/acme/outbound-call-scheduler/internal/queue"
	"github.com/acme/outbound-call-scheduler/internal/repository"
	"github.com/acme/outbound-call-scheduler/pkg/logger"
)

// Worker consumes outcome events from Kafka.
type Worker struct {
	reader  *kafka.Reader
	results repository.ResultStore
	log     *logger.Logger
}

// New creates a worker over the given reader.
func New(reader *kafka.Reader, results repository.ResultStore, log *logger.Logger) *Worker {
	return &Worker{reader: reader, results: results, log: log}
}

// Run consumes until cancelled.
func (w *Worker) Run(ctx context.Context) error {
	defer w.reader.Close()

	for {
		m, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error("outcome worker: fetch message", zap.Error(err))
			continue
		}

		if err := w.processMessage(ctx, m); err != nil {
			w.log.Error("outcome worker: process", zap.Error(err))
			continue
		}

		if err := w.reader.CommitMessages(ctx, m); err != nil {
			w.log.Error("outcome worker: commit", zap.Error(err))
		}
	}
}

func (w *Worker) processMessage(ctx context.Context, m kafka.Message) error {
	var msg queue.OutcomeMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		// Poison messages are dropped after commit; there is nothing to retry.
		w.log.Warn("outcome worker: malformed message dropped",
			zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}

	if !msg.Succeeded {
		// Failed attempts are visible through task status; only completed
		// calls produce results.
		return nil
	}

	result := &domain.CampaignResult{
		ID:         uuid.New(),
		CampaignID: msg.CampaignID,
		CallID:     msg.CallID,
		ResultType: msg.ResultType,
		ResultData: msg.ResponseData,
		RecordedAt: msg.OccurredAt,
	}
	if result.RecordedAt.IsZero() {
		result.RecordedAt = time.Now().UTC()
	}

	if err := w.results.Append(ctx, result); err != nil {
		return fmt.Errorf("append result for call %s: %w", msg.CallID, err)
	}
	return nil
}
