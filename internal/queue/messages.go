package queue

import (
	"time"

	"github.com/google/uuid"
)

// OutcomeMessage is emitted once per dispatched call attempt that reached a
// terminal verdict for that attempt. The outcome worker turns completed
// outcomes into append-only campaign results.
type OutcomeMessage struct {
	CallID       uuid.UUID      `json:"call_id"`
	CampaignID   uuid.UUID      `json:"campaign_id"`
	PhoneNumber  string         `json:"phone_number"`
	Attempt      int            `json:"attempt"`
	Succeeded    bool           `json:"succeeded"`
	ResultType   string         `json:"result_type,omitempty"`
	DurationMs   int64          `json:"duration_ms,omitempty"`
	ResponseData map[string]any `json:"response_data,omitempty"`
	Error        string         `json:"error,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}
