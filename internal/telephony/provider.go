package telephony

import (
	"context"
	"time"
)

// CallResult captures the outcome of a successfully placed call.
type CallResult struct {
	Duration     time.Duration
	ResultType   string
	ResponseData map[string]any
}

// Provider abstracts the telephony integration. The scheduler only needs
// this contract plus a bounded response time; it does not know how the call
// is carried.
type Provider interface {
	PlaceCall(ctx context.Context, phoneNumber, script string) (*CallResult, error)
}
