package mock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/acme/outbound-call-scheduler/internal/config"
	"github.com/acme/outbound-call-scheduler/internal/domain"
	"github.com/acme/outbound-call-scheduler/internal/telephony"
	apperrors "github.com/acme/outbound-call-scheduler/pkg/errors"
)

// Provider simulates outbound call behaviour for local runs.
type Provider struct {
	successRate float64
}

// NewProvider constructs a mock provider.
func NewProvider(cfg config.GatewayConfig) *Provider {
	rate := cfg.SuccessRate
	if rate <= 0 || rate > 1 {
		rate = 0.8
	}
	return &Provider{successRate: rate}
}

// PlaceCall simulates a call attempt of 1-5 seconds. Safe for concurrent
// use; the dispatcher fans calls out across goroutines.
func (p *Provider) PlaceCall(ctx context.Context, phoneNumber, script string) (*telephony.CallResult, error) {
	duration := time.Duration(1+rand.Intn(5)) * time.Second

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", apperrors.ErrGateway, ctx.Err())
	case <-time.After(duration):
	}

	if rand.Float64() > p.successRate {
		return nil, fmt.Errorf("%w: simulated carrier failure for %s", apperrors.ErrGateway, phoneNumber)
	}

	resultType := domain.ResultTypeConfirmed
	if rand.Float64() < 0.25 {
		resultType = domain.ResultTypeDeclined
	}

	return &telephony.CallResult{
		Duration:   duration,
		ResultType: resultType,
		ResponseData: map[string]any{
			"provider":      "mock",
			"script_length": len(script),
		},
	}, nil
}
