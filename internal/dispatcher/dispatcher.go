// Package dispatcher runs the periodic admission-and-placement control
// loop: it pulls due tasks, claims them against the concurrency ceiling,
// checks the rate cap, places the calls, and records outcomes.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/outbound-call-scheduler/internal/domain"
	"github.com/acme/outbound-call-scheduler/internal/hours"
	"github.com/acme/outbound-call-scheduler/internal/metrics"
	"github.com/acme/outbound-call-scheduler/internal/queue"
	"github.com/acme/outbound-call-scheduler/internal/repository"
	"github.com/acme/outbound-call-scheduler/internal/telephony"
	apperrors "github.com/acme/outbound-call-scheduler/pkg/errors"
	"github.com/acme/outbound-call-scheduler/pkg/logger"
)

// RateLimiter is the slice of the admission layer the dispatcher needs.
type RateLimiter interface {
	Allow(ctx context.Context, now time.Time) error
}

// CooldownMarker records dispatch times per number.
type CooldownMarker interface {
	Mark(ctx context.Context, phone string, now time.Time) error
}

// OutcomePublisher emits call outcome events.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, msg queue.OutcomeMessage) error
}

// Config bounds one dispatcher instance.
type Config struct {
	TickInterval       time.Duration
	MaxConcurrentCalls int
	QueueBatchSize     int
	GatewayTimeout     time.Duration
}

// Dispatcher is the only mutator of task status. Its tick is serialized by
// a mutex so two ticks can never run concurrently in one instance; across
// instances the conditional status updates arbitrate.
type Dispatcher struct {
	cfg       Config
	campaigns repository.CampaignRepository
	tasks     repository.TaskRepository
	dq        repository.DispatchQueue
	policy    *hours.Policy
	limiter   RateLimiter
	cooldown  CooldownMarker
	gateway   telephony.Provider
	outcomes  OutcomePublisher
	log       *logger.Logger

	tickMu sync.Mutex
	now    func() time.Time
}

// New constructs a dispatcher.
func New(
	cfg Config,
	campaigns repository.CampaignRepository,
	tasks repository.TaskRepository,
	dq repository.DispatchQueue,
	policy *hours.Policy,
	limiter RateLimiter,
	cooldown CooldownMarker,
	gateway telephony.Provider,
	outcomes OutcomePublisher,
	log *logger.Logger,
) *Dispatcher {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 10 * time.Second
	}
	if cfg.QueueBatchSize <= 0 {
		cfg.QueueBatchSize = 200
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 30 * time.Second
	}
	return &Dispatcher{
		cfg:       cfg,
		campaigns: campaigns,
		tasks:     tasks,
		dq:        dq,
		policy:    policy,
		limiter:   limiter,
		cooldown:  cooldown,
		gateway:   gateway,
		outcomes:  outcomes,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run executes the dispatch loop until cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if err := d.Tick(ctx); err != nil && ctx.Err() == nil {
			d.log.Error("dispatcher tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one admission-and-placement pass. Safe to invoke on demand; a
// tick that overlaps another waits its turn.
func (d *Dispatcher) Tick(ctx context.Context) error {
	d.tickMu.Lock()
	defer d.tickMu.Unlock()

	started := d.now()
	defer func() { metrics.TickDuration.Observe(time.Since(started).Seconds()) }()

	tracer := otel.Tracer("outbound.dispatcher")
	sctx, span := tracer.Start(ctx, "dispatcher.tick")
	defer span.End()

	now := d.now()
	if !d.policy.Admissible(now) {
		d.log.Debug("tick skipped: outside operating hours", zap.Time("now", now))
		return nil
	}

	inProgress, err := d.tasks.CountByStatus(sctx, domain.TaskStatusInProgress)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("dispatcher: count in progress: %w", err)
	}
	metrics.InProgressCalls.Set(float64(inProgress))

	capacity := d.cfg.MaxConcurrentCalls - inProgress
	if capacity <= 0 {
		d.log.Debug("tick skipped: no capacity", zap.Int("in_progress", inProgress))
		return nil
	}

	batch, err := d.selectBatch(sctx, now, capacity)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	span.SetAttributes(
		attribute.Int("batch.size", len(batch)),
		attribute.Int("capacity", capacity),
	)
	metrics.TasksSelected.Add(float64(len(batch)))

	// Selection is ordered; execution fans out up to capacity and completes
	// in any order.
	var wg sync.WaitGroup
	for _, item := range batch {
		wg.Add(1)
		go func(item candidate) {
			defer wg.Done()
			d.dispatchOne(sctx, item.task, item.campaign)
		}(item)
	}
	wg.Wait()

	return nil
}

type candidate struct {
	task     *domain.CallTask
	campaign *domain.Campaign
}

// selectBatch loads due queue entries, keeps dispatchable ones, orders them
// by (campaign priority desc, scheduled time asc), and takes up to capacity.
// Stale queue members (terminal or rescheduled tasks) are pruned as a side
// effect.
func (d *Dispatcher) selectBatch(ctx context.Context, now time.Time, capacity int) ([]candidate, error) {
	due, err := d.dq.Due(ctx, now, d.cfg.QueueBatchSize)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: read queue: %w", err)
	}
	if len(due) == 0 {
		return nil, nil
	}

	tasks, err := d.tasks.GetBatch(ctx, due)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: load due tasks: %w", err)
	}

	loaded := make(map[uuid.UUID]bool, len(tasks))
	campaignCache := make(map[uuid.UUID]*domain.Campaign)
	var stale []uuid.UUID
	var eligible []candidate

	for _, task := range tasks {
		loaded[task.ID] = true

		if task.Status != domain.TaskStatusScheduled {
			stale = append(stale, task.ID)
			continue
		}
		if task.ScheduledAt.After(now) {
			continue
		}

		campaign, ok := campaignCache[task.CampaignID]
		if !ok {
			campaign, err = d.campaigns.Get(ctx, task.CampaignID)
			if err != nil {
				d.log.Warn("skipping task with unreadable campaign",
					zap.String("task_id", task.ID.String()), zap.Error(err))
				continue
			}
			campaignCache[task.CampaignID] = campaign
		}
		if !campaign.Dispatchable() {
			continue
		}

		eligible = append(eligible, candidate{task: task, campaign: campaign})
	}

	// Queue members whose task row is gone.
	for _, id := range due {
		if !loaded[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := d.dq.Remove(ctx, stale...); err != nil {
			d.log.Warn("pruning stale queue members failed", zap.Error(err))
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].campaign.Priority != eligible[j].campaign.Priority {
			return eligible[i].campaign.Priority > eligible[j].campaign.Priority
		}
		return eligible[i].task.ScheduledAt.Before(eligible[j].task.ScheduledAt)
	})

	if len(eligible) > capacity {
		eligible = eligible[:capacity]
	}
	return eligible, nil
}

// dispatchOne drives a single task through claim, admission, gateway call,
// and outcome recording. Persistence errors skip the task; the rest of the
// batch is unaffected.
func (d *Dispatcher) dispatchOne(ctx context.Context, task *domain.CallTask, campaign *domain.Campaign) {
	now := d.now()

	// Claim before calling the gateway: a crash mid-call leaves the task
	// in_progress instead of re-dispatchable.
	attemptedAt := now
	err := d.tasks.TransitionStatus(ctx, task.ID,
		domain.TaskStatusScheduled, domain.TaskStatusInProgress,
		repository.TaskMutation{AttemptedAt: &attemptedAt, AttemptsDelta: 1})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Another instance claimed it first.
			metrics.DispatchAttemptsTotal.WithLabelValues("conflict").Inc()
			return
		}
		d.log.Error("claim failed, task skipped",
			zap.String("task_id", task.ID.String()), zap.Error(err))
		return
	}
	task.Attempts++
	task.AttemptedAt = &attemptedAt

	if err := d.dq.Remove(ctx, task.ID); err != nil {
		d.log.Warn("dequeue after claim failed", zap.String("task_id", task.ID.String()), zap.Error(err))
	}

	if err := d.limiter.Allow(ctx, now); err != nil {
		// Cap reached: the attempt is consumed without touching the gateway.
		metrics.DispatchAttemptsTotal.WithLabelValues("rate_limited").Inc()
		d.recordFailure(ctx, task, campaign, err)
		return
	}

	if err := d.cooldown.Mark(ctx, task.PhoneNumber, now); err != nil {
		d.log.Warn("cooldown mark failed", zap.String("phone", task.PhoneNumber), zap.Error(err))
	}

	script := domain.RenderScript(campaign.ScriptTemplate, task.Variables)

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.GatewayTimeout)
	result, callErr := d.gateway.PlaceCall(callCtx, task.PhoneNumber, script)
	cancel()

	if callErr != nil {
		if !errors.Is(callErr, apperrors.ErrGateway) {
			callErr = fmt.Errorf("%w: %v", apperrors.ErrGateway, callErr)
		}
		metrics.DispatchAttemptsTotal.WithLabelValues("gateway_error").Inc()
		d.recordFailure(ctx, task, campaign, callErr)
		return
	}

	d.recordSuccess(ctx, task, campaign, result)
}

func (d *Dispatcher) recordSuccess(ctx context.Context, task *domain.CallTask, campaign *domain.Campaign, result *telephony.CallResult) {
	now := d.now()
	err := d.tasks.TransitionStatus(ctx, task.ID,
		domain.TaskStatusInProgress, domain.TaskStatusCompleted,
		repository.TaskMutation{
			CompletedAt:  &now,
			CallDuration: &result.Duration,
			ResponseData: result.ResponseData,
		})
	if err != nil {
		d.log.Error("completing task failed",
			zap.String("task_id", task.ID.String()), zap.Error(err))
		return
	}

	metrics.DispatchAttemptsTotal.WithLabelValues("completed").Inc()
	d.publishOutcome(ctx, queue.OutcomeMessage{
		CallID:       task.ID,
		CampaignID:   campaign.ID,
		PhoneNumber:  task.PhoneNumber,
		Attempt:      task.Attempts,
		Succeeded:    true,
		ResultType:   result.ResultType,
		DurationMs:   result.Duration.Milliseconds(),
		ResponseData: result.ResponseData,
		OccurredAt:   now,
	})

	d.log.Info("call completed",
		zap.String("task_id", task.ID.String()),
		zap.String("campaign_id", campaign.ID.String()),
		zap.Duration("duration", result.Duration),
		zap.Int("attempt", task.Attempts))
}

func (d *Dispatcher) publishOutcome(ctx context.Context, msg queue.OutcomeMessage) {
	if d.outcomes == nil {
		return
	}
	if err := d.outcomes.PublishOutcome(ctx, msg); err != nil {
		d.log.Error("publishing outcome failed",
			zap.String("call_id", msg.CallID.String()), zap.Error(err))
	}
}
