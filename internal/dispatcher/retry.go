package dispatcher

import (
	"context"

	"go.uber.org/zap"

	"github.com/acme/outbound-call-scheduler/internal/domain"
	"github.com/acme/outbound-call-scheduler/internal/metrics"
	"github.com/acme/outbound-call-scheduler/internal/queue"
	"github.com/acme/outbound-call-scheduler/internal/repository"
)

// recordFailure routes a failed dispatch attempt through the retry policy.
// The attempt counter was already incremented when the task was claimed, so
// exhaustion compares attempts directly against the cap. Short of the cap
// the task passes through the transient retry state and returns to
// scheduled at now + retry_interval, re-enqueued for a later tick.
func (d *Dispatcher) recordFailure(ctx context.Context, task *domain.CallTask, campaign *domain.Campaign, cause error) {
	now := d.now()

	if task.Attempts >= task.MaxAttempts {
		note := cause.Error()
		err := d.tasks.TransitionStatus(ctx, task.ID,
			domain.TaskStatusInProgress, domain.TaskStatusFailed,
			repository.TaskMutation{CompletedAt: &now, Notes: &note})
		if err != nil {
			d.log.Error("marking task failed",
				zap.String("task_id", task.ID.String()), zap.Error(err))
			return
		}

		metrics.DispatchAttemptsTotal.WithLabelValues("failed").Inc()
		d.publishOutcome(ctx, queue.OutcomeMessage{
			CallID:      task.ID,
			CampaignID:  campaign.ID,
			PhoneNumber: task.PhoneNumber,
			Attempt:     task.Attempts,
			Succeeded:   false,
			Error:       cause.Error(),
			OccurredAt:  now,
		})

		d.log.Warn("call permanently failed",
			zap.String("task_id", task.ID.String()),
			zap.Int("attempts", task.Attempts),
			zap.Error(cause))
		return
	}

	nextAt := now.Add(campaign.RetryInterval)

	// The retry status is transient bookkeeping, not a queued state: the
	// task immediately returns to scheduled with its new dispatch time.
	if err := d.tasks.TransitionStatus(ctx, task.ID,
		domain.TaskStatusInProgress, domain.TaskStatusRetry,
		repository.TaskMutation{}); err != nil {
		d.log.Error("marking task for retry",
			zap.String("task_id", task.ID.String()), zap.Error(err))
		return
	}
	if err := d.tasks.TransitionStatus(ctx, task.ID,
		domain.TaskStatusRetry, domain.TaskStatusScheduled,
		repository.TaskMutation{ScheduledAt: &nextAt}); err != nil {
		d.log.Error("rescheduling retry",
			zap.String("task_id", task.ID.String()), zap.Error(err))
		return
	}
	if err := d.dq.Enqueue(ctx, task.ID, nextAt); err != nil {
		d.log.Error("re-enqueueing retry",
			zap.String("task_id", task.ID.String()), zap.Error(err))
		return
	}

	metrics.DispatchAttemptsTotal.WithLabelValues("retry").Inc()
	d.log.Info("call attempt failed, retry scheduled",
		zap.String("task_id", task.ID.String()),
		zap.Int("attempt", task.Attempts),
		zap.Int("max_attempts", task.MaxAttempts),
		zap.Time("next_attempt", nextAt),
		zap.Error(cause))
}
