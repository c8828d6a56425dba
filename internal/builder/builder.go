// Package builder contains the automatic campaign producers: batch jobs
// that turn clinic appointments into scheduling requests. They orchestrate
// the registry and call scheduler; none of the dispatch logic lives here.
package builder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/acme/outbound-call-scheduler/internal/config"
	"github.com/acme/outbound-call-scheduler/internal/domain"
	"github.com/acme/outbound-call-scheduler/internal/repository"
	callsvc "github.com/acme/outbound-call-scheduler/internal/service/call"
	campaignsvc "github.com/acme/outbound-call-scheduler/internal/service/campaign"
	apperrors "github.com/acme/outbound-call-scheduler/pkg/errors"
	"github.com/acme/outbound-call-scheduler/pkg/logger"
)

// Runner drives the builders on their cron schedules.
type Runner struct {
	cfg          config.BuildersConfig
	appointments repository.AppointmentRepository
	campaigns    *campaignsvc.Service
	calls        *callsvc.Service
	log          *logger.Logger
	cron         *cron.Cron
}

// NewRunner constructs the builder runner.
func NewRunner(
	cfg config.BuildersConfig,
	appointments repository.AppointmentRepository,
	campaigns *campaignsvc.Service,
	calls *callsvc.Service,
	log *logger.Logger,
) *Runner {
	return &Runner{
		cfg:          cfg,
		appointments: appointments,
		campaigns:    campaigns,
		calls:        calls,
		log:          log,
		cron:         cron.New(),
	}
}

// Run registers the cron entries and blocks until cancelled.
func (r *Runner) Run(ctx context.Context) error {
	reminderSpec := r.cfg.ReminderCron
	if reminderSpec == "" {
		reminderSpec = "0 7 * * *"
	}
	followupSpec := r.cfg.FollowupCron
	if followupSpec == "" {
		followupSpec = "0 10 * * *"
	}

	if _, err := r.cron.AddFunc(reminderSpec, func() {
		if err := r.BuildAppointmentReminders(ctx); err != nil {
			r.log.Error("appointment reminder batch failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("builder: register reminder cron: %w", err)
	}

	if _, err := r.cron.AddFunc(followupSpec, func() {
		if err := r.BuildFollowups(ctx); err != nil {
			r.log.Error("followup batch failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("builder: register followup cron: %w", err)
	}

	r.cron.Start()
	<-ctx.Done()

	stopped := r.cron.Stop()
	<-stopped.Done()
	return ctx.Err()
}

// BuildAppointmentReminders schedules reminder calls for appointments
// starting within the look-ahead window.
func (r *Runner) BuildAppointmentReminders(ctx context.Context) error {
	lookAhead := r.cfg.ReminderLookAhead
	if lookAhead <= 0 {
		lookAhead = 24 * time.Hour
	}

	campaign, err := r.ensureCampaign(ctx, domain.CampaignTypeAppointmentReminder,
		"Appointment reminders",
		"Hello {patient_name}, this is a reminder of your appointment with {provider} at {appointment_time}. Press 1 to confirm.")
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	appointments, err := r.appointments.Upcoming(ctx, now, now.Add(lookAhead), r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("builder: load upcoming appointments: %w", err)
	}

	scheduled := 0
	for _, appt := range appointments {
		// Call roughly two hours ahead of the appointment, never in the past.
		callAt := appt.StartsAt.Add(-2 * time.Hour)
		if callAt.Before(now) {
			callAt = now
		}

		_, err := r.calls.Schedule(ctx, callsvc.ScheduleInput{
			CampaignID:  campaign.ID,
			PatientID:   appt.PatientID,
			PhoneNumber: appt.PhoneNumber,
			ScheduledAt: callAt,
			Variables: map[string]string{
				"patient_name":     appt.PatientName,
				"provider":         appt.Provider,
				"appointment_time": appt.StartsAt.Format("Monday 3:04 PM"),
			},
		})
		if err != nil {
			r.logSkip("reminder", appt, err)
			continue
		}
		scheduled++
	}

	r.log.Info("appointment reminder batch finished",
		zap.Int("appointments", len(appointments)), zap.Int("scheduled", scheduled))
	return nil
}

// BuildFollowups schedules follow-up calls for consultations completed
// within the look-back window.
func (r *Runner) BuildFollowups(ctx context.Context) error {
	lookBack := r.cfg.FollowupLookBack
	if lookBack <= 0 {
		lookBack = 24 * time.Hour
	}

	campaign, err := r.ensureCampaign(ctx, domain.CampaignTypePostConsultation,
		"Post-consultation follow-ups",
		"Hello {patient_name}, thank you for visiting {provider}. How are you feeling after your consultation?")
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	appointments, err := r.appointments.RecentlyCompleted(ctx, now.Add(-lookBack), r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("builder: load completed appointments: %w", err)
	}

	scheduled := 0
	for _, appt := range appointments {
		_, err := r.calls.Schedule(ctx, callsvc.ScheduleInput{
			CampaignID:  campaign.ID,
			PatientID:   appt.PatientID,
			PhoneNumber: appt.PhoneNumber,
			ScheduledAt: now,
			Variables: map[string]string{
				"patient_name": appt.PatientName,
				"provider":     appt.Provider,
			},
		})
		if err != nil {
			r.logSkip("followup", appt, err)
			continue
		}
		scheduled++
	}

	r.log.Info("followup batch finished",
		zap.Int("appointments", len(appointments)), zap.Int("scheduled", scheduled))
	return nil
}

// ensureCampaign reuses the newest active campaign of the type, creating
// one only when none exists.
func (r *Runner) ensureCampaign(ctx context.Context, campaignType domain.CampaignType, name, template string) (*domain.Campaign, error) {
	campaign, err := r.campaigns.GetByType(ctx, campaignType)
	if err == nil {
		return campaign, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("builder: lookup %s campaign: %w", campaignType, err)
	}

	campaign, err = r.campaigns.Create(ctx, campaignsvc.CreateInput{
		Name:           name,
		Type:           campaignType,
		ScriptTemplate: template,
	})
	if err != nil {
		return nil, fmt.Errorf("builder: create %s campaign: %w", campaignType, err)
	}
	return campaign, nil
}

// logSkip records a per-appointment scheduling failure. Cooldown and
// inactive-campaign rejections are routine; anything else is suspicious.
func (r *Runner) logSkip(kind string, appt repository.Appointment, err error) {
	level := r.log.Warn
	if errors.Is(err, apperrors.ErrCooldownViolation) || errors.Is(err, apperrors.ErrCampaignInactive) {
		level = r.log.Debug
	}
	level("builder: appointment skipped",
		zap.String("builder", kind),
		zap.String("patient_id", appt.PatientID),
		zap.Error(err))
}
