package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignType enumerates the kinds of outbound campaigns the system runs.
type CampaignType string

const (
	CampaignTypeAppointmentReminder   CampaignType = "appointment_reminder"
	CampaignTypePostConsultation      CampaignType = "post_consultation"
	CampaignTypeSatisfactionSurvey    CampaignType = "satisfaction_survey"
	CampaignTypeEmergencyNotification CampaignType = "emergency_notification"
	CampaignTypeMedicationReminder    CampaignType = "medication_reminder"
)

// Valid reports whether the type is one of the known campaign types.
func (t CampaignType) Valid() bool {
	switch t {
	case CampaignTypeAppointmentReminder,
		CampaignTypePostConsultation,
		CampaignTypeSatisfactionSurvey,
		CampaignTypeEmergencyNotification,
		CampaignTypeMedicationReminder:
		return true
	}
	return false
}

// CampaignStatus enumerates lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
)

// Valid reports whether the status is a known campaign status.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusActive, CampaignStatusPaused, CampaignStatusCompleted:
		return true
	}
	return false
}

// Bounds and defaults for campaign dial policy.
const (
	MinAttempts          = 1
	MaxAttemptsCeiling   = 10
	DefaultMaxAttempts   = 3
	MinRetryInterval     = 5 * time.Minute
	DefaultRetryInterval = time.Hour
	MinPriority          = 1
	MaxPriority          = 10
	DefaultPriority      = 5
)

// Campaign models a reusable outbound-call template with its own retry and
// priority policy. Calls may be scheduled or dispatched only while the
// campaign is active.
type Campaign struct {
	ID             uuid.UUID
	Name           string
	Type           CampaignType
	Status         CampaignStatus
	ScriptTemplate string
	MaxAttempts    int
	RetryInterval  time.Duration
	Priority       int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Dispatchable reports whether tasks of this campaign may be placed.
func (c *Campaign) Dispatchable() bool {
	return c.Status == CampaignStatusActive
}

// CampaignResult is one append-only outcome record per dispatched call.
type CampaignResult struct {
	ID         uuid.UUID
	CampaignID uuid.UUID
	CallID     uuid.UUID
	ResultType string
	ResultData map[string]any
	RecordedAt time.Time
}

// Result types that count as a conversion.
const (
	ResultTypeConfirmed       = "confirmed"
	ResultTypeDeclined        = "declined"
	ResultTypeCompletedSurvey = "completed_survey"
	ResultTypeNoAnswer        = "no_answer"
)

// Converted reports whether the result counts toward the conversion rate.
func (r *CampaignResult) Converted() bool {
	switch r.ResultType {
	case ResultTypeConfirmed, ResultTypeCompletedSurvey:
		return true
	}
	return false
}
