package domain

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// TaskStatus enumerates lifecycle stages for an individual call task.
type TaskStatus string

const (
	TaskStatusScheduled  TaskStatus = "scheduled"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusRetry      TaskStatus = "retry"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

var phonePattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

// ValidPhoneNumber reports whether the number matches the E.164-like pattern
// accepted for dialing.
func ValidPhoneNumber(phone string) bool {
	return phonePattern.MatchString(phone)
}

// CallTask is one scheduled attempt, with its retry history, to reach a
// specific phone number under a campaign. Tasks are created by the call
// scheduler, mutated only by the dispatcher, and never deleted.
type CallTask struct {
	ID           uuid.UUID
	CampaignID   uuid.UUID
	PatientID    string
	PhoneNumber  string
	ScheduledAt  time.Time
	AttemptedAt  *time.Time
	CompletedAt  *time.Time
	Status       TaskStatus
	Attempts     int
	MaxAttempts  int
	CallDuration time.Duration
	ResponseData map[string]any
	Notes        *string
	Variables    map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
