package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/acme/outbound-call-scheduler/internal/repository"
)

// AppointmentRepository reads clinic appointments for the campaign builders.
type AppointmentRepository struct {
	db *sqlx.DB
}

// NewAppointmentRepository constructs a new repository.
func NewAppointmentRepository(db *sqlx.DB) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

const appointmentColumns = `id, patient_id, patient_name, phone_number, provider, starts_at, completed_at`

// Upcoming lists appointments starting inside [from, until).
func (r *AppointmentRepository) Upcoming(ctx context.Context, from, until time.Time, limit int) ([]repository.Appointment, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.QueryxContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments
		 WHERE starts_at >= $1 AND starts_at < $2 AND completed_at IS NULL
		 ORDER BY starts_at ASC LIMIT $3`, from, until, limit)
	if err != nil {
		return nil, fmt.Errorf("appointment repo: upcoming: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// RecentlyCompleted lists appointments completed at or after `since`.
func (r *AppointmentRepository) RecentlyCompleted(ctx context.Context, since time.Time, limit int) ([]repository.Appointment, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.QueryxContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments
		 WHERE completed_at IS NOT NULL AND completed_at >= $1
		 ORDER BY completed_at ASC LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("appointment repo: recently completed: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func scanAppointments(rows *sqlx.Rows) ([]repository.Appointment, error) {
	var results []repository.Appointment
	for rows.Next() {
		var record repository.Appointment
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("appointment repo: scan: %w", err)
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointment repo: rows err: %w", err)
	}
	return results, nil
}
