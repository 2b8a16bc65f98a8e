package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/booking/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// Constraint names from migrations/002_scheduling.sql.
const (
	constraintAvailabilityOverlap = "availability_no_overlap"
	constraintAppointmentOverlap  = "appointment_patient_no_overlap"
)

// ExclusionConstraints lists the EXCLUDE constraints translate relies on.
func ExclusionConstraints() []string {
	return []string{constraintAvailabilityOverlap, constraintAppointmentOverlap}
}

// translate maps constraint violations raised by PostgreSQL to domain errors.
// Serialization failures are returned unchanged so the transaction manager
// can replay the unit of work.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if constraint, ok := db.IsExclusionViolation(err); ok {
		switch constraint {
		case constraintAvailabilityOverlap:
			return newError(KindConflictingWindow, "window overlaps an existing availability", err)
		case constraintAppointmentOverlap:
			return newError(KindDuplicateBooking, "patient already has an overlapping appointment", err)
		}
	}
	if constraint, ok := db.IsForeignKeyViolation(err); ok {
		switch {
		case strings.Contains(constraint, "practitioner"):
			return newError(KindOwnerNotFound, "practitioner not found", err)
		case strings.Contains(constraint, "patient"):
			return newError(KindPatientNotFound, "patient not found", err)
		}
	}
	if db.IsCheckViolation(err) {
		return newError(KindInvalidInterval, "start_time must be before end_time", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// =========== Availability Repository ===========

type availabilityRepoPG struct{ pool *pgxpool.Pool }

func NewAvailabilityRepoPG(pool *pgxpool.Pool) AvailabilityRepository {
	return &availabilityRepoPG{pool: pool}
}

const availCols = `id, practitioner_id, start_time, end_time, created_at`

func scanAvailability(row pgx.Row) (*Availability, error) {
	var a Availability
	err := row.Scan(&a.ID, &a.PractitionerID, &a.StartTime, &a.EndTime, &a.CreatedAt)
	return &a, err
}

func collectAvailability(rows pgx.Rows) ([]*Availability, error) {
	defer rows.Close()
	var items []*Availability
	for rows.Next() {
		a, err := scanAvailability(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *availabilityRepoPG) Create(ctx context.Context, a *Availability) error {
	a.ID = uuid.New()
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO availability (id, practitioner_id, start_time, end_time)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		a.ID, a.PractitionerID, a.StartTime, a.EndTime).Scan(&a.CreatedAt)
	return translate("insert availability", err)
}

func (r *availabilityRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Availability, error) {
	a, err := scanAvailability(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+availCols+` FROM availability WHERE id = $1`, id))
	if err != nil {
		return nil, translate("get availability", err)
	}
	return a, nil
}

func (r *availabilityRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM availability WHERE id = $1`, id)
	if err != nil {
		return translate("delete availability", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *availabilityRepoPG) ListByPractitioner(ctx context.Context, practitionerID uuid.UUID) ([]*Availability, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `
		SELECT `+availCols+` FROM availability
		WHERE practitioner_id = $1
		ORDER BY start_time`, practitionerID)
	if err != nil {
		return nil, translate("list availability", err)
	}
	return collectAvailability(rows)
}

func (r *availabilityRepoPG) ListByPractitionerWithin(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]*Availability, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `
		SELECT `+availCols+` FROM availability
		WHERE practitioner_id = $1 AND start_time >= $2 AND end_time <= $3
		ORDER BY start_time`, practitionerID, from, to)
	if err != nil {
		return nil, translate("list availability", err)
	}
	return collectAvailability(rows)
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const apptCols = `id, practitioner_id, patient_id, start_time, end_time, created_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PractitionerID, &a.PatientID, &a.StartTime, &a.EndTime, &a.CreatedAt)
	return &a, err
}

func collectAppointments(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointment (id, practitioner_id, patient_id, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		a.ID, a.PractitionerID, a.PatientID, a.StartTime, a.EndTime).Scan(&a.CreatedAt)
	return translate("insert appointment", err)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if err != nil {
		return nil, translate("get appointment", err)
	}
	return a, nil
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM appointment WHERE id = $1`, id)
	if err != nil {
		return translate("delete appointment", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) ListByPractitioner(ctx context.Context, practitionerID uuid.UUID) ([]*Appointment, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `
		SELECT `+apptCols+` FROM appointment
		WHERE practitioner_id = $1
		ORDER BY start_time`, practitionerID)
	if err != nil {
		return nil, translate("list appointments", err)
	}
	return collectAppointments(rows)
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `
		SELECT `+apptCols+` FROM appointment
		WHERE patient_id = $1
		ORDER BY start_time`, patientID)
	if err != nil {
		return nil, translate("list appointments", err)
	}
	return collectAppointments(rows)
}

func (r *appointmentRepoPG) ListByPractitionerWithin(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `
		SELECT `+apptCols+` FROM appointment
		WHERE practitioner_id = $1 AND start_time >= $2 AND end_time <= $3
		ORDER BY start_time`, practitionerID, from, to)
	if err != nil {
		return nil, translate("list appointments", err)
	}
	return collectAppointments(rows)
}

func (r *appointmentRepoPG) CountOverlapping(ctx context.Context, practitionerID uuid.UUID, iv Interval) (int, error) {
	var n int
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointment
		WHERE practitioner_id = $1 AND start_time < $3 AND end_time > $2`,
		practitionerID, iv.Start, iv.End).Scan(&n)
	if err != nil {
		return 0, translate("count appointments", err)
	}
	return n, nil
}

func (r *appointmentRepoPG) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM appointment WHERE end_time < $1`, cutoff)
	if err != nil {
		return 0, translate("delete expired appointments", err)
	}
	return tag.RowsAffected(), nil
}
