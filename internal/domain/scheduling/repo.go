package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AvailabilityRepository persists availability windows. GetByID and Delete
// return ErrNotFound for unknown ids. Create fails with ErrConflictingWindow
// when the store itself detects an overlap for the practitioner.
type AvailabilityRepository interface {
	Create(ctx context.Context, a *Availability) error
	GetByID(ctx context.Context, id uuid.UUID) (*Availability, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPractitioner(ctx context.Context, practitionerID uuid.UUID) ([]*Availability, error)
	// ListByPractitionerWithin returns the windows contained in [from, to].
	ListByPractitionerWithin(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]*Availability, error)
}

// AppointmentRepository persists appointments. Lists are ordered by start
// time ascending. Create fails with ErrDuplicateBooking when the store
// itself detects an overlap for the patient.
type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPractitioner(ctx context.Context, practitionerID uuid.UUID) ([]*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error)
	ListByPractitionerWithin(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]*Appointment, error)
	CountOverlapping(ctx context.Context, practitionerID uuid.UUID, iv Interval) (int, error)
	DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TxRunner runs fn as one unit of work. Repository calls made with the ctx
// passed to fn join that unit.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
