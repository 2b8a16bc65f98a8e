package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Availability is an open booking window of one practitioner. Windows of the
// same practitioner never overlap and are never mutated after creation.
type Availability struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PractitionerID uuid.UUID `db:"practitioner_id" json:"practitioner_id"`
	StartTime      time.Time `db:"start_time" json:"start_time"`
	EndTime        time.Time `db:"end_time" json:"end_time"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

func (a *Availability) Interval() Interval {
	return Interval{Start: a.StartTime, End: a.EndTime}
}

// Appointment is a confirmed booking between a practitioner and a patient.
// Appointments of the same patient never overlap, whichever practitioner
// they are with.
type Appointment struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PractitionerID uuid.UUID `db:"practitioner_id" json:"practitioner_id"`
	PatientID      uuid.UUID `db:"patient_id" json:"patient_id"`
	StartTime      time.Time `db:"start_time" json:"start_time"`
	EndTime        time.Time `db:"end_time" json:"end_time"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

func (a *Appointment) Interval() Interval {
	return Interval{Start: a.StartTime, End: a.EndTime}
}
