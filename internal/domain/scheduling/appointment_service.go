package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// AppointmentService books and cancels appointments and purges past ones.
type AppointmentService struct {
	appointments AppointmentRepository
	directory    Directory
	tx           TxRunner
	periods      PeriodValidator
	nowFunc      func() time.Time
}

func NewAppointmentService(appointments AppointmentRepository, directory Directory, tx TxRunner, periods PeriodValidator) *AppointmentService {
	return &AppointmentService{
		appointments: appointments,
		directory:    directory,
		tx:           tx,
		periods:      periods,
		nowFunc:      time.Now,
	}
}

// SetClock replaces the clock used for "today" and the retention cutoff.
func (s *AppointmentService) SetClock(now func() time.Time) {
	s.nowFunc = now
}

// CreateAppointment books patientID with practitionerID. A patient can never
// hold two overlapping appointments, whichever practitioner they are with.
// The period is not required to fall inside an availability window.
func (s *AppointmentService) CreateAppointment(ctx context.Context, practitionerID, patientID uuid.UUID, start, end time.Time) (*Appointment, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return requireOwner(gctx, s.directory, practitionerID) })
	g.Go(func() error { return requirePatient(gctx, s.directory, patientID) })
	g.Go(func() error { return s.periods.ValidateTimePeriod(start, end) })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	iv, err := NewInterval(start, end)
	if err != nil {
		return nil, err
	}

	a := &Appointment{
		PractitionerID: practitionerID,
		PatientID:      patientID,
		StartTime:      iv.Start,
		EndTime:        iv.End,
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		existing, err := s.appointments.ListByPatient(ctx, patientID)
		if err != nil {
			return err
		}
		if Overlaps(iv, appointmentIntervals(existing)) {
			return newError(KindDuplicateBooking, "patient already has an overlapping appointment", nil)
		}
		return s.appointments.Create(ctx, a)
	})
	if err != nil {
		return nil, storageFailure("create appointment", err)
	}
	zerolog.Ctx(ctx).Info().
		Str("appointment_id", a.ID.String()).
		Str("practitioner_id", practitionerID.String()).
		Msg("appointment created")
	return a, nil
}

func (s *AppointmentService) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newError(KindNotFound, "appointment not found", nil)
		}
		return nil, storageFailure("get appointment", err)
	}
	return a, nil
}

// DeleteAppointment fails with ErrNotFound for unknown ids, including ids
// that were already deleted.
func (s *AppointmentService) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	if err := s.appointments.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return newError(KindNotFound, "appointment not found", nil)
		}
		return storageFailure("delete appointment", err)
	}
	zerolog.Ctx(ctx).Info().Str("appointment_id", id.String()).Msg("appointment deleted")
	return nil
}

func (s *AppointmentService) ListAppointmentsByOwner(ctx context.Context, practitionerID uuid.UUID) ([]*Appointment, error) {
	if err := requireOwner(ctx, s.directory, practitionerID); err != nil {
		return nil, err
	}
	items, err := s.appointments.ListByPractitioner(ctx, practitionerID)
	if err != nil {
		return nil, storageFailure("list appointments", err)
	}
	return items, nil
}

func (s *AppointmentService) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error) {
	if err := requirePatient(ctx, s.directory, patientID); err != nil {
		return nil, err
	}
	items, err := s.appointments.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, storageFailure("list appointments", err)
	}
	return items, nil
}

// ListTodayAppointments returns the practitioner's appointments contained in
// the current calendar day.
func (s *AppointmentService) ListTodayAppointments(ctx context.Context, practitionerID uuid.UUID) ([]*Appointment, error) {
	if err := requireOwner(ctx, s.directory, practitionerID); err != nil {
		return nil, err
	}
	from, to := DayBounds(s.nowFunc())
	items, err := s.appointments.ListByPractitionerWithin(ctx, practitionerID, from, to)
	if err != nil {
		return nil, storageFailure("list appointments", err)
	}
	return items, nil
}

// CountOverlappingAppointments counts the practitioner's appointments that
// overlap [start, end). The availability service uses it to gate deletes.
func (s *AppointmentService) CountOverlappingAppointments(ctx context.Context, practitionerID uuid.UUID, start, end time.Time) (int, error) {
	iv, err := NewInterval(start, end)
	if err != nil {
		return 0, err
	}
	n, err := s.appointments.CountOverlapping(ctx, practitionerID, iv)
	if err != nil {
		return 0, storageFailure("count appointments", err)
	}
	return n, nil
}

// SweepExpiredAppointments deletes every appointment that ended before the
// start of the current day and returns how many were removed.
func (s *AppointmentService) SweepExpiredAppointments(ctx context.Context) (int64, error) {
	cutoff := StartOfDay(s.nowFunc())
	n, err := s.appointments.DeleteEndedBefore(ctx, cutoff)
	if err != nil {
		return 0, storageFailure("sweep appointments", err)
	}
	zerolog.Ctx(ctx).Info().Time("cutoff", cutoff).Int64("deleted", n).Msg("expired appointments swept")
	return n, nil
}

func appointmentIntervals(items []*Appointment) []Interval {
	out := make([]Interval, len(items))
	for i, a := range items {
		out[i] = a.Interval()
	}
	return out
}
