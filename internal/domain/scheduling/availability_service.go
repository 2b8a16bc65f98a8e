package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PeriodValidator decides whether an interval is a bookable period.
type PeriodValidator interface {
	ValidateTimePeriod(start, end time.Time) error
}

// BookingCounter counts a practitioner's appointments overlapping an interval.
type BookingCounter interface {
	CountOverlappingAppointments(ctx context.Context, practitionerID uuid.UUID, start, end time.Time) (int, error)
}

// AvailabilityService manages practitioners' availability windows. Deleting a
// window is refused while any of the practitioner's appointments overlaps it;
// the counter answering that question is attached with SetBookingCounter once
// the appointment service exists.
type AvailabilityService struct {
	windows   AvailabilityRepository
	directory Directory
	tx        TxRunner
	bookings  BookingCounter
}

func NewAvailabilityService(windows AvailabilityRepository, directory Directory, tx TxRunner) *AvailabilityService {
	return &AvailabilityService{windows: windows, directory: directory, tx: tx}
}

func (s *AvailabilityService) SetBookingCounter(c BookingCounter) {
	s.bookings = c
}

// ValidateTimePeriod only enforces start < end after truncation. It does not
// require the period to fall inside an existing window.
func (s *AvailabilityService) ValidateTimePeriod(start, end time.Time) error {
	_, err := NewInterval(start, end)
	return err
}

func (s *AvailabilityService) CreateAvailability(ctx context.Context, practitionerID uuid.UUID, start, end time.Time) (*Availability, error) {
	if err := requireOwner(ctx, s.directory, practitionerID); err != nil {
		return nil, err
	}
	iv, err := NewInterval(start, end)
	if err != nil {
		return nil, err
	}

	a := &Availability{PractitionerID: practitionerID, StartTime: iv.Start, EndTime: iv.End}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		existing, err := s.windows.ListByPractitioner(ctx, practitionerID)
		if err != nil {
			return err
		}
		if Overlaps(iv, availabilityIntervals(existing)) {
			return newError(KindConflictingWindow, "window overlaps an existing availability", nil)
		}
		return s.windows.Create(ctx, a)
	})
	if err != nil {
		return nil, storageFailure("create availability", err)
	}
	zerolog.Ctx(ctx).Info().
		Str("availability_id", a.ID.String()).
		Str("practitioner_id", practitionerID.String()).
		Msg("availability created")
	return a, nil
}

func (s *AvailabilityService) GetAvailability(ctx context.Context, id uuid.UUID) (*Availability, error) {
	a, err := s.windows.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newError(KindNotFound, "availability not found", nil)
		}
		return nil, storageFailure("get availability", err)
	}
	return a, nil
}

// DeleteAvailability removes a window of practitionerID. The dependency count
// and the delete run in one transaction.
func (s *AvailabilityService) DeleteAvailability(ctx context.Context, practitionerID, id uuid.UUID) error {
	if err := requireOwner(ctx, s.directory, practitionerID); err != nil {
		return err
	}
	if s.bookings == nil {
		return newError(KindStorageFailure, "booking counter not configured", nil)
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.windows.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a.PractitionerID != practitionerID {
			return ErrNotFound
		}
		n, err := s.bookings.CountOverlappingAppointments(ctx, practitionerID, a.StartTime, a.EndTime)
		if err != nil {
			return err
		}
		if n > 0 {
			return newError(KindHasDependentBookings,
				fmt.Sprintf("availability has %d dependent booking(s)", n), nil)
		}
		return s.windows.Delete(ctx, id)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return newError(KindNotFound, "availability not found", nil)
		}
		return storageFailure("delete availability", err)
	}
	zerolog.Ctx(ctx).Info().
		Str("availability_id", id.String()).
		Str("practitioner_id", practitionerID.String()).
		Msg("availability deleted")
	return nil
}

func (s *AvailabilityService) ListAvailability(ctx context.Context, practitionerID uuid.UUID) ([]*Availability, error) {
	if err := requireOwner(ctx, s.directory, practitionerID); err != nil {
		return nil, err
	}
	items, err := s.windows.ListByPractitioner(ctx, practitionerID)
	if err != nil {
		return nil, storageFailure("list availability", err)
	}
	return items, nil
}

// ListAvailabilityByDay returns the windows contained in day's calendar day,
// both bounds inclusive.
func (s *AvailabilityService) ListAvailabilityByDay(ctx context.Context, practitionerID uuid.UUID, day time.Time) ([]*Availability, error) {
	if err := requireOwner(ctx, s.directory, practitionerID); err != nil {
		return nil, err
	}
	from, to := DayBounds(day)
	items, err := s.windows.ListByPractitionerWithin(ctx, practitionerID, from, to)
	if err != nil {
		return nil, storageFailure("list availability", err)
	}
	return items, nil
}

func availabilityIntervals(items []*Availability) []Interval {
	out := make([]Interval, len(items))
	for i, a := range items {
		out[i] = a.Interval()
	}
	return out
}
