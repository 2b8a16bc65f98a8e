package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/booking/internal/domain/scheduling"
)

// -- Availability --

type availabilityRepo struct{ s *Store }

func (r availabilityRepo) Create(_ context.Context, a *scheduling.Availability) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.practitioners[a.PractitionerID]; !ok {
		return scheduling.ErrOwnerNotFound
	}
	if !a.Interval().Valid() {
		return scheduling.ErrInvalidInterval
	}
	for _, w := range r.s.windows {
		if w.PractitionerID == a.PractitionerID && w.Interval().Overlaps(a.Interval()) {
			return scheduling.ErrConflictingWindow
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = r.s.now()
	cp := *a
	r.s.windows[a.ID] = &cp
	return nil
}

func (r availabilityRepo) GetByID(_ context.Context, id uuid.UUID) (*scheduling.Availability, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	w, ok := r.s.windows[id]
	if !ok {
		return nil, scheduling.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (r availabilityRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.windows[id]; !ok {
		return scheduling.ErrNotFound
	}
	delete(r.s.windows, id)
	return nil
}

func (r availabilityRepo) ListByPractitioner(_ context.Context, practitionerID uuid.UUID) ([]*scheduling.Availability, error) {
	return r.list(func(w *scheduling.Availability) bool {
		return w.PractitionerID == practitionerID
	}), nil
}

func (r availabilityRepo) ListByPractitionerWithin(_ context.Context, practitionerID uuid.UUID, from, to time.Time) ([]*scheduling.Availability, error) {
	return r.list(func(w *scheduling.Availability) bool {
		return w.PractitionerID == practitionerID && w.Interval().Within(from, to)
	}), nil
}

func (r availabilityRepo) list(keep func(*scheduling.Availability) bool) []*scheduling.Availability {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*scheduling.Availability
	for _, w := range r.s.windows {
		if keep(w) {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// -- Appointments --

type appointmentRepo struct{ s *Store }

func (r appointmentRepo) Create(_ context.Context, a *scheduling.Appointment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.practitioners[a.PractitionerID]; !ok {
		return scheduling.ErrOwnerNotFound
	}
	if _, ok := r.s.patients[a.PatientID]; !ok {
		return scheduling.ErrPatientNotFound
	}
	if !a.Interval().Valid() {
		return scheduling.ErrInvalidInterval
	}
	for _, b := range r.s.appointments {
		if b.PatientID == a.PatientID && b.Interval().Overlaps(a.Interval()) {
			return scheduling.ErrDuplicateBooking
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = r.s.now()
	cp := *a
	r.s.appointments[a.ID] = &cp
	return nil
}

func (r appointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.appointments[id]
	if !ok {
		return nil, scheduling.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r appointmentRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.appointments[id]; !ok {
		return scheduling.ErrNotFound
	}
	delete(r.s.appointments, id)
	return nil
}

func (r appointmentRepo) ListByPractitioner(_ context.Context, practitionerID uuid.UUID) ([]*scheduling.Appointment, error) {
	return r.list(func(a *scheduling.Appointment) bool {
		return a.PractitionerID == practitionerID
	}), nil
}

func (r appointmentRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*scheduling.Appointment, error) {
	return r.list(func(a *scheduling.Appointment) bool {
		return a.PatientID == patientID
	}), nil
}

func (r appointmentRepo) ListByPractitionerWithin(_ context.Context, practitionerID uuid.UUID, from, to time.Time) ([]*scheduling.Appointment, error) {
	return r.list(func(a *scheduling.Appointment) bool {
		return a.PractitionerID == practitionerID && a.Interval().Within(from, to)
	}), nil
}

func (r appointmentRepo) CountOverlapping(_ context.Context, practitionerID uuid.UUID, iv scheduling.Interval) (int, error) {
	return len(r.list(func(a *scheduling.Appointment) bool {
		return a.PractitionerID == practitionerID && a.Interval().Overlaps(iv)
	})), nil
}

func (r appointmentRepo) DeleteEndedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, a := range r.s.appointments {
		if a.EndTime.Before(cutoff) {
			delete(r.s.appointments, id)
			n++
		}
	}
	return n, nil
}

func (r appointmentRepo) list(keep func(*scheduling.Appointment) bool) []*scheduling.Appointment {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*scheduling.Appointment
	for _, a := range r.s.appointments {
		if keep(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}
