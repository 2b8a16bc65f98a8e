// Package memstore is an in-memory implementation of the identity and
// scheduling repositories for development and tests. It enforces the same
// storage-level guarantees as the PostgreSQL schema: referenced practitioners
// and patients must exist, a practitioner's windows never overlap and a
// patient's appointments never overlap.
//
// Transactional sections (InTx) are serialised by a store-wide mutex, so a
// read-then-write inside InTx is atomic with respect to every other
// transactional section.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/booking/internal/domain/identity"
	"github.com/clinic/booking/internal/domain/scheduling"
	"github.com/clinic/booking/pkg/pagination"
)

type txKey struct{}

// Store holds every record in maps keyed by id.
type Store struct {
	txMu sync.Mutex

	mu            sync.RWMutex
	practitioners map[uuid.UUID]*identity.Practitioner
	patients      map[uuid.UUID]*identity.Patient
	windows       map[uuid.UUID]*scheduling.Availability
	appointments  map[uuid.UUID]*scheduling.Appointment

	now func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		practitioners: make(map[uuid.UUID]*identity.Practitioner),
		patients:      make(map[uuid.UUID]*identity.Patient),
		windows:       make(map[uuid.UUID]*scheduling.Availability),
		appointments:  make(map[uuid.UUID]*scheduling.Appointment),
		now:           time.Now,
	}
}

// Ping always succeeds unless ctx is done.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// InTx runs fn while holding the store's transaction mutex. Nested calls
// made with the ctx passed to fn join the outer section.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(context.WithValue(ctx, txKey{}, true))
}

func (s *Store) Practitioners() identity.PractitionerRepository {
	return practitionerRepo{s}
}

func (s *Store) Patients() identity.PatientRepository {
	return patientRepo{s}
}

func (s *Store) Availability() scheduling.AvailabilityRepository {
	return availabilityRepo{s}
}

func (s *Store) Appointments() scheduling.AppointmentRepository {
	return appointmentRepo{s}
}

// -- Practitioners --

type practitionerRepo struct{ s *Store }

func (r practitionerRepo) Create(_ context.Context, p *identity.Practitioner) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = r.s.now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	r.s.practitioners[p.ID] = &cp
	return nil
}

func (r practitionerRepo) GetByID(_ context.Context, id uuid.UUID) (*identity.Practitioner, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.practitioners[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r practitionerRepo) List(_ context.Context, limit, offset int) ([]*identity.Practitioner, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	all := make([]*identity.Practitioner, 0, len(r.s.practitioners))
	for _, p := range r.s.practitioners {
		cp := *p
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		return byName(all[i].LastName, all[i].FirstName, all[i].ID, all[j].LastName, all[j].FirstName, all[j].ID)
	})
	lo, hi := pagination.Params{Limit: limit, Offset: offset}.Window(len(all))
	return all[lo:hi], len(all), nil
}

// -- Patients --

type patientRepo struct{ s *Store }

func (r patientRepo) Create(_ context.Context, p *identity.Patient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = r.s.now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	r.s.patients[p.ID] = &cp
	return nil
}

func (r patientRepo) GetByID(_ context.Context, id uuid.UUID) (*identity.Patient, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.patients[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r patientRepo) List(_ context.Context, limit, offset int) ([]*identity.Patient, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	all := make([]*identity.Patient, 0, len(r.s.patients))
	for _, p := range r.s.patients {
		cp := *p
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		return byName(all[i].LastName, all[i].FirstName, all[i].ID, all[j].LastName, all[j].FirstName, all[j].ID)
	})
	lo, hi := pagination.Params{Limit: limit, Offset: offset}.Window(len(all))
	return all[lo:hi], len(all), nil
}

func byName(last1, first1 string, id1 uuid.UUID, last2, first2 string, id2 uuid.UUID) bool {
	if last1 != last2 {
		return last1 < last2
	}
	if first1 != first2 {
		return first1 < first2
	}
	return id1.String() < id2.String()
}
