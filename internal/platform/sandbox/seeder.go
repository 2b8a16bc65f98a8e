// Package sandbox generates reproducible demo data for development and
// on-boarding: practitioners, patients, weekday availability and a spread of
// appointments booked through the regular services.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/booking/internal/domain/identity"
	"github.com/clinic/booking/internal/domain/scheduling"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// SeedConfig controls the volume and shape of generated data.
type SeedConfig struct {
	PractitionerCount      int   `json:"practitionerCount"`
	PatientCount           int   `json:"patientCount"`
	Days                   int   `json:"days"`
	AppointmentsPerPatient int   `json:"appointmentsPerPatient"`
	SlotMinutes            int   `json:"slotMinutes"`
	Seed                   int64 `json:"seed"`
}

// DefaultSeedConfig returns a small clinic: a week of clinic hours for a
// handful of practitioners.
func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		PractitionerCount:      4,
		PatientCount:           20,
		Days:                   7,
		AppointmentsPerPatient: 2,
		SlotMinutes:            30,
	}
}

// clinic hours, local time
var sessions = []struct{ from, to int }{
	{9, 12},
	{13, 17},
}

// SeedResult summarizes the output of a seed run. Skipped counts bookings
// the engine refused, typically a patient drawn twice for the same slot.
type SeedResult struct {
	Practitioners int           `json:"practitioners"`
	Patients      int           `json:"patients"`
	Windows       int           `json:"windows"`
	Appointments  int           `json:"appointments"`
	Skipped       int           `json:"skipped"`
	Duration      time.Duration `json:"duration"`
}

// ---------------------------------------------------------------------------
// Name pools
// ---------------------------------------------------------------------------

var (
	firstNames = []string{
		"James", "Mary", "Robert", "Patricia", "John", "Jennifer", "Michael",
		"Linda", "David", "Elizabeth", "William", "Susan", "Richard", "Jessica",
		"Joseph", "Sarah", "Thomas", "Karen", "Daniel", "Emily", "Matthew",
		"Amanda", "Anthony", "Rachel", "Mark", "Helen", "Samuel", "Anna",
	}
	lastNames = []string{
		"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller",
		"Davis", "Rodriguez", "Martinez", "Wilson", "Anderson", "Taylor",
		"Moore", "Jackson", "Martin", "Lee", "Thompson", "White", "Harris",
		"Clark", "Lewis", "Walker", "Young", "Allen", "King", "Nguyen",
	}
	specialties = []string{
		"Family Medicine", "Internal Medicine", "Pediatrics", "Cardiology",
		"Dermatology", "Orthopedics", "Psychiatry",
	}
)

// ---------------------------------------------------------------------------
// DataGenerator
// ---------------------------------------------------------------------------

// DataGenerator produces deterministic identities.
type DataGenerator struct {
	rng *rand.Rand
}

// NewDataGenerator returns a generator seeded for reproducibility. If seed is
// 0 a time-based seed is chosen.
func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) email(first, last string) *string {
	e := fmt.Sprintf("%s.%s.%04d@example.com", strings.ToLower(first), strings.ToLower(last), g.rng.Intn(10000))
	return &e
}

func (g *DataGenerator) GeneratePractitioner() *identity.Practitioner {
	first, last := g.pick(firstNames), g.pick(lastNames)
	specialty := g.pick(specialties)
	return &identity.Practitioner{
		FirstName: first,
		LastName:  last,
		Email:     g.email(first, last),
		Specialty: &specialty,
	}
}

func (g *DataGenerator) GeneratePatient() *identity.Patient {
	first, last := g.pick(firstNames), g.pick(lastNames)
	birth := time.Date(1940+g.rng.Intn(70), time.Month(1+g.rng.Intn(12)), 1+g.rng.Intn(28), 0, 0, 0, 0, time.UTC)
	return &identity.Patient{
		FirstName: first,
		LastName:  last,
		Email:     g.email(first, last),
		BirthDate: &birth,
	}
}

// ---------------------------------------------------------------------------
// Seeder
// ---------------------------------------------------------------------------

// Directory creates identities.
type Directory interface {
	CreatePractitioner(ctx context.Context, p *identity.Practitioner) error
	CreatePatient(ctx context.Context, p *identity.Patient) error
}

type WindowCreator interface {
	CreateAvailability(ctx context.Context, practitionerID uuid.UUID, start, end time.Time) (*scheduling.Availability, error)
}

type Booker interface {
	CreateAppointment(ctx context.Context, practitionerID, patientID uuid.UUID, start, end time.Time) (*scheduling.Appointment, error)
}

// Seeder writes generated data through the domain services, so every row it
// produces has passed the same validation as an API request.
type Seeder struct {
	generator *DataGenerator
	config    SeedConfig
	directory Directory
	windows   WindowCreator
	booker    Booker
	now       func() time.Time
}

// NewSeeder creates a Seeder. Zero counts in config fall back to the
// defaults.
func NewSeeder(config SeedConfig, directory Directory, windows WindowCreator, booker Booker) *Seeder {
	def := DefaultSeedConfig()
	if config.PractitionerCount <= 0 {
		config.PractitionerCount = def.PractitionerCount
	}
	if config.PatientCount < 0 {
		config.PatientCount = 0
	}
	if config.Days <= 0 {
		config.Days = def.Days
	}
	if config.SlotMinutes <= 0 {
		config.SlotMinutes = def.SlotMinutes
	}
	return &Seeder{
		generator: NewDataGenerator(config.Seed),
		config:    config,
		directory: directory,
		windows:   windows,
		booker:    booker,
		now:       time.Now,
	}
}

// Seed creates the configured practitioners and patients. Each practitioner
// gets the clinic sessions on every weekday of the next Days days, starting
// tomorrow. Appointments are then drawn at random from those sessions.
func (s *Seeder) Seed(ctx context.Context) (*SeedResult, error) {
	start := time.Now()
	result := &SeedResult{}

	practitioners := make([]uuid.UUID, 0, s.config.PractitionerCount)
	for i := 0; i < s.config.PractitionerCount; i++ {
		p := s.generator.GeneratePractitioner()
		if err := s.directory.CreatePractitioner(ctx, p); err != nil {
			return nil, fmt.Errorf("create practitioner: %w", err)
		}
		practitioners = append(practitioners, p.ID)
	}
	result.Practitioners = len(practitioners)

	patients := make([]uuid.UUID, 0, s.config.PatientCount)
	for i := 0; i < s.config.PatientCount; i++ {
		p := s.generator.GeneratePatient()
		if err := s.directory.CreatePatient(ctx, p); err != nil {
			return nil, fmt.Errorf("create patient: %w", err)
		}
		patients = append(patients, p.ID)
	}
	result.Patients = len(patients)

	days := s.clinicDays()
	for _, pid := range practitioners {
		for _, day := range days {
			for _, sess := range sessions {
				from := day.Add(time.Duration(sess.from) * time.Hour)
				to := day.Add(time.Duration(sess.to) * time.Hour)
				if _, err := s.windows.CreateAvailability(ctx, pid, from, to); err != nil {
					return nil, fmt.Errorf("create availability: %w", err)
				}
				result.Windows++
			}
		}
	}

	if len(practitioners) > 0 && len(days) > 0 {
		slot := time.Duration(s.config.SlotMinutes) * time.Minute
		for i, patientID := range patients {
			for j := 0; j < s.config.AppointmentsPerPatient; j++ {
				pid := practitioners[(i+j)%len(practitioners)]
				from := s.randomSlot(days, slot)
				_, err := s.booker.CreateAppointment(ctx, pid, patientID, from, from.Add(slot))
				switch {
				case err == nil:
					result.Appointments++
				case errors.Is(err, scheduling.ErrDuplicateBooking):
					result.Skipped++
				default:
					return nil, fmt.Errorf("create appointment: %w", err)
				}
			}
		}
	}

	result.Duration = time.Since(start)
	zerolog.Ctx(ctx).Info().
		Int("practitioners", result.Practitioners).
		Int("patients", result.Patients).
		Int("windows", result.Windows).
		Int("appointments", result.Appointments).
		Int("skipped", result.Skipped).
		Dur("duration", result.Duration).
		Msg("demo data seeded")
	return result, nil
}

// clinicDays returns local midnights of the weekdays in the seeding range.
func (s *Seeder) clinicDays() []time.Time {
	today := scheduling.StartOfDay(s.now())
	var days []time.Time
	for i := 1; i <= s.config.Days; i++ {
		d := today.AddDate(0, 0, i)
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		days = append(days, d)
	}
	return days
}

// randomSlot picks a slot-aligned start inside one of the sessions.
func (s *Seeder) randomSlot(days []time.Time, slot time.Duration) time.Time {
	day := days[s.generator.rng.Intn(len(days))]
	sess := sessions[s.generator.rng.Intn(len(sessions))]
	n := int(time.Duration(sess.to-sess.from) * time.Hour / slot)
	if n < 1 {
		n = 1
	}
	return day.Add(time.Duration(sess.from)*time.Hour + time.Duration(s.generator.rng.Intn(n))*slot)
}
