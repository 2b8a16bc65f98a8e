package scheduling

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/clinic/booking/internal/domain/identity"
)

// Directory looks up the practitioners and patients bookings refer to.
// Lookups of unknown ids fail with identity.ErrNotFound.
type Directory interface {
	GetPractitioner(ctx context.Context, id uuid.UUID) (*identity.Practitioner, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
}

func requireOwner(ctx context.Context, dir Directory, id uuid.UUID) error {
	if _, err := dir.GetPractitioner(ctx, id); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return newError(KindOwnerNotFound, "practitioner "+id.String()+" not found", nil)
		}
		return storageFailure("lookup practitioner", err)
	}
	return nil
}

func requirePatient(ctx context.Context, dir Directory, id uuid.UUID) error {
	if _, err := dir.GetPatient(ctx, id); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return newError(KindPatientNotFound, "patient "+id.String()+" not found", nil)
		}
		return storageFailure("lookup patient", err)
	}
	return nil
}
