package sqlite

import (
	"context"
	"database/sql"

	"github.com/Novice000/crypto_export_fetcher/internal/storage"
	"github.com/Novice000/crypto_export_fetcher/internal/telemetry"
)

// InstrumentedAcquisitionRepository wraps AcquisitionRepository with telemetry.
type InstrumentedAcquisitionRepository struct {
	repo      *AcquisitionRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedAcquisitionRepository creates a new instrumented acquisition repository.
func NewInstrumentedAcquisitionRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedAcquisitionRepository {
	return &InstrumentedAcquisitionRepository{
		repo:      NewAcquisitionRepository(dbConn),
		telemetry: tel,
	}
}

// Claim claims a file name with telemetry.
func (r *InstrumentedAcquisitionRepository) Claim(fileName, resourceURL, policy, instanceID string) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "claim", func(ctx context.Context) error {
		return r.repo.Claim(fileName, resourceURL, policy, instanceID)
	})
}

// Complete records a successful placement with telemetry.
func (r *InstrumentedAcquisitionRepository) Complete(fileName, finalLocation string, handoff bool) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "complete", func(ctx context.Context) error {
		return r.repo.Complete(fileName, finalLocation, handoff)
	})
}

// Fail records a failed acquisition with telemetry.
func (r *InstrumentedAcquisitionRepository) Fail(fileName, reason string) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "fail", func(ctx context.Context) error {
		return r.repo.Fail(fileName, reason)
	})
}

// GetAcquisitions retrieves acquisition history with telemetry.
func (r *InstrumentedAcquisitionRepository) GetAcquisitions() ([]storage.AcquisitionRecord, error) {
	var result []storage.AcquisitionRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "get_acquisitions", func(ctx context.Context) error {
		result, err = r.repo.GetAcquisitions()

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// GetCompletedBefore retrieves expired acquisitions with telemetry.
func (r *InstrumentedAcquisitionRepository) GetCompletedBefore(cutoff string) ([]storage.AcquisitionRecord, error) {
	var result []storage.AcquisitionRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "get_completed_before", func(ctx context.Context) error {
		result, err = r.repo.GetCompletedBefore(cutoff)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}
