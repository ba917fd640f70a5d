package sqlite

import (
	"database/sql"
	"time"

	"github.com/Novice000/crypto_export_fetcher/internal/storage"
)

type AcquisitionRepository struct {
	db *sql.DB
}

func NewAcquisitionRepository(dbConn *sql.DB) *AcquisitionRepository {
	return &AcquisitionRepository{db: dbConn}
}

// Claim atomically marks the file name as in flight. A name whose previous
// acquisition finished (succeeded or failed) may be re-claimed; a name still
// held by a live claim yields storage.ErrInFlight.
func (r *AcquisitionRepository) Claim(fileName, resourceURL, policy, instanceID string) error {
	res, err := r.db.Exec(`
		INSERT INTO acquisitions (file_name, resource_url, policy, status, requested_at, locked_by)
		VALUES (?, ?, ?, 'in_flight', ?, ?)
		ON CONFLICT(file_name) DO UPDATE SET
			resource_url = excluded.resource_url,
			policy = excluded.policy,
			status = 'in_flight',
			failure_reason = NULL,
			requested_at = excluded.requested_at,
			completed_at = NULL,
			locked_by = excluded.locked_by
		WHERE acquisitions.status != 'in_flight'
	`, fileName, resourceURL, policy, time.Now().Format(time.RFC3339), instanceID)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrInFlight
	}

	return nil
}

// Complete records the final location of a placed acquisition and releases the claim.
func (r *AcquisitionRepository) Complete(fileName, finalLocation string, handoff bool) error {
	_, err := r.db.Exec(`
		UPDATE acquisitions
		SET status = 'succeeded', final_location = ?, handoff = ?, completed_at = ?, locked_by = NULL
		WHERE file_name = ?
	`, finalLocation, boolToInt(handoff), time.Now().Format(time.RFC3339), fileName)

	return err
}

// Fail records a failed acquisition and releases the claim.
func (r *AcquisitionRepository) Fail(fileName, reason string) error {
	_, err := r.db.Exec(`
		UPDATE acquisitions
		SET status = 'failed', failure_reason = ?, completed_at = ?, locked_by = NULL
		WHERE file_name = ?
	`, reason, time.Now().Format(time.RFC3339), fileName)

	return err
}

func (r *AcquisitionRepository) GetAcquisitions() ([]storage.AcquisitionRecord, error) {
	rows, err := r.db.Query(`
		SELECT file_name, resource_url, policy, final_location, handoff, status, failure_reason, requested_at, completed_at, locked_by
		FROM acquisitions
		ORDER BY requested_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetCompletedBefore returns succeeded acquisitions completed before the cutoff.
func (r *AcquisitionRepository) GetCompletedBefore(cutoff string) ([]storage.AcquisitionRecord, error) {
	rows, err := r.db.Query(`
		SELECT file_name, resource_url, policy, final_location, handoff, status, failure_reason, requested_at, completed_at, locked_by
		FROM acquisitions
		WHERE status = 'succeeded' AND completed_at < ?
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]storage.AcquisitionRecord, error) {
	var records []storage.AcquisitionRecord

	for rows.Next() {
		var record storage.AcquisitionRecord

		var finalLocation, failureReason, completedAt, lockedBy sql.NullString

		var handoff int

		if err := rows.Scan(
			&record.FileName,
			&record.ResourceURL,
			&record.Policy,
			&finalLocation,
			&handoff,
			&record.Status,
			&failureReason,
			&record.RequestedAt,
			&completedAt,
			&lockedBy,
		); err != nil {
			return nil, err
		}

		record.FinalLocation = finalLocation.String
		record.FailureReason = failureReason.String
		record.CompletedAt = completedAt.String
		record.LockedBy = lockedBy.String
		record.Handoff = handoff != 0

		records = append(records, record)
	}

	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
