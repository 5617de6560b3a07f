// Package store is the durable Job Store: Postgres-backed persistence with
// the invariants of the Job entity enforced at the boundary, the way the
// teacher's sqlx-backed storage packages validate before writing.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/vendordispatch/internal/job"
	"github.com/cuongbtq/vendordispatch/shared/postgresql"
	"github.com/lib/pq"
)

// Store persists Job records in Postgres.
type Store struct {
	db     *postgresql.Client
	logger *slog.Logger
}

// New creates a Store backed by an already-connected postgresql.Client.
func New(db *postgresql.Client, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Create inserts a new pending job. Returns job.ErrDuplicateID if
// RequestID already exists, or a *job.ValidationError if the invariants of
// §3 are violated.
func (s *Store) Create(ctx context.Context, j *job.Job) error {
	if err := job.ValidateNew(j); err != nil {
		return err
	}

	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now

	const query = `
		INSERT INTO jobs (request_id, status, payload, created_at, updated_at)
		VALUES (:request_id, :status, :payload, :created_at, :updated_at)
	`
	row := jobRow{
		RequestID: j.RequestID,
		Status:    j.Status,
		Payload:   []byte(j.Payload),
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	err := s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		if isUniqueViolation(err) {
			return job.ErrDuplicateID
		}
		return fmt.Errorf("store: create job: %w", err)
	}

	s.logger.Info("job created", slog.String("request_id", j.RequestID))
	return nil
}

// FindByID returns the job with the given RequestID, or job.ErrNotFound.
func (s *Store) FindByID(ctx context.Context, requestID string) (*job.Job, error) {
	const query = `
		SELECT request_id, status, payload, result, error, vendor, created_at, updated_at
		FROM jobs WHERE request_id = :request_id
	`
	rows, err := s.db.NamedQueryContext(ctx, query, map[string]interface{}{"request_id": requestID})
	if err != nil {
		return nil, fmt.Errorf("store: find job: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, job.ErrNotFound
	}
	var row jobRow
	if err := rows.StructScan(&row); err != nil {
		return nil, fmt.Errorf("store: find job: scan: %w", err)
	}
	return row.toJob(), nil
}

// UpdateStatus performs an unconditional status write and advances
// UpdatedAt. It also sets Vendor when vendor is non-empty, matching the
// worker's "set exactly once when processing begins" contract.
func (s *Store) UpdateStatus(ctx context.Context, requestID string, status job.Status, vendor string) error {
	const query = `
		UPDATE jobs
		SET status = $1,
		    vendor = CASE WHEN $2::text <> '' THEN $2 ELSE vendor END,
		    updated_at = $3
		WHERE request_id = $4
	`
	res, err := s.db.ExecContext(ctx, query, status, vendor, time.Now().UTC(), requestID)
	if err != nil {
		return fmt.Errorf("store: update status: %w", err)
	}
	return rowsAffectedOrNotFound(res)
}

// UpdateResult writes the terminal fields and status for a job. It is
// idempotent: calling it again on an already-terminal job with the same
// status overwrites with the later value, as required for webhook
// redelivery (§4.7, §4.8) — but any other transition not on the §3 DAG
// (pending -> processing -> {complete, failed}) is rejected, so a
// replayed or forged webhook can never regress a job's status.
func (s *Store) UpdateResult(ctx context.Context, requestID string, status job.Status, result json.RawMessage, errMsg *string) error {
	if err := job.ValidateResult(status, result, errMsg); err != nil {
		return err
	}

	var resultBytes []byte
	if len(result) > 0 {
		resultBytes = []byte(result)
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("store: update result: %w", err)
	}
	defer tx.Rollback()

	var current job.Status
	err = tx.GetContext(ctx, &current, `SELECT status FROM jobs WHERE request_id = $1 FOR UPDATE`, requestID)
	if err != nil {
		if err == sql.ErrNoRows {
			return job.ErrNotFound
		}
		return fmt.Errorf("store: update result: read current status: %w", err)
	}

	if !job.ValidTransition(current, status) {
		return job.NewValidationError(fmt.Sprintf("illegal transition from %s to %s", current, status))
	}

	const query = `
		UPDATE jobs
		SET status = $1, result = $2, error = $3, updated_at = $4
		WHERE request_id = $5
	`
	res, err := tx.ExecContext(ctx, query, status, resultBytes, errMsg, time.Now().UTC(), requestID)
	if err != nil {
		return fmt.Errorf("store: update result: %w", err)
	}
	if err := rowsAffectedOrNotFound(res); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: update result: commit: %w", err)
	}
	return nil
}

// FindByStatus returns up to limit jobs in the given status, most recently
// updated first.
func (s *Store) FindByStatus(ctx context.Context, status job.Status, limit int) ([]job.Job, error) {
	const query = `
		SELECT request_id, status, payload, result, error, vendor, created_at, updated_at
		FROM jobs WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, status, limit); err != nil {
		return nil, fmt.Errorf("store: find by status: %w", err)
	}
	return toJobs(rows), nil
}

// FindByVendor returns up to limit jobs dispatched to the given vendor.
func (s *Store) FindByVendor(ctx context.Context, vendor string, limit int) ([]job.Job, error) {
	const query = `
		SELECT request_id, status, payload, result, error, vendor, created_at, updated_at
		FROM jobs WHERE vendor = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, vendor, limit); err != nil {
		return nil, fmt.Errorf("store: find by vendor: %w", err)
	}
	return toJobs(rows), nil
}

// FindRecent returns jobs created within the last `hours` hours.
func (s *Store) FindRecent(ctx context.Context, hours int) ([]job.Job, error) {
	const query = `
		SELECT request_id, status, payload, result, error, vendor, created_at, updated_at
		FROM jobs WHERE created_at >= $1
		ORDER BY created_at DESC
	`
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, cutoff); err != nil {
		return nil, fmt.Errorf("store: find recent: %w", err)
	}
	return toJobs(rows), nil
}

// Stats aggregates counts for observability endpoints.
type Stats struct {
	Total    int64
	ByStatus map[job.Status]int64
	ByVendor map[string]int64
}

// Stats returns aggregate counts across all jobs.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByStatus: map[job.Status]int64{}, ByVendor: map[string]int64{}}

	var total int64
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM jobs`); err != nil {
		return nil, fmt.Errorf("store: stats total: %w", err)
	}
	stats.Total = total

	var byStatus []struct {
		Status job.Status `db:"status"`
		Count  int64      `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &byStatus, `SELECT status, COUNT(*) AS count FROM jobs GROUP BY status`); err != nil {
		return nil, fmt.Errorf("store: stats by status: %w", err)
	}
	for _, r := range byStatus {
		stats.ByStatus[r.Status] = r.Count
	}

	var byVendor []struct {
		Vendor sql.NullString `db:"vendor"`
		Count  int64          `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &byVendor, `SELECT vendor, COUNT(*) AS count FROM jobs WHERE vendor IS NOT NULL GROUP BY vendor`); err != nil {
		return nil, fmt.Errorf("store: stats by vendor: %w", err)
	}
	for _, r := range byVendor {
		if r.Vendor.Valid {
			stats.ByVendor[r.Vendor.String] = r.Count
		}
	}

	return stats, nil
}

// HealthCheck reports whether the store can serve queries.
func (s *Store) HealthCheck(ctx context.Context) bool {
	return s.db.HealthCheck(ctx) == nil
}

// DBStats reports the underlying connection pool's stats, for the
// operator-facing health endpoint.
func (s *Store) DBStats() string {
	return s.db.Stats()
}

// PurgeExpired deletes terminal jobs older than olderThan. Non-terminal
// jobs are never removed, per §3's 30-day TTL invariant.
func (s *Store) PurgeExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	const query = `
		DELETE FROM jobs
		WHERE created_at < $1 AND status IN ($2, $3)
	`
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, query, cutoff, job.StatusComplete, job.StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("store: purge expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: purge expired rows affected: %w", err)
	}
	return n, nil
}

func rowsAffectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return job.ErrNotFound
	}
	return nil
}

// isUniqueViolation detects a Postgres unique-constraint failure (SQLSTATE
// 23505), e.g. a duplicate request_id under a concurrent Create race.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
