package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/vocaldesk/vocaldesk/internal/models"
)

func (db *DB) CreateJob(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO batch_jobs (id, profile, rows, email, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	return db.QueryRowContext(
		ctx, query,
		job.ID, job.Profile, job.Rows, job.NotifyEmail, job.Status,
	).Scan(&job.CreatedAt)
}

func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	query := `
		SELECT id, profile, rows, email, status, attempts, error_message, zip, created_at
		FROM batch_jobs
		WHERE id = $1
	`

	job := &models.Job{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&job.ID, &job.Profile, &job.Rows, &job.NotifyEmail, &job.Status,
		&job.Attempts, &job.ErrorMessage, &job.ArchivePath, &job.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// ListJobs returns all jobs in submission order (oldest first).
func (db *DB) ListJobs(ctx context.Context) ([]models.Job, error) {
	return db.listJobs(ctx, "")
}

// ListJobsByStatus returns the jobs with the given status in submission
// order. The worker drains queued jobs through this.
func (db *DB) ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]models.Job, error) {
	return db.listJobs(ctx, status)
}

func (db *DB) listJobs(ctx context.Context, status models.JobStatus) ([]models.Job, error) {
	query := `
		SELECT id, profile, rows, email, status, attempts, error_message, zip, created_at
		FROM batch_jobs
	`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		var job models.Job
		err := rows.Scan(
			&job.ID, &job.Profile, &job.Rows, &job.NotifyEmail, &job.Status,
			&job.Attempts, &job.ErrorMessage, &job.ArchivePath, &job.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// MarkJobDone commits the queued -> done transition together with the
// archive path in one atomic row update. Only still-queued jobs transition,
// so a done or failed job can never be processed twice.
func (db *DB) MarkJobDone(ctx context.Context, id uuid.UUID, archivePath string) error {
	query := `UPDATE batch_jobs SET status = $1, zip = $2 WHERE id = $3 AND status = $4`
	_, err := db.ExecContext(ctx, query, models.JobStatusDone, archivePath, id, models.JobStatusQueued)
	return err
}

// MarkJobFailed moves a job to the terminal failed state with a reason.
func (db *DB) MarkJobFailed(ctx context.Context, id uuid.UUID, reason string) error {
	query := `UPDATE batch_jobs SET status = $1, error_message = $2 WHERE id = $3 AND status = $4`
	_, err := db.ExecContext(ctx, query, models.JobStatusFailed, reason, id, models.JobStatusQueued)
	return err
}

// BumpJobAttempts increments the per-job pass counter and returns the new
// value, so the worker can bound how long an unresolvable job stays queued.
func (db *DB) BumpJobAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	query := `UPDATE batch_jobs SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts`

	var attempts int
	if err := db.QueryRowContext(ctx, query, id).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("failed to bump job attempts: %w", err)
	}
	return attempts, nil
}
