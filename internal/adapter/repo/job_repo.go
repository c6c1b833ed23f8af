package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"petdance/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository. The guarded transitions
// are single conditional UPDATEs; the WHERE clause on the prior status is
// what makes concurrent starts and duplicate callbacks safe.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobColumns = `id, user_id, dance_style, status, input_image_path, output_video_path, external_job_id, error_message, created_at, completed_at`

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO jobs (id, user_id, dance_style, status, input_image_path, created_at)
VALUES ($1, $2, $3, $4, $5, $6);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.DanceStyle,
		job.Status,
		job.InputImagePath,
		job.CreatedAt,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	return scanJob(row)
}

// GetByExternalID fetches the job carrying the provider correlation id.
func (r *JobRepositoryPG) GetByExternalID(ctx context.Context, externalID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE external_job_id = $1`, externalID)
	return scanJob(row)
}

// ClaimPending transitions pending -> processing for exactly one caller.
func (r *JobRepositoryPG) ClaimPending(ctx context.Context, jobID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE jobs
SET status = $2
WHERE id = $1 AND status = $3;
`, jobID, domain.JobStatusProcessing, domain.JobStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetExternalID records the provider correlation id on a claimed job.
func (r *JobRepositoryPG) SetExternalID(ctx context.Context, jobID, externalID string) error {
	_, err := r.pool.Exec(ctx, `
UPDATE jobs
SET external_job_id = $2
WHERE id = $1 AND external_job_id = '';
`, jobID, externalID)
	return err
}

// ReleasePending reverts a claimed job whose provider call never happened.
func (r *JobRepositoryPG) ReleasePending(ctx context.Context, jobID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE jobs
SET status = $2
WHERE id = $1 AND status = $3 AND external_job_id = '';
`, jobID, domain.JobStatusPending, domain.JobStatusProcessing)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCompleted transitions a non-terminal job to completed.
func (r *JobRepositoryPG) MarkCompleted(ctx context.Context, jobID, outputPath string, completedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE jobs
SET status = $2,
    output_video_path = $3,
    completed_at = $4
WHERE id = $1 AND status NOT IN ($5, $6);
`, jobID, domain.JobStatusCompleted, outputPath, completedAt, domain.JobStatusCompleted, domain.JobStatusFailed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed transitions a non-terminal job to failed with a reason.
func (r *JobRepositoryPG) MarkFailed(ctx context.Context, jobID, reason string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE jobs
SET status = $2,
    error_message = $3,
    completed_at = NOW()
WHERE id = $1 AND status NOT IN ($4, $5);
`, jobID, domain.JobStatusFailed, reason, domain.JobStatusCompleted, domain.JobStatusFailed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CountStartedSince counts quota-consuming jobs inside the sliding window.
func (r *JobRepositoryPG) CountStartedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	row := r.pool.QueryRow(ctx, `
SELECT COUNT(*)
FROM jobs
WHERE user_id = $1
  AND created_at > $2
  AND status IN ($3, $4);
`, userID, since, domain.JobStatusProcessing, domain.JobStatusCompleted)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.DanceStyle,
		&job.Status,
		&job.InputImagePath,
		&job.OutputVideoPath,
		&job.ExternalJobID,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}
