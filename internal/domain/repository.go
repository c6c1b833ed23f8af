package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for jobs. The guarded methods only touch
// rows still in the expected prior state and report whether the update
// landed; the job row is the serialization point for concurrent StartJob
// calls and duplicate webhook deliveries.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	GetByExternalID(ctx context.Context, externalID string) (*Job, error)

	// ClaimPending transitions pending -> processing. Exactly one caller
	// wins; the winner owns the inference invocation. Returns false when
	// the job was no longer pending.
	ClaimPending(ctx context.Context, jobID string) (bool, error)

	// SetExternalID records the provider correlation id on a claimed job.
	SetExternalID(ctx context.Context, jobID, externalID string) error

	// ReleasePending reverts a claimed job that never reached the provider
	// back to pending so the caller can retry. Guarded on the external id
	// still being unset.
	ReleasePending(ctx context.Context, jobID string) (bool, error)

	// MarkCompleted transitions a non-terminal job to completed. Returns
	// false when the job was already terminal.
	MarkCompleted(ctx context.Context, jobID, outputPath string, completedAt time.Time) (bool, error)

	// MarkFailed transitions a non-terminal job to failed with a reason.
	// Returns false when the job was already terminal.
	MarkFailed(ctx context.Context, jobID, reason string) (bool, error)

	// CountStartedSince counts the user's jobs created after the cutoff
	// whose status is processing or completed. Pending and failed jobs
	// never consumed inference capacity and are excluded.
	CountStartedSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// UserRepository defines persistence for users.
type UserRepository interface {
	Upsert(ctx context.Context, user *User) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	SetSubscriptionStatus(ctx context.Context, id string, status SubscriptionStatus) error
}
