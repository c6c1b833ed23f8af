// Package orchestrator drives the job lifecycle state machine: create ->
// upload -> start -> (webhook) -> completed/failed. All shared state lives in
// the job store; every handler invocation is stateless and transitions are
// applied through guarded updates, so no in-process locking is needed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"petdance/internal/domain"
	"petdance/internal/providers/inference"
)

// ObjectStore is the slice of the storage layer the orchestrator depends on.
type ObjectStore interface {
	IssueUploadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	IssueDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Write(ctx context.Context, key string, data []byte, contentType string) error
}

// InferenceClient is the slice of the prediction API the orchestrator uses.
type InferenceClient interface {
	CreatePrediction(ctx context.Context, req inference.PredictionRequest) (*inference.Prediction, error)
	FetchResult(ctx context.Context, locator string) ([]byte, string, error)
}

// Options bundles the collaborators and tuning values for the Service.
type Options struct {
	Jobs        domain.JobRepository
	Users       domain.UserRepository
	Store       ObjectStore
	Inference   InferenceClient
	Gate        *Gate
	CallbackURL string
	UploadTTL   time.Duration
	ResultTTL   time.Duration
	Logger      zerolog.Logger
}

// Service implements the job orchestration operations.
type Service struct {
	jobs        domain.JobRepository
	users       domain.UserRepository
	store       ObjectStore
	inference   InferenceClient
	gate        *Gate
	callbackURL string
	uploadTTL   time.Duration
	resultTTL   time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

// NewService constructs the orchestrator.
func NewService(opts Options) *Service {
	uploadTTL := opts.UploadTTL
	if uploadTTL <= 0 {
		uploadTTL = 15 * time.Minute
	}
	resultTTL := opts.ResultTTL
	if resultTTL <= 0 {
		resultTTL = time.Hour
	}
	return &Service{
		jobs:        opts.Jobs,
		users:       opts.Users,
		store:       opts.Store,
		inference:   opts.Inference,
		gate:        opts.Gate,
		callbackURL: strings.TrimRight(opts.CallbackURL, "/"),
		uploadTTL:   uploadTTL,
		resultTTL:   resultTTL,
		now:         time.Now,
		logger:      opts.Logger,
	}
}

// CreateJobResult is returned to the caller after a job is registered.
type CreateJobResult struct {
	JobID     string
	UploadURL string
	ExpiresIn time.Duration
}

// CreateJob validates the style, lazily creates the user record, registers a
// pending job with its deterministic input path, and issues a presigned
// upload URL with bounded validity.
func (s *Service) CreateJob(ctx context.Context, userID, email, style string) (*CreateJobResult, error) {
	style = strings.ToLower(strings.TrimSpace(style))
	if !domain.IsValidDanceStyle(style) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStyle, style)
	}

	if _, err := s.users.Upsert(ctx, &domain.User{
		ID:                 userID,
		Email:              email,
		SubscriptionStatus: domain.SubscriptionNone,
	}); err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	jobID := uuid.New().String()
	job := &domain.Job{
		ID:             jobID,
		UserID:         userID,
		DanceStyle:     style,
		Status:         domain.JobStatusPending,
		InputImagePath: domain.InputImageKey(userID, jobID),
		CreatedAt:      s.now(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	uploadURL, err := s.store.IssueUploadURL(ctx, job.InputImagePath, s.uploadTTL)
	if err != nil {
		return nil, fmt.Errorf("issue upload url: %w", err)
	}

	s.logger.Info().
		Str("job_id", jobID).
		Str("user_id", userID).
		Str("dance_style", style).
		Msg("job created")

	return &CreateJobResult{JobID: jobID, UploadURL: uploadURL, ExpiresIn: s.uploadTTL}, nil
}

// StartJob moves a pending job into processing. The pending->processing claim
// is a guarded update applied before the provider is invoked, so two
// concurrent calls can never double-invoke inference: the loser observes the
// already-updated status. A provider failure releases the claim and surfaces
// a retryable error with no net change to the job.
func (s *Service) StartJob(ctx context.Context, jobID, userID, imageLocator string) (*domain.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, domain.ErrForbidden
	}
	if job.Status != domain.JobStatusPending {
		return nil, &domain.StateError{Current: job.Status}
	}

	access := s.gate.Evaluate(ctx, userID)
	if err := s.gate.CheckQuota(ctx, userID, access); err != nil {
		return nil, err
	}

	// Probe storage before paying for inference. A missing upload is a
	// terminal failure, not a stuck-pending job.
	exists, err := s.store.Exists(ctx, job.InputImagePath)
	if err != nil {
		return nil, err
	}
	if !exists {
		if _, ferr := s.jobs.MarkFailed(ctx, job.ID, domain.ErrImageNotUploaded.Error()); ferr != nil {
			s.logger.Error().Err(ferr).Str("job_id", job.ID).Msg("failed to mark job failed")
		}
		return nil, domain.ErrImageNotUploaded
	}

	claimed, err := s.jobs.ClaimPending(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		current, gerr := s.jobs.GetByID(ctx, job.ID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, &domain.StateError{Current: current.Status}
	}

	locator := strings.TrimSpace(imageLocator)
	if locator == "" {
		locator, err = s.store.IssueDownloadURL(ctx, job.InputImagePath, s.resultTTL)
		if err != nil {
			s.releaseClaim(ctx, job.ID)
			return nil, err
		}
	}

	pred, err := s.inference.CreatePrediction(ctx, inference.PredictionRequest{
		ImageURL:    locator,
		Instruction: domain.DanceInstruction(job.DanceStyle),
		CallbackURL: s.callbackURL + "/v1/completion-callback",
	})
	if err != nil {
		s.releaseClaim(ctx, job.ID)
		if errors.Is(err, domain.ErrProviderUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
	}

	if err := s.jobs.SetExternalID(ctx, job.ID, pred.ID); err != nil {
		return nil, fmt.Errorf("record external id: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("external_job_id", pred.ID).
		Msg("job processing")

	job.Status = domain.JobStatusProcessing
	job.ExternalJobID = pred.ID
	return job, nil
}

func (s *Service) releaseClaim(ctx context.Context, jobID string) {
	if _, err := s.jobs.ReleasePending(ctx, jobID); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to release job claim")
	}
}

// HandleCallback applies a verified completion callback to the matching job.
// Unknown correlation ids and callbacks for already-terminal jobs acknowledge
// silently: the provider delivers at least once and duplicates are expected.
// Internal failures never propagate to the provider; they are recorded as a
// terminal failed state the polling caller observes.
func (s *Service) HandleCallback(ctx context.Context, payload inference.CallbackPayload) error {
	job, err := s.jobs.GetByExternalID(ctx, payload.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Info().Str("external_job_id", payload.ID).Msg("callback for unknown job, ignoring")
			return nil
		}
		return err
	}
	if job.Status.IsTerminal() {
		s.logger.Info().
			Str("job_id", job.ID).
			Str("status", string(job.Status)).
			Msg("duplicate callback for terminal job, ignoring")
		return nil
	}

	switch payload.Status {
	case inference.StatusSucceeded:
		return s.completeJob(ctx, job, payload)
	case inference.StatusFailed:
		reason := strings.TrimSpace(payload.Error)
		if reason == "" {
			reason = "generation failed"
		}
		return s.failJob(ctx, job, reason)
	case inference.StatusCanceled:
		return s.failJob(ctx, job, "generation was canceled by the provider")
	default:
		s.logger.Warn().
			Str("job_id", job.ID).
			Str("status", payload.Status).
			Msg("callback with unhandled status, ignoring")
		return nil
	}
}

func (s *Service) completeJob(ctx context.Context, job *domain.Job, payload inference.CallbackPayload) error {
	out, err := inference.ExtractOutput(payload.Output)
	if err != nil {
		return s.failJob(ctx, job, "provider returned no usable output")
	}

	data, contentType, err := s.inference.FetchResult(ctx, out.URL)
	if err != nil {
		return s.failJob(ctx, job, "failed to download result: "+err.Error())
	}

	outputKey := domain.OutputVideoKey(job.UserID, job.ID)
	if err := s.store.Write(ctx, outputKey, data, contentType); err != nil {
		return s.failJob(ctx, job, "failed to persist result video: storage unavailable")
	}

	ok, err := s.jobs.MarkCompleted(ctx, job.ID, outputKey, s.now())
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if !ok {
		s.logger.Info().Str("job_id", job.ID).Msg("job already terminal, completion skipped")
		return nil
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("output", outputKey).
		Str("output_shape", string(out.Shape)).
		Msg("job completed")
	return nil
}

func (s *Service) failJob(ctx context.Context, job *domain.Job, reason string) error {
	ok, err := s.jobs.MarkFailed(ctx, job.ID, reason)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if !ok {
		s.logger.Info().Str("job_id", job.ID).Msg("job already terminal, failure skipped")
		return nil
	}
	s.logger.Info().
		Str("job_id", job.ID).
		Str("reason", reason).
		Msg("job failed")
	return nil
}

// GetJob returns the job after verifying ownership.
func (s *Service) GetJob(ctx context.Context, jobID, userID string) (*domain.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, domain.ErrForbidden
	}
	return job, nil
}

// ResultURL resolves a time-limited download URL for a completed job's video.
func (s *Service) ResultURL(ctx context.Context, jobID, userID string) (string, time.Duration, error) {
	job, err := s.GetJob(ctx, jobID, userID)
	if err != nil {
		return "", 0, err
	}
	if job.Status != domain.JobStatusCompleted {
		return "", 0, &domain.StateError{Current: job.Status}
	}
	url, err := s.store.IssueDownloadURL(ctx, job.OutputVideoPath, s.resultTTL)
	if err != nil {
		return "", 0, err
	}
	return url, s.resultTTL, nil
}
