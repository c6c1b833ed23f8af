package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"petdance/internal/domain"
	"petdance/internal/providers/inference"
)

type testEnv struct {
	svc       *Service
	jobs      *memJobs
	users     *memUsers
	store     *stubStore
	inference *stubInference
	billing   *stubBilling
}

func newTestEnv() *testEnv {
	logger := zerolog.New(io.Discard)
	jobs := newMemJobs()
	users := newMemUsers()
	store := newStubStore()
	inf := &stubInference{}
	bill := &stubBilling{}
	gate := NewGate(bill, jobs, users, 2, logger)
	svc := NewService(Options{
		Jobs:        jobs,
		Users:       users,
		Store:       store,
		Inference:   inf,
		Gate:        gate,
		CallbackURL: "https://api.test",
		Logger:      logger,
	})
	return &testEnv{svc: svc, jobs: jobs, users: users, store: store, inference: inf, billing: bill}
}

// createStartedJob walks a job through create + upload + start.
func createStartedJob(t *testing.T, env *testEnv, userID string) *domain.Job {
	t.Helper()
	ctx := context.Background()
	created, err := env.svc.CreateJob(ctx, userID, userID+"@example.com", "disco")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	env.store.put(domain.InputImageKey(userID, created.JobID), []byte("img"))
	job, err := env.svc.StartJob(ctx, created.JobID, userID, "")
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	return job
}

func TestCreateJob(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	result, err := env.svc.CreateJob(ctx, "u1", "u1@example.com", "disco")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if result.JobID == "" || result.UploadURL == "" {
		t.Fatalf("CreateJob returned empty result: %+v", result)
	}

	job, err := env.jobs.GetByID(ctx, result.JobID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job.Status != domain.JobStatusPending {
		t.Fatalf("status = %q, want pending", job.Status)
	}
	if job.DanceStyle != "disco" {
		t.Fatalf("danceStyle = %q, want disco", job.DanceStyle)
	}
	if job.InputImagePath != domain.InputImageKey("u1", result.JobID) {
		t.Fatalf("input path = %q", job.InputImagePath)
	}

	// User record is created lazily with no subscription.
	user, err := env.users.GetByID(ctx, "u1")
	if err != nil {
		t.Fatalf("user not created: %v", err)
	}
	if user.SubscriptionStatus != domain.SubscriptionNone {
		t.Fatalf("subscription status = %q, want none", user.SubscriptionStatus)
	}
}

func TestCreateJobInvalidStyle(t *testing.T) {
	env := newTestEnv()
	_, err := env.svc.CreateJob(context.Background(), "u1", "", "macarena")
	if !errors.Is(err, domain.ErrInvalidStyle) {
		t.Fatalf("err = %v, want ErrInvalidStyle", err)
	}
}

func TestStartJobTransitionsToProcessing(t *testing.T) {
	env := newTestEnv()
	job := createStartedJob(t, env, "u1")

	if job.Status != domain.JobStatusProcessing {
		t.Fatalf("status = %q, want processing", job.Status)
	}
	if job.ExternalJobID != "pred-1" {
		t.Fatalf("external id = %q, want pred-1", job.ExternalJobID)
	}
	if env.inference.callCount() != 1 {
		t.Fatalf("inference calls = %d, want 1", env.inference.callCount())
	}
}

func TestStartJobNotFound(t *testing.T) {
	env := newTestEnv()
	_, err := env.svc.StartJob(context.Background(), "missing", "u1", "")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStartJobOwnershipMismatch(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	created, err := env.svc.CreateJob(ctx, "u1", "", "salsa")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	_, err = env.svc.StartJob(ctx, created.JobID, "intruder", "")
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestStartJobAlreadyProcessing(t *testing.T) {
	env := newTestEnv()
	job := createStartedJob(t, env, "u1")

	_, err := env.svc.StartJob(context.Background(), job.ID, "u1", "")
	var stateErr *domain.StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("err = %v, want StateError", err)
	}
	if stateErr.Current != domain.JobStatusProcessing {
		t.Fatalf("reported status = %q, want processing", stateErr.Current)
	}
	if env.inference.callCount() != 1 {
		t.Fatalf("inference calls = %d, want 1", env.inference.callCount())
	}
}

func TestStartJobConcurrentSingleInvocation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	created, err := env.svc.CreateJob(ctx, "u1", "", "disco")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	env.store.put(domain.InputImageKey("u1", created.JobID), []byte("img"))

	const callers = 2
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.StartJob(ctx, created.JobID, "u1", "")
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		var stateErr *domain.StateError
		switch {
		case err == nil:
			won++
		case errors.As(err, &stateErr):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || lost != 1 {
		t.Fatalf("won=%d lost=%d, want exactly one winner", won, lost)
	}
	if env.inference.callCount() != 1 {
		t.Fatalf("inference calls = %d, want 1", env.inference.callCount())
	}

	job, _ := env.jobs.GetByID(ctx, created.JobID)
	if job.Status != domain.JobStatusProcessing {
		t.Fatalf("status = %q, want processing", job.Status)
	}
}

func TestStartJobImageNeverUploaded(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	created, err := env.svc.CreateJob(ctx, "u1", "", "ballet")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	_, err = env.svc.StartJob(ctx, created.JobID, "u1", "")
	if !errors.Is(err, domain.ErrImageNotUploaded) {
		t.Fatalf("err = %v, want ErrImageNotUploaded", err)
	}
	if env.inference.callCount() != 0 {
		t.Fatalf("inference calls = %d, want 0", env.inference.callCount())
	}

	job, _ := env.jobs.GetByID(ctx, created.JobID)
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("status = %q, want failed", job.Status)
	}
	if job.ErrorMessage == "" {
		t.Fatal("failed job carries no error message")
	}
}

func TestStartJobProviderUnavailableLeavesJobRetryable(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	created, err := env.svc.CreateJob(ctx, "u1", "", "robot")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	env.store.put(domain.InputImageKey("u1", created.JobID), []byte("img"))

	env.inference.createErr = domain.ErrProviderUnavailable
	_, err = env.svc.StartJob(ctx, created.JobID, "u1", "")
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}

	// No net change: the caller may retry and succeed.
	job, _ := env.jobs.GetByID(ctx, created.JobID)
	if job.Status != domain.JobStatusPending {
		t.Fatalf("status = %q, want pending after provider failure", job.Status)
	}

	env.inference.createErr = nil
	if _, err := env.svc.StartJob(ctx, created.JobID, "u1", ""); err != nil {
		t.Fatalf("retry StartJob: %v", err)
	}
}

func TestStartJobQuotaExceeded(t *testing.T) {
	env := newTestEnv()
	// Gated mode with a subscriber holding no entitlements.
	env.billing.hasCreds = true
	env.billing.sub = nil
	env.svc.gate = NewGate(env.billing, env.jobs, env.users, 2, zerolog.New(io.Discard))

	createStartedJob(t, env, "u1")
	createStartedJob(t, env, "u1")

	ctx := context.Background()
	created, err := env.svc.CreateJob(ctx, "u1", "", "hiphop")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	env.store.put(domain.InputImageKey("u1", created.JobID), []byte("img"))

	_, err = env.svc.StartJob(ctx, created.JobID, "u1", "")
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	if env.inference.callCount() != 2 {
		t.Fatalf("inference calls = %d, want 2", env.inference.callCount())
	}
}

func callbackFor(job *domain.Job, status, output string) inference.CallbackPayload {
	payload := inference.CallbackPayload{ID: job.ExternalJobID, Status: status}
	if output != "" {
		payload.Output = json.RawMessage(output)
	}
	return payload
}

func TestHandleCallbackSuccess(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	job := createStartedJob(t, env, "u1")

	err := env.svc.HandleCallback(ctx, callbackFor(job, inference.StatusSucceeded, `"https://cdn/vid.mp4"`))
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	got, _ := env.jobs.GetByID(ctx, job.ID)
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	wantPath := domain.OutputVideoKey("u1", job.ID)
	if got.OutputVideoPath != wantPath {
		t.Fatalf("output path = %q, want %q", got.OutputVideoPath, wantPath)
	}
	if got.CompletedAt == nil {
		t.Fatal("completedAt not set")
	}
	if env.store.writes != 1 {
		t.Fatalf("storage writes = %d, want 1", env.store.writes)
	}
}

func TestHandleCallbackDuplicateIsNoop(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	job := createStartedJob(t, env, "u1")

	payload := callbackFor(job, inference.StatusSucceeded, `"https://cdn/vid.mp4"`)
	if err := env.svc.HandleCallback(ctx, payload); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	first, _ := env.jobs.GetByID(ctx, job.ID)

	if err := env.svc.HandleCallback(ctx, payload); err != nil {
		t.Fatalf("duplicate callback: %v", err)
	}
	second, _ := env.jobs.GetByID(ctx, job.ID)

	if second.OutputVideoPath != first.OutputVideoPath || !second.CompletedAt.Equal(*first.CompletedAt) {
		t.Fatalf("duplicate callback mutated job: %+v vs %+v", first, second)
	}
	if env.store.writes != 1 {
		t.Fatalf("storage writes = %d, want 1 after duplicate", env.store.writes)
	}
}

func TestHandleCallbackUnknownExternalID(t *testing.T) {
	env := newTestEnv()
	err := env.svc.HandleCallback(context.Background(), inference.CallbackPayload{
		ID:     "unknown-999",
		Status: inference.StatusSucceeded,
		Output: json.RawMessage(`"https://cdn/vid.mp4"`),
	})
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if len(env.jobs.jobs) != 0 {
		t.Fatalf("jobs created for unknown callback: %d", len(env.jobs.jobs))
	}
}

func TestHandleCallbackFailurePayload(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	job := createStartedJob(t, env, "u1")

	payload := callbackFor(job, inference.StatusFailed, "")
	payload.Error = "NSFW content detected"
	if err := env.svc.HandleCallback(ctx, payload); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	got, _ := env.jobs.GetByID(ctx, job.ID)
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.ErrorMessage != "NSFW content detected" {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}
}

func TestHandleCallbackCanceled(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	job := createStartedJob(t, env, "u1")

	if err := env.svc.HandleCallback(ctx, callbackFor(job, inference.StatusCanceled, "")); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	got, _ := env.jobs.GetByID(ctx, job.ID)
	if got.Status != domain.JobStatusFailed || got.ErrorMessage == "" {
		t.Fatalf("canceled job = %+v, want failed with message", got)
	}
}

func TestHandleCallbackNoUsableOutput(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	job := createStartedJob(t, env, "u1")

	if err := env.svc.HandleCallback(ctx, callbackFor(job, inference.StatusSucceeded, `{"logs":"done"}`)); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	got, _ := env.jobs.GetByID(ctx, job.ID)
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("status = %q, want failed when output unusable", got.Status)
	}
	if env.store.writes != 0 {
		t.Fatalf("storage writes = %d, want 0", env.store.writes)
	}
}

func TestHandleCallbackStorageWriteFails(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	job := createStartedJob(t, env, "u1")

	env.store.writeErr = domain.ErrStorageUnavailable
	if err := env.svc.HandleCallback(ctx, callbackFor(job, inference.StatusSucceeded, `"https://cdn/vid.mp4"`)); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	got, _ := env.jobs.GetByID(ctx, job.ID)
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("status = %q, want failed on storage failure", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatal("storage failure recorded no reason")
	}
}

func TestNoTransitionOutOfTerminalState(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	job := createStartedJob(t, env, "u1")

	if err := env.svc.HandleCallback(ctx, callbackFor(job, inference.StatusSucceeded, `"https://cdn/vid.mp4"`)); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	// A late failure callback must not pull the job out of completed.
	late := callbackFor(job, inference.StatusFailed, "")
	late.Error = "late failure"
	if err := env.svc.HandleCallback(ctx, late); err != nil {
		t.Fatalf("late callback: %v", err)
	}
	got, _ := env.jobs.GetByID(ctx, job.ID)
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %q, completed job left terminal state", got.Status)
	}
}

func TestGetJobAndResultURL(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	job := createStartedJob(t, env, "u1")

	// Not ready yet.
	_, _, err := env.svc.ResultURL(ctx, job.ID, "u1")
	var stateErr *domain.StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("ResultURL before completion: err = %v, want StateError", err)
	}

	if err := env.svc.HandleCallback(ctx, callbackFor(job, inference.StatusSucceeded, `"https://cdn/vid.mp4"`)); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	url, ttl, err := env.svc.ResultURL(ctx, job.ID, "u1")
	if err != nil {
		t.Fatalf("ResultURL: %v", err)
	}
	if url == "" || ttl <= 0 {
		t.Fatalf("ResultURL = %q ttl=%v", url, ttl)
	}

	if _, _, err := env.svc.ResultURL(ctx, job.ID, "intruder"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("foreign ResultURL err = %v, want ErrForbidden", err)
	}
	if _, err := env.svc.GetJob(ctx, job.ID, "intruder"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("foreign GetJob err = %v, want ErrForbidden", err)
	}
}
