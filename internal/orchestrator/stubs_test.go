package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"petdance/internal/domain"
	"petdance/internal/providers/billing"
	"petdance/internal/providers/inference"
)

// memJobs is an in-memory domain.JobRepository with the same conditional
// update semantics as the Postgres implementation.
type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[string]*domain.Job)}
}

func (m *memJobs) Create(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memJobs) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memJobs) GetByExternalID(_ context.Context, externalID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.ExternalJobID == externalID && externalID != "" {
			cp := *job
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memJobs) ClaimPending(_ context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != domain.JobStatusPending {
		return false, nil
	}
	job.Status = domain.JobStatusProcessing
	return true, nil
}

func (m *memJobs) SetExternalID(_ context.Context, jobID, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.ExternalJobID == "" {
		job.ExternalJobID = externalID
	}
	return nil
}

func (m *memJobs) ReleasePending(_ context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != domain.JobStatusProcessing || job.ExternalJobID != "" {
		return false, nil
	}
	job.Status = domain.JobStatusPending
	return true, nil
}

func (m *memJobs) MarkCompleted(_ context.Context, jobID, outputPath string, completedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status.IsTerminal() {
		return false, nil
	}
	job.Status = domain.JobStatusCompleted
	job.OutputVideoPath = outputPath
	job.CompletedAt = &completedAt
	return true, nil
}

func (m *memJobs) MarkFailed(_ context.Context, jobID, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status.IsTerminal() {
		return false, nil
	}
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = reason
	now := time.Now()
	job.CompletedAt = &now
	return true, nil
}

func (m *memJobs) CountStartedSince(_ context.Context, userID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, job := range m.jobs {
		if job.UserID != userID || !job.CreatedAt.After(since) {
			continue
		}
		if job.Status == domain.JobStatusProcessing || job.Status == domain.JobStatusCompleted {
			count++
		}
	}
	return count, nil
}

// memUsers is an in-memory domain.UserRepository.
type memUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[string]*domain.User)}
}

func (m *memUsers) Upsert(_ context.Context, user *domain.User) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[user.ID]; ok {
		existing.Email = user.Email
		cp := *existing
		return &cp, nil
	}
	cp := *user
	cp.CreatedAt = time.Now()
	m.users[user.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (m *memUsers) SetSubscriptionStatus(_ context.Context, id string, status domain.SubscriptionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[id]; ok {
		user.SubscriptionStatus = status
	}
	return nil
}

// stubStore is an in-memory ObjectStore counting writes.
type stubStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	writes    int
	existsErr error
	writeErr  error
}

func newStubStore() *stubStore {
	return &stubStore{objects: make(map[string][]byte)}
}

func (s *stubStore) put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
}

func (s *stubStore) IssueUploadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://storage.test/upload/" + key, nil
}

func (s *stubStore) IssueDownloadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://storage.test/get/" + key, nil
}

func (s *stubStore) Exists(_ context.Context, key string) (bool, error) {
	if s.existsErr != nil {
		return false, s.existsErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *stubStore) Write(_ context.Context, key string, data []byte, _ string) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.writes++
	return nil
}

// stubInference counts prediction calls and serves canned results.
type stubInference struct {
	mu        sync.Mutex
	calls     int
	createErr error
	fetchErr  error
	result    []byte
}

func (s *stubInference) CreatePrediction(_ context.Context, _ inference.PredictionRequest) (*inference.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.calls++
	return &inference.Prediction{ID: fmt.Sprintf("pred-%d", s.calls), Status: "starting"}, nil
}

func (s *stubInference) FetchResult(_ context.Context, _ string) ([]byte, string, error) {
	if s.fetchErr != nil {
		return nil, "", s.fetchErr
	}
	result := s.result
	if result == nil {
		result = []byte("video-bytes")
	}
	return result, "video/mp4", nil
}

func (s *stubInference) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stubBilling serves a fixed subscriber record.
type stubBilling struct {
	sub      *billing.Subscriber
	err      error
	hasCreds bool
}

func (s *stubBilling) GetSubscriber(_ context.Context, _ string) (*billing.Subscriber, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.sub, nil
}

func (s *stubBilling) HasCredentials() bool {
	return s.hasCreds
}
