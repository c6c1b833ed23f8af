package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"petdance/internal/domain"
	"petdance/internal/middleware"
)

type createJobRequest struct {
	DanceStyle string `json:"danceStyle"`
}

type createJobResponse struct {
	JobID     string `json:"jobId"`
	UploadURL string `json:"uploadUrl"`
	ExpiresIn int    `json:"expiresIn"`
}

// CreateJob is POST /v1/create-job.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthenticated", "missing user context")
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "invalid_argument", "invalid payload")
		return
	}
	result, err := a.Orchestrator.CreateJob(r.Context(), userID, middleware.UserEmailFromContext(r.Context()), req.DanceStyle)
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, createJobResponse{
		JobID:     result.JobID,
		UploadURL: result.UploadURL,
		ExpiresIn: int(result.ExpiresIn.Seconds()),
	})
}

type startJobRequest struct {
	JobID    string `json:"jobId"`
	ImageURL string `json:"imageUrl"`
}

// StartJob is POST /v1/start-job.
func (a *App) StartJob(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthenticated", "missing user context")
		return
	}
	var req startJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "invalid_argument", "invalid payload")
		return
	}
	if req.JobID == "" {
		a.error(w, http.StatusBadRequest, "invalid_argument", "jobId required")
		return
	}
	job, err := a.Orchestrator.StartJob(r.Context(), req.JobID, userID, req.ImageURL)
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"jobId":  job.ID,
		"status": job.Status,
	})
}

type jobView struct {
	JobID        string     `json:"jobId"`
	Status       string     `json:"status"`
	DanceStyle   string     `json:"danceStyle"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	ResultURL    string     `json:"resultUrl,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// JobStatus is GET /v1/job-status?jobId=.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthenticated", "missing user context")
		return
	}
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "invalid_argument", "jobId required")
		return
	}
	job, err := a.Orchestrator.GetJob(r.Context(), jobID, userID)
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	view := jobView{
		JobID:        job.ID,
		Status:       string(job.Status),
		DanceStyle:   job.DanceStyle,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		CompletedAt:  job.CompletedAt,
	}
	if job.Status == domain.JobStatusCompleted {
		// Best effort; the status itself is still useful when storage is down.
		if url, _, err := a.Orchestrator.ResultURL(r.Context(), jobID, userID); err == nil {
			view.ResultURL = url
		}
	}
	a.json(w, http.StatusOK, view)
}

type resultURLRequest struct {
	JobID string `json:"jobId"`
}

// ResultURL is POST /v1/get-result-url.
func (a *App) ResultURL(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthenticated", "missing user context")
		return
	}
	var req resultURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "invalid_argument", "invalid payload")
		return
	}
	if req.JobID == "" {
		a.error(w, http.StatusBadRequest, "invalid_argument", "jobId required")
		return
	}
	url, ttl, err := a.Orchestrator.ResultURL(r.Context(), req.JobID, userID)
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"url":       url,
		"expiresIn": int(ttl.Seconds()),
	})
}
