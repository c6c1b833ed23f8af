package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"petdance/internal/domain"
	"petdance/internal/middleware"
	"petdance/internal/orchestrator"
	"petdance/internal/webhook"
)

// App is the container handlers hang off; everything it needs is injected
// once at startup.
type App struct {
	Orchestrator *orchestrator.Service
	Verifier     *webhook.Verifier
	Logger       zerolog.Logger
}

// NewApp wires the handler container.
func NewApp(orch *orchestrator.Service, verifier *webhook.Verifier, logger zerolog.Logger) *App {
	return &App{Orchestrator: orch, Verifier: verifier, Logger: logger}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// quotaMessage returns the free-tier denial message in the negotiated locale.
func quotaMessage(locale string) string {
	if locale == "id" {
		return "kuota harian gratis sudah habis, berlangganan untuk lanjut"
	}
	return "daily free quota reached, subscribe for unlimited videos"
}

// domainError maps orchestrator errors onto the HTTP surface. The mapping is
// the single place the error taxonomy meets status codes.
func (a *App) domainError(w http.ResponseWriter, r *http.Request, err error) {
	var stateErr *domain.StateError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrForbidden):
		a.error(w, http.StatusForbidden, "forbidden", "job belongs to another user")
	case errors.Is(err, domain.ErrInvalidStyle):
		a.error(w, http.StatusBadRequest, "invalid_argument", "unsupported dance style")
	case errors.Is(err, domain.ErrQuotaExceeded):
		a.error(w, http.StatusTooManyRequests, "resource_exhausted", quotaMessage(middleware.LocaleFromContext(r.Context())))
	case errors.Is(err, domain.ErrImageNotUploaded):
		a.error(w, http.StatusBadRequest, "failed_precondition", "image was never uploaded")
	case errors.Is(err, domain.ErrStorageUnavailable):
		a.error(w, http.StatusServiceUnavailable, "unavailable", "storage is being configured, try again shortly")
	case errors.Is(err, domain.ErrProviderUnavailable):
		a.error(w, http.StatusServiceUnavailable, "unavailable", "video generation is temporarily unavailable, try again")
	case errors.As(err, &stateErr):
		a.error(w, http.StatusBadRequest, "failed_precondition", "job is already "+string(stateErr.Current))
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("unhandled error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
