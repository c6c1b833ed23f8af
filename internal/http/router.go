package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"petdance/internal/http/handlers"
	"petdance/internal/infra/geoip"
	"petdance/internal/middleware"
)

// RouterOptions carries the cross-cutting dependencies for the HTTP surface.
type RouterOptions struct {
	JWTSecret       string
	RateLimitPerMin int
	Logger          zerolog.Logger
	GeoIP           geoip.CountryResolver
}

// NewRouter assembles the API routes. The completion callback stays outside
// the auth group: it is unauthenticated by design and verified by signature
// inside the handler.
func NewRouter(app *handlers.App, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger, opts.GeoIP),
		middleware.CORS,
		middleware.Locale,
	)

	r.Get("/v1/healthz", app.Health)
	r.Post("/v1/completion-callback", app.CompletionCallback)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		if opts.RateLimitPerMin > 0 {
			r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
		}
		r.Post("/v1/create-job", app.CreateJob)
		r.Post("/v1/start-job", app.StartJob)
		r.Get("/v1/job-status", app.JobStatus)
		r.Post("/v1/get-result-url", app.ResultURL)
	})

	return r
}
