package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	mw "github.com/onkernel/kimd/lib/middleware"
	"github.com/riandyrn/otelchi"
	"go.opentelemetry.io/otel/metric"
)

// NewRouter mounts the API on a chi router. Everything except /health
// requires a bearer token when a JWT secret is configured. meter may be nil.
func NewRouter(s *ApiService, log *slog.Logger, meter metric.Meter) (http.Handler, error) {
	httpMetrics := mw.NoopHTTPMetrics()
	if meter != nil {
		m, err := mw.NewHTTPMetrics(meter)
		if err != nil {
			return nil, err
		}
		httpMetrics = m.Middleware
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(otelchi.Middleware("kimd", otelchi.WithChiRoutes(r)))
	r.Use(mw.InjectLogger(log))
	r.Use(mw.AccessLogger(log))
	r.Use(httpMetrics)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if s.Config != nil && s.Config.JwtSecret != "" {
			r.Use(mw.VerifyJWT(s.Config.JwtSecret))
		}

		r.Get("/images", s.ListImages)
		r.Post("/images/build", s.BuildImage)
		r.Post("/images/pull", s.PullImage)
		r.Post("/images/push", s.PushImage)
		r.Post("/images/refresh", s.RefreshImages)
		r.Delete("/images/{id}", s.DeleteImage)

		r.Get("/readiness", s.GetReadiness)
		r.Post("/watch/start", s.StartWatching)
		r.Post("/watch/stop", s.StopWatching)

		r.Get("/events", s.EventsHandler)
	})

	return r, nil
}
