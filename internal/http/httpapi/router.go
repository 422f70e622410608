package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/infra"
	appmw "server/internal/middleware"
)

// NewRouter wires the workflow API surface.
func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger, country appmw.CountryLookup) http.Handler {
	r := chi.NewRouter()

	r.Use(
		appmw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		appmw.Logger(logger),
		appmw.CORS(cfg.CORSOrigins),
		appmw.I18N(cfg.DefaultLocale, country),
		appmw.RateLimit(cfg.RateLimitPerMin, time.Minute),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/workflows", func(r chi.Router) {
		r.Post("/create", app.WorkflowCreate)
		r.Post("/update", app.WorkflowUpdate)
		r.Post("/process", app.WorkflowProcess)
		r.Post("/reset", app.WorkflowReset)
		r.Post("/retry-failed", app.WorkflowRetryFailed)
		r.Post("/delete", app.WorkflowDelete)
		r.Get("/status", app.WorkflowStatus)
		r.Get("/retry-failed", app.WorkflowListFailed)
		r.Get("/list", app.WorkflowList)
		r.Get("/export", app.WorkflowExport)
	})

	return r
}
