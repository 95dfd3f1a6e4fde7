package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/forestcarbon-backend/api/controllers"
	"github.com/angelmondragon/forestcarbon-backend/api/middleware"
	"github.com/angelmondragon/forestcarbon-backend/pkg/config"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/logger"
)

// NewOpsRouter serves the worker's health probes and Prometheus metrics.
func NewOpsRouter(cfg *config.Config, logg *logger.Logger, gatherer prometheus.Gatherer, checks map[string]db.Pinger) http.Handler {
	r := chi.NewRouter()
	r.Use(
		chimw.RequestID,
		middleware.RequestContext(logg),
		middleware.Recover(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, checks))
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}
