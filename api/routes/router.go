package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/davidecorsi/beatstore-backend/api/controllers"
	webhookcontrollers "github.com/davidecorsi/beatstore-backend/api/controllers/webhooks"
	"github.com/davidecorsi/beatstore-backend/api/middleware"
	"github.com/davidecorsi/beatstore-backend/pkg/config"
	"github.com/davidecorsi/beatstore-backend/pkg/logger"
	"github.com/davidecorsi/beatstore-backend/pkg/paypal"
)

// RouterParams carries everything the HTTP surface needs.
type RouterParams struct {
	Config       *config.Config
	Logger       *logger.Logger
	DBPinger     controllers.Pinger
	RedisPinger  controllers.Pinger
	Settlement   webhookcontrollers.SettlementService
	PayPalClient *paypal.Client
	Metrics      prometheus.Gatherer
}

// NewRouter assembles the webhook service's routes.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(params.Logger),
		middleware.RequestID(params.Logger),
		middleware.Logging(params.Logger),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(params.Config))
		r.Get("/ready", controllers.HealthReady(params.Config, params.Logger, params.DBPinger, params.RedisPinger))
	})

	r.Post("/webhook/paypal", webhookcontrollers.PayPalWebhook(
		params.Settlement,
		params.PayPalClient,
		params.Config.PayPal,
		params.Logger,
	))

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Metrics, promhttp.HandlerOpts{}))
	}

	return r
}
