package httpapi

import (
	stdhttp "net/http"
	"time"

	"modelpixie/internal/http/handlers"
	appmw "modelpixie/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires every backend operation under /v1/functions. Webhook and
// callback routes skip auth: their callers authenticate with signatures or
// shared secrets instead of sessions.
func NewRouter(app *handlers.App, limiter appmw.Limiter) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(appmw.Logger(app.Logger))
	r.Use(appmw.CORS([]string{"*"}))
	if limiter == nil {
		limiter = appmw.NewFixedWindow(app.Config.RateLimitPerMin, time.Minute)
	}
	r.Use(appmw.RateLimit(limiter))

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/functions", func(r chi.Router) {
		// Unauthenticated callers: payment processor and workflow system.
		r.Post("/stripe-webhook", app.PaymentWebhook)
		r.Post("/n8n-callback", app.WorkflowCallback)

		r.Group(func(r chi.Router) {
			r.Use(appmw.Auth(app.Config.AuthSecret))
			r.Post("/create-job", app.CreateJob)
			r.Post("/generate-images", app.GenerateImages)
			r.Post("/select-variation", app.SelectVariation)
			r.Post("/generate-model", app.GenerateModel)
			r.Post("/check-model-status", app.CheckModelStatus)
			r.Post("/refine-image", app.RefineImage)
			r.Post("/use-refinement-credit", app.UseRefinementCredit)
			r.Post("/cancel-job", app.CancelJob)
			r.Post("/get-job", app.GetJob)
			r.Post("/list-jobs", app.ListJobs)
			r.Post("/download-assets", app.DownloadAssets)
			r.Post("/feedback", app.SubmitFeedback)
			r.Post("/credit-balance", app.CreditBalance)
			r.Post("/add-test-credits", app.AddTestCredits)
			r.Post("/create-checkout", app.CreateCheckout)
		})
	})

	return r
}
