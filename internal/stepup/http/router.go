package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/internal/stepup/service"
	"github.com/authsome/stepup/internal/stepup/store"
	"github.com/authsome/stepup/pkg/httpx"
	"github.com/authsome/stepup/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	verifier     httpx.Verifier
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store         store.Store
	Engine        *service.Engine
	FactorService *service.FactorService
	DeviceService *service.DeviceService
	PolicyService *service.PolicyService
}

func NewRouter(
	verifier httpx.Verifier,
	buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		verifier:     verifier,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerStepUp()
	r.registerFactors()
	r.registerDevices()
	r.registerRules()
	r.registerSystem()
}

// ServeHTTP implements http.Handler and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerStepUp() {
	h := &StepUpHandler{Engine: r.Engine}

	// Evaluation happens on most requests; keep the limit loose.
	r.Mux.Handle("POST /v1/stepup/evaluate",
		httpx.Chain(http.HandlerFunc(h.HandleEvaluate),
			httpx.AuthnMiddleware(r.verifier),
			httpx.RateLimitByUser(httpx.LenientLimit),
		),
	)

	r.Mux.Handle("POST /v1/stepup/challenges",
		httpx.Chain(http.HandlerFunc(h.HandleBegin),
			httpx.AuthnMiddleware(r.verifier),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)

	// Proof submission is the brute-force surface; strict limit by IP on
	// top of the engine's own attempt and lockout accounting.
	r.Mux.Handle("POST /v1/stepup/challenges/{id}/verify",
		httpx.Chain(http.HandlerFunc(h.HandleVerify),
			httpx.AuthnMiddleware(r.verifier),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	r.Mux.Handle("POST /v1/stepup/challenges/{id}/cancel",
		httpx.Chain(http.HandlerFunc(h.HandleCancel),
			httpx.AuthnMiddleware(r.verifier),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)

	r.Mux.Handle("GET /v1/stepup/requirements/{id}",
		httpx.Chain(http.HandlerFunc(h.HandleGetRequirement),
			httpx.AuthnMiddleware(r.verifier),
			httpx.RateLimitByUser(httpx.LenientLimit),
		),
	)
}

func (r *Router) registerFactors() {
	h := &FactorHandler{Factors: r.FactorService}

	r.Mux.Handle("GET /v1/factors",
		httpx.Chain(http.HandlerFunc(h.HandleList),
			httpx.AuthnMiddleware(r.verifier),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)

	r.Mux.Handle("POST /v1/factors",
		httpx.Chain(http.HandlerFunc(h.HandleEnroll),
			httpx.AuthnMiddleware(r.verifier),
			httpx.RateLimitByUser(httpx.StrictLimit),
		),
	)

	r.Mux.Handle("POST /v1/factors/{id}/activate",
		httpx.Chain(http.HandlerFunc(h.HandleActivate),
			httpx.AuthnMiddleware(r.verifier),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	r.Mux.Handle("DELETE /v1/factors/{id}",
		httpx.Chain(http.HandlerFunc(h.HandleDisable),
			httpx.AuthnMiddleware(r.verifier),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)

	r.Mux.Handle("POST /v1/factors/backup-codes/regenerate",
		httpx.Chain(http.HandlerFunc(h.HandleRegenerateBackupCodes),
			httpx.AuthnMiddleware(r.verifier),
			requireLevel(domain.LevelElevated),
			httpx.RateLimitByUser(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerDevices() {
	h := &DeviceHandler{Devices: r.DeviceService}

	r.Mux.Handle("GET /v1/devices",
		httpx.Chain(http.HandlerFunc(h.HandleList),
			httpx.AuthnMiddleware(r.verifier),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)

	r.Mux.Handle("DELETE /v1/devices/{id}",
		httpx.Chain(http.HandlerFunc(h.HandleForget),
			httpx.AuthnMiddleware(r.verifier),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerRules() {
	h := &RuleHandler{Policy: r.PolicyService}

	// Policy administration requires an elevated session.
	admin := func(next http.Handler) http.Handler {
		return httpx.Chain(next,
			httpx.AuthnMiddleware(r.verifier),
			requireLevel(domain.LevelElevated),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		)
	}

	r.Mux.Handle("POST /v1/admin/rules", admin(http.HandlerFunc(h.HandleCreate)))
	r.Mux.Handle("GET /v1/admin/rules", admin(http.HandlerFunc(h.HandleList)))
	r.Mux.Handle("GET /v1/admin/rules/{id}", admin(http.HandlerFunc(h.HandleGet)))
	r.Mux.Handle("PUT /v1/admin/rules/{id}", admin(http.HandlerFunc(h.HandleUpdate)))
	r.Mux.Handle("DELETE /v1/admin/rules/{id}", admin(http.HandlerFunc(h.HandleDelete)))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store))
}

// requireLevel gates a route on the session's acr claim.
func requireLevel(min domain.SecurityLevel) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			level := domain.ParseSecurityLevel(httpx.LevelFromContext(req.Context()))
			if !level.Satisfies(min) {
				httpx.WriteError(w, http.StatusForbidden, "insufficient_level",
					"This operation requires security level "+min.String()+" or above")
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}
