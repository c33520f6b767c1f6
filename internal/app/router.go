package app

import (
	"crypto/subtle"
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/edufund-checkout/internal/obs"
	"github.com/noah-isme/edufund-checkout/internal/payment"
	"github.com/noah-isme/edufund-checkout/internal/ratelimit"
	"github.com/noah-isme/edufund-checkout/internal/security"
)

// RouterOptions selects the optional HTTP surfaces.
type RouterOptions struct {
	HTTPMetrics    *obs.HTTPMetrics
	Tracing        bool
	ExposeMetrics  bool
	Pprof          bool
	PprofBasicUser string
	PprofBasicPass string
}

// NewRouter mounts the checkout API. Payment routes are served under
// /api/v1 and under the bare /api prefix used by existing clients.
func NewRouter(deps *Dependencies, opts RouterOptions) http.Handler {
	cfg := deps.Config

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(obs.PanicReporter)
	r.Use(obs.RoutePatternMiddleware)
	if opts.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if opts.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: opts.HTTPMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: deps.Logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))
	r.Use(security.Headers{
		Enable:                true,
		EnableHSTS:            cfg.IsProduction(),
		HSTSIncludeSubdomains: true,
		NoStore:               true,
	}.Middleware)

	if opts.ExposeMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	if opts.Pprof {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), opts.PprofBasicUser, opts.PprofBasicPass))
	}

	r.Get("/health/live", deps.Health.Live)
	r.Get("/health/ready", deps.Health.Ready)

	handler := payment.NewHandler(deps.Payments, deps.Credentials, cfg.PayPal.Env)
	limits := ratelimit.Handler{
		Limiter: deps.Limiter,
		OnError: func(err error) { deps.Logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}
	body := security.BodyLimit{Max: cfg.BodyLimitBytes}
	writes := []func(http.Handler) http.Handler{limits.Middleware, body.Middleware, deps.Idem.Middleware}

	r.Route("/api", func(api chi.Router) {
		api.Route("/v1", func(v chi.Router) {
			handler.Routes(v, writes...)
		})
		handler.Routes(api, writes...)
	})
	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
