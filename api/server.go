/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address for logs and rate limiting
  3. Logger:     zerolog access log (method, path, status, duration)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Secure:     Security headers; HTTPS redirect in production
  6. CORS:       Cross-origin requests for the frontend
  Write endpoints are additionally rate limited per client IP.

ROUTE GROUPS:
  /healthz                                Liveness and store ping
  /api/accounts/{side}/{counterparty}/*   Statements, imports, allocations
  /api/scenarios/*                        Demo scenarios (when enabled)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
	"github.com/unrolled/secure"
)

// RouterConfig tunes the middleware stack.
type RouterConfig struct {
	AllowedOrigins []string

	// WriteRateLimit is requests per minute per IP on write endpoints.
	// Zero disables the limit.
	WriteRateLimit int

	Production bool
	Scenarios  bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        cfg.Production,
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:      !cfg.Production,
	}).Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
	}))

	writeLimit := func(next http.Handler) http.Handler { return next }
	if cfg.WriteRateLimit > 0 {
		writeLimit = httprate.Limit(cfg.WriteRateLimit, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				writeError(w, http.StatusTooManyRequests, "Too many requests", nil)
			}),
		)
	}

	r.Get("/healthz", h.Healthz)

	r.Route("/api", func(r chi.Router) {
		r.Route("/accounts/{side}/{counterparty}", func(r chi.Router) {
			r.Use(withAccount)

			r.Get("/statement", h.GetStatement)
			r.Get("/movements", h.ListMovements)
			r.Get("/invoices", h.ListInvoices)
			r.Get("/credits", h.ListCredits)
			r.Get("/aging", h.GetAging)
			r.Post("/allocations/preview", h.PreviewAllocation)

			r.Group(func(r chi.Router) {
				r.Use(writeLimit)
				r.Post("/movements", h.ImportMovements)
				r.Post("/allocations", h.ApplyAllocation)
			})
		})

		if cfg.Scenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.With(writeLimit).Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}

// requestLogger writes one zerolog line per request.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				ev := log.Info()
				if status >= http.StatusInternalServerError {
					ev = log.Error()
				}
				ev.Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
