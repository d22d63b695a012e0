package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/veriface/internal/rate"
)

// RouterConfig son las opciones de armado del router y su cadena de
// middlewares.
type RouterConfig struct {
	CORSOrigins []string
	APIKeyHash  string // PHC; vacío = API abierta (dev)
	Limiter     *rate.Limiter
	Metrics     http.Handler // handler de /metrics; nil lo omite
}

// NewRouter arma el router chi con la cadena completa de middlewares.
// Orden (de afuera hacia adentro): Logging → Recover → RequestID → Metrics →
// RateLimit → SecurityHeaders → CORS → rutas.
func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Health y metrics quedan fuera de la API key.
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	// Canje de URLs firmadas: la autenticación es el token mismo.
	r.Get("/v1/files/{token}", h.File)

	// API protegida por API key (si está configurada).
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return WithAPIKey(next, cfg.APIKeyHash)
		})

		r.Post("/v1/users", h.CreateUser)
		r.Get("/v1/users/{userID}", h.GetUser)
		r.Get("/v1/users/{userID}/attempts", h.ListAttempts)

		r.Post("/v1/kyc/attempts", h.StartAttempt)
		r.Get("/v1/kyc/attempts/{attemptID}", h.GetAttempt)
		r.Post("/v1/kyc/attempts/{attemptID}/selfie", h.AttachSelfie)
		r.Post("/v1/kyc/attempts/{attemptID}/documents/{side}", h.UploadDocument)
		r.Post("/v1/kyc/attempts/{attemptID}/retry", h.Retry)

		r.Get("/v1/kyc/stats", h.Stats)
	})

	var handler http.Handler = r
	handler = WithCORS(handler, cfg.CORSOrigins)
	handler = WithSecurityHeaders(handler)
	handler = WithRateLimit(handler, cfg.Limiter)
	handler = WithMetrics(handler)
	handler = WithRequestID(handler)
	handler = WithRecover(handler)
	handler = WithLogging(handler)
	return handler
}
