// Package rate implementa un rate limiter de ventana deslizante.
//
// El algoritmo cuenta, por key, los timestamps de requests estrictamente más
// nuevos que now−window. Si el conteo llegó al máximo se deniega sin
// registrar; si no, se registra now, se podan los timestamps viejos y se
// refresca el expiry de la key para que las keys sin uso se limpien solas.
//
// La mutación es atómica a nivel store (script Lua en Redis, mutex en
// memoria): nunca read-modify-write en la capa de aplicación.
//
// Política de fallas: si el backend no responde se FALLA ABIERTO — se permite
// el request y se reporta remaining=max. Trade-off deliberado: durante una
// caída de Redis preferimos perder enforcement antes que disponibilidad del
// servicio protegido.
package rate

import (
	"context"
	"time"

	"github.com/dropDatabas3/veriface/internal/clock"
	"github.com/dropDatabas3/veriface/internal/observability/logger"
)

// Result es la decisión del limiter para un request.
type Result struct {
	Allowed     bool
	Remaining   int64
	ResetAt     time.Time     // cuándo sale de la ventana el evento más viejo
	RetryAfter  time.Duration // sólo cuando !Allowed
	CurrentHits int64
	FailedOpen  bool // true si la decisión vino del path fail-open
}

// Store es el backend de contadores con semántica de sorted-set.
type Store interface {
	// Slide ejecuta atómicamente: podar eventos <= now-window, contar los
	// restantes y, si hay lugar (< max), registrar now y refrescar el expiry
	// de la key a window.
	Slide(ctx context.Context, key string, now time.Time, window time.Duration, max int64) (SlideResult, error)
}

// SlideResult es el resultado crudo del backend.
type SlideResult struct {
	Hits     int64     // eventos en ventana ANTES de registrar
	Recorded bool      // true si este request quedó registrado
	Oldest   time.Time // evento más viejo en ventana después de la operación (zero si vacío)
}

// Limiter aplica ventana deslizante sobre un Store.
type Limiter struct {
	Store  Store
	Clock  clock.Clock
	Prefix string
	Max    int64
	Window time.Duration
}

func New(store Store, prefix string, max int, window time.Duration) *Limiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &Limiter{
		Store:  store,
		Clock:  clock.Real{},
		Prefix: prefix,
		Max:    int64(max),
		Window: window,
	}
}

// Allow aplica el límite default del limiter.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	return l.AllowWithLimits(ctx, key, int(l.Max), l.Window)
}

// AllowWithLimits aplica un límite específico (per-endpoint, per-tier, etc.)
// sobre el mismo primitivo. Todas las políticas compuestas (per-IP, per-user,
// per-API-key, techo global) son parameterizaciones de esta llamada con
// distintas keys y límites.
func (l *Limiter) AllowWithLimits(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 || window <= 0 {
		return Result{Allowed: true, Remaining: int64(limit)}, nil
	}
	now := l.now()
	sr, err := l.Store.Slide(ctx, l.Prefix+key, now, window, int64(limit))
	if err != nil {
		// Fail-open: backend caído ⇒ permitir y reportar remaining=max.
		logger.L().Warn("rate limiter backend unavailable, failing open",
			logger.Component("rate"), logger.Key(key), logger.Err(err))
		return Result{
			Allowed:    true,
			Remaining:  int64(limit),
			ResetAt:    now.Add(window),
			FailedOpen: true,
		}, nil
	}

	resetAt := now.Add(window)
	if !sr.Oldest.IsZero() {
		resetAt = sr.Oldest.Add(window)
	}

	if !sr.Recorded {
		// Denegado sin registrar.
		retryAfter := resetAt.Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Result{
			Allowed:     false,
			Remaining:   0,
			ResetAt:     resetAt,
			RetryAfter:  retryAfter,
			CurrentHits: sr.Hits,
		}, nil
	}

	remaining := int64(limit) - sr.Hits - 1
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:     true,
		Remaining:   remaining,
		ResetAt:     resetAt,
		CurrentHits: sr.Hits + 1,
	}, nil
}

func (l *Limiter) now() time.Time {
	if l.Clock != nil {
		return l.Clock.Now()
	}
	return time.Now().UTC()
}
