package kyc

import (
	"math"
	"time"

	"github.com/dropDatabas3/veriface/internal/store/core"
)

// DefaultCooldown es la espera mínima entre un intento fallido y el retry.
const DefaultCooldown = time.Hour

// CanRetry decide si un intento admite retry. Función pura de
// (status, created_at, now): sin side effects, testeable con reloj inyectado.
//
// Permitido sólo si status es failed y pasó el cooldown completo desde la
// creación del intento. retryAfterMinutes es el ceil de lo que falta, en
// minutos, clamped a ≥ 0; decrece estrictamente a medida que avanza el reloj
// y es 0 en cuanto el retry se permite.
func CanRetry(status core.AttemptStatus, createdAt, now time.Time, cooldown time.Duration) (allowed bool, retryAfterMinutes int) {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if !status.Retryable() {
		return false, 0
	}
	elapsed := now.Sub(createdAt)
	if elapsed >= cooldown {
		return true, 0
	}
	mins := int(math.Ceil((cooldown - elapsed).Minutes()))
	if mins < 0 {
		mins = 0
	}
	return false, mins
}
