package kyc

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRetryable indica que el intento no está en un estado retryable.
	ErrNotRetryable = errors.New("kyc: attempt is not retryable")

	// ErrNotReady indica que el paso pedido no corresponde al estado actual
	// (ej: subir documento antes de pasar liveness).
	ErrNotReady = errors.New("kyc: attempt is not ready for this step")

	// ErrSelfiePresent indica que el intento ya tiene selfie cargada.
	ErrSelfiePresent = errors.New("kyc: attempt already has a selfie")
)

// CooldownError es el rechazo de retry dentro de la ventana de cooldown.
// No es una falla: trae el hint para que el cliente agende el reintento.
type CooldownError struct {
	RetryAfterMinutes int
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("kyc: retry not allowed yet, retry after %d minutes", e.RetryAfterMinutes)
}
