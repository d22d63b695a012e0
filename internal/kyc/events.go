package kyc

import "github.com/dropDatabas3/veriface/internal/store/core"

// Nombres canónicos de los eventos que emite el orquestador.
const (
	EventStarted               = "kyc.started"
	EventSelfieUploaded        = "kyc.selfie_uploaded"
	EventIDUploaded            = "kyc.id_uploaded"
	EventVerificationStarted   = "kyc.verification_started"
	EventVerificationCompleted = "kyc.verification_completed"
	EventVerificationFailed    = "kyc.verification_failed"
	EventManualReview          = "kyc.manual_review"
	EventRetry                 = "kyc.retry"
)

// EventSink es lo que el orquestador necesita del lado de notificaciones:
// encolar sin bloquear. La implementación real es webhook.Notifier.
type EventSink interface {
	Enqueue(event string, data map[string]any) bool
}

// nopSink descarta eventos; se usa cuando no hay webhook configurado.
type nopSink struct{}

func (nopSink) Enqueue(string, map[string]any) bool { return false }

// eventPayload arma el payload estándar de un evento de intento.
func eventPayload(a *core.VerificationAttempt, extra map[string]any) map[string]any {
	data := map[string]any{
		"attempt_id": a.ID,
		"user_id":    a.UserID,
		"status":     string(a.Status),
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}
