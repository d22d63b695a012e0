package scorer

// Respuestas degradadas para cuando el scorer no está disponible.
//
// Política elegida (el origen era ambiguo entre optimista y pesimista):
// OPTIMISTA y consistente. Un scorer caído no bloquea al usuario: liveness
// degradado devuelve is_live=true con confianza baja, y la verificación
// combinada degradada termina en manual_review con scores de rango medio.
// La precisión la recupera después un humano; la disponibilidad no se
// negocia. Todos los paths marcan metadata.fallback=true.

// FallbackLiveness construye el resultado degradado de liveness.
func FallbackLiveness(attemptID string, cause error) *LivenessResult {
	return &LivenessResult{
		LivenessScore: 0.5,
		IsLive:        true,
		Confidence:    0.5,
		AttemptID:     attemptID,
		Metadata:      fallbackMeta(cause),
	}
}

// FallbackKYC construye el resultado degradado de la verificación combinada.
func FallbackKYC(attemptID string, cause error) *KYCResult {
	return &KYCResult{
		LivenessScore:        0.5,
		MatchScore:           0.5,
		FraudScore:           0.5,
		DocumentQualityScore: 0.5,
		OverallScore:         0.5,
		Status:               VerdictManualReview,
		Reasons:              []string{"scorer_unavailable"},
		Confidence:           0,
		Metadata:             fallbackMeta(cause),
	}
}

func fallbackMeta(cause error) map[string]any {
	m := map[string]any{"fallback": true}
	if cause != nil {
		m["cause"] = cause.Error()
	}
	return m
}
