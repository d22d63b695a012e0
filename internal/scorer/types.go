package scorer

// Tipos espejo de los schemas del ML service. Se validan acá, en el borde
// del colaborador, en vez de confiar en JSON suelto.

// Verdict es el veredicto de la verificación combinada.
type Verdict string

const (
	VerdictApproved     Verdict = "approved"
	VerdictRejected     Verdict = "rejected"
	VerdictManualReview Verdict = "manual_review"
)

// LivenessRequest pide liveness sobre una selfie accesible por URL firmada.
type LivenessRequest struct {
	ImageURL      string `json:"image_url"`
	AttemptID     string `json:"attempt_id"`
	ChallengeType string `json:"challenge_type,omitempty"`
}

// LivenessResult es la respuesta del detector de liveness.
type LivenessResult struct {
	LivenessScore float64        `json:"liveness_score"`
	IsLive        bool           `json:"is_live"`
	Confidence    float64        `json:"confidence"`
	SpoofType     *string        `json:"spoof_type,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	AttemptID     string         `json:"attempt_id,omitempty"`
	Timestamp     float64        `json:"timestamp,omitempty"`
}

// Fallback reporta si el resultado vino del path degradado.
func (r *LivenessResult) Fallback() bool { return metaFallback(r.Metadata) }

// KYCRequest es la verificación combinada: selfie + documento.
type KYCRequest struct {
	AttemptID  string         `json:"attempt_id"`
	SelfieURL  string         `json:"selfie_url"`
	IDFrontURL string         `json:"id_front_url"`
	IDBackURL  string         `json:"id_back_url,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// KYCResult es la respuesta de la verificación combinada.
type KYCResult struct {
	LivenessScore        float64        `json:"liveness_score"`
	MatchScore           float64        `json:"match_score"`
	FraudScore           float64        `json:"fraud_score"`
	DocumentQualityScore float64        `json:"document_quality_score"`
	OverallScore         float64        `json:"overall_score"`
	Status               Verdict        `json:"status"`
	Reasons              []string       `json:"reasons,omitempty"`
	Confidence           float64        `json:"confidence"`
	ProcessingTime       float64        `json:"processing_time"`
	Metadata             map[string]any `json:"metadata,omitempty"`
}

func (r *KYCResult) Fallback() bool { return metaFallback(r.Metadata) }

// HealthResult es la respuesta de /health del ML service.
type HealthResult struct {
	Status    string            `json:"status"` // healthy|unhealthy
	Service   string            `json:"service,omitempty"`
	Version   string            `json:"version,omitempty"`
	Timestamp float64           `json:"timestamp,omitempty"`
	Models    map[string]string `json:"ml_models,omitempty"`
}

func (h *HealthResult) Healthy() bool { return h != nil && h.Status == "healthy" }

func metaFallback(m map[string]any) bool {
	if m == nil {
		return false
	}
	v, ok := m["fallback"].(bool)
	return ok && v
}
