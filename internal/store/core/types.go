package core

import "time"

// AttemptStatus es el estado de un intento de verificación.
type AttemptStatus string

const (
	StatusPending      AttemptStatus = "pending"
	StatusProcessing   AttemptStatus = "processing"
	StatusCompleted    AttemptStatus = "completed"
	StatusFailed       AttemptStatus = "failed"
	StatusManualReview AttemptStatus = "manual_review"
)

// Terminal reporta si el estado no admite más transiciones automáticas.
// manual_review es terminal para la automatización: queda en manos de un humano.
func (s AttemptStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusManualReview:
		return true
	}
	return false
}

// Retryable reporta si desde este estado se permite crear un intento nuevo.
func (s AttemptStatus) Retryable() bool { return s == StatusFailed }

// UserVerificationStatus es el agregado a nivel usuario que refleja el
// resultado del último intento.
type UserVerificationStatus string

const (
	UserUnverified  UserVerificationStatus = "unverified"
	UserApproved    UserVerificationStatus = "approved"
	UserRejected    UserVerificationStatus = "rejected"
	UserUnderReview UserVerificationStatus = "under_review"
)

// DocumentSide identifica el lado del documento subido.
type DocumentSide string

const (
	SideFront DocumentSide = "front"
	SideBack  DocumentSide = "back"
)

func ValidSide(s string) (DocumentSide, bool) {
	switch DocumentSide(s) {
	case SideFront, SideBack:
		return DocumentSide(s), true
	}
	return "", false
}

// ScoreSet agrupa los cuatro scores que produce la verificación combinada.
// Todos en [0,1].
type ScoreSet struct {
	Liveness        float64 `json:"liveness_score"`
	FaceMatch       float64 `json:"match_score"`
	Fraud           float64 `json:"fraud_score"`
	DocumentQuality float64 `json:"document_quality_score"`
}

// VerificationAttempt es la entidad central: un paso de un usuario por
// captura de selfie + documento + scoring.
type VerificationAttempt struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	// Referencias a blobs (opcionales hasta que se suben).
	SelfieRef        *string `json:"selfie_ref,omitempty"`
	DocumentFrontRef *string `json:"document_front_ref,omitempty"`
	DocumentBackRef  *string `json:"document_back_ref,omitempty"`

	// Scores (ausentes hasta que el scorer responde).
	LivenessScore        *float64 `json:"liveness_score,omitempty"`
	FaceMatchScore       *float64 `json:"match_score,omitempty"`
	FraudScore           *float64 `json:"fraud_score,omitempty"`
	DocumentQualityScore *float64 `json:"document_quality_score,omitempty"`

	Status        AttemptStatus `json:"status"`
	FailureReason *string       `json:"failure_reason,omitempty"`

	// Contexto de dispositivo/red, arrastrado en retries.
	DeviceMetadata map[string]any `json:"device_metadata,omitempty"`
	IPAddress      string         `json:"ip_address,omitempty"`
	Geolocation    *string        `json:"geolocation,omitempty"`

	// Respuesta cruda del scorer para auditoría (JSON).
	RawScorerResponse []byte `json:"-"`

	// VerificationStartedAt marca que la verificación combinada ya fue
	// disparada para este intento (claim). Nil = todavía no.
	VerificationStartedAt *time.Time `json:"verification_started_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentsComplete reporta si ambos lados del documento están presentes.
func (a *VerificationAttempt) DocumentsComplete() bool {
	return a.DocumentFrontRef != nil && a.DocumentBackRef != nil
}

// User es la vista mínima del usuario que necesita el orquestador.
type User struct {
	ID                 string                 `json:"id"`
	Email              string                 `json:"email"`
	VerificationStatus UserVerificationStatus `json:"verification_status"`
	ApprovedAt         *time.Time             `json:"approved_at,omitempty"`
	AttemptCount       int                    `json:"attempt_count"`
	CreatedAt          time.Time              `json:"created_at"`
}

// AttemptPatch son los campos mutables de un intento para updates parciales.
// Solo los punteros no-nil se aplican.
type AttemptPatch struct {
	SelfieRef        *string
	DocumentFrontRef *string
	DocumentBackRef  *string
	DeviceMetadata   map[string]any
	Geolocation      *string
}

// StatusCount es una fila del agregado por estado (analytics).
type StatusCount struct {
	Status AttemptStatus `json:"status"`
	Count  int64         `json:"count"`
}
