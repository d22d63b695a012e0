package core

import (
	"context"
	"time"
)

// Repository es la abstracción de persistencia del dominio KYC.
// Implementaciones: pg (producción) y memory (tests / dev sin DB).
//
// Contratos importantes:
//
//   - Las transiciones de estado dentro de un mismo attempt se arbitran a
//     nivel store: updates condicionales guardados por updated_at, nunca
//     read-modify-write en la capa de aplicación.
//   - UpdateAttemptStatus y MarkAttemptFailed rechazan con ErrTerminalState
//     si el attempt ya es terminal.
//   - ClaimVerification es el CAS que garantiza exactly-once para el disparo
//     de la verificación combinada.
type Repository interface {
	Ping(ctx context.Context) error

	// ─── Attempts ───
	CreateAttempt(ctx context.Context, a *VerificationAttempt) error
	GetAttempt(ctx context.Context, id string) (*VerificationAttempt, error)
	ListAttemptsByUser(ctx context.Context, userID string, limit int) ([]*VerificationAttempt, error)

	// UpdateAttempt aplica un patch parcial y devuelve el attempt resultante.
	UpdateAttempt(ctx context.Context, id string, p AttemptPatch) (*VerificationAttempt, error)

	// AttachDocument guarda la referencia de un lado del documento
	// (sobrescribe si ya existía) y devuelve el attempt actualizado.
	AttachDocument(ctx context.Context, id string, side DocumentSide, ref string) (*VerificationAttempt, error)

	// ClaimVerification marca atómicamente el attempt como "verificación
	// disparada" sólo si: status=processing, ambos lados presentes y nadie
	// lo reclamó antes. Devuelve true únicamente para el caller que ganó.
	ClaimVerification(ctx context.Context, id string, now time.Time) (bool, error)

	// UpdateAttemptStatus transiciona el estado persistiendo scores, la
	// respuesta cruda del scorer y la razón de falla (todos opcionales).
	UpdateAttemptStatus(ctx context.Context, id string, status AttemptStatus, scores *ScoreSet, raw []byte, reason string) error

	// MarkAttemptFailed transiciona a failed con una razón.
	MarkAttemptFailed(ctx context.Context, id string, reason string) error

	// CountAttemptsByStatus agrega intentos por estado desde una fecha
	// (analytics).
	CountAttemptsByStatus(ctx context.Context, since time.Time) ([]StatusCount, error)

	// ─── Users ───
	GetUser(ctx context.Context, id string) (*User, error)
	CreateUser(ctx context.Context, u *User) error

	// SetUserVerification actualiza el agregado a nivel usuario que refleja
	// el resultado del intento (approved|rejected|under_review).
	SetUserVerification(ctx context.Context, userID string, status UserVerificationStatus, approvedAt *time.Time) error

	// IncUserAttemptCount incrementa el contador de intentos de por vida.
	IncUserAttemptCount(ctx context.Context, userID string) error
}
