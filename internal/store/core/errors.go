package core

import "errors"

var (
	// ErrNotFound indica que el registro no existe.
	ErrNotFound = errors.New("store: not found")

	// ErrTerminalState indica un intento de mutar un attempt que ya llegó a
	// estado terminal (completed|failed|manual_review). Los terminales son
	// inmutables salvo campos de auditoría.
	ErrTerminalState = errors.New("store: attempt is in a terminal state")

	// ErrConflict indica que una escritura condicional perdió la carrera
	// (updated_at guard).
	ErrConflict = errors.New("store: conditional update conflict")
)
