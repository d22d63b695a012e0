// Package audit registra cada transición de estado de los intentos en un
// sink append-only. El log de auditoría es independiente del logging de
// aplicación: es evidencia para compliance, no diagnóstico.
package audit

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/dropDatabas3/veriface/internal/clock"
	"github.com/dropDatabas3/veriface/internal/observability/logger"
)

// Entry es un evento de auditoría serializado como una línea JSON.
type Entry struct {
	Timestamp string         `json:"ts"`
	Event     string         `json:"event"`
	AttemptID string         `json:"attempt_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	From      string         `json:"from,omitempty"`
	To        string         `json:"to,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Trail escribe entradas JSONL a un archivo. Escrituras serializadas por
// mutex; un fallo de escritura se loguea y se descarta, nunca bloquea ni
// falla la transición que lo originó.
type Trail struct {
	mu  sync.Mutex
	f   *os.File
	clk clock.Clock
}

// Open abre (o crea, append) el archivo de auditoría. Path vacío devuelve un
// Trail nil, que descarta todo — auditoría deshabilitada.
func Open(path string, clk clock.Clock) (*Trail, error) {
	if path == "" {
		return nil, nil
	}
	if clk == nil {
		clk = clock.Real{}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Trail{f: f, clk: clk}, nil
}

// Record escribe un evento. Seguro de llamar sobre un Trail nil.
func (t *Trail) Record(ctx context.Context, e Entry) {
	if t == nil {
		return
	}
	e.Timestamp = t.clk.Now().UTC().Format(time.RFC3339Nano)

	b, err := json.Marshal(e)
	if err != nil {
		logger.From(ctx).Warn("audit marshal failed", logger.Err(err), logger.Event(e.Event))
		return
	}
	b = append(b, '\n')

	t.mu.Lock()
	_, err = t.f.Write(b)
	t.mu.Unlock()
	if err != nil {
		logger.From(ctx).Warn("audit write failed", logger.Err(err), logger.Event(e.Event))
	}
}

// Transition es el atajo para el caso común: cambio de estado de un intento.
func (t *Trail) Transition(ctx context.Context, attemptID, userID, from, to string, fields map[string]any) {
	t.Record(ctx, Entry{
		Event:     "attempt.transition",
		AttemptID: attemptID,
		UserID:    userID,
		From:      from,
		To:        to,
		Fields:    fields,
	})
}

func (t *Trail) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.f.Close()
}
