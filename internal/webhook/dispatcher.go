// Package webhook entrega eventos firmados a un endpoint externo con
// reintentos acotados y backoff exponencial.
//
// La entrega es best-effort: no hay cola durable. Después de agotar los
// reintentos el evento se descarta con un log de error — por diseño, perder
// un webhook nunca falla ni revierte la transición de estado que lo generó.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/dropDatabas3/veriface/internal/clock"
	"github.com/dropDatabas3/veriface/internal/observability/logger"
)

const (
	// SignatureHeader lleva el HMAC-SHA256 hex del payload canónico.
	SignatureHeader = "X-Webhook-Signature"

	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 30 * time.Second
	defaultTimeout     = 10 * time.Second
)

// Config es la configuración explícita del dispatcher. Nada de singletons
// lazy desde env: se construye una vez en el arranque y se inyecta.
type Config struct {
	URL         string
	Secret      string        // si está vacío no se firma
	Timeout     time.Duration // timeout HTTP por intento
	MaxAttempts int           // default 3
	BaseDelay   time.Duration // backoff: min(base*2^(n-1), MaxDelay)
	MaxDelay    time.Duration
	Events      []string // allow-list de eventos; "*" = todos
}

// Payload es el contrato de wire: POST JSON al endpoint configurado.
type Payload struct {
	Event     string         `json:"event"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"` // ISO8601
	Signature string         `json:"signature,omitempty"`
}

// Dispatcher entrega eventos de a uno, con el loop de reintentos adentro.
type Dispatcher struct {
	cfg    Config
	client *http.Client
	clk    clock.Clock

	// OnResult se invoca al final de cada Send (métricas). Opcional.
	OnResult func(event string, delivered bool)

	// sleep es inyectable en tests para no dormir de verdad.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Dispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		clk:    clock.Real{},
		sleep:  sleepCtx,
	}
}

// Enabled reporta si hay un endpoint configurado.
func (d *Dispatcher) Enabled() bool { return d.cfg.URL != "" }

// Accepts reporta si el evento pasa el filtro configurado.
func (d *Dispatcher) Accepts(event string) bool {
	if len(d.cfg.Events) == 0 {
		return true
	}
	for _, e := range d.cfg.Events {
		if e == "*" || e == event {
			return true
		}
	}
	return false
}

// Send entrega el evento con hasta MaxAttempts intentos. Devuelve true si
// alguno obtuvo 2xx. Un 4xx distinto de 429 corta de inmediato (rechazo
// permanente); timeout, error de conexión, 429 y 5xx reintentan con backoff.
func (d *Dispatcher) Send(ctx context.Context, event string, data map[string]any) bool {
	log := logger.From(ctx).With(logger.Component("webhook"), logger.Event(event))

	if !d.Enabled() {
		return false
	}
	if !d.Accepts(event) {
		log.Debug("event filtered by allow-list, skipping")
		return false
	}

	body, signature, err := d.buildBody(event, data)
	if err != nil {
		log.Error("failed to serialize webhook payload", logger.Err(err))
		d.report(event, false)
		return false
	}

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		status, err := d.post(ctx, body, signature)

		switch {
		case err == nil && status >= 200 && status < 300:
			log.Info("webhook delivered", logger.Attempt(attempt), logger.Status(status))
			d.report(event, true)
			return true

		case err == nil && status >= 400 && status < 500 && status != http.StatusTooManyRequests:
			// Rechazo permanente: no insistir.
			log.Warn("webhook permanently rejected", logger.Attempt(attempt), logger.Status(status))
			d.report(event, false)
			return false
		}

		if err != nil {
			log.Warn("webhook attempt failed", logger.Attempt(attempt), logger.Err(err))
		} else {
			log.Warn("webhook attempt failed", logger.Attempt(attempt), logger.Status(status))
		}

		if attempt < d.cfg.MaxAttempts {
			delay := backoffDelay(d.cfg.BaseDelay, d.cfg.MaxDelay, attempt)
			if err := d.sleep(ctx, delay); err != nil {
				// Shutdown en curso: abandonar el envío.
				log.Warn("webhook delivery cancelled", logger.Err(err))
				d.report(event, false)
				return false
			}
		}
	}

	log.Error("webhook dropped after exhausting retries",
		logger.Int("max_attempts", d.cfg.MaxAttempts))
	d.report(event, false)
	return false
}

// buildBody serializa el payload canónico {event,data,timestamp} y, si hay
// secret, lo firma. La firma va en el body y en el header.
func (d *Dispatcher) buildBody(event string, data map[string]any) ([]byte, string, error) {
	p := Payload{
		Event:     event,
		Data:      data,
		Timestamp: d.clk.Now().Format(time.RFC3339),
	}
	var signature string
	if d.cfg.Secret != "" {
		canonical, err := json.Marshal(p)
		if err != nil {
			return nil, "", err
		}
		signature = Sign(d.cfg.Secret, canonical)
		p.Signature = signature
	}
	body, err := json.Marshal(p)
	return body, signature, err
}

func (d *Dispatcher) post(ctx context.Context, body []byte, signature string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (d *Dispatcher) report(event string, delivered bool) {
	if d.OnResult != nil {
		d.OnResult(event, delivered)
	}
}

// backoffDelay calcula min(base * 2^(attempt-1), cap).
func backoffDelay(base, capDelay time.Duration, attempt int) time.Duration {
	d := base << uint(attempt-1)
	if d > capDelay || d <= 0 {
		return capDelay
	}
	return d
}

// Sign computa el HMAC-SHA256 hex del payload canónico.
func Sign(secret string, canonical []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature valida una firma con comparación constant-time.
// Es lo que debe usar el receptor del webhook.
func VerifySignature(secret string, canonical []byte, signature string) bool {
	expected, err := hex.DecodeString(Sign(secret, canonical))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
