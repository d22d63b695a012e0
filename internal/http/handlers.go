package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dropDatabas3/veriface/internal/blob"
	"github.com/dropDatabas3/veriface/internal/kyc"
	"github.com/dropDatabas3/veriface/internal/observability/logger"
	"github.com/dropDatabas3/veriface/internal/rate"
	"github.com/dropDatabas3/veriface/internal/store/core"
)

const defaultMaxUploadBytes = 8 << 20 // 8MB

// Handlers agrupa los endpoints del servicio con sus dependencias.
type Handlers struct {
	Orc    *kyc.Orchestrator
	Blobs  blob.Storage
	Signer *blob.Signer
	Repo   core.Repository

	// SensitiveLimiter es el presupuesto extra de los endpoints caros
	// (uploads y retry), además del límite global por IP. Opcional.
	SensitiveLimiter *rate.Limiter

	MaxUploadBytes int64
}

func (h *Handlers) maxUpload() int64 {
	if h.MaxUploadBytes > 0 {
		return h.MaxUploadBytes
	}
	return defaultMaxUploadBytes
}

// ─────────────── Users ───────────────

type createUserRequest struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !ReadJSON(w, r, &req) {
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	u, err := h.Orc.EnsureUser(r.Context(), req.ID, req.Email)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, u)
}

func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.Orc.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, u)
}

// ─────────────── Attempts ───────────────

// StartAttempt crea un intento desde la selfie (multipart: selfie + user_id,
// opcionalmente device_metadata JSON y geolocation).
func (h *Handlers) StartAttempt(w http.ResponseWriter, r *http.Request) {
	data, ct, ok := h.readImage(w, r, "selfie")
	if !ok {
		return
	}
	userID := r.FormValue("user_id")
	if userID == "" {
		WriteError(w, http.StatusBadRequest, "missing_field", "user_id es requerido", codeMissingField)
		return
	}
	if !enforceLimit(w, r, h.SensitiveLimiter, rate.EndpointUserKey("upload", userID)) {
		return
	}

	var meta map[string]any
	if raw := r.FormValue("device_metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_json", "device_metadata inválido", codeInvalidJSON)
			return
		}
	}

	a, err := h.Orc.StartAttempt(r.Context(), kyc.StartInput{
		UserID:         userID,
		Image:          data,
		ContentType:    ct,
		DeviceMetadata: meta,
		IPAddress:      clientIP(r),
		Geolocation:    r.FormValue("geolocation"),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, h.Orc.View(a))
}

// AttachSelfie carga la selfie en un intento existente (creado por retry).
func (h *Handlers) AttachSelfie(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "attemptID")
	data, ct, ok := h.readImage(w, r, "selfie")
	if !ok {
		return
	}
	if !enforceLimit(w, r, h.SensitiveLimiter, rate.EndpointUserKey("upload", attemptID)) {
		return
	}
	a, err := h.Orc.AttachSelfie(r.Context(), attemptID, data, ct)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.Orc.View(a))
}

type uploadDocumentResponse struct {
	kyc.AttemptView
	VerificationTriggered bool `json:"verification_triggered"`
}

// UploadDocument carga un lado del documento; el segundo lado dispara la
// verificación combinada en background.
func (h *Handlers) UploadDocument(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "attemptID")
	side, ok := core.ValidSide(chi.URLParam(r, "side"))
	if !ok {
		WriteError(w, http.StatusBadRequest, "invalid_side", "side debe ser front o back", codeMissingField)
		return
	}
	data, ct, okImg := h.readImage(w, r, "document")
	if !okImg {
		return
	}
	if !enforceLimit(w, r, h.SensitiveLimiter, rate.EndpointUserKey("upload", attemptID)) {
		return
	}

	a, triggered, err := h.Orc.UploadDocument(r.Context(), attemptID, side, data, ct)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, uploadDocumentResponse{
		AttemptView:           h.Orc.View(a),
		VerificationTriggered: triggered,
	})
}

func (h *Handlers) GetAttempt(w http.ResponseWriter, r *http.Request) {
	a, err := h.Orc.GetAttempt(r.Context(), chi.URLParam(r, "attemptID"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.Orc.View(a))
}

func (h *Handlers) ListAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.Orc.ListAttempts(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	views := make([]kyc.AttemptView, 0, len(attempts))
	for _, a := range attempts {
		views = append(views, h.Orc.View(a))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"attempts": views})
}

// Retry crea un intento nuevo a partir de uno fallido (gateado por cooldown
// y por su propio presupuesto de rate limit).
func (h *Handlers) Retry(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "attemptID")
	if !enforceLimit(w, r, h.SensitiveLimiter, rate.EndpointUserKey("retry", attemptID)) {
		return
	}
	a, err := h.Orc.Retry(r.Context(), attemptID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, h.Orc.View(a))
}

// Stats devuelve el agregado de intentos por estado desde ?since=YYYY-MM-DD
// (default: últimas 24h).
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_since", "since debe ser YYYY-MM-DD", codeMissingField)
			return
		}
		since = t
	}
	counts, err := h.Orc.Stats(r.Context(), since)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"since":  since.Format("2006-01-02"),
		"counts": counts,
	})
}

// ─────────────── Files ───────────────

// File canjea un token de descarga firmado por el blob. Es el endpoint que
// consume el scorer externo vía las URLs firmadas.
func (h *Handlers) File(w http.ResponseWriter, r *http.Request) {
	key, err := h.Signer.Verify(chi.URLParam(r, "token"))
	if err != nil {
		if errors.Is(err, blob.ErrTokenExpired) {
			WriteError(w, http.StatusUnauthorized, "token_expired", "el token de descarga expiró", codeUnauthorized)
			return
		}
		WriteError(w, http.StatusUnauthorized, "invalid_token", "token de descarga inválido", codeUnauthorized)
		return
	}
	obj, err := h.Blobs.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "el archivo no existe", codeNotFound)
			return
		}
		h.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}

// ─────────────── Health ───────────────

func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Readyz chequea los colaboradores: store y scorer. El scorer caído degrada
// (el servicio sigue operando con fallbacks) pero se reporta.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	dbOK := h.Repo.Ping(ctx) == nil
	scorerOK := h.Orc.ScorerHealthy(ctx)

	status := http.StatusOK
	if !dbOK {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, map[string]any{
		"db":     stateWord(dbOK),
		"scorer": stateWord(scorerOK),
	})
}

func stateWord(ok bool) string {
	if ok {
		return "up"
	}
	return "down"
}

// ─────────────── Internos ───────────────

// readImage extrae y valida la imagen del multipart. El tipo real sale de
// los magic bytes, no del header del cliente.
func (h *Handlers) readImage(w http.ResponseWriter, r *http.Request, field string) (data []byte, contentType string, ok bool) {
	max := h.maxUpload()
	r.Body = http.MaxBytesReader(w, r.Body, max+1<<20) // margen para el framing multipart

	file, _, err := r.FormFile(field)
	if err != nil {
		// aceptamos "file" como nombre de campo alternativo
		file, _, err = r.FormFile("file")
	}
	if err != nil {
		WriteError(w, http.StatusBadRequest, "missing_file", "falta el archivo de imagen", codeMissingField)
		return nil, "", false
	}
	defer file.Close()

	data, err = io.ReadAll(io.LimitReader(file, max+1))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_file", "no se pudo leer el archivo", codeInvalidImage)
		return nil, "", false
	}
	if int64(len(data)) > max {
		WriteError(w, http.StatusRequestEntityTooLarge, "file_too_large", "la imagen supera el tamaño máximo", codeInvalidImage)
		return nil, "", false
	}
	ct, valid := sniffImage(data)
	if !valid {
		WriteError(w, http.StatusBadRequest, "unsupported_image", "formato soportado: jpeg, png, webp, heic", codeInvalidImage)
		return nil, "", false
	}
	return data, ct, true
}

// writeDomainError traduce errores de dominio a respuestas HTTP.
func (h *Handlers) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var cooldown *kyc.CooldownError
	switch {
	case errors.Is(err, core.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "el recurso no existe", codeNotFound)
	case errors.Is(err, core.ErrTerminalState):
		WriteError(w, http.StatusConflict, "attempt_terminal", "el intento ya alcanzó un estado final", codeConflict)
	case errors.Is(err, core.ErrConflict):
		WriteError(w, http.StatusConflict, "conflict", "el intento cambió de estado, reintentá la operación", codeConflict)
	case errors.Is(err, kyc.ErrNotReady):
		WriteError(w, http.StatusUnprocessableEntity, "not_ready", "el intento no está listo para este paso", codeNotReady)
	case errors.Is(err, kyc.ErrSelfiePresent):
		WriteError(w, http.StatusConflict, "selfie_present", "el intento ya tiene selfie cargada", codeConflict)
	case errors.Is(err, kyc.ErrNotRetryable):
		WriteError(w, http.StatusConflict, "not_retryable", "sólo los intentos fallidos admiten retry", codeConflict)
	case errors.As(err, &cooldown):
		writeCooldown(w, cooldown.RetryAfterMinutes)
	default:
		logger.From(r.Context()).Error("unhandled error", logger.Path(r.URL.Path), logger.Err(err))
		WriteError(w, http.StatusInternalServerError, "internal_error", "error interno", codeInternalError)
	}
}
