package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

type apiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorCode        int    `json:"error_code,omitempty"`
	RetryAfterMin    int    `json:"retry_after_minutes,omitempty"`
	RequestID        string `json:"request_id,omitempty"`
}

// Códigos internos de error de la API.
const (
	codeInvalidJSON   = 1102
	codeInvalidImage  = 1103
	codeMissingField  = 1104
	codeUnauthorized  = 1301
	codeRateLimited   = 1401
	codeNotFound      = 1404
	codeConflict      = 1409
	codeNotReady      = 1422
	codeCooldown      = 1429
	codeInternalError = 1500
)

func WriteError(w http.ResponseWriter, status int, code, desc string, errCode int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	rid := w.Header().Get("X-Request-ID")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{
		Error:            code,
		ErrorDescription: desc,
		ErrorCode:        errCode,
		RequestID:        rid,
	})
}

// writeCooldown es el rechazo de retry: no es un error del cliente, trae el
// hint para agendar el reintento.
func writeCooldown(w http.ResponseWriter, retryAfterMinutes int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusConflict)
	_ = json.NewEncoder(w).Encode(apiError{
		Error:            "retry_cooldown",
		ErrorDescription: "retry not allowed yet",
		ErrorCode:        codeCooldown,
		RetryAfterMin:    retryAfterMinutes,
		RequestID:        w.Header().Get("X-Request-ID"),
	})
}

// WriteJSON: respuesta JSON estándar
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON: decodifica JSON de forma tolerante (NO falla por campos desconocidos).
// Valida Content-Type y limita el tamaño del body a 1MB.
func ReadJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if !strings.Contains(ct, "application/json") {
		WriteError(w, http.StatusBadRequest, "invalid_json", "Content-Type debe ser application/json", codeInvalidJSON)
		return false
	}
	// máx 1MB
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && err != io.EOF {
		WriteError(w, http.StatusBadRequest, "invalid_json", "json inválido", codeInvalidJSON)
		return false
	}
	return true
}
