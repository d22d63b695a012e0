// Package scorer es el cliente del proveedor externo de scoring ML.
//
// El proveedor se trata como no confiable: timeouts, non-2xx y datos
// parciales son esperables. Este paquete sólo transporta y tipa; la
// traducción de errores a resultados degradados vive en el orquestador,
// que usa los constructores Fallback* de este paquete.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client son las operaciones del scorer que consume el orquestador.
type Client interface {
	DetectLiveness(ctx context.Context, req LivenessRequest) (*LivenessResult, error)
	VerifyKYC(ctx context.Context, req KYCRequest) (*KYCResult, error)
	Health(ctx context.Context) (*HealthResult, error)
}

// HTTPClient habla con el ML service por HTTP JSON.
type HTTPClient struct {
	BaseURL string
	APIKey  string

	// BaseTimeout aplica a las llamadas de una sola faceta. La verificación
	// combinada usa 2× porque es bastante más cara del lado del proveedor.
	BaseTimeout time.Duration

	HTTP *http.Client
}

func NewHTTPClient(baseURL, apiKey string, baseTimeout time.Duration) *HTTPClient {
	if baseTimeout <= 0 {
		baseTimeout = 15 * time.Second
	}
	return &HTTPClient{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		APIKey:      apiKey,
		BaseTimeout: baseTimeout,
		// Sin Timeout acá: el límite por llamada va por contexto.
		HTTP: &http.Client{},
	}
}

func (c *HTTPClient) DetectLiveness(ctx context.Context, req LivenessRequest) (*LivenessResult, error) {
	var out LivenessResult
	if err := c.post(ctx, "/api/v1/detect-liveness", c.BaseTimeout, req, &out); err != nil {
		return nil, err
	}
	if err := validateScore("liveness_score", out.LivenessScore); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) VerifyKYC(ctx context.Context, req KYCRequest) (*KYCResult, error) {
	var out KYCResult
	if err := c.post(ctx, "/api/v1/verify-kyc", 2*c.BaseTimeout, req, &out); err != nil {
		return nil, err
	}
	for name, v := range map[string]float64{
		"liveness_score":         out.LivenessScore,
		"match_score":            out.MatchScore,
		"fraud_score":            out.FraudScore,
		"document_quality_score": out.DocumentQualityScore,
		"overall_score":          out.OverallScore,
	} {
		if err := validateScore(name, v); err != nil {
			return nil, err
		}
	}
	switch out.Status {
	case VerdictApproved, VerdictRejected, VerdictManualReview:
	default:
		return nil, fmt.Errorf("scorer: unknown verdict %q", out.Status)
	}
	return &out, nil
}

func (c *HTTPClient) Health(ctx context.Context) (*HealthResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.BaseTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scorer health: %w", err)
	}
	defer resp.Body.Close()

	var out HealthResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("scorer health decode: %w", err)
	}
	return &out, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, timeout time.Duration, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		// Timeout y connection-refused se tratan igual: el caller degrada.
		return fmt.Errorf("scorer %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("scorer %s read: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("scorer %s: status %d: %s", path, resp.StatusCode, truncate(raw, 200))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("scorer %s decode: %w", path, err)
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
}

func validateScore(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("scorer: %s out of range: %f", name, v)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
