package scorer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDetectLiveness_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/detect-liveness", r.URL.Path)
		require.Equal(t, "clave", r.Header.Get("X-API-Key"))

		var req LivenessRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "a1", req.AttemptID)
		require.NotEmpty(t, req.ImageURL)

		json.NewEncoder(w).Encode(LivenessResult{
			LivenessScore: 0.93, IsLive: true, Confidence: 0.88, AttemptID: req.AttemptID,
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "clave", time.Second)
	res, err := c.DetectLiveness(context.Background(), LivenessRequest{
		ImageURL: "http://files/x", AttemptID: "a1",
	})
	require.NoError(t, err)
	require.True(t, res.IsLive)
	require.Equal(t, 0.93, res.LivenessScore)
	require.False(t, res.Fallback())
}

func TestDetectLiveness_ScoreOutOfRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(LivenessResult{LivenessScore: 1.7, IsLive: true})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	_, err := c.DetectLiveness(context.Background(), LivenessRequest{ImageURL: "x"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "out of range")
}

func TestVerifyKYC_OKAndUnknownVerdict(t *testing.T) {
	status := VerdictApproved
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/verify-kyc", r.URL.Path)
		json.NewEncoder(w).Encode(KYCResult{
			LivenessScore: 0.9, MatchScore: 0.9, FraudScore: 0.1,
			DocumentQualityScore: 0.8, OverallScore: 0.85,
			Status: status, Confidence: 0.9,
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	res, err := c.VerifyKYC(context.Background(), KYCRequest{AttemptID: "a1"})
	require.NoError(t, err)
	require.Equal(t, VerdictApproved, res.Status)

	status = "tal_vez"
	_, err = c.VerifyKYC(context.Background(), KYCRequest{AttemptID: "a1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown verdict")
}

func TestPost_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "modelo caído", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	_, err := c.DetectLiveness(context.Background(), LivenessRequest{ImageURL: "x"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 503")
}

func TestPost_TimeoutIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 50*time.Millisecond)
	_, err := c.DetectLiveness(context.Background(), LivenessRequest{ImageURL: "x"})
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		json.NewEncoder(w).Encode(HealthResult{Status: "healthy", Service: "ml-scorer"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	h, err := c.Health(context.Background())
	require.NoError(t, err)
	require.True(t, h.Healthy())
}

func TestFallbacks(t *testing.T) {
	lr := FallbackLiveness("a1", context.DeadlineExceeded)
	require.True(t, lr.IsLive) // política optimista: la caída del scorer no bloquea al usuario
	require.Equal(t, 0.5, lr.LivenessScore)
	require.True(t, lr.Fallback())

	kr := FallbackKYC("a1", context.DeadlineExceeded)
	require.Equal(t, VerdictManualReview, kr.Status)
	require.True(t, kr.Fallback())
	require.Contains(t, kr.Reasons, "scorer_unavailable")
}
