package kyc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/veriface/internal/blob"
	"github.com/dropDatabas3/veriface/internal/clock"
	"github.com/dropDatabas3/veriface/internal/scorer"
	"github.com/dropDatabas3/veriface/internal/store/core"
	"github.com/dropDatabas3/veriface/internal/store/memory"
)

// ─── Stubs ───

// stubScorer devuelve respuestas enlatadas; con err seteado simula caída.
type stubScorer struct {
	live    bool
	verdict scorer.Verdict
	reasons []string

	livenessErr error
	kycErr      error

	mu       sync.Mutex
	kycCalls int
}

func (s *stubScorer) DetectLiveness(_ context.Context, req scorer.LivenessRequest) (*scorer.LivenessResult, error) {
	if s.livenessErr != nil {
		return nil, s.livenessErr
	}
	score := 0.95
	if !s.live {
		score = 0.12
	}
	return &scorer.LivenessResult{
		LivenessScore: score,
		IsLive:        s.live,
		Confidence:    0.9,
		AttemptID:     req.AttemptID,
	}, nil
}

func (s *stubScorer) VerifyKYC(_ context.Context, req scorer.KYCRequest) (*scorer.KYCResult, error) {
	s.mu.Lock()
	s.kycCalls++
	s.mu.Unlock()
	if s.kycErr != nil {
		return nil, s.kycErr
	}
	return &scorer.KYCResult{
		LivenessScore:        0.95,
		MatchScore:           0.91,
		FraudScore:           0.05,
		DocumentQualityScore: 0.88,
		OverallScore:         0.9,
		Status:               s.verdict,
		Reasons:              s.reasons,
		Confidence:           0.93,
	}, nil
}

func (s *stubScorer) Health(context.Context) (*scorer.HealthResult, error) {
	return &scorer.HealthResult{Status: "healthy"}, nil
}

func (s *stubScorer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kycCalls
}

// captureSink acumula los eventos encolados, en orden.
type captureSink struct {
	mu     sync.Mutex
	events []string
	data   []map[string]any
}

func (c *captureSink) Enqueue(event string, data map[string]any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	c.data = append(c.data, data)
	return true
}

func (c *captureSink) count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e == event {
			n++
		}
	}
	return n
}

type env struct {
	orc    *Orchestrator
	repo   *memory.Store
	sink   *captureSink
	scorer *stubScorer
	clk    *clock.Fake
}

func newEnv(t *testing.T, sc *stubScorer) *env {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	repo := memory.New(clk)
	sink := &captureSink{}

	signer, err := blob.NewSigner("test-sign-secret", 15*time.Minute, clk)
	require.NoError(t, err)

	orc := New(Deps{
		Repo:   repo,
		Blobs:  blob.NewMemory(),
		Signer: signer,
		Scorer: sc,
		Events: sink,
		Clock:  clk,
	}, Config{PublicBaseURL: "http://localhost:8080"})

	require.NoError(t, repo.CreateUser(context.Background(), &core.User{
		ID:    "user-1",
		Email: "user@example.com",
	}))
	return &env{orc: orc, repo: repo, sink: sink, scorer: sc, clk: clk}
}

func (e *env) start(t *testing.T) *core.VerificationAttempt {
	t.Helper()
	a, err := e.orc.StartAttempt(context.Background(), StartInput{
		UserID:         "user-1",
		Image:          []byte("selfie-bytes"),
		ContentType:    "image/jpeg",
		DeviceMetadata: map[string]any{"os": "android"},
		IPAddress:      "10.0.0.1",
	})
	require.NoError(t, err)
	return a
}

func (e *env) uploadBoth(t *testing.T, attemptID string) {
	t.Helper()
	ctx := context.Background()
	_, _, err := e.orc.UploadDocument(ctx, attemptID, core.SideFront, []byte("front"), "image/jpeg")
	require.NoError(t, err)
	_, triggered, err := e.orc.UploadDocument(ctx, attemptID, core.SideBack, []byte("back"), "image/jpeg")
	require.NoError(t, err)
	require.True(t, triggered)
	e.orc.Wait()
}

// ─── Flujo feliz ───

func TestFlow_Approved(t *testing.T) {
	e := newEnv(t, &stubScorer{live: true, verdict: scorer.VerdictApproved})
	ctx := context.Background()

	a := e.start(t)
	require.Equal(t, core.StatusProcessing, a.Status)
	require.NotNil(t, a.SelfieRef)

	e.uploadBoth(t, a.ID)

	got, err := e.orc.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusCompleted, got.Status)
	require.NotNil(t, got.LivenessScore)
	require.NotNil(t, got.FaceMatchScore)
	require.NotNil(t, got.FraudScore)
	require.NotNil(t, got.DocumentQualityScore)
	require.NotEmpty(t, got.RawScorerResponse)
	require.NotNil(t, got.VerificationStartedAt)

	u, err := e.orc.GetUser(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, core.UserApproved, u.VerificationStatus)
	require.NotNil(t, u.ApprovedAt)
	require.Equal(t, 1, u.AttemptCount)

	require.Equal(t, 1, e.sink.count(EventStarted))
	require.Equal(t, 1, e.sink.count(EventSelfieUploaded))
	require.Equal(t, 2, e.sink.count(EventIDUploaded))
	require.Equal(t, 1, e.sink.count(EventVerificationStarted))
	require.Equal(t, 1, e.sink.count(EventVerificationCompleted))
	require.Zero(t, e.sink.count(EventVerificationFailed))
}

func TestFlow_Rejected(t *testing.T) {
	e := newEnv(t, &stubScorer{live: true, verdict: scorer.VerdictRejected, reasons: []string{"face mismatch"}})
	ctx := context.Background()

	a := e.start(t)
	e.uploadBoth(t, a.ID)

	got, err := e.orc.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	require.Equal(t, "face mismatch", *got.FailureReason)

	u, err := e.orc.GetUser(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, core.UserRejected, u.VerificationStatus)
	require.Nil(t, u.ApprovedAt)

	require.Equal(t, 1, e.sink.count(EventVerificationFailed))
}

func TestFlow_ManualReview(t *testing.T) {
	e := newEnv(t, &stubScorer{live: true, verdict: scorer.VerdictManualReview})
	ctx := context.Background()

	a := e.start(t)
	e.uploadBoth(t, a.ID)

	got, err := e.orc.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusManualReview, got.Status)

	u, err := e.orc.GetUser(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, core.UserUnderReview, u.VerificationStatus)
	require.Equal(t, 1, e.sink.count(EventManualReview))
}

// ─── Liveness ───

func TestLiveness_Rejected(t *testing.T) {
	e := newEnv(t, &stubScorer{live: false})
	ctx := context.Background()

	a := e.start(t)
	require.Equal(t, core.StatusFailed, a.Status)
	require.NotNil(t, a.FailureReason)
	require.Equal(t, "liveness check failed", *a.FailureReason)

	require.Equal(t, 1, e.sink.count(EventVerificationFailed))

	// Terminal: subir documentos ya no corresponde.
	_, _, err := e.orc.UploadDocument(ctx, a.ID, core.SideFront, []byte("front"), "image/jpeg")
	require.ErrorIs(t, err, core.ErrTerminalState)
}

func TestLiveness_ScorerDown_Degrades(t *testing.T) {
	// Scorer caído en liveness: fallback optimista, el intento avanza.
	e := newEnv(t, &stubScorer{livenessErr: errors.New("connection refused"), verdict: scorer.VerdictApproved})

	a := e.start(t)
	require.Equal(t, core.StatusProcessing, a.Status)
}

// ─── Verificación combinada ───

func TestVerification_ScorerDown_GoesToManualReview(t *testing.T) {
	e := newEnv(t, &stubScorer{live: true, kycErr: errors.New("timeout")})
	ctx := context.Background()

	a := e.start(t)
	e.uploadBoth(t, a.ID)

	got, err := e.orc.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusManualReview, got.Status)

	u, err := e.orc.GetUser(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, core.UserUnderReview, u.VerificationStatus)
}

func TestVerification_ExactlyOnce(t *testing.T) {
	// Front y back concurrentes: el claim CAS garantiza un solo scoring.
	sc := &stubScorer{live: true, verdict: scorer.VerdictApproved}
	e := newEnv(t, sc)
	ctx := context.Background()

	a := e.start(t)
	_, _, err := e.orc.UploadDocument(ctx, a.ID, core.SideFront, []byte("front"), "image/jpeg")
	require.NoError(t, err)

	// Simular carrera: dos disparos de verificación sobre el mismo intento.
	_, err = e.repo.AttachDocument(ctx, a.ID, core.SideBack, "attempts/"+a.ID+"/document_back.jpg")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		e.orc.wg.Add(1)
		go e.orc.runVerification(a.ID)
	}
	e.orc.Wait()

	require.Equal(t, 1, sc.calls())
	require.Equal(t, 1, e.sink.count(EventVerificationStarted))
	require.Equal(t, 1, e.sink.count(EventVerificationCompleted))
}

func TestUploadDocument_NotReady(t *testing.T) {
	e := newEnv(t, &stubScorer{live: true, verdict: scorer.VerdictApproved})
	ctx := context.Background()

	// Intento pending sin selfie (camino del retry): documento rechazado.
	a := &core.VerificationAttempt{ID: "bare", UserID: "user-1", Status: core.StatusPending}
	require.NoError(t, e.repo.CreateAttempt(ctx, a))

	_, _, err := e.orc.UploadDocument(ctx, "bare", core.SideFront, []byte("x"), "image/jpeg")
	require.ErrorIs(t, err, ErrNotReady)
}

// ─── Retry ───

func TestRetry_CooldownGate(t *testing.T) {
	e := newEnv(t, &stubScorer{live: false})
	ctx := context.Background()

	a := e.start(t)
	require.Equal(t, core.StatusFailed, a.Status)

	// Inmediato: denegado con el hint completo.
	_, err := e.orc.Retry(ctx, a.ID)
	var cd *CooldownError
	require.ErrorAs(t, err, &cd)
	require.Equal(t, 60, cd.RetryAfterMinutes)

	// A mitad de ventana el hint baja.
	e.clk.Advance(45 * time.Minute)
	_, err = e.orc.Retry(ctx, a.ID)
	require.ErrorAs(t, err, &cd)
	require.Equal(t, 15, cd.RetryAfterMinutes)

	// Pasada la hora: intento nuevo, pending, con contexto arrastrado.
	e.clk.Advance(16 * time.Minute)
	next, err := e.orc.Retry(ctx, a.ID)
	require.NoError(t, err)
	require.NotEqual(t, a.ID, next.ID)
	require.Equal(t, core.StatusPending, next.Status)
	require.Equal(t, "user-1", next.UserID)
	require.Equal(t, map[string]any{"os": "android"}, next.DeviceMetadata)
	require.Equal(t, "10.0.0.1", next.IPAddress)
	require.Nil(t, next.SelfieRef)
	require.Nil(t, next.LivenessScore)

	// El intento anterior quedó intacto.
	prev, err := e.orc.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusFailed, prev.Status)

	require.Equal(t, 1, e.sink.count(EventRetry))

	u, err := e.orc.GetUser(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, 2, u.AttemptCount)
}

func TestRetry_NonFailedStates(t *testing.T) {
	e := newEnv(t, &stubScorer{live: true, verdict: scorer.VerdictApproved})
	ctx := context.Background()

	a := e.start(t)
	e.uploadBoth(t, a.ID)
	e.clk.Advance(2 * time.Hour)

	// completed no admite retry, ni siquiera pasado el cooldown.
	_, err := e.orc.Retry(ctx, a.ID)
	require.ErrorIs(t, err, ErrNotRetryable)
}

func TestRetry_ThenAttachSelfie(t *testing.T) {
	e := newEnv(t, &stubScorer{live: false})
	ctx := context.Background()

	a := e.start(t)
	e.clk.Advance(61 * time.Minute)
	next, err := e.orc.Retry(ctx, a.ID)
	require.NoError(t, err)

	// El segundo intento pasa liveness esta vez.
	e.scorer.live = true
	got, err := e.orc.AttachSelfie(ctx, next.ID, []byte("selfie-2"), "image/jpeg")
	require.NoError(t, err)
	require.Equal(t, core.StatusProcessing, got.Status)
	require.NotNil(t, got.SelfieRef)

	// Una segunda selfie sobre el mismo intento se rechaza.
	_, err = e.orc.AttachSelfie(ctx, next.ID, []byte("selfie-3"), "image/jpeg")
	require.ErrorIs(t, err, ErrSelfiePresent)
}

// ─── Vistas y users ───

func TestView_RetryHints(t *testing.T) {
	e := newEnv(t, &stubScorer{live: false})

	a := e.start(t)
	v := e.orc.View(a)
	require.False(t, v.CanRetry)
	require.Equal(t, 60, v.RetryAfterMinutes)

	e.clk.Advance(time.Hour)
	v = e.orc.View(a)
	require.True(t, v.CanRetry)
	require.Zero(t, v.RetryAfterMinutes)
}

func TestEnsureUser_Idempotent(t *testing.T) {
	e := newEnv(t, &stubScorer{live: true})
	ctx := context.Background()

	u1, err := e.orc.EnsureUser(ctx, "user-2", "a@b.c")
	require.NoError(t, err)
	u2, err := e.orc.EnsureUser(ctx, "user-2", "otro@b.c")
	require.NoError(t, err)
	require.Equal(t, u1.ID, u2.ID)
	require.Equal(t, "a@b.c", u2.Email) // el segundo create no pisa
}

func TestStartAttempt_UnknownUser(t *testing.T) {
	e := newEnv(t, &stubScorer{live: true})
	_, err := e.orc.StartAttempt(context.Background(), StartInput{
		UserID: "nope", Image: []byte("x"), ContentType: "image/jpeg",
	})
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestStats_CountsSince(t *testing.T) {
	e := newEnv(t, &stubScorer{live: false})
	ctx := context.Background()

	e.start(t)
	e.start(t)

	out, err := e.orc.Stats(ctx, e.clk.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, core.StatusFailed, out[0].Status)
	require.EqualValues(t, 2, out[0].Count)
}
