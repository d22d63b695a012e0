// Package kyc es el motor de orquestación de intentos de verificación:
// la máquina de estados, la política de retry/cooldown y el disparo de
// notificaciones. Todo colaborador entra por inyección explícita; acá no
// hay singletons ni lecturas de env.
package kyc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/veriface/internal/audit"
	"github.com/dropDatabas3/veriface/internal/blob"
	"github.com/dropDatabas3/veriface/internal/cache"
	"github.com/dropDatabas3/veriface/internal/clock"
	"github.com/dropDatabas3/veriface/internal/email"
	"github.com/dropDatabas3/veriface/internal/observability/logger"
	"github.com/dropDatabas3/veriface/internal/scorer"
	"github.com/dropDatabas3/veriface/internal/store/core"
)

// Config son los knobs del orquestador.
type Config struct {
	// PublicBaseURL es la base de las URLs firmadas que recibe el scorer.
	PublicBaseURL string

	// RetryCooldown entre un intento fallido y su retry. Default 1h.
	RetryCooldown time.Duration

	// ListLimit acota cuántos intentos devuelve el listado por usuario.
	ListLimit int

	// StatsCacheTTL del agregado por estado. Default 30s.
	StatsCacheTTL time.Duration

	// HealthCacheTTL del estado de salud del scorer. Default 15s.
	HealthCacheTTL time.Duration
}

// Deps son los colaboradores del orquestador. Repo, Blobs, Signer y Scorer
// son obligatorios; el resto es opcional (nil = deshabilitado).
type Deps struct {
	Repo   core.Repository
	Blobs  blob.Storage
	Signer *blob.Signer
	Scorer scorer.Client
	Events EventSink
	Emails email.Sender
	Trail  *audit.Trail
	Cache  cache.Client
	Clock  clock.Clock
}

// Orchestrator es dueño de las transiciones de estado. No sostiene ningún
// lock propio a través de llamadas de red: el arbitraje de concurrencia
// vive en el store (updates condicionales + CAS de claim).
type Orchestrator struct {
	repo   core.Repository
	blobs  blob.Storage
	signer *blob.Signer
	scorer scorer.Client
	events EventSink
	emails email.Sender
	trail  *audit.Trail
	cache  cache.Client
	clk    clock.Clock
	cfg    Config

	// OnOutcome se invoca con el estado final de cada verificación (métricas).
	OnOutcome func(status core.AttemptStatus)

	health singleflight.Group

	// wg cuenta las verificaciones detached en vuelo (shutdown y tests).
	wg sync.WaitGroup
}

func New(d Deps, cfg Config) *Orchestrator {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Events == nil {
		d.Events = nopSink{}
	}
	if cfg.RetryCooldown <= 0 {
		cfg.RetryCooldown = DefaultCooldown
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = 20
	}
	if cfg.StatsCacheTTL <= 0 {
		cfg.StatsCacheTTL = 30 * time.Second
	}
	if cfg.HealthCacheTTL <= 0 {
		cfg.HealthCacheTTL = 15 * time.Second
	}
	return &Orchestrator{
		repo:   d.Repo,
		blobs:  d.Blobs,
		signer: d.Signer,
		scorer: d.Scorer,
		events: d.Events,
		emails: d.Emails,
		trail:  d.Trail,
		cache:  d.Cache,
		clk:    d.Clock,
		cfg:    cfg,
	}
}

// Wait bloquea hasta que no queden verificaciones detached en vuelo.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// ─── Creación / selfie ───

// StartInput es la entrada de la creación de un intento.
type StartInput struct {
	UserID         string
	Image          []byte
	ContentType    string
	DeviceMetadata map[string]any
	IPAddress      string
	Geolocation    string
}

// StartAttempt crea un intento nuevo a partir de la selfie: persiste el blob,
// crea el registro en pending y corre el chequeo de liveness en el mismo
// pase. Devuelve el intento ya transicionado (processing o failed).
func (o *Orchestrator) StartAttempt(ctx context.Context, in StartInput) (*core.VerificationAttempt, error) {
	if _, err := o.repo.GetUser(ctx, in.UserID); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	key := selfieKey(id, in.ContentType)
	if _, err := o.blobs.Put(ctx, key, in.ContentType, bytes.NewReader(in.Image)); err != nil {
		return nil, err
	}

	a := &core.VerificationAttempt{
		ID:             id,
		UserID:         in.UserID,
		SelfieRef:      &key,
		Status:         core.StatusPending,
		DeviceMetadata: in.DeviceMetadata,
		IPAddress:      in.IPAddress,
		Geolocation:    optStr(in.Geolocation),
		CreatedAt:      o.clk.Now(),
	}
	if err := o.repo.CreateAttempt(ctx, a); err != nil {
		return nil, err
	}
	if err := o.repo.IncUserAttemptCount(ctx, in.UserID); err != nil {
		logger.From(ctx).Warn("failed to increment attempt counter",
			logger.UserID(in.UserID), logger.Err(err))
	}

	o.trail.Transition(ctx, a.ID, a.UserID, "", string(core.StatusPending), nil)
	o.events.Enqueue(EventStarted, eventPayload(a, nil))
	o.events.Enqueue(EventSelfieUploaded, eventPayload(a, nil))

	return o.runLiveness(ctx, a)
}

// AttachSelfie carga la selfie en un intento pending ya existente (el caso
// típico: un intento creado por retry, que arranca sin artefactos).
func (o *Orchestrator) AttachSelfie(ctx context.Context, attemptID string, image []byte, contentType string) (*core.VerificationAttempt, error) {
	a, err := o.repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, core.ErrTerminalState
	}
	if a.SelfieRef != nil {
		return nil, ErrSelfiePresent
	}

	key := selfieKey(a.ID, contentType)
	if _, err := o.blobs.Put(ctx, key, contentType, bytes.NewReader(image)); err != nil {
		return nil, err
	}
	a, err = o.repo.UpdateAttempt(ctx, a.ID, core.AttemptPatch{SelfieRef: &key})
	if err != nil {
		return nil, err
	}

	o.events.Enqueue(EventSelfieUploaded, eventPayload(a, nil))
	return o.runLiveness(ctx, a)
}

// runLiveness corre el chequeo de liveness y transiciona pending→processing
// o pending→failed. Un scorer caído degrada (optimista) en vez de colgar.
func (o *Orchestrator) runLiveness(ctx context.Context, a *core.VerificationAttempt) (*core.VerificationAttempt, error) {
	log := logger.From(ctx).With(logger.AttemptID(a.ID))

	var res *scorer.LivenessResult
	url, err := o.signer.SignedURL(o.cfg.PublicBaseURL, *a.SelfieRef)
	if err == nil {
		res, err = o.scorer.DetectLiveness(ctx, scorer.LivenessRequest{
			ImageURL:  url,
			AttemptID: a.ID,
		})
	}
	if err != nil {
		log.Warn("liveness check degraded", logger.Err(err))
		res = scorer.FallbackLiveness(a.ID, err)
	}
	raw, _ := json.Marshal(res)

	next := core.StatusProcessing
	reason := ""
	if !res.IsLive {
		next = core.StatusFailed
		reason = "liveness check failed"
	}
	if err := o.repo.UpdateAttemptStatus(ctx, a.ID, next, nil, raw, reason); err != nil {
		return nil, err
	}

	o.trail.Transition(ctx, a.ID, a.UserID, string(core.StatusPending), string(next), map[string]any{
		"liveness_score": res.LivenessScore,
		"fallback":       res.Fallback(),
	})
	if next == core.StatusFailed {
		log.Info("liveness rejected", logger.Score("liveness", res.LivenessScore))
		o.events.Enqueue(EventVerificationFailed, eventPayload(a, map[string]any{
			"status": string(next),
			"reason": reason,
		}))
		o.reportOutcome(next)
	} else {
		log.Info("liveness passed",
			logger.Score("liveness", res.LivenessScore), logger.Fallback(res.Fallback()))
	}

	return o.repo.GetAttempt(ctx, a.ID)
}

// ─── Documentos ───

// UploadDocument persiste un lado del documento y, si con esta subida quedan
// ambos lados presentes, dispara la verificación combinada en background.
// triggered reporta si este upload fue el que la disparó.
func (o *Orchestrator) UploadDocument(ctx context.Context, attemptID string, side core.DocumentSide, image []byte, contentType string) (att *core.VerificationAttempt, triggered bool, err error) {
	a, err := o.repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, false, err
	}
	if a.Status.Terminal() {
		return nil, false, core.ErrTerminalState
	}
	if a.Status != core.StatusProcessing || a.SelfieRef == nil {
		return nil, false, ErrNotReady
	}

	key := documentKey(a.ID, side, contentType)
	if _, err := o.blobs.Put(ctx, key, contentType, bytes.NewReader(image)); err != nil {
		return nil, false, err
	}
	a, err = o.repo.AttachDocument(ctx, a.ID, side, key)
	if err != nil {
		return nil, false, err
	}

	o.events.Enqueue(EventIDUploaded, eventPayload(a, map[string]any{"side": string(side)}))

	if a.DocumentsComplete() {
		// El claim CAS adentro de runVerification garantiza que si front y
		// back llegan concurrentes, un solo caller dispara el scoring.
		triggered = true
		o.wg.Add(1)
		go o.runVerification(a.ID)
	}
	return a, triggered, nil
}

// runVerification es el paso asíncrono post-trigger: corre detached del
// request HTTP que subió el segundo documento. Cualquier falla acá se
// convierte en un intento failed, nunca en un estado colgado.
func (o *Orchestrator) runVerification(attemptID string) {
	defer o.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	log := logger.L().With(logger.Component("orchestrator"), logger.AttemptID(attemptID))
	ctx = logger.ToContext(ctx, log)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic during verification", logger.Any("panic", r))
			if err := o.repo.MarkAttemptFailed(ctx, attemptID, "internal error during verification"); err != nil &&
				!errors.Is(err, core.ErrTerminalState) {
				log.Error("failed to mark attempt failed after panic", logger.Err(err))
			}
			o.reportOutcome(core.StatusFailed)
		}
	}()

	claimed, err := o.repo.ClaimVerification(ctx, attemptID, o.clk.Now())
	if err != nil {
		log.Error("verification claim failed", logger.Err(err))
		return
	}
	if !claimed {
		// Otro upload concurrente ganó el claim, o el intento ya no califica.
		log.Debug("verification already claimed, skipping")
		return
	}

	a, err := o.repo.GetAttempt(ctx, attemptID)
	if err != nil {
		log.Error("failed to load claimed attempt", logger.Err(err))
		return
	}

	o.events.Enqueue(EventVerificationStarted, eventPayload(a, nil))

	res := o.score(ctx, a)
	raw, _ := json.Marshal(res)
	scores := &core.ScoreSet{
		Liveness:        res.LivenessScore,
		FaceMatch:       res.MatchScore,
		Fraud:           res.FraudScore,
		DocumentQuality: res.DocumentQualityScore,
	}

	now := o.clk.Now()
	var next core.AttemptStatus
	var userStatus core.UserVerificationStatus
	var approvedAt *time.Time
	var reason string
	var event string

	switch res.Status {
	case scorer.VerdictApproved:
		next, userStatus, event = core.StatusCompleted, core.UserApproved, EventVerificationCompleted
		approvedAt = &now
	case scorer.VerdictRejected:
		next, userStatus, event = core.StatusFailed, core.UserRejected, EventVerificationFailed
		reason = rejectionReason(res.Reasons)
	default:
		// Incluye el path degradado: el veredicto lo toma un humano.
		next, userStatus, event = core.StatusManualReview, core.UserUnderReview, EventManualReview
	}

	if err := o.repo.UpdateAttemptStatus(ctx, a.ID, next, scores, raw, reason); err != nil {
		if errors.Is(err, core.ErrTerminalState) {
			log.Warn("attempt reached terminal state concurrently", logger.AttemptStatus(string(next)))
			return
		}
		log.Error("failed to persist verification outcome", logger.Err(err))
		return
	}
	if err := o.repo.SetUserVerification(ctx, a.UserID, userStatus, approvedAt); err != nil {
		log.Error("failed to update user aggregate", logger.UserID(a.UserID), logger.Err(err))
	}

	log.Info("verification resolved",
		logger.AttemptStatus(string(next)),
		logger.Score("overall", res.OverallScore),
		logger.Fallback(res.Fallback()))

	o.trail.Transition(ctx, a.ID, a.UserID, string(core.StatusProcessing), string(next), map[string]any{
		"overall_score": res.OverallScore,
		"fallback":      res.Fallback(),
		"reasons":       res.Reasons,
	})
	payload := eventPayload(a, map[string]any{
		"status":        string(next),
		"overall_score": res.OverallScore,
	})
	if reason != "" {
		payload["reason"] = reason
	}
	o.events.Enqueue(event, payload)
	o.reportOutcome(next)
	o.notifyOutcome(ctx, a.UserID, next)
}

// score llama la verificación combinada; si el scorer no responde, degrada.
func (o *Orchestrator) score(ctx context.Context, a *core.VerificationAttempt) *scorer.KYCResult {
	selfieURL, err := o.signer.SignedURL(o.cfg.PublicBaseURL, *a.SelfieRef)
	if err != nil {
		return scorer.FallbackKYC(a.ID, err)
	}
	frontURL, err := o.signer.SignedURL(o.cfg.PublicBaseURL, *a.DocumentFrontRef)
	if err != nil {
		return scorer.FallbackKYC(a.ID, err)
	}
	backURL, err := o.signer.SignedURL(o.cfg.PublicBaseURL, *a.DocumentBackRef)
	if err != nil {
		return scorer.FallbackKYC(a.ID, err)
	}

	res, err := o.scorer.VerifyKYC(ctx, scorer.KYCRequest{
		AttemptID:  a.ID,
		SelfieURL:  selfieURL,
		IDFrontURL: frontURL,
		IDBackURL:  backURL,
		Metadata:   a.DeviceMetadata,
	})
	if err != nil {
		logger.From(ctx).Warn("combined verification degraded", logger.Err(err))
		return scorer.FallbackKYC(a.ID, err)
	}
	return res
}

// ─── Retry ───

// Retry crea un intento nuevo a partir de uno fallido, gateado por la
// política de cooldown. Nunca muta el intento anterior.
func (o *Orchestrator) Retry(ctx context.Context, attemptID string) (*core.VerificationAttempt, error) {
	prev, err := o.repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	now := o.clk.Now()
	allowed, mins := CanRetry(prev.Status, prev.CreatedAt, now, o.cfg.RetryCooldown)
	if !allowed {
		if !prev.Status.Retryable() {
			return nil, ErrNotRetryable
		}
		return nil, &CooldownError{RetryAfterMinutes: mins}
	}

	// Arrastra contexto de dispositivo/red; nunca scores ni artefactos.
	next := &core.VerificationAttempt{
		ID:             uuid.NewString(),
		UserID:         prev.UserID,
		Status:         core.StatusPending,
		DeviceMetadata: prev.DeviceMetadata,
		IPAddress:      prev.IPAddress,
		Geolocation:    prev.Geolocation,
		CreatedAt:      now,
	}
	if err := o.repo.CreateAttempt(ctx, next); err != nil {
		return nil, err
	}
	if err := o.repo.IncUserAttemptCount(ctx, prev.UserID); err != nil {
		logger.From(ctx).Warn("failed to increment attempt counter",
			logger.UserID(prev.UserID), logger.Err(err))
	}

	o.trail.Record(ctx, audit.Entry{
		Event:     "attempt.retry",
		AttemptID: next.ID,
		UserID:    next.UserID,
		Fields:    map[string]any{"previous_attempt_id": prev.ID},
	})
	o.events.Enqueue(EventRetry, eventPayload(next, map[string]any{
		"previous_attempt_id": prev.ID,
	}))
	return next, nil
}

// ─── Lecturas ───

// AttemptView es el intento más los hints de retry que consume el cliente.
type AttemptView struct {
	*core.VerificationAttempt
	CanRetry          bool `json:"can_retry"`
	RetryAfterMinutes int  `json:"retry_after_minutes"`
}

// View arma la vista externa de un intento.
func (o *Orchestrator) View(a *core.VerificationAttempt) AttemptView {
	allowed, mins := CanRetry(a.Status, a.CreatedAt, o.clk.Now(), o.cfg.RetryCooldown)
	return AttemptView{VerificationAttempt: a, CanRetry: allowed, RetryAfterMinutes: mins}
}

func (o *Orchestrator) GetAttempt(ctx context.Context, id string) (*core.VerificationAttempt, error) {
	return o.repo.GetAttempt(ctx, id)
}

func (o *Orchestrator) ListAttempts(ctx context.Context, userID string) ([]*core.VerificationAttempt, error) {
	return o.repo.ListAttemptsByUser(ctx, userID, o.cfg.ListLimit)
}

// Stats devuelve el agregado de intentos por estado desde `since`, cacheado.
func (o *Orchestrator) Stats(ctx context.Context, since time.Time) ([]core.StatusCount, error) {
	key := "stats:" + since.UTC().Format("2006-01-02")
	if o.cache != nil {
		if v, err := o.cache.Get(ctx, key); err == nil {
			var out []core.StatusCount
			if json.Unmarshal([]byte(v), &out) == nil {
				return out, nil
			}
		}
	}
	out, err := o.repo.CountAttemptsByStatus(ctx, since)
	if err != nil {
		return nil, err
	}
	if o.cache != nil {
		if b, err := json.Marshal(out); err == nil {
			_ = o.cache.Set(ctx, key, string(b), o.cfg.StatsCacheTTL)
		}
	}
	return out, nil
}

// ScorerHealthy chequea la salud del scorer con cache corto y colapso de
// llamadas concurrentes (un solo probe en vuelo por proceso).
func (o *Orchestrator) ScorerHealthy(ctx context.Context) bool {
	if o.cache != nil {
		if v, err := o.cache.Get(ctx, "scorer_health"); err == nil {
			return v == "healthy"
		}
	}
	v, _, _ := o.health.Do("scorer_health", func() (any, error) {
		h, err := o.scorer.Health(ctx)
		healthy := err == nil && h.Healthy()
		if o.cache != nil {
			val := "unhealthy"
			if healthy {
				val = "healthy"
			}
			_ = o.cache.Set(ctx, "scorer_health", val, o.cfg.HealthCacheTTL)
		}
		return healthy, nil
	})
	healthy, _ := v.(bool)
	return healthy
}

// ─── Users ───

// EnsureUser crea el usuario si no existe todavía (idempotente).
func (o *Orchestrator) EnsureUser(ctx context.Context, id, email string) (*core.User, error) {
	if u, err := o.repo.GetUser(ctx, id); err == nil {
		return u, nil
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	u := &core.User{
		ID:                 id,
		Email:              email,
		VerificationStatus: core.UserUnverified,
		CreatedAt:          o.clk.Now(),
	}
	if err := o.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (o *Orchestrator) GetUser(ctx context.Context, id string) (*core.User, error) {
	return o.repo.GetUser(ctx, id)
}

// ─── Internos ───

// notifyOutcome manda el email de resultado. Best-effort: corre en el mismo
// goroutine detached de la verificación y nunca afecta la transición.
func (o *Orchestrator) notifyOutcome(ctx context.Context, userID string, status core.AttemptStatus) {
	if o.emails == nil {
		return
	}
	u, err := o.repo.GetUser(ctx, userID)
	if err != nil || u.Email == "" {
		return
	}
	subject, html, text := outcomeMessage(status)
	if subject == "" {
		return
	}
	if err := o.emails.Send(u.Email, subject, html, text); err != nil {
		logger.From(ctx).Warn("outcome email failed", logger.UserID(userID), logger.Err(err))
	}
}

func (o *Orchestrator) reportOutcome(status core.AttemptStatus) {
	if o.OnOutcome != nil {
		o.OnOutcome(status)
	}
}

func rejectionReason(reasons []string) string {
	if len(reasons) == 0 {
		return "verification rejected"
	}
	return strings.Join(reasons, "; ")
}

func optStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
