// Package memory implementa core.Repository en memoria.
//
// Se usa en tests y en modo dev sin base de datos. Todas las operaciones son
// seguras para concurrencia y respetan los mismos contratos que el store de
// Postgres (terminal inmutable, CAS de claim, guard por updated_at).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dropDatabas3/veriface/internal/clock"
	"github.com/dropDatabas3/veriface/internal/store/core"
)

type Store struct {
	mu       sync.Mutex
	clk      clock.Clock
	attempts map[string]*core.VerificationAttempt
	users    map[string]*core.User
}

func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{
		clk:      clk,
		attempts: make(map[string]*core.VerificationAttempt),
		users:    make(map[string]*core.User),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

// ─── Attempts ───

func (s *Store) CreateAttempt(_ context.Context, a *core.VerificationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clk.Now()
	cp := cloneAttempt(a)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = cp.CreatedAt
	s.attempts[cp.ID] = cp
	*a = *cloneAttempt(cp)
	return nil
}

func (s *Store) GetAttempt(_ context.Context, id string) (*core.VerificationAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return cloneAttempt(a), nil
}

func (s *Store) ListAttemptsByUser(_ context.Context, userID string, limit int) ([]*core.VerificationAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.VerificationAttempt
	for _, a := range s.attempts {
		if a.UserID == userID {
			out = append(out, cloneAttempt(a))
		}
	}
	// más recientes primero
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateAttempt(_ context.Context, id string, p core.AttemptPatch) (*core.VerificationAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	if a.Status.Terminal() {
		return nil, core.ErrTerminalState
	}
	if p.SelfieRef != nil {
		a.SelfieRef = p.SelfieRef
	}
	if p.DocumentFrontRef != nil {
		a.DocumentFrontRef = p.DocumentFrontRef
	}
	if p.DocumentBackRef != nil {
		a.DocumentBackRef = p.DocumentBackRef
	}
	if p.DeviceMetadata != nil {
		a.DeviceMetadata = p.DeviceMetadata
	}
	if p.Geolocation != nil {
		a.Geolocation = p.Geolocation
	}
	a.UpdatedAt = s.clk.Now()
	return cloneAttempt(a), nil
}

func (s *Store) AttachDocument(_ context.Context, id string, side core.DocumentSide, ref string) (*core.VerificationAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	if a.Status.Terminal() {
		return nil, core.ErrTerminalState
	}
	r := ref
	switch side {
	case core.SideFront:
		a.DocumentFrontRef = &r
	case core.SideBack:
		a.DocumentBackRef = &r
	}
	a.UpdatedAt = s.clk.Now()
	return cloneAttempt(a), nil
}

func (s *Store) ClaimVerification(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return false, core.ErrNotFound
	}
	if a.Status != core.StatusProcessing || !a.DocumentsComplete() || a.VerificationStartedAt != nil {
		return false, nil
	}
	t := now.UTC()
	a.VerificationStartedAt = &t
	a.UpdatedAt = s.clk.Now()
	return true, nil
}

func (s *Store) UpdateAttemptStatus(_ context.Context, id string, status core.AttemptStatus, scores *core.ScoreSet, raw []byte, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return core.ErrNotFound
	}
	if a.Status.Terminal() {
		return core.ErrTerminalState
	}
	a.Status = status
	if scores != nil {
		a.LivenessScore = ptr(scores.Liveness)
		a.FaceMatchScore = ptr(scores.FaceMatch)
		a.FraudScore = ptr(scores.Fraud)
		a.DocumentQualityScore = ptr(scores.DocumentQuality)
	}
	if raw != nil {
		a.RawScorerResponse = append([]byte(nil), raw...)
	}
	if reason != "" {
		a.FailureReason = &reason
	}
	a.UpdatedAt = s.clk.Now()
	return nil
}

func (s *Store) MarkAttemptFailed(_ context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return core.ErrNotFound
	}
	if a.Status.Terminal() {
		return core.ErrTerminalState
	}
	a.Status = core.StatusFailed
	a.FailureReason = &reason
	a.UpdatedAt = s.clk.Now()
	return nil
}

func (s *Store) CountAttemptsByStatus(_ context.Context, since time.Time) ([]core.StatusCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[core.AttemptStatus]int64{}
	for _, a := range s.attempts {
		if a.CreatedAt.Before(since) {
			continue
		}
		counts[a.Status]++
	}
	out := make([]core.StatusCount, 0, len(counts))
	for st, n := range counts {
		out = append(out, core.StatusCount{Status: st, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

// ─── Users ───

func (s *Store) GetUser(_ context.Context, id string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) CreateUser(_ context.Context, u *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.clk.Now()
	}
	if cp.VerificationStatus == "" {
		cp.VerificationStatus = core.UserUnverified
	}
	s.users[cp.ID] = &cp
	return nil
}

func (s *Store) SetUserVerification(_ context.Context, userID string, status core.UserVerificationStatus, approvedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return core.ErrNotFound
	}
	u.VerificationStatus = status
	u.ApprovedAt = approvedAt
	return nil
}

func (s *Store) IncUserAttemptCount(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return core.ErrNotFound
	}
	u.AttemptCount++
	return nil
}

func cloneAttempt(a *core.VerificationAttempt) *core.VerificationAttempt {
	cp := *a
	cp.SelfieRef = clonePtr(a.SelfieRef)
	cp.DocumentFrontRef = clonePtr(a.DocumentFrontRef)
	cp.DocumentBackRef = clonePtr(a.DocumentBackRef)
	cp.LivenessScore = clonePtr(a.LivenessScore)
	cp.FaceMatchScore = clonePtr(a.FaceMatchScore)
	cp.FraudScore = clonePtr(a.FraudScore)
	cp.DocumentQualityScore = clonePtr(a.DocumentQualityScore)
	cp.FailureReason = clonePtr(a.FailureReason)
	cp.Geolocation = clonePtr(a.Geolocation)
	cp.VerificationStartedAt = clonePtr(a.VerificationStartedAt)
	if a.DeviceMetadata != nil {
		m := make(map[string]any, len(a.DeviceMetadata))
		for k, v := range a.DeviceMetadata {
			m[k] = v
		}
		cp.DeviceMetadata = m
	}
	if a.RawScorerResponse != nil {
		cp.RawScorerResponse = append([]byte(nil), a.RawScorerResponse...)
	}
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func ptr[T any](v T) *T { return &v }
