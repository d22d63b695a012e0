package kyc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/veriface/internal/store/core"
)

func TestCanRetry_Cooldown(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		status   core.AttemptStatus
		elapsed  time.Duration
		allowed  bool
		wantMins int
	}{
		{"failed recien creado", core.StatusFailed, 0, false, 60},
		{"failed a mitad de ventana", core.StatusFailed, 30 * time.Minute, false, 30},
		{"failed a segundos del limite", core.StatusFailed, 59*time.Minute + 59*time.Second, false, 1},
		{"failed justo en el limite", core.StatusFailed, time.Hour, true, 0},
		{"failed pasado el limite", core.StatusFailed, 61 * time.Minute, true, 0},
		{"pending nunca", core.StatusPending, 2 * time.Hour, false, 0},
		{"processing nunca", core.StatusProcessing, 2 * time.Hour, false, 0},
		{"completed nunca", core.StatusCompleted, 2 * time.Hour, false, 0},
		{"manual_review nunca", core.StatusManualReview, 2 * time.Hour, false, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			allowed, mins := CanRetry(tc.status, created, created.Add(tc.elapsed), time.Hour)
			require.Equal(t, tc.allowed, allowed)
			require.Equal(t, tc.wantMins, mins)
		})
	}
}

func TestCanRetry_DefaultCooldown(t *testing.T) {
	created := time.Now()
	// cooldown <= 0 cae al default de 1h
	allowed, mins := CanRetry(core.StatusFailed, created, created.Add(10*time.Minute), 0)
	require.False(t, allowed)
	require.Equal(t, 50, mins)
}

func TestCanRetry_MinutesDecrease(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	prev := 61
	for m := 0; m <= 60; m += 5 {
		_, mins := CanRetry(core.StatusFailed, created, created.Add(time.Duration(m)*time.Minute), time.Hour)
		require.LessOrEqual(t, mins, prev, "retry_after no decrece en minuto %d", m)
		prev = mins
	}
	allowed, mins := CanRetry(core.StatusFailed, created, created.Add(time.Hour), time.Hour)
	require.True(t, allowed)
	require.Zero(t, mins)
}
