package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/veriface/internal/clock"
)

func newTestLimiter(max int, window time.Duration) (*Limiter, *clock.Fake) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	l := New(NewMemoryStore(), "t:", max, window)
	l.Clock = clk
	return l, clk
}

func TestLimiter_BasicWindow(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "k")
		require.NoError(t, err)
		require.True(t, res.Allowed, "request %d", i+1)
		require.EqualValues(t, 2-i, res.Remaining)
	}

	res, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Zero(t, res.Remaining)
	require.EqualValues(t, 3, res.CurrentHits)
	require.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestLimiter_SlidingWindow(t *testing.T) {
	l, clk := newTestLimiter(2, time.Minute)
	ctx := context.Background()

	// t=0 y t=30s llenan la ventana.
	res, _ := l.Allow(ctx, "k")
	require.True(t, res.Allowed)
	clk.Advance(30 * time.Second)
	res, _ = l.Allow(ctx, "k")
	require.True(t, res.Allowed)

	clk.Advance(10 * time.Second)
	res, _ = l.Allow(ctx, "k")
	require.False(t, res.Allowed)

	// A t=61s el evento de t=0 salió de la ventana: vuelve a haber lugar.
	clk.Advance(21 * time.Second)
	res, _ = l.Allow(ctx, "k")
	require.True(t, res.Allowed)

	// Pero el de t=30s sigue adentro: la ventana desliza, no resetea.
	res, _ = l.Allow(ctx, "k")
	require.False(t, res.Allowed)
}

func TestLimiter_DeniedNotRecorded(t *testing.T) {
	// Los rechazos no consumen cupo: pasada la ventana el caller recupera
	// el límite completo aunque haya martillado durante el cooldown.
	l, clk := newTestLimiter(1, time.Minute)
	ctx := context.Background()

	res, _ := l.Allow(ctx, "k")
	require.True(t, res.Allowed)
	for i := 0; i < 5; i++ {
		res, _ = l.Allow(ctx, "k")
		require.False(t, res.Allowed)
	}

	clk.Advance(61 * time.Second)
	res, _ = l.Allow(ctx, "k")
	require.True(t, res.Allowed)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)
	ctx := context.Background()

	res, _ := l.Allow(ctx, "a")
	require.True(t, res.Allowed)
	res, _ = l.Allow(ctx, "a")
	require.False(t, res.Allowed)

	res, _ = l.Allow(ctx, "b")
	require.True(t, res.Allowed)
}

func TestLimiter_PerCallLimits(t *testing.T) {
	l, _ := newTestLimiter(100, time.Minute)
	ctx := context.Background()

	// El límite per-endpoint pisa el default del limiter.
	for i := 0; i < 2; i++ {
		res, err := l.AllowWithLimits(ctx, "sensitive", 2, time.Minute)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := l.AllowWithLimits(ctx, "sensitive", 2, time.Minute)
	require.NoError(t, err)
	require.False(t, res.Allowed)
}

func TestLimiter_ZeroConfigAllowsAll(t *testing.T) {
	l, _ := newTestLimiter(0, 0)
	res, err := l.Allow(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

// failingStore simula un backend caído (Redis down).
type failingStore struct{}

func (failingStore) Slide(context.Context, string, time.Time, time.Duration, int64) (SlideResult, error) {
	return SlideResult{}, errors.New("connection refused")
}

func TestLimiter_FailsOpen(t *testing.T) {
	l := New(failingStore{}, "t:", 1, time.Minute)
	ctx := context.Background()

	// Backend caído: todo pasa, y el error no sube al caller.
	for i := 0; i < 10; i++ {
		res, err := l.Allow(ctx, "k")
		require.NoError(t, err)
		require.True(t, res.Allowed)
		require.True(t, res.FailedOpen)
		require.EqualValues(t, 1, res.Remaining)
	}
}

func TestKeyBuilders(t *testing.T) {
	require.Equal(t, "ip:1.2.3.4:/v1/kyc/attempts", IPPathKey("1.2.3.4", "/v1/kyc/attempts"))
	require.Equal(t, "user:u1", UserKey("u1"))
	require.Equal(t, "ep:retry:u1", EndpointUserKey("retry", "u1"))
	require.Equal(t, "ak:k1", APIKeyKey("k1"))
	require.Equal(t, "tier:pro:u1", TierKey("pro", "u1"))
	require.Equal(t, "global", GlobalKey())
	// espacios se sanean para no romper las keys de Redis
	require.Equal(t, "user:a_b", UserKey(" a b "))
}
