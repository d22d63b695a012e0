package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestDispatcher apunta al server dado y reemplaza sleep por un registro
// de delays para no dormir de verdad.
func newTestDispatcher(url, secret string) (*Dispatcher, *[]time.Duration) {
	d := NewDispatcher(Config{
		URL:         url,
		Secret:      secret,
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	})
	var delays []time.Duration
	d.sleep = func(_ context.Context, dl time.Duration) error {
		delays = append(delays, dl)
		return nil
	}
	return d, &delays
}

func TestSend_DeliversFirstTry(t *testing.T) {
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, delays := newTestDispatcher(srv.URL, "shh")
	ok := d.Send(context.Background(), "kyc.started", map[string]any{"attempt_id": "a1"})
	require.True(t, ok)
	require.Empty(t, *delays)

	var p Payload
	require.NoError(t, json.Unmarshal(gotBody, &p))
	require.Equal(t, "kyc.started", p.Event)
	require.Equal(t, "a1", p.Data["attempt_id"])
	require.NotEmpty(t, p.Timestamp)
	require.Equal(t, p.Signature, gotSig)

	// El receptor valida la firma sobre el payload canónico sin signature.
	canonical, err := json.Marshal(Payload{Event: p.Event, Data: p.Data, Timestamp: p.Timestamp})
	require.NoError(t, err)
	require.True(t, VerifySignature("shh", canonical, gotSig))
	require.False(t, VerifySignature("otro-secret", canonical, gotSig))
}

func TestSend_RetriesOn5xxThenDrops(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, delays := newTestDispatcher(srv.URL, "")
	ok := d.Send(context.Background(), "kyc.started", nil)
	require.False(t, ok)
	require.Equal(t, 3, attempts)

	// Backoff exponencial: base, base*2. (No hay delay después del último.)
	require.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, *delays)
}

func TestSend_RecoversMidRetry(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(srv.URL, "")
	ok := d.Send(context.Background(), "kyc.retry", nil)
	require.True(t, ok)
	require.Equal(t, 3, attempts)
}

func TestSend_PermanentRejectionStopsImmediately(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d, delays := newTestDispatcher(srv.URL, "")
	ok := d.Send(context.Background(), "kyc.started", nil)
	require.False(t, ok)
	require.Equal(t, 1, attempts)
	require.Empty(t, *delays)
}

func TestSend_429Retries(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(srv.URL, "")
	ok := d.Send(context.Background(), "kyc.started", nil)
	require.True(t, ok)
	require.Equal(t, 2, attempts)
}

func TestSend_DisabledAndFiltered(t *testing.T) {
	d, _ := newTestDispatcher("", "")
	require.False(t, d.Send(context.Background(), "kyc.started", nil))

	d2 := NewDispatcher(Config{URL: "http://example.invalid", Events: []string{"kyc.verification_completed"}})
	require.True(t, d2.Accepts("kyc.verification_completed"))
	require.False(t, d2.Accepts("kyc.started"))

	d3 := NewDispatcher(Config{URL: "http://example.invalid", Events: []string{"*"}})
	require.True(t, d3.Accepts("lo-que-sea"))
}

func TestSend_ReportsResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(srv.URL, "")
	var event string
	var delivered bool
	d.OnResult = func(e string, ok bool) { event, delivered = e, ok }

	d.Send(context.Background(), "kyc.manual_review", nil)
	require.Equal(t, "kyc.manual_review", event)
	require.True(t, delivered)
}

func TestBackoffDelay_Capped(t *testing.T) {
	base := 500 * time.Millisecond
	capD := 2 * time.Second
	require.Equal(t, 500*time.Millisecond, backoffDelay(base, capD, 1))
	require.Equal(t, time.Second, backoffDelay(base, capD, 2))
	require.Equal(t, 2*time.Second, backoffDelay(base, capD, 3))
	require.Equal(t, 2*time.Second, backoffDelay(base, capD, 4))
	// overflow de shift también queda capped
	require.Equal(t, capD, backoffDelay(base, capD, 64))
}

func TestNotifier_DeliversAndShutsDown(t *testing.T) {
	var mu sync.Mutex
	got := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(NewDispatcher(Config{URL: srv.URL}), 2, 16)
	for i := 0; i < 5; i++ {
		require.True(t, n.Enqueue("kyc.started", map[string]any{"i": i}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Shutdown(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 5, got)
}

func TestNotifier_EnqueueAfterShutdownIsSafe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(NewDispatcher(Config{URL: srv.URL}), 2, 16)

	// Encolar en paralelo mientras cerramos: simula una verificación en vuelo
	// que termina después del drain del shutdown.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			n.Enqueue("kyc.verification_completed", map[string]any{"i": i})
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Shutdown(ctx))
	<-done

	// Post-shutdown no panica, solo descarta.
	require.False(t, n.Enqueue("kyc.verification_completed", nil))
	// Shutdown repetido tampoco (el close es idempotente).
	require.NoError(t, n.Shutdown(ctx))
}

func TestNotifier_DisabledDispatcherRejectsEnqueue(t *testing.T) {
	n := NewNotifier(NewDispatcher(Config{}), 1, 1)
	require.False(t, n.Enqueue("kyc.started", nil))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, n.Shutdown(ctx))
}
