package webhook

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/veriface/internal/observability/logger"
)

// Notifier expone Enqueue fire-and-forget sobre un pool acotado de workers.
//
// El orquestador nunca bloquea una transición de estado esperando la entrega:
// encola y sigue. Si la cola está llena el evento se descarta con log (misma
// garantía best-effort que el dispatcher). En shutdown los envíos en vuelo
// pueden abandonarse — no es una garantía de durabilidad.
type Notifier struct {
	d      *Dispatcher
	queue  chan job
	g      *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	// mu protege queue contra Enqueue concurrente con el close de Shutdown:
	// una verificación en vuelo que sobrevive al drain no debe panicar.
	mu     sync.RWMutex
	closed bool
}

type job struct {
	event string
	data  map[string]any
}

// NewNotifier arranca `workers` goroutines consumiendo una cola de `buffer`.
func NewNotifier(d *Dispatcher, workers, buffer int) *Notifier {
	if workers <= 0 {
		workers = 2
	}
	if buffer <= 0 {
		buffer = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	n := &Notifier{
		d:      d,
		queue:  make(chan job, buffer),
		g:      g,
		ctx:    gctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		g.Go(n.worker)
	}
	return n
}

func (n *Notifier) worker() error {
	for {
		select {
		case <-n.ctx.Done():
			return nil
		case j, ok := <-n.queue:
			if !ok {
				return nil
			}
			// El resultado ya se loguea/mide dentro de Send.
			_ = n.d.Send(n.ctx, j.event, j.data)
		}
	}
}

// Enqueue encola un evento sin bloquear. Devuelve false si se descartó.
func (n *Notifier) Enqueue(event string, data map[string]any) bool {
	if n == nil || n.d == nil || !n.d.Enabled() {
		return false
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return false
	}
	select {
	case n.queue <- job{event: event, data: data}:
		return true
	default:
		logger.L().Warn("webhook queue full, dropping event",
			logger.Component("webhook"), logger.Event(event))
		return false
	}
}

// Shutdown deja de aceptar trabajo y espera a los workers hasta que el ctx
// expire; después cancela y abandona lo que quede en vuelo.
func (n *Notifier) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- n.g.Wait() }()

	select {
	case err := <-done:
		n.cancel()
		return err
	case <-ctx.Done():
		n.cancel()
		<-done
		return ctx.Err()
	}
}
