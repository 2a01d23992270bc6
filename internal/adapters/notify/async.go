package notify

// async.go - fan-out no bloqueante hacia varios notifiers.

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/ports"
)

const defaultAsyncBuffer = 64

// Async reparte cada evento a todos los sinks, cada uno con su cola y su
// goroutine. Si una cola está llena el evento se descarta para ese sink.
type Async struct {
	queues []chan domain.Event
	wg     sync.WaitGroup
	once   sync.Once
}

// NewAsync arranca un worker por sink. buffer <= 0 usa el default.
func NewAsync(buffer int, sinks ...ports.Notifier) *Async {
	if buffer <= 0 {
		buffer = defaultAsyncBuffer
	}
	a := &Async{queues: make([]chan domain.Event, len(sinks))}
	for i, sink := range sinks {
		q := make(chan domain.Event, buffer)
		a.queues[i] = q
		a.wg.Add(1)
		go func(n ports.Notifier) {
			defer a.wg.Done()
			for ev := range q {
				n.Notify(context.Background(), ev)
			}
		}(sink)
	}
	return a
}

// Notify encola el evento sin bloquear.
func (a *Async) Notify(_ context.Context, ev domain.Event) {
	for i, q := range a.queues {
		select {
		case q <- ev:
		default:
			slog.Warn("notifier queue full, event dropped", "sink", i, "kind", ev.Kind)
		}
	}
}

// Close deja de aceptar eventos y espera a que se vacíen las colas.
// Notify no se debe llamar después de Close.
func (a *Async) Close() {
	a.once.Do(func() {
		for _, q := range a.queues {
			close(q)
		}
	})
	a.wg.Wait()
}
