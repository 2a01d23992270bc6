package balance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/ports"
)

// SourceDefault es el origen del valor configurado cuando ninguna fuente respondió.
const SourceDefault = "default"

// Chain prueba las fuentes de balance en orden y devuelve la primera lectura válida.
// Si todas fallan reutiliza la última lectura buena marcada como stale, y si no
// hay ninguna, el balance por defecto.
type Chain struct {
	sources  []ports.BalanceSource
	fallback float64
	now      func() time.Time

	mu   sync.Mutex
	last *domain.BalanceReading
}

// NewChain crea una cadena con el balance por defecto y las fuentes en orden de preferencia.
func NewChain(fallback float64, sources ...ports.BalanceSource) *Chain {
	return &Chain{sources: sources, fallback: fallback, now: time.Now}
}

// Sources devuelve los nombres de las fuentes configuradas.
func (c *Chain) Sources() []string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return names
}

// Read devuelve el balance actual con su procedencia.
func (c *Chain) Read(ctx context.Context) domain.BalanceReading {
	for _, src := range c.sources {
		amount, err := src.Balance(ctx)
		if err != nil {
			slog.Warn("balance source failed", "source", src.Name(), "err", err)
			continue
		}
		if amount < 0 {
			slog.Warn("balance source returned negative amount", "source", src.Name(), "amount", amount)
			continue
		}

		r := domain.BalanceReading{Amount: amount, Source: src.Name(), At: c.now()}
		c.mu.Lock()
		c.last = &r
		c.mu.Unlock()

		slog.Debug("balance read", "source", r.Source, "amount", fmt.Sprintf("$%.2f", amount))
		return r
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last != nil {
		r := *c.last
		r.Stale = true
		slog.Warn("all balance sources failed, using cached reading",
			"source", r.Source,
			"amount", fmt.Sprintf("$%.2f", r.Amount),
			"age", c.now().Sub(r.At).Round(time.Second),
		)
		return r
	}

	slog.Warn("all balance sources failed, using configured default",
		"amount", fmt.Sprintf("$%.2f", c.fallback))
	return domain.BalanceReading{Amount: c.fallback, Source: SourceDefault, Stale: true, At: c.now()}
}
