// Package economics lleva la cuenta de si el bot paga sus propias llamadas a
// los modelos: coste de API acumulado frente al PnL realizado.
package economics

import (
	"sync"
	"time"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Tracker acumula coste de API y PnL de los cierres. Es seguro para uso concurrente.
type Tracker struct {
	starting float64
	started  time.Time
	now      func() time.Time

	mu       sync.Mutex
	apiCost  float64
	apiCalls int
	pnl      float64
	trades   int
}

// New crea un Tracker con el balance inicial de referencia para el ROI.
func New(startingBalance float64) *Tracker {
	return NewWithClock(startingBalance, time.Now)
}

// NewWithClock permite inyectar el reloj (tests).
func NewWithClock(startingBalance float64, now func() time.Time) *Tracker {
	return &Tracker{starting: startingBalance, started: now(), now: now}
}

// RecordAPICost suma el gasto de un ciclo. Valores negativos se ignoran.
func (t *Tracker) RecordAPICost(costUSD float64, calls int) {
	if costUSD < 0 || calls < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.apiCost += costUSD
	t.apiCalls += calls
}

// RecordTradePnL suma el PnL realizado de un cierre.
func (t *Tracker) RecordTradePnL(pnl float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pnl += pnl
	t.trades++
}

// Snapshot calcula el estado económico con el balance actual.
func (t *Tracker) Snapshot(balance float64) domain.Economics {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := domain.Economics{
		StartingBalance: t.starting,
		CurrentBalance:  balance,
		APICostUSD:      t.apiCost,
		APICalls:        t.apiCalls,
		TradingPnL:      t.pnl,
		ClosedTrades:    t.trades,
		NetProfit:       t.pnl - t.apiCost,
		RuntimeHours:    t.now().Sub(t.started).Hours(),
	}
	e.SelfSustaining = e.NetProfit > 0
	if t.starting > 0 {
		e.ROIPct = (balance - t.starting) / t.starting * 100
	}
	if t.trades > 0 {
		e.CostPerTrade = t.apiCost / float64(t.trades)
	}
	return e
}
