package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// dailyWindow es el periodo tras el cual se reinician los contadores diarios.
const dailyWindow = 24 * time.Hour

// sizeTolerance absorbe el redondeo a céntimos del sizer.
const sizeTolerance = 1e-9

// Decision es el veredicto del gate. Reason describe el primer check que falló.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true, Reason: "ok"} }

func reject(format string, args ...any) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// Gate es la última línea de defensa antes de enviar una orden.
// Es dueño de los contadores diarios de pérdidas y trades.
type Gate struct {
	limits domain.RiskLimits
	now    func() time.Time

	mu    sync.Mutex
	daily domain.DailyCounters
}

// NewGate crea un Gate con los límites dados.
func NewGate(limits domain.RiskLimits) *Gate {
	return NewGateWithClock(limits, time.Now)
}

// NewGateWithClock permite inyectar el reloj (tests).
func NewGateWithClock(limits domain.RiskLimits, now func() time.Time) *Gate {
	return &Gate{
		limits: limits,
		now:    now,
		daily:  domain.DailyCounters{ResetAt: now()},
	}
}

// Limits devuelve los límites configurados.
func (g *Gate) Limits() domain.RiskLimits { return g.limits }

// InSurvivalMode devuelve true cuando el efectivo está en o por debajo del suelo.
// En ese modo no se abren posiciones nuevas pero se siguen vigilando las salidas.
func (g *Gate) InSurvivalMode(cash float64) bool {
	return cash <= g.limits.SurvivalBalance
}

// Account construye la vista de cuenta que Admit evalúa, con los contadores
// diarios ya reiniciados si ha pasado la ventana.
func (g *Gate) Account(balance domain.BalanceReading, exposure float64, open int) domain.AccountState {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maybeResetLocked()

	return domain.AccountState{
		Cash:          balance.Amount,
		TotalExposure: exposure,
		OpenPositions: open,
		DailyLoss:     g.daily.DailyLoss,
		DailyTrades:   g.daily.DailyTrades,
		BalanceSource: balance.Source,
		BalanceStale:  balance.Stale,
	}
}

// Admit evalúa los checks en orden y se detiene en el primero que falla.
func (g *Gate) Admit(sig domain.TradeSignal, acct domain.AccountState) Decision {
	l := g.limits

	if acct.Cash <= l.SurvivalBalance {
		return reject("survival mode: cash $%.2f <= $%.2f", acct.Cash, l.SurvivalBalance)
	}
	if acct.DailyLoss >= l.DailyLossLimit {
		return reject("daily loss limit reached: $%.2f >= $%.2f", acct.DailyLoss, l.DailyLossLimit)
	}
	if acct.DailyTrades >= l.MaxDailyTrades {
		return reject("daily trade limit reached: %d >= %d", acct.DailyTrades, l.MaxDailyTrades)
	}
	if l.MaxOpenPositions > 0 && acct.OpenPositions >= l.MaxOpenPositions {
		return reject("max open positions reached: %d >= %d", acct.OpenPositions, l.MaxOpenPositions)
	}
	if next := acct.TotalExposure + sig.SizeUSD; l.MaxTotalExposure > 0 && next > l.MaxTotalExposure+sizeTolerance {
		return reject("exposure limit: $%.2f > $%.2f", next, l.MaxTotalExposure)
	}
	if avail := acct.AvailableCash(); avail < l.MinTradeCash {
		return reject("insufficient free cash: $%.2f < $%.2f", avail, l.MinTradeCash)
	}
	if maxSize := acct.Cash * l.MaxKellyFraction; sig.SizeUSD > maxSize+sizeTolerance {
		return reject("position too large: $%.2f > $%.2f (%.0f%% of cash)", sig.SizeUSD, maxSize, l.MaxKellyFraction*100)
	}
	if sig.Edge < l.MispricingThreshold {
		return reject("edge too small: %.1f%% < %.1f%%", sig.Edge*100, l.MispricingThreshold*100)
	}
	if sig.Confidence < l.MinConfidence {
		return reject("confidence too low: %.0f%% < %.0f%%", sig.Confidence*100, l.MinConfidence*100)
	}
	if l.RejectStaleBalance && acct.BalanceStale {
		return reject("stale balance from %s", acct.BalanceSource)
	}
	return allow()
}

// RecordTrade cuenta una orden ejecutada en el día.
func (g *Gate) RecordTrade() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maybeResetLocked()
	g.daily.DailyTrades++
}

// RecordClose acumula la pérdida de un cierre. Los beneficios no compensan pérdidas.
func (g *Gate) RecordClose(pnl float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maybeResetLocked()
	if pnl < 0 {
		g.daily.DailyLoss += -pnl
	}
}

// Counters devuelve una copia de los contadores diarios para persistirlos.
func (g *Gate) Counters() domain.DailyCounters {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.daily
}

// Restore carga contadores persistidos. Si ya venció la ventana se reinician.
func (g *Gate) Restore(c domain.DailyCounters) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c.ResetAt.IsZero() {
		c.ResetAt = g.now()
	}
	g.daily = c
	g.maybeResetLocked()
	slog.Debug("risk counters restored",
		"daily_loss", fmt.Sprintf("$%.2f", g.daily.DailyLoss),
		"daily_trades", g.daily.DailyTrades,
	)
}

func (g *Gate) maybeResetLocked() {
	now := g.now()
	if now.Sub(g.daily.ResetAt) < dailyWindow {
		return
	}
	if g.daily.DailyTrades > 0 || g.daily.DailyLoss > 0 {
		slog.Info("risk: daily counters reset",
			"trades", g.daily.DailyTrades,
			"loss", fmt.Sprintf("$%.2f", g.daily.DailyLoss),
		)
	}
	g.daily = domain.DailyCounters{ResetAt: now}
}
