package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/ports"
)

// ErrPositionExists se devuelve al intentar abrir un segundo lote en el mismo mercado.
var ErrPositionExists = errors.New("position already exists")

const dailyWindow = 24 * time.Hour

// Ledger es el dueño exclusivo de las posiciones abiertas.
// Toda mutación persiste el snapshot completo; si la escritura falla el estado
// en memoria sigue siendo el autoritativo.
type Ledger struct {
	store    ports.Store
	journal  ports.TradeJournal
	rules    domain.ExitRules
	now      func() time.Time
	counters func() domain.DailyCounters

	mu    sync.Mutex
	state domain.LedgerState
}

// New crea un Ledger vacío. Llamar a Load para recuperar el estado persistido.
// Si el store también implementa ports.TradeJournal, los cierres se registran ahí.
func New(store ports.Store, rules domain.ExitRules) *Ledger {
	l := &Ledger{
		store: store,
		rules: rules,
		now:   time.Now,
		state: domain.NewLedgerState(),
	}
	if j, ok := store.(ports.TradeJournal); ok {
		l.journal = j
	}
	l.state.LastDailyReset = l.now()
	return l
}

// SetClock reemplaza el reloj (tests).
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	l.state.LastDailyReset = now()
}

// SetCountersSource registra de dónde salen los contadores de riesgo que se
// persisten junto al snapshot.
func (l *Ledger) SetCountersSource(fn func() domain.DailyCounters) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counters = fn
}

// Load recupera el snapshot del store. Un store vacío no es un error.
func (l *Ledger) Load(ctx context.Context) error {
	st, err := l.store.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("ledger.Load: %w", err)
	}
	if st.Positions == nil {
		st.Positions = make(map[string]domain.Position)
	}
	if st.LastDailyReset.IsZero() {
		st.LastDailyReset = l.now()
	}

	l.mu.Lock()
	l.state = st
	l.mu.Unlock()

	slog.Info("ledger loaded",
		"open_positions", len(st.Positions),
		"realized_pnl", fmt.Sprintf("$%.2f", st.TotalRealizedPnL),
	)
	return nil
}

// RiskCounters devuelve los contadores de riesgo restaurados del snapshot.
func (l *Ledger) RiskCounters() domain.DailyCounters {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Daily
}

// Open registra una posición a partir de un fill. Devuelve ErrPositionExists
// sin modificar nada si ya hay posición en ese mercado.
func (l *Ledger) Open(ctx context.Context, fill domain.Fill) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.state.Positions[fill.MarketID]; ok {
		slog.Warn("ledger: position already open, ignoring fill",
			"market", fill.MarketID,
			"side", existing.TokenSide,
		)
		return existing, ErrPositionExists
	}

	pos := domain.Position{
		MarketID:     fill.MarketID,
		Question:     fill.Question,
		TokenSide:    fill.TokenSide,
		TokenID:      fill.TokenID,
		EntryPrice:   fill.Price,
		Shares:       fill.Shares,
		CostBasis:    fill.Price * fill.Shares,
		CurrentPrice: fill.Price,
		NegRisk:      fill.NegRisk,
		OpenedAt:     l.now(),
	}
	l.state.Positions[pos.MarketID] = pos

	slog.Info("ledger: position opened",
		"market", pos.MarketID,
		"side", pos.TokenSide,
		"shares", fmt.Sprintf("%.2f", pos.Shares),
		"entry", fmt.Sprintf("%.4f", pos.EntryPrice),
		"cost", fmt.Sprintf("$%.2f", pos.CostBasis),
	)
	l.saveLocked(ctx)
	return pos, nil
}

// Import añade una posición descubierta en el exchange que el ledger no conocía.
// Devuelve false si ya existía.
func (l *Ledger) Import(ctx context.Context, pos domain.Position) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.state.Positions[pos.MarketID]; ok {
		return false
	}
	if pos.CostBasis == 0 {
		pos.CostBasis = pos.EntryPrice * pos.Shares
	}
	if pos.CurrentPrice == 0 {
		pos.CurrentPrice = pos.EntryPrice
	}
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = l.now()
	}
	l.state.Positions[pos.MarketID] = pos

	slog.Info("ledger: remote position imported", "market", pos.MarketID, "shares", pos.Shares)
	l.saveLocked(ctx)
	return true
}

// UpdatePrice actualiza el precio actual de una posición. false si no existe.
func (l *Ledger) UpdatePrice(ctx context.Context, marketID string, price float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.state.Positions[marketID]
	if !ok {
		return false
	}
	pos.CurrentPrice = price
	l.state.Positions[marketID] = pos
	l.saveLocked(ctx)
	return true
}

// EvaluateExits aplica los precios refrescados y devuelve las posiciones que
// deben cerrarse. Los mercados sin precio nuevo usan el último conocido.
// Las posiciones se recorren en orden de market id.
func (l *Ledger) EvaluateExits(ctx context.Context, prices map[string]float64) []domain.ExitDirective {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	changed := false
	var out []domain.ExitDirective

	for _, id := range l.sortedIDsLocked() {
		pos := l.state.Positions[id]
		if p, ok := prices[id]; ok && p != pos.CurrentPrice {
			pos.CurrentPrice = p
			l.state.Positions[id] = pos
			changed = true
		}

		reason, exit := domain.EvaluateExit(pos, now, l.rules)
		if !exit {
			continue
		}

		exitPrice := pos.CurrentPrice
		if reason == domain.ExitZombie {
			exitPrice = 0
		}
		out = append(out, domain.ExitDirective{
			MarketID:  pos.MarketID,
			TokenID:   pos.TokenID,
			TokenSide: pos.TokenSide,
			Shares:    pos.Shares,
			NegRisk:   pos.NegRisk,
			Reason:    reason,
			ExitPrice: exitPrice,
			Dead:      reason != domain.ExitZombie && l.rules.IsZombie(pos, now),
		})
		slog.Info("ledger: exit triggered",
			"market", id,
			"reason", reason,
			"pnl_pct", fmt.Sprintf("%.1f%%", pos.PnLPct()*100),
			"age_days", fmt.Sprintf("%.1f", pos.AgeDays(now)),
		)
	}

	if changed {
		l.saveLocked(ctx)
	}
	return out
}

// Close cierra la posición a exitPrice. Es idempotente: si la posición ya no
// existe devuelve false y no registra nada.
func (l *Ledger) Close(ctx context.Context, marketID string, exitPrice float64, reason domain.ExitReason) (domain.ClosedPosition, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.state.Positions[marketID]
	if !ok {
		slog.Warn("ledger: close on unknown position", "market", marketID, "reason", reason)
		return domain.ClosedPosition{}, false
	}

	now := l.now()
	realized := (exitPrice - pos.EntryPrice) * pos.Shares
	pct := 0.0
	if pos.EntryPrice > 0 {
		pct = (exitPrice - pos.EntryPrice) / pos.EntryPrice
	}
	closed := domain.ClosedPosition{
		ID:          uuid.NewString(),
		MarketID:    pos.MarketID,
		Question:    pos.Question,
		TokenSide:   pos.TokenSide,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		Shares:      pos.Shares,
		RealizedPnL: realized,
		PnLPct:      pct,
		HoldTime:    now.Sub(pos.OpenedAt),
		Reason:      reason,
		ClosedAt:    now,
	}

	delete(l.state.Positions, marketID)
	l.resetDailyLocked(now)
	l.state.TotalRealizedPnL += realized
	l.state.DailyPnL += realized
	l.state.ClosedTrades++
	if realized > 0 {
		l.state.WinningTrades++
	}

	slog.Info("ledger: position closed",
		"market", marketID,
		"reason", reason,
		"exit", fmt.Sprintf("%.4f", exitPrice),
		"pnl", fmt.Sprintf("$%.2f", realized),
	)
	l.saveLocked(ctx)

	if l.journal != nil {
		if err := l.journal.RecordClose(ctx, closed); err != nil {
			slog.Error("ledger: journal write failed", "market", marketID, "err", err)
		}
	}
	return closed, true
}

// Persist guarda el snapshot actual. Se usa tras cambios externos al ledger
// (contadores de riesgo).
func (l *Ledger) Persist(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.saveLocked(ctx)
}

// Has devuelve true si hay posición abierta en el mercado.
func (l *Ledger) Has(marketID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.state.Positions[marketID]
	return ok
}

// Get devuelve la posición abierta de un mercado.
func (l *Ledger) Get(marketID string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.state.Positions[marketID]
	return p, ok
}

// Positions devuelve una copia de las posiciones abiertas ordenadas por market id.
func (l *Ledger) Positions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Position, 0, len(l.state.Positions))
	for _, id := range l.sortedIDsLocked() {
		out = append(out, l.state.Positions[id])
	}
	return out
}

// TotalExposure es la suma del coste de las posiciones abiertas.
func (l *Ledger) TotalExposure() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exposureLocked()
}

// Summary calcula el resumen de cartera para el balance dado.
func (l *Ledger) Summary(balance float64) domain.PortfolioSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetDailyLocked(l.now())

	unrealized := 0.0
	for _, p := range l.state.Positions {
		unrealized += p.UnrealizedPnL()
	}
	winRate := 0.0
	if l.state.ClosedTrades > 0 {
		winRate = float64(l.state.WinningTrades) / float64(l.state.ClosedTrades) * 100
	}
	return domain.PortfolioSummary{
		Balance:          balance,
		OpenPositions:    len(l.state.Positions),
		TotalExposure:    l.exposureLocked(),
		UnrealizedPnL:    unrealized,
		TotalRealizedPnL: l.state.TotalRealizedPnL,
		DailyPnL:         l.state.DailyPnL,
		ClosedTrades:     l.state.ClosedTrades,
		WinRate:          winRate,
	}
}

// RealizedPnL devuelve el PnL realizado acumulado.
func (l *Ledger) RealizedPnL() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.TotalRealizedPnL
}

func (l *Ledger) exposureLocked() float64 {
	total := 0.0
	for _, p := range l.state.Positions {
		total += p.CostBasis
	}
	return total
}

func (l *Ledger) sortedIDsLocked() []string {
	ids := make([]string, 0, len(l.state.Positions))
	for id := range l.state.Positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (l *Ledger) resetDailyLocked(now time.Time) {
	if now.Sub(l.state.LastDailyReset) >= dailyWindow {
		l.state.DailyPnL = 0
		l.state.LastDailyReset = now
	}
}

// saveLocked persiste una copia del estado. Los fallos solo se loguean.
func (l *Ledger) saveLocked(ctx context.Context) {
	snap := l.state
	snap.Positions = make(map[string]domain.Position, len(l.state.Positions))
	for k, v := range l.state.Positions {
		snap.Positions[k] = v
	}
	if l.counters != nil {
		snap.Daily = l.counters()
		l.state.Daily = snap.Daily
	}
	if err := l.store.SaveState(ctx, snap); err != nil {
		slog.Error("ledger: failed to persist state", "err", err)
	}
}
