package domain

import (
	"math"
	"time"
)

// ExitReason es el trigger que cierra una posición. Se registra al cerrar, no es un estado.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "STOP_LOSS"
	ExitTakeProfit ExitReason = "TAKE_PROFIT"
	ExitStagnation ExitReason = "STAGNATION"
	ExitZombie     ExitReason = "ZOMBIE"
	ExitManual     ExitReason = "MANUAL"
)

// Position es una posición abierta. Pertenece en exclusiva al ledger.
type Position struct {
	MarketID     string    `json:"market_id"`
	Question     string    `json:"question"`
	TokenSide    TokenSide `json:"token_side"`
	TokenID      string    `json:"token_id"`
	EntryPrice   float64   `json:"entry_price"`
	Shares       float64   `json:"shares"`
	CostBasis    float64   `json:"cost_basis"`
	CurrentPrice float64   `json:"current_price"`
	NegRisk      bool      `json:"neg_risk,omitempty"`
	OpenedAt     time.Time `json:"opened_at"`
}

// PnLPct es (current - entry) / entry. 0 si entry no es positivo.
func (p Position) PnLPct() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice
}

// UnrealizedPnL es el valor actual menos el coste.
func (p Position) UnrealizedPnL() float64 {
	return p.Shares*p.CurrentPrice - p.CostBasis
}

// AgeDays devuelve los días que lleva abierta la posición.
func (p Position) AgeDays(now time.Time) float64 {
	if p.OpenedAt.IsZero() {
		return 0
	}
	return now.Sub(p.OpenedAt).Hours() / 24
}

// ClosedPosition es el registro inmutable de un cierre.
type ClosedPosition struct {
	ID          string        `json:"id"`
	MarketID    string        `json:"market_id"`
	Question    string        `json:"question"`
	TokenSide   TokenSide     `json:"token_side"`
	EntryPrice  float64       `json:"entry_price"`
	ExitPrice   float64       `json:"exit_price"`
	Shares      float64       `json:"shares"`
	RealizedPnL float64       `json:"realized_pnl"`
	PnLPct      float64       `json:"pnl_pct"`
	HoldTime    time.Duration `json:"hold_time"`
	Reason      ExitReason    `json:"reason"`
	ClosedAt    time.Time     `json:"closed_at"`
}

// Fill es una compra ejecutada que abre una posición.
type Fill struct {
	MarketID  string
	Question  string
	TokenSide TokenSide
	TokenID   string
	Price     float64
	Shares    float64
	NegRisk   bool
}

// ExitRules son los umbrales de salida.
type ExitRules struct {
	StopLossPct         float64 // 0.10 → cerrar con -10%
	TakeProfitPct       float64 // 0.30 → cerrar con +30%
	StagnationDays      float64
	StagnationThreshold float64 // |pnl| por debajo de esto = "sin movimiento"
	ZombiePrice         float64 // precio por debajo del cual el token se considera muerto
	ZombieDays          float64
}

// DefaultExitRules devuelve los umbrales por defecto.
func DefaultExitRules() ExitRules {
	return ExitRules{
		StopLossPct:         0.10,
		TakeProfitPct:       0.30,
		StagnationDays:      3,
		StagnationThreshold: 0.02,
		ZombiePrice:         0.002,
		ZombieDays:          1,
	}
}

// ExitDirective indica que una posición debe cerrarse.
type ExitDirective struct {
	MarketID  string
	TokenID   string
	TokenSide TokenSide
	Shares    float64
	NegRisk   bool
	Reason    ExitReason
	ExitPrice float64
	// Dead indica que el token también cumple la condición ZOMBIE: si la venta
	// falla la posición se da por perdida en lugar de reintentarse.
	Dead bool
}

// RequiresSell devuelve false para salidas que se cierran sin liquidez (ZOMBIE).
func (d ExitDirective) RequiresSell() bool {
	return d.Reason != ExitZombie
}

// EvaluateExit evalúa los triggers en orden de prioridad; gana el primero.
// STAGNATION se evalúa antes que ZOMBIE.
func EvaluateExit(p Position, now time.Time, r ExitRules) (ExitReason, bool) {
	pnl := p.PnLPct()
	age := p.AgeDays(now)

	switch {
	case r.StopLossPct > 0 && pnl <= -r.StopLossPct:
		return ExitStopLoss, true
	case r.TakeProfitPct > 0 && pnl >= r.TakeProfitPct:
		return ExitTakeProfit, true
	case r.StagnationDays > 0 && age >= r.StagnationDays && math.Abs(pnl) < r.StagnationThreshold:
		return ExitStagnation, true
	case r.IsZombie(p, now):
		return ExitZombie, true
	}
	return "", false
}

// IsZombie devuelve true si el token lleva al menos ZombieDays abierto y
// cotiza por debajo de ZombiePrice.
func (r ExitRules) IsZombie(p Position, now time.Time) bool {
	return p.CurrentPrice < r.ZombiePrice && p.AgeDays(now) >= r.ZombieDays
}
