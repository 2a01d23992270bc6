package domain

import "time"

// AccountState es la vista de la cuenta que consulta el RiskGate.
// Cash es efectivo, no patrimonio: las posiciones abiertas no cuentan.
type AccountState struct {
	Cash          float64
	TotalExposure float64 // suma de CostBasis de las posiciones abiertas
	OpenPositions int
	DailyLoss     float64
	DailyTrades   int
	BalanceSource string
	BalanceStale  bool
}

// AvailableCash es el efectivo no comprometido en posiciones.
func (a AccountState) AvailableCash() float64 {
	return a.Cash - a.TotalExposure
}

// RiskLimits son los umbrales del RiskGate.
type RiskLimits struct {
	SurvivalBalance     float64
	DailyLossLimit      float64
	MaxDailyTrades      int
	MaxOpenPositions    int     // 0 = sin límite
	MaxTotalExposure    float64 // USD comprometidos en posiciones, 0 = sin límite
	MinTradeCash        float64
	MaxKellyFraction    float64
	MispricingThreshold float64
	MinConfidence       float64
	RejectStaleBalance  bool
}

// DefaultRiskLimits devuelve los límites por defecto.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		SurvivalBalance:     5.0,
		DailyLossLimit:      5.0,
		MaxDailyTrades:      3,
		MaxOpenPositions:    10,
		MaxTotalExposure:    80.0,
		MinTradeCash:        1.0,
		MaxKellyFraction:    0.05,
		MispricingThreshold: 0.08,
		MinConfidence:       0.55,
	}
}

// DailyCounters son los contadores diarios del RiskGate, persistidos con el ledger.
type DailyCounters struct {
	DailyLoss   float64   `json:"daily_loss"`
	DailyTrades int       `json:"daily_trades"`
	ResetAt     time.Time `json:"reset_at"`
}

// BalanceReading es un balance con su procedencia. Stale indica que el valor
// no viene de una lectura fresca (caché o valor por defecto).
type BalanceReading struct {
	Amount float64
	Source string
	Stale  bool
	At     time.Time
}

// LedgerState es el snapshot persistido tras cada mutación del ledger.
type LedgerState struct {
	Positions        map[string]Position `json:"open_positions"`
	TotalRealizedPnL float64             `json:"total_realized_pnl"`
	DailyPnL         float64             `json:"daily_pnl"`
	LastDailyReset   time.Time           `json:"last_daily_reset"`
	ClosedTrades     int                 `json:"closed_trades"`
	WinningTrades    int                 `json:"winning_trades"`
	Daily            DailyCounters       `json:"risk_counters"`
}

// NewLedgerState devuelve un snapshot vacío con el map inicializado.
func NewLedgerState() LedgerState {
	return LedgerState{Positions: make(map[string]Position)}
}

// PortfolioSummary es el resumen de cartera para reportes.
type PortfolioSummary struct {
	Balance          float64
	OpenPositions    int
	TotalExposure    float64
	UnrealizedPnL    float64
	TotalRealizedPnL float64
	DailyPnL         float64
	ClosedTrades     int
	WinRate          float64 // 0-100
}
