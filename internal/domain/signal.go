package domain

import "time"

// TokenSide es el token de un mercado binario.
type TokenSide string

const (
	SideYes TokenSide = "YES"
	SideNo  TokenSide = "NO"
)

// TradeSignal es una decisión de compra ya dimensionada. Inmutable una vez creada.
// Toda señal que llega al RiskGate cumple Edge >= umbral y SizeUSD >= 0.
type TradeSignal struct {
	MarketID       string
	Question       string
	Category       string
	Direction      Direction
	FairValue      float64 // probabilidad combinada usada para decidir
	PrimaryValue   float64
	SecondaryValue float64 // 0 si no hubo segundo modelo
	MarketPrice    float64 // precio YES en el momento de la señal
	Edge           float64
	Confidence     float64
	SizeUSD        float64
	Shares         float64
	EntryPrice     float64 // precio del token comprado
	KellyFraction  float64
	TokenID        string
	TokenSide      TokenSide
	NegRisk        bool
	Recommendation Recommendation
	HighConviction bool
	Rationale      string
	HoursToExpiry  float64
	CreatedAt      time.Time
}

// Score es el criterio de ranking entre señales de un mismo ciclo.
func (s TradeSignal) Score() float64 {
	return s.Edge * s.Confidence
}

// SkipReason explica por qué un mercado no produjo señal. No es un error.
type SkipReason string

const (
	SkipNone             SkipReason = ""
	SkipModelUnavailable SkipReason = "model_unavailable"
	SkipLowConfidence    SkipReason = "low_confidence"
	SkipNoEdge           SkipReason = "no_edge"
	SkipConsensus        SkipReason = "consensus_veto"
	SkipValidation       SkipReason = "validation_failed"
	SkipSizeZero         SkipReason = "size_zero"
	SkipHasPosition      SkipReason = "has_position"
)

// Evaluation es el resultado de analizar un mercado: o bien Signal, o bien Skip.
type Evaluation struct {
	MarketID string
	Signal   *TradeSignal
	Skip     SkipReason
	Detail   string
}

// Traded devuelve true si la evaluación produjo una señal.
func (e Evaluation) Traded() bool {
	return e.Signal != nil
}

// Skipped construye una evaluación sin señal.
func Skipped(marketID string, reason SkipReason, detail string) Evaluation {
	return Evaluation{MarketID: marketID, Skip: reason, Detail: detail}
}
