package domain

import "math"

// Constantes del sizer. Los knobs configurables viven en KellyConfig.
const (
	minSizerPrice        = 0.01
	maxSizerPrice        = 0.99
	bigEdgeThreshold     = 0.15
	bigEdgeBoost         = 1.5
	lowConfidenceLimit   = 0.60
	lowConfidencePenalty = 0.5
	expensivePriceLimit  = 0.85
	expensivePenalty     = 0.7
	minPositionUSD       = 1.0
)

// KellyConfig son los knobs del sizer.
type KellyConfig struct {
	// Multiplier es el fractional-Kelly base (conservadurismo).
	Multiplier float64
	// HighConvictionMultiplier sustituye al base en trades de alta convicción
	// y es el techo del boost por edge grande.
	HighConvictionMultiplier float64
	// MaxFraction es la fracción máxima del balance por trade.
	MaxFraction float64
}

// DefaultKellyConfig devuelve los valores con los que opera el bot por defecto.
func DefaultKellyConfig() KellyConfig {
	return KellyConfig{
		Multiplier:               0.2,
		HighConvictionMultiplier: 0.5,
		MaxFraction:              0.05,
	}
}

// SizeInput son las entradas de una decisión de tamaño.
type SizeInput struct {
	FairValue      float64 // probabilidad YES estimada
	MarketPrice    float64 // precio YES actual
	Direction      Direction
	Confidence     float64
	Balance        float64
	HoursToExpiry  float64
	HighConviction bool
}

// SizeResult es la asignación de capital. PositionSizeUSD == 0 significa "no operar".
type SizeResult struct {
	PositionSizeUSD  float64
	Shares           float64
	RawFraction      float64
	AdjustedFraction float64
	Multiplier       float64 // producto de todos los multiplicadores aplicados
	Price            float64 // precio del token comprado
	TokenSide        TokenSide
}

// Sizer convierte edge + confianza + contexto de cuenta en capital a arriesgar.
type Sizer struct {
	cfg KellyConfig
}

// NewSizer crea un Sizer. Valores no positivos caen a DefaultKellyConfig.
func NewSizer(cfg KellyConfig) *Sizer {
	def := DefaultKellyConfig()
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.HighConvictionMultiplier <= 0 {
		cfg.HighConvictionMultiplier = def.HighConvictionMultiplier
	}
	if cfg.MaxFraction <= 0 {
		cfg.MaxFraction = def.MaxFraction
	}
	return &Sizer{cfg: cfg}
}

// Config devuelve la configuración efectiva.
func (s *Sizer) Config() KellyConfig { return s.cfg }

// Size aplica Kelly fraccional con multiplicadores de convicción, confianza,
// precio, supervivencia y tiempo a resolución.
func (s *Sizer) Size(in SizeInput) SizeResult {
	p, price := in.FairValue, in.MarketPrice
	side := in.Direction.TokenSide()
	if in.Direction == BuyNo {
		p = 1 - in.FairValue
		price = 1 - in.MarketPrice
	}

	zero := SizeResult{Price: price, TokenSide: side}

	if price <= minSizerPrice || price >= maxSizerPrice {
		return zero
	}
	edge := p - price
	if edge <= 0 {
		return zero
	}

	odds := (1 - price) / price
	raw := edge / odds

	mult := s.convictionMultiplier(edge, in.HighConviction)
	if in.Confidence < lowConfidenceLimit {
		mult *= lowConfidencePenalty
	}
	if price > expensivePriceLimit {
		mult *= expensivePenalty
	}
	mult *= SurvivalTier(in.Balance)
	mult *= TimeBonus(in.HoursToExpiry)

	adjusted := math.Min(raw*mult, s.cfg.MaxFraction)
	if adjusted < 0 || math.IsNaN(adjusted) {
		adjusted = 0
	}

	size := math.Floor(in.Balance*adjusted*100) / 100
	if size < minPositionUSD {
		res := zero
		res.RawFraction = raw
		res.AdjustedFraction = adjusted
		res.Multiplier = mult
		return res
	}

	return SizeResult{
		PositionSizeUSD:  size,
		Shares:           size / price,
		RawFraction:      raw,
		AdjustedFraction: adjusted,
		Multiplier:       mult,
		Price:            price,
		TokenSide:        side,
	}
}

// convictionMultiplier elige el fractional-Kelly base. Un edge grande sin flag
// de alta convicción recibe x1.5, sin superar nunca el multiplicador de alta convicción.
func (s *Sizer) convictionMultiplier(edge float64, highConviction bool) float64 {
	if highConviction {
		return s.cfg.HighConvictionMultiplier
	}
	if edge >= bigEdgeThreshold {
		return math.Min(s.cfg.Multiplier*bigEdgeBoost, s.cfg.HighConvictionMultiplier)
	}
	return s.cfg.Multiplier
}

// SurvivalTier es monótono creciente en el balance: más conservador cerca del suelo.
func SurvivalTier(balance float64) float64 {
	switch {
	case balance < 10:
		return 0.4
	case balance < 50:
		return 0.7
	case balance < 200:
		return 1.0
	default:
		return 1.2
	}
}

// TimeBonus premia mercados que se resuelven pronto. 0 horas = fecha desconocida.
func TimeBonus(hoursToExpiry float64) float64 {
	switch {
	case hoursToExpiry <= 0:
		return 1.0
	case hoursToExpiry <= 6:
		return 1.5
	case hoursToExpiry <= 24:
		return 1.3
	case hoursToExpiry <= 72:
		return 1.1
	default:
		return 1.0
	}
}
