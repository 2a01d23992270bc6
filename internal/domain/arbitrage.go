package domain

import (
	"math"
	"sort"
)

// ArbitrageConfig controla el detector de arbitraje YES+NO.
type ArbitrageConfig struct {
	MinMargin      float64 // margen mínimo para cubrir costes (0.02)
	MaxKelly       float64 // tope por trade como fracción del balance
	MaxBalancePct  float64 // tope adicional (0.05)
	MinPositionUSD float64 // por debajo se descarta (2)
}

// DefaultArbitrageConfig devuelve los valores por defecto del detector.
func DefaultArbitrageConfig() ArbitrageConfig {
	return ArbitrageConfig{
		MinMargin:      0.02,
		MaxKelly:       0.05,
		MaxBalancePct:  0.05,
		MinPositionUSD: 2.0,
	}
}

// ArbitrageSignal es una combinación YES+NO que paga $1 garantizado por menos de $1.
type ArbitrageSignal struct {
	MarketID     string
	Question     string
	Slug         string
	YesPrice     float64
	NoPrice      float64
	TotalPrice   float64
	ProfitMargin float64 // 1 - TotalPrice
	PositionSize float64 // USDC
	Tokens       [2]Token
}

// ScanArbitrage busca mercados donde yes + no < 1 - MinMargin.
// No necesita modelo de probabilidad, así que se evalúa antes de cualquier inferencia.
// El resultado se ordena por margen descendente (empate: id ascendente).
func ScanArbitrage(markets []MarketQuote, balance float64, cfg ArbitrageConfig) []ArbitrageSignal {
	def := DefaultArbitrageConfig()
	if cfg.MinMargin <= 0 {
		cfg.MinMargin = def.MinMargin
	}
	if cfg.MaxKelly <= 0 {
		cfg.MaxKelly = def.MaxKelly
	}
	if cfg.MaxBalancePct <= 0 {
		cfg.MaxBalancePct = def.MaxBalancePct
	}
	if cfg.MinPositionUSD <= 0 {
		cfg.MinPositionUSD = def.MinPositionUSD
	}

	var signals []ArbitrageSignal
	for _, m := range markets {
		total := m.YesPrice + m.NoPrice
		if m.YesPrice <= 0 || m.NoPrice <= 0 || total >= 1-cfg.MinMargin {
			continue
		}

		size := math.Min(balance*cfg.MaxKelly, balance*cfg.MaxBalancePct)
		size = math.Floor(size*100) / 100
		if size < cfg.MinPositionUSD {
			continue
		}

		signals = append(signals, ArbitrageSignal{
			MarketID:     m.ID,
			Question:     m.Question,
			Slug:         m.Slug,
			YesPrice:     m.YesPrice,
			NoPrice:      m.NoPrice,
			TotalPrice:   total,
			ProfitMargin: 1 - total,
			PositionSize: size,
			Tokens:       m.Tokens,
		})
	}

	sort.Slice(signals, func(i, j int) bool {
		if signals[i].ProfitMargin != signals[j].ProfitMargin {
			return signals[i].ProfitMargin > signals[j].ProfitMargin
		}
		return signals[i].MarketID < signals[j].MarketID
	})
	return signals
}
