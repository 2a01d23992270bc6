package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uncappedSizer() *Sizer {
	return NewSizer(KellyConfig{Multiplier: 0.2, HighConvictionMultiplier: 0.5, MaxFraction: 1.0})
}

func TestSizer_ScenarioHundredDollars(t *testing.T) {
	s := NewSizer(DefaultKellyConfig())
	res := s.Size(SizeInput{
		FairValue:   0.70,
		MarketPrice: 0.55,
		Direction:   BuyYes,
		Confidence:  0.80,
		Balance:     100,
	})

	assert.Greater(t, res.PositionSizeUSD, 0.0)
	assert.Equal(t, SideYes, res.TokenSide)
	assert.LessOrEqual(t, res.AdjustedFraction, s.Config().MaxFraction)
	assert.InDelta(t, 0.55, res.Price, 1e-9)
	assert.InDelta(t, res.PositionSizeUSD/0.55, res.Shares, 1e-9)
}

func TestSizer_BuyNoMapsPriceAndProbability(t *testing.T) {
	s := NewSizer(DefaultKellyConfig())
	res := s.Size(SizeInput{
		FairValue:   0.30,
		MarketPrice: 0.50,
		Direction:   BuyNo,
		Confidence:  0.80,
		Balance:     1000,
	})

	// p=0.70, price=0.50 → raw=0.20; ×0.3 (big edge) ×1.2 (tier) = 0.072 → cap 0.05
	assert.Equal(t, SideNo, res.TokenSide)
	assert.InDelta(t, 0.50, res.Price, 1e-9)
	assert.InDelta(t, 0.20, res.RawFraction, 1e-9)
	assert.InDelta(t, 0.05, res.AdjustedFraction, 1e-9)
	assert.InDelta(t, 50.0, res.PositionSizeUSD, 0.01)
	assert.InDelta(t, 100.0, res.Shares, 0.02)
}

func TestSizer_ZeroWhenNoEdgeOrDegeneratePrice(t *testing.T) {
	s := NewSizer(DefaultKellyConfig())

	cases := []struct {
		name string
		in   SizeInput
	}{
		{"negative edge", SizeInput{FairValue: 0.40, MarketPrice: 0.50, Direction: BuyYes, Confidence: 0.9, Balance: 100}},
		{"zero edge", SizeInput{FairValue: 0.50, MarketPrice: 0.50, Direction: BuyYes, Confidence: 0.9, Balance: 100}},
		{"price too low", SizeInput{FairValue: 0.50, MarketPrice: 0.005, Direction: BuyYes, Confidence: 0.9, Balance: 100}},
		{"price too high", SizeInput{FairValue: 1.00, MarketPrice: 0.995, Direction: BuyYes, Confidence: 0.9, Balance: 100}},
		{"no side too expensive", SizeInput{FairValue: 0.0, MarketPrice: 0.005, Direction: BuyNo, Confidence: 0.9, Balance: 100}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := s.Size(tc.in)
			assert.Equal(t, 0.0, res.PositionSizeUSD)
			assert.Equal(t, 0.0, res.Shares)
		})
	}
}

func TestSizer_NonNegativeAndCappedAcrossGrid(t *testing.T) {
	s := NewSizer(DefaultKellyConfig())
	for fv := 0.0; fv <= 1.0; fv += 0.05 {
		for price := 0.0; price <= 1.0; price += 0.05 {
			for _, conf := range []float64{0, 0.5, 0.6, 0.95} {
				for _, dir := range []Direction{BuyYes, BuyNo} {
					for _, hc := range []bool{false, true} {
						res := s.Size(SizeInput{
							FairValue: fv, MarketPrice: price, Direction: dir,
							Confidence: conf, Balance: 5000, HoursToExpiry: 3, HighConviction: hc,
						})
						require.GreaterOrEqual(t, res.PositionSizeUSD, 0.0)
						require.GreaterOrEqual(t, res.AdjustedFraction, 0.0)
						require.LessOrEqual(t, res.AdjustedFraction, s.Config().MaxFraction)
						require.LessOrEqual(t, res.PositionSizeUSD, 5000*s.Config().MaxFraction+1e-9)
					}
				}
			}
		}
	}
}

func TestSizer_ConfidenceMonotonic(t *testing.T) {
	s := NewSizer(DefaultKellyConfig())
	base := SizeInput{FairValue: 0.65, MarketPrice: 0.55, Direction: BuyYes, Balance: 150}

	low := base
	low.Confidence = 0.55
	high := base
	high.Confidence = 0.65

	assert.GreaterOrEqual(t, s.Size(high).PositionSizeUSD, s.Size(low).PositionSizeUSD)
}

func TestSizer_LowConfidenceHalvesFraction(t *testing.T) {
	s := uncappedSizer()
	in := SizeInput{FairValue: 0.70, MarketPrice: 0.60, Direction: BuyYes, Balance: 100, HoursToExpiry: 100}

	in.Confidence = 0.90
	confident := s.Size(in)
	in.Confidence = 0.50
	unsure := s.Size(in)

	require.Greater(t, confident.AdjustedFraction, 0.0)
	assert.InDelta(t, 0.5, unsure.AdjustedFraction/confident.AdjustedFraction, 1e-9)
}

func TestSizer_ExpensiveEntryPenalty(t *testing.T) {
	s := uncappedSizer()
	res := s.Size(SizeInput{FairValue: 0.97, MarketPrice: 0.90, Direction: BuyYes, Confidence: 0.9, Balance: 100, HoursToExpiry: 100})
	// 0.2 base × 0.7 penalty × 1.0 tier × 1.0 time
	assert.InDelta(t, 0.14, res.Multiplier, 1e-9)
}

func TestSizer_HighConvictionAndBigEdgeBoost(t *testing.T) {
	s := NewSizer(KellyConfig{Multiplier: 0.4, HighConvictionMultiplier: 0.5, MaxFraction: 1.0})
	in := SizeInput{FairValue: 0.80, MarketPrice: 0.60, Direction: BuyYes, Confidence: 0.9, Balance: 100, HoursToExpiry: 100}

	// edge 0.20 ≥ 0.15: 0.4 × 1.5 = 0.6, capped at 0.5
	assert.InDelta(t, 0.5, s.Size(in).Multiplier, 1e-9)

	in.HighConviction = true
	assert.InDelta(t, 0.5, s.Size(in).Multiplier, 1e-9)

	in.HighConviction = false
	in.FairValue = 0.70 // edge 0.10, no boost
	assert.InDelta(t, 0.4, s.Size(in).Multiplier, 1e-9)
}

func TestSizer_DustOrdersAreZero(t *testing.T) {
	s := NewSizer(DefaultKellyConfig())
	res := s.Size(SizeInput{FairValue: 0.60, MarketPrice: 0.50, Direction: BuyYes, Confidence: 0.7, Balance: 8, HoursToExpiry: 100})
	assert.Equal(t, 0.0, res.PositionSizeUSD)
	assert.Greater(t, res.RawFraction, 0.0)
}

func TestSurvivalTier(t *testing.T) {
	assert.Equal(t, 0.4, SurvivalTier(9.99))
	assert.Equal(t, 0.7, SurvivalTier(10))
	assert.Equal(t, 0.7, SurvivalTier(49))
	assert.Equal(t, 1.0, SurvivalTier(50))
	assert.Equal(t, 1.0, SurvivalTier(199))
	assert.Equal(t, 1.2, SurvivalTier(200))
}

func TestTimeBonus(t *testing.T) {
	assert.Equal(t, 1.0, TimeBonus(0))
	assert.Equal(t, 1.5, TimeBonus(5))
	assert.Equal(t, 1.3, TimeBonus(24))
	assert.Equal(t, 1.1, TimeBonus(48))
	assert.Equal(t, 1.0, TimeBonus(500))
}
