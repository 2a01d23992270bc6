package strategy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyedge/internal/application/strategy"
	"github.com/alejandrodnm/polyedge/internal/domain"
)

type fakeModel struct {
	name      string
	estimates map[string]domain.FairValueEstimate
	err       error
	calls     int
}

func (f *fakeModel) Name() string { return f.name }

func (f *fakeModel) Estimate(_ context.Context, m domain.MarketQuote) (domain.FairValueEstimate, error) {
	f.calls++
	if f.err != nil {
		return domain.FairValueEstimate{}, f.err
	}
	est, ok := f.estimates[m.ID]
	if !ok {
		return domain.FairValueEstimate{}, errors.New("no estimate")
	}
	return est, nil
}

func model(name string, byID map[string][2]float64) *fakeModel {
	m := &fakeModel{name: name, estimates: make(map[string]domain.FairValueEstimate)}
	for id, pc := range byID {
		m.estimates[id] = domain.FairValueEstimate{Probability: pc[0], Confidence: pc[1], Rationale: "because"}
	}
	return m
}

type fakeChecker struct{ result domain.ValidationResult }

func (f fakeChecker) Check(context.Context, domain.MarketQuote, domain.FairValueEstimate) domain.ValidationResult {
	return f.result
}

func quote(id string, yes float64) domain.MarketQuote {
	return domain.MarketQuote{
		ID:       id,
		Question: "Question " + id,
		YesPrice: yes,
		NoPrice:  1 - yes,
		Tokens:   [2]domain.Token{{TokenID: id + "-yes", Outcome: "Yes"}, {TokenID: id + "-no", Outcome: "No"}},
	}
}

func cfg() strategy.Config {
	return strategy.Config{MispricingThreshold: 0.08, MinConfidence: 0.55, HighConvictionConfidence: 0.8}
}

func sizer() *domain.Sizer { return domain.NewSizer(domain.DefaultKellyConfig()) }

func TestEvaluate_PrimaryOnlySignal(t *testing.T) {
	a := strategy.New(cfg(), sizer(), model("p", map[string][2]float64{"m1": {0.70, 0.8}}), nil, nil)

	ev := a.Evaluate(context.Background(), quote("m1", 0.55), 100)
	require.True(t, ev.Traded())
	s := ev.Signal
	assert.Equal(t, domain.BuyYes, s.Direction)
	assert.Equal(t, domain.SideYes, s.TokenSide)
	assert.Equal(t, "m1-yes", s.TokenID)
	assert.InDelta(t, 0.15, s.Edge, 1e-9)
	assert.Greater(t, s.SizeUSD, 0.0)
	assert.LessOrEqual(t, s.KellyFraction, 0.05)
	assert.Equal(t, domain.RecommendTrade, s.Recommendation)
	assert.Equal(t, 0.0, s.SecondaryValue)
	assert.False(t, s.HighConviction)
	assert.Equal(t, "because", s.Rationale)
}

func TestEvaluate_BuyNoUsesNoToken(t *testing.T) {
	a := strategy.New(cfg(), sizer(), model("p", map[string][2]float64{"m1": {0.30, 0.8}}), nil, nil)

	ev := a.Evaluate(context.Background(), quote("m1", 0.50), 100)
	require.True(t, ev.Traded())
	assert.Equal(t, domain.BuyNo, ev.Signal.Direction)
	assert.Equal(t, "m1-no", ev.Signal.TokenID)
	assert.InDelta(t, 0.50, ev.Signal.EntryPrice, 1e-9)
}

func TestEvaluate_SkipReasons(t *testing.T) {
	ctx := context.Background()

	down := &fakeModel{name: "p", err: errors.New("503")}
	ev := strategy.New(cfg(), sizer(), down, nil, nil).Evaluate(ctx, quote("m1", 0.5), 100)
	assert.Equal(t, domain.SkipModelUnavailable, ev.Skip)

	low := model("p", map[string][2]float64{"m1": {0.90, 0.50}})
	ev = strategy.New(cfg(), sizer(), low, nil, nil).Evaluate(ctx, quote("m1", 0.5), 100)
	assert.Equal(t, domain.SkipLowConfidence, ev.Skip)

	small := model("p", map[string][2]float64{"m1": {0.52, 0.9}})
	ev = strategy.New(cfg(), sizer(), small, nil, nil).Evaluate(ctx, quote("m1", 0.5), 100)
	assert.Equal(t, domain.SkipNoEdge, ev.Skip)

	broke := model("p", map[string][2]float64{"m1": {0.70, 0.8}})
	ev = strategy.New(cfg(), sizer(), broke, nil, nil).Evaluate(ctx, quote("m1", 0.55), 5)
	assert.Equal(t, domain.SkipSizeZero, ev.Skip)
	assert.False(t, ev.Traded())
}

func TestEvaluate_SecondaryOnlyCalledWithEdge(t *testing.T) {
	primary := model("p", map[string][2]float64{"m1": {0.52, 0.9}})
	secondary := model("s", map[string][2]float64{"m1": {0.90, 0.9}})

	ev := strategy.New(cfg(), sizer(), primary, secondary, nil).Evaluate(context.Background(), quote("m1", 0.5), 100)
	assert.Equal(t, domain.SkipNoEdge, ev.Skip)
	assert.Equal(t, 0, secondary.calls)
}

func TestEvaluate_ConsensusVeto(t *testing.T) {
	primary := model("p", map[string][2]float64{"m1": {0.70, 0.8}})
	secondary := model("s", map[string][2]float64{"m1": {0.40, 0.8}})

	ev := strategy.New(cfg(), sizer(), primary, secondary, nil).Evaluate(context.Background(), quote("m1", 0.5), 100)
	assert.Equal(t, domain.SkipConsensus, ev.Skip)
}

func TestEvaluate_ReduceLowersConfidence(t *testing.T) {
	primary := model("p", map[string][2]float64{"m1": {0.80, 0.9}})
	secondary := model("s", map[string][2]float64{"m1": {0.60, 0.9}})

	ev := strategy.New(cfg(), sizer(), primary, secondary, nil).Evaluate(context.Background(), quote("m1", 0.5), 100)
	require.True(t, ev.Traded())
	assert.Equal(t, domain.RecommendReduce, ev.Signal.Recommendation)
	assert.InDelta(t, 0.72, ev.Signal.Confidence, 1e-9)
	assert.InDelta(t, 0.70, ev.Signal.FairValue, 1e-9)
	assert.InDelta(t, 0.80, ev.Signal.PrimaryValue, 1e-9)
	assert.InDelta(t, 0.60, ev.Signal.SecondaryValue, 1e-9)
}

func TestEvaluate_SecondaryFailureDegradesToPrimary(t *testing.T) {
	primary := model("p", map[string][2]float64{"m1": {0.70, 0.8}})
	secondary := &fakeModel{name: "s", err: errors.New("timeout")}

	ev := strategy.New(cfg(), sizer(), primary, secondary, nil).Evaluate(context.Background(), quote("m1", 0.55), 100)
	require.True(t, ev.Traded())
	assert.Equal(t, 1, secondary.calls)
	assert.Equal(t, 0.0, ev.Signal.SecondaryValue)
}

func TestEvaluate_HighConvictionNeedsBothModels(t *testing.T) {
	c := cfg()
	c.HighConvictionEnabled = true
	primary := model("p", map[string][2]float64{"m1": {0.70, 0.9}})
	secondary := model("s", map[string][2]float64{"m1": {0.68, 0.9}})

	ev := strategy.New(c, sizer(), primary, secondary, nil).Evaluate(context.Background(), quote("m1", 0.5), 100)
	require.True(t, ev.Traded())
	assert.True(t, ev.Signal.HighConviction)

	ev = strategy.New(c, sizer(), primary, nil, nil).Evaluate(context.Background(), quote("m1", 0.5), 100)
	require.True(t, ev.Traded())
	assert.False(t, ev.Signal.HighConviction)
}

func TestEvaluate_FactCheckRejects(t *testing.T) {
	primary := model("p", map[string][2]float64{"m1": {0.70, 0.8}})
	checker := fakeChecker{result: domain.ValidationResult{Allowed: false, Warnings: []string{"BTC price error"}}}

	ev := strategy.New(cfg(), sizer(), primary, nil, checker).Evaluate(context.Background(), quote("m1", 0.55), 100)
	assert.Equal(t, domain.SkipValidation, ev.Skip)
	assert.Equal(t, "BTC price error", ev.Detail)
}

func TestScanForSignals_RanksByEdgeTimesConfidence(t *testing.T) {
	primary := model("p", map[string][2]float64{
		"a": {0.70, 0.8},
		"b": {0.80, 0.9},
		"c": {0.62, 0.6},
		"d": {0.51, 0.9},
	})
	markets := []domain.MarketQuote{quote("a", 0.55), quote("b", 0.55), quote("c", 0.50), quote("d", 0.50)}

	res := strategy.New(cfg(), sizer(), primary, nil, nil).ScanForSignals(context.Background(), markets, 100)
	require.Len(t, res.Signals, 3)
	assert.Equal(t, "b", res.Signals[0].MarketID)
	assert.Equal(t, "a", res.Signals[1].MarketID)
	assert.Equal(t, "c", res.Signals[2].MarketID)
	assert.Equal(t, 4, res.Analyzed)
	assert.Equal(t, 1, res.Skips()[domain.SkipNoEdge])
}

func TestScanForSignals_StopsAtMaxSignals(t *testing.T) {
	primary := model("p", map[string][2]float64{
		"a": {0.70, 0.8},
		"b": {0.80, 0.9},
		"c": {0.62, 0.6},
	})
	c := cfg()
	c.MaxSignals = 2
	markets := []domain.MarketQuote{quote("a", 0.55), quote("b", 0.55), quote("c", 0.50)}

	res := strategy.New(c, sizer(), primary, nil, nil).ScanForSignals(context.Background(), markets, 100)
	require.Len(t, res.Signals, 2)
	assert.Equal(t, 2, res.Analyzed)
	assert.Equal(t, 2, primary.calls)
	assert.Equal(t, "b", res.Signals[0].MarketID)
}
