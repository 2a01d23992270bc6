package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func est(p, c float64) FairValueEstimate {
	return FairValueEstimate{Probability: p, Confidence: c}
}

func TestReconcile_NoSecondary(t *testing.T) {
	c := Reconcile(est(0.72, 0.8), nil, 0.55)
	assert.Equal(t, RecommendTrade, c.Recommendation)
	assert.True(t, c.Consensus)
	assert.False(t, c.HasSecondary)
	assert.InDelta(t, 0.72, c.Combined, 1e-9)
}

func TestReconcile_DirectionMismatch(t *testing.T) {
	s := est(0.45, 0.7)
	c := Reconcile(est(0.60, 0.8), &s, 0.50)
	assert.Equal(t, RecommendSkip, c.Recommendation)
	assert.False(t, c.Consensus)
	assert.False(t, c.DirectionMatch)
}

func TestReconcile_CloseEstimatesTradeWithWeightedAverage(t *testing.T) {
	s := est(0.60, 0.4)
	c := Reconcile(est(0.70, 0.8), &s, 0.50)
	assert.Equal(t, RecommendTrade, c.Recommendation)
	assert.True(t, c.Consensus)
	// (0.70*0.8 + 0.60*0.4) / 1.2
	assert.InDelta(t, 0.6667, c.Combined, 0.0001)
	assert.InDelta(t, 0.10, c.ProbDiff, 1e-9)
}

func TestReconcile_MediumDiffReduces(t *testing.T) {
	s := est(0.60, 0.5)
	c := Reconcile(est(0.80, 0.5), &s, 0.50)
	assert.Equal(t, RecommendReduce, c.Recommendation)
	assert.True(t, c.Consensus)
	assert.InDelta(t, 0.70, c.Combined, 1e-9)
}

func TestReconcile_LargeDiffSkips(t *testing.T) {
	s := est(0.55, 0.6)
	c := Reconcile(est(0.90, 0.6), &s, 0.50)
	assert.True(t, c.DirectionMatch)
	assert.Equal(t, RecommendSkip, c.Recommendation)
	assert.False(t, c.Consensus)
}

func TestReconcile_ZeroConfidenceFallsBackToPlainAverage(t *testing.T) {
	s := est(0.60, 0)
	c := Reconcile(est(0.70, 0), &s, 0.50)
	assert.InDelta(t, 0.65, c.Combined, 1e-9)
}
