package domain

import "math"

// Recommendation es el veredicto del reconciliador de dos modelos.
type Recommendation string

const (
	RecommendTrade  Recommendation = "TRADE"
	RecommendReduce Recommendation = "REDUCE"
	RecommendSkip   Recommendation = "SKIP"
)

const (
	// ConsensusTradeDiff: diferencia máxima entre modelos para operar a tamaño completo.
	ConsensusTradeDiff = 0.15
	// ConsensusReduceDiff: por encima de esto no hay consenso.
	ConsensusReduceDiff = 0.30
	// ReduceConfidenceFactor se aplica a la confianza cuando la recomendación es REDUCE.
	ReduceConfidenceFactor = 0.8
)

// Consensus es el resultado de combinar la estimación primaria con la secundaria.
type Consensus struct {
	Combined       float64
	Recommendation Recommendation
	Consensus      bool
	DirectionMatch bool
	ProbDiff       float64
	HasSecondary   bool
}

// Reconcile combina dos estimaciones independientes. secondary == nil significa
// que no hay segundo modelo (o que falló) y se confía en el primario.
func Reconcile(primary FairValueEstimate, secondary *FairValueEstimate, marketPrice float64) Consensus {
	if secondary == nil {
		return Consensus{
			Combined:       primary.Probability,
			Recommendation: RecommendTrade,
			Consensus:      true,
			DirectionMatch: true,
		}
	}

	pYes := primary.Probability > marketPrice
	sYes := secondary.Probability > marketPrice
	diff := math.Abs(primary.Probability - secondary.Probability)

	combined := (primary.Probability + secondary.Probability) / 2
	if total := primary.Confidence + secondary.Confidence; total > 0 {
		combined = (primary.Probability*primary.Confidence + secondary.Probability*secondary.Confidence) / total
	}

	c := Consensus{
		Combined:       combined,
		DirectionMatch: pYes == sYes,
		ProbDiff:       diff,
		HasSecondary:   true,
	}

	switch {
	case !c.DirectionMatch:
		c.Recommendation = RecommendSkip
	case diff <= ConsensusTradeDiff:
		c.Recommendation = RecommendTrade
		c.Consensus = true
	case diff <= ConsensusReduceDiff:
		c.Recommendation = RecommendReduce
		c.Consensus = true
	default:
		c.Recommendation = RecommendSkip
	}
	return c
}
