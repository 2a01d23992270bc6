package domain

// EstimateSource identifica qué modelo produjo la estimación.
type EstimateSource string

const (
	SourcePrimary   EstimateSource = "primary"
	SourceSecondary EstimateSource = "secondary"
)

// FairValueEstimate es la probabilidad "justa" de que el mercado resuelva YES
// según un modelo externo. Rationale es texto libre que el core no interpreta
// (solo lo leen los validators).
type FairValueEstimate struct {
	Probability float64
	Confidence  float64
	Source      EstimateSource
	Model       string
	Rationale   string
}

// Clamped devuelve la estimación con probability y confidence acotadas a [0,1].
func (e FairValueEstimate) Clamped() FairValueEstimate {
	e.Probability = clamp01(e.Probability)
	e.Confidence = clamp01(e.Confidence)
	return e
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
