package domain

// Verdict es la opinión de un validator sobre el razonamiento de un modelo.
type Verdict struct {
	Validator  string
	Valid      bool
	Confidence float64
	Warning    string
}

// ValidationResult agrega los verdicts de un mercado.
// Allowed es false solo si algún validator concluyó explícitamente que no es válido.
type ValidationResult struct {
	Allowed    bool
	Confidence float64 // mínimo entre validators concluyentes
	Warnings   []string
	Verdicts   []Verdict
	TimedOut   bool
}
