package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/ports"
)

// Config contiene los umbrales del pipeline de mispricing.
type Config struct {
	MispricingThreshold      float64
	MinConfidence            float64
	MaxSignals               int // señales por ciclo (0 = sin límite)
	HighConvictionEnabled    bool
	HighConvictionConfidence float64
}

// FactChecker es el subconjunto de factcheck.Checker que usa el Analyzer.
type FactChecker interface {
	Check(ctx context.Context, market domain.MarketQuote, est domain.FairValueEstimate) domain.ValidationResult
}

// ScanResult es el resultado de analizar una tanda de mercados.
type ScanResult struct {
	Signals     []domain.TradeSignal // ordenadas por edge × confianza
	Evaluations []domain.Evaluation
	Analyzed    int
}

// Skips cuenta las evaluaciones sin señal por motivo.
func (r ScanResult) Skips() map[domain.SkipReason]int {
	out := make(map[domain.SkipReason]int)
	for _, e := range r.Evaluations {
		if !e.Traded() {
			out[e.Skip]++
		}
	}
	return out
}

// Analyzer convierte quotes en señales dimensionadas:
// modelo primario → pre-check de edge → segundo modelo → edge final →
// fact check → Kelly.
type Analyzer struct {
	cfg       Config
	sizer     *domain.Sizer
	primary   ports.ProbabilityModel
	secondary ports.ProbabilityModel
	checker   FactChecker
	now       func() time.Time
}

// New crea un Analyzer. secondary y checker son opcionales (nil).
func New(cfg Config, sizer *domain.Sizer, primary, secondary ports.ProbabilityModel, checker FactChecker) *Analyzer {
	if cfg.HighConvictionConfidence <= 0 {
		cfg.HighConvictionConfidence = 0.8
	}
	return &Analyzer{
		cfg:       cfg,
		sizer:     sizer,
		primary:   primary,
		secondary: secondary,
		checker:   checker,
		now:       time.Now,
	}
}

// Evaluate analiza un mercado. Nunca devuelve error: los caminos sin trade
// son Evaluation con Skip informado.
func (a *Analyzer) Evaluate(ctx context.Context, m domain.MarketQuote, balance float64) domain.Evaluation {
	primary, err := a.primary.Estimate(ctx, m)
	if err != nil {
		slog.Debug("primary model unavailable", "market", m.ID, "model", a.primary.Name(), "err", err)
		return domain.Skipped(m.ID, domain.SkipModelUnavailable, err.Error())
	}
	primary = primary.Clamped()
	primary.Source = domain.SourcePrimary

	confidence := primary.Confidence
	if confidence < a.cfg.MinConfidence {
		return domain.Skipped(m.ID, domain.SkipLowConfidence,
			fmt.Sprintf("confidence %.2f < %.2f", confidence, a.cfg.MinConfidence))
	}

	// El segundo modelo solo se consulta si el primario ya ve edge.
	pre := domain.DetectEdge(primary.Probability, m.YesPrice, a.cfg.MispricingThreshold)
	if !pre.HasEdge {
		return domain.Skipped(m.ID, domain.SkipNoEdge, fmt.Sprintf("edge %.3f", pre.Edge))
	}

	secondary := a.estimateSecondary(ctx, m)
	cons := domain.Reconcile(primary, secondary, m.YesPrice)
	switch cons.Recommendation {
	case domain.RecommendSkip:
		slog.Info("consensus veto",
			"market", domain.TruncateQuestion(m.Question, m.ID, 40),
			"primary", fmt.Sprintf("%.2f", primary.Probability),
			"secondary", fmt.Sprintf("%.2f", secondary.Probability),
		)
		return domain.Skipped(m.ID, domain.SkipConsensus,
			fmt.Sprintf("diff %.2f direction_match=%t", cons.ProbDiff, cons.DirectionMatch))
	case domain.RecommendReduce:
		confidence *= domain.ReduceConfidenceFactor
	}

	final := domain.DetectEdge(cons.Combined, m.YesPrice, a.cfg.MispricingThreshold)
	if !final.HasEdge {
		return domain.Skipped(m.ID, domain.SkipNoEdge, fmt.Sprintf("combined edge %.3f", final.Edge))
	}

	if a.checker != nil {
		v := a.checker.Check(ctx, m, primary)
		if !v.Allowed {
			return domain.Skipped(m.ID, domain.SkipValidation, strings.Join(v.Warnings, "; "))
		}
	}

	highConviction := a.cfg.HighConvictionEnabled &&
		cons.HasSecondary &&
		cons.Recommendation == domain.RecommendTrade &&
		confidence >= a.cfg.HighConvictionConfidence

	size := a.sizer.Size(domain.SizeInput{
		FairValue:      cons.Combined,
		MarketPrice:    m.YesPrice,
		Direction:      final.Direction,
		Confidence:     confidence,
		Balance:        balance,
		HoursToExpiry:  m.HoursToExpiry,
		HighConviction: highConviction,
	})
	if size.PositionSizeUSD <= 0 {
		return domain.Skipped(m.ID, domain.SkipSizeZero,
			fmt.Sprintf("kelly %.4f on $%.2f", size.AdjustedFraction, balance))
	}

	secondaryValue := 0.0
	if secondary != nil {
		secondaryValue = secondary.Probability
	}
	token := m.TokenFor(size.TokenSide)

	sig := domain.TradeSignal{
		MarketID:       m.ID,
		Question:       m.Question,
		Category:       m.Category,
		Direction:      final.Direction,
		FairValue:      cons.Combined,
		PrimaryValue:   primary.Probability,
		SecondaryValue: secondaryValue,
		MarketPrice:    m.YesPrice,
		Edge:           final.Edge,
		Confidence:     confidence,
		SizeUSD:        size.PositionSizeUSD,
		Shares:         size.Shares,
		EntryPrice:     size.Price,
		KellyFraction:  size.AdjustedFraction,
		TokenID:        token.TokenID,
		TokenSide:      size.TokenSide,
		NegRisk:        m.NegRisk,
		Recommendation: cons.Recommendation,
		HighConviction: highConviction,
		Rationale:      primary.Rationale,
		HoursToExpiry:  m.HoursToExpiry,
		CreatedAt:      a.now(),
	}
	return domain.Evaluation{MarketID: m.ID, Signal: &sig}
}

// ScanForSignals evalúa los mercados en orden y devuelve las mejores señales.
// Deja de consultar modelos cuando ya tiene MaxSignals señales.
func (a *Analyzer) ScanForSignals(ctx context.Context, markets []domain.MarketQuote, balance float64) ScanResult {
	var res ScanResult

	for _, m := range markets {
		if ctx.Err() != nil {
			break
		}
		if a.cfg.MaxSignals > 0 && len(res.Signals) >= a.cfg.MaxSignals {
			break
		}

		ev := a.Evaluate(ctx, m, balance)
		res.Analyzed++
		res.Evaluations = append(res.Evaluations, ev)
		if !ev.Traded() {
			continue
		}

		s := *ev.Signal
		res.Signals = append(res.Signals, s)
		slog.Info("signal",
			"n", len(res.Signals),
			"market", domain.TruncateQuestion(s.Question, s.MarketID, 40),
			"direction", s.Direction,
			"price", fmt.Sprintf("%.3f", s.EntryPrice),
			"edge", fmt.Sprintf("%.1f%%", s.Edge*100),
			"size", fmt.Sprintf("$%.2f", s.SizeUSD),
			"dual", s.SecondaryValue > 0,
			"high_conviction", s.HighConviction,
		)
	}

	sort.SliceStable(res.Signals, func(i, j int) bool {
		si, sj := res.Signals[i].Score(), res.Signals[j].Score()
		if si != sj {
			return si > sj
		}
		return res.Signals[i].MarketID < res.Signals[j].MarketID
	})
	if a.cfg.MaxSignals > 0 && len(res.Signals) > a.cfg.MaxSignals {
		res.Signals = res.Signals[:a.cfg.MaxSignals]
	}

	slog.Info("markets analyzed", "analyzed", res.Analyzed, "signals", len(res.Signals))
	return res
}

// estimateSecondary consulta el segundo modelo si existe. Un fallo degrada a
// "sin segundo modelo" en lugar de bloquear la evaluación.
func (a *Analyzer) estimateSecondary(ctx context.Context, m domain.MarketQuote) *domain.FairValueEstimate {
	if a.secondary == nil {
		return nil
	}
	est, err := a.secondary.Estimate(ctx, m)
	if err != nil {
		slog.Warn("secondary model failed, trusting primary", "market", m.ID, "model", a.secondary.Name(), "err", err)
		return nil
	}
	est = est.Clamped()
	est.Source = domain.SourceSecondary
	return &est
}
