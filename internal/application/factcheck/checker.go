package factcheck

// checker.go - ejecuta todos los validators en paralelo con un presupuesto de
// tiempo común. Un validator que falla o no termina a tiempo es "inconcluso" y
// nunca bloquea el trade por sí solo.

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/ports"
)

// DefaultTimeout es el presupuesto total de una validación.
const DefaultTimeout = 5 * time.Second

// timeoutConfidence es la confianza reportada cuando vence el presupuesto.
const timeoutConfidence = 0.5

// Stats son los contadores acumulados del checker.
type Stats struct {
	Runs   int
	Passed int
	Failed int
}

// Checker orquesta los validators.
type Checker struct {
	validators []ports.Validator
	timeout    time.Duration

	mu    sync.Mutex
	stats Stats
}

// New crea un Checker. timeout <= 0 usa DefaultTimeout.
func New(timeout time.Duration, validators ...ports.Validator) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{validators: validators, timeout: timeout}
}

// Check valida la estimación contra todos los validators.
func (c *Checker) Check(ctx context.Context, market domain.MarketQuote, est domain.FairValueEstimate) domain.ValidationResult {
	res := domain.ValidationResult{Allowed: true, Confidence: 1.0}
	if len(c.validators) == 0 {
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type outcome struct {
		name    string
		verdict domain.Verdict
		err     error
	}

	resultCh := make(chan outcome, len(c.validators))
	var wg sync.WaitGroup
	for _, v := range c.validators {
		wg.Add(1)
		go func(v ports.Validator) {
			defer wg.Done()
			verdict, err := v.Validate(ctx, market, est)
			resultCh <- outcome{name: v.Name(), verdict: verdict, err: err}
		}(v)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	if ctx.Err() != nil {
		slog.Warn("fact check timeout, allowing trade", "market", market.ID, "timeout", c.timeout)
		c.record(true)
		return domain.ValidationResult{
			Allowed:    true,
			Confidence: timeoutConfidence,
			Warnings:   []string{"validation timeout"},
			TimedOut:   true,
		}
	}
	close(resultCh)

	for o := range resultCh {
		if o.err != nil {
			slog.Warn("validator failed", "validator", o.name, "market", market.ID, "err", o.err)
			continue
		}
		v := o.verdict
		if v.Validator == "" {
			v.Validator = o.name
		}
		res.Verdicts = append(res.Verdicts, v)
		if !v.Valid {
			res.Allowed = false
			if v.Warning != "" {
				res.Warnings = append(res.Warnings, v.Warning)
			}
		}
		if v.Confidence < res.Confidence {
			res.Confidence = v.Confidence
		}
	}

	c.record(res.Allowed)
	return res
}

// Stats devuelve una copia de los contadores.
func (c *Checker) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Checker) record(passed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Runs++
	if passed {
		c.stats.Passed++
	} else {
		c.stats.Failed++
	}
}
