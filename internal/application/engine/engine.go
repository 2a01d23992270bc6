package engine

// engine.go - orquestador del ciclo: balance → supervivencia → mercados →
// arbitraje → análisis → gate → ejecución → salidas → reporte.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/polyedge/internal/application/economics"
	"github.com/alejandrodnm/polyedge/internal/application/ledger"
	"github.com/alejandrodnm/polyedge/internal/application/risk"
	"github.com/alejandrodnm/polyedge/internal/application/strategy"
	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/ports"
)

const (
	DefaultScanInterval   = 5 * time.Minute
	DefaultMaxMarkets     = 20
	DefaultEconomicsEvery = 6
	stopPollInterval      = time.Second
)

// Config contiene los parámetros del loop.
type Config struct {
	ScanInterval        time.Duration
	MaxMarketsToAnalyze int
	StopFile            string // vacío = sin stop file
	RefreshWorkers      int    // workers para refrescar precios de posiciones
	CancelOpenOnStart   bool
	EconomicsEvery      int // ciclos entre reportes económicos
	Arbitrage           domain.ArbitrageConfig
}

// BalanceReader es lo que el engine necesita de balance.Chain.
type BalanceReader interface {
	Read(ctx context.Context) domain.BalanceReading
}

// SignalScanner es lo que el engine necesita de strategy.Analyzer.
type SignalScanner interface {
	ScanForSignals(ctx context.Context, markets []domain.MarketQuote, balance float64) strategy.ScanResult
}

// SpendMeter reporta el gasto acumulado en APIs de modelos.
type SpendMeter interface {
	APISpend() (costUSD float64, calls int)
}

// Recorder recibe los hechos del ciclo para métricas. Opcional.
type Recorder interface {
	CycleCompleted(report domain.CycleReport)
	SignalRejected(reason string)
	TradeOpened(sig domain.TradeSignal)
	TradeClosed(closed domain.ClosedPosition)
	ExecutionFailed(side domain.OrderSide)
}

// Deps agrupa los colaboradores del engine. Notifier, Recorder, Cycles,
// Spend y Economics son opcionales.
type Deps struct {
	Markets   ports.MarketSource
	Executor  ports.OrderExecutor
	Balance   BalanceReader
	Analyzer  SignalScanner
	Gate      *risk.Gate
	Ledger    *ledger.Ledger
	Notifier  ports.Notifier
	Recorder  Recorder
	Cycles    ports.CycleJournal
	Spend     SpendMeter
	Economics *economics.Tracker
}

// Engine ejecuta los ciclos de decisión. Un único ciclo a la vez.
type Engine struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	cycle    int
	survival bool

	mu   sync.RWMutex
	last *domain.CycleReport
}

// New crea un Engine aplicando defaults a la configuración.
func New(cfg Config, deps Deps) *Engine {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if cfg.MaxMarketsToAnalyze <= 0 {
		cfg.MaxMarketsToAnalyze = DefaultMaxMarkets
	}
	if cfg.EconomicsEvery <= 0 {
		cfg.EconomicsEvery = DefaultEconomicsEvery
	}
	if cfg.Arbitrage == (domain.ArbitrageConfig{}) {
		cfg.Arbitrage = domain.DefaultArbitrageConfig()
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	return &Engine{cfg: cfg, deps: deps, now: time.Now}
}

// LastReport devuelve el reporte del último ciclo completado.
func (e *Engine) LastReport() (domain.CycleReport, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return domain.CycleReport{}, false
	}
	return *e.last, true
}

// Run ejecuta ciclos hasta que el contexto se cancele o aparezca el stop file.
// El ciclo en curso termina su ejecución de órdenes aunque llegue la cancelación.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine started",
		"scan_interval", e.cfg.ScanInterval,
		"max_markets", e.cfg.MaxMarketsToAnalyze,
		"stop_file", e.cfg.StopFile,
	)

	if e.cfg.CancelOpenOnStart {
		if err := e.deps.Executor.CancelAllOpen(ctx); err != nil {
			slog.Warn("cancel open orders failed", "err", err)
		}
	}
	e.notify(ctx, domain.Event{Kind: domain.EventStarted, Message: "engine started"})

	for {
		report, err := e.RunOnce(ctx)
		if err != nil {
			slog.Error("cycle failed", "cycle", report.Cycle, "err", err)
		}

		if e.stopRequested() {
			slog.Info("stop file detected, shutting down", "total_cycles", e.cycle)
			return nil
		}
		if !e.wait(ctx) {
			slog.Info("engine stopped", "total_cycles", e.cycle)
			return nil
		}
	}
}

// wait duerme ScanInterval. Devuelve false si hay que salir.
func (e *Engine) wait(ctx context.Context) bool {
	timer := time.NewTimer(e.cfg.ScanInterval)
	defer timer.Stop()
	poll := time.NewTicker(stopPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-poll.C:
			if e.stopRequested() {
				slog.Info("stop file detected while waiting")
				return false
			}
		}
	}
}

// stopRequested consume el stop file si existe.
func (e *Engine) stopRequested() bool {
	if e.cfg.StopFile == "" {
		return false
	}
	if _, err := os.Stat(e.cfg.StopFile); err != nil {
		return false
	}
	if err := os.Remove(e.cfg.StopFile); err != nil {
		slog.Warn("could not remove stop file", "path", e.cfg.StopFile, "err", err)
	}
	return true
}

// RunOnce ejecuta un ciclo completo. Un fallo al listar mercados no impide
// vigilar las salidas; el error se devuelve junto al reporte.
func (e *Engine) RunOnce(ctx context.Context) (domain.CycleReport, error) {
	start := e.now()
	e.cycle++
	// Las órdenes ya decididas no se abortan a medias por una cancelación.
	work := context.WithoutCancel(ctx)

	reading := e.deps.Balance.Read(work)
	report := domain.CycleReport{Cycle: e.cycle, Balance: reading}

	var cycleErr error
	report.SurvivalMode = e.deps.Gate.InSurvivalMode(reading.Amount)
	e.trackSurvival(work, report.SurvivalMode, reading)

	costBefore, callsBefore := e.spend()
	if !report.SurvivalMode {
		cycleErr = e.entries(ctx, work, reading, &report)
	}
	costAfter, callsAfter := e.spend()
	report.APICostUSD = costAfter - costBefore
	report.APICalls = callsAfter - callsBefore
	if e.deps.Economics != nil {
		e.deps.Economics.RecordAPICost(report.APICostUSD, report.APICalls)
	}

	e.exits(work, &report)

	report.Portfolio = e.deps.Ledger.Summary(reading.Amount)
	report.OpenPositions = e.deps.Ledger.Positions()
	if e.deps.Economics != nil {
		eco := e.deps.Economics.Snapshot(reading.Amount)
		report.Economics = &eco
	}
	report.Duration = e.now().Sub(start)

	e.mu.Lock()
	last := report
	e.last = &last
	e.mu.Unlock()

	e.deps.Recorder.CycleCompleted(report)
	if e.deps.Cycles != nil {
		if err := e.deps.Cycles.RecordCycle(work, report); err != nil {
			slog.Warn("cycle journal write failed", "cycle", report.Cycle, "err", err)
		}
	}
	e.notify(work, domain.Event{Kind: domain.EventCycleReport, Report: &last})
	if last.Economics != nil && last.Cycle%e.cfg.EconomicsEvery == 0 {
		e.notify(work, domain.Event{Kind: domain.EventEconomics, Report: &last})
	}

	slog.Info("cycle complete",
		"cycle", report.Cycle,
		"balance", fmt.Sprintf("$%.2f", reading.Amount),
		"balance_source", reading.Source,
		"scanned", report.Scanned,
		"analyzed", report.Analyzed,
		"signals", report.Signals,
		"trades", report.Trades,
		"exits", report.Exits,
		"api_cost", fmt.Sprintf("$%.4f", report.APICostUSD),
		"open_positions", len(report.OpenPositions),
		"survival", report.SurvivalMode,
		"duration", report.Duration.Round(time.Millisecond),
	)
	return report, cycleErr
}

func (e *Engine) trackSurvival(ctx context.Context, active bool, reading domain.BalanceReading) {
	if active && !e.survival {
		msg := fmt.Sprintf("balance $%.2f at or below survival threshold $%.2f: new entries paused",
			reading.Amount, e.deps.Gate.Limits().SurvivalBalance)
		slog.Warn("survival mode entered", "balance", reading.Amount, "source", reading.Source)
		e.notify(ctx, domain.Event{Kind: domain.EventSurvival, Message: msg})
	} else if !active && e.survival {
		slog.Info("survival mode exited", "balance", reading.Amount)
	}
	e.survival = active
}

// entries cubre la mitad de entrada del ciclo. ctx (cancelable) gobierna la
// lectura y el análisis; work gobierna las órdenes.
func (e *Engine) entries(ctx, work context.Context, reading domain.BalanceReading, report *domain.CycleReport) error {
	markets, err := e.deps.Markets.ListTradableMarkets(ctx)
	if err != nil {
		return fmt.Errorf("engine.RunOnce: list markets: %w", err)
	}
	report.Scanned = len(markets)

	if arbs := domain.ScanArbitrage(markets, reading.Amount, e.cfg.Arbitrage); len(arbs) > 0 {
		report.Arbitrage = len(arbs)
		slog.Info("arbitrage detected", "count", len(arbs), "best_margin", arbs[0].ProfitMargin)
		e.notify(work, domain.Event{Kind: domain.EventArbitrage, Arbitrage: arbs})
	}

	candidates := selectCandidates(markets, e.deps.Ledger.Has, e.cfg.MaxMarketsToAnalyze)
	scan := e.deps.Analyzer.ScanForSignals(ctx, candidates, reading.Amount)
	report.Analyzed = scan.Analyzed
	report.Signals = len(scan.Signals)

	slog.Debug("analysis complete",
		"candidates", len(candidates),
		"analyzed", scan.Analyzed,
		"signals", len(scan.Signals),
		"skips", scan.Skips(),
	)

	for _, sig := range scan.Signals {
		if ctx.Err() != nil {
			slog.Info("cancellation requested, skipping remaining signals")
			break
		}
		e.execute(work, sig, reading, report)
	}
	return nil
}

// execute pasa una señal por el gate y, si la admite, compra y abre la posición.
func (e *Engine) execute(ctx context.Context, sig domain.TradeSignal, reading domain.BalanceReading, report *domain.CycleReport) {
	positions := e.deps.Ledger.Positions()
	acct := e.deps.Gate.Account(reading, e.deps.Ledger.TotalExposure(), len(positions))

	decision := e.deps.Gate.Admit(sig, acct)
	if !decision.Allowed {
		slog.Info("signal rejected by risk gate",
			"market", sig.MarketID,
			"reason", decision.Reason,
		)
		e.deps.Recorder.SignalRejected(decision.Reason)
		report.Rejected++
		return
	}

	req := domain.OrderRequest{
		MarketID: sig.MarketID,
		TokenID:  sig.TokenID,
		Side:     domain.OrderBuy,
		Price:    sig.EntryPrice,
		Shares:   sig.Shares,
		NegRisk:  sig.NegRisk,
	}
	res, err := e.deps.Executor.Buy(ctx, req)
	if err != nil {
		slog.Error("buy failed", "market", sig.MarketID, "token", sig.TokenID, "err", err)
		e.deps.Recorder.ExecutionFailed(domain.OrderBuy)
		e.notify(ctx, domain.Event{
			Kind:    domain.EventExecutionErr,
			Message: fmt.Sprintf("buy %s failed: %v", domain.TruncateQuestion(sig.Question, sig.MarketID, 50), err),
		})
		return
	}
	e.deps.Gate.RecordTrade()

	shares, price := res.FilledOrNotional(req)
	pos, err := e.deps.Ledger.Open(ctx, domain.Fill{
		MarketID:  sig.MarketID,
		Question:  sig.Question,
		TokenSide: sig.TokenSide,
		TokenID:   sig.TokenID,
		Price:     price,
		Shares:    shares,
		NegRisk:   sig.NegRisk,
	})
	e.deps.Ledger.Persist(ctx)
	if errors.Is(err, ledger.ErrPositionExists) {
		slog.Warn("filled order for market with open position, fill not booked",
			"market", sig.MarketID,
			"order_id", res.CLOBOrderID,
		)
		return
	}

	slog.Info("trade opened",
		"market", sig.MarketID,
		"side", sig.TokenSide,
		"price", price,
		"shares", fmt.Sprintf("%.2f", shares),
		"cost", fmt.Sprintf("$%.2f", pos.CostBasis),
		"edge", fmt.Sprintf("%.3f", sig.Edge),
		"order_id", res.CLOBOrderID,
		"simulated", res.Simulated,
	)
	e.deps.Recorder.TradeOpened(sig)
	report.Trades++
	e.notify(ctx, domain.Event{Kind: domain.EventTradeOpened, Signal: &sig})
}

// exits refresca precios, evalúa reglas de salida y cierra lo que toque.
// Si la venta falla la posición sigue abierta y se reintenta el próximo ciclo.
func (e *Engine) exits(ctx context.Context, report *domain.CycleReport) {
	positions := e.deps.Ledger.Positions()
	if len(positions) == 0 {
		return
	}

	prices := refreshPricesConcurrent(ctx, e.deps.Markets, positions, e.cfg.RefreshWorkers)
	for _, d := range e.deps.Ledger.EvaluateExits(ctx, prices) {
		exitPrice, reason := d.ExitPrice, d.Reason
		if d.RequiresSell() {
			res, err := e.deps.Executor.Sell(ctx, domain.OrderRequest{
				MarketID: d.MarketID,
				TokenID:  d.TokenID,
				Side:     domain.OrderSell,
				Price:    d.ExitPrice,
				Shares:   d.Shares,
				NegRisk:  d.NegRisk,
			})
			switch {
			case err != nil && d.Dead:
				// Sin liquidez para un token muerto: se cierra a 0 como ZOMBIE.
				slog.Warn("sell failed on dead token, writing position off",
					"market", d.MarketID, "reason", d.Reason, "err", err)
				reason, exitPrice = domain.ExitZombie, 0
			case err != nil:
				slog.Error("sell failed, position kept open",
					"market", d.MarketID, "reason", d.Reason, "err", err)
				e.deps.Recorder.ExecutionFailed(domain.OrderSell)
				e.notify(ctx, domain.Event{
					Kind:    domain.EventExecutionErr,
					Message: fmt.Sprintf("sell %s (%s) failed: %v", d.MarketID, d.Reason, err),
				})
				continue
			case res.AvgPrice > 0:
				exitPrice = res.AvgPrice
			}
		}

		closed, ok := e.deps.Ledger.Close(ctx, d.MarketID, exitPrice, reason)
		if !ok {
			continue
		}
		e.deps.Gate.RecordClose(closed.RealizedPnL)
		if e.deps.Economics != nil {
			e.deps.Economics.RecordTradePnL(closed.RealizedPnL)
		}
		e.deps.Ledger.Persist(ctx)
		report.Exits++

		slog.Info("position closed",
			"market", closed.MarketID,
			"reason", closed.Reason,
			"entry", closed.EntryPrice,
			"exit", closed.ExitPrice,
			"pnl", fmt.Sprintf("$%.2f", closed.RealizedPnL),
		)
		e.deps.Recorder.TradeClosed(closed)
		e.notify(ctx, domain.Event{Kind: domain.EventTradeClosed, Closed: &closed})
	}
}

func (e *Engine) spend() (float64, int) {
	if e.deps.Spend == nil {
		return 0, 0
	}
	return e.deps.Spend.APISpend()
}

func (e *Engine) notify(ctx context.Context, ev domain.Event) {
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	e.deps.Notifier.Notify(ctx, ev)
}

// selectCandidates ordena por volumen desc (id asc en empate), descarta los
// mercados con posición abierta y recorta a limit. No modifica markets.
func selectCandidates(markets []domain.MarketQuote, hasPosition func(string) bool, limit int) []domain.MarketQuote {
	out := make([]domain.MarketQuote, 0, len(markets))
	for _, m := range markets {
		if hasPosition(m.ID) {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Volume24h != out[j].Volume24h {
			return out[i].Volume24h > out[j].Volume24h
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, domain.Event) {}

type nopRecorder struct{}

func (nopRecorder) CycleCompleted(domain.CycleReport) {}
func (nopRecorder) SignalRejected(string) {}
func (nopRecorder) TradeOpened(domain.TradeSignal) {}
func (nopRecorder) TradeClosed(domain.ClosedPosition) {}
func (nopRecorder) ExecutionFailed(domain.OrderSide) {}
