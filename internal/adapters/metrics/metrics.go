// Package metrics exposes engine activity as Prometheus metrics and serves
// the health/status HTTP surface.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

const namespace = "polyedge"

// Recorder implements engine.Recorder.
type Recorder struct {
	cycles        prometheus.Counter
	cycleDuration prometheus.Histogram
	balance       prometheus.Gauge
	balanceStale  prometheus.Gauge
	survival      prometheus.Gauge
	scanned       prometheus.Gauge
	openPositions prometheus.Gauge
	exposure      prometheus.Gauge
	unrealized    prometheus.Gauge
	realized      prometheus.Gauge
	winRate       prometheus.Gauge
	apiCost       prometheus.Counter
	apiCalls      prometheus.Counter
	netProfit     prometheus.Gauge

	signals    prometheus.Counter
	rejections *prometheus.CounterVec
	opened     *prometheus.CounterVec
	closed     *prometheus.CounterVec
	closedPnL  prometheus.Histogram
	execErrors *prometheus.CounterVec
}

// NewRecorder registers every collector on reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed decision cycles",
		}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a decision cycle",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		balance: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "balance_usd",
			Help:      "Cash balance read at the start of the last cycle",
		}),
		balanceStale: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "balance_stale",
			Help:      "1 when the last balance came from the fallback default",
		}),
		survival: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "survival_mode",
			Help:      "1 while new entries are paused by the survival floor",
		}),
		scanned: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "markets_scanned",
			Help:      "Tradable markets listed in the last cycle",
		}),
		openPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Open positions in the ledger",
		}),
		exposure: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exposure_usd",
			Help:      "Sum of cost basis over open positions",
		}),
		unrealized: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unrealized_pnl_usd",
			Help:      "Mark-to-market PnL of open positions",
		}),
		realized: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realized_pnl_usd",
			Help:      "Cumulative realized PnL",
		}),
		winRate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "win_rate_percent",
			Help:      "Share of closed trades with positive PnL",
		}),
		apiCost: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_api_cost_usd_total",
			Help:      "Spend on probability model APIs",
		}),
		apiCalls: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_api_calls_total",
			Help:      "Probability model API calls",
		}),
		netProfit: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "net_profit_usd",
			Help:      "Realized trading PnL minus model API spend since start",
		}),
		signals: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_gated_total",
			Help:      "Trade signals that reached the risk gate",
		}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_rejected_total",
			Help:      "Signals rejected by the risk gate, by check",
		}, []string{"reason"}),
		opened: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_opened_total",
			Help:      "Positions opened, by token side",
		}, []string{"side"}),
		closed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_closed_total",
			Help:      "Positions closed, by exit reason",
		}, []string{"reason"}),
		closedPnL: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "closed_pnl_usd",
			Help:      "Realized PnL per closed position",
			Buckets:   []float64{-20, -10, -5, -2, -1, 0, 1, 2, 5, 10, 20},
		}),
		execErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_failures_total",
			Help:      "Orders the executor failed to place, by side",
		}, []string{"side"}),
	}
}

// CycleCompleted updates the per-cycle gauges.
func (r *Recorder) CycleCompleted(rep domain.CycleReport) {
	r.cycles.Inc()
	r.cycleDuration.Observe(rep.Duration.Seconds())
	r.balance.Set(rep.Balance.Amount)
	r.balanceStale.Set(boolGauge(rep.Balance.Stale))
	r.survival.Set(boolGauge(rep.SurvivalMode))
	r.scanned.Set(float64(rep.Scanned))

	p := rep.Portfolio
	r.openPositions.Set(float64(p.OpenPositions))
	r.exposure.Set(p.TotalExposure)
	r.unrealized.Set(p.UnrealizedPnL)
	r.realized.Set(p.TotalRealizedPnL)
	r.winRate.Set(p.WinRate)

	if rep.APICostUSD > 0 {
		r.apiCost.Add(rep.APICostUSD)
	}
	if rep.APICalls > 0 {
		r.apiCalls.Add(float64(rep.APICalls))
	}
	if rep.Economics != nil {
		r.netProfit.Set(rep.Economics.NetProfit)
	}
}

func (r *Recorder) SignalRejected(reason string) {
	r.signals.Inc()
	r.rejections.WithLabelValues(reasonLabel(reason)).Inc()
}

func (r *Recorder) TradeOpened(sig domain.TradeSignal) {
	r.signals.Inc()
	r.opened.WithLabelValues(string(sig.TokenSide)).Inc()
}

func (r *Recorder) TradeClosed(c domain.ClosedPosition) {
	r.closed.WithLabelValues(string(c.Reason)).Inc()
	r.closedPnL.Observe(c.RealizedPnL)
}

func (r *Recorder) ExecutionFailed(side domain.OrderSide) {
	r.execErrors.WithLabelValues(string(side)).Inc()
}

// reasonLabel keeps the check name and drops the amounts, so the label set
// stays bounded.
func reasonLabel(reason string) string {
	if i := strings.IndexByte(reason, ':'); i >= 0 {
		reason = reason[:i]
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "unknown"
	}
	return strings.ReplaceAll(reason, " ", "_")
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
