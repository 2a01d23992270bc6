package metrics_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyedge/internal/adapters/metrics"
	"github.com/alejandrodnm/polyedge/internal/domain"
)

type fixedStatus struct {
	report domain.CycleReport
	ok     bool
}

func (f fixedStatus) LastReport() (domain.CycleReport, bool) { return f.report, f.ok }

type fakeJournal struct {
	closed []domain.ClosedPosition
	err    error
	limit  int
}

func (f *fakeJournal) RecordClose(context.Context, domain.ClosedPosition) error { return nil }

func (f *fakeJournal) ClosedPositions(_ context.Context, limit int) ([]domain.ClosedPosition, error) {
	f.limit = limit
	return f.closed, f.err
}

func sampleReport() domain.CycleReport {
	return domain.CycleReport{
		Cycle:    4,
		Balance:  domain.BalanceReading{Amount: 80, Source: "onchain", At: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		Scanned:  50,
		Signals:  2,
		Trades:   1,
		Duration: 2 * time.Second,
		Portfolio: domain.PortfolioSummary{
			Balance:          80,
			OpenPositions:    2,
			TotalExposure:    12,
			TotalRealizedPnL: 3.5,
			WinRate:          50,
		},
		OpenPositions: []domain.Position{{MarketID: "0xaaa"}, {MarketID: "0xbbb"}},
	}
}

func TestRecorder_CycleAndTrades(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := metrics.NewRecorder(reg)

	r.CycleCompleted(sampleReport())
	r.SignalRejected("daily trade limit reached: 10 >= 10")
	r.SignalRejected("daily trade limit reached: 11 >= 10")
	r.TradeOpened(domain.TradeSignal{TokenSide: domain.SideNo})
	r.TradeClosed(domain.ClosedPosition{Reason: domain.ExitStopLoss, RealizedPnL: -1.2})
	r.ExecutionFailed(domain.OrderSell)

	expected := `
# HELP polyedge_balance_usd Cash balance read at the start of the last cycle
# TYPE polyedge_balance_usd gauge
polyedge_balance_usd 80
# HELP polyedge_open_positions Open positions in the ledger
# TYPE polyedge_open_positions gauge
polyedge_open_positions 2
# HELP polyedge_signals_rejected_total Signals rejected by the risk gate, by check
# TYPE polyedge_signals_rejected_total counter
polyedge_signals_rejected_total{reason="daily_trade_limit_reached"} 2
# HELP polyedge_trades_closed_total Positions closed, by exit reason
# TYPE polyedge_trades_closed_total counter
polyedge_trades_closed_total{reason="STOP_LOSS"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"polyedge_balance_usd", "polyedge_open_positions",
		"polyedge_signals_rejected_total", "polyedge_trades_closed_total"))

	assert.Equal(t, 1, testutil.CollectAndCount(reg, "polyedge_execution_failures_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "polyedge_trades_opened_total"))
}

func TestRecorder_ModelSpend(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := metrics.NewRecorder(reg)

	rep := sampleReport()
	rep.APICostUSD = 0.25
	rep.APICalls = 4
	rep.Economics = &domain.Economics{NetProfit: -0.5}
	r.CycleCompleted(rep)
	r.CycleCompleted(rep)

	expected := `
# HELP polyedge_model_api_calls_total Probability model API calls
# TYPE polyedge_model_api_calls_total counter
polyedge_model_api_calls_total 8
# HELP polyedge_model_api_cost_usd_total Spend on probability model APIs
# TYPE polyedge_model_api_cost_usd_total counter
polyedge_model_api_cost_usd_total 0.5
# HELP polyedge_net_profit_usd Realized trading PnL minus model API spend since start
# TYPE polyedge_net_profit_usd gauge
polyedge_net_profit_usd -0.5
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"polyedge_model_api_calls_total", "polyedge_model_api_cost_usd_total", "polyedge_net_profit_usd"))
}

func TestServer_Health(t *testing.T) {
	srv := metrics.NewServer(metrics.ServerConfig{Mode: "paper", Status: fixedStatus{report: sampleReport(), ok: true}})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "paper", body["mode"])
	assert.EqualValues(t, 4, body["cycles"])
	assert.Equal(t, "2026-03-01T10:00:00Z", body["last_cycle"])
}

func TestServer_Status(t *testing.T) {
	t.Run("before first cycle", func(t *testing.T) {
		srv := metrics.NewServer(metrics.ServerConfig{Status: fixedStatus{}})
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("with report", func(t *testing.T) {
		srv := metrics.NewServer(metrics.ServerConfig{Status: fixedStatus{report: sampleReport(), ok: true}})
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.EqualValues(t, 4, body["cycle"])
		assert.Equal(t, "onchain", body["balance_source"])
		assert.EqualValues(t, 2000, body["duration_ms"])
		assert.NotContains(t, body, "economics")
	})

	t.Run("with economics", func(t *testing.T) {
		rep := sampleReport()
		rep.APICostUSD = 0.002
		rep.APICalls = 3
		rep.Economics = &domain.Economics{APICostUSD: 0.5, TradingPnL: 3.5, NetProfit: 3, SelfSustaining: true}
		srv := metrics.NewServer(metrics.ServerConfig{Status: fixedStatus{report: rep, ok: true}})
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			APICostUSD float64 `json:"api_cost_usd"`
			APICalls   int     `json:"api_calls"`
			Economics  *domain.Economics
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.InDelta(t, 0.002, body.APICostUSD, 1e-12)
		assert.Equal(t, 3, body.APICalls)
		require.NotNil(t, body.Economics)
		assert.Equal(t, 3.0, body.Economics.NetProfit)
		assert.True(t, body.Economics.SelfSustaining)
	})
}

func TestServer_Positions(t *testing.T) {
	srv := metrics.NewServer(metrics.ServerConfig{Status: fixedStatus{report: sampleReport(), ok: true}})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/positions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got []domain.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 2)
}

func TestServer_Trades(t *testing.T) {
	j := &fakeJournal{closed: []domain.ClosedPosition{{ID: "c1", MarketID: "0xaaa", Reason: domain.ExitTakeProfit}}}
	srv := metrics.NewServer(metrics.ServerConfig{Journal: j})
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/trades?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, j.limit)
	assert.Contains(t, rec.Body.String(), `"TAKE_PROFIT"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/trades?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	j.err = errors.New("disk gone")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/trades", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 50, j.limit)
}

func TestServer_TradesWithoutJournal(t *testing.T) {
	srv := metrics.NewServer(metrics.ServerConfig{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/trades", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.NewRecorder(reg).CycleCompleted(sampleReport())

	srv := metrics.NewServer(metrics.ServerConfig{Gatherer: reg})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "polyedge_cycles_total 1")
}
