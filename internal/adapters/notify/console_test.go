package notify_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alejandrodnm/polyedge/internal/adapters/notify"
	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/stretchr/testify/assert"
)

var testNow = time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

func makeReport() *domain.CycleReport {
	return &domain.CycleReport{
		Cycle:    7,
		Balance:  domain.BalanceReading{Amount: 96.5, Source: "clob", At: testNow},
		Scanned:  120,
		Analyzed: 20,
		Signals:  2,
		Trades:   1,
		Exits:    1,
		Duration: 3 * time.Second,
		Portfolio: domain.PortfolioSummary{
			Balance:          96.5,
			OpenPositions:    1,
			TotalExposure:    4,
			UnrealizedPnL:    0.5,
			TotalRealizedPnL: 2.25,
			ClosedTrades:     3,
			WinRate:          66.7,
		},
		OpenPositions: []domain.Position{{
			MarketID:     "0xaaa",
			Question:     "Will BTC close above $100k on Friday?",
			TokenSide:    domain.SideYes,
			EntryPrice:   0.40,
			CurrentPrice: 0.45,
			Shares:       10,
			CostBasis:    4,
			OpenedAt:     testNow.Add(-5 * time.Hour),
		}},
	}
}

func TestConsole_CompactReport(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false)

	c.Notify(context.Background(), domain.Event{Kind: domain.EventCycleReport, At: testNow, Report: makeReport()})

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, "[14:30:00] #7 bal $96.50 (clob)")
	assert.Contains(t, out, "120 mkts")
	assert.Contains(t, out, "pnl $2.25")
	assert.NotContains(t, out, "SURVIVAL")
}

func TestConsole_TableReport(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, true)

	r := makeReport()
	r.SurvivalMode = true
	r.Balance.Stale = true
	c.Notify(context.Background(), domain.Event{Kind: domain.EventCycleReport, At: testNow, Report: r})

	out := buf.String()
	assert.Contains(t, out, "cycle #7")
	assert.Contains(t, out, "Will BTC close above")
	assert.Contains(t, out, "+12.5%")
	assert.Contains(t, out, "5h")
	assert.Contains(t, out, "clob, stale")
	assert.Contains(t, out, "win rate 66.7%")
	assert.Contains(t, out, "SURVIVAL MODE")
	assert.NotContains(t, out, "API cost")
}

func TestConsole_EconomicsInReports(t *testing.T) {
	r := makeReport()
	r.APICostUSD = 0.0031
	r.APICalls = 8
	r.Economics = &domain.Economics{
		StartingBalance: 100, CurrentBalance: 96.5, ROIPct: -3.5,
		TradingPnL: 2.25, APICostUSD: 0.25, APICalls: 80, NetProfit: 2.0,
		SelfSustaining: true, ClosedTrades: 3, CostPerTrade: 0.0833, RuntimeHours: 5,
	}

	var compact bytes.Buffer
	notify.NewConsoleWriter(&compact, false).Notify(context.Background(),
		domain.Event{Kind: domain.EventCycleReport, At: testNow, Report: r})
	assert.Contains(t, compact.String(), "| api $0.0031")

	var table bytes.Buffer
	notify.NewConsoleWriter(&table, true).Notify(context.Background(),
		domain.Event{Kind: domain.EventCycleReport, At: testNow, Report: r})
	assert.Contains(t, table.String(), "API cost:       $0.0031 this cycle, $0.2500 total (80 calls)")
	assert.Contains(t, table.String(), "Net profit:     $+2.00  ROI -3.5%")

	var eco bytes.Buffer
	notify.NewConsoleWriter(&eco, false).Notify(context.Background(),
		domain.Event{Kind: domain.EventEconomics, At: testNow, Report: r})
	out := eco.String()
	assert.Contains(t, out, "[14:30:00] ECONOMICS balance $100.00 → $96.50 (ROI -3.5%)")
	assert.Contains(t, out, "trading pnl $+2.25 - api $0.2500 = net $+2.00")
	assert.Contains(t, out, "self-sustaining YES")
	assert.Contains(t, out, "80 calls, 3 trades, $0.0833/trade | 5.0h")
}

func TestConsole_TradeEvents(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false)
	ctx := context.Background()

	c.Notify(ctx, domain.Event{Kind: domain.EventTradeOpened, At: testNow, Signal: &domain.TradeSignal{
		MarketID: "0xaaa", Question: "Will it rain?", TokenSide: domain.SideNo,
		EntryPrice: 0.3, Shares: 10, SizeUSD: 3, FairValue: 0.55, Edge: 0.15, Confidence: 0.8,
		HighConviction: true,
	}})
	c.Notify(ctx, domain.Event{Kind: domain.EventTradeClosed, At: testNow, Closed: &domain.ClosedPosition{
		MarketID: "0xaaa", Question: "Will it rain?", TokenSide: domain.SideNo,
		EntryPrice: 0.3, ExitPrice: 0.45, RealizedPnL: 1.5, PnLPct: 0.5,
		Reason: domain.ExitTakeProfit, HoldTime: 90 * time.Minute,
	}})
	c.Notify(ctx, domain.Event{Kind: domain.EventExecutionErr, At: testNow, Message: "buy failed"})

	out := buf.String()
	assert.Contains(t, out, "TRADE* NO Will it rain? @ 0.300")
	assert.Contains(t, out, "CLOSE NO Will it rain? (TAKE_PROFIT)")
	assert.Contains(t, out, "+50.0%")
	assert.Contains(t, out, "EXECUTION_ERROR: buy failed")
}

func TestConsole_Arbitrage(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false)

	c.Notify(context.Background(), domain.Event{Kind: domain.EventArbitrage, At: testNow, Arbitrage: []domain.ArbitrageSignal{{
		MarketID: "0xbbb", Question: "Arb market", YesPrice: 0.45, NoPrice: 0.50,
		TotalPrice: 0.95, ProfitMargin: 0.05, PositionSize: 10,
	}}})

	out := buf.String()
	assert.Contains(t, out, "1 arbitrage opportunities")
	assert.Contains(t, out, "Arb market")
	assert.Contains(t, out, "5.0%")
}

func TestConsole_NilPayloadIgnored(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, true)

	c.Notify(context.Background(), domain.Event{Kind: domain.EventCycleReport})
	c.Notify(context.Background(), domain.Event{Kind: domain.EventTradeOpened})
	assert.Empty(t, buf.String())
}
