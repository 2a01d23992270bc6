package notify_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/alejandrodnm/polyedge/internal/adapters/notify"
	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTelegram emula getMe y sendMessage de la Bot API.
type fakeTelegram struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeTelegram) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"edge","username":"edgebot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			r.ParseForm()
			f.mu.Lock()
			f.sent = append(f.sent, r.FormValue("text"))
			f.mu.Unlock()
			w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"ok":false,"error_code":404,"description":"not found"}`))
		}
	})
}

func (f *fakeTelegram) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newTestTelegram(t *testing.T, cycleReports bool) (*notify.Telegram, *fakeTelegram) {
	t.Helper()
	fake := &fakeTelegram{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	tg, err := notify.NewTelegram(notify.TelegramConfig{
		Token:        "123:abc",
		ChatID:       42,
		Endpoint:     srv.URL + "/bot%s/%s",
		CycleReports: cycleReports,
	})
	require.NoError(t, err)
	return tg, fake
}

func TestTelegram_SendsTradeEvents(t *testing.T) {
	tg, fake := newTestTelegram(t, false)
	ctx := context.Background()

	tg.Notify(ctx, domain.Event{Kind: domain.EventTradeClosed, Closed: &domain.ClosedPosition{
		MarketID: "0xaaa", Question: "Will it rain?", TokenSide: domain.SideYes,
		EntryPrice: 0.4, ExitPrice: 0.3, RealizedPnL: -1, Reason: domain.ExitStopLoss,
	}})
	tg.Notify(ctx, domain.Event{Kind: domain.EventSurvival, Message: "balance low"})

	msgs := fake.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "🔴 CLOSE YES Will it rain? (STOP_LOSS)")
	assert.Equal(t, "⚠️ SURVIVAL MODE: balance low", msgs[1])
}

func TestTelegram_CycleReportsOptIn(t *testing.T) {
	report := &domain.CycleReport{Cycle: 3, Balance: domain.BalanceReading{Amount: 50}}

	off, fakeOff := newTestTelegram(t, false)
	off.Notify(context.Background(), domain.Event{Kind: domain.EventCycleReport, Report: report})
	assert.Empty(t, fakeOff.messages())

	on, fakeOn := newTestTelegram(t, true)
	on.Notify(context.Background(), domain.Event{Kind: domain.EventCycleReport, Report: report})
	msgs := fakeOn.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "cycle #3 | balance $50.00")
}

func TestTelegram_EconomicsReportAlwaysSent(t *testing.T) {
	tg, fake := newTestTelegram(t, false)

	report := &domain.CycleReport{Cycle: 6, Economics: &domain.Economics{
		StartingBalance: 34.56, CurrentBalance: 36, TradingPnL: 1.5, APICostUSD: 0.04,
		NetProfit: 1.46, SelfSustaining: true, APICalls: 120, ClosedTrades: 2,
	}}
	tg.Notify(context.Background(), domain.Event{Kind: domain.EventEconomics, Report: report})
	tg.Notify(context.Background(), domain.Event{Kind: domain.EventEconomics, Report: &domain.CycleReport{Cycle: 12}})

	msgs := fake.messages()
	require.Len(t, msgs, 1, "reports without economics are skipped")
	assert.True(t, strings.HasPrefix(msgs[0], "💰 ECONOMICS"))
	assert.Contains(t, msgs[0], "api $0.0400 = net $+1.46")
	assert.Contains(t, msgs[0], "self-sustaining YES")
}

func TestTelegram_ArbitrageTruncated(t *testing.T) {
	tg, fake := newTestTelegram(t, false)

	arbs := make([]domain.ArbitrageSignal, 7)
	for i := range arbs {
		arbs[i] = domain.ArbitrageSignal{MarketID: "0x" + strings.Repeat("a", i+1), YesPrice: 0.45, NoPrice: 0.5, TotalPrice: 0.95, ProfitMargin: 0.05}
	}
	tg.Notify(context.Background(), domain.Event{Kind: domain.EventArbitrage, Arbitrage: arbs})

	msgs := fake.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "7 arbitrage opportunities")
	assert.Contains(t, msgs[0], "and 2 more")
}

func TestNewTelegram_RequiresCredentials(t *testing.T) {
	_, err := notify.NewTelegram(notify.TelegramConfig{Token: "x"})
	assert.Error(t, err)
}
