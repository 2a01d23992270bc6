package notify

// telegram.go - alertas al chat de Telegram del operador.

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Máximo de oportunidades de arbitraje por mensaje.
const maxArbLines = 5

// TelegramConfig configura el notificador. Endpoint vacío usa la API pública.
type TelegramConfig struct {
	Token        string
	ChatID       int64
	Endpoint     string // formato tgbotapi: "https://host/bot%s/%s"
	CycleReports bool   // enviar también el resumen de cada ciclo
}

// Telegram implementa ports.Notifier. Es síncrono; para no bloquear el ciclo
// se envuelve en Async.
type Telegram struct {
	api          *tgbotapi.BotAPI
	chatID       int64
	cycleReports bool
}

// NewTelegram conecta con el bot (llama a getMe).
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.Token == "" || cfg.ChatID == 0 {
		return nil, fmt.Errorf("notify.NewTelegram: token and chat id are required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, &http.Client{})
	if err != nil {
		return nil, fmt.Errorf("notify.NewTelegram: %w", err)
	}
	slog.Info("telegram bot connected", "username", api.Self.UserName)
	return &Telegram{api: api, chatID: cfg.ChatID, cycleReports: cfg.CycleReports}, nil
}

// Notify envía el evento. Los fallos se loguean.
func (t *Telegram) Notify(_ context.Context, ev domain.Event) {
	text := t.format(ev)
	if text == "" {
		return
	}
	if _, err := t.api.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
		slog.Warn("telegram send failed", "kind", ev.Kind, "err", err)
	}
}

func (t *Telegram) format(ev domain.Event) string {
	switch ev.Kind {
	case domain.EventStarted:
		return "🤖 polyedge started"
	case domain.EventTradeOpened:
		if ev.Signal == nil {
			return ""
		}
		return "🟢 " + FormatSignal(*ev.Signal)
	case domain.EventTradeClosed:
		if ev.Closed == nil {
			return ""
		}
		icon := "🔴"
		if ev.Closed.RealizedPnL > 0 {
			icon = "✅"
		}
		return icon + " " + FormatClosed(*ev.Closed)
	case domain.EventArbitrage:
		return formatArbitrage(ev.Arbitrage)
	case domain.EventSurvival:
		return "⚠️ SURVIVAL MODE: " + ev.Message
	case domain.EventExecutionErr:
		return "❌ " + ev.Message
	case domain.EventEconomics:
		if ev.Report == nil || ev.Report.Economics == nil {
			return ""
		}
		return "💰 " + FormatEconomics(*ev.Report.Economics)
	case domain.EventCycleReport:
		if !t.cycleReports || ev.Report == nil {
			return ""
		}
		r := ev.Report
		return fmt.Sprintf("📊 cycle #%d | balance $%.2f | %d signals, %d trades, %d exits | %d open, realized $%.2f",
			r.Cycle, r.Balance.Amount, r.Signals, r.Trades, r.Exits,
			r.Portfolio.OpenPositions, r.Portfolio.TotalRealizedPnL)
	}
	return ev.Message
}

func formatArbitrage(arbs []domain.ArbitrageSignal) string {
	if len(arbs) == 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "💰 %d arbitrage opportunities", len(arbs))
	for i, a := range arbs {
		if i >= maxArbLines {
			fmt.Fprintf(&sb, "\n… and %d more", len(arbs)-maxArbLines)
			break
		}
		fmt.Fprintf(&sb, "\n• %s: YES %.3f + NO %.3f = %.3f (margin %.1f%%, $%.2f)",
			domain.TruncateQuestion(a.Question, a.MarketID, 40),
			a.YesPrice, a.NoPrice, a.TotalPrice, a.ProfitMargin*100, a.PositionSize)
	}
	return sb.String()
}
