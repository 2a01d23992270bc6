package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Console implementa ports.Notifier escribiendo a un io.Writer.
type Console struct {
	out   io.Writer
	table bool
	mu    sync.Mutex
}

// NewConsole crea un notificador que escribe a stdout. table=true imprime el
// reporte completo de cada ciclo (posiciones + portfolio); si no, una línea.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// Notify imprime el evento en el modo configurado.
func (c *Console) Notify(_ context.Context, ev domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := ev.At
	if ts.IsZero() {
		ts = time.Now()
	}
	now := ts.Format("15:04:05")

	switch ev.Kind {
	case domain.EventCycleReport:
		if ev.Report == nil {
			return
		}
		if c.table {
			c.printReport(now, *ev.Report)
		} else {
			c.printCompact(now, *ev.Report)
		}
	case domain.EventTradeOpened:
		if ev.Signal != nil {
			fmt.Fprintf(c.out, "[%s] %s\n", now, FormatSignal(*ev.Signal))
		}
	case domain.EventTradeClosed:
		if ev.Closed != nil {
			fmt.Fprintf(c.out, "[%s] %s\n", now, FormatClosed(*ev.Closed))
		}
	case domain.EventArbitrage:
		c.printArbitrage(now, ev.Arbitrage)
	case domain.EventEconomics:
		if ev.Report != nil && ev.Report.Economics != nil {
			fmt.Fprintf(c.out, "[%s] %s\n", now, FormatEconomics(*ev.Report.Economics))
		}
	default:
		fmt.Fprintf(c.out, "[%s] %s: %s\n", now, strings.ToUpper(string(ev.Kind)), ev.Message)
	}
}

// printCompact imprime lo esencial en una línea.
func (c *Console) printCompact(now string, r domain.CycleReport) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] #%d bal $%.2f (%s", now, r.Cycle, r.Balance.Amount, r.Balance.Source)
	if r.Balance.Stale {
		sb.WriteString(", stale")
	}
	fmt.Fprintf(&sb, ") | %d mkts → %d analyzed → %d signals | +%d trades -%d exits",
		r.Scanned, r.Analyzed, r.Signals, r.Trades, r.Exits)
	if r.Arbitrage > 0 {
		fmt.Fprintf(&sb, " | arb:%d", r.Arbitrage)
	}
	fmt.Fprintf(&sb, " | pos:%d exp $%.2f pnl $%.2f",
		r.Portfolio.OpenPositions, r.Portfolio.TotalExposure, r.Portfolio.TotalRealizedPnL)
	if r.APICalls > 0 {
		fmt.Fprintf(&sb, " | api $%.4f", r.APICostUSD)
	}
	if r.SurvivalMode {
		sb.WriteString(" | SURVIVAL")
	}
	fmt.Fprintln(c.out, sb.String())
}

// printReport imprime la tabla de posiciones y el resumen del portfolio.
func (c *Console) printReport(now string, r domain.CycleReport) {
	fmt.Fprintf(c.out, "\n[%s] cycle #%d: %d markets, %d analyzed, %d signals, %d rejected, %d trades, %d exits (%s)\n",
		now, r.Cycle, r.Scanned, r.Analyzed, r.Signals, r.Rejected, r.Trades, r.Exits,
		r.Duration.Round(time.Millisecond))

	if len(r.OpenPositions) > 0 {
		table := tablewriter.NewWriter(c.out)
		table.Header("#", "Market", "Side", "Entry", "Now", "Shares", "Cost", "PnL", "PnL%", "Held")
		for i, p := range r.OpenPositions {
			table.Append(
				fmt.Sprintf("%d", i+1),
				domain.TruncateQuestion(p.Question, p.MarketID, 38),
				string(p.TokenSide),
				fmt.Sprintf("%.3f", p.EntryPrice),
				fmt.Sprintf("%.3f", p.CurrentPrice),
				fmt.Sprintf("%.2f", p.Shares),
				fmt.Sprintf("$%.2f", p.CostBasis),
				fmt.Sprintf("$%.2f", p.UnrealizedPnL()),
				fmt.Sprintf("%+.1f%%", p.PnLPct()*100),
				heldLabel(r.Balance.At, p.OpenedAt),
			)
		}
		table.Render()
	}

	s := r.Portfolio
	fmt.Fprintf(c.out, "\n=== PORTFOLIO ===\n")
	fmt.Fprintf(c.out, "  Balance:        $%.2f (%s)\n", s.Balance, balanceLabel(r.Balance))
	fmt.Fprintf(c.out, "  Open positions: %d  exposure $%.2f\n", s.OpenPositions, s.TotalExposure)
	fmt.Fprintf(c.out, "  Unrealized PnL: $%.2f\n", s.UnrealizedPnL)
	fmt.Fprintf(c.out, "  Realized PnL:   $%.2f  (today $%.2f)\n", s.TotalRealizedPnL, s.DailyPnL)
	fmt.Fprintf(c.out, "  Closed trades:  %d  win rate %.1f%%\n", s.ClosedTrades, s.WinRate)
	if e := r.Economics; e != nil {
		fmt.Fprintf(c.out, "  API cost:       $%.4f this cycle, $%.4f total (%d calls)\n", r.APICostUSD, e.APICostUSD, e.APICalls)
		fmt.Fprintf(c.out, "  Net profit:     $%+.2f  ROI %+.1f%%\n", e.NetProfit, e.ROIPct)
	}
	if r.SurvivalMode {
		fmt.Fprintf(c.out, "  ⚠ SURVIVAL MODE: new entries paused\n")
	}
	fmt.Fprintln(c.out)
}

func (c *Console) printArbitrage(now string, arbs []domain.ArbitrageSignal) {
	if len(arbs) == 0 {
		return
	}
	fmt.Fprintf(c.out, "[%s] %d arbitrage opportunities\n", now, len(arbs))
	table := tablewriter.NewWriter(c.out)
	table.Header("Market", "YES", "NO", "Sum", "Margin", "Size")
	for _, a := range arbs {
		table.Append(
			domain.TruncateQuestion(a.Question, a.MarketID, 38),
			fmt.Sprintf("%.3f", a.YesPrice),
			fmt.Sprintf("%.3f", a.NoPrice),
			fmt.Sprintf("%.3f", a.TotalPrice),
			fmt.Sprintf("%.1f%%", a.ProfitMargin*100),
			fmt.Sprintf("$%.2f", a.PositionSize),
		)
	}
	table.Render()
}

// FormatSignal resume una entrada en una línea.
func FormatSignal(s domain.TradeSignal) string {
	label := "TRADE"
	if s.HighConviction {
		label = "TRADE*"
	}
	return fmt.Sprintf("%s %s %s @ %.3f x %.2f ($%.2f) fair %.3f edge %.3f conf %.2f",
		label, s.TokenSide, domain.TruncateQuestion(s.Question, s.MarketID, 50),
		s.EntryPrice, s.Shares, s.SizeUSD, s.FairValue, s.Edge, s.Confidence)
}

// FormatClosed resume un cierre en una línea.
func FormatClosed(c domain.ClosedPosition) string {
	return fmt.Sprintf("CLOSE %s %s (%s) %.3f → %.3f pnl $%.2f (%+.1f%%) held %s",
		c.TokenSide, domain.TruncateQuestion(c.Question, c.MarketID, 50), c.Reason,
		c.EntryPrice, c.ExitPrice, c.RealizedPnL, c.PnLPct*100, c.HoldTime.Round(time.Minute))
}

// FormatEconomics resume coste de API frente a PnL realizado.
func FormatEconomics(e domain.Economics) string {
	sustain := "NO"
	if e.SelfSustaining {
		sustain = "YES"
	}
	return fmt.Sprintf("ECONOMICS balance $%.2f → $%.2f (ROI %+.1f%%) | trading pnl $%+.2f - api $%.4f = net $%+.2f | self-sustaining %s | %d calls, %d trades, $%.4f/trade | %.1fh",
		e.StartingBalance, e.CurrentBalance, e.ROIPct,
		e.TradingPnL, e.APICostUSD, e.NetProfit, sustain,
		e.APICalls, e.ClosedTrades, e.CostPerTrade, e.RuntimeHours)
}

func balanceLabel(b domain.BalanceReading) string {
	if b.Stale {
		return b.Source + ", stale"
	}
	return b.Source
}

func heldLabel(now, opened time.Time) string {
	if opened.IsZero() || now.IsZero() {
		return "-"
	}
	d := now.Sub(opened)
	if d < 0 {
		return "-"
	}
	if d >= 48*time.Hour {
		return fmt.Sprintf("%.0fd", d.Hours()/24)
	}
	return fmt.Sprintf("%.0fh", d.Hours())
}
