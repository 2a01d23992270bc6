package domain

import "time"

// EventKind clasifica las notificaciones que emite el bot.
type EventKind string

const (
	EventStarted      EventKind = "started"
	EventTradeOpened  EventKind = "trade_opened"
	EventTradeClosed  EventKind = "trade_closed"
	EventArbitrage    EventKind = "arbitrage"
	EventSurvival     EventKind = "survival_mode"
	EventCycleReport  EventKind = "cycle_report"
	EventEconomics    EventKind = "economics_report"
	EventExecutionErr EventKind = "execution_error"
)

// Event es un mensaje fire-and-forget hacia los notifiers.
// Solo uno de los payloads opcionales viene informado según Kind.
type Event struct {
	Kind    EventKind
	At      time.Time
	Message string

	Signal    *TradeSignal
	Closed    *ClosedPosition
	Arbitrage []ArbitrageSignal
	Report    *CycleReport
}

// CycleReport resume un ciclo del orquestador.
type CycleReport struct {
	Cycle         int
	Balance       BalanceReading
	Scanned       int
	Analyzed      int
	Signals       int
	Rejected      int
	Trades        int
	Exits         int
	Arbitrage     int
	APICostUSD    float64 // gasto en modelos durante el ciclo
	APICalls      int
	SurvivalMode  bool
	Duration      time.Duration
	Portfolio     PortfolioSummary
	Economics     *Economics // nil si no hay seguimiento de costes
	OpenPositions []Position
}
