package domain

// Economics compara lo gastado en APIs de modelos con el resultado del trading
// desde que arrancó el proceso.
type Economics struct {
	StartingBalance float64 `json:"starting_balance"`
	CurrentBalance  float64 `json:"current_balance"`
	APICostUSD      float64 `json:"api_cost_usd"`
	APICalls        int     `json:"api_calls"`
	TradingPnL      float64 `json:"trading_pnl"`
	ClosedTrades    int     `json:"closed_trades"`
	NetProfit       float64 `json:"net_profit"`  // TradingPnL - APICostUSD
	ROIPct          float64 `json:"roi_pct"`     // (CurrentBalance - StartingBalance) / StartingBalance * 100
	CostPerTrade    float64 `json:"cost_per_trade"`
	SelfSustaining  bool    `json:"self_sustaining"` // NetProfit > 0
	RuntimeHours    float64 `json:"runtime_hours"`
}
