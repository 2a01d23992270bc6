package domain

// OrderSide is the direction of an exchange order.
type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

// OrderRequest is a limit order for one outcome token.
type OrderRequest struct {
	MarketID string
	TokenID  string
	Side     OrderSide
	Price    float64 // limit price per share
	Shares   float64
	NegRisk  bool
}

// Notional returns price × shares in USDC.
func (r OrderRequest) Notional() float64 {
	return r.Price * r.Shares
}

// OrderResult is what the exchange reported for a submitted order.
type OrderResult struct {
	CLOBOrderID  string
	Status       string
	FilledShares float64
	AvgPrice     float64
	Simulated    bool
}

// FilledOrNotional returns the filled share count, falling back to the requested
// amount when the exchange acknowledged the order without match details.
func (r OrderResult) FilledOrNotional(req OrderRequest) (shares, price float64) {
	shares, price = r.FilledShares, r.AvgPrice
	if shares <= 0 {
		shares = req.Shares
	}
	if price <= 0 {
		price = req.Price
	}
	return shares, price
}
