package paper

import "context"

// Wallet es el balance simulado: el capital inicial más el PnL realizado.
// Las posiciones abiertas no lo reducen; el RiskGate ya descuenta la exposición.
type Wallet struct {
	initial  float64
	realized func() float64
}

// NewWallet crea un Wallet. realized devuelve el PnL realizado acumulado
// (normalmente Ledger.RealizedPnL); puede ser nil.
func NewWallet(initial float64, realized func() float64) *Wallet {
	return &Wallet{initial: initial, realized: realized}
}

// Name identifica el origen del balance.
func (w *Wallet) Name() string { return "paper" }

// Balance implementa ports.BalanceSource.
func (w *Wallet) Balance(_ context.Context) (float64, error) {
	if w.realized == nil {
		return w.initial, nil
	}
	return w.initial + w.realized(), nil
}
