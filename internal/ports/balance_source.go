package ports

import "context"

// BalanceSource lee el efectivo USDC disponible de un origen concreto
// (CLOB, on-chain, paper).
type BalanceSource interface {
	Name() string
	Balance(ctx context.Context) (float64, error)
}
