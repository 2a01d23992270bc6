package ports

import (
	"context"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// OrderExecutor submits orders to the exchange, or simulates them in dry-run.
type OrderExecutor interface {
	// Buy submits a buy limit order for one outcome token.
	Buy(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)

	// Sell submits a sell limit order closing (part of) a position.
	Sell(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)

	// CancelAllOpen cancels every resting order for this wallet.
	// Called on startup to clear stale GTC orders.
	CancelAllOpen(ctx context.Context) error
}
