package paper

// executor.go - ejecución simulada (dry run). Ninguna orden sale del proceso:
// se rellena al precio límite, o al mejor precio del book si es más favorable.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/ports"
)

// StatusSimulated es el estado de toda orden simulada.
const StatusSimulated = "SIMULATED"

// Executor implementa ports.OrderExecutor sin tocar el exchange.
type Executor struct {
	books ports.BookProvider // opcional

	mu  sync.Mutex
	seq int
}

// NewExecutor crea un executor simulado. Con books != nil los fills usan el
// mejor ask (compra) o el mejor bid (venta) cuando mejoran o empeoran el límite.
func NewExecutor(books ports.BookProvider) *Executor {
	return &Executor{books: books}
}

// Buy simula una compra límite. Se rellena entera al límite, o al mejor ask
// si está por debajo.
func (e *Executor) Buy(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if err := validate(req); err != nil {
		return domain.OrderResult{}, fmt.Errorf("paper.Buy: %w", err)
	}
	price := req.Price
	if book, ok := e.book(ctx, req.TokenID); ok {
		if ask := book.BestAsk(); ask > 0 && ask < price {
			price = ask
		}
	}
	return e.fill(req, domain.OrderBuy, price), nil
}

// Sell simula una venta. Igual que en real, el precio baja al mejor bid si
// éste es menor que el límite.
func (e *Executor) Sell(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if err := validate(req); err != nil {
		return domain.OrderResult{}, fmt.Errorf("paper.Sell: %w", err)
	}
	price := req.Price
	if book, ok := e.book(ctx, req.TokenID); ok {
		if bid := book.BestBid(); bid > 0 && bid < price {
			price = bid
		}
	}
	return e.fill(req, domain.OrderSell, price), nil
}

// CancelAllOpen no hace nada: las órdenes simuladas se rellenan al instante.
func (e *Executor) CancelAllOpen(_ context.Context) error {
	return nil
}

func (e *Executor) fill(req domain.OrderRequest, side domain.OrderSide, price float64) domain.OrderResult {
	e.mu.Lock()
	e.seq++
	id := fmt.Sprintf("SIM-%04d", e.seq)
	e.mu.Unlock()

	slog.Info("[DRY RUN] order simulated",
		"id", id,
		"side", side,
		"market", req.MarketID,
		"shares", fmt.Sprintf("%.2f", req.Shares),
		"price", fmt.Sprintf("%.3f", price),
		"notional", fmt.Sprintf("$%.2f", price*req.Shares),
	)
	return domain.OrderResult{
		CLOBOrderID:  id,
		Status:       StatusSimulated,
		FilledShares: req.Shares,
		AvgPrice:     price,
		Simulated:    true,
	}
}

func (e *Executor) book(ctx context.Context, tokenID string) (domain.OrderBook, bool) {
	if e.books == nil || tokenID == "" {
		return domain.OrderBook{}, false
	}
	books, err := e.books.FetchOrderBooks(ctx, []string{tokenID})
	if err != nil {
		slog.Debug("paper: order book unavailable", "token", tokenID, "err", err)
		return domain.OrderBook{}, false
	}
	b, ok := books[tokenID]
	return b, ok
}

func validate(req domain.OrderRequest) error {
	if req.Price <= 0 || req.Price >= 1 {
		return fmt.Errorf("price %.4f outside (0,1)", req.Price)
	}
	if req.Shares <= 0 {
		return fmt.Errorf("non-positive size %.4f", req.Shares)
	}
	return nil
}
