package engine

// concurrent.go - worker pool para refrescar el precio de las posiciones abiertas.

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/ports"
)

const defaultRefreshWorkers = 4

// refreshPricesConcurrent consulta la quote de cada posición en paralelo y
// devuelve el precio actual del token que se tiene, indexado por mercado.
// Las posiciones cuya quote falla no aparecen: el ledger usa el último precio.
//
// Nunca lanza más workers que posiciones.
func refreshPricesConcurrent(
	ctx context.Context,
	source ports.MarketSource,
	positions []domain.Position,
	workers int,
) map[string]float64 {
	if workers <= 0 {
		workers = defaultRefreshWorkers
	}
	if workers > len(positions) {
		workers = len(positions)
	}

	type result struct {
		marketID string
		price    float64
	}

	workCh := make(chan domain.Position, len(positions))
	resultCh := make(chan result, len(positions))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pos := range workCh {
				q, err := source.GetQuote(ctx, pos.MarketID)
				if err != nil || q == nil {
					slog.Debug("quote refresh failed", "market", pos.MarketID, "err", err)
					continue
				}
				resultCh <- result{marketID: pos.MarketID, price: q.PriceFor(pos.TokenSide)}
			}
		}()
	}

	for _, pos := range positions {
		workCh <- pos
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	prices := make(map[string]float64, len(positions))
	for r := range resultCh {
		prices[r.marketID] = r.price
	}

	slog.Debug("position prices refreshed",
		"positions", len(positions),
		"refreshed", len(prices),
		"workers", workers,
	)
	return prices
}
