package ports

import (
	"context"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// MarketSource lista mercados binarios operables y refresca quotes individuales.
type MarketSource interface {
	// ListTradableMarkets devuelve los mercados activos que pasan los filtros
	// de volumen, liquidez y precio, ordenados por volumen 24h descendente.
	// Paginación y filtrado son responsabilidad del adapter.
	ListTradableMarkets(ctx context.Context) ([]domain.MarketQuote, error)

	// GetQuote devuelve la quote actual de un mercado, sin filtros de listado.
	// Devuelve error si el mercado ya no existe o no tiene precio.
	GetQuote(ctx context.Context, marketID string) (*domain.MarketQuote, error)
}
