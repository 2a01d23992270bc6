package ports

import (
	"context"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// ProbabilityModel estima la probabilidad de que un mercado resuelva YES.
// Un error significa "modelo no disponible": el mercado se salta, no se reintenta.
type ProbabilityModel interface {
	Name() string
	Estimate(ctx context.Context, market domain.MarketQuote) (domain.FairValueEstimate, error)
}
