package ports

import (
	"context"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Validator contrasta el razonamiento de un modelo con datos externos.
// Devuelve Valid=true cuando no puede concluir nada.
type Validator interface {
	Name() string
	Validate(ctx context.Context, market domain.MarketQuote, estimate domain.FairValueEstimate) (domain.Verdict, error)
}
