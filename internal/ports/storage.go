package ports

import (
	"context"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Store persiste el snapshot del ledger.
type Store interface {
	// LoadState devuelve el último snapshot guardado. Un store vacío devuelve
	// un LedgerState con el map de posiciones inicializado y sin error.
	LoadState(ctx context.Context) (domain.LedgerState, error)

	// SaveState reemplaza el snapshot completo.
	SaveState(ctx context.Context, state domain.LedgerState) error

	// Close cierra la conexión limpiamente.
	Close() error
}

// TradeJournal registra los cierres de posición para análisis posterior.
// Opcional: solo lo implementan los stores con historial.
type TradeJournal interface {
	RecordClose(ctx context.Context, closed domain.ClosedPosition) error
	ClosedPositions(ctx context.Context, limit int) ([]domain.ClosedPosition, error)
}

// CycleJournal guarda un resumen de cada ciclo. Opcional.
type CycleJournal interface {
	RecordCycle(ctx context.Context, report domain.CycleReport) error
}
