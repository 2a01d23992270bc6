package ports

import (
	"context"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Notifier presenta los eventos del bot al usuario.
// Es fire-and-forget: las implementaciones no bloquean el ciclo y sus fallos
// se loguean internamente.
type Notifier interface {
	Notify(ctx context.Context, event domain.Event)
}
