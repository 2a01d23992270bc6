package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

const (
	positionsPerPage  = 500
	positionsMaxPages = 3
	// Por debajo de este tamaño la Data API devuelve polvo de redenciones.
	positionsMinSize = 0.1
)

// FetchPositions devuelve las posiciones abiertas de una wallet según la
// Data API pública. Sirve para reconciliar el ledger con el exchange.
func (c *Client) FetchPositions(ctx context.Context, user string) ([]domain.Position, error) {
	var all []domain.Position

	for page := 0; page < positionsMaxPages; page++ {
		q := url.Values{}
		q.Set("user", user)
		q.Set("sizeThreshold", strconv.FormatFloat(positionsMinSize, 'f', -1, 64))
		q.Set("limit", strconv.Itoa(positionsPerPage))
		q.Set("offset", strconv.Itoa(page*positionsPerPage))

		var resp []dataPosition
		if err := c.get(ctx, c.clobLimiter, c.dataBase+"/positions?"+q.Encode(), &resp); err != nil {
			return nil, fmt.Errorf("data-api.FetchPositions: %w", err)
		}
		all = append(all, mapPositions(resp, c.now())...)

		slog.Debug("fetched positions page", "page", page, "count", len(resp), "total", len(all))
		if len(resp) < positionsPerPage {
			break
		}
	}
	return all, nil
}
