package polymarket

// gamma.go - listado y quotes de mercados vía Gamma API.

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

const (
	gammaMarketsPath = "/markets"
	gammaPageSize    = 100
)

// ListTradableMarkets pagina /markets (activos, por volumen 24h descendente)
// hasta MaxFetch y devuelve las quotes que pasan los filtros, ordenadas por
// volumen desc e id asc. Un fallo en la primera página es un error; en las
// siguientes se corta la paginación y se usa lo obtenido.
func (c *Client) ListTradableMarkets(ctx context.Context) ([]domain.MarketQuote, error) {
	var raw []gammaMarket

	for offset := 0; offset < c.filter.MaxFetch; offset += gammaPageSize {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(gammaPageSize))
		q.Set("offset", strconv.Itoa(offset))
		q.Set("active", "true")
		q.Set("closed", "false")
		q.Set("order", "volume24hr")
		q.Set("ascending", "false")

		var page []gammaMarket
		if err := c.get(ctx, c.gammaLimiter, c.gammaBase+gammaMarketsPath+"?"+q.Encode(), &page); err != nil {
			if offset == 0 {
				return nil, fmt.Errorf("gamma.ListTradableMarkets: %w", err)
			}
			slog.Warn("gamma page failed, using partial listing", "offset", offset, "err", err)
			break
		}
		raw = append(raw, page...)

		slog.Debug("fetched gamma page", "offset", offset, "count", len(page), "total", len(raw))
		if len(page) < gammaPageSize {
			break
		}
	}

	quotes := filterMarkets(raw, c.filter, c.now())
	sort.SliceStable(quotes, func(i, j int) bool {
		if quotes[i].Volume24h != quotes[j].Volume24h {
			return quotes[i].Volume24h > quotes[j].Volume24h
		}
		return quotes[i].ID < quotes[j].ID
	})

	slog.Info("markets scanned",
		"fetched", len(raw),
		"tradable", len(quotes),
		"min_volume", c.filter.MinVolume24h,
		"min_liquidity", c.filter.MinLiquidity,
	)
	return quotes, nil
}

// GetQuote devuelve la quote actual de un mercado sin aplicar los filtros de
// listado: una posición abierta se sigue valorando aunque el mercado haya
// perdido volumen. Devuelve ErrMarketNotFound si Gamma no lo conoce.
func (c *Client) GetQuote(ctx context.Context, marketID string) (*domain.MarketQuote, error) {
	q := url.Values{}
	q.Set("condition_ids", marketID)
	q.Set("limit", "1")

	var resp []gammaMarket
	if err := c.get(ctx, c.gammaLimiter, c.gammaBase+gammaMarketsPath+"?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("gamma.GetQuote %s: %w", marketID, err)
	}
	for _, gm := range resp {
		if gm.ConditionID != marketID {
			continue
		}
		quote, err := mapGammaMarket(gm, c.now())
		if err != nil {
			return nil, fmt.Errorf("gamma.GetQuote: %w", err)
		}
		return &quote, nil
	}
	return nil, fmt.Errorf("gamma.GetQuote %s: %w", marketID, ErrMarketNotFound)
}
