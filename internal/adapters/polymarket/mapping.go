package polymarket

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

const (
	descriptionMaxLen = 500
	// Precio al que se llevan los tokens de un mercado resuelto (0 o 1) para
	// que la quote siga dentro de (0,1).
	settledEpsilon = 0.001
)

var endDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05Z",
	"2006-01-02",
}

// filterMarkets aplica los filtros de listado y descarta los payloads inválidos.
func filterMarkets(raw []gammaMarket, f MarketFilter, now time.Time) []domain.MarketQuote {
	out := make([]domain.MarketQuote, 0, len(raw))
	dropped := 0

	for _, gm := range raw {
		if float64(gm.Volume24h) < f.MinVolume24h || float64(gm.Liquidity) < f.MinLiquidity {
			continue
		}
		if len(gm.ClobTokenIDs) == 0 {
			continue
		}
		q, err := mapGammaMarket(gm, now)
		if err != nil {
			dropped++
			slog.Debug("market payload rejected", "condition_id", gm.ConditionID, "err", err)
			continue
		}
		// Precios extremos: no hay edge
		if q.YesPrice <= f.MinPrice || q.YesPrice >= f.MaxPrice {
			continue
		}
		if f.MaxDaysToExpiry > 0 && q.HoursToExpiry > f.MaxDaysToExpiry*24 {
			continue
		}
		out = append(out, q)
	}

	if dropped > 0 {
		slog.Debug("invalid market payloads dropped", "count", dropped)
	}
	return out
}

// mapGammaMarket convierte un gammaMarket en una MarketQuote validada.
func mapGammaMarket(gm gammaMarket, now time.Time) (domain.MarketQuote, error) {
	if len(gm.ClobTokenIDs) != 2 {
		return domain.MarketQuote{}, fmt.Errorf("%w: %s has %d tokens, want 2",
			domain.ErrInvalidQuote, gm.ConditionID, len(gm.ClobTokenIDs))
	}

	yes, no, err := parseOutcomePrices(gm.OutcomePrices)
	if err != nil {
		return domain.MarketQuote{}, fmt.Errorf("%w: %s: %v", domain.ErrInvalidQuote, gm.ConditionID, err)
	}

	outcomes := []string{"Yes", "No"}
	if len(gm.Outcomes) == 2 {
		outcomes = gm.Outcomes
	}

	end := parseEndDate(gm.EndDate, gm.EndDateISO)
	description := gm.Description
	if len(description) > descriptionMaxLen {
		description = description[:descriptionMaxLen]
	}

	volume := float64(gm.Volume24h)
	if volume == 0 {
		volume = float64(gm.Volume)
	}

	q := domain.MarketQuote{
		ID:            gm.ConditionID,
		Question:      gm.Question,
		Description:   description,
		Slug:          gm.Slug,
		Category:      domain.DetectCategory(gm.Question, gm.Description, gm.Tags),
		YesPrice:      yes,
		NoPrice:       no,
		Volume24h:     volume,
		Liquidity:     float64(gm.Liquidity),
		EndDate:       end,
		HoursToExpiry: domain.HoursUntil(end, now),
		Tokens: [2]domain.Token{
			{TokenID: gm.ClobTokenIDs[0], Outcome: outcomes[0]},
			{TokenID: gm.ClobTokenIDs[1], Outcome: outcomes[1]},
		},
		NegRisk: gm.NegRisk,
	}
	if err := q.Validate(); err != nil {
		return domain.MarketQuote{}, err
	}
	return q, nil
}

// parseOutcomePrices devuelve los precios YES y NO. Si falta el precio NO se
// deriva como 1 - YES. Los precios de mercados resueltos (0 o 1) se llevan a
// settledEpsilon para que la quote siga siendo válida y las posiciones se
// puedan valorar.
func parseOutcomePrices(raw []string) (yes, no float64, err error) {
	if len(raw) == 0 {
		return 0, 0, fmt.Errorf("missing outcome prices")
	}
	y, err := decimal.NewFromString(strings.TrimSpace(raw[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("yes price %q: %w", raw[0], err)
	}
	n := decimal.NewFromInt(1).Sub(y)
	if len(raw) > 1 {
		if n, err = decimal.NewFromString(strings.TrimSpace(raw[1])); err != nil {
			return 0, 0, fmt.Errorf("no price %q: %w", raw[1], err)
		}
	}
	return clampSettled(y.InexactFloat64()), clampSettled(n.InexactFloat64()), nil
}

func clampSettled(p float64) float64 {
	switch {
	case p <= 0:
		return settledEpsilon
	case p >= 1:
		return 1 - settledEpsilon
	}
	return p
}

func parseEndDate(values ...string) time.Time {
	for _, v := range values {
		if v == "" {
			continue
		}
		for _, layout := range endDateLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

// mapPositions convierte las posiciones de la Data API. Se ignoran las
// redimibles (mercado resuelto) y las vacías.
func mapPositions(raw []dataPosition, now time.Time) []domain.Position {
	out := make([]domain.Position, 0, len(raw))
	for _, r := range raw {
		if r.Redeemable || r.Size <= 0 || r.ConditionID == "" {
			continue
		}
		side := domain.SideYes
		if strings.EqualFold(r.Outcome, "no") {
			side = domain.SideNo
		}
		entry := float64(r.AvgPrice)
		current := float64(r.CurPrice)
		if current <= 0 {
			current = entry
		}
		out = append(out, domain.Position{
			MarketID:     r.ConditionID,
			Question:     r.Title,
			TokenSide:    side,
			TokenID:      r.Asset,
			EntryPrice:   entry,
			CurrentPrice: current,
			Shares:       float64(r.Size),
			CostBasis:    entry * float64(r.Size),
			NegRisk:      r.NegativeRisk,
			OpenedAt:     now,
		})
	}
	return out
}

// mapOrderBooks convierte la respuesta batch de /books a un map tokenID→OrderBook.
func mapOrderBooks(raw []orderBookResponse) map[string]domain.OrderBook {
	result := make(map[string]domain.OrderBook, len(raw))
	for _, r := range raw {
		result[r.AssetID] = domain.OrderBook{
			TokenID: r.AssetID,
			Bids:    mapBookEntries(r.Bids, false),
			Asks:    mapBookEntries(r.Asks, true),
		}
	}
	return result
}

// mapBookEntries convierte entries raw a domain.BookEntry y los ordena.
// ascending=true → menor a mayor (asks), ascending=false → mayor a menor (bids).
func mapBookEntries(raw []bookEntryRaw, ascending bool) []domain.BookEntry {
	entries := make([]domain.BookEntry, 0, len(raw))
	for _, r := range raw {
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(r.Size)
		if err != nil {
			continue
		}
		if !price.IsPositive() || !size.IsPositive() {
			continue
		}
		entries = append(entries, domain.BookEntry{Price: price.InexactFloat64(), Size: size.InexactFloat64()})
	}

	sort.Slice(entries, func(i, j int) bool {
		if ascending {
			return entries[i].Price < entries[j].Price
		}
		return entries[i].Price > entries[j].Price
	})
	return entries
}
