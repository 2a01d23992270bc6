package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Token es uno de los dos lados del mercado (YES/NO).
type Token struct {
	TokenID string
	Outcome string // "Yes" | "No"
}

// MarketQuote es la foto inmutable de un mercado binario durante un ciclo.
// Se construye y valida una única vez en el adapter; el core solo la lee.
type MarketQuote struct {
	ID            string // conditionId en Polymarket
	Question      string
	Description   string
	Slug          string
	Category      string
	YesPrice      float64
	NoPrice       float64
	Volume24h     float64 // USDC
	Liquidity     float64 // USDC
	EndDate       time.Time
	HoursToExpiry float64
	Tokens        [2]Token
	NegRisk       bool
}

// ErrInvalidQuote se devuelve cuando un payload de mercado no cumple el contrato.
var ErrInvalidQuote = errors.New("invalid market quote")

// Validate comprueba las invariantes de la quote: id presente, precios en (0,1),
// horas no negativas y los dos tokens identificados.
func (q MarketQuote) Validate() error {
	switch {
	case q.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidQuote)
	case q.YesPrice <= 0 || q.YesPrice >= 1:
		return fmt.Errorf("%w: %s yes price %.4f out of (0,1)", ErrInvalidQuote, q.ID, q.YesPrice)
	case q.NoPrice <= 0 || q.NoPrice >= 1:
		return fmt.Errorf("%w: %s no price %.4f out of (0,1)", ErrInvalidQuote, q.ID, q.NoPrice)
	case q.HoursToExpiry < 0:
		return fmt.Errorf("%w: %s negative hours to expiry", ErrInvalidQuote, q.ID)
	case q.Tokens[0].TokenID == "" || q.Tokens[1].TokenID == "":
		return fmt.Errorf("%w: %s missing token ids", ErrInvalidQuote, q.ID)
	}
	return nil
}

// YesToken devuelve el token YES del mercado.
func (q MarketQuote) YesToken() Token {
	for _, t := range q.Tokens {
		if strings.EqualFold(t.Outcome, "yes") {
			return t
		}
	}
	return q.Tokens[0]
}

// NoToken devuelve el token NO del mercado.
func (q MarketQuote) NoToken() Token {
	for _, t := range q.Tokens {
		if strings.EqualFold(t.Outcome, "no") {
			return t
		}
	}
	return q.Tokens[1]
}

// TokenFor devuelve el token que se compra para el lado dado.
func (q MarketQuote) TokenFor(side TokenSide) Token {
	if side == SideNo {
		return q.NoToken()
	}
	return q.YesToken()
}

// PriceFor devuelve el precio actual del lado dado.
func (q MarketQuote) PriceFor(side TokenSide) float64 {
	if side == SideNo {
		return q.NoPrice
	}
	return q.YesPrice
}

// HoursUntil calcula las horas hasta endDate desde now. 0 si no hay fecha o ya pasó.
func HoursUntil(endDate, now time.Time) float64 {
	if endDate.IsZero() {
		return 0
	}
	h := endDate.Sub(now).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// Categorías conocidas. El orden importa: gana la primera que coincide.
var categoryKeywords = []struct {
	name     string
	keywords []string
}{
	{"crypto", []string{"crypto", "bitcoin", "btc", "ethereum", "eth", "solana", "sol", "defi", "token", "blockchain"}},
	{"sports", []string{"sports", "nfl", "nba", "soccer", "football", "tennis", "mma", "ufc", "baseball", "mlb"}},
	{"weather", []string{"weather", "temperature", "hurricane", "storm", "climate", "noaa"}},
	{"politics", []string{"politics", "election", "president", "congress", "senate", "vote", "trump", "biden"}},
}

// CategoryGeneral es la categoría por defecto.
const CategoryGeneral = "general"

// DetectCategory clasifica un mercado por palabras clave en pregunta, descripción y tags.
// La coincidencia es por palabra completa para que "sol" no capture "solution".
func DetectCategory(question, description string, tags []string) string {
	text := strings.ToLower(question + " " + description + " " + strings.Join(tags, " "))
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if set[kw] {
				return c.name
			}
		}
	}
	return CategoryGeneral
}

// TruncateQuestion devuelve la pregunta truncada a maxLen caracteres.
// Si la pregunta está vacía usa el id del mercado como fallback.
func TruncateQuestion(question, marketID string, maxLen int) string {
	q := question
	if q == "" {
		if len(marketID) > 20 {
			q = marketID[:20] + "..."
		} else {
			q = marketID
		}
	}
	if len(q) > maxLen {
		q = q[:maxLen-3] + "..."
	}
	return q
}
