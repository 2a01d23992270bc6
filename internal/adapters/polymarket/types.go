package polymarket

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// DTOs raw de la API de Polymarket. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// --- CLOB API ---

// orderBookRequest es el body del POST /books batch.
type orderBookRequest struct {
	TokenID string `json:"token_id"`
}

// orderBookResponse es la respuesta de un item en POST /books.
type orderBookResponse struct {
	AssetID string         `json:"asset_id"`
	Bids    []bookEntryRaw `json:"bids"`
	Asks    []bookEntryRaw `json:"asks"`
}

// bookEntryRaw es un nivel de precio raw de la API (strings para mayor precisión).
type bookEntryRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// --- Gamma API ---

// gammaMarket es un mercado de GET /markets.
// Gamma mezcla números, strings numéricos y arrays serializados como string.
type gammaMarket struct {
	ConditionID   string     `json:"conditionId"`
	Question      string     `json:"question"`
	Description   string     `json:"description"`
	Slug          string     `json:"slug"`
	EndDate       string     `json:"endDate"`
	EndDateISO    string     `json:"endDateIso"`
	Volume24h     flexFloat  `json:"volume24hr"`
	Volume        flexFloat  `json:"volume"`
	Liquidity     flexFloat  `json:"liquidity"`
	Outcomes      stringList `json:"outcomes"`
	OutcomePrices stringList `json:"outcomePrices"`
	ClobTokenIDs  stringList `json:"clobTokenIds"`
	NegRisk       bool       `json:"negRisk"`
	Active        bool       `json:"active"`
	Closed        bool       `json:"closed"`
	Tags          tagList    `json:"tags"`
}

// --- Data API ---

// dataPosition es una posición de GET /positions en la Data API.
type dataPosition struct {
	ConditionID  string    `json:"conditionId"`
	Asset        string    `json:"asset"`
	Title        string    `json:"title"`
	Outcome      string    `json:"outcome"`
	Size         flexFloat `json:"size"`
	AvgPrice     flexFloat `json:"avgPrice"`
	CurPrice     flexFloat `json:"curPrice"`
	NegativeRisk bool      `json:"negativeRisk"`
	Redeemable   bool      `json:"redeemable"`
}

// flexFloat acepta 12.5, "12.5", "" y null.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	*f = flexFloat(d.InexactFloat64())
	return nil
}

// stringList acepta tanto un array JSON como un array serializado dentro de un
// string (`"[\"0.5\", \"0.5\"]"`), que es como Gamma devuelve outcomePrices.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*l = nil
		return nil
	}
	var raw []any
	if err := json.Unmarshal(b, &raw); err != nil {
		var encoded string
		if err := json.Unmarshal(b, &encoded); err != nil {
			return err
		}
		if encoded == "" {
			*l = nil
			return nil
		}
		if err := json.Unmarshal([]byte(encoded), &raw); err != nil {
			// lista separada por comas
			parts := strings.Split(encoded, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			*l = out
			return nil
		}
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		switch x := v.(type) {
		case string:
			out = append(out, x)
		case float64:
			out = append(out, decimal.NewFromFloat(x).String())
		}
	}
	*l = out
	return nil
}

// tagList acepta ["crypto"] o [{"label": "Crypto"}].
type tagList []string

func (t *tagList) UnmarshalJSON(b []byte) error {
	var plain []string
	if err := json.Unmarshal(b, &plain); err == nil {
		*t = plain
		return nil
	}
	var objs []struct {
		Label string `json:"label"`
		Slug  string `json:"slug"`
	}
	if err := json.Unmarshal(b, &objs); err != nil {
		*t = nil
		return nil
	}
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		if o.Label != "" {
			out = append(out, o.Label)
		} else if o.Slug != "" {
			out = append(out, o.Slug)
		}
	}
	*t = out
	return nil
}

// --- CLOB trading ---

// clobOrderRequest is the JSON body sent to POST /order.
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

type clobOrderResponse struct {
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
}

type clobBalanceResponse struct {
	Balance string `json:"balance"`
}
