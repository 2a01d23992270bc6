package polymarket

import (
	"fmt"
	"math"
	"strconv"

	gomodel "github.com/polymarket/go-order-utils/pkg/model"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Unidades on-chain: 1 USDC = 1 share = 1e6.
const tokenUnit = 1_000_000

// buildSignedOrder firma con EIP-712 una orden por shares a price.
func (ac *AuthClient) buildSignedOrder(tokenID string, side domain.OrderSide, price, shares float64, negRisk bool) (*gomodel.SignedOrder, error) {
	maker, taker, err := orderAmounts(side, price, shares)
	if err != nil {
		return nil, err
	}

	orderSide := gomodel.BUY
	if side == domain.OrderSell {
		orderSide = gomodel.SELL
	}
	exchange := gomodel.CTFExchange
	if negRisk {
		exchange = gomodel.NegRiskCTFExchange
	}
	sigType := gomodel.EOA
	if ac.signatureType == SignatureGnosisSafe {
		sigType = gomodel.POLY_GNOSIS_SAFE
	}

	signed, err := ac.orderBuilder.BuildSignedOrder(ac.privateKey, &gomodel.OrderData{
		Maker:         ac.funder.Hex(),
		Taker:         "0x0000000000000000000000000000000000000000", // orden pública
		TokenId:       tokenID,
		MakerAmount:   strconv.FormatInt(maker, 10),
		TakerAmount:   strconv.FormatInt(taker, 10),
		FeeRateBps:    "0",
		Nonce:         "0",
		Signer:        ac.signer.Hex(),
		Expiration:    "0",
		Side:          orderSide,
		SignatureType: sigType,
	}, exchange)
	if err != nil {
		return nil, fmt.Errorf("build signed order: %w", err)
	}
	return signed, nil
}

// orderAmounts calcula makerAmount y takerAmount en unidades de 1e6.
// El CLOB exige makerAmount == price * takerAmount exacto, así que las shares
// se truncan a céntimos y todo se opera en enteros. En BUY el maker entrega
// USDC y recibe shares; en SELL al revés.
func orderAmounts(side domain.OrderSide, price, shares float64) (maker, taker int64, err error) {
	tick := tickMultiplier(price)
	priceTicks := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(tick)).Round(0).IntPart()
	cents := decimal.NewFromFloat(shares).Mul(decimal.NewFromInt(100)).Floor().IntPart()

	usdc := cents * priceTicks * (tokenUnit / (100 * tick))
	units := cents * (tokenUnit / 100)
	if usdc <= 0 || units <= 0 {
		return 0, 0, fmt.Errorf("invalid amounts: usdc=%d shares=%d (price=%.4f shares=%.4f)", usdc, units, price, shares)
	}
	if side == domain.OrderSell {
		return units, usdc, nil
	}
	return usdc, units, nil
}

// tickMultiplier devuelve 100, 1000 o 10000 según los decimales del precio:
// 0.60 usa tick 0.01, 0.673 usa tick 0.001.
func tickMultiplier(price float64) int64 {
	for _, m := range []int64{100, 1000, 10000} {
		if math.Abs(math.Round(price*float64(m))/float64(m)-price) < 1e-10 {
			return m
		}
	}
	return 100
}
