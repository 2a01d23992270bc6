package polymarket

// trading.go - Real order execution via the Polymarket CLOB API.
//
// TradingClient implements ports.OrderExecutor and ports.BalanceSource on top
// of AuthClient. Buys are GTC limit orders at the signal price; sells are FOK
// orders priced at the best bid when a book is available.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/ports"
)

const (
	orderTypeGTC = "GTC"
	orderTypeFOK = "FOK"

	// Shares mínimas que acepta el CLOB en una orden.
	minOrderShares = 0.01
)

// TokenHoldings reports how many outcome-token shares the wallet holds.
type TokenHoldings interface {
	TokenBalance(ctx context.Context, tokenID string) (float64, error)
}

// TradingClient implements ports.OrderExecutor.
type TradingClient struct {
	auth     *AuthClient
	books    ports.BookProvider // optional
	holdings TokenHoldings      // optional
}

// NewTradingClient creates a TradingClient. books prices sells at the best
// bid; holdings caps sells at the on-chain share balance. Both may be nil.
func NewTradingClient(auth *AuthClient, books ports.BookProvider, holdings TokenHoldings) *TradingClient {
	return &TradingClient{auth: auth, books: books, holdings: holdings}
}

// Name identifies the CLOB as a balance source.
func (tc *TradingClient) Name() string { return "clob" }

// Buy submits a GTC limit BUY.
func (tc *TradingClient) Buy(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	req.Side = domain.OrderBuy
	return tc.submit(ctx, req, orderTypeGTC)
}

// Sell submits a FOK SELL. The limit drops to the best bid when it is lower
// than the requested price, and the size is capped at the shares actually held.
func (tc *TradingClient) Sell(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	req.Side = domain.OrderSell
	req.Price = tc.sellPrice(ctx, req)

	if tc.holdings != nil {
		held, err := tc.holdings.TokenBalance(ctx, req.TokenID)
		if err != nil {
			slog.Warn("token balance check failed, selling requested size", "token", req.TokenID, "err", err)
		} else if held < req.Shares {
			slog.Info("capping sell at held shares", "token", req.TokenID, "requested", req.Shares, "held", held)
			req.Shares = held
		}
	}
	if req.Shares < minOrderShares {
		return domain.OrderResult{}, fmt.Errorf("trading.Sell %s: nothing to sell (%.4f shares)", req.MarketID, req.Shares)
	}
	return tc.submit(ctx, req, orderTypeFOK)
}

func (tc *TradingClient) sellPrice(ctx context.Context, req domain.OrderRequest) float64 {
	if tc.books == nil {
		return req.Price
	}
	books, err := tc.books.FetchOrderBooks(ctx, []string{req.TokenID})
	if err != nil {
		slog.Debug("order book unavailable for sell", "token", req.TokenID, "err", err)
		return req.Price
	}
	book, ok := books[req.TokenID]
	if !ok {
		return req.Price
	}
	if bid := book.BestBid(); bid > 0 && bid < req.Price {
		return bid
	}
	return req.Price
}

func (tc *TradingClient) submit(ctx context.Context, req domain.OrderRequest, orderType string) (domain.OrderResult, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return domain.OrderResult{}, fmt.Errorf("trading.%s: creds: %w", req.Side, err)
	}

	signed, err := tc.auth.buildSignedOrder(req.TokenID, req.Side, req.Price, req.Shares, req.NegRisk)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("trading.%s: sign: %w", req.Side, err)
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       req.TokenID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          string(req.Side),
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     tc.auth.apiKey(),
		OrderType: orderType,
	}

	var resp clobOrderResponse
	if err := tc.auth.doL2(ctx, http.MethodPost, "/order", nil, body, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("trading.%s: post: %w", req.Side, err)
	}
	if !resp.Success || resp.ErrorMsg != "" {
		return domain.OrderResult{}, fmt.Errorf("trading.%s: clob error: %s", req.Side, resp.ErrorMsg)
	}

	res := domain.OrderResult{CLOBOrderID: resp.OrderID, Status: resp.Status}
	// BUY: making = USDC, taking = shares. SELL: al revés.
	usdc, shares := parseAmount(resp.MakingAmount), parseAmount(resp.TakingAmount)
	if req.Side == domain.OrderSell {
		usdc, shares = shares, usdc
	}
	if shares > 0 && usdc > 0 {
		if avg := usdc / shares; avg > 0 && avg <= 1 {
			res.FilledShares = shares
			res.AvgPrice = avg
		}
	}

	slog.Info("order submitted",
		"side", req.Side,
		"type", orderType,
		"market", req.MarketID,
		"price", req.Price,
		"shares", req.Shares,
		"order_id", resp.OrderID,
		"status", resp.Status,
	)
	return res, nil
}

// CancelAllOpen cancels every open order for this wallet.
func (tc *TradingClient) CancelAllOpen(ctx context.Context) error {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return fmt.Errorf("trading.CancelAllOpen: creds: %w", err)
	}
	if err := tc.auth.doL2(ctx, http.MethodDelete, "/cancel-all", nil, nil, nil); err != nil {
		return fmt.Errorf("trading.CancelAllOpen: %w", err)
	}
	slog.Info("open orders cancelled")
	return nil
}

// Balance returns the collateral balance the CLOB reports for the funder.
func (tc *TradingClient) Balance(ctx context.Context) (float64, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return 0, fmt.Errorf("trading.Balance: creds: %w", err)
	}

	q := url.Values{}
	q.Set("asset_type", "COLLATERAL")
	q.Set("signature_type", strconv.Itoa(tc.auth.signatureType))

	var resp clobBalanceResponse
	if err := tc.auth.doL2(ctx, http.MethodGet, "/balance-allowance", q, nil, &resp); err != nil {
		return 0, fmt.Errorf("trading.Balance: %w", err)
	}
	return parseUSDC(resp.Balance), nil
}

// parseUSDC converts a micro-unit string (e.g. "1000000") to units.
func parseUSDC(s string) float64 {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return 0
	}
	return decimal.NewFromBigInt(n, -6).InexactFloat64()
}

// parseAmount parses a matched amount, already expressed in units.
func parseAmount(s string) float64 {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}
