package polymarket_test

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyedge/internal/adapters/polymarket"
	"github.com/alejandrodnm/polyedge/internal/domain"
)

type fakeBooks struct {
	books map[string]domain.OrderBook
}

func (f fakeBooks) FetchOrderBooks(_ context.Context, _ []string) (map[string]domain.OrderBook, error) {
	return f.books, nil
}

type fakeHoldings float64

func (f fakeHoldings) TokenBalance(_ context.Context, _ string) (float64, error) {
	return float64(f), nil
}

// fakeCLOB simula derive-api-key, /order, /cancel-all y /balance-allowance.
type fakeCLOB struct {
	t *testing.T

	mu        sync.Mutex
	orders    []map[string]any
	cancelled bool
	response  string
}

func (f *fakeCLOB) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/derive-api-key", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(f.t, r.Header.Get("POLY_SIGNATURE"))
		json.NewEncoder(w).Encode(map[string]string{
			"apiKey":     "key-123",
			"secret":     base64.URLEncoding.EncodeToString([]byte("super-secret")),
			"passphrase": "pass",
		})
	})
	mux.HandleFunc("/order", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, http.MethodPost, r.Method)
		assert.Equal(f.t, "key-123", r.Header.Get("POLY_API_KEY"))
		assert.NotEmpty(f.t, r.Header.Get("POLY_SIGNATURE"))

		var body map[string]any
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.orders = append(f.orders, body)
		f.mu.Unlock()
		w.Write([]byte(f.response))
	})
	mux.HandleFunc("/cancel-all", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, http.MethodDelete, r.Method)
		f.mu.Lock()
		f.cancelled = true
		f.mu.Unlock()
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/balance-allowance", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "COLLATERAL", r.URL.Query().Get("asset_type"))
		assert.Equal(f.t, "2", r.URL.Query().Get("signature_type"))
		w.Write([]byte(`{"balance":"12500000","allowance":"0"}`))
	})
	return mux
}

func newTradingHarness(t *testing.T, holdings polymarket.TokenHoldings, books fakeBooks) (*polymarket.TradingClient, *fakeCLOB) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	clob := &fakeCLOB{t: t, response: `{"success":true,"orderID":"0xorder","status":"live"}`}
	srv := httptest.NewServer(clob.handler())
	t.Cleanup(srv.Close)

	auth, err := polymarket.NewAuthClient(
		polymarket.NewClient(polymarket.Config{CLOBBase: srv.URL}),
		"0x"+hex.EncodeToString(crypto.FromECDSA(key)),
		"0x1111111111111111111111111111111111111111",
		polymarket.SignatureGnosisSafe,
	)
	require.NoError(t, err)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", auth.Funder())

	return polymarket.NewTradingClient(auth, books, holdings), clob
}

func TestTradingClient_BuyIsGTC(t *testing.T) {
	tc, clob := newTradingHarness(t, nil, fakeBooks{})
	clob.response = `{"success":true,"orderID":"0xbuy","status":"matched","makingAmount":"4","takingAmount":"8"}`

	res, err := tc.Buy(context.Background(), domain.OrderRequest{
		MarketID: "0xm", TokenID: "12345", Price: 0.5, Shares: 8,
	})
	require.NoError(t, err)
	assert.Equal(t, "0xbuy", res.CLOBOrderID)
	assert.InDelta(t, 8, res.FilledShares, 1e-9)
	assert.InDelta(t, 0.5, res.AvgPrice, 1e-9)

	require.Len(t, clob.orders, 1)
	sent := clob.orders[0]
	assert.Equal(t, "GTC", sent["orderType"])
	assert.Equal(t, "key-123", sent["owner"])

	order := sent["order"].(map[string]any)
	assert.Equal(t, "BUY", order["side"])
	assert.Equal(t, "4000000", order["makerAmount"])
	assert.Equal(t, "8000000", order["takerAmount"])
	assert.Equal(t, "12345", order["tokenId"])
	assert.EqualValues(t, 2, order["signatureType"])
	assert.Equal(t, "0x1111111111111111111111111111111111111111", order["maker"])
}

func TestTradingClient_SellUsesBestBidAndHeldShares(t *testing.T) {
	books := fakeBooks{books: map[string]domain.OrderBook{
		"12345": {TokenID: "12345", Bids: []domain.BookEntry{{Price: 0.45, Size: 100}}},
	}}
	tc, clob := newTradingHarness(t, fakeHoldings(6), books)

	_, err := tc.Sell(context.Background(), domain.OrderRequest{
		MarketID: "0xm", TokenID: "12345", Price: 0.5, Shares: 8,
	})
	require.NoError(t, err)

	require.Len(t, clob.orders, 1)
	assert.Equal(t, "FOK", clob.orders[0]["orderType"])
	order := clob.orders[0]["order"].(map[string]any)
	assert.Equal(t, "SELL", order["side"])
	// 6 shares a 0.45: el maker entrega shares y recibe USDC
	assert.Equal(t, "6000000", order["makerAmount"])
	assert.Equal(t, "2700000", order["takerAmount"])
}

func TestTradingClient_SellNothingHeld(t *testing.T) {
	tc, clob := newTradingHarness(t, fakeHoldings(0), fakeBooks{})

	_, err := tc.Sell(context.Background(), domain.OrderRequest{
		MarketID: "0xm", TokenID: "12345", Price: 0.5, Shares: 8,
	})
	assert.Error(t, err)
	assert.Empty(t, clob.orders)
}

func TestTradingClient_RejectedOrder(t *testing.T) {
	tc, clob := newTradingHarness(t, nil, fakeBooks{})
	clob.response = `{"success":false,"errorMsg":"not enough balance"}`

	_, err := tc.Buy(context.Background(), domain.OrderRequest{
		MarketID: "0xm", TokenID: "12345", Price: 0.5, Shares: 8,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enough balance")
}

func TestTradingClient_BalanceAndCancel(t *testing.T) {
	tc, clob := newTradingHarness(t, nil, fakeBooks{})

	bal, err := tc.Balance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 12.5, bal, 1e-9)

	require.NoError(t, tc.CancelAllOpen(context.Background()))
	assert.True(t, clob.cancelled)
	assert.Equal(t, "clob", tc.Name())
}

func TestAuthClient_CreatesKeyWhenNoneToDerive(t *testing.T) {
	var created bool
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/derive-api-key", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"no api key"}`, http.StatusNotFound)
	})
	mux.HandleFunc("/auth/api-key", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "0", r.Header.Get("POLY_NONCE"))
		assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"))
		created = true
		json.NewEncoder(w).Encode(map[string]string{
			"apiKey":     "fresh-key",
			"secret":     base64.URLEncoding.EncodeToString([]byte("s")),
			"passphrase": "p",
		})
	})
	mux.HandleFunc("/balance-allowance", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "fresh-key", r.Header.Get("POLY_API_KEY"))
		w.Write([]byte(`{"balance":"1000000"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	auth, err := polymarket.NewAuthClient(polymarket.NewClient(polymarket.Config{CLOBBase: srv.URL}),
		hex.EncodeToString(crypto.FromECDSA(key)), "", 0)
	require.NoError(t, err)
	assert.Equal(t, auth.Address(), auth.Funder())

	bal, err := polymarket.NewTradingClient(auth, fakeBooks{}, nil).Balance(context.Background())
	require.NoError(t, err)
	assert.True(t, created)
	assert.InDelta(t, 1.0, bal, 1e-9)
}

func TestAuthClient_CredsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	auth, err := polymarket.NewAuthClient(polymarket.NewClient(polymarket.Config{CLOBBase: srv.URL}),
		hex.EncodeToString(crypto.FromECDSA(key)), "", 0)
	require.NoError(t, err)

	err = auth.EnsureCreds(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client error 403")
}

func TestNewAuthClient_RejectsBadInput(t *testing.T) {
	client := polymarket.NewClient(polymarket.Config{})
	_, err := polymarket.NewAuthClient(client, "not-hex", "", 0)
	assert.Error(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	_, err = polymarket.NewAuthClient(client, hex.EncodeToString(crypto.FromECDSA(key)), "0xnope", 2)
	assert.Error(t, err)
}
