package onchain

// client.go - Polygon reads for the wallet: USDC.e collateral and CTF outcome
// token balances (ERC1155).

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

const (
	polygonChainID = int64(137)

	// USDC.e collateral on Polygon
	usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

	// CTF contract, holds conditional tokens (ERC1155)
	ctfAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"

	// USDC.e and CTF outcome tokens both use 6 decimals.
	tokenDecimals = 6
)

// Contract ABIs
var (
	erc1155ABI abi.ABI
	erc20ABI   abi.ABI
)

func init() {
	var err error

	erc1155ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "balanceOf",
			"type": "function",
			"inputs": [
				{"name": "account", "type": "address"},
				{"name": "id", "type": "uint256"}
			],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "setApprovalForAll",
			"type": "function",
			"inputs": [
				{"name": "operator", "type": "address"},
				{"name": "approved", "type": "bool"}
			],
			"outputs": []
		},
		{
			"name": "isApprovedForAll",
			"type": "function",
			"inputs": [
				{"name": "account", "type": "address"},
				{"name": "operator", "type": "address"}
			],
			"outputs": [{"name": "", "type": "bool"}]
		}
	]`))
	if err != nil {
		panic("erc1155 abi parse: " + err.Error())
	}

	erc20ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "balanceOf",
			"type": "function",
			"inputs": [{"name": "account", "type": "address"}],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "approve",
			"type": "function",
			"inputs": [
				{"name": "spender", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"outputs": [{"name": "", "type": "bool"}]
		},
		{
			"name": "allowance",
			"type": "function",
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"outputs": [{"name": "", "type": "uint256"}]
		}
	]`))
	if err != nil {
		panic("erc20 abi parse: " + err.Error())
	}
}

// Client reads wallet balances from a Polygon RPC node. It implements
// ports.BalanceSource (USDC.e) and polymarket.TokenHoldings (CTF shares).
type Client struct {
	eth   *ethclient.Client
	owner common.Address

	// key is only needed to send approval transactions.
	key *ecdsa.PrivateKey

	mu           sync.RWMutex
	cachedGasWei *big.Int
	gasUpdatedAt time.Time
}

// Dial connects to rpcURL. owner is the wallet whose balances are read: the
// proxy wallet when trading through one, otherwise the signer. privateKeyHex
// may be empty for a read-only client.
func Dial(ctx context.Context, rpcURL, owner, privateKeyHex string) (*Client, error) {
	var key *ecdsa.PrivateKey
	if privateKeyHex != "" {
		k, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("onchain: invalid private key: %w", err)
		}
		key = k
	}

	if owner == "" {
		if key == nil {
			return nil, fmt.Errorf("onchain: owner address or private key required")
		}
		owner = crypto.PubkeyToAddress(key.PublicKey).Hex()
	}
	if !common.IsHexAddress(owner) {
		return nil, fmt.Errorf("onchain: invalid owner address %q", owner)
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain: dial rpc %s: %w", rpcURL, err)
	}

	return &Client{eth: eth, owner: common.HexToAddress(owner), key: key}, nil
}

// Close releases the RPC connection.
func (c *Client) Close() { c.eth.Close() }

// Owner returns the wallet address being read.
func (c *Client) Owner() string { return c.owner.Hex() }

// Name identifies the chain as a balance source.
func (c *Client) Name() string { return "onchain" }

// Balance returns the owner's USDC.e balance in dollars.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	raw, err := c.callUint(ctx, erc20ABI, common.HexToAddress(usdcEAddress), "balanceOf", c.owner)
	if err != nil {
		return 0, fmt.Errorf("onchain.Balance: %w", err)
	}
	return toUnits(raw), nil
}

// TokenBalance returns how many shares of the outcome token the owner holds.
func (c *Client) TokenBalance(ctx context.Context, tokenID string) (float64, error) {
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return 0, fmt.Errorf("onchain.TokenBalance: invalid token id %q", tokenID)
	}
	raw, err := c.callUint(ctx, erc1155ABI, common.HexToAddress(ctfAddress), "balanceOf", c.owner, id)
	if err != nil {
		return 0, fmt.Errorf("onchain.TokenBalance: %w", err)
	}
	return toUnits(raw), nil
}

// callUint performs an eth_call against a view method returning a uint256.
func (c *Client) callUint(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) (*big.Int, error) {
	callData, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	result, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: callData}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	vals, err := contract.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("unpack %s: empty result", method)
	}
	n, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected type %T", method, vals[0])
	}
	return n, nil
}

func toUnits(raw *big.Int) float64 {
	return decimal.NewFromBigInt(raw, -tokenDecimals).InexactFloat64()
}
