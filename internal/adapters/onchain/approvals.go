package onchain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// Exchange contracts that move the wallet's tokens
	normalExchange  = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	negRiskExchange = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
	negRiskAdapter  = "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296"

	approvalGasLimit       = uint64(80_000)
	gasPriceUpdateInterval = 5 * time.Minute
	receiptTimeout         = 30 * time.Second
	receiptPollInterval    = 3 * time.Second
)

// EnsureApprovals checks and sets both:
//   - ERC1155 setApprovalForAll on the exchange contracts (needed to SELL)
//   - ERC20 USDC.e approve for both exchanges (needed to BUY)
//
// Approvals are sent from the signer, so a proxy wallet (owner != signer) has
// to be approved through the Polymarket UI and is skipped here.
func (c *Client) EnsureApprovals(ctx context.Context) error {
	if c.key == nil {
		return fmt.Errorf("onchain.EnsureApprovals: no private key configured")
	}
	if signer := crypto.PubkeyToAddress(c.key.PublicKey); signer != c.owner {
		slog.Info("onchain: proxy wallet, skipping approval setup", "owner", c.owner.Hex(), "signer", signer.Hex())
		return nil
	}

	for _, op := range []string{normalExchange, negRiskExchange, negRiskAdapter} {
		approved, err := c.isApprovedForAll(ctx, common.HexToAddress(op))
		if err != nil {
			return fmt.Errorf("check ERC1155 approval for %s: %w", op, err)
		}
		if approved {
			slog.Debug("onchain: ERC1155 approval already set", "operator", op)
			continue
		}

		slog.Info("onchain: setting ERC1155 approval", "operator", op)
		callData, err := erc1155ABI.Pack("setApprovalForAll", common.HexToAddress(op), true)
		if err != nil {
			return err
		}
		if err := c.sendTx(ctx, common.HexToAddress(ctfAddress), callData); err != nil {
			return fmt.Errorf("set ERC1155 approval for %s: %w", op, err)
		}
	}

	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	minAllowance := new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1_000_000)) // 1M USDC.e

	for _, ex := range []string{normalExchange, negRiskExchange} {
		allowance, err := c.callUint(ctx, erc20ABI, common.HexToAddress(usdcEAddress), "allowance", c.owner, common.HexToAddress(ex))
		if err != nil {
			return fmt.Errorf("check USDC.e allowance for %s: %w", ex, err)
		}
		if allowance.Cmp(minAllowance) >= 0 {
			slog.Debug("onchain: USDC.e allowance sufficient", "exchange", ex)
			continue
		}

		slog.Info("onchain: setting USDC.e approval", "exchange", ex)
		callData, err := erc20ABI.Pack("approve", common.HexToAddress(ex), maxUint256)
		if err != nil {
			return err
		}
		if err := c.sendTx(ctx, common.HexToAddress(usdcEAddress), callData); err != nil {
			return fmt.Errorf("set USDC.e approval for %s: %w", ex, err)
		}
	}
	return nil
}

func (c *Client) isApprovedForAll(ctx context.Context, operator common.Address) (bool, error) {
	callData, err := erc1155ABI.Pack("isApprovedForAll", c.owner, operator)
	if err != nil {
		return false, err
	}

	ctfAddr := common.HexToAddress(ctfAddress)
	result, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &ctfAddr, Data: callData}, nil)
	if err != nil {
		return false, err
	}

	vals, err := erc1155ABI.Unpack("isApprovedForAll", result)
	if err != nil || len(vals) == 0 {
		return false, err
	}
	approved, _ := vals[0].(bool)
	return approved, nil
}

// sendTx signs and sends a contract call, then waits for a successful receipt.
func (c *Client) sendTx(ctx context.Context, to common.Address, callData []byte) error {
	signer := crypto.PubkeyToAddress(c.key.PublicKey)

	nonce, err := c.eth.PendingNonceAt(ctx, signer)
	if err != nil {
		return fmt.Errorf("nonce: %w", err)
	}

	gasPrice, err := c.gasPrice(ctx)
	if err != nil {
		return fmt.Errorf("gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), approvalGasLimit, gasPrice, callData)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(polygonChainID)), c.key)
	if err != nil {
		return fmt.Errorf("sign tx: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("send tx: %w", err)
	}

	receiptCtx, cancel := context.WithTimeout(ctx, receiptTimeout)
	defer cancel()

	receipt, err := c.waitForReceipt(receiptCtx, signed.Hash())
	if err != nil {
		return fmt.Errorf("wait receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("tx %s reverted", signed.Hash().Hex())
	}
	slog.Info("onchain: transaction confirmed", "tx", signed.Hash().Hex())
	return nil
}

// gasPrice returns the suggested gas price plus 10%, cached for a few minutes.
func (c *Client) gasPrice(ctx context.Context) (*big.Int, error) {
	c.mu.RLock()
	cached := c.cachedGasWei
	updatedAt := c.gasUpdatedAt
	c.mu.RUnlock()

	if cached != nil && time.Since(updatedAt) < gasPriceUpdateInterval {
		return cached, nil
	}

	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		if cached != nil {
			return cached, nil
		}
		return big.NewInt(30_000_000_000), nil // 30 gwei fallback
	}

	buffered := new(big.Int).Mul(price, big.NewInt(11))
	buffered.Div(buffered, big.NewInt(10))

	c.mu.Lock()
	c.cachedGasWei = buffered
	c.gasUpdatedAt = time.Now()
	c.mu.Unlock()

	return buffered, nil
}

func (c *Client) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := c.eth.TransactionReceipt(ctx, txHash)
			if err != nil {
				continue // not yet mined
			}
			return receipt, nil
		}
	}
}
