package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polyedge/config"
	"github.com/alejandrodnm/polyedge/internal/adapters/onchain"
	"github.com/alejandrodnm/polyedge/internal/adapters/paper"
	"github.com/alejandrodnm/polyedge/internal/adapters/polymarket"
	"github.com/alejandrodnm/polyedge/internal/application/ledger"
	"github.com/alejandrodnm/polyedge/internal/ports"
)

const liveAbortDelay = 5 * time.Second

// tradingVenue is where orders go and where cash is read from.
type tradingVenue struct {
	executor ports.OrderExecutor
	balances []ports.BalanceSource
	closers  []func()
}

func (v *tradingVenue) close() {
	for _, c := range v.closers {
		c()
	}
}

// paperVenue simulates fills against the live order books. Cash is the
// starting balance plus realized PnL.
func paperVenue(cfg *config.Config, client *polymarket.Client, led *ledger.Ledger) *tradingVenue {
	slog.Info("=== PAPER TRADING MODE ===", "starting_balance", cfg.Trading.StartingBalance)
	return &tradingVenue{
		executor: paper.NewExecutor(client),
		balances: []ports.BalanceSource{paper.NewWallet(cfg.Trading.StartingBalance, led.RealizedPnL)},
	}
}

// liveVenue authenticates against the CLOB, checks on-chain approvals and
// reconciles the ledger with the positions the exchange reports.
func liveVenue(ctx context.Context, cfg *config.Config, client *polymarket.Client, led *ledger.Ledger) (*tradingVenue, error) {
	slog.Warn("=== LIVE TRADING MODE (REAL MONEY) ===",
		"max_daily_trades", cfg.Risk.MaxDailyTrades,
		"max_kelly_fraction", cfg.Risk.MaxKellyFraction,
		"survival_balance", cfg.Risk.SurvivalBalance,
	)
	fmt.Printf("\n⚠️  LIVE TRADING MODE: REAL MONEY WILL BE SPENT\n")
	fmt.Printf("   Press Ctrl+C within %s to abort...\n\n", liveAbortDelay)

	abortTimer := time.NewTimer(liveAbortDelay)
	select {
	case <-abortTimer.C:
	case <-ctx.Done():
		abortTimer.Stop()
		return nil, fmt.Errorf("live trading aborted by user")
	}

	auth, err := polymarket.NewAuthClient(client, cfg.Trading.PrivateKey, cfg.Trading.FunderAddress, cfg.Trading.SignatureType)
	if err != nil {
		return nil, fmt.Errorf("live: auth client: %w", err)
	}
	if err := auth.EnsureCreds(ctx); err != nil {
		return nil, fmt.Errorf("live: derive API credentials (check POLY_PRIVATE_KEY): %w", err)
	}
	slog.Info("live: authenticated with Polymarket CLOB", "signer", auth.Address(), "funder", auth.Funder())

	venue := &tradingVenue{}

	// On-chain access is optional: without it sells are not capped at the
	// held balance and the CLOB is the only balance source.
	var holdings polymarket.TokenHoldings
	chain, err := onchain.Dial(ctx, cfg.API.PolygonRPC, auth.Funder(), cfg.Trading.PrivateKey)
	if err != nil {
		slog.Warn("live: polygon rpc unavailable, continuing without on-chain checks", "err", err)
	} else {
		venue.closers = append(venue.closers, chain.Close)
		if err := chain.EnsureApprovals(ctx); err != nil {
			slog.Error("live: approval check failed", "err", err)
		}
		holdings = chain
	}

	trading := polymarket.NewTradingClient(auth, client, holdings)
	venue.executor = trading
	venue.balances = append(venue.balances, trading)
	if holdings != nil {
		venue.balances = append(venue.balances, chain)
	}

	if cfg.Trading.ReconcileOnStart {
		reconcile(ctx, client, led, auth.Funder())
	}
	return venue, nil
}

// reconcile imports positions the exchange holds but the ledger does not know.
func reconcile(ctx context.Context, client *polymarket.Client, led *ledger.Ledger, wallet string) {
	remote, err := client.FetchPositions(ctx, wallet)
	if err != nil {
		slog.Warn("live: position reconciliation skipped", "err", err)
		return
	}
	imported := 0
	for _, p := range remote {
		if led.Import(ctx, p) {
			imported++
		}
	}
	slog.Info("live: positions reconciled", "remote", len(remote), "imported", imported)
}
