package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alejandrodnm/polyedge/config"
	"github.com/alejandrodnm/polyedge/internal/adapters/metrics"
	"github.com/alejandrodnm/polyedge/internal/adapters/model"
	"github.com/alejandrodnm/polyedge/internal/adapters/notify"
	"github.com/alejandrodnm/polyedge/internal/adapters/polymarket"
	"github.com/alejandrodnm/polyedge/internal/adapters/storage"
	"github.com/alejandrodnm/polyedge/internal/adapters/validators"
	"github.com/alejandrodnm/polyedge/internal/application/balance"
	"github.com/alejandrodnm/polyedge/internal/application/economics"
	"github.com/alejandrodnm/polyedge/internal/application/engine"
	"github.com/alejandrodnm/polyedge/internal/application/factcheck"
	"github.com/alejandrodnm/polyedge/internal/application/ledger"
	"github.com/alejandrodnm/polyedge/internal/application/risk"
	"github.com/alejandrodnm/polyedge/internal/application/strategy"
	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one decision cycle and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full cycle report with positions table (default: compact 1-line)")
	live := flag.Bool("live", false, "trade with real money (overrides trading.dry_run)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *live {
		cfg.Trading.DryRun = false
	}
	logCloser := setupLogger(cfg.Log)
	defer logCloser.Close()

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	mode := "paper"
	if !cfg.Trading.DryRun {
		mode = "live"
	}
	slog.Info("polyedge starting",
		"config", *configPath,
		"mode", mode,
		"interval", cfg.ScanInterval(),
		"storage", cfg.Storage.Backend,
		"once", *once,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, mode, *once, *table); err != nil {
		slog.Error("polyedge exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("polyedge stopped cleanly")
}

func run(ctx context.Context, cfg *config.Config, mode string, once, table bool) error {
	client := polymarket.NewClient(polymarket.Config{
		CLOBBase:  cfg.API.CLOBBase,
		GammaBase: cfg.API.GammaBase,
		DataBase:  cfg.API.DataBase,
		Timeout:   time.Duration(cfg.API.TimeoutSeconds) * time.Second,
		Filter: polymarket.MarketFilter{
			MinVolume24h:    cfg.Markets.MinVolume24h,
			MinLiquidity:    cfg.Markets.MinLiquidity,
			MaxDaysToExpiry: cfg.Markets.MaxDaysToExpiry,
			MaxFetch:        cfg.Markets.MaxFetch,
			MinPrice:        cfg.Markets.MinPrice,
			MaxPrice:        cfg.Markets.MaxPrice,
		},
	})

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	led := ledger.New(store, domain.ExitRules{
		StopLossPct:         cfg.Exits.StopLossPct,
		TakeProfitPct:       cfg.Exits.TakeProfitPct,
		StagnationDays:      cfg.Exits.StagnationDays,
		StagnationThreshold: cfg.Exits.StagnationThreshold,
		ZombiePrice:         cfg.Exits.ZombiePrice,
		ZombieDays:          cfg.Exits.ZombieDays,
	})
	if err := led.Load(ctx); err != nil {
		return err
	}

	gate := risk.NewGate(domain.RiskLimits{
		SurvivalBalance:     cfg.Risk.SurvivalBalance,
		DailyLossLimit:      cfg.Risk.DailyLossLimit,
		MaxDailyTrades:      cfg.Risk.MaxDailyTrades,
		MaxOpenPositions:    cfg.Risk.MaxOpenPositions,
		MaxTotalExposure:    cfg.Risk.MaxTotalExposure,
		MinTradeCash:        cfg.Risk.MinTradeCash,
		MaxKellyFraction:    cfg.Risk.MaxKellyFraction,
		MispricingThreshold: cfg.Risk.MispricingThreshold,
		MinConfidence:       cfg.Risk.MinConfidence,
		RejectStaleBalance:  cfg.Risk.RejectStaleBalance,
	})
	gate.Restore(led.RiskCounters())
	led.SetCountersSource(gate.Counters)

	var venue *tradingVenue
	if cfg.Trading.DryRun {
		venue = paperVenue(cfg, client, led)
	} else {
		venue, err = liveVenue(ctx, cfg, client, led)
		if err != nil {
			return err
		}
	}
	defer venue.close()

	analyzer, models, checker, err := buildAnalyzer(cfg)
	if err != nil {
		return err
	}

	sinks := []ports.Notifier{notify.NewConsole(table)}
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			Token:        cfg.Telegram.BotToken,
			ChatID:       cfg.Telegram.ChatID,
			CycleReports: cfg.Telegram.CycleReports,
		})
		if err != nil {
			slog.Warn("telegram disabled", "err", err)
		} else {
			sinks = append(sinks, tg)
		}
	}
	notifier := notify.NewAsync(0, sinks...)
	defer notifier.Close()

	deps := engine.Deps{
		Markets:   client,
		Executor:  venue.executor,
		Balance:   balance.NewChain(cfg.Trading.StartingBalance, venue.balances...),
		Analyzer:  analyzer,
		Gate:      gate,
		Ledger:    led,
		Notifier:  notifier,
		Spend:     model.Meter(models),
		Economics: economics.New(cfg.Trading.StartingBalance),
	}
	if cj, ok := store.(ports.CycleJournal); ok {
		deps.Cycles = cj
	}
	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		recorder = metrics.NewRecorder(prometheus.DefaultRegisterer)
		deps.Recorder = recorder
	}

	eng := engine.New(engine.Config{
		ScanInterval:        cfg.ScanInterval(),
		MaxMarketsToAnalyze: cfg.Trading.MaxMarketsToAnalyze,
		StopFile:            cfg.Trading.StopFile,
		RefreshWorkers:      cfg.Trading.RefreshWorkers,
		CancelOpenOnStart:   !cfg.Trading.DryRun && cfg.Trading.CancelOpenOnStart,
		EconomicsEvery:      cfg.Telegram.EconomicsEvery,
		Arbitrage: domain.ArbitrageConfig{
			MinMargin:      cfg.Arbitrage.MinMargin,
			MaxKelly:       cfg.Risk.MaxKellyFraction,
			MaxBalancePct:  cfg.Arbitrage.MaxBalancePct,
			MinPositionUSD: cfg.Arbitrage.MinPositionUSD,
		},
	}, deps)

	if recorder != nil && !once {
		srvCfg := metrics.ServerConfig{Addr: cfg.Metrics.Addr, Mode: mode, Status: eng}
		if j, ok := store.(ports.TradeJournal); ok {
			srvCfg.Journal = j
		}
		srv := metrics.NewServer(srvCfg)
		go func() {
			if err := srv.Run(ctx); err != nil {
				slog.Error("metrics server failed", "err", err)
			}
		}()
	}

	defer logUsage(models, checker)

	if once {
		report, err := eng.RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("cycle %d: %w", report.Cycle, err)
		}
		return nil
	}
	return eng.Run(ctx)
}

// openStore opens the configured state backend.
func openStore(ctx context.Context, cfg config.StorageConfig) (ports.Store, error) {
	switch cfg.Backend {
	case "json":
		return storage.NewJSONStore(cfg.JSONPath)
	case "redis":
		return storage.NewRedisStore(ctx, cfg.RedisURL, cfg.RedisPrefix)
	default:
		return storage.NewSQLiteStore(cfg.DSN)
	}
}

// buildAnalyzer wires the probability models, fact checker and sizer.
func buildAnalyzer(cfg *config.Config) (*strategy.Analyzer, []*model.ChatModel, *factcheck.Checker, error) {
	primary, err := newModel(cfg.Models.Primary, true)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("primary model: %w", err)
	}
	models := []*model.ChatModel{primary}

	var secondary ports.ProbabilityModel
	if cfg.Models.Secondary.Enabled && cfg.Models.Secondary.APIKey != "" {
		m, err := newModel(cfg.Models.Secondary, false)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("secondary model: %w", err)
		}
		secondary = m
		models = append(models, m)
	} else if cfg.Models.Secondary.Enabled {
		slog.Warn("secondary model enabled but SECONDARY_MODEL_API_KEY is empty, running single-model")
	}

	var checker *factcheck.Checker
	var fc strategy.FactChecker
	if cfg.FactCheck.Enabled {
		checker = factcheck.New(
			time.Duration(cfg.FactCheck.TimeoutSeconds)*time.Second,
			validators.NewCrypto(validators.CryptoConfig{
				BaseURL:  cfg.FactCheck.CoinGeckoBase,
				CacheTTL: time.Duration(cfg.FactCheck.CacheMinutes) * time.Minute,
				MaxError: cfg.FactCheck.MaxPriceError,
			}),
		)
		fc = checker
	}

	sizer := domain.NewSizer(domain.KellyConfig{
		Multiplier:               cfg.Kelly.Multiplier,
		HighConvictionMultiplier: cfg.Kelly.HighConvictionMultiplier,
		MaxFraction:              cfg.Risk.MaxKellyFraction,
	})

	analyzer := strategy.New(strategy.Config{
		MispricingThreshold:      cfg.Risk.MispricingThreshold,
		MinConfidence:            cfg.Risk.MinConfidence,
		MaxSignals:               cfg.Trading.MaxSignalsPerCycle,
		HighConvictionEnabled:    cfg.Kelly.HighConvictionEnabled,
		HighConvictionConfidence: cfg.Kelly.HighConvictionConfidence,
	}, sizer, primary, secondary, fc)

	return analyzer, models, checker, nil
}

func newModel(mc config.ModelConfig, withPrices bool) (*model.ChatModel, error) {
	return model.NewChatModel(model.Config{
		Provider:       model.Provider(mc.Provider),
		BaseURL:        mc.BaseURL,
		APIKey:         mc.APIKey,
		Model:          mc.Model,
		MaxTokens:      mc.MaxTokens,
		Timeout:        mc.Timeout(),
		RatePerSec:     mc.RatePerSec,
		WithPrices:     withPrices,
		InputCostPerM:  mc.InputCostPerM,
		OutputCostPerM: mc.OutputCostPerM,
	})
}

// logUsage reports model spend and fact-check counts on shutdown.
func logUsage(models []*model.ChatModel, checker *factcheck.Checker) {
	for _, m := range models {
		u := m.Usage()
		slog.Info("model usage",
			"model", m.Name(),
			"calls", u.Calls,
			"failures", u.Failures,
			"input_tokens", u.InputTokens,
			"output_tokens", u.OutputTokens,
			"cost", fmt.Sprintf("$%.4f", u.CostUSD),
		)
	}
	if checker != nil {
		s := checker.Stats()
		slog.Info("fact check stats", "runs", s.Runs, "passed", s.Passed, "failed", s.Failed)
	}
}
