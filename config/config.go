package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del bot.
type Config struct {
	Trading   TradingConfig   `yaml:"trading"`
	Risk      RiskConfig      `yaml:"risk"`
	Kelly     KellyConfig     `yaml:"kelly"`
	Exits     ExitsConfig     `yaml:"exits"`
	Markets   MarketsConfig   `yaml:"markets"`
	Arbitrage ArbitrageConfig `yaml:"arbitrage"`
	API       APIConfig       `yaml:"api"`
	Models    ModelsConfig    `yaml:"models"`
	FactCheck FactCheckConfig `yaml:"fact_check"`
	Storage   StorageConfig   `yaml:"storage"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// TradingConfig controla el loop y el modo de ejecución.
type TradingConfig struct {
	DryRun              bool    `yaml:"dry_run"` // true = paper trading
	StartingBalance     float64 `yaml:"starting_balance"`
	ScanIntervalSeconds int     `yaml:"scan_interval_seconds"`
	MaxMarketsToAnalyze int     `yaml:"max_markets_to_analyze"`
	MaxSignalsPerCycle  int     `yaml:"max_signals_per_cycle"`
	RefreshWorkers      int     `yaml:"refresh_workers"`
	StopFile            string  `yaml:"stop_file"`
	CancelOpenOnStart   bool    `yaml:"cancel_open_on_start"`
	ReconcileOnStart    bool    `yaml:"reconcile_on_start"`
	PrivateKey          string  `yaml:"-"` // solo por entorno
	FunderAddress       string  `yaml:"funder_address"`
	SignatureType       int     `yaml:"signature_type"` // 0 = EOA, 2 = proxy/Gnosis Safe
}

// RiskConfig son los límites del RiskGate.
type RiskConfig struct {
	SurvivalBalance     float64 `yaml:"survival_balance"`
	DailyLossLimit      float64 `yaml:"daily_loss_limit"`
	MaxDailyTrades      int     `yaml:"max_daily_trades"`
	MaxOpenPositions    int     `yaml:"max_open_positions"`
	MaxTotalExposure    float64 `yaml:"max_total_exposure"`
	MinTradeCash        float64 `yaml:"min_trade_cash"`
	MaxKellyFraction    float64 `yaml:"max_kelly_fraction"`
	MispricingThreshold float64 `yaml:"mispricing_threshold"`
	MinConfidence       float64 `yaml:"min_confidence"`
	RejectStaleBalance  bool    `yaml:"reject_stale_balance"`
}

// KellyConfig controla el dimensionado y los trades de alta convicción.
type KellyConfig struct {
	Multiplier               float64 `yaml:"multiplier"`
	HighConvictionEnabled    bool    `yaml:"high_conviction_enabled"`
	HighConvictionMultiplier float64 `yaml:"high_conviction_multiplier"`
	HighConvictionConfidence float64 `yaml:"high_conviction_confidence"`
}

// ExitsConfig son las reglas de salida de posiciones.
type ExitsConfig struct {
	StopLossPct         float64 `yaml:"stop_loss_pct"`
	TakeProfitPct       float64 `yaml:"take_profit_pct"`
	StagnationDays      float64 `yaml:"stagnation_days"`
	StagnationThreshold float64 `yaml:"stagnation_threshold"`
	ZombiePrice         float64 `yaml:"zombie_price"`
	ZombieDays          float64 `yaml:"zombie_days"`
}

// MarketsConfig son los filtros del listado de mercados.
type MarketsConfig struct {
	MinVolume24h    float64 `yaml:"min_volume_24h"`
	MinLiquidity    float64 `yaml:"min_liquidity"`
	MaxDaysToExpiry float64 `yaml:"max_days_to_expiry"`
	MaxFetch        int     `yaml:"max_fetch"`
	MinPrice        float64 `yaml:"min_price"`
	MaxPrice        float64 `yaml:"max_price"`
}

// ArbitrageConfig son los umbrales del detector YES+NO < 1.
type ArbitrageConfig struct {
	MinMargin      float64 `yaml:"min_margin"`
	MaxBalancePct  float64 `yaml:"max_balance_pct"`
	MinPositionUSD float64 `yaml:"min_position_usd"`
}

// APIConfig contiene los base URLs de las APIs.
type APIConfig struct {
	CLOBBase       string `yaml:"clob_base"`
	GammaBase      string `yaml:"gamma_base"`
	DataBase       string `yaml:"data_base"`
	PolygonRPC     string `yaml:"polygon_rpc"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ModelsConfig agrupa el modelo primario y el de segunda opinión.
type ModelsConfig struct {
	Primary   ModelConfig `yaml:"primary"`
	Secondary ModelConfig `yaml:"secondary"`
}

// ModelConfig describe un modelo de chat.
type ModelConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Provider       string  `yaml:"provider"` // anthropic | openai
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	APIKey         string  `yaml:"-"` // solo por entorno
	MaxTokens      int     `yaml:"max_tokens"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RatePerSec     float64 `yaml:"rate_per_sec"`
	InputCostPerM  float64 `yaml:"input_cost_per_m"`
	OutputCostPerM float64 `yaml:"output_cost_per_m"`
}

// Timeout devuelve el timeout del modelo como time.Duration.
func (m ModelConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// FactCheckConfig controla los validators.
type FactCheckConfig struct {
	Enabled        bool    `yaml:"enabled"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	CoinGeckoBase  string  `yaml:"coingecko_base"`
	CacheMinutes   int     `yaml:"cache_minutes"`
	MaxPriceError  float64 `yaml:"max_price_error"`
}

// StorageConfig controla dónde se persiste el ledger.
type StorageConfig struct {
	Backend     string `yaml:"backend"` // sqlite | json | redis
	DSN         string `yaml:"dsn"`     // ruta al archivo SQLite, o ":memory:"
	JSONPath    string `yaml:"json_path"`
	RedisURL    string `yaml:"redis_url"`
	RedisPrefix string `yaml:"redis_prefix"`
}

// TelegramConfig controla las alertas por Telegram.
type TelegramConfig struct {
	Enabled        bool   `yaml:"enabled"`
	BotToken       string `yaml:"-"`
	ChatID         int64  `yaml:"chat_id"`
	CycleReports   bool   `yaml:"cycle_reports"`
	EconomicsEvery int    `yaml:"economics_every"` // ciclos entre informes de coste de API vs PnL
}

// MetricsConfig controla el servidor de métricas y health.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug | info | warn | error
	Format     string `yaml:"format"` // text | json
	File       string `yaml:"file"`   // vacío = solo stdout
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	cfg := boolDefaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	setDefaults(&cfg)

	return &cfg, nil
}

// boolDefaults prepara los booleanos cuyo default es true; yaml solo
// sobreescribe las claves presentes.
func boolDefaults() Config {
	var cfg Config
	cfg.Trading.DryRun = true
	cfg.Trading.CancelOpenOnStart = true
	cfg.Trading.ReconcileOnStart = true
	cfg.Kelly.HighConvictionEnabled = true
	cfg.Models.Primary.Enabled = true
	cfg.Models.Secondary.Enabled = true
	cfg.FactCheck.Enabled = true
	return cfg
}

// ScanInterval devuelve el intervalo entre ciclos como time.Duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Trading.ScanIntervalSeconds) * time.Second
}

// Validate comprueba las combinaciones que no se pueden arreglar con defaults.
func (c *Config) Validate() error {
	var problems []string

	if !c.Trading.DryRun && c.Trading.PrivateKey == "" {
		problems = append(problems, "live trading requires POLY_PRIVATE_KEY")
	}
	if c.Trading.SignatureType != 0 && c.Trading.SignatureType != 2 {
		problems = append(problems, fmt.Sprintf("unsupported signature_type %d", c.Trading.SignatureType))
	}
	if c.Models.Primary.APIKey == "" {
		problems = append(problems, "primary model requires PRIMARY_MODEL_API_KEY")
	}
	providers := []struct{ name, provider string }{
		{"primary", c.Models.Primary.Provider},
		{"secondary", c.Models.Secondary.Provider},
	}
	for _, m := range providers {
		if m.provider != "anthropic" && m.provider != "openai" {
			problems = append(problems, fmt.Sprintf("%s model: unknown provider %q", m.name, m.provider))
		}
	}
	switch c.Storage.Backend {
	case "sqlite", "json":
	case "redis":
		if c.Storage.RedisURL == "" {
			problems = append(problems, "redis storage requires REDIS_URL")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown storage backend %q", c.Storage.Backend))
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == 0) {
		problems = append(problems, "telegram requires TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID")
	}
	if c.Risk.MaxKellyFraction > 1 || c.Risk.MispricingThreshold >= 1 {
		problems = append(problems, "risk fractions must be below 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config.Validate: %s", strings.Join(problems, "; "))
	}
	return nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
// Los secretos solo se leen del entorno.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DRY_RUN: %w", err)
		}
		cfg.Trading.DryRun = b
	}
	if v := firstEnv("POLY_PRIVATE_KEY", "POLYMARKET_PRIVATE_KEY"); v != "" {
		cfg.Trading.PrivateKey = v
	}
	if v := firstEnv("POLY_FUNDER_ADDRESS", "POLYMARKET_FUNDER_ADDRESS"); v != "" {
		cfg.Trading.FunderAddress = v
	}
	if v := os.Getenv("POLYGON_RPC_URL"); v != "" {
		cfg.API.PolygonRPC = v
	}
	if v := firstEnv("PRIMARY_MODEL_API_KEY", "ANTHROPIC_API_KEY"); v != "" {
		cfg.Models.Primary.APIKey = v
	}
	if v := firstEnv("SECONDARY_MODEL_API_KEY", "DEEPSEEK_API_KEY"); v != "" {
		cfg.Models.Secondary.APIKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Telegram.ChatID = id
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Storage.RedisURL = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	} else if v := os.Getenv("METRICS_PORT"); v != "" {
		cfg.Metrics.Addr = ":" + v
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	t := &cfg.Trading
	if t.StartingBalance <= 0 {
		t.StartingBalance = 34.56
	}
	if t.ScanIntervalSeconds <= 0 {
		t.ScanIntervalSeconds = 600
	}
	if t.MaxMarketsToAnalyze <= 0 {
		t.MaxMarketsToAnalyze = 20
	}
	if t.MaxSignalsPerCycle <= 0 {
		t.MaxSignalsPerCycle = 3
	}
	if t.RefreshWorkers <= 0 {
		t.RefreshWorkers = 4
	}
	if t.StopFile == "" {
		t.StopFile = "STOP_BOT"
	}

	r := &cfg.Risk
	if r.SurvivalBalance <= 0 {
		r.SurvivalBalance = 5.0
	}
	if r.DailyLossLimit <= 0 {
		r.DailyLossLimit = 5.0
	}
	if r.MaxDailyTrades <= 0 {
		r.MaxDailyTrades = 3
	}
	if r.MaxOpenPositions <= 0 {
		r.MaxOpenPositions = 10
	}
	if r.MaxTotalExposure <= 0 {
		r.MaxTotalExposure = 80.0
	}
	if r.MinTradeCash <= 0 {
		r.MinTradeCash = 1.0
	}
	if r.MaxKellyFraction <= 0 {
		r.MaxKellyFraction = 0.05
	}
	if r.MispricingThreshold <= 0 {
		r.MispricingThreshold = 0.08
	}
	if r.MinConfidence <= 0 {
		r.MinConfidence = 0.55
	}

	k := &cfg.Kelly
	if k.Multiplier <= 0 {
		k.Multiplier = 0.2
	}
	if k.HighConvictionMultiplier <= 0 {
		k.HighConvictionMultiplier = 0.5
	}
	if k.HighConvictionConfidence <= 0 {
		k.HighConvictionConfidence = 0.8
	}

	e := &cfg.Exits
	if e.StopLossPct <= 0 {
		e.StopLossPct = 0.10
	}
	if e.TakeProfitPct <= 0 {
		e.TakeProfitPct = 0.30
	}
	if e.StagnationDays <= 0 {
		e.StagnationDays = 3
	}
	if e.StagnationThreshold <= 0 {
		e.StagnationThreshold = 0.02
	}
	if e.ZombiePrice <= 0 {
		e.ZombiePrice = 0.002
	}
	if e.ZombieDays <= 0 {
		e.ZombieDays = 1
	}

	m := &cfg.Markets
	if m.MinVolume24h <= 0 {
		m.MinVolume24h = 50000
	}
	if m.MinLiquidity <= 0 {
		m.MinLiquidity = 5000
	}
	if m.MaxDaysToExpiry <= 0 {
		m.MaxDaysToExpiry = 45
	}
	if m.MaxFetch <= 0 {
		m.MaxFetch = 500
	}
	if m.MinPrice <= 0 {
		m.MinPrice = 0.01
	}
	if m.MaxPrice <= 0 {
		m.MaxPrice = 0.99
	}

	if cfg.Telegram.EconomicsEvery <= 0 {
		cfg.Telegram.EconomicsEvery = 6
	}

	a := &cfg.Arbitrage
	if a.MinMargin <= 0 {
		a.MinMargin = 0.02
	}
	if a.MaxBalancePct <= 0 {
		a.MaxBalancePct = 0.05
	}
	if a.MinPositionUSD <= 0 {
		a.MinPositionUSD = 2.0
	}

	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.DataBase == "" {
		cfg.API.DataBase = "https://data-api.polymarket.com"
	}
	if cfg.API.PolygonRPC == "" {
		cfg.API.PolygonRPC = "https://polygon-rpc.com"
	}
	if cfg.API.TimeoutSeconds <= 0 {
		cfg.API.TimeoutSeconds = 15
	}

	p := &cfg.Models.Primary
	if p.Provider == "" {
		p.Provider = "anthropic"
	}
	if p.Model == "" {
		p.Model = "claude-3-5-haiku-20241022"
	}
	s := &cfg.Models.Secondary
	if s.Provider == "" {
		s.Provider = "openai"
	}
	if s.BaseURL == "" && s.Provider == "openai" {
		s.BaseURL = "https://api.deepseek.com"
	}
	if s.Model == "" {
		s.Model = "deepseek-chat"
	}
	for _, mc := range []*ModelConfig{p, s} {
		if mc.MaxTokens <= 0 {
			mc.MaxTokens = 512
		}
		if mc.TimeoutSeconds <= 0 {
			mc.TimeoutSeconds = 30
		}
		if mc.RatePerSec <= 0 {
			mc.RatePerSec = 1
		}
	}

	f := &cfg.FactCheck
	if f.TimeoutSeconds <= 0 {
		f.TimeoutSeconds = 5
	}
	if f.CoinGeckoBase == "" {
		f.CoinGeckoBase = "https://api.coingecko.com/api/v3"
	}
	if f.CacheMinutes <= 0 {
		f.CacheMinutes = 10
	}
	if f.MaxPriceError <= 0 {
		f.MaxPriceError = 0.10
	}

	st := &cfg.Storage
	if st.Backend == "" {
		st.Backend = "sqlite"
	}
	if st.DSN == "" {
		st.DSN = "data/polyedge.db"
	}
	if st.JSONPath == "" {
		st.JSONPath = "data/positions.json"
	}
	if st.RedisPrefix == "" {
		st.RedisPrefix = "polyedge"
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":8080"
	}

	l := &cfg.Log
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "text"
	}
	if l.MaxSizeMB <= 0 {
		l.MaxSizeMB = 50
	}
	if l.MaxBackups <= 0 {
		l.MaxBackups = 5
	}
	if l.MaxAgeDays <= 0 {
		l.MaxAgeDays = 14
	}
}
