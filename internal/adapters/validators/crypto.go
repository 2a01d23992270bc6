package validators

// crypto.go - contrasta el precio de un cripto-activo citado en el razonamiento
// del modelo con el precio spot de CoinGecko. Un error > 10% rechaza el trade.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

const (
	defaultCoinGeckoBase = "https://api.coingecko.com/api/v3"
	defaultCacheTTL      = 10 * time.Minute
	defaultMaxError      = 0.10

	// CoinGecko free tier: ~30 req/min
	coinGeckoRatePerSec = 0.5
)

// asset es un cripto-activo reconocible con sus límites de precio razonables,
// que distinguen el precio del activo de un precio de opción ($0.50).
type asset struct {
	id       string
	keywords []string
	min, max float64
}

var assets = []asset{
	{id: "bitcoin", keywords: []string{"bitcoin", "btc"}, min: 10_000, max: 500_000},
	{id: "ethereum", keywords: []string{"ethereum", "eth"}, min: 500, max: 50_000},
	{id: "solana", keywords: []string{"solana", "sol"}, min: 5, max: 5_000},
}

var (
	wordRe = regexp.MustCompile(`[a-z0-9]+`)

	pricePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\$([\d,]+(?:\.\d{1,2})?)(k?)`), // $52,000 | $52,000.00 | $52k
		regexp.MustCompile(`(?i)\b([\d,]+(?:\.\d+)?)(k)\b`),  // 52k
		regexp.MustCompile(`\b(\d{1,3}(?:,\d{3})+|\d{4,})()`), // 52,000 | 52000
	}
)

type cachedPrice struct {
	usd float64
	at  time.Time
}

// Crypto implementa ports.Validator con precios spot de CoinGecko.
type Crypto struct {
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	ttl      time.Duration
	maxError float64
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cachedPrice
}

// CryptoConfig configura el validator. Los valores cero usan los defaults.
type CryptoConfig struct {
	BaseURL  string
	CacheTTL time.Duration
	MaxError float64 // fracción, 0.10 = 10%
	Timeout  time.Duration
}

// NewCrypto crea el validator de precios cripto.
func NewCrypto(cfg CryptoConfig) *Crypto {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultCoinGeckoBase
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.MaxError <= 0 {
		cfg.MaxError = defaultMaxError
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Crypto{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(coinGeckoRatePerSec, 3),
		ttl:      cfg.CacheTTL,
		maxError: cfg.MaxError,
		now:      time.Now,
		cache:    make(map[string]cachedPrice),
	}
}

// Name identifica el validator.
func (c *Crypto) Name() string { return "crypto" }

// Validate comprueba el precio citado en el razonamiento. Sin activo, sin
// precio citado o sin precio spot, el resultado es válido (inconcluso).
func (c *Crypto) Validate(ctx context.Context, market domain.MarketQuote, est domain.FairValueEstimate) (domain.Verdict, error) {
	v := domain.Verdict{Validator: c.Name(), Valid: true, Confidence: 1.0}

	a, ok := detectAsset(market.Question + " " + est.Rationale)
	if !ok {
		return v, nil
	}

	quoted, ok := extractPrice(est.Rationale, a.min, a.max)
	if !ok {
		v.Confidence = 0.8
		return v, nil
	}

	spot, err := c.price(ctx, a.id)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("validators.Crypto: %w", err)
	}

	errPct := abs(spot-quoted) / spot
	if errPct > c.maxError {
		v.Valid = false
		v.Confidence = 0
		v.Warning = fmt.Sprintf("%s price error: model assumes $%.0f, spot $%.0f (%.1f%%)",
			strings.ToUpper(a.id), quoted, spot, errPct*100)
		slog.Warn("crypto price mismatch", "asset", a.id, "quoted", quoted, "spot", spot, "error_pct", errPct)
		return v, nil
	}

	v.Confidence = 1 - errPct
	slog.Debug("crypto price validated", "asset", a.id, "error_pct", errPct)
	return v, nil
}

// price devuelve el precio spot en USD, cacheado durante ttl.
func (c *Crypto) price(ctx context.Context, id string) (float64, error) {
	c.mu.Lock()
	if p, ok := c.cache[id]; ok && c.now().Sub(p.at) < c.ttl {
		c.mu.Unlock()
		return p.usd, nil
	}
	c.mu.Unlock()

	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("ids", id)
	q.Set("vs_currencies", "usd")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("coingecko: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("coingecko status %d", resp.StatusCode)
	}

	var data map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return 0, fmt.Errorf("coingecko decode: %w", err)
	}
	usd := data[id]["usd"]
	if usd <= 0 {
		return 0, fmt.Errorf("coingecko: no price for %s", id)
	}

	c.mu.Lock()
	c.cache[id] = cachedPrice{usd: usd, at: c.now()}
	c.mu.Unlock()
	return usd, nil
}

func detectAsset(text string) (asset, bool) {
	words := make(map[string]bool)
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		words[w] = true
	}
	for _, a := range assets {
		for _, k := range a.keywords {
			if words[k] {
				return a, true
			}
		}
	}
	return asset{}, false
}

// extractPrice devuelve el primer precio del texto dentro de [min, max].
func extractPrice(text string, min, max float64) (float64, bool) {
	for _, re := range pricePatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
			if err != nil {
				continue
			}
			if strings.EqualFold(m[2], "k") {
				v *= 1000
			}
			if v >= min && v <= max {
				return v, true
			}
		}
	}
	return 0, false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
