package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultCLOBBase  = "https://clob.polymarket.com"
	defaultGammaBase = "https://gamma-api.polymarket.com"
	defaultDataBase  = "https://data-api.polymarket.com"

	// Rate limits al 60% de los límites reales documentados.
	// CLOB /books: 500/10s → 300/10s → 30/s
	booksRatePerSec = 30
	// Gamma /markets: 300/10s → 180/10s → 18/s
	gammaRatePerSec = 18
	// CLOB general: 9000/10s → 5400/10s → 540/s
	generalRatePerSec = 540

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// ErrMarketNotFound se devuelve cuando Gamma no conoce el condition id pedido.
var ErrMarketNotFound = errors.New("market not found")

// Config agrupa los base URLs y los filtros de mercado.
// Los URLs vacíos usan producción.
type Config struct {
	CLOBBase  string
	GammaBase string
	DataBase  string
	Filter    MarketFilter
	Timeout   time.Duration
}

// MarketFilter son los filtros que se aplican al listado de Gamma.
type MarketFilter struct {
	MinVolume24h    float64
	MinLiquidity    float64
	MaxDaysToExpiry float64 // 0 = sin límite
	MaxFetch        int     // mercados a paginar como máximo
	MinPrice        float64 // precio YES mínimo (exclusivo)
	MaxPrice        float64 // precio YES máximo (exclusivo)
}

// DefaultMarketFilter devuelve los filtros por defecto del scanner.
func DefaultMarketFilter() MarketFilter {
	return MarketFilter{
		MinVolume24h: 1000,
		MinLiquidity: 500,
		MaxFetch:     500,
		MinPrice:     0.01,
		MaxPrice:     0.99,
	}
}

// Client es el HTTP client de Polymarket con rate limiting y retries.
// Implementa ports.MarketSource y ports.BookProvider.
type Client struct {
	http         *http.Client
	clobBase     string
	gammaBase    string
	dataBase     string
	filter       MarketFilter
	now          func() time.Time
	clobLimiter  *rate.Limiter
	gammaLimiter *rate.Limiter
	booksLimiter *rate.Limiter
}

// NewClient crea un Client. Los campos vacíos de cfg toman valores por defecto.
func NewClient(cfg Config) *Client {
	if cfg.CLOBBase == "" {
		cfg.CLOBBase = defaultCLOBBase
	}
	if cfg.GammaBase == "" {
		cfg.GammaBase = defaultGammaBase
	}
	if cfg.DataBase == "" {
		cfg.DataBase = defaultDataBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	def := DefaultMarketFilter()
	if cfg.Filter.MaxFetch <= 0 {
		cfg.Filter.MaxFetch = def.MaxFetch
	}
	if cfg.Filter.MinPrice <= 0 {
		cfg.Filter.MinPrice = def.MinPrice
	}
	if cfg.Filter.MaxPrice <= 0 {
		cfg.Filter.MaxPrice = def.MaxPrice
	}
	return &Client{
		http:         &http.Client{Timeout: cfg.Timeout},
		clobBase:     cfg.CLOBBase,
		gammaBase:    cfg.GammaBase,
		dataBase:     cfg.DataBase,
		filter:       cfg.Filter,
		now:          time.Now,
		clobLimiter:  rate.NewLimiter(generalRatePerSec, 50),
		gammaLimiter: rate.NewLimiter(gammaRatePerSec, 10),
		booksLimiter: rate.NewLimiter(booksRatePerSec, 5),
	}
}

// get hace un GET con rate limiting y retries.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

// post hace un POST JSON con rate limiting y retries.
func (c *Client) post(ctx context.Context, limiter *rate.Limiter, url string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

// doWithRetry ejecuta la función con backoff exponencial.
// 429 y 5xx se reintentan; 4xx se devuelve sin reintentar. Con out nil el
// cuerpo se descarta.
func (c *Client) doWithRetry(ctx context.Context, limiter *rate.Limiter, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("rate limited by API", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		if out == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil
		}
		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
