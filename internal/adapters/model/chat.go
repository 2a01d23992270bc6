package model

// chat.go - modelos de probabilidad sobre APIs de chat (Anthropic Messages u
// OpenAI-compatible, p.ej. DeepSeek). Cada llamada es una estimación: un fallo
// de red o una respuesta que no se puede parsear es "modelo no disponible".

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Provider es el dialecto de la API de chat.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"

	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 256
)

// ErrUnparseable se devuelve cuando la respuesta no contiene el JSON esperado.
var ErrUnparseable = errors.New("unparseable model response")

// Config configura un ChatModel.
type Config struct {
	Provider   Provider
	BaseURL    string
	APIKey     string
	Model      string
	MaxTokens  int
	Timeout    time.Duration
	RatePerSec float64
	// WithPrices incluye los precios de mercado en el prompt.
	WithPrices bool
	// Precio en USD por millón de tokens, para el seguimiento de coste.
	InputCostPerM  float64
	OutputCostPerM float64
}

// Usage acumula el consumo de un modelo.
type Usage struct {
	Calls        int
	Failures     int
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	LastError    string
}

// ChatModel implementa ports.ProbabilityModel.
type ChatModel struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time

	mu    sync.Mutex
	usage Usage
}

// NewChatModel crea un ChatModel. BaseURL vacío usa el endpoint público del provider.
func NewChatModel(cfg Config) (*ChatModel, error) {
	switch cfg.Provider {
	case ProviderAnthropic:
		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://api.anthropic.com"
		}
	case ProviderOpenAI:
		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://api.openai.com/v1"
		}
	default:
		return nil, fmt.Errorf("model: unknown provider %q", cfg.Provider)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model: model name required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &ChatModel{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		now:     time.Now,
	}, nil
}

// Name devuelve el nombre del modelo.
func (m *ChatModel) Name() string { return m.cfg.Model }

// Usage devuelve una copia del consumo acumulado.
func (m *ChatModel) Usage() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

// Meter suma el gasto de varios modelos. Implementa engine.SpendMeter.
type Meter []*ChatModel

// APISpend devuelve el coste acumulado en USD y el número de llamadas.
func (m Meter) APISpend() (float64, int) {
	var cost float64
	var calls int
	for _, cm := range m {
		if cm == nil {
			continue
		}
		u := cm.Usage()
		cost += u.CostUSD
		calls += u.Calls
	}
	return cost, calls
}

// Estimate pide al modelo la probabilidad de YES para el mercado.
func (m *ChatModel) Estimate(ctx context.Context, market domain.MarketQuote) (domain.FairValueEstimate, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return domain.FairValueEstimate{}, fmt.Errorf("model.Estimate: rate limiter: %w", err)
	}

	prompt := buildPrompt(market, m.now(), m.cfg.WithPrices)

	var (
		text    string
		in, out int
		err     error
	)
	switch m.cfg.Provider {
	case ProviderAnthropic:
		text, in, out, err = m.callAnthropic(ctx, prompt)
	default:
		text, in, out, err = m.callOpenAI(ctx, prompt)
	}
	if err != nil {
		m.recordFailure(err)
		return domain.FairValueEstimate{}, fmt.Errorf("model.Estimate %s: %w", m.cfg.Model, err)
	}
	m.recordCall(in, out)

	est, err := parseEstimate(text)
	if err != nil {
		m.recordFailure(err)
		return domain.FairValueEstimate{}, fmt.Errorf("model.Estimate %s: %w", m.cfg.Model, err)
	}
	est.Model = m.cfg.Model

	slog.Debug("model estimate",
		"model", m.cfg.Model,
		"market", market.ID,
		"probability", fmt.Sprintf("%.2f", est.Probability),
		"confidence", fmt.Sprintf("%.2f", est.Confidence),
	)
	return est, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (m *ChatModel) callAnthropic(ctx context.Context, prompt string) (string, int, int, error) {
	body := map[string]any{
		"model":      m.cfg.Model,
		"max_tokens": m.cfg.MaxTokens,
		"system":     systemPrompt,
		"messages":   []chatMessage{{Role: "user", Content: prompt}},
	}
	headers := map[string]string{
		"x-api-key":         m.cfg.APIKey,
		"anthropic-version": anthropicVersion,
	}

	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := m.post(ctx, m.cfg.BaseURL+"/v1/messages", headers, body, &resp); err != nil {
		return "", 0, 0, err
	}
	for _, c := range resp.Content {
		if c.Type == "" || c.Type == "text" {
			return c.Text, resp.Usage.InputTokens, resp.Usage.OutputTokens, nil
		}
	}
	return "", resp.Usage.InputTokens, resp.Usage.OutputTokens, fmt.Errorf("%w: empty content", ErrUnparseable)
}

func (m *ChatModel) callOpenAI(ctx context.Context, prompt string) (string, int, int, error) {
	body := map[string]any{
		"model":      m.cfg.Model,
		"max_tokens": m.cfg.MaxTokens,
		"messages": []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	}
	headers := map[string]string{"Authorization": "Bearer " + m.cfg.APIKey}

	var resp struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := m.post(ctx, m.cfg.BaseURL+"/chat/completions", headers, body, &resp); err != nil {
		return "", 0, 0, err
	}
	if len(resp.Choices) == 0 {
		return "", resp.Usage.PromptTokens, resp.Usage.CompletionTokens, fmt.Errorf("%w: no choices", ErrUnparseable)
	}
	return resp.Choices[0].Message.Content, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, nil
}

func (m *ChatModel) post(ctx context.Context, url string, headers map[string]string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (m *ChatModel) recordCall(in, out int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage.Calls++
	m.usage.InputTokens += in
	m.usage.OutputTokens += out
	m.usage.CostUSD += float64(in)/1e6*m.cfg.InputCostPerM + float64(out)/1e6*m.cfg.OutputCostPerM
}

func (m *ChatModel) recordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage.Failures++
	m.usage.LastError = err.Error()
}

// parseEstimate extrae el objeto JSON de la respuesta, que a veces viene
// dentro de un bloque de código markdown o con texto alrededor.
func parseEstimate(text string) (domain.FairValueEstimate, error) {
	text = strings.TrimSpace(text)
	if strings.Contains(text, "```") {
		parts := strings.Split(text, "```")
		if len(parts) >= 2 {
			text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(parts[1]), "json"))
		}
	}
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return domain.FairValueEstimate{}, fmt.Errorf("%w: no JSON object", ErrUnparseable)
	}

	var raw struct {
		Probability *float64 `json:"probability"`
		Confidence  *float64 `json:"confidence"`
		Reasoning   string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return domain.FairValueEstimate{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if raw.Probability == nil {
		return domain.FairValueEstimate{}, fmt.Errorf("%w: missing probability", ErrUnparseable)
	}

	est := domain.FairValueEstimate{Probability: *raw.Probability, Confidence: 0.5, Rationale: raw.Reasoning}
	if raw.Confidence != nil {
		est.Confidence = *raw.Confidence
	}
	return est.Clamped(), nil
}
