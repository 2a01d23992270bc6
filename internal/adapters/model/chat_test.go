package model_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyedge/internal/adapters/model"
	"github.com/alejandrodnm/polyedge/internal/domain"
)

func testMarket() domain.MarketQuote {
	return domain.MarketQuote{
		ID:        "0xabc",
		Question:  "Will BTC close above $100k on Dec 31?",
		Category:  "crypto",
		YesPrice:  0.40,
		NoPrice:   0.60,
		Volume24h: 50000,
		EndDate:   time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestChatModel_OpenAI(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "deepseek-chat", body.Model)
		if assert.Len(t, body.Messages, 2) {
			gotPrompt = body.Messages[1].Content
		}

		w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant",
				"content": "` + "```json\\n{\\\"probability\\\": 0.62, \\\"confidence\\\": 0.8, \\\"reasoning\\\": \\\"BTC at $97,000\\\"}\\n```" + `"}}],
			"usage": {"prompt_tokens": 1000, "completion_tokens": 100}
		}`))
	}))
	defer srv.Close()

	m, err := model.NewChatModel(model.Config{
		Provider:       model.ProviderOpenAI,
		BaseURL:        srv.URL,
		APIKey:         "sk-test",
		Model:          "deepseek-chat",
		InputCostPerM:  0.27,
		OutputCostPerM: 1.10,
	})
	require.NoError(t, err)

	est, err := m.Estimate(context.Background(), testMarket())
	require.NoError(t, err)
	assert.InDelta(t, 0.62, est.Probability, 1e-9)
	assert.InDelta(t, 0.8, est.Confidence, 1e-9)
	assert.Equal(t, "BTC at $97,000", est.Rationale)
	assert.Equal(t, "deepseek-chat", est.Model)

	assert.NotContains(t, gotPrompt, "Current Market Price", "prices omitted unless WithPrices")
	assert.Contains(t, gotPrompt, "Category: crypto")

	u := m.Usage()
	assert.Equal(t, 1, u.Calls)
	assert.InDelta(t, 0.00027+0.00011, u.CostUSD, 1e-9)
}

func TestChatModel_Anthropic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))

		var body struct {
			System   string `json:"system"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotEmpty(t, body.System)
		if assert.Len(t, body.Messages, 1) {
			assert.True(t, strings.Contains(body.Messages[0].Content, "Current Market Price (YES): $0.40"))
		}

		w.Write([]byte(`{"content":[{"type":"text","text":"Estimate: {\"probability\": 1.4, \"confidence\": -0.2, \"reasoning\": \"x\"}"}],
			"usage":{"input_tokens":10,"output_tokens":5}}`))
	}))
	defer srv.Close()

	m, err := model.NewChatModel(model.Config{
		Provider:   model.ProviderAnthropic,
		BaseURL:    srv.URL,
		APIKey:     "key",
		Model:      "claude-haiku",
		WithPrices: true,
	})
	require.NoError(t, err)

	est, err := m.Estimate(context.Background(), testMarket())
	require.NoError(t, err)
	assert.Equal(t, 1.0, est.Probability, "clamped to [0,1]")
	assert.Equal(t, 0.0, est.Confidence)
}

func TestChatModel_Failures(t *testing.T) {
	responses := []string{
		`{"choices":[{"message":{"content":"I cannot answer that."}}]}`,
		`{"choices":[{"message":{"content":"{\"confidence\": 0.9}"}}]}`,
		`{"choices":[]}`,
	}
	i := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if i >= len(responses) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(responses[i]))
		i++
	}))
	defer srv.Close()

	m, err := model.NewChatModel(model.Config{Provider: model.ProviderOpenAI, BaseURL: srv.URL, Model: "m", RatePerSec: 100})
	require.NoError(t, err)

	for range responses {
		_, err := m.Estimate(context.Background(), testMarket())
		assert.ErrorIs(t, err, model.ErrUnparseable)
	}
	_, err = m.Estimate(context.Background(), testMarket())
	assert.Error(t, err)

	u := m.Usage()
	assert.Equal(t, 4, u.Failures)
	assert.NotEmpty(t, u.LastError)
}

func TestNewChatModel_Validation(t *testing.T) {
	_, err := model.NewChatModel(model.Config{Provider: "bogus", Model: "m"})
	assert.Error(t, err)
	_, err = model.NewChatModel(model.Config{Provider: model.ProviderOpenAI})
	assert.Error(t, err)
}

func TestMeter_SumsModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"probability\": 0.5, \"confidence\": 0.6}"}}],
			"usage":{"prompt_tokens":1000000,"completion_tokens":0}}`))
	}))
	defer srv.Close()

	newModel := func(cost float64) *model.ChatModel {
		m, err := model.NewChatModel(model.Config{
			Provider:      model.ProviderOpenAI,
			BaseURL:       srv.URL,
			APIKey:        "k",
			Model:         "m",
			RatePerSec:    100,
			InputCostPerM: cost,
		})
		require.NoError(t, err)
		return m
	}
	a, b := newModel(1.0), newModel(0.27)

	_, err := a.Estimate(context.Background(), testMarket())
	require.NoError(t, err)
	_, err = a.Estimate(context.Background(), testMarket())
	require.NoError(t, err)
	_, err = b.Estimate(context.Background(), testMarket())
	require.NoError(t, err)

	cost, calls := model.Meter{a, nil, b}.APISpend()
	assert.InDelta(t, 2.27, cost, 1e-9)
	assert.Equal(t, 3, calls)

	cost, calls = model.Meter{}.APISpend()
	assert.Zero(t, cost)
	assert.Zero(t, calls)
}
