package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

const systemPrompt = `You are a professional prediction market analyst and trader.
Your ONLY job: estimate the TRUE probability (0.00 to 1.00) that a given prediction market question resolves YES.

Rules:
- Output ONLY a JSON object: {"probability": 0.XX, "confidence": 0.XX, "reasoning": "brief reason"}
- probability: your estimated fair value (0.00 to 1.00)
- confidence: how confident you are in your estimate (0.50 = uncertain, 0.95 = very confident)
- reasoning: 1-2 sentences max explaining your logic
- Consider the question carefully, the current date, deadline, and any context
- Be calibrated: if you truly don't know, output probability close to 0.50 with low confidence
- Do NOT anchor to the current market price, estimate INDEPENDENTLY
- Think about base rates: most specific events have low probability
- Consider time remaining until deadline
- Do NOT add any other text outside the JSON`

// buildPrompt arma el mensaje de usuario. withPrices=false omite los precios
// del mercado (el segundo modelo estima sin verlos).
func buildPrompt(m domain.MarketQuote, now time.Time, withPrices bool) string {
	var b strings.Builder
	b.WriteString("Prediction Market Analysis:\n\n")
	fmt.Fprintf(&b, "Question: %s\n", m.Question)
	fmt.Fprintf(&b, "Description: %s\n", m.Description)
	fmt.Fprintf(&b, "Category: %s\n", orDefault(m.Category, "general"))
	if withPrices {
		fmt.Fprintf(&b, "Current Market Price (YES): $%.2f\n", m.YesPrice)
		fmt.Fprintf(&b, "Current Market Price (NO): $%.2f\n", m.NoPrice)
	}
	end := "Unknown"
	if !m.EndDate.IsZero() {
		end = m.EndDate.UTC().Format("2006-01-02")
	}
	fmt.Fprintf(&b, "End Date: %s\n", end)
	fmt.Fprintf(&b, "Current Date: %s\n", now.UTC().Format("2006-01-02 15:04 UTC"))
	fmt.Fprintf(&b, "24h Volume: $%.0f\n\n", m.Volume24h)
	b.WriteString("Analyze this market and estimate the TRUE probability of YES outcome.\n")
	b.WriteString("Be INDEPENDENT of the market price. Think about base rates and evidence.\n")
	b.WriteString("Output ONLY the JSON object.")
	return b.String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
