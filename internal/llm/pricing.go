package llm

import (
	"strings"

	"github.com/hr-platform/backend/pkg/utils"
)

// Price is USD per one million tokens.
type Price struct {
	Input  float64
	Output float64
}

var prices = map[string]Price{
	"gpt-4o-mini":              {Input: 0.15, Output: 0.60},
	"gpt-4o":                   {Input: 2.50, Output: 10.00},
	"gpt-4.1-mini":             {Input: 0.40, Output: 1.60},
	"gpt-4.1":                  {Input: 2.00, Output: 8.00},
	"claude-3-5-haiku-latest":  {Input: 0.80, Output: 4.00},
	"claude-3-5-sonnet-latest": {Input: 3.00, Output: 15.00},
	"claude-3-5-haiku":         {Input: 0.80, Output: 4.00},
	"claude-3-5-sonnet":        {Input: 3.00, Output: 15.00},
	"gemini-2.5-flash":         {Input: 0.30, Output: 2.50},
	"gemini-2.5-pro":           {Input: 1.25, Output: 10.00},
}

// LookupPrice finds the price for model, matching dated or suffixed model
// names by their longest known prefix.
func LookupPrice(model string) (Price, bool) {
	model = strings.ToLower(strings.TrimSpace(model))
	if p, ok := prices[model]; ok {
		return p, true
	}

	best := ""
	for name := range prices {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return Price{}, false
	}
	return prices[best], true
}

// EstimateCost returns the USD cost of usage on model rounded to six
// decimals. Unknown models cost zero.
func EstimateCost(model string, u Usage) float64 {
	p, ok := LookupPrice(model)
	if !ok {
		return 0
	}
	cost := float64(u.PromptTokens)*p.Input/1e6 + float64(u.CompletionTokens)*p.Output/1e6
	return utils.Round6(cost)
}
