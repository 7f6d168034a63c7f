package tools

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"google.golang.org/genai"
)

// Static demo rates relative to USD. A real deployment would swap this
// for an exchange-rate API; the tool exists to exercise multi-argument
// function calls.
var currencyRates = map[string]float64{
	"USD": 1.0,
	"EUR": 0.85,
	"GBP": 0.73,
	"JPY": 110.0,
	"CAD": 1.25,
	"AUD": 1.35,
}

func currencyTool() *Tool {
	return &Tool{
		Name:        "convert_currency",
		Description: "Convert an amount from one currency to another",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"amount": {
					Type:        genai.TypeNumber,
					Description: "Amount to convert",
				},
				"from_currency": {
					Type:        genai.TypeString,
					Description: "Source currency code (e.g., 'USD', 'EUR')",
				},
				"to_currency": {
					Type:        genai.TypeString,
					Description: "Target currency code (e.g., 'USD', 'EUR')",
				},
			},
			Required: []string{"amount", "from_currency", "to_currency"},
		},
		Handler: handleCurrency,
	}
}

func handleCurrency(ctx context.Context, args map[string]any) (map[string]any, error) {
	amount := toNumber(args["amount"])
	from := strings.ToUpper(strings.TrimSpace(stringArg(args, "from_currency")))
	to := strings.ToUpper(strings.TrimSpace(stringArg(args, "to_currency")))

	fromRate, ok := currencyRates[from]
	if !ok {
		return nil, fmt.Errorf("unsupported currency %q (supported: %s)", from, supportedCurrencies())
	}
	toRate, ok := currencyRates[to]
	if !ok {
		return nil, fmt.Errorf("unsupported currency %q (supported: %s)", to, supportedCurrencies())
	}

	// Pivot through USD.
	converted := amount / fromRate * toRate

	return map[string]any{
		"original_amount":  amount,
		"from_currency":    from,
		"to_currency":      to,
		"converted_amount": round2(converted),
		"exchange_rate":    round4(toRate / fromRate),
		"note":             "Demo exchange rates, not live market data",
	}, nil
}

func supportedCurrencies() string {
	codes := make([]string, 0, len(currencyRates))
	for code := range currencyRates {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return strings.Join(codes, ", ")
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func toNumber(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return 0
	}
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
func round4(f float64) float64 { return math.Round(f*10000) / 10000 }
