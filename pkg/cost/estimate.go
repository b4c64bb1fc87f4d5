package cost

import "github.com/shopspring/decimal"

// Scenario describes expected free-tier traffic.
type Scenario struct {
	Users            int
	QuestionsPerUser int
	AvgTokens        int64   // per question, split evenly between input and output
	CacheHitRate     float64 // share of input tokens billed at the cached rate
}

// EstimateDailyCost returns the expected daily spend for a traffic scenario,
// weighting each model's per-question cost by its share of traffic.
func EstimateDailyCost(pricing map[string]Rates, weights map[string]float64, s Scenario) decimal.Decimal {
	avg := decimal.NewFromInt(s.AvgTokens)
	input := avg.Div(decimal.NewFromInt(2))
	output := avg.Sub(input)
	cached := input.Mul(decimal.NewFromFloat(s.CacheHitRate))
	uncached := input.Sub(cached)

	perQuestion := decimal.Zero
	for model, r := range pricing {
		w, ok := weights[model]
		if !ok || w == 0 {
			continue
		}
		c := uncached.Div(thousand).Mul(r.Input).
			Add(cached.Div(thousand).Mul(r.CachedInput)).
			Add(output.Div(thousand).Mul(r.Output))
		perQuestion = perQuestion.Add(c.Mul(decimal.NewFromFloat(w)))
	}
	questions := decimal.NewFromInt(int64(s.Users * s.QuestionsPerUser))
	return perQuestion.Mul(questions).Round(precision)
}
