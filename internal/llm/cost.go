package llm

import "github.com/dudufisio/fisioflow/internal/providers"

// EstimateCostUSD prices usage with the provider's per-1K token rates.
func EstimateCostUSD(cfg providers.Config, u Usage) float64 {
	return float64(u.InputTokens)/1000*cfg.CostPer1KInput +
		float64(u.OutputTokens)/1000*cfg.CostPer1KOutput
}
