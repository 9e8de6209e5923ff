package domain

// Plan represents a recurring credit plan. CreditsPerPeriod is granted on
// activation and on every renewal; Rollover controls whether unspent credits
// carry into the next period or are replaced by the new allocation.
type Plan struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	CreditsPerPeriod int64  `json:"creditsPerPeriod"`
	Rollover         bool   `json:"rollover"`
	PriceUSD         int    `json:"priceUsd"` // monthly price in USD cents (500 = $5)
	Popular          bool   `json:"popular"`  // Show "Most Popular" badge
}

// AvailablePlans returns all available plans.
func AvailablePlans() []Plan {
	return []Plan{
		{
			ID:               "starter",
			Name:             "Starter",
			CreditsPerPeriod: 500,
			Rollover:         false,
			PriceUSD:         500, // $5/mo
			Popular:          false,
		},
		{
			ID:               "pro",
			Name:             "Pro",
			CreditsPerPeriod: 2000,
			Rollover:         true,
			PriceUSD:         1500, // $15/mo
			Popular:          true,
		},
		{
			ID:               "business",
			Name:             "Business",
			CreditsPerPeriod: 10000,
			Rollover:         true,
			PriceUSD:         4000, // $40/mo
			Popular:          false,
		},
		{
			ID:               "enterprise",
			Name:             "Enterprise",
			CreditsPerPeriod: 50000,
			Rollover:         true,
			PriceUSD:         20000, // $200/mo
			Popular:          false,
		},
	}
}

// GetPlan returns the plan for a given ID.
func GetPlan(id string) (Plan, bool) {
	for _, p := range AvailablePlans() {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}

// OperationCosts maps product operation names to their fixed credit cost.
// Spend requests may name an operation instead of a raw amount; the server
// side table is authoritative so clients cannot pick their own price.
var OperationCosts = map[string]int64{
	"chat_message":       1,
	"image_generation":   5,
	"document_export":    2,
	"invoice_generation": 2,
	"listing_boost":      10,
	"bulk_email":         3,
	"data_enrichment":    4,
}

// CostFor resolves an operation name to its credit cost.
func CostFor(operation string) (int64, bool) {
	cost, ok := OperationCosts[operation]
	return cost, ok
}
