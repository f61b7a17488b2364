package economy

import "github.com/shopspring/decimal"

// DefaultDefinitions is the built-in catalog used when no catalog file is
// configured.
func DefaultDefinitions() []UpgradeDefinition {
	seed := []struct {
		ID         string
		Name       string
		Category   Category
		Cost       float64
		CostMult   float64
		Income     float64
		IncomeMult float64
		Requires   []Requirement
	}{
		{"pickaxe", "Pickaxe", CategoryProduction, 10, 1.15, 0.1, 1.1, nil},
		{"miner", "Miner", CategoryProduction, 100, 1.15, 1, 1.05, nil},
		{"drill", "Steam Drill", CategoryProduction, 1_100, 1.15, 8, 1.05, nil},
		{"smelter", "Smelter", CategoryProduction, 12_000, 1.15, 47, 1.04, nil},
		{"foundry", "Foundry", CategoryProduction, 130_000, 1.15, 260, 1.04, nil},
		{"rail", "Ore Railway", CategoryProduction, 1_400_000, 1.15, 1_400, 1.03, nil},
		{"plot", "Claim Plot", CategoryLand, 5_000, 1.2, 2, 1, nil},
		{"quarry", "Quarry Land", CategoryLand, 2_000_000, 1.2, 900, 1.02, nil},
		{"forge_works", "Forge Works", CategoryComposite, 50_000, 1.25, 400, 1.05, []Requirement{
			{UpgradeID: "miner", MinCount: 10},
			{UpgradeID: "smelter", MinCount: 5},
		}},
		{"mining_town", "Mining Town", CategoryComposite, 25_000_000, 1.25, 20_000, 1.05, []Requirement{
			{UpgradeID: "forge_works", MinCount: 5},
			{UpgradeID: "plot", MinCount: 10},
		}},
		{"industrial_city", "Industrial City", CategoryComposite, 2_500_000_000, 1.3, 1_500_000, 1.05, []Requirement{
			{UpgradeID: "mining_town", MinCount: 3},
			{UpgradeID: "rail", MinCount: 25},
			{UpgradeID: "quarry", MinCount: 5},
		}},
		{"mega_consortium", "Mega Consortium", CategoryComposite, 150_000_000_000, 1.35, 90_000_000, 1.05, []Requirement{
			{UpgradeID: "industrial_city", MinCount: 2},
		}},
	}

	defs := make([]UpgradeDefinition, 0, len(seed))
	for _, s := range seed {
		defs = append(defs, UpgradeDefinition{
			ID:               s.ID,
			Name:             s.Name,
			Category:         s.Category,
			BaseCost:         decimal.NewFromFloat(s.Cost),
			CostMultiplier:   decimal.NewFromFloat(s.CostMult),
			BaseIncome:       decimal.NewFromFloat(s.Income),
			IncomeMultiplier: decimal.NewFromFloat(s.IncomeMult),
			IsComposite:      len(s.Requires) > 0,
			Requirements:     s.Requires,
		})
	}
	return defs
}

// DefaultCatalog loads DefaultDefinitions. The built-in data is known to
// be valid, so an error here is a programming mistake.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalog(DefaultDefinitions())
	if err != nil {
		panic(err)
	}
	return c
}
