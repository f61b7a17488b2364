package economy

import (
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"
)

type catalogFile struct {
	Upgrades []fileUpgrade `toml:"upgrade"`
}

type fileUpgrade struct {
	ID               string            `toml:"id"`
	Name             string            `toml:"name"`
	Category         string            `toml:"category"`
	BaseCost         float64           `toml:"base_cost"`
	CostMultiplier   float64           `toml:"cost_multiplier"`
	BaseIncome       float64           `toml:"base_income"`
	IncomeMultiplier float64           `toml:"income_multiplier"`
	Composite        bool              `toml:"composite"`
	Requires         []fileRequirement `toml:"requires"`
}

type fileRequirement struct {
	Upgrade string `toml:"upgrade"`
	Min     uint64 `toml:"min"`
}

// ReadCatalogFile decodes a TOML catalog ([[upgrade]] tables) and
// validates it with LoadCatalog.
func ReadCatalogFile(path string) (*Catalog, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer file.Close()
	defs, err := DecodeCatalog(file)
	if err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	return LoadCatalog(defs)
}

// DecodeCatalog parses TOML catalog definitions without validating the
// requirement graph.
func DecodeCatalog(r io.Reader) ([]UpgradeDefinition, error) {
	var raw catalogFile
	if err := toml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, err
	}
	defs := make([]UpgradeDefinition, 0, len(raw.Upgrades))
	for _, u := range raw.Upgrades {
		incomeMult := u.IncomeMultiplier
		if incomeMult == 0 {
			incomeMult = 1
		}
		def := UpgradeDefinition{
			ID:               u.ID,
			Name:             u.Name,
			Category:         Category(u.Category),
			BaseCost:         decimal.NewFromFloat(u.BaseCost),
			CostMultiplier:   decimal.NewFromFloat(u.CostMultiplier),
			BaseIncome:       decimal.NewFromFloat(u.BaseIncome),
			IncomeMultiplier: decimal.NewFromFloat(incomeMult),
			IsComposite:      u.Composite || len(u.Requires) > 0,
		}
		for _, req := range u.Requires {
			def.Requirements = append(def.Requirements, Requirement{UpgradeID: req.Upgrade, MinCount: req.Min})
		}
		defs = append(defs, def)
	}
	return defs, nil
}
