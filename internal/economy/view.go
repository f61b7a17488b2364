package economy

import "github.com/shopspring/decimal"

type View struct {
	Balance        decimal.Decimal `json:"balance"`
	TotalEarned    decimal.Decimal `json:"total_earned"`
	PerSecond      decimal.Decimal `json:"per_second"`
	TotalClicks    uint64          `json:"total_clicks"`
	TotalPurchases uint64          `json:"total_purchases"`
	Upgrades       []UpgradeView   `json:"upgrades"`
}

type UpgradeView struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Category     Category        `json:"category"`
	Tier         Tier            `json:"tier"`
	Count        uint64          `json:"count"`
	NextPrice    decimal.Decimal `json:"next_price"`
	UnitIncome   decimal.Decimal `json:"unit_income"`
	Contribution decimal.Decimal `json:"contribution"`
	Unlocked     bool            `json:"unlocked"`
	Affordable   bool            `json:"affordable"`
	Missing      []Requirement   `json:"missing,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// View renders the state for clients, in catalog dependency order.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := View{
		Balance:        e.st.Balance,
		TotalEarned:    e.st.TotalEarned,
		PerSecond:      e.st.PerSecond,
		TotalClicks:    e.st.TotalClicks,
		TotalPurchases: e.st.TotalPurchases,
		Upgrades:       make([]UpgradeView, 0, len(e.catalog.order)),
	}
	for _, id := range e.catalog.order {
		o := e.st.Owned[id]
		uv := UpgradeView{
			ID:         id,
			Name:       o.Def.Name,
			Category:   o.Def.Category,
			Tier:       o.Def.Tier,
			Count:      o.Count,
			NextPrice:  o.CurrentCost,
			UnitIncome: o.CurrentIncome,
		}
		if o.CurveErr != nil {
			uv.Error = o.CurveErr.Error()
		} else {
			uv.Contribution, _ = Contribution(o.Def, o.Count)
		}
		for _, req := range o.Def.Requirements {
			if e.st.UpgradeCount(req.UpgradeID) < req.MinCount {
				uv.Missing = append(uv.Missing, req)
			}
		}
		uv.Unlocked = len(uv.Missing) == 0
		uv.Affordable = o.CurveErr == nil && e.st.Balance.GreaterThanOrEqual(o.CurrentCost)
		v.Upgrades = append(v.Upgrades, uv)
	}
	return v
}
