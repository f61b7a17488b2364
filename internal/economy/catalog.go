package economy

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Category string

const (
	CategoryProduction Category = "production"
	CategoryLand       Category = "land"
	CategoryComposite  Category = "composite"
)

// Requirement gates a composite upgrade on owning at least MinCount of
// another upgrade.
type Requirement struct {
	UpgradeID string `json:"upgrade_id"`
	MinCount  uint64 `json:"min_count"`
}

type UpgradeDefinition struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Category         Category        `json:"category"`
	BaseCost         decimal.Decimal `json:"base_cost"`
	CostMultiplier   decimal.Decimal `json:"cost_multiplier"`
	BaseIncome       decimal.Decimal `json:"base_income"`
	IncomeMultiplier decimal.Decimal `json:"income_multiplier"`
	Tier             Tier            `json:"tier"`
	IsComposite      bool            `json:"is_composite"`
	Requirements     []Requirement   `json:"requirements,omitempty"`
}

// Counts is anything that can report how many units of an upgrade are
// owned.
type Counts interface {
	UpgradeCount(id string) uint64
}

// Catalog is the validated, immutable set of upgrade definitions. It is
// safe to share between sessions.
type Catalog struct {
	defs       map[string]*UpgradeDefinition
	order      []string
	dependents map[string][]string
	curveErrs  map[string]error
}

// LoadCatalog validates defs and builds the requirement graph. Any
// structural problem (duplicate id, dangling or zero requirement, cycle)
// returns an *IntegrityError and no catalog. Curve parameter problems do
// not fail the load; they are reported by CurveProblems and surface as
// ErrInvalidCurve when the entry is evaluated.
func LoadCatalog(defs []UpgradeDefinition) (*Catalog, error) {
	c := &Catalog{
		defs:       make(map[string]*UpgradeDefinition, len(defs)),
		dependents: make(map[string][]string),
		curveErrs:  make(map[string]error),
	}
	input := make([]string, 0, len(defs))
	for i := range defs {
		d := defs[i]
		d.ID = strings.TrimSpace(d.ID)
		if d.ID == "" {
			return nil, &IntegrityError{Err: ErrInvalidRequirement, Detail: fmt.Sprintf("definition #%d has an empty id", i)}
		}
		if _, dup := c.defs[d.ID]; dup {
			return nil, &IntegrityError{UpgradeID: d.ID, Err: ErrDuplicateUpgrade}
		}
		if d.Name == "" {
			d.Name = d.ID
		}
		if d.Category == "" {
			d.Category = CategoryProduction
		}
		d.Requirements = append([]Requirement(nil), d.Requirements...)
		d.Tier = TierFor(d.BaseCost)
		c.defs[d.ID] = &d
		input = append(input, d.ID)
	}

	for _, id := range input {
		d := c.defs[id]
		if !d.IsComposite && len(d.Requirements) > 0 {
			return nil, &IntegrityError{UpgradeID: id, Err: ErrInvalidRequirement, Detail: "only composite upgrades may declare requirements"}
		}
		seen := make(map[string]bool, len(d.Requirements))
		for _, req := range d.Requirements {
			if req.MinCount == 0 {
				return nil, &IntegrityError{UpgradeID: id, Err: ErrInvalidRequirement, Detail: fmt.Sprintf("requirement on %q has min count 0", req.UpgradeID)}
			}
			if seen[req.UpgradeID] {
				return nil, &IntegrityError{UpgradeID: id, Err: ErrInvalidRequirement, Detail: fmt.Sprintf("requirement on %q listed twice", req.UpgradeID)}
			}
			seen[req.UpgradeID] = true
			if _, ok := c.defs[req.UpgradeID]; !ok {
				return nil, &IntegrityError{UpgradeID: id, Err: ErrDanglingRequirement, Detail: req.UpgradeID}
			}
			c.dependents[req.UpgradeID] = append(c.dependents[req.UpgradeID], id)
		}
		if err := checkCurve(d); err != nil {
			c.curveErrs[id] = err
		}
	}

	order, err := c.topoSort(input)
	if err != nil {
		return nil, err
	}
	c.order = order
	return c, nil
}

// topoSort runs Kahn's algorithm. Ties are broken by input order so the
// listing is stable.
func (c *Catalog) topoSort(input []string) ([]string, error) {
	inDegree := make(map[string]int, len(input))
	for _, id := range input {
		inDegree[id] = len(c.defs[id].Requirements)
	}
	var queue []string
	for _, id := range input {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	order := make([]string, 0, len(input))
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		order = append(order, curr)
		for _, dep := range c.dependents[curr] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if len(order) != len(input) {
		for _, id := range input {
			if inDegree[id] > 0 {
				return nil, &IntegrityError{UpgradeID: id, Err: ErrCycle}
			}
		}
		return nil, &IntegrityError{Err: ErrCycle}
	}
	return order, nil
}

// Get returns the definition for id.
func (c *Catalog) Get(id string) (*UpgradeDefinition, bool) {
	d, ok := c.defs[id]
	return d, ok
}

// Order returns upgrade ids in dependency order: every upgrade appears
// after the upgrades it requires.
func (c *Catalog) Order() []string {
	return append([]string(nil), c.order...)
}

func (c *Catalog) Len() int {
	return len(c.order)
}

// Definitions returns copies of all definitions in dependency order.
func (c *Catalog) Definitions() []UpgradeDefinition {
	out := make([]UpgradeDefinition, 0, len(c.order))
	for _, id := range c.order {
		d := *c.defs[id]
		d.Requirements = append([]Requirement(nil), d.Requirements...)
		out = append(out, d)
	}
	return out
}

// CurveProblems lists entries whose curve parameters cannot be evaluated.
func (c *Catalog) CurveProblems() map[string]error {
	out := make(map[string]error, len(c.curveErrs))
	for id, err := range c.curveErrs {
		out[id] = err
	}
	return out
}

// Dependents returns the upgrades that directly require id.
func (c *Catalog) Dependents(id string) []string {
	return append([]string(nil), c.dependents[id]...)
}

// UnmetRequirement returns the first requirement of id not satisfied by
// counts. It only looks at the direct requirements of id; a composite
// that requires another composite relies on that composite's own count,
// which can only be non-zero if it was unlocked when bought.
func (c *Catalog) UnmetRequirement(counts Counts, id string) (Requirement, bool) {
	d, ok := c.defs[id]
	if !ok || !d.IsComposite {
		return Requirement{}, false
	}
	for _, req := range d.Requirements {
		if counts.UpgradeCount(req.UpgradeID) < req.MinCount {
			return req, true
		}
	}
	return Requirement{}, false
}

// IsUnlocked reports whether id may be bought given counts, ignoring
// affordability. Unknown ids are never unlocked.
func (c *Catalog) IsUnlocked(counts Counts, id string) bool {
	if _, ok := c.defs[id]; !ok {
		return false
	}
	_, unmet := c.UnmetRequirement(counts, id)
	return !unmet
}
