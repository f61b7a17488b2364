package economy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OwnedUpgrade is one catalog entry as seen by a player. CurrentCost and
// CurrentIncome are derived from Count and refreshed on every change.
type OwnedUpgrade struct {
	Def           *UpgradeDefinition
	Count         uint64
	CurrentCost   decimal.Decimal
	CurrentIncome decimal.Decimal
	// CurveErr is set when the definition cannot be evaluated.
	CurveErr error
}

func (o *OwnedUpgrade) refresh() {
	o.CurveErr = nil
	cost, err := Price(o.Def, o.Count)
	if err != nil {
		o.CurveErr = err
		o.CurrentCost, o.CurrentIncome = decimal.Zero, decimal.Zero
		return
	}
	income, err := UnitIncome(o.Def, o.Count)
	if err != nil {
		o.CurveErr = err
		o.CurrentCost, o.CurrentIncome = decimal.Zero, decimal.Zero
		return
	}
	o.CurrentCost, o.CurrentIncome = cost, income
}

// State is the live economy of one player. Balance never drops below
// zero; TotalEarned and TotalPurchases only grow.
type State struct {
	Balance        decimal.Decimal
	TotalEarned    decimal.Decimal
	PerSecond      decimal.Decimal
	TotalClicks    uint64
	TotalPurchases uint64
	Owned          map[string]OwnedUpgrade
}

func (s State) UpgradeCount(id string) uint64 {
	return s.Owned[id].Count
}

func (s State) clone() State {
	out := s
	out.Owned = make(map[string]OwnedUpgrade, len(s.Owned))
	for id, o := range s.Owned {
		out.Owned[id] = o
	}
	return out
}

// OwnedCount is the persisted form of an owned upgrade.
type OwnedCount struct {
	ID    string `json:"id"`
	Count uint64 `json:"count"`
}

// Snapshot is the document handed to and returned by the persistence
// port. It doubles as the state seed when a session starts.
type Snapshot struct {
	Balance        decimal.Decimal `json:"balance"`
	TotalEarned    decimal.Decimal `json:"total_earned"`
	PerSecond      decimal.Decimal `json:"per_second"`
	TotalClicks    uint64          `json:"total_clicks"`
	TotalPurchases uint64          `json:"total_purchases"`
	Owned          []OwnedCount    `json:"owned"`
	SessionID      string          `json:"session_id,omitempty"`
	TakenAt        time.Time       `json:"taken_at"`
}

// Count returns the persisted count for id.
func (s Snapshot) Count(id string) uint64 {
	for _, o := range s.Owned {
		if o.ID == id {
			return o.Count
		}
	}
	return 0
}

// Fingerprint summarizes the parts of a snapshot that decide whether a
// save is needed: the whole-coin balance, perSecond and every owned
// (id, count) pair. Owned must be in a stable order, which snapshots
// produced by the engine are.
func (s Snapshot) Fingerprint() string {
	var b strings.Builder
	b.WriteString(s.Balance.Round(FingerprintPlaces).String())
	b.WriteByte('|')
	b.WriteString(s.PerSecond.String())
	for _, o := range s.Owned {
		if o.Count == 0 {
			continue
		}
		b.WriteByte('|')
		b.WriteString(o.ID)
		b.WriteByte('=')
		b.WriteString(strconv.FormatUint(o.Count, 10))
	}
	return b.String()
}

// SeedReport lists what was adjusted while merging a seed into the
// catalog.
type SeedReport struct {
	Dropped           []string
	PerSecondMismatch bool
}

// newState merges seed with the catalog: catalog ids missing from the
// seed start at zero, seed ids unknown to the catalog are dropped and
// perSecond is recomputed.
func newState(c *Catalog, seed Snapshot) (State, SeedReport, error) {
	var report SeedReport
	if seed.Balance.IsNegative() {
		return State{}, report, fmt.Errorf("%w: balance %s is negative", ErrInvalidSeed, seed.Balance)
	}
	if seed.TotalEarned.IsNegative() {
		return State{}, report, fmt.Errorf("%w: total earned %s is negative", ErrInvalidSeed, seed.TotalEarned)
	}
	st := State{
		Balance:        seed.Balance,
		TotalEarned:    seed.TotalEarned,
		TotalClicks:    seed.TotalClicks,
		TotalPurchases: seed.TotalPurchases,
		Owned:          make(map[string]OwnedUpgrade, c.Len()),
	}
	for _, id := range c.order {
		st.Owned[id] = OwnedUpgrade{Def: c.defs[id]}
	}
	for _, o := range seed.Owned {
		cur, ok := st.Owned[o.ID]
		if !ok {
			report.Dropped = append(report.Dropped, o.ID)
			continue
		}
		if o.Count > maxCount {
			return State{}, report, fmt.Errorf("%w: count %d for %s out of range", ErrInvalidSeed, o.Count, o.ID)
		}
		cur.Count = o.Count
		st.Owned[o.ID] = cur
	}
	for id, o := range st.Owned {
		o.refresh()
		st.Owned[id] = o
	}
	st.PerSecond, _ = perSecond(c, st)
	if !seed.PerSecond.IsZero() && !seed.PerSecond.Equal(st.PerSecond) {
		report.PerSecondMismatch = true
	}
	return st, report, nil
}

// perSecond sums every evaluable contribution and returns the ids that
// could not be evaluated.
func perSecond(c *Catalog, st State) (decimal.Decimal, []string) {
	total := decimal.Zero
	var skipped []string
	for _, id := range c.order {
		o := st.Owned[id]
		if o.Count == 0 {
			continue
		}
		contrib, err := Contribution(o.Def, o.Count)
		if err != nil {
			skipped = append(skipped, id)
			continue
		}
		total = total.Add(contrib)
	}
	return total, skipped
}

func snapshotOf(c *Catalog, st State) Snapshot {
	snap := Snapshot{
		Balance:        st.Balance,
		TotalEarned:    st.TotalEarned,
		PerSecond:      st.PerSecond,
		TotalClicks:    st.TotalClicks,
		TotalPurchases: st.TotalPurchases,
		Owned:          make([]OwnedCount, 0),
	}
	for _, id := range c.order {
		if n := st.Owned[id].Count; n > 0 {
			snap.Owned = append(snap.Owned, OwnedCount{ID: id, Count: n})
		}
	}
	return snap
}
