package economy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"idleforge/internal/clock"
)

type Options struct {
	ClickReward decimal.Decimal
	Logger      *slog.Logger
	Clock       clock.Clock
}

// Engine owns one player's State. Every mutation takes the engine lock
// for its whole duration, so ticks, clicks, purchases and collaborator
// credits/debits never interleave. Observers run after the lock is
// released.
type Engine struct {
	mu        sync.Mutex
	catalog   *Catalog
	log       *slog.Logger
	clk       clock.Clock
	click     decimal.Decimal
	st        State
	observers []observer
	nextObs   int
	warned    map[string]bool
	closed    bool
}

type observer struct {
	id int
	fn func()
}

type PurchaseResult struct {
	UpgradeID  string          `json:"upgrade_id"`
	Paid       decimal.Decimal `json:"paid"`
	Count      uint64          `json:"count"`
	NextPrice  decimal.Decimal `json:"next_price"`
	UnitIncome decimal.Decimal `json:"unit_income"`
	Balance    decimal.Decimal `json:"balance"`
	PerSecond  decimal.Decimal `json:"per_second"`
}

type TickResult struct {
	Credited decimal.Decimal `json:"credited"`
	Balance  decimal.Decimal `json:"balance"`
	Skipped  []string        `json:"skipped,omitempty"`
}

type ClickResult struct {
	Credited    decimal.Decimal `json:"credited"`
	Balance     decimal.Decimal `json:"balance"`
	TotalClicks uint64          `json:"total_clicks"`
}

// NewEngine builds the live state from a seed merged with the catalog.
func NewEngine(c *Catalog, seed Snapshot, opts Options) (*Engine, error) {
	if c == nil {
		return nil, fmt.Errorf("engine: nil catalog")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	reward := opts.ClickReward
	if !reward.IsPositive() {
		reward = DefaultClickReward
	}
	st, report, err := newState(c, seed)
	if err != nil {
		return nil, err
	}
	if len(report.Dropped) > 0 {
		logger.Warn("seed references unknown upgrades, dropped", "ids", report.Dropped)
	}
	if report.PerSecondMismatch {
		logger.Info("seed per_second recomputed", "seed", seed.PerSecond.String(), "computed", st.PerSecond.String())
	}
	return &Engine{
		catalog: c,
		log:     logger,
		clk:     clk,
		click:   roundCurrency(reward),
		st:      st,
		warned:  make(map[string]bool),
	}, nil
}

// OnChange registers fn to run after every successful mutation, in
// registration order. The returned func removes it.
func (e *Engine) OnChange(fn func()) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextObs++
	id := e.nextObs
	e.observers = append(e.observers, observer{id: id, fn: fn})
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, o := range e.observers {
			if o.id == id {
				e.observers = append(e.observers[:i:i], e.observers[i+1:]...)
				return
			}
		}
	}
}

func (e *Engine) notify() {
	e.mu.Lock()
	obs := append([]observer(nil), e.observers...)
	e.mu.Unlock()
	for _, o := range obs {
		o.fn()
	}
}

func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Purchase buys one unit of id. Checks run in order (exists, unlocked,
// priced, affordable) and the first failure is returned with the state
// untouched.
func (e *Engine) Purchase(id string) (PurchaseResult, error) {
	e.mu.Lock()
	res, err := e.purchaseLocked(id)
	e.mu.Unlock()
	if err != nil {
		return res, err
	}
	e.log.Debug("upgrade purchased", "upgrade", id, "count", res.Count, "paid", res.Paid.String())
	e.notify()
	return res, nil
}

func (e *Engine) purchaseLocked(id string) (PurchaseResult, error) {
	out := PurchaseResult{UpgradeID: id}
	if e.closed {
		return out, ErrClosed
	}
	o, ok := e.st.Owned[id]
	if !ok {
		return out, fmt.Errorf("%w: %q", ErrUnknownUpgrade, id)
	}
	if req, unmet := e.catalog.UnmetRequirement(e.st, id); unmet {
		return out, fmt.Errorf("%w: %s needs %d x %s (owned %d)", ErrRequirementUnmet, id, req.MinCount, req.UpgradeID, e.st.UpgradeCount(req.UpgradeID))
	}
	price, err := Price(o.Def, o.Count)
	if err != nil {
		return out, err
	}
	if e.st.Balance.LessThan(price) {
		return out, fmt.Errorf("%w: %s costs %s, balance %s", ErrInsufficientFunds, id, price, e.st.Balance)
	}
	next := o
	next.Count++
	next.refresh()
	if next.CurveErr != nil {
		return out, next.CurveErr
	}

	e.st.Balance = e.st.Balance.Sub(price)
	e.st.Owned[id] = next
	e.st.TotalPurchases++
	e.st.PerSecond, _ = perSecond(e.catalog, e.st)

	out.Paid = price
	out.Count = next.Count
	out.NextPrice = next.CurrentCost
	out.UnitIncome = next.CurrentIncome
	out.Balance = e.st.Balance
	out.PerSecond = e.st.PerSecond
	return out, nil
}

// Tick credits one second of income. Entries whose curve cannot be
// evaluated are skipped so they cannot stop accrual for the rest.
func (e *Engine) Tick() TickResult {
	e.mu.Lock()
	if e.closed {
		res := TickResult{Balance: e.st.Balance}
		e.mu.Unlock()
		return res
	}
	ps, skipped := perSecond(e.catalog, e.st)
	e.st.PerSecond = ps
	credited := ps.IsPositive()
	if credited {
		e.st.Balance = e.st.Balance.Add(ps)
		e.st.TotalEarned = e.st.TotalEarned.Add(ps)
	}
	res := TickResult{Credited: ps, Balance: e.st.Balance, Skipped: skipped}
	var fresh []string
	for _, id := range skipped {
		if !e.warned[id] {
			e.warned[id] = true
			fresh = append(fresh, id)
		}
	}
	e.mu.Unlock()

	for _, id := range fresh {
		def, _ := e.catalog.Get(id)
		e.log.Warn("tick skipped upgrade with invalid curve", "upgrade", id, "err", checkCurve(def))
	}
	if credited {
		e.notify()
	}
	return res
}

// Click applies a manual credit immediately.
func (e *Engine) Click() (ClickResult, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ClickResult{}, ErrClosed
	}
	e.st.Balance = e.st.Balance.Add(e.click)
	e.st.TotalEarned = e.st.TotalEarned.Add(e.click)
	e.st.TotalClicks++
	res := ClickResult{Credited: e.click, Balance: e.st.Balance, TotalClicks: e.st.TotalClicks}
	e.mu.Unlock()
	e.notify()
	return res, nil
}

// CreditCoins adds amount to the balance and to total earned. Used by
// collaborators such as the marketplace.
func (e *Engine) CreditCoins(amount decimal.Decimal) error {
	amount = roundCurrency(amount)
	if !amount.IsPositive() {
		return fmt.Errorf("%w: credit %s", ErrInvalidAmount, amount)
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.st.Balance = e.st.Balance.Add(amount)
	e.st.TotalEarned = e.st.TotalEarned.Add(amount)
	e.mu.Unlock()
	e.notify()
	return nil
}

// DebitCoins removes amount from the balance or fails without touching
// it.
func (e *Engine) DebitCoins(amount decimal.Decimal) error {
	amount = roundCurrency(amount)
	if !amount.IsPositive() {
		return fmt.Errorf("%w: debit %s", ErrInvalidAmount, amount)
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.st.Balance.LessThan(amount) {
		bal := e.st.Balance
		e.mu.Unlock()
		return fmt.Errorf("%w: debit %s, balance %s", ErrInsufficientFunds, amount, bal)
	}
	e.st.Balance = e.st.Balance.Sub(amount)
	e.mu.Unlock()
	e.notify()
	return nil
}

// Close freezes the state: later mutations return ErrClosed and ticks
// credit nothing. A mutation already holding the lock completes first, so
// a snapshot taken after Close includes it. Reads keep working.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

// UpgradeCount returns how many units of id are owned; 0 for unknown ids.
func (e *Engine) UpgradeCount(id string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.UpgradeCount(id)
}

func (e *Engine) IsUnlocked(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.catalog.IsUnlocked(e.st, id)
}

// State returns a copy of the live state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.clone()
}

// Snapshot returns a persistable copy of the live state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	snap := snapshotOf(e.catalog, e.st)
	e.mu.Unlock()
	snap.TakenAt = e.clk.Now().UTC()
	return snap
}

// Run ticks every interval of the engine clock until ctx is done.
func (e *Engine) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Second
	}
	ticker := e.clk.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			e.Tick()
		}
	}
}
