package persist

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"idleforge/internal/clock"
	"idleforge/internal/economy"
)

type recordingSaver struct {
	mu    sync.Mutex
	saves []economy.Snapshot
	fail  error
	hook  func()
}

func (r *recordingSaver) Save(_ context.Context, _ string, snap economy.Snapshot) error {
	r.mu.Lock()
	hook, fail := r.hook, r.fail
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	if fail != nil {
		return fail
	}
	r.mu.Lock()
	r.saves = append(r.saves, snap)
	r.mu.Unlock()
	return nil
}

func (r *recordingSaver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saves)
}

func (r *recordingSaver) last() economy.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves[len(r.saves)-1]
}

func (r *recordingSaver) setFail(err error) {
	r.mu.Lock()
	r.fail = err
	r.mu.Unlock()
}

type fixture struct {
	clk   *clock.Fake
	eng   *economy.Engine
	saver *recordingSaver
	mgr   *Manager
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	eng, err := economy.NewEngine(economy.DefaultCatalog(), economy.Snapshot{}, economy.Options{Logger: logger, Clock: clk})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	saver := &recordingSaver{}
	opts.Clock = clk
	opts.Logger = logger
	mgr, err := NewManager(saver, "p1", eng.Snapshot, opts)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	mgr.Prime(eng.Snapshot().Fingerprint())
	eng.OnChange(mgr.Notify)
	return &fixture{clk: clk, eng: eng, saver: saver, mgr: mgr}
}

func TestDebounceCoalescesBurst(t *testing.T) {
	f := newFixture(t, Options{Window: 5 * time.Second, MaxWait: -1})

	for i := 0; i < 10; i++ {
		f.eng.Click()
		f.clk.Advance(time.Second)
	}
	if f.saver.count() != 0 {
		t.Fatalf("saved during a burst: %d", f.saver.count())
	}
	if f.mgr.Status() != StatusPending {
		t.Fatalf("expected pending got %s", f.mgr.Status())
	}
	if f.clk.Pending() != 1 {
		t.Fatalf("expected a single armed timer got %d", f.clk.Pending())
	}
	f.clk.Advance(4 * time.Second)
	if f.saver.count() != 1 {
		t.Fatalf("expected one save after the quiet window, got %d", f.saver.count())
	}
	if f.mgr.Status() != StatusIdle {
		t.Fatalf("expected idle got %s", f.mgr.Status())
	}
	if !f.saver.last().Balance.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("saved stale balance %s", f.saver.last().Balance)
	}
	f.clk.Advance(time.Minute)
	if f.saver.count() != 1 {
		t.Fatalf("idle manager saved again")
	}
}

func TestMaxWaitForcesSaveUnderSteadyMutation(t *testing.T) {
	f := newFixture(t, Options{Window: 5 * time.Second, MaxWait: 12 * time.Second})
	for i := 0; i < 12; i++ {
		f.eng.Click()
		f.clk.Advance(time.Second)
	}
	if f.saver.count() != 1 {
		t.Fatalf("expected max wait to force one save, got %d", f.saver.count())
	}
}

func TestUnchangedFingerprintDoesNotSchedule(t *testing.T) {
	f := newFixture(t, Options{})
	f.mgr.Notify()
	if f.mgr.Status() != StatusIdle || f.clk.Pending() != 0 {
		t.Fatalf("notify without a change scheduled a save")
	}
}

func TestSnapshotTakenAtSaveTime(t *testing.T) {
	f := newFixture(t, Options{Window: time.Second})
	f.eng.Click()
	f.saver.hook = func() {
		// A mutation racing the in-flight write must not reach it.
		f.eng.Click()
	}
	f.clk.Advance(time.Second)
	if f.saver.count() != 1 {
		t.Fatalf("expected one save got %d", f.saver.count())
	}
	if !f.saver.last().Balance.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("snapshot saw a later mutation: %s", f.saver.last().Balance)
	}
	f.saver.hook = nil
	if f.mgr.Status() != StatusPending {
		t.Fatalf("mutation during save must re-arm, got %s", f.mgr.Status())
	}
	f.clk.Advance(time.Second)
	if f.saver.count() != 2 || !f.saver.last().Balance.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("follow-up save missing")
	}
}

func TestSaveFailureThenRetry(t *testing.T) {
	var statuses []Status
	f := newFixture(t, Options{Window: time.Second, OnStatus: func(s Status) { statuses = append(statuses, s) }})
	f.saver.setFail(errors.New("disk full"))

	f.eng.Click()
	f.clk.Advance(time.Second)
	if f.mgr.Status() != StatusError || f.mgr.LastError() == nil {
		t.Fatalf("expected error status got %s (%v)", f.mgr.Status(), f.mgr.LastError())
	}
	f.clk.Advance(time.Minute)
	if f.clk.Pending() != 0 {
		t.Fatalf("failure must not start a retry loop")
	}

	f.saver.setFail(nil)
	f.eng.Click()
	f.clk.Advance(time.Second)
	if f.mgr.Status() != StatusIdle || f.mgr.LastError() != nil {
		t.Fatalf("retry on next mutation failed: %s %v", f.mgr.Status(), f.mgr.LastError())
	}
	want := []Status{StatusPending, StatusSaving, StatusError, StatusPending, StatusSaving, StatusIdle}
	if len(statuses) != len(want) {
		t.Fatalf("transitions %v want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("transitions %v want %v", statuses, want)
		}
	}
}

func TestForceSaveCancelsTimer(t *testing.T) {
	f := newFixture(t, Options{Window: 5 * time.Second})
	f.eng.Click()
	if err := f.mgr.ForceSave(context.Background()); err != nil {
		t.Fatalf("force save: %v", err)
	}
	if f.saver.count() != 1 {
		t.Fatalf("expected immediate save")
	}
	f.clk.Advance(10 * time.Second)
	if f.saver.count() != 1 {
		t.Fatalf("debounce timer fired after force save")
	}

	// Force saves even when idle.
	if err := f.mgr.ForceSave(context.Background()); err != nil {
		t.Fatalf("force save: %v", err)
	}
	if f.saver.count() != 2 {
		t.Fatalf("idle force save skipped")
	}
}

func TestCloseSavesExactlyOnce(t *testing.T) {
	f := newFixture(t, Options{Window: 5 * time.Second})
	f.eng.Click()
	f.clk.Advance(2 * time.Second)

	if err := f.mgr.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := f.mgr.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
	f.eng.Click()
	f.clk.Advance(time.Minute)
	if f.saver.count() != 1 {
		t.Fatalf("expected exactly one final save, got %d", f.saver.count())
	}
	if !f.saver.last().Balance.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("final save has wrong balance %s", f.saver.last().Balance)
	}
	if err := f.mgr.ForceSave(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed got %v", err)
	}
}

func TestCloseReportsSaveError(t *testing.T) {
	f := newFixture(t, Options{})
	f.saver.setFail(errors.New("offline"))
	if err := f.mgr.Close(context.Background()); err == nil {
		t.Fatalf("expected final save error")
	}
	if f.mgr.Status() != StatusError {
		t.Fatalf("expected error status got %s", f.mgr.Status())
	}
}

func TestConcurrentForceSavesKeepNewest(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng, err := economy.NewEngine(economy.DefaultCatalog(), economy.Snapshot{}, economy.Options{Logger: logger})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	saver := &recordingSaver{}
	mgr, err := NewManager(saver, "p1", eng.Snapshot, Options{Logger: logger, Window: time.Hour})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	eng.OnChange(mgr.Notify)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				eng.Click()
				if err := mgr.ForceSave(context.Background()); err != nil {
					t.Errorf("force save: %v", err)
				}
			}
		}()
	}
	wg.Wait()
	if err := mgr.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !saver.last().Balance.Equal(eng.State().Balance) {
		t.Fatalf("last write %s is not the newest state %s", saver.last().Balance, eng.State().Balance)
	}
	prev := decimal.Zero
	for _, s := range saver.saves {
		if s.Balance.LessThan(prev) {
			t.Fatalf("older snapshot overwrote a newer one: %s after %s", s.Balance, prev)
		}
		prev = s.Balance
	}
	if mgr.Status() != StatusIdle {
		t.Fatalf("expected idle got %s", mgr.Status())
	}
}

func TestStatusText(t *testing.T) {
	b, _ := StatusSaving.MarshalText()
	if string(b) != "saving" {
		t.Fatalf("got %q", b)
	}
	if Status(9).String() != "status(9)" {
		t.Fatalf("unexpected unknown status text")
	}
}
