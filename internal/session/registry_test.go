package session

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
	"idleforge/internal/persist"
	"idleforge/internal/store"
)

func newRegistry(t *testing.T, st store.Store, manual bool) (*Registry, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	r, err := NewRegistry(Options{
		Catalog:     economy.DefaultCatalog(),
		Store:       st,
		Clock:       clk,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Save:        persist.Options{Window: 5 * time.Second},
		TickEvery:   time.Millisecond,
		ManualTicks: manual,
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return r, clk
}

func TestOpenFreshPlayer(t *testing.T) {
	mem := store.NewMemory()
	r, _ := newRegistry(t, mem, true)
	s, err := r.Open(context.Background(), "alice")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.Resumed || !s.Engine.State().Balance.IsZero() {
		t.Fatalf("expected a fresh session, got %+v", s)
	}
	again, err := r.Open(context.Background(), "alice")
	if err != nil || again != s {
		t.Fatalf("second open must return the live session")
	}
	if mem.Saves() != 0 {
		t.Fatalf("opening must not save")
	}
	if got := r.Players(); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("unexpected players %v", got)
	}
}

func TestResumeAndCloseRoundTrip(t *testing.T) {
	mem := store.NewMemory()
	seed := economy.Snapshot{
		Balance: decimal.NewFromInt(100),
		Owned:   []economy.OwnedCount{{ID: "pickaxe", Count: 3}},
	}
	if err := mem.Save(context.Background(), "bob", seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	r, _ := newRegistry(t, mem, true)
	s, err := r.Open(context.Background(), "bob")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !s.Resumed || s.Engine.UpgradeCount("pickaxe") != 3 {
		t.Fatalf("seed not applied")
	}
	if _, err := s.Engine.Purchase("pickaxe"); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	s.Engine.Tick()
	want := s.Engine.Snapshot()

	if err := r.Close(context.Background(), "bob"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := r.Get("bob"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after close, got %v", err)
	}
	got, err := mem.Load(context.Background(), "bob")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Fingerprint() != want.Fingerprint() || !got.Balance.Equal(want.Balance) {
		t.Fatalf("final save lost state: %+v vs %+v", got, want)
	}
	if got.SessionID != s.ID {
		t.Fatalf("snapshot not stamped with session id")
	}
	if err := r.Close(context.Background(), "bob"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession on second close got %v", err)
	}
}

func TestDebouncedSaveThroughRegistry(t *testing.T) {
	mem := store.NewMemory()
	r, clk := newRegistry(t, mem, true)
	s, err := r.Open(context.Background(), "carol")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Engine.Click()
	if s.Saves.Status() != persist.StatusPending {
		t.Fatalf("expected pending got %s", s.Saves.Status())
	}
	clk.Advance(5 * time.Second)
	if mem.Saves() != 1 {
		t.Fatalf("expected debounced save, got %d", mem.Saves())
	}
	v := s.View()
	if v.Save.Saves != 1 || v.Save.Status != persist.StatusIdle || v.TotalClicks != 1 {
		t.Fatalf("unexpected view %+v", v)
	}
}

func TestShutdownClosesEverySession(t *testing.T) {
	mem := store.NewMemory()
	r, _ := newRegistry(t, mem, false)
	ctx := context.Background()
	for _, id := range []string{"p1", "p2", "p3"} {
		s, err := r.Open(ctx, id)
		if err != nil {
			t.Fatalf("open %s: %v", id, err)
		}
		s.Engine.Click()
	}
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	for _, id := range []string{"p1", "p2", "p3"} {
		snap, err := mem.Load(ctx, id)
		if err != nil {
			t.Fatalf("load %s: %v", id, err)
		}
		if snap.TotalClicks != 1 {
			t.Fatalf("%s final save missing the click", id)
		}
	}
	if _, err := r.Open(ctx, "p4"); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown got %v", err)
	}
	if len(r.Players()) != 0 {
		t.Fatalf("sessions left after shutdown")
	}
}

type brokenStore struct{ store.Store }

func (brokenStore) Load(context.Context, string) (economy.Snapshot, error) {
	return economy.Snapshot{}, errors.New("connection refused")
}

func TestOpenErrors(t *testing.T) {
	r, _ := newRegistry(t, brokenStore{store.NewMemory()}, true)
	if _, err := r.Open(context.Background(), "dave"); err == nil {
		t.Fatalf("expected load error")
	}
	if _, err := r.Open(context.Background(), "bad/id"); !errors.Is(err, store.ErrInvalidPlayer) {
		t.Fatalf("expected ErrInvalidPlayer got %v", err)
	}

	mem := store.NewMemory()
	_ = mem.Save(context.Background(), "eve", economy.Snapshot{Balance: decimal.NewFromInt(-5)})
	r2, _ := newRegistry(t, mem, true)
	if _, err := r2.Open(context.Background(), "eve"); !errors.Is(err, economy.ErrInvalidSeed) {
		t.Fatalf("expected ErrInvalidSeed got %v", err)
	}
}

func TestConcurrentOpenYieldsOneSession(t *testing.T) {
	r, _ := newRegistry(t, store.NewMemory(), false)
	defer r.Shutdown(context.Background())

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[*Session]bool{}
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := r.Open(context.Background(), "frank")
			if err != nil {
				t.Errorf("open: %v", err)
				return
			}
			mu.Lock()
			seen[s] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	live, err := r.Get("frank")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for s := range seen {
		if s != live {
			t.Fatalf("open returned a session that is not registered")
		}
	}
}

// gatedStore blocks the first Save until release is closed.
type gatedStore struct {
	*store.Memory
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		Memory:  store.NewMemory(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedStore) Save(ctx context.Context, playerID string, snap economy.Snapshot) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.Memory.Save(ctx, playerID, snap)
}

func TestOpenWaitsForFinalSaveOfClosingSession(t *testing.T) {
	gs := newGatedStore()
	r, _ := newRegistry(t, gs, true)
	ctx := context.Background()

	old, err := r.Open(ctx, "gina")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 50; i++ {
		if _, err := old.Engine.Click(); err != nil {
			t.Fatalf("click: %v", err)
		}
	}

	closed := make(chan error, 1)
	go func() { closed <- r.Close(ctx, "gina") }()
	<-gs.entered

	type opened struct {
		s   *Session
		err error
	}
	reopened := make(chan opened, 1)
	go func() {
		s, err := r.Open(ctx, "gina")
		reopened <- opened{s, err}
	}()
	select {
	case got := <-reopened:
		t.Fatalf("open returned during the final save: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}

	close(gs.release)
	if err := <-closed; err != nil {
		t.Fatalf("close: %v", err)
	}
	got := <-reopened
	if got.err != nil {
		t.Fatalf("reopen: %v", got.err)
	}
	if got.s == old || !got.s.Resumed {
		t.Fatalf("expected a resumed new session")
	}
	if !got.s.Engine.State().Balance.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("reopened balance %s want 50", got.s.Engine.State().Balance)
	}
}

func TestOpenGivesUpWhenContextEndsDuringFinalSave(t *testing.T) {
	gs := newGatedStore()
	r, _ := newRegistry(t, gs, true)
	ctx := context.Background()
	s, err := r.Open(ctx, "hank")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Engine.Click()

	closed := make(chan error, 1)
	go func() { closed <- r.Close(ctx, "hank") }()
	<-gs.entered

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := r.Open(waitCtx, "hank"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded got %v", err)
	}
	close(gs.release)
	if err := <-closed; err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestShutdownWaitsForInFlightClose(t *testing.T) {
	gs := newGatedStore()
	r, _ := newRegistry(t, gs, true)
	ctx := context.Background()
	s, err := r.Open(ctx, "iris")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Engine.Click()

	closed := make(chan error, 1)
	go func() { closed <- r.Close(ctx, "iris") }()
	<-gs.entered

	shut := make(chan error, 1)
	go func() { shut <- r.Shutdown(ctx) }()
	select {
	case err := <-shut:
		t.Fatalf("shutdown returned before the final save landed: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(gs.release)
	if err := <-shut; err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := <-closed; err != nil {
		t.Fatalf("close: %v", err)
	}
	snap, err := gs.Load(ctx, "iris")
	if err != nil || snap.TotalClicks != 1 {
		t.Fatalf("final save missing: %+v %v", snap, err)
	}
}

func TestClosedSessionRejectsMutations(t *testing.T) {
	mem := store.NewMemory()
	r, _ := newRegistry(t, mem, true)
	ctx := context.Background()
	s, err := r.Open(ctx, "jude")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Engine.Click()
	if err := r.Close(ctx, "jude"); err != nil {
		t.Fatalf("close: %v", err)
	}
	for i := 0; i < 20; i++ {
		if _, err := s.Engine.Click(); !errors.Is(err, economy.ErrClosed) {
			t.Fatalf("click after close: expected ErrClosed got %v", err)
		}
	}
	if err := s.Engine.CreditCoins(decimal.NewFromInt(5)); !errors.Is(err, economy.ErrClosed) {
		t.Fatalf("credit after close: expected ErrClosed got %v", err)
	}
	snap, err := mem.Load(ctx, "jude")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !snap.Balance.Equal(s.Engine.State().Balance) || snap.TotalClicks != 1 {
		t.Fatalf("stored %s engine %s", snap.Balance, s.Engine.State().Balance)
	}
}
