// Package session owns the live economies: one engine, ticker and save
// manager per connected player.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"idleforge/internal/clock"
	"idleforge/internal/economy"
	"idleforge/internal/persist"
	"idleforge/internal/store"
)

var (
	ErrNoSession    = errors.New("no open session for player")
	ErrShuttingDown = errors.New("session registry is shutting down")
)

type Options struct {
	Catalog     *economy.Catalog
	Store       store.Store
	ClickReward decimal.Decimal
	TickEvery   time.Duration
	Save        persist.Options
	Clock       clock.Clock
	Logger      *slog.Logger
	// ManualTicks leaves ticking to the caller instead of starting a
	// ticker per session.
	ManualTicks bool
}

// Session is one player's live economy.
type Session struct {
	ID       string
	PlayerID string
	OpenedAt time.Time
	Resumed  bool
	Engine   *economy.Engine
	Saves    *persist.Manager

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

type View struct {
	SessionID string        `json:"session_id"`
	PlayerID  string        `json:"player_id"`
	OpenedAt  time.Time     `json:"opened_at"`
	Save      persist.Stats `json:"save"`
	economy.View
}

func (s *Session) View() View {
	return View{
		SessionID: s.ID,
		PlayerID:  s.PlayerID,
		OpenedAt:  s.OpenedAt,
		Save:      s.Saves.Stats(),
		View:      s.Engine.View(),
	}
}

// close stops the ticker, freezes the engine and performs the final save.
// Safe to call more than once.
func (s *Session) close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
		s.Engine.Close()
		s.closeErr = s.Saves.Close(ctx)
	})
	return s.closeErr
}

type Registry struct {
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	// closing holds players whose final save is still running; the
	// channel is closed once it has landed.
	closing map[string]chan struct{}
	closed  bool
}

func NewRegistry(opts Options) (*Registry, error) {
	if opts.Catalog == nil {
		return nil, fmt.Errorf("session: nil catalog")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("session: nil store")
	}
	if opts.TickEvery <= 0 {
		opts.TickEvery = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Save.Clock = opts.Clock
	opts.Save.Logger = opts.Logger
	return &Registry{
		opts:     opts,
		log:      opts.Logger,
		sessions: make(map[string]*Session),
		closing:  make(map[string]chan struct{}),
	}, nil
}

// Open returns the player's live session, loading it from the store when
// none is open. If the player's previous session is still writing its
// final save, Open waits for that save so it loads the newest document.
func (r *Registry) Open(ctx context.Context, playerID string) (*Session, error) {
	if err := store.ValidatePlayerID(playerID); err != nil {
		return nil, err
	}
	for {
		s, wait, err := r.lookup(playerID)
		if err != nil || s != nil {
			return s, err
		}
		if wait != nil {
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		s, err = r.build(ctx, playerID)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrShuttingDown
		}
		if existing, ok := r.sessions[playerID]; ok {
			// Lost a race with another Open; nothing was started yet.
			r.mu.Unlock()
			return existing, nil
		}
		if _, busy := r.closing[playerID]; busy {
			// Another session opened and closed while we loaded; what we
			// read may be older than its final save.
			r.mu.Unlock()
			continue
		}
		r.sessions[playerID] = s
		r.start(s)
		r.mu.Unlock()
		r.log.Info("session opened", "player_id", playerID, "session_id", s.ID, "resumed", s.Resumed)
		return s, nil
	}
}

// lookup returns the live session, or the channel to wait on while a
// final save for the player is in flight, or neither.
func (r *Registry) lookup(playerID string) (*Session, <-chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, nil, ErrShuttingDown
	}
	if s, ok := r.sessions[playerID]; ok {
		return s, nil, nil
	}
	if wait, ok := r.closing[playerID]; ok {
		return nil, wait, nil
	}
	return nil, nil, nil
}

func (r *Registry) build(ctx context.Context, playerID string) (*Session, error) {
	seed, err := r.opts.Store.Load(ctx, playerID)
	resumed := true
	if errors.Is(err, store.ErrNotFound) {
		seed, resumed, err = economy.Snapshot{}, false, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load player %s: %w", playerID, err)
	}

	logger := r.log.With("player_id", playerID)
	eng, err := economy.NewEngine(r.opts.Catalog, seed, economy.Options{
		ClickReward: r.opts.ClickReward,
		Logger:      logger,
		Clock:       r.opts.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("seed player %s: %w", playerID, err)
	}

	id := uuid.NewString()
	source := func() economy.Snapshot {
		snap := eng.Snapshot()
		snap.SessionID = id
		return snap
	}
	saves, err := persist.NewManager(r.opts.Store, playerID, source, r.opts.Save)
	if err != nil {
		return nil, err
	}
	saves.Prime(eng.Snapshot().Fingerprint())
	eng.OnChange(saves.Notify)

	return &Session{
		ID:       id,
		PlayerID: playerID,
		OpenedAt: r.opts.Clock.Now().UTC(),
		Resumed:  resumed,
		Engine:   eng,
		Saves:    saves,
	}, nil
}

func (r *Registry) start(s *Session) {
	if r.opts.ManualTicks {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.Engine.Run(ctx, r.opts.TickEvery)
	}()
}

func (r *Registry) Get(playerID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[playerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, playerID)
	}
	return s, nil
}

// Close tears down the player's session with a final save. Until that
// save returns, Open for the same player waits.
func (r *Registry) Close(ctx context.Context, playerID string) error {
	r.mu.Lock()
	s, ok := r.sessions[playerID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoSession, playerID)
	}
	done := r.markClosingLocked(playerID)
	r.mu.Unlock()

	err := s.close(ctx)
	r.finishClosing(playerID, done)
	r.log.Info("session closed", "player_id", playerID, "session_id", s.ID, "err", err)
	return err
}

func (r *Registry) markClosingLocked(playerID string) chan struct{} {
	delete(r.sessions, playerID)
	done := make(chan struct{})
	r.closing[playerID] = done
	return done
}

func (r *Registry) finishClosing(playerID string, done chan struct{}) {
	r.mu.Lock()
	if r.closing[playerID] == done {
		delete(r.closing, playerID)
	}
	r.mu.Unlock()
	close(done)
}

// Players lists players with an open session.
func (r *Registry) Players() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Shutdown refuses new sessions, closes every open one concurrently with
// its final save, and waits for final saves started by Close.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	open := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		open = append(open, s)
	}
	pending := make([]chan struct{}, 0, len(r.closing)+len(open))
	for _, wait := range r.closing {
		pending = append(pending, wait)
	}
	dones := make([]chan struct{}, len(open))
	for i, s := range open {
		dones[i] = r.markClosingLocked(s.PlayerID)
	}
	r.mu.Unlock()

	var g errgroup.Group
	for i, s := range open {
		g.Go(func() error {
			err := s.close(ctx)
			r.finishClosing(s.PlayerID, dones[i])
			if err != nil {
				return fmt.Errorf("close %s: %w", s.PlayerID, err)
			}
			return nil
		})
	}
	for _, wait := range pending {
		g.Go(func() error {
			select {
			case <-wait:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	err := g.Wait()
	r.log.Info("sessions shut down", "count", len(open), "err", err)
	return err
}
