package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"idleforge/internal/clock"
	"idleforge/internal/economy"
)

const (
	DefaultWindow      = 5 * time.Second
	DefaultMaxWait     = 30 * time.Second
	DefaultSaveTimeout = 10 * time.Second
)

var ErrClosed = errors.New("persistence manager closed")

// Saver is the write half of the persistence port.
type Saver interface {
	Save(ctx context.Context, playerID string, snap economy.Snapshot) error
}

type Options struct {
	// Window is the quiet period a save waits for.
	Window time.Duration
	// MaxWait caps how long a continuously dirty state can go unsaved.
	// Negative disables the cap.
	MaxWait     time.Duration
	SaveTimeout time.Duration
	Clock       clock.Clock
	Logger      *slog.Logger
	// OnStatus is called with the manager lock held; it must not call
	// back into the Manager.
	OnStatus func(Status)
}

// Manager debounces saves of one player's economy. Notify is meant to be
// registered as an engine observer; source must return a fresh copy of
// the live state each call.
//
// Lock order is manager then engine: source is called with mu held.
type Manager struct {
	saver    Saver
	playerID string
	source   func() economy.Snapshot

	window   time.Duration
	maxWait  time.Duration
	timeout  time.Duration
	clk      clock.Clock
	log      *slog.Logger
	onStatus func(Status)

	mu           sync.Mutex
	status       Status
	lastErr      error
	savedFP      string
	lastSaved    time.Time
	timer        clock.Timer
	gen          uint64
	pendingSince time.Time
	inflight     int
	closed       bool
	seq          uint64
	resultSeq    uint64
	saves        uint64

	// saveMu serializes port writes; written is the newest seq on disk.
	saveMu  sync.Mutex
	written uint64
}

func NewManager(saver Saver, playerID string, source func() economy.Snapshot, opts Options) (*Manager, error) {
	if saver == nil {
		return nil, fmt.Errorf("persist: nil saver")
	}
	if source == nil {
		return nil, fmt.Errorf("persist: nil snapshot source")
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.MaxWait == 0 {
		opts.MaxWait = DefaultMaxWait
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = DefaultSaveTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		saver:    saver,
		playerID: playerID,
		source:   source,
		window:   opts.Window,
		maxWait:  opts.MaxWait,
		timeout:  opts.SaveTimeout,
		clk:      opts.Clock,
		log:      opts.Logger.With("player_id", playerID),
		onStatus: opts.OnStatus,
	}, nil
}

// Prime records fp as already persisted, typically the fingerprint of
// the state just loaded from the store.
func (m *Manager) Prime(fp string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.savedFP = fp
}

// Notify reports a state mutation. A changed fingerprint moves idle or
// error to pending and restarts the debounce timer.
func (m *Manager) Notify() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.status == StatusSaving {
		// finishLocked rechecks the fingerprint once the save lands.
		return
	}
	if m.source().Fingerprint() == m.savedFP {
		return
	}
	now := m.clk.Now()
	if m.status != StatusPending {
		m.pendingSince = now
		m.setStatusLocked(StatusPending)
	}
	m.armLocked(now)
}

func (m *Manager) armLocked(now time.Time) {
	m.stopTimerLocked()
	delay := m.window
	if m.maxWait > 0 {
		left := m.pendingSince.Add(m.maxWait).Sub(now)
		if left < 0 {
			left = 0
		}
		if left < delay {
			delay = left
		}
	}
	m.gen++
	gen := m.gen
	m.timer = m.clk.AfterFunc(delay, func() { m.fire(gen) })
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
}

func (m *Manager) fire(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.gen || m.status != StatusPending {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	job := m.beginLocked()
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	err := m.write(ctx, job)

	m.mu.Lock()
	m.finishLocked(job, err)
	m.mu.Unlock()
}

type saveJob struct {
	snap    economy.Snapshot
	fp      string
	seq     uint64
	started time.Time
}

func (m *Manager) beginLocked() saveJob {
	snap := m.source()
	m.seq++
	m.inflight++
	m.setStatusLocked(StatusSaving)
	return saveJob{snap: snap, fp: snap.Fingerprint(), seq: m.seq, started: m.clk.Now()}
}

// write stores job unless a newer snapshot already reached the port.
func (m *Manager) write(ctx context.Context, job saveJob) error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	if job.seq < m.written {
		m.log.Debug("stale snapshot skipped", "seq", job.seq, "written", m.written)
		return nil
	}
	if err := m.saver.Save(ctx, m.playerID, job.snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	m.written = job.seq
	return nil
}

func (m *Manager) finishLocked(job saveJob, err error) {
	m.inflight--
	if job.seq > m.resultSeq {
		m.resultSeq = job.seq
		m.lastErr = err
		if err == nil {
			m.savedFP = job.fp
			m.lastSaved = m.clk.Now()
			m.saves++
		}
	}
	if err != nil {
		m.log.Warn("save failed", "seq", job.seq, "err", err)
	} else {
		m.log.Debug("saved", "seq", job.seq, "took", m.clk.Now().Sub(job.started))
	}
	if m.inflight > 0 {
		return
	}
	if m.lastErr != nil {
		m.setStatusLocked(StatusError)
		return
	}
	if m.closed || m.source().Fingerprint() == m.savedFP {
		m.setStatusLocked(StatusIdle)
		return
	}
	now := m.clk.Now()
	m.pendingSince = now
	m.setStatusLocked(StatusPending)
	m.armLocked(now)
}

// ForceSave cancels any pending timer and writes the current state now,
// whatever the status.
func (m *Manager) ForceSave(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	return m.saveNowUnlock(ctx)
}

// Close cancels the debounce timer and performs one final save. Later
// calls and notifications are no-ops.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	return m.saveNowUnlock(ctx)
}

// saveNowUnlock is entered with mu held and releases it before the write.
func (m *Manager) saveNowUnlock(ctx context.Context) error {
	m.stopTimerLocked()
	job := m.beginLocked()
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	err := m.write(ctx, job)

	m.mu.Lock()
	m.finishLocked(job, err)
	m.mu.Unlock()
	return err
}

func (m *Manager) setStatusLocked(s Status) {
	if m.status == s {
		return
	}
	m.log.Debug("save status", "from", m.status.String(), "to", s.String())
	m.status = s
	if m.onStatus != nil {
		m.onStatus(s)
	}
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// LastError returns the error of the most recent save, nil after a
// success.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

type Stats struct {
	Status    Status    `json:"status"`
	Saves     uint64    `json:"saves"`
	LastSaved time.Time `json:"last_saved,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{Status: m.status, Saves: m.saves, LastSaved: m.lastSaved}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}
