package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"idleforge/internal/economy"
	"idleforge/internal/persist"
	"idleforge/internal/session"
	"idleforge/internal/store"
)

const (
	maxClicksPerRequest = 1000
	maxQuoteUnits       = 10000
	replayCacheSize     = 4096
)

type Server struct {
	log      *slog.Logger
	catalog  *economy.Catalog
	sessions *session.Registry
	replays  *lru.Cache
	flights  singleflight.Group
	mux      *chi.Mux
}

func New(logger *slog.Logger, catalog *economy.Catalog, sessions *session.Registry) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	replays, _ := lru.New(replayCacheSize)
	s := &Server{
		log:      logger,
		catalog:  catalog,
		sessions: sessions,
		replays:  replays,
		mux:      chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "players": len(s.sessions.Players())})
	})

	r.Route("/v1", func(r chi.Router) {
		// The stream is long lived and stays outside the request timeout.
		r.Get("/players/{player}/stream", s.handleStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Get("/catalog", s.handleCatalog)

			r.Post("/players/{player}/session", s.handleOpenSession)
			r.Delete("/players/{player}/session", s.handleCloseSession)
			r.Get("/players/{player}/state", s.handleState)
			r.Post("/players/{player}/click", s.handleClick)
			r.Post("/players/{player}/save", s.handleSave)
			r.Post("/players/{player}/upgrades/{upgrade}/buy", s.handleBuy)
			r.Get("/players/{player}/upgrades/{upgrade}/count", s.handleCount)
			r.Get("/players/{player}/upgrades/{upgrade}/quote", s.handleQuote)
			r.Post("/players/{player}/coins/credit", s.handleCredit)
			r.Post("/players/{player}/coins/debit", s.handleDebit)
		})
	})
}

type catalogEntry struct {
	economy.UpgradeDefinition
	Dependents []string `json:"dependents,omitempty"`
	Problem    string   `json:"problem,omitempty"`
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	problems := s.catalog.CurveProblems()
	out := make([]catalogEntry, 0, s.catalog.Len())
	for _, def := range s.catalog.Definitions() {
		entry := catalogEntry{UpgradeDefinition: def, Dependents: s.catalog.Dependents(def.ID)}
		if err := problems[def.ID]; err != nil {
			entry.Problem = err.Error()
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"upgrades": out})
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Open(r.Context(), chi.URLParam(r, "player"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	player := chi.URLParam(r, "player")
	if err := s.sessions.Close(r.Context(), player); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"closed": true, "player_id": player})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "player"))
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	times := 1
	if raw := strings.TrimSpace(r.URL.Query().Get("times")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxClicksPerRequest {
			writeError(w, http.StatusBadRequest, "times must be between 1 and 1000")
			return
		}
		times = n
	}
	s.once(w, r, sess, func() (int, any, error) {
		var res economy.ClickResult
		for i := 0; i < times; i++ {
			c, err := sess.Engine.Click()
			if err != nil {
				return 0, nil, err
			}
			res = c
		}
		return http.StatusOK, res, nil
	})
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "upgrade")
	s.once(w, r, sess, func() (int, any, error) {
		res, err := sess.Engine.Purchase(id)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, res, nil
	})
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "upgrade")
	if _, known := s.catalog.Get(id); !known {
		writeDomainError(w, economy.ErrUnknownUpgrade)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"upgrade_id": id,
		"count":      sess.Engine.UpgradeCount(id),
		"unlocked":   sess.Engine.IsUnlocked(id),
	})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "upgrade")
	def, known := s.catalog.Get(id)
	if !known {
		writeDomainError(w, economy.ErrUnknownUpgrade)
		return
	}
	n := 1
	if raw := strings.TrimSpace(r.URL.Query().Get("n")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxQuoteUnits {
			writeError(w, http.StatusBadRequest, "n must be between 1 and 10000")
			return
		}
		n = v
	}
	count := sess.Engine.UpgradeCount(id)
	total, err := economy.QuoteBulk(def, count, uint64(n))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"upgrade_id": id,
		"count":      count,
		"units":      n,
		"total":      total,
	})
}

type amountRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	s.handleCoins(w, r, func(e *economy.Engine, amount decimal.Decimal) error { return e.CreditCoins(amount) })
}

func (s *Server) handleDebit(w http.ResponseWriter, r *http.Request) {
	s.handleCoins(w, r, func(e *economy.Engine, amount decimal.Decimal) error { return e.DebitCoins(amount) })
}

func (s *Server) handleCoins(w http.ResponseWriter, r *http.Request, apply func(*economy.Engine, decimal.Decimal) error) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var in amountRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := economy.ParseAmount(in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.once(w, r, sess, func() (int, any, error) {
		if err := apply(sess.Engine, amount); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, map[string]any{"amount": amount, "balance": sess.Engine.State().Balance}, nil
	})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Saves.ForceSave(r.Context()); err != nil {
		s.log.Warn("force save failed", "player_id", sess.PlayerID, "err", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Saves.Stats())
}

type replay struct {
	status int
	body   any
}

// once runs a mutating handler at most once per Idempotency-Key and
// session. Retries with the same key get the first response back; a
// retry that arrives while the first attempt is still running waits for
// it instead of applying again.
func (s *Server) once(w http.ResponseWriter, r *http.Request, sess *session.Session, fn func() (int, any, error)) {
	key := sess.ID + "|" + r.URL.Path + "|" + idempotencyKey(r)
	ran := false
	v, err, _ := s.flights.Do(key, func() (any, error) {
		if v, ok := s.replays.Get(key); ok {
			return v, nil
		}
		ran = true
		status, body, err := fn()
		if err != nil {
			return nil, err
		}
		rep := replay{status: status, body: body}
		s.replays.Add(key, rep)
		return rep, nil
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rep := v.(replay)
	if !ran {
		w.Header().Set("Idempotent-Replay", "true")
	}
	writeJSON(w, rep.status, rep.body)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, economy.ErrUnknownUpgrade), errors.Is(err, session.ErrNoSession):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, economy.ErrRequirementUnmet):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, economy.ErrInsufficientFunds), errors.Is(err, economy.ErrInvalidAmount),
		errors.Is(err, store.ErrInvalidPlayer):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, economy.ErrInvalidCurve):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, economy.ErrInvalidSeed), errors.Is(err, economy.ErrClosed),
		errors.Is(err, persist.ErrClosed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}
