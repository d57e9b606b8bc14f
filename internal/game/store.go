package game

import (
	"sync"
	"time"

	"github.com/castled-chess/castled/internal/rules"
	"github.com/castled-chess/castled/pkg/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Timers is the clock service surface the store drives. Stop must be
// idempotent; the store calls it on every terminal transition.
type Timers interface {
	Start(gameID string, whiteSeconds, blackSeconds int, mover rules.Color)
	SwitchMover(gameID string, mover rules.Color)
	Stop(gameID string)
	Remaining(gameID string) (white, black int, ok bool)
}

// Scheduler requests and cancels AI moves. Implemented by the pipeline; the
// store kicks off the opening move of AI-vs-AI games and cancels pending
// schedules when a session is deleted.
type Scheduler interface {
	ScheduleAIMove(gameID string, delay time.Duration)
	CancelAIMove(gameID string)
}

// TerminalFunc observes sessions leaving the active state. reason is one of
// checkmate, stalemate, draw, resignation, timeout. It is invoked outside the
// session lock, exactly once per session.
type TerminalFunc func(snap Snapshot, reason string)

const firstAIMoveDelay = 500 * time.Millisecond

type session struct {
	mu sync.Mutex

	id        string
	config    Config
	fen       string
	moves     []string
	status    Status
	winner    Winner
	mover     rules.Color
	white     int
	black     int
	createdBy string
	createdAt time.Time
	deleted   bool
}

// Store is the registry of active sessions and the single point of mutation
// for game state. Every state change for a given game happens under that
// session's mutex, so no two moves are ever applied concurrently.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*session

	timers     Timers
	sched      Scheduler
	onTerminal TerminalFunc
}

func NewStore(timers Timers) *Store {
	return &Store{
		sessions: make(map[string]*session),
		timers:   timers,
	}
}

// SetScheduler wires the AI pipeline in after construction; the pipeline
// itself needs the store, so this breaks the cycle.
func (s *Store) SetScheduler(sched Scheduler) {
	s.sched = sched
}

func (s *Store) OnTerminal(fn TerminalFunc) {
	s.onTerminal = fn
}

// Create allocates a session in the starting position with clocks sized by
// game type. Both-AI games get their opening move scheduled shortly after.
func (s *Store) Create(config Config, creatorID string) Snapshot {
	if config.White.Kind == "" {
		config.White.Kind = PlayerHuman
	}
	if config.Black.Kind == "" {
		config.Black.Kind = PlayerHuman
	}
	if config.GameType == "" {
		config.GameType = TypeNormal
	}

	seconds := config.GameType.ClockSeconds()
	sess := &session{
		id:        uuid.NewString(),
		config:    config,
		fen:       rules.StartingFEN(),
		moves:     []string{},
		status:    StatusActive,
		winner:    WinnerNone,
		mover:     rules.White,
		white:     seconds,
		black:     seconds,
		createdBy: creatorID,
		createdAt: time.Now(),
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.timers.Start(sess.id, seconds, seconds, rules.White)
	if config.BothAI() && s.sched != nil {
		s.sched.ScheduleAIMove(sess.id, firstAIMoveDelay)
	}

	logging.Info("game created",
		zap.String("game_id", sess.id),
		zap.String("game_type", string(config.GameType)),
		zap.String("white", string(config.White.Kind)),
		zap.String("black", string(config.Black.Kind)),
	)
	return s.snapshot(sess)
}

func (s *Store) lookup(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *Store) Get(id string) (Snapshot, error) {
	sess, ok := s.lookup(id)
	if !ok {
		return Snapshot{}, ErrGameNotFound
	}
	return s.snapshot(sess), nil
}

func (s *Store) List() []Snapshot {
	s.mu.Lock()
	all := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.Unlock()

	out := make([]Snapshot, 0, len(all))
	for _, sess := range all {
		out = append(out, s.snapshot(sess))
	}
	return out
}

// ApplyMove validates the move against the rules engine and, on success,
// advances the stored session and the clock. This is the only code path that
// appends to a move history.
func (s *Store) ApplyMove(id, from, to, promotion string) (rules.Result, error) {
	sess, ok := s.lookup(id)
	if !ok {
		return rules.Result{}, ErrGameNotFound
	}

	sess.mu.Lock()
	if sess.deleted {
		sess.mu.Unlock()
		return rules.Result{}, ErrGameNotFound
	}
	if sess.status != StatusActive {
		sess.mu.Unlock()
		return rules.Result{}, ErrGameNotActive
	}

	res, err := rules.ApplyMove(sess.fen, from, to, promotion)
	if err != nil {
		sess.mu.Unlock()
		return rules.Result{}, err
	}

	moved := sess.mover
	sess.fen = res.NewFEN
	sess.moves = append(sess.moves, res.SAN)
	sess.mover = moved.Opponent()

	var reason string
	switch {
	case res.Checkmate:
		sess.status = StatusCompleted
		sess.winner = winnerFor(moved)
		reason = "checkmate"
	case res.Stalemate:
		sess.status = StatusCompleted
		sess.winner = WinnerDraw
		reason = "stalemate"
	case res.Draw:
		sess.status = StatusCompleted
		sess.winner = WinnerDraw
		reason = "draw"
	}
	terminal := reason != ""
	sess.mu.Unlock()

	if terminal {
		s.captureRemaining(sess)
		s.timers.Stop(id)
		s.notifyTerminal(sess, reason)
	} else {
		s.timers.SwitchMover(id, moved.Opponent())
	}

	logging.Info("move applied",
		zap.String("game_id", id),
		zap.String("san", res.SAN),
		zap.String("uci", res.UCI),
		zap.Bool("terminal", terminal),
	)
	return res, nil
}

// Resign ends the game in favor of the opposite color.
func (s *Store) Resign(id string, color rules.Color) error {
	sess, ok := s.lookup(id)
	if !ok {
		return ErrGameNotFound
	}

	sess.mu.Lock()
	if sess.deleted {
		sess.mu.Unlock()
		return ErrGameNotFound
	}
	if sess.status != StatusActive {
		sess.mu.Unlock()
		return ErrGameNotActive
	}
	sess.status = StatusResigned
	sess.winner = winnerFor(color.Opponent())
	sess.mu.Unlock()

	s.captureRemaining(sess)
	s.timers.Stop(id)
	s.notifyTerminal(sess, "resignation")

	logging.Info("game resigned",
		zap.String("game_id", id),
		zap.String("color", string(color)),
	)
	return nil
}

// Timeout records a flag fall reported by the clock service.
func (s *Store) Timeout(id string, loser rules.Color) error {
	sess, ok := s.lookup(id)
	if !ok {
		return ErrGameNotFound
	}

	sess.mu.Lock()
	if sess.deleted {
		sess.mu.Unlock()
		return ErrGameNotFound
	}
	if sess.status != StatusActive {
		sess.mu.Unlock()
		return ErrGameNotActive
	}
	sess.status = StatusCompleted
	sess.winner = winnerFor(loser.Opponent())
	sess.mu.Unlock()

	s.captureRemaining(sess)
	sess.mu.Lock()
	if loser == rules.White {
		sess.white = 0
	} else {
		sess.black = 0
	}
	sess.mu.Unlock()
	s.timers.Stop(id)
	s.notifyTerminal(sess, "timeout")

	logging.Info("game timed out",
		zap.String("game_id", id),
		zap.String("loser", string(loser)),
	)
	return nil
}

// Delete frees the session and its clock. Deletion is not a game result, so
// no terminal notification fires.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return ErrGameNotFound
	}

	sess.mu.Lock()
	sess.deleted = true
	sess.mu.Unlock()

	if s.sched != nil {
		s.sched.CancelAIMove(id)
	}
	s.timers.Stop(id)
	logging.Info("game deleted", zap.String("game_id", id))
	return nil
}

func (s *Store) LegalMoves(id, square string) ([]string, error) {
	sess, ok := s.lookup(id)
	if !ok {
		return nil, ErrGameNotFound
	}
	sess.mu.Lock()
	fen := sess.fen
	sess.mu.Unlock()
	return rules.LegalMoves(fen, square)
}

// captureRemaining copies the live clock values onto the session before the
// timer is torn down, so snapshots of finished games keep the final clocks.
func (s *Store) captureRemaining(sess *session) {
	white, black, ok := s.timers.Remaining(sess.id)
	if !ok {
		return
	}
	sess.mu.Lock()
	sess.white, sess.black = white, black
	sess.mu.Unlock()
}

func (s *Store) notifyTerminal(sess *session, reason string) {
	if s.onTerminal == nil {
		return
	}
	s.onTerminal(s.snapshot(sess), reason)
}

func (s *Store) snapshot(sess *session) Snapshot {
	sess.mu.Lock()
	snap := Snapshot{
		ID:           sess.id,
		Config:       sess.config,
		FEN:          sess.fen,
		Moves:        append([]string(nil), sess.moves...),
		Status:       sess.status,
		Winner:       sess.winner,
		Mover:        sess.mover,
		WhiteSeconds: sess.white,
		BlackSeconds: sess.black,
		CreatedBy:    sess.createdBy,
		CreatedAt:    sess.createdAt,
	}
	sess.mu.Unlock()

	if white, black, ok := s.timers.Remaining(snap.ID); ok {
		snap.WhiteSeconds = white
		snap.BlackSeconds = black
	}
	return snap
}
