// Package clock owns one countdown per active game. Ticks are drift-corrected:
// each tick decrements by the elapsed wall-clock whole seconds rather than
// assuming exactly one second passed.
package clock

import (
	"sync"
	"time"

	"github.com/castled-chess/castled/internal/rules"
	"github.com/castled-chess/castled/pkg/logging"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Notifier receives clock events. Timeout fires at most once per game; the
// timer stops itself before delivering it.
type Notifier interface {
	TimerUpdate(gameID string, whiteSeconds, blackSeconds int, mover rules.Color)
	Timeout(gameID string, loser rules.Color)
}

type timer struct {
	gameID   string
	white    int
	black    int
	mover    rules.Color
	lastTick time.Time
	paused   bool
	stopped  bool
	done     chan struct{}
}

type Service struct {
	clk      clockwork.Clock
	notifier Notifier

	mu     sync.Mutex
	timers map[string]*timer
}

func NewService(clk clockwork.Clock) *Service {
	return &Service{
		clk:    clk,
		timers: make(map[string]*timer),
	}
}

func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// Start replaces any running timer for the game.
func (s *Service) Start(gameID string, whiteSeconds, blackSeconds int, mover rules.Color) {
	s.mu.Lock()
	if old, ok := s.timers[gameID]; ok {
		s.stopLocked(old)
	}
	t := &timer{
		gameID:   gameID,
		white:    whiteSeconds,
		black:    blackSeconds,
		mover:    mover,
		lastTick: s.clk.Now(),
		done:     make(chan struct{}),
	}
	s.timers[gameID] = t
	s.mu.Unlock()

	go s.run(t)
	logging.Info("timer started", zap.String("game_id", gameID))
}

func (s *Service) run(t *timer) {
	ticker := s.clk.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.Chan():
			s.tick(t)
		}
	}
}

func (s *Service) tick(t *timer) {
	s.mu.Lock()
	if t.stopped || t.paused {
		s.mu.Unlock()
		return
	}
	now := s.clk.Now()
	elapsed := int(now.Sub(t.lastTick) / time.Second)
	if elapsed < 1 {
		s.mu.Unlock()
		return
	}
	if t.mover == rules.White {
		t.white = max(0, t.white-elapsed)
	} else {
		t.black = max(0, t.black-elapsed)
	}
	t.lastTick = now

	white, black, mover := t.white, t.black, t.mover
	var loser rules.Color
	timedOut := false
	if t.mover == rules.White && t.white == 0 {
		timedOut, loser = true, rules.White
	} else if t.mover == rules.Black && t.black == 0 {
		timedOut, loser = true, rules.Black
	}
	if timedOut {
		// Halt the countdown but leave the entry registered until the
		// notifier has run, so Remaining still answers for the handler
		// recording the result.
		t.stopped = true
		close(t.done)
	}
	s.mu.Unlock()

	if s.notifier != nil {
		s.notifier.TimerUpdate(t.gameID, white, black, mover)
		if timedOut {
			logging.Info("flag fell",
				zap.String("game_id", t.gameID),
				zap.String("loser", string(loser)),
			)
			s.notifier.Timeout(t.gameID, loser)
		}
	}

	if timedOut {
		s.mu.Lock()
		if s.timers[t.gameID] == t {
			delete(s.timers, t.gameID)
		}
		s.mu.Unlock()
		logging.Info("timer stopped", zap.String("game_id", t.gameID))
	}
}

// SwitchMover hands the running clock to the other side. Remaining seconds
// are untouched; only the elapsed-delta anchor resets.
func (s *Service) SwitchMover(gameID string, mover rules.Color) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[gameID]
	if !ok {
		return
	}
	t.mover = mover
	t.lastTick = s.clk.Now()
}

func (s *Service) Pause(gameID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[gameID]; ok {
		t.paused = true
	}
}

func (s *Service) Resume(gameID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[gameID]; ok {
		t.paused = false
		t.lastTick = s.clk.Now()
	}
}

// Stop cancels the timer. Safe to call any number of times.
func (s *Service) Stop(gameID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[gameID]; ok {
		s.stopLocked(t)
	}
}

func (s *Service) stopLocked(t *timer) {
	if t.stopped {
		return
	}
	t.stopped = true
	close(t.done)
	delete(s.timers, t.gameID)
	logging.Info("timer stopped", zap.String("game_id", t.gameID))
}

func (s *Service) Remaining(gameID string) (white, black int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, found := s.timers[gameID]
	if !found {
		return 0, 0, false
	}
	return t.white, t.black, true
}

// Running reports whether a timer exists for the game.
func (s *Service) Running(gameID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[gameID]
	return ok
}
