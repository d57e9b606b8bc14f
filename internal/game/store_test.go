package game

import (
	"sync"
	"testing"
	"time"

	"github.com/castled-chess/castled/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTimers struct {
	mu       sync.Mutex
	started  []string
	switched []rules.Color
	stopped  int

	remWhite, remBlack int
	remOK              bool
}

func (s *stubTimers) Start(gameID string, white, black int, mover rules.Color) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, gameID)
}

func (s *stubTimers) SwitchMover(gameID string, mover rules.Color) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.switched = append(s.switched, mover)
}

func (s *stubTimers) Stop(gameID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
}

func (s *stubTimers) Remaining(gameID string) (int, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped > 0 {
		return 0, 0, false
	}
	return s.remWhite, s.remBlack, s.remOK
}

type stubScheduler struct {
	mu        sync.Mutex
	scheduled []string
	canceled  []string
}

func (s *stubScheduler) ScheduleAIMove(gameID string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, gameID)
}

func (s *stubScheduler) CancelAIMove(gameID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = append(s.canceled, gameID)
}

type terminalCall struct {
	snap   Snapshot
	reason string
}

func newTestStore() (*Store, *stubTimers, *stubScheduler, *[]terminalCall) {
	timers := &stubTimers{}
	sched := &stubScheduler{}
	store := NewStore(timers)
	store.SetScheduler(sched)
	calls := &[]terminalCall{}
	var mu sync.Mutex
	store.OnTerminal(func(snap Snapshot, reason string) {
		mu.Lock()
		defer mu.Unlock()
		*calls = append(*calls, terminalCall{snap: snap, reason: reason})
	})
	return store, timers, sched, calls
}

func humanVsAI() Config {
	return Config{
		White: PlayerConfig{Kind: PlayerHuman},
		Black: PlayerConfig{Kind: PlayerAI, Provider: "Stockfish", Difficulty: DifficultyBeginner},
	}
}

func TestCreateDefaults(t *testing.T) {
	store, timers, _, _ := newTestStore()

	snap := store.Create(Config{}, "user-1")
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, StatusActive, snap.Status)
	assert.Equal(t, rules.White, snap.Mover)
	assert.Equal(t, TypeNormal, snap.Config.GameType)
	assert.Equal(t, PlayerHuman, snap.Config.White.Kind)
	assert.Equal(t, PlayerHuman, snap.Config.Black.Kind)
	assert.Equal(t, 3600, snap.WhiteSeconds)
	assert.Equal(t, "user-1", snap.CreatedBy)
	assert.Empty(t, snap.Moves)
	assert.Len(t, timers.started, 1)
}

func TestCreateBothAISchedulesOpeningMove(t *testing.T) {
	store, _, sched, _ := newTestStore()

	cfg := Config{
		White: PlayerConfig{Kind: PlayerAI, Provider: "Stockfish"},
		Black: PlayerConfig{Kind: PlayerAI, Provider: "ChatGPT-3.5"},
	}
	snap := store.Create(cfg, "")
	require.Len(t, sched.scheduled, 1)
	assert.Equal(t, snap.ID, sched.scheduled[0])
}

func TestApplyMoveFlipsMoverAndAppendsHistory(t *testing.T) {
	store, timers, _, _ := newTestStore()
	snap := store.Create(humanVsAI(), "u")

	res, err := store.ApplyMove(snap.ID, "e2", "e4", "")
	require.NoError(t, err)
	assert.Equal(t, "e4", res.SAN)

	got, err := store.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, rules.Black, got.Mover)
	assert.Equal(t, []string{"e4"}, got.Moves)
	assert.Equal(t, res.NewFEN, got.FEN)
	assert.Equal(t, []rules.Color{rules.Black}, timers.switched)
}

func TestApplyMoveRejectsIllegal(t *testing.T) {
	store, _, _, _ := newTestStore()
	snap := store.Create(humanVsAI(), "u")

	_, err := store.ApplyMove(snap.ID, "e2", "e6", "")
	var illegal *rules.IllegalMoveError
	require.ErrorAs(t, err, &illegal)

	got, err := store.Get(snap.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Moves)
	assert.Equal(t, rules.White, got.Mover)
}

func TestApplyMoveCheckmateEndsGame(t *testing.T) {
	store, timers, _, calls := newTestStore()
	snap := store.Create(humanVsAI(), "u")

	for _, mv := range [][2]string{
		{"f2", "f3"}, {"e7", "e5"}, {"g2", "g4"}, {"d8", "h4"},
	} {
		_, err := store.ApplyMove(snap.ID, mv[0], mv[1], "")
		require.NoError(t, err)
	}

	got, err := store.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, WinnerBlack, got.Winner)

	require.Len(t, *calls, 1)
	assert.Equal(t, "checkmate", (*calls)[0].reason)
	assert.Equal(t, 1, timers.stopped)

	_, err = store.ApplyMove(snap.ID, "a2", "a3", "")
	assert.ErrorIs(t, err, ErrGameNotActive)
}

func TestResign(t *testing.T) {
	store, _, _, calls := newTestStore()
	snap := store.Create(humanVsAI(), "u")

	require.NoError(t, store.Resign(snap.ID, rules.White))

	got, err := store.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusResigned, got.Status)
	assert.Equal(t, WinnerBlack, got.Winner)
	require.Len(t, *calls, 1)
	assert.Equal(t, "resignation", (*calls)[0].reason)

	assert.ErrorIs(t, store.Resign(snap.ID, rules.Black), ErrGameNotActive)
}

func TestTimeoutFiresTerminalOnce(t *testing.T) {
	store, _, _, calls := newTestStore()
	snap := store.Create(humanVsAI(), "u")

	require.NoError(t, store.Timeout(snap.ID, rules.Black))
	assert.ErrorIs(t, store.Timeout(snap.ID, rules.Black), ErrGameNotActive)

	got, err := store.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, WinnerWhite, got.Winner)
	require.Len(t, *calls, 1)
	assert.Equal(t, "timeout", (*calls)[0].reason)
}

func TestResignKeepsFinalClocks(t *testing.T) {
	store, timers, _, _ := newTestStore()
	snap := store.Create(humanVsAI(), "u")

	timers.mu.Lock()
	timers.remWhite, timers.remBlack, timers.remOK = 42, 37, true
	timers.mu.Unlock()

	require.NoError(t, store.Resign(snap.ID, rules.White))

	got, err := store.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, got.WhiteSeconds)
	assert.Equal(t, 37, got.BlackSeconds)
}

func TestTimeoutZeroesLoserClock(t *testing.T) {
	store, timers, _, _ := newTestStore()
	snap := store.Create(humanVsAI(), "u")

	timers.mu.Lock()
	timers.remWhite, timers.remBlack, timers.remOK = 42, 1, true
	timers.mu.Unlock()

	require.NoError(t, store.Timeout(snap.ID, rules.Black))

	got, err := store.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, got.WhiteSeconds)
	assert.Equal(t, 0, got.BlackSeconds)
}

func TestDelete(t *testing.T) {
	store, timers, _, calls := newTestStore()
	snap := store.Create(humanVsAI(), "u")

	require.NoError(t, store.Delete(snap.ID))
	assert.Equal(t, 1, timers.stopped)
	assert.Empty(t, *calls)

	_, err := store.Get(snap.ID)
	assert.ErrorIs(t, err, ErrGameNotFound)
	_, err = store.ApplyMove(snap.ID, "e2", "e4", "")
	assert.ErrorIs(t, err, ErrGameNotFound)
	assert.ErrorIs(t, store.Delete(snap.ID), ErrGameNotFound)
}

func TestDeleteCancelsScheduledAIMove(t *testing.T) {
	store, _, sched, _ := newTestStore()
	cfg := Config{
		White: PlayerConfig{Kind: PlayerAI, Provider: "Stockfish"},
		Black: PlayerConfig{Kind: PlayerAI, Provider: "ChatGPT-3.5"},
	}
	snap := store.Create(cfg, "")

	require.NoError(t, store.Delete(snap.ID))

	sched.mu.Lock()
	defer sched.mu.Unlock()
	assert.Equal(t, []string{snap.ID}, sched.canceled)
}

func TestListSnapshotsAreCopies(t *testing.T) {
	store, _, _, _ := newTestStore()
	a := store.Create(humanVsAI(), "u")
	b := store.Create(humanVsAI(), "u")

	all := store.List()
	require.Len(t, all, 2)

	_, err := store.ApplyMove(a.ID, "e2", "e4", "")
	require.NoError(t, err)

	for _, snap := range all {
		assert.Empty(t, snap.Moves)
	}
	_ = b
}

func TestLegalMovesTracksPosition(t *testing.T) {
	store, _, _, _ := newTestStore()
	snap := store.Create(humanVsAI(), "u")

	moves, err := store.LegalMoves(snap.ID, "e2")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"e3", "e4"}, moves)

	_, err = store.ApplyMove(snap.ID, "e2", "e4", "")
	require.NoError(t, err)

	moves, err = store.LegalMoves(snap.ID, "e2")
	require.NoError(t, err)
	assert.Empty(t, moves)
}
