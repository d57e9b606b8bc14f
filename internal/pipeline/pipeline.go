// Package pipeline glues the session store, the job queue and the realtime
// gateway together on the gateway side: it enqueues AI-move jobs, applies
// worker results through the store's single-writer path, and owns the
// scheduling of follow-up moves in AI-vs-AI games.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/castled-chess/castled/internal/game"
	"github.com/castled-chess/castled/internal/queue"
	"github.com/castled-chess/castled/internal/rules"
	"github.com/castled-chess/castled/pkg/logging"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var ErrNotAITurn = errors.New("current player is not AI")

// Broadcaster fans an event out to every client watching a game.
type Broadcaster interface {
	Broadcast(gameID, event string, payload any)
}

const continuationDelay = 2500 * time.Millisecond

type Pipeline struct {
	store *game.Store
	queue *queue.Queue
	bc    Broadcaster
	clk   clockwork.Clock

	mu            sync.Mutex
	continuations map[string]clockwork.Timer
}

func New(store *game.Store, q *queue.Queue, bc Broadcaster, clk clockwork.Clock) *Pipeline {
	p := &Pipeline{
		store:         store,
		queue:         q,
		bc:            bc,
		clk:           clk,
		continuations: make(map[string]clockwork.Timer),
	}
	store.SetScheduler(p)
	store.OnTerminal(p.handleTerminal)
	return p
}

// RequestAIMove enqueues a job for the game's current mover. Duplicate
// suppression lives in the queue: a game with an outstanding job no-ops.
func (p *Pipeline) RequestAIMove(ctx context.Context, gameID string) error {
	snap, err := p.store.Get(gameID)
	if err != nil {
		return err
	}
	if snap.Status != game.StatusActive {
		return game.ErrGameNotActive
	}
	pc := snap.Config.Player(snap.Mover)
	if pc.Kind != game.PlayerAI {
		return ErrNotAITurn
	}

	enqueued, err := p.queue.Enqueue(ctx, queue.Job{
		GameID:      gameID,
		FEN:         snap.FEN,
		Provider:    pc.Provider,
		Difficulty:  string(pc.Difficulty),
		MoveHistory: snap.Moves,
	})
	if err != nil {
		return err
	}
	if enqueued {
		p.bc.Broadcast(gameID, "ai_thinking", map[string]any{"mover": snap.Mover})
	}
	return nil
}

// ScheduleAIMove arms a cancellable one-shot request. A newer schedule for
// the same game replaces the old one; terminal transitions cancel it.
func (p *Pipeline) ScheduleAIMove(gameID string, delay time.Duration) {
	p.mu.Lock()
	if old, ok := p.continuations[gameID]; ok {
		old.Stop()
	}
	p.continuations[gameID] = p.clk.AfterFunc(delay, func() {
		p.mu.Lock()
		delete(p.continuations, gameID)
		p.mu.Unlock()
		// The session may have ended between scheduling and firing;
		// RequestAIMove re-checks liveness.
		if err := p.RequestAIMove(context.Background(), gameID); err != nil &&
			!errors.Is(err, game.ErrGameNotFound) && !errors.Is(err, game.ErrGameNotActive) {
			logging.Error("scheduled AI move failed",
				zap.String("game_id", gameID),
				zap.Error(err),
			)
		}
	})
	p.mu.Unlock()
}

// CancelAIMove drops any scheduled request for the game. Called by the store
// on delete; terminal transitions cancel through handleTerminal.
func (p *Pipeline) CancelAIMove(gameID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.continuations[gameID]; ok {
		t.Stop()
		delete(p.continuations, gameID)
	}
}

// Run consumes worker results and failure events until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	results, stopResults := p.queue.SubscribeResults(ctx)
	events, stopEvents := p.queue.SubscribeEvents(ctx)
	defer stopResults()
	defer stopEvents()

	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			p.applyResult(res)
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.handleEvent(ev)
		}
	}
}

// applyResult routes a worker move through the same mutating path as a human
// move, broadcasts it, and schedules the continuation when both sides are AI.
func (p *Pipeline) applyResult(res queue.Result) {
	mv, err := p.store.ApplyMove(res.GameID, res.From, res.To, res.Promotion)
	if err != nil {
		var illegal *rules.IllegalMoveError
		switch {
		case errors.Is(err, game.ErrGameNotFound), errors.Is(err, game.ErrGameNotActive):
			logging.Info("dropping result for inactive game",
				zap.String("game_id", res.GameID),
			)
		case errors.As(err, &illegal):
			// Validated against a snapshot, rejected against current state;
			// means the position moved underneath the job.
			logging.Warn("worker move no longer legal",
				zap.String("game_id", res.GameID),
				zap.String("reason", illegal.Reason),
			)
			p.bc.Broadcast(res.GameID, "move_error", map[string]any{"reason": illegal.Reason})
		default:
			logging.Error("applying worker move failed", zap.Error(err))
		}
		return
	}

	p.bc.Broadcast(res.GameID, "move_made", MovePayload(mv))

	snap, err := p.store.Get(res.GameID)
	if err != nil {
		return
	}
	if snap.Status == game.StatusActive && snap.Config.BothAI() {
		p.ScheduleAIMove(res.GameID, continuationDelay)
	}
}

func (p *Pipeline) handleEvent(ev queue.Event) {
	switch ev.Type {
	case "failed":
		p.bc.Broadcast(ev.GameID, "move_error", map[string]any{"reason": ev.Reason})
	case "skipped":
		logging.Info("job skipped",
			zap.String("game_id", ev.GameID),
			zap.String("reason", ev.Reason),
		)
	}
}

// handleTerminal runs once per session leaving the active state: it cancels
// any scheduled continuation, tells watchers, and emits the summary record
// for the external stats store.
func (p *Pipeline) handleTerminal(snap game.Snapshot, reason string) {
	p.CancelAIMove(snap.ID)

	p.bc.Broadcast(snap.ID, "game_ended", map[string]any{
		"winner":      snap.Winner,
		"reason":      reason,
		"moveHistory": snap.Moves,
	})

	rec := buildRecord(snap, reason, p.clk.Now())
	if err := p.queue.PushGameRecord(context.Background(), rec); err != nil {
		logging.Error("pushing game record failed",
			zap.String("game_id", snap.ID),
			zap.Error(err),
		)
	}
}

func buildRecord(snap game.Snapshot, reason string, now time.Time) queue.GameRecord {
	rec := queue.GameRecord{
		GameID:          snap.ID,
		GameType:        string(snap.Config.GameType),
		WhiteKind:       string(snap.Config.White.Kind),
		BlackKind:       string(snap.Config.Black.Kind),
		Winner:          string(snap.Winner),
		Reason:          reason,
		MoveCount:       len(snap.Moves),
		DurationSeconds: int(now.Sub(snap.CreatedAt).Seconds()),
	}
	opponent := snap.Config.Black
	switch {
	case snap.Config.White.Kind == game.PlayerHuman:
		rec.UserColor = "white"
	case snap.Config.Black.Kind == game.PlayerHuman:
		rec.UserColor = "black"
		opponent = snap.Config.White
	}
	rec.OpponentKind = string(opponent.Kind)
	rec.OpponentProvider = opponent.Provider
	return rec
}

// MovePayload is the canonical wire shape of an applied move: both the
// {from,to} pair and the compact UCI code, so either client convention works.
func MovePayload(mv rules.Result) map[string]any {
	return map[string]any{
		"move": map[string]any{
			"from":      mv.From,
			"to":        mv.To,
			"promotion": mv.Promotion,
			"san":       mv.SAN,
			"uci":       mv.UCI,
		},
		"position": mv.NewFEN,
	}
}
