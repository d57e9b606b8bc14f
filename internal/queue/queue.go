// Package queue is the Redis glue between the gateway and the AI-move
// workers: a pending list, a delayed zset for retry backoff, an outstanding
// set enforcing one job per game, and pub/sub channels carrying results back.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/castled-chess/castled/pkg/logging"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPending     = "aimove:pending"
	keyDelayed     = "aimove:delayed"
	keyOutstanding = "aimove:outstanding"
	chanResults    = "aimove:results"
	chanEvents     = "aimove:events"
	keyGameRecords = "stats:games"

	maxAttempts = 3
	backoffBase = 2 * time.Second
)

// Job is one unit of "compute the next AI move for this game". Position and
// history are copies taken at enqueue time, not live references.
type Job struct {
	ID          string    `json:"id"`
	GameID      string    `json:"gameId"`
	FEN         string    `json:"fen"`
	Provider    string    `json:"provider"`
	Difficulty  string    `json:"difficulty"`
	MoveHistory []string  `json:"moveHistory"`
	Attempt     int       `json:"attempt"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
}

// Result is a validated candidate move handed back to the gateway. Workers
// never apply moves themselves.
type Result struct {
	JobID     string `json:"jobId"`
	GameID    string `json:"gameId"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// Event reports a job that produced no move.
type Event struct {
	Type   string `json:"type"` // failed | skipped
	GameID string `json:"gameId"`
	Reason string `json:"reason"`
}

// GameRecord is the termination summary pushed for the external stats store.
type GameRecord struct {
	GameID           string `json:"gameId"`
	GameType         string `json:"gameType"`
	WhiteKind        string `json:"whiteKind"`
	BlackKind        string `json:"blackKind"`
	Winner           string `json:"winner"`
	Reason           string `json:"reason"`
	MoveCount        int    `json:"moveCount"`
	DurationSeconds  int    `json:"durationSeconds"`
	UserColor        string `json:"userColor,omitempty"`
	OpponentKind     string `json:"opponentKind"`
	OpponentProvider string `json:"opponentProvider,omitempty"`
}

type Queue struct {
	rdb *redis.Client
	clk clockwork.Clock
}

func New(rdb *redis.Client, clk clockwork.Clock) *Queue {
	return &Queue{rdb: rdb, clk: clk}
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Enqueue pushes a job unless the game already has one outstanding. The
// second return reports whether the job was accepted.
func (q *Queue) Enqueue(ctx context.Context, job Job) (bool, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Attempt == 0 {
		job.Attempt = 1
	}
	job.EnqueuedAt = q.clk.Now()

	added, err := q.rdb.SAdd(ctx, keyOutstanding, job.GameID).Result()
	if err != nil {
		return false, fmt.Errorf("marking outstanding: %w", err)
	}
	if added == 0 {
		logging.Info("job suppressed, one already outstanding",
			zap.String("game_id", job.GameID),
		)
		return false, nil
	}

	raw, err := json.Marshal(job)
	if err != nil {
		q.releaseOutstanding(ctx, job.GameID)
		return false, err
	}
	if err := q.rdb.LPush(ctx, keyPending, raw).Err(); err != nil {
		// A marker with no job behind it would suppress every later
		// enqueue for the game.
		q.releaseOutstanding(ctx, job.GameID)
		return false, fmt.Errorf("pushing job: %w", err)
	}
	logging.Info("job enqueued",
		zap.String("game_id", job.GameID),
		zap.String("provider", job.Provider),
	)
	return true, nil
}

// Dequeue blocks up to wait for the next job. Returns nil when nothing was
// ready. Due delayed retries are promoted first.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (*Job, error) {
	if err := q.promoteDelayed(ctx); err != nil {
		return nil, err
	}
	vals, err := q.rdb.BRPop(ctx, wait, keyPending).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("popping job: %w", err)
	}
	var job Job
	if err := json.Unmarshal([]byte(vals[1]), &job); err != nil {
		return nil, fmt.Errorf("decoding job: %w", err)
	}
	return &job, nil
}

func (q *Queue) promoteDelayed(ctx context.Context) error {
	now := q.clk.Now().UnixMilli()
	due, err := q.rdb.ZRangeByScore(ctx, keyDelayed, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now),
	}).Result()
	if err != nil {
		return err
	}
	for _, raw := range due {
		if removed, err := q.rdb.ZRem(ctx, keyDelayed, raw).Result(); err != nil || removed == 0 {
			continue // another consumer promoted it
		}
		if err := q.rdb.LPush(ctx, keyPending, raw).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Retry re-schedules a failed job with exponential backoff, or, once the
// attempt budget is spent, publishes a failure event and releases the game's
// outstanding slot. Reports whether the job will run again.
func (q *Queue) Retry(ctx context.Context, job Job, cause error) (bool, error) {
	if job.Attempt >= maxAttempts {
		logging.Error("job exhausted",
			zap.String("game_id", job.GameID),
			zap.Int("attempts", job.Attempt),
			zap.Error(cause),
		)
		if err := q.publishEvent(ctx, Event{
			Type:   "failed",
			GameID: job.GameID,
			Reason: cause.Error(),
		}); err != nil {
			return false, err
		}
		return false, nil
	}

	delay := backoffBase << (job.Attempt - 1)
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return false, err
	}
	readyAt := q.clk.Now().Add(delay).UnixMilli()
	if err := q.rdb.ZAdd(ctx, keyDelayed, redis.Z{Score: float64(readyAt), Member: raw}).Err(); err != nil {
		return false, fmt.Errorf("delaying job: %w", err)
	}
	logging.Info("job retry scheduled",
		zap.String("game_id", job.GameID),
		zap.Int("attempt", job.Attempt),
		zap.Duration("delay", delay),
		zap.Error(cause),
	)
	return true, nil
}

// releaseOutstanding frees a game's outstanding slot. Retried once because a
// stuck marker blocks every future job for the game.
func (q *Queue) releaseOutstanding(ctx context.Context, gameID string) {
	if err := q.rdb.SRem(ctx, keyOutstanding, gameID).Err(); err == nil {
		return
	}
	if err := q.rdb.SRem(ctx, keyOutstanding, gameID).Err(); err != nil {
		logging.Error("outstanding slot stuck",
			zap.String("game_id", gameID),
			zap.Error(err),
		)
	}
}

// PublishResult hands a computed move back to the gateway and releases the
// game's outstanding slot.
func (q *Queue) PublishResult(ctx context.Context, res Result) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	q.releaseOutstanding(ctx, res.GameID)
	return q.rdb.Publish(ctx, chanResults, raw).Err()
}

// PublishSkip reports a job dropped because its session was no longer active.
func (q *Queue) PublishSkip(ctx context.Context, gameID, reason string) error {
	return q.publishEvent(ctx, Event{Type: "skipped", GameID: gameID, Reason: reason})
}

func (q *Queue) publishEvent(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	q.releaseOutstanding(ctx, ev.GameID)
	return q.rdb.Publish(ctx, chanEvents, raw).Err()
}

// HasOutstanding reports whether a job for the game is pending or in flight.
func (q *Queue) HasOutstanding(ctx context.Context, gameID string) (bool, error) {
	return q.rdb.SIsMember(ctx, keyOutstanding, gameID).Result()
}

// SubscribeResults delivers worker results until the returned stop func runs.
func (q *Queue) SubscribeResults(ctx context.Context) (<-chan Result, func()) {
	ps := q.rdb.Subscribe(ctx, chanResults)
	out := make(chan Result)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var res Result
			if err := json.Unmarshal([]byte(msg.Payload), &res); err != nil {
				logging.Error("bad result payload", zap.Error(err))
				continue
			}
			out <- res
		}
	}()
	return out, func() { _ = ps.Close() }
}

// SubscribeEvents delivers failure and skip events.
func (q *Queue) SubscribeEvents(ctx context.Context) (<-chan Event, func()) {
	ps := q.rdb.Subscribe(ctx, chanEvents)
	out := make(chan Event)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logging.Error("bad event payload", zap.Error(err))
				continue
			}
			out <- ev
		}
	}()
	return out, func() { _ = ps.Close() }
}

// PushGameRecord appends a termination record for the external stats store.
func (q *Queue) PushGameRecord(ctx context.Context, rec GameRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, keyGameRecords, raw).Err()
}
