// Package worker runs the AI-move pool: it pulls jobs from the queue, runs
// the provider fallback chain, validates every candidate against the rules
// engine, and publishes the result. Workers never mutate game state.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/castled-chess/castled/internal/game"
	"github.com/castled-chess/castled/internal/provider"
	"github.com/castled-chess/castled/internal/queue"
	"github.com/castled-chess/castled/internal/rules"
	"github.com/castled-chess/castled/pkg/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrAllProvidersExhausted = errors.New("all providers exhausted")
	ErrProviderIllegalMove   = errors.New("provider produced an illegal move")
)

// Liveness reports whether a game is currently active. Workers consult it at
// the moment a job runs, not when it was enqueued: the session may have been
// resigned or timed out while the job sat in the queue.
type Liveness interface {
	Active(ctx context.Context, gameID string) (active bool, status string, err error)
}

// Providers resolves provider ids to adapters. Satisfied by
// provider.Registry.
type Providers interface {
	Lookup(id string) (provider.Adapter, bool)
	Engine() provider.Adapter
}

type Config struct {
	Concurrency     int           // parallel jobs
	JobsPerSecond   float64       // upstream-provider protection
	ProviderTimeout time.Duration // hard cap per provider call
	DequeueWait     time.Duration
}

func (c *Config) fill() {
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.JobsPerSecond <= 0 {
		c.JobsPerSecond = 10
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 15 * time.Second
	}
	if c.DequeueWait <= 0 {
		c.DequeueWait = time.Second
	}
}

type Pool struct {
	queue   *queue.Queue
	reg     Providers
	live    Liveness
	cfg     Config
	limiter *rate.Limiter
}

func NewPool(q *queue.Queue, reg Providers, live Liveness, cfg Config) *Pool {
	cfg.fill()
	return &Pool{
		queue:   q,
		reg:     reg,
		live:    live,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.JobsPerSecond), int(cfg.JobsPerSecond)),
	}
}

// Run blocks until ctx is cancelled, dispatching jobs across the pool.
func (p *Pool) Run(ctx context.Context) error {
	jobs := make(chan queue.Job)
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if err := p.limiter.Wait(ctx); err != nil {
					return
				}
				p.process(ctx, job)
			}
		}()
	}

	logging.Info("worker pool started",
		zap.Int("concurrency", p.cfg.Concurrency),
		zap.Float64("jobs_per_second", p.cfg.JobsPerSecond),
	)
	for {
		if ctx.Err() != nil {
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
		job, err := p.queue.Dequeue(ctx, p.cfg.DequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				close(jobs)
				wg.Wait()
				return ctx.Err()
			}
			logging.Error("dequeue failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}
		select {
		case jobs <- *job:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
	}
}

func (p *Pool) process(ctx context.Context, job queue.Job) {
	logging.Info("processing job",
		zap.String("game_id", job.GameID),
		zap.String("provider", job.Provider),
		zap.String("difficulty", job.Difficulty),
		zap.Int("attempt", job.Attempt),
	)

	active, status, err := p.live.Active(ctx, job.GameID)
	if err != nil {
		p.retry(ctx, job, fmt.Errorf("liveness check: %w", err))
		return
	}
	if !active {
		logging.Info("job skipped, game no longer active",
			zap.String("game_id", job.GameID),
			zap.String("status", status),
		)
		if err := p.queue.PublishSkip(ctx, job.GameID, "game is "+status); err != nil {
			logging.Error("publishing skip failed", zap.Error(err))
		}
		return
	}

	mv, err := p.computeMove(ctx, job)
	if err != nil {
		p.retry(ctx, job, err)
		return
	}

	res := queue.Result{
		JobID:     job.ID,
		GameID:    job.GameID,
		From:      mv.From,
		To:        mv.To,
		Promotion: mv.Promotion,
	}
	if err := p.queue.PublishResult(ctx, res); err != nil {
		logging.Error("publishing result failed", zap.Error(err))
		return
	}
	logging.Info("job completed",
		zap.String("game_id", job.GameID),
		zap.String("move", mv.UCI()),
	)
}

func (p *Pool) retry(ctx context.Context, job queue.Job, cause error) {
	if _, err := p.queue.Retry(ctx, job, cause); err != nil {
		logging.Error("scheduling retry failed", zap.Error(err))
	}
}

// computeMove runs the fallback chain: named provider under a hard timeout,
// then the local engine, then one more engine attempt if validation rejected
// the candidate, then a final emergency engine attempt. Whatever comes out
// has passed rules validation.
func (p *Pool) computeMove(ctx context.Context, job queue.Job) (*provider.Move, error) {
	difficulty := game.Difficulty(job.Difficulty)
	var candidate *provider.Move

	if id := provider.CanonicalID(job.Provider); id != provider.EngineID {
		adapter, ok := p.reg.Lookup(id)
		if !ok {
			logging.Warn("unknown provider, using engine",
				zap.String("provider", job.Provider),
			)
		} else {
			tctx, cancel := context.WithTimeout(ctx, p.cfg.ProviderTimeout)
			mv, err := adapter.GetMove(tctx, job.FEN, difficulty, job.MoveHistory)
			cancel()
			switch {
			case err != nil:
				logging.Warn("provider failed, falling back to engine",
					zap.String("provider", id),
					zap.Error(err),
				)
			case mv == nil:
				logging.Warn("provider had no answer, falling back to engine",
					zap.String("provider", id),
				)
			default:
				candidate = mv
			}
		}
	}

	if candidate == nil {
		mv, err := p.engineMove(ctx, job.FEN, difficulty)
		if err != nil {
			mv, err = p.emergencyEngineMove(ctx, job.FEN, difficulty)
			if err != nil {
				return nil, err
			}
		}
		candidate = mv
	}

	if err := validate(job.FEN, candidate); err != nil {
		logging.Warn("candidate rejected by rules engine, retrying with engine",
			zap.String("game_id", job.GameID),
			zap.String("move", candidate.UCI()),
			zap.Error(err),
		)
		mv, engErr := p.engineMove(ctx, job.FEN, difficulty)
		if engErr != nil {
			mv, engErr = p.emergencyEngineMove(ctx, job.FEN, difficulty)
			if engErr != nil {
				return nil, engErr
			}
		}
		if err := validate(job.FEN, mv); err != nil {
			return nil, fmt.Errorf("%w: engine fallback also illegal: %v", ErrAllProvidersExhausted, err)
		}
		candidate = mv
	}
	return candidate, nil
}

func (p *Pool) engineMove(ctx context.Context, fen string, difficulty game.Difficulty) (*provider.Move, error) {
	tctx, cancel := context.WithTimeout(ctx, p.cfg.ProviderTimeout)
	defer cancel()
	mv, err := p.reg.Engine().GetMove(tctx, fen, difficulty, nil)
	if err != nil {
		return nil, err
	}
	if mv == nil {
		return nil, fmt.Errorf("engine had no move")
	}
	return mv, nil
}

func (p *Pool) emergencyEngineMove(ctx context.Context, fen string, difficulty game.Difficulty) (*provider.Move, error) {
	logging.Warn("emergency engine attempt")
	mv, err := p.engineMove(ctx, fen, difficulty)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllProvidersExhausted, err)
	}
	return mv, nil
}

func validate(fen string, mv *provider.Move) error {
	if _, err := rules.ApplyMove(fen, mv.From, mv.To, mv.Promotion); err != nil {
		return fmt.Errorf("%w: %v", ErrProviderIllegalMove, err)
	}
	return nil
}
