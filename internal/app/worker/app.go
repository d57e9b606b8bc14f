package worker

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/castled-chess/castled/internal/provider"
	"github.com/castled-chess/castled/internal/queue"
	"github.com/castled-chess/castled/internal/worker"
	"github.com/castled-chess/castled/pkg/logging"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type App struct {
	cfg  Config
	pool *worker.Pool
	q    *queue.Queue
}

func NewApp() *App {
	cfg := NewConfig()
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	q := queue.New(rdb, clockwork.NewRealClock())

	reg := provider.NewRegistry(provider.Settings{
		OpenAIKey:     cfg.OpenAIKey,
		GeminiKey:     cfg.GeminiKey,
		StockfishPath: cfg.StockfishPath,
		HTTPTimeout:   cfg.ProviderTimeout,
	})

	live, err := newLivenessClient(cfg.GatewayURL)
	if err != nil {
		logging.Fatal("couldn't build gateway client", zap.Error(err))
	}

	pool := worker.NewPool(q, reg, live, worker.Config{
		Concurrency:     cfg.Concurrency,
		JobsPerSecond:   cfg.JobsPerSecond,
		ProviderTimeout: cfg.ProviderTimeout,
	})

	return &App{cfg: cfg, pool: pool, q: q}
}

// Start runs the pool until SIGINT or SIGTERM. The broker must be reachable
// at startup; a worker that cannot dequeue is useless.
func (a *App) Start() error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	if err := a.q.Ping(ctx); err != nil {
		return err
	}

	logging.Info("worker started",
		zap.Int("concurrency", a.cfg.Concurrency),
		zap.String("gateway", a.cfg.GatewayURL),
	)
	return a.pool.Run(ctx)
}
