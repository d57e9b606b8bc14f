package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/castled-chess/castled/internal/clock"
	"github.com/castled-chess/castled/internal/game"
	"github.com/castled-chess/castled/internal/pipeline"
	"github.com/castled-chess/castled/internal/provider"
	"github.com/castled-chess/castled/internal/queue"
	"github.com/castled-chess/castled/internal/rules"
	"github.com/castled-chess/castled/pkg/logging"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type server struct {
	address  string
	upgrader websocket.Upgrader
	config   Config

	store    *game.Store
	clocks   *clock.Service
	pipe     *pipeline.Pipeline
	queue    *queue.Queue
	registry *provider.Registry
	analyzer *provider.Analyzer
	hub      *hub
}

type payload struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func NewServer() *server {
	cfg := NewConfig()
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return newServer(cfg, rdb, clockwork.NewRealClock())
}

func newServer(cfg Config, rdb *redis.Client, clk clockwork.Clock) *server {
	clocks := clock.NewService(clk)
	store := game.NewStore(clocks)
	q := queue.New(rdb, clk)
	h := newHub()
	pipe := pipeline.New(store, q, h, clk)

	srv := &server{
		address: "0.0.0.0:" + cfg.Port,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		config:   cfg,
		store:    store,
		clocks:   clocks,
		pipe:     pipe,
		queue:    q,
		registry: provider.NewRegistry(provider.Settings{
			OpenAIKey:     cfg.OpenAIKey,
			GeminiKey:     cfg.GeminiKey,
			StockfishPath: cfg.StockfishPath,
			HTTPTimeout:   cfg.ProviderTimeout,
		}),
		hub: h,
	}
	clocks.SetNotifier(srv)

	if analyzer, err := provider.NewAnalyzer(cfg.StockfishPath); err != nil {
		logging.Warn("analysis disabled, engine unavailable", zap.Error(err))
	} else {
		srv.analyzer = analyzer
	}
	return srv
}

// Start runs the gateway: websocket endpoint, HTTP surface, and the result
// pipeline. Blocks until the listener fails.
func (s *server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.queue.Ping(ctx); err != nil {
		return err
	}
	go s.pipe.Run(ctx)

	logging.Info("game server started", zap.String("port", s.config.Port))
	return http.ListenAndServe(s.address, s.handler())
}

func (s *server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	s.routes(mux)
	return mux
}

func (s *server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer conn.Close()

	c := &client{conn: conn}
	logging.Info("client connected",
		zap.String("remote_address", conn.RemoteAddr().String()),
	)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			s.hub.drop(c)
			logging.Info("connection closed",
				zap.String("remote_address", conn.RemoteAddr().String()),
				zap.Error(err),
			)
			return
		}
		var p payload
		if err := json.Unmarshal(message, &p); err != nil {
			c.send("move_error", map[string]any{"reason": "bad payload"})
			continue
		}
		s.handleMessage(c, p)
	}
}

// TimerUpdate implements clock.Notifier.
func (s *server) TimerUpdate(gameID string, whiteSeconds, blackSeconds int, mover rules.Color) {
	s.hub.Broadcast(gameID, "timer_update", map[string]any{
		"whiteSeconds": whiteSeconds,
		"blackSeconds": blackSeconds,
		"mover":        mover,
	})
}

// Timeout implements clock.Notifier. The store transition gates the
// broadcast so a flag fall is announced at most once.
func (s *server) Timeout(gameID string, loser rules.Color) {
	if err := s.store.Timeout(gameID, loser); err != nil {
		return
	}
	s.hub.Broadcast(gameID, "game_over", map[string]any{
		"reason": "timeout",
		"winner": loser.Opponent(),
	})
}
