package server

import (
	"context"
	"errors"

	"github.com/castled-chess/castled/internal/game"
	"github.com/castled-chess/castled/internal/pipeline"
	"github.com/castled-chess/castled/internal/rules"
	"github.com/castled-chess/castled/pkg/logging"
	"go.uber.org/zap"
)

type joinData struct {
	GameID string `json:"gameId"`
}

type moveData struct {
	GameID    string `json:"gameId"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

type resignData struct {
	GameID string `json:"gameId"`
	Color  string `json:"color"`
}

// Handler for every inbound socket message.
func (s *server) handleMessage(c *client, p payload) {
	switch p.Type {
	case "join":
		data, err := decode[joinData](p.Data)
		if err != nil || data.GameID == "" {
			c.send("move_error", map[string]any{"reason": "bad join payload"})
			return
		}
		s.hub.join(data.GameID, c)
		c.send("joined", map[string]any{"gameId": data.GameID})

	case "leave":
		data, err := decode[joinData](p.Data)
		if err != nil {
			return
		}
		s.hub.leave(data.GameID, c)

	case "move":
		data, err := decode[moveData](p.Data)
		if err != nil {
			c.send("move_error", map[string]any{"reason": "bad move payload"})
			return
		}
		s.handleMove(c, data)

	case "request_ai_move":
		data, err := decode[joinData](p.Data)
		if err != nil {
			return
		}
		if err := s.pipe.RequestAIMove(context.Background(), data.GameID); err != nil {
			c.send("move_error", map[string]any{"reason": userReason(err)})
		}

	case "resign":
		data, err := decode[resignData](p.Data)
		if err != nil {
			return
		}
		color := rules.Color(data.Color)
		if color != rules.White && color != rules.Black {
			c.send("move_error", map[string]any{"reason": "bad color"})
			return
		}
		if err := s.store.Resign(data.GameID, color); err != nil {
			c.send("move_error", map[string]any{"reason": userReason(err)})
			return
		}
		s.hub.Broadcast(data.GameID, "game_resigned", map[string]any{"color": color})

	default:
		logging.Info("invalid payload type", zap.String("type", p.Type))
	}
}

// handleMove applies a client move and, when the turn passes to an AI side,
// enqueues that side's job. Follow-ups in AI-vs-AI play are scheduled by the
// pipeline's continuation, not here.
func (s *server) handleMove(c *client, data moveData) {
	if _, err := s.playMove(data.GameID, data.From, data.To, data.Promotion); err != nil {
		c.send("move_error", map[string]any{"reason": userReason(err)})
	}
}

// userReason turns an error into the human-readable text carried by
// move_error events.
func userReason(err error) string {
	var illegal *rules.IllegalMoveError
	switch {
	case errors.As(err, &illegal):
		return illegal.Reason
	case errors.Is(err, game.ErrGameNotFound):
		return "game not found"
	case errors.Is(err, game.ErrGameNotActive):
		return "game is not active"
	case errors.Is(err, pipeline.ErrNotAITurn):
		return "current player is not AI"
	default:
		return err.Error()
	}
}
