package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/castled-chess/castled/internal/game"
	"github.com/castled-chess/castled/internal/pipeline"
	"github.com/castled-chess/castled/internal/rules"
	"github.com/castled-chess/castled/pkg/pgn"
)

// The HTTP surface is a thin adapter over the store and pipeline; all the
// real work happens behind those.
func (s *server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/ai-models", s.handleModels)
	mux.HandleFunc("POST /api/games", s.withAuth(s.handleCreate))
	mux.HandleFunc("GET /api/games", s.handleList)
	mux.HandleFunc("GET /api/games/{gameId}", s.handleGet)
	mux.HandleFunc("POST /api/games/{gameId}/move", s.handleMoveHTTP)
	mux.HandleFunc("POST /api/games/{gameId}/ai-move", s.handleAIMove)
	mux.HandleFunc("POST /api/games/{gameId}/resign", s.withAuth(s.handleResign))
	mux.HandleFunc("GET /api/games/{gameId}/legal-moves", s.handleLegalMoves)
	mux.HandleFunc("GET /api/games/{gameId}/pgn", s.handlePGN)
	mux.HandleFunc("GET /api/games/{gameId}/analysis", s.handleAnalysis)
	mux.HandleFunc("DELETE /api/games/{gameId}", s.withAuth(s.handleDelete))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, game.ErrGameNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func (s *server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": s.registry.Models()})
}

func (s *server) handleCreate(w http.ResponseWriter, r *http.Request, userID string) {
	var body struct {
		Config game.Config `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	snap := s.store.Create(body.Config, userID)
	writeJSON(w, http.StatusCreated, map[string]any{"game": snap})
}

func (s *server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"games": s.store.List()})
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Get(r.PathValue("gameId"))
	if err != nil {
		writeError(w, http.StatusNotFound, "game not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"game": snap})
}

func (s *server) handleMoveHTTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		From      string `json:"from"`
		To        string `json:"to"`
		Promotion string `json:"promotion,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	res, err := s.playMove(r.PathValue("gameId"), body.From, body.To, body.Promotion)
	if err != nil {
		writeError(w, statusFor(err), userReason(err))
		return
	}
	writeJSON(w, http.StatusOK, pipeline.MovePayload(res))
}

func (s *server) handleAIMove(w http.ResponseWriter, r *http.Request) {
	if err := s.pipe.RequestAIMove(r.Context(), r.PathValue("gameId")); err != nil {
		writeError(w, statusFor(err), userReason(err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "AI move requested"})
}

func (s *server) handleResign(w http.ResponseWriter, r *http.Request, _ string) {
	var body struct {
		Color string `json:"color"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	color := rules.Color(body.Color)
	if color != rules.White && color != rules.Black {
		writeError(w, http.StatusBadRequest, "bad color")
		return
	}
	gameID := r.PathValue("gameId")
	if err := s.store.Resign(gameID, color); err != nil {
		writeError(w, statusFor(err), userReason(err))
		return
	}
	s.hub.Broadcast(gameID, "game_resigned", map[string]any{"color": color})
	writeJSON(w, http.StatusOK, map[string]string{"message": "game resigned"})
}

func (s *server) handleLegalMoves(w http.ResponseWriter, r *http.Request) {
	moves, err := s.store.LegalMoves(r.PathValue("gameId"), r.URL.Query().Get("square"))
	if err != nil {
		writeError(w, statusFor(err), userReason(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"moves": moves})
}

func (s *server) handlePGN(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Get(r.PathValue("gameId"))
	if err != nil {
		writeError(w, http.StatusNotFound, "game not found")
		return
	}
	text, err := rules.PGN(snap.Moves)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

func (s *server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis engine unavailable")
		return
	}
	snap, err := s.store.Get(r.PathValue("gameId"))
	if err != nil {
		writeError(w, http.StatusNotFound, "game not found")
		return
	}
	fen := snap.FEN
	// ?move=N analyses the position after the Nth move instead of the
	// current one.
	if q := r.URL.Query().Get("move"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > len(snap.Moves) {
			writeError(w, http.StatusBadRequest, "bad move number")
			return
		}
		text, err := rules.PGN(snap.Moves)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		fens, err := pgn.Fens(text)
		if err != nil || n > len(fens) {
			writeError(w, http.StatusInternalServerError, "failed to replay game")
			return
		}
		fen = fens[n-1]
	}
	depth := s.config.AnalysisDepth
	if q := r.URL.Query().Get("depth"); q != "" {
		if d, err := strconv.Atoi(q); err == nil && d > 0 && d <= 30 {
			depth = d
		}
	}
	analysis, err := s.analyzer.Analyze(fen, depth)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"analysis": analysis})
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request, _ string) {
	if err := s.store.Delete(r.PathValue("gameId")); err != nil {
		writeError(w, http.StatusNotFound, "game not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "game deleted"})
}

// playMove is the shared entry for socket and HTTP moves: apply through the
// store, announce to the room, and enqueue the reply when the turn lands on
// an AI side.
func (s *server) playMove(gameID, from, to, promotion string) (rules.Result, error) {
	res, err := s.store.ApplyMove(gameID, from, to, promotion)
	if err != nil {
		return rules.Result{}, err
	}
	s.hub.Broadcast(gameID, "move_made", pipeline.MovePayload(res))

	snap, err := s.store.Get(gameID)
	if err != nil || snap.Status != game.StatusActive {
		return res, nil
	}
	if snap.Config.Player(snap.Mover).Kind == game.PlayerAI {
		if err := s.pipe.RequestAIMove(context.Background(), gameID); err != nil &&
			!errors.Is(err, pipeline.ErrNotAITurn) {
			return res, nil
		}
	}
	return res, nil
}
