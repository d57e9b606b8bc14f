// Package rules wraps the chess rules library behind the narrow contract the
// rest of the system consumes: legality checks, move application with terminal
// detection, and notation generation. Positions travel as FEN strings so callers
// never hold live library state.
package rules

import (
	"fmt"

	"github.com/notnil/chess"
)

type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// Result describes an accepted move and the position it produced.
type Result struct {
	From      string
	To        string
	Promotion string
	SAN       string
	UCI       string
	NewFEN    string
	Checkmate bool
	Stalemate bool
	Draw      bool
}

func (r Result) Terminal() bool {
	return r.Checkmate || r.Stalemate || r.Draw
}

// Piece identifies what stands on a square.
type Piece struct {
	Color Color
	Kind  string
}

func StartingFEN() string {
	return chess.NewGame().FEN()
}

func gameFromFEN(fen string) (*chess.Game, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("bad position: %w", err)
	}
	return chess.NewGame(opt, chess.UseNotation(chess.UCINotation{})), nil
}

func Turn(fen string) (Color, error) {
	g, err := gameFromFEN(fen)
	if err != nil {
		return "", err
	}
	return colorOf(g.Position().Turn()), nil
}

func colorOf(c chess.Color) Color {
	if c == chess.White {
		return White
	}
	return Black
}

func parseSquare(s string) (chess.Square, bool) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return chess.NoSquare, false
	}
	return chess.Square(int(s[1]-'1')*8 + int(s[0]-'a')), true
}

func pieceKind(t chess.PieceType) string {
	switch t {
	case chess.Pawn:
		return "pawn"
	case chess.Knight:
		return "knight"
	case chess.Bishop:
		return "bishop"
	case chess.Rook:
		return "rook"
	case chess.Queen:
		return "queen"
	case chess.King:
		return "king"
	}
	return ""
}

func promoType(letter string) (chess.PieceType, bool) {
	switch letter {
	case "", "q":
		return chess.Queen, letter != ""
	case "r":
		return chess.Rook, true
	case "b":
		return chess.Bishop, true
	case "n":
		return chess.Knight, true
	}
	return chess.NoPieceType, false
}

// PieceAt reports the piece standing on square, if any.
func PieceAt(fen, square string) (Piece, bool, error) {
	g, err := gameFromFEN(fen)
	if err != nil {
		return Piece{}, false, err
	}
	sq, ok := parseSquare(square)
	if !ok {
		return Piece{}, false, fmt.Errorf("bad square %q", square)
	}
	p := g.Position().Board().Piece(sq)
	if p == chess.NoPiece {
		return Piece{}, false, nil
	}
	return Piece{Color: colorOf(p.Color()), Kind: pieceKind(p.Type())}, true, nil
}

// LegalMoves lists legal moves in the position. With a square it returns the
// destination squares reachable from there; without, the SAN of every move.
func LegalMoves(fen, square string) ([]string, error) {
	g, err := gameFromFEN(fen)
	if err != nil {
		return nil, err
	}
	pos := g.Position()
	moves := pos.ValidMoves()
	out := make([]string, 0, len(moves))
	if square == "" {
		for _, m := range moves {
			out = append(out, chess.AlgebraicNotation{}.Encode(pos, m))
		}
		return out, nil
	}
	from, ok := parseSquare(square)
	if !ok {
		return nil, fmt.Errorf("bad square %q", square)
	}
	for _, m := range moves {
		if m.S1() == from {
			out = append(out, m.S2().String())
		}
	}
	return out, nil
}

// LegalMovesUCI lists every legal move in compact UCI form. Used when building
// provider prompts.
func LegalMovesUCI(fen string) ([]string, error) {
	g, err := gameFromFEN(fen)
	if err != nil {
		return nil, err
	}
	pos := g.Position()
	moves := pos.ValidMoves()
	out := make([]string, 0, len(moves))
	for _, m := range moves {
		out = append(out, chess.UCINotation{}.Encode(pos, m))
	}
	return out, nil
}

// ApplyMove validates and applies a move to the position. Failures carry a
// diagnostic reason through IllegalMoveError.
func ApplyMove(fen, from, to, promotion string) (Result, error) {
	g, err := gameFromFEN(fen)
	if err != nil {
		return Result{}, err
	}
	pos := g.Position()

	fromSq, ok := parseSquare(from)
	if !ok {
		return Result{}, &IllegalMoveError{Reason: fmt.Sprintf("bad source square %q", from)}
	}
	if _, ok := parseSquare(to); !ok {
		return Result{}, &IllegalMoveError{Reason: fmt.Sprintf("bad target square %q", to)}
	}
	promo, hasPromo := promoType(promotion)
	if promotion != "" && !hasPromo {
		return Result{}, &IllegalMoveError{Reason: fmt.Sprintf("bad promotion piece %q", promotion)}
	}

	var chosen *chess.Move
	for _, m := range pos.ValidMoves() {
		if m.S1().String() != from || m.S2().String() != to {
			continue
		}
		if m.Promo() != chess.NoPieceType {
			if hasPromo && m.Promo() != promo {
				continue
			}
			if !hasPromo && m.Promo() != chess.Queen {
				continue // default promotion piece
			}
		}
		chosen = m
		break
	}
	if chosen == nil {
		return Result{}, &IllegalMoveError{Reason: illegalReason(pos, fromSq)}
	}

	san := chess.AlgebraicNotation{}.Encode(pos, chosen)
	uci := chess.UCINotation{}.Encode(pos, chosen)
	if err := g.Move(chosen); err != nil {
		return Result{}, &IllegalMoveError{Reason: err.Error()}
	}

	// Threefold repetition needs to be claimed; treat it as an automatic draw
	// the way every client expects.
	if g.Outcome() == chess.NoOutcome {
		for _, m := range g.EligibleDraws() {
			if m == chess.ThreefoldRepetition {
				_ = g.Draw(m)
			}
		}
	}

	res := Result{
		From:      from,
		To:        to,
		Promotion: promoLetter(chosen.Promo()),
		SAN:       san,
		UCI:       uci,
		NewFEN:    g.FEN(),
	}
	switch {
	case g.Method() == chess.Checkmate:
		res.Checkmate = true
	case g.Method() == chess.Stalemate:
		res.Stalemate = true
	case g.Outcome() == chess.Draw:
		res.Draw = true
	}
	return res, nil
}

func promoLetter(t chess.PieceType) string {
	switch t {
	case chess.Queen:
		return "q"
	case chess.Rook:
		return "r"
	case chess.Bishop:
		return "b"
	case chess.Knight:
		return "n"
	}
	return ""
}

func illegalReason(pos *chess.Position, from chess.Square) string {
	p := pos.Board().Piece(from)
	switch {
	case p == chess.NoPiece:
		return "no piece on the source square"
	case p.Color() != pos.Turn():
		return fmt.Sprintf("it is %s's turn", colorOf(pos.Turn()))
	default:
		return fmt.Sprintf("the %s cannot move there", pieceKind(p.Type()))
	}
}

// PGN renders a SAN move history as a portable game notation document.
func PGN(history []string) (string, error) {
	g := chess.NewGame()
	for _, san := range history {
		if err := g.MoveStr(san); err != nil {
			return "", fmt.Errorf("replaying %q: %w", san, err)
		}
	}
	return g.String(), nil
}
