package provider

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/castled-chess/castled/internal/game"
)

// EngineParams maps a difficulty onto the engine's skill level and search
// depth.
func EngineParams(d game.Difficulty) (skill, depth int) {
	switch d {
	case game.DifficultyBeginner:
		return 1, 5
	case game.DifficultyAdvanced:
		return 15, 15
	case game.DifficultyMaster:
		return 20, 20
	default: // intermediate
		return 10, 10
	}
}

// Temperature maps a difficulty onto LLM sampling randomness: beginners play
// erratically, masters deterministically.
func Temperature(d game.Difficulty) float64 {
	switch d {
	case game.DifficultyBeginner:
		return 1.0
	case game.DifficultyAdvanced:
		return 0.4
	case game.DifficultyMaster:
		return 0.1
	default:
		return 0.7
	}
}

const systemPrompt = `You are a chess engine. Respond ONLY with a move in UCI format (e.g., "e2e4" or "e7e8q" for promotion). No explanations.`

func levelInstructions(d game.Difficulty) string {
	switch d {
	case game.DifficultyBeginner:
		return "Play like a beginner. Make simple, safe moves. Avoid complex tactics."
	case game.DifficultyAdvanced:
		return "Play at an advanced level. Use complex tactics, strategic planning, and strong positional understanding."
	case game.DifficultyMaster:
		return "Play at a master level. Use deep calculation, strategic mastery, and optimal play."
	default:
		return "Play at an intermediate level. Use basic tactics and positional play."
	}
}

func buildPrompt(fen string, d game.Difficulty, history, legalMoves []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current position (FEN): %s\n\n", fen)
	fmt.Fprintf(&b, "Skill level: %s\n", d)
	fmt.Fprintf(&b, "Instructions: %s\n\n", levelInstructions(d))
	if len(history) > 0 {
		fmt.Fprintf(&b, "Previous moves: %s\n\n", strings.Join(history, " "))
	} else {
		b.WriteString("Starting position\n\n")
	}
	fmt.Fprintf(&b, "Legal moves available: %s\n\n", strings.Join(legalMoves, ", "))
	b.WriteString(`Choose the best move and respond ONLY with the move in UCI format (e.g., "e2e4" for normal moves or "e7e8q" for promotion to queen).`)
	return b.String()
}

var uciMoveRe = regexp.MustCompile(`[a-h][1-8][a-h][1-8][qrbn]?`)

// ParseUCIMove pulls the first UCI-shaped move out of free-form model output.
// Returns nil when nothing usable is present.
func ParseUCIMove(text string) *Move {
	m := uciMoveRe.FindString(strings.ToLower(strings.TrimSpace(text)))
	if m == "" {
		return nil
	}
	mv := &Move{From: m[0:2], To: m[2:4]}
	if len(m) == 5 {
		mv.Promotion = m[4:5]
	}
	return mv
}
