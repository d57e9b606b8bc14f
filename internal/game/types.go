package game

import (
	"time"

	"github.com/castled-chess/castled/internal/rules"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusResigned  Status = "resigned"
)

type Winner string

const (
	WinnerWhite Winner = "white"
	WinnerBlack Winner = "black"
	WinnerDraw  Winner = "draw"
	WinnerNone  Winner = "none"
)

func winnerFor(c rules.Color) Winner {
	if c == rules.White {
		return WinnerWhite
	}
	return WinnerBlack
}

type Type string

const (
	TypeNormal Type = "normal"
	TypeRapid  Type = "rapid"
	TypeBlitz  Type = "blitz"
)

// ClockSeconds returns the per-side starting clock for a game type.
func (t Type) ClockSeconds() int {
	switch t {
	case TypeRapid:
		return 600
	case TypeBlitz:
		return 180
	default:
		return 3600
	}
}

type PlayerKind string

const (
	PlayerHuman PlayerKind = "human"
	PlayerAI    PlayerKind = "ai"
)

type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
	DifficultyMaster       Difficulty = "master"
)

// PlayerConfig is fixed once a session starts.
type PlayerConfig struct {
	Kind       PlayerKind `json:"kind"`
	Provider   string     `json:"provider,omitempty"`
	Difficulty Difficulty `json:"difficulty,omitempty"`
}

type Config struct {
	White    PlayerConfig `json:"white"`
	Black    PlayerConfig `json:"black"`
	GameType Type         `json:"gameType"`
}

func (c Config) Player(color rules.Color) PlayerConfig {
	if color == rules.White {
		return c.White
	}
	return c.Black
}

func (c Config) BothAI() bool {
	return c.White.Kind == PlayerAI && c.Black.Kind == PlayerAI
}

// Snapshot is a read-only copy of a session, safe to hand to any goroutine.
type Snapshot struct {
	ID           string      `json:"id"`
	Config       Config      `json:"config"`
	FEN          string      `json:"fen"`
	Moves        []string    `json:"moves"`
	Status       Status      `json:"status"`
	Winner       Winner      `json:"winner"`
	Mover        rules.Color `json:"mover"`
	WhiteSeconds int         `json:"whiteSeconds"`
	BlackSeconds int         `json:"blackSeconds"`
	CreatedBy    string      `json:"createdBy"`
	CreatedAt    time.Time   `json:"createdAt"`
}
