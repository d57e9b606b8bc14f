// Package provider holds the pluggable sources of candidate moves: remote
// LLM backends and the local UCI engine. The registry is a closed map from
// provider id to adapter, resolved once at configuration time.
package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/castled-chess/castled/internal/game"
)

// EngineID is the local engine provider; it doubles as the fallback for every
// remote provider.
const EngineID = "stockfish"

// Move is a candidate move in coordinate form. Nothing here is validated;
// callers must pass every candidate through the rules engine.
type Move struct {
	From      string
	To        string
	Promotion string
}

func (m Move) UCI() string {
	return m.From + m.To + m.Promotion
}

// Adapter produces a candidate move for a position. A nil move with a nil
// error means "no answer" and is not a failure. Implementations must honor
// ctx cancellation so callers can race them against a timeout.
type Adapter interface {
	ID() string
	GetMove(ctx context.Context, fen string, difficulty game.Difficulty, history []string) (*Move, error)
}

// Settings configures the registry. Base URLs exist so tests can point the
// HTTP adapters at a local server.
type Settings struct {
	OpenAIKey     string
	OpenAIBaseURL string
	GeminiKey     string
	GeminiBaseURL string
	StockfishPath string
	HTTPTimeout   time.Duration
}

type Registry struct {
	adapters map[string]Adapter
	engine   Adapter
}

func NewRegistry(set Settings) *Registry {
	if set.OpenAIBaseURL == "" {
		set.OpenAIBaseURL = "https://api.openai.com"
	}
	if set.GeminiBaseURL == "" {
		set.GeminiBaseURL = "https://generativelanguage.googleapis.com"
	}
	if set.StockfishPath == "" {
		set.StockfishPath = "stockfish"
	}
	if set.HTTPTimeout == 0 {
		set.HTTPTimeout = 15 * time.Second
	}
	httpClient := &http.Client{Timeout: set.HTTPTimeout}

	engine := NewEngine(set.StockfishPath)
	reg := &Registry{
		adapters: map[string]Adapter{},
		engine:   engine,
	}
	for _, a := range []Adapter{
		NewOpenAI(set.OpenAIKey, set.OpenAIBaseURL, httpClient),
		NewGemini(set.GeminiKey, set.GeminiBaseURL, httpClient),
		engine,
	} {
		reg.adapters[a.ID()] = a
	}
	return reg
}

func (r *Registry) Lookup(id string) (Adapter, bool) {
	a, ok := r.adapters[CanonicalID(id)]
	return a, ok
}

// Engine returns the local fallback adapter.
func (r *Registry) Engine() Adapter {
	return r.engine
}

// CanonicalID maps the display names clients send to provider ids.
func CanonicalID(name string) string {
	switch name {
	case "ChatGPT-3.5":
		return OpenAIModel
	case "Gemini Flash":
		return GeminiModel
	case "Stockfish", "":
		return EngineID
	}
	return name
}

// ModelInfo describes a provider for the model-listing endpoint.
type ModelInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
}

func (r *Registry) Models() []ModelInfo {
	openai := r.adapters[OpenAIModel].(*OpenAI)
	gemini := r.adapters[GeminiModel].(*Gemini)
	return []ModelInfo{
		{ID: EngineID, Name: "Stockfish (local)", Configured: true},
		{ID: OpenAIModel, Name: "ChatGPT-3.5 (OpenAI)", Configured: openai.configured()},
		{ID: GeminiModel, Name: "Gemini Flash (Google)", Configured: gemini.configured()},
	}
}
