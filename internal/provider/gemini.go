package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/castled-chess/castled/internal/game"
	"github.com/castled-chess/castled/internal/rules"
	"github.com/castled-chess/castled/pkg/logging"
)

const GeminiModel = "gemini-2.0-flash-lite"

type Gemini struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func NewGemini(apiKey, baseURL string, client *http.Client) *Gemini {
	return &Gemini{apiKey: apiKey, baseURL: baseURL, http: client}
}

func (g *Gemini) ID() string { return GeminiModel }

func (g *Gemini) configured() bool { return g.apiKey != "" }

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig geminiGeneration `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGeneration struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (g *Gemini) GetMove(ctx context.Context, fen string, difficulty game.Difficulty, history []string) (*Move, error) {
	if !g.configured() {
		logging.Warn("gemini api key not configured")
		return nil, nil
	}
	legal, err := rules.LegalMovesUCI(fen)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{{
				Text: systemPrompt + "\n\n" + buildPrompt(fen, difficulty, history, legal),
			}},
		}},
		GenerationConfig: geminiGeneration{
			Temperature:     Temperature(difficulty),
			MaxOutputTokens: 20,
			TopP:            0.95,
			TopK:            40,
		},
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", g.baseURL, GeminiModel, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini status %d", resp.StatusCode)
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("gemini response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		logging.Warn("gemini returned no candidates")
		return nil, nil
	}
	return ParseUCIMove(out.Candidates[0].Content.Parts[0].Text), nil
}
