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
	"go.uber.org/zap"
)

const OpenAIModel = "gpt-3.5-turbo"

type OpenAI struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func NewOpenAI(apiKey, baseURL string, client *http.Client) *OpenAI {
	return &OpenAI{apiKey: apiKey, baseURL: baseURL, http: client}
}

func (o *OpenAI) ID() string { return OpenAIModel }

func (o *OpenAI) configured() bool { return o.apiKey != "" }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (o *OpenAI) GetMove(ctx context.Context, fen string, difficulty game.Difficulty, history []string) (*Move, error) {
	if !o.configured() {
		logging.Warn("openai api key not configured")
		return nil, nil
	}
	legal, err := rules.LegalMovesUCI(fen)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(chatRequest{
		Model: OpenAIModel,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(fen, difficulty, history, legal)},
		},
		Temperature: Temperature(difficulty),
		MaxTokens:   10,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai status %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("openai response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, nil
	}
	mv := ParseUCIMove(out.Choices[0].Message.Content)
	if mv == nil {
		logging.Warn("openai returned no usable move",
			zap.String("content", out.Choices[0].Message.Content),
		)
	}
	return mv, nil
}
