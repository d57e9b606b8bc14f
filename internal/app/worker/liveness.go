package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/castled-chess/castled/internal/game"
)

// livenessClient asks the gateway whether a game is still worth moving for.
// The pool re-checks right before computing so a resignation or timeout that
// landed while the job sat in the queue does not waste an engine run.
type livenessClient struct {
	baseURL *url.URL
	http    *http.Client
}

func newLivenessClient(rawURL string) (*livenessClient, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse gateway url: %w", err)
	}
	return &livenessClient{
		baseURL: u,
		http:    new(http.Client),
	}, nil
}

func (c *livenessClient) Active(ctx context.Context, gameID string) (bool, string, error) {
	u := c.baseURL.JoinPath("api", "games", gameID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, "not found", nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var body struct {
		Game struct {
			Status game.Status `json:"status"`
		} `json:"game"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, "", fmt.Errorf("failed to decode body: %w", err)
	}
	return body.Game.Status == game.StatusActive, string(body.Game.Status), nil
}
