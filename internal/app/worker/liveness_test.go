package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGatewayStub(t *testing.T, statuses map[string]string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gameID := path.Base(r.URL.Path)
		status, ok := statuses[gameID]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"game": map[string]any{"id": gameID, "status": status},
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestLivenessActive(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/games/g1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"game": map[string]any{"id": "g1", "status": "active"},
		})
	}))
	t.Cleanup(ts.Close)

	c, err := newLivenessClient(ts.URL)
	require.NoError(t, err)

	active, status, err := c.Active(context.Background(), "g1")
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, "active", status)
}

func TestLivenessInactiveStatuses(t *testing.T) {
	ts := newGatewayStub(t, map[string]string{"g2": "resigned", "g3": "completed"})
	c, err := newLivenessClient(ts.URL)
	require.NoError(t, err)
	ctx := context.Background()

	active, status, err := c.Active(ctx, "g2")
	require.NoError(t, err)
	assert.False(t, active)
	assert.Equal(t, "resigned", status)

	active, status, err = c.Active(ctx, "g3")
	require.NoError(t, err)
	assert.False(t, active)
	assert.Equal(t, "completed", status)
}

func TestLivenessNotFound(t *testing.T) {
	ts := newGatewayStub(t, nil)
	c, err := newLivenessClient(ts.URL)
	require.NoError(t, err)

	active, status, err := c.Active(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, active)
	assert.Equal(t, "not found", status)
}

func TestLivenessGatewayError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(ts.Close)

	c, err := newLivenessClient(ts.URL)
	require.NoError(t, err)

	_, _, err = c.Active(context.Background(), "g1")
	assert.Error(t, err)
}
