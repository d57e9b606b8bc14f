package pgn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFens(t *testing.T) {
	text := `[Event "?"]
[Result "*"]

1. e4 e5 2. Nf3 *
`
	fens, err := Fens(text)
	require.NoError(t, err)
	require.Len(t, fens, 3)
	assert.Contains(t, fens[0], "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR")
	assert.Contains(t, fens[2], "4P3")
}

func TestFensEmptyInput(t *testing.T) {
	fens, err := Fens("")
	require.NoError(t, err)
	assert.Empty(t, fens)
}
