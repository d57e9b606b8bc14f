package pgn

import (
	"strings"

	"gopkg.in/freeeve/pgn.v1"
)

// Fens replays a PGN text and returns the position after every move, in
// order. Multiple games in one text are concatenated.
func Fens(text string) ([]string, error) {
	ps := pgn.NewPGNScanner(strings.NewReader(text))

	var fenList []string
	for ps.Next() {
		game, err := ps.Scan()
		if err != nil {
			return nil, err
		}

		b := pgn.NewBoard()
		for _, move := range game.Moves {
			if err := b.MakeMove(move); err != nil {
				return nil, err
			}
			fenList = append(fenList, b.String())
		}
	}

	return fenList, nil
}
