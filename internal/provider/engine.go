package provider

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"

	"github.com/castled-chess/castled/internal/game"
	"github.com/castled-chess/castled/pkg/logging"
	"go.uber.org/zap"
)

var bestMoveRe = regexp.MustCompile(`^bestmove ([a-h][1-8])([a-h][1-8])([qrbn])?`)

// Engine drives a UCI engine binary over stdin/stdout. A fresh process is
// spawned per request so a wedged search never poisons later jobs; the ctx
// deadline kills it.
type Engine struct {
	path string
}

func NewEngine(path string) *Engine {
	return &Engine{path: path}
}

func (e *Engine) ID() string { return EngineID }

func (e *Engine) GetMove(ctx context.Context, fen string, difficulty game.Difficulty, history []string) (*Move, error) {
	skill, depth := EngineParams(difficulty)

	cmd := exec.CommandContext(ctx, e.path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting engine: %w", err)
	}
	defer func() {
		stdin.Close()
		_ = cmd.Wait()
	}()

	writer := bufio.NewWriter(stdin)
	scanner := bufio.NewScanner(stdout)

	options := []string{
		"uci",
		fmt.Sprintf("setoption name Skill Level value %d", skill),
		"setoption name Threads value 2",
		"setoption name Hash value 128",
		"isready",
	}
	for _, option := range options {
		fmt.Fprintln(writer, option)
	}
	writer.Flush()

	for scanner.Scan() {
		if scanner.Text() == "readyok" {
			break
		}
	}

	fmt.Fprintln(writer, "position fen "+fen)
	fmt.Fprintf(writer, "go depth %d\n", depth)
	writer.Flush()

	for scanner.Scan() {
		if m := bestMoveRe.FindStringSubmatch(scanner.Text()); m != nil {
			logging.Info("engine move",
				zap.String("move", m[1]+m[2]+m[3]),
				zap.Int("skill", skill),
				zap.Int("depth", depth),
			)
			return &Move{From: m[1], To: m[2], Promotion: m[3]}, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("engine produced no move")
}
