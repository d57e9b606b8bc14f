package provider

import (
	"sync"

	"github.com/freeeve/uci"
)

// Analysis is a single-position evaluation for the read-only analysis
// endpoint. It never touches game state or clocks.
type Analysis struct {
	BestMove   string  `json:"bestMove"`
	Evaluation float64 `json:"evaluation"`
	Depth      int     `json:"depth"`
}

// Analyzer keeps one long-lived engine for position evaluation. The engine
// protocol is serial, hence the mutex.
type Analyzer struct {
	mu  sync.Mutex
	eng *uci.Engine
}

func NewAnalyzer(path string) (*Analyzer, error) {
	eng, err := uci.NewEngine(path)
	if err != nil {
		return nil, err
	}
	eng.SetOptions(uci.Options{
		Threads: 2,
		Hash:    128,
		Ponder:  false,
		OwnBook: true,
		MultiPV: 1,
	})
	return &Analyzer{eng: eng}, nil
}

func (a *Analyzer) Analyze(fen string, depth int) (Analysis, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.eng.SetFEN(fen); err != nil {
		return Analysis{}, err
	}
	resultOpts := uci.HighestDepthOnly
	results, err := a.eng.GoDepth(depth, resultOpts)
	if err != nil {
		return Analysis{}, err
	}

	out := Analysis{BestMove: results.BestMove, Depth: depth}
	if len(results.Results) > 0 {
		out.Evaluation = float64(results.Results[0].Score) / 100
		out.Depth = results.Results[0].Depth
	}
	return out, nil
}

func (a *Analyzer) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.eng.Close()
}
