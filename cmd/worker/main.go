package main

import (
	"github.com/castled-chess/castled/internal/app/worker"
	"github.com/castled-chess/castled/pkg/logging"
	"go.uber.org/zap"
)

func main() {
	logging.Fatal("Move worker exited: ", zap.Error(
		worker.NewApp().Start(),
	))
}
