package main

import (
	"github.com/castled-chess/castled/internal/app/server"
	"github.com/castled-chess/castled/pkg/logging"
	"go.uber.org/zap"
)

func main() {
	logging.Fatal("Game server exited: ", zap.Error(
		server.NewServer().Start(),
	))
}
