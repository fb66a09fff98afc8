package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"drift-arena/server/internal/app"
	"drift-arena/server/internal/config"
	"drift-arena/server/internal/logging"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fallback := logging.New("info")
		fallback.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}
