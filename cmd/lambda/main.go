package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"shop-assistant/internal/app"
	"shop-assistant/internal/config"
	"shop-assistant/internal/logger"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New(logger.Config{})
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, Output: os.Stdout})

	// ---- Handler ----
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to assemble service")
	}

	lambda.Start(a.Handler.Handle)
}
