package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"teams-answer-bot/internal/app"
	"teams-answer-bot/internal/config"
	"teams-answer-bot/internal/logger"
)

func main() {
	ctx := context.Background()

	// ---- Configuration ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Env, cfg.LogLevel)

	// ---- Wiring ----
	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to build application", "error", err)
		os.Exit(1)
	}

	lambda.Start(a.Handler.Handle)
}
