package main

import (
	"context"
	"log"

	"go.uber.org/zap"

	"intakeflow/cleanup"
	"intakeflow/config"
	"intakeflow/db"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg.Database.DSN())
	if err != nil {
		logger.Fatal("bootstrap database pool", zap.Error(err))
	}
	defer pool.Close()

	report, err := cleanup.NewSweeper(pool, logger).Run(ctx)
	if err != nil {
		logger.Fatal("cleanup sweep failed", zap.Error(err))
	}

	logger.Info("cleanup done",
		zap.Int64("expired_tokens_cleared", report.ExpiredTokensCleared),
		zap.Int64("stale_proposals", report.StaleProposals))
}
