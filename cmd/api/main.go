package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/zap"

	"intakeflow/auth"
	"intakeflow/config"
	"intakeflow/confirmation"
	"intakeflow/db"
	"intakeflow/document"
	"intakeflow/form"
	"intakeflow/notify"
	"intakeflow/pdf"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg.Database.DSN())
	if err != nil {
		logger.Fatal("bootstrap database pool", zap.Error(err))
	}
	defer pool.Close()

	fileStore, err := document.NewLocalFileStore(cfg.Storage.DocumentsDir)
	if err != nil {
		logger.Fatal("bootstrap document store", zap.Error(err))
	}
	renderer, err := pdf.NewRenderer(cfg.Storage.PdfDir)
	if err != nil {
		logger.Fatal("bootstrap pdf renderer", zap.Error(err))
	}

	authService := auth.NewService(auth.NewRepository(pool), cfg.Auth.JWTSecret)

	formRepo := form.NewRepository(pool)
	formService := form.NewService(pool, formRepo, logger)
	formService.Tokens().WithTTL(time.Duration(cfg.Confirmation.TokenTTLHours) * time.Hour)

	documentService := document.NewService(document.NewRepository(pool), fileStore, serviceFormReader{formRepo}, logger)
	formService.WithDocumentStore(documentService)

	notifier := notify.NewService(notify.NewLogSender(logger), cfg.Confirmation.BaseURL, logger)

	confirmationService := confirmation.NewService(pool, formRepo, logger).
		WithRenderer(renderer).
		WithNotifier(notifier)
	confirmationService.Tokens().WithTTL(time.Duration(cfg.Confirmation.TokenTTLHours) * time.Hour)

	logger.Info("intakeflow services ready",
		zap.Bool("auth", authService != nil),
		zap.Bool("forms", formService != nil),
		zap.Bool("documents", documentService != nil),
		zap.Bool("confirmation", confirmationService != nil))
}

// serviceFormReader narrows form.Repository to the read the document service
// needs.
type serviceFormReader struct {
	repo form.Repository
}

func (r serviceFormReader) Get(ctx context.Context, id string) (form.Form, error) {
	return r.repo.Get(ctx, id)
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
