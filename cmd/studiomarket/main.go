// Package main запускает HTTP-сервер сервиса studiomarket.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/avolkhov/studiomarket/internal/cache"
	"github.com/avolkhov/studiomarket/internal/config"
	"github.com/avolkhov/studiomarket/internal/handler"
	"github.com/avolkhov/studiomarket/internal/middleware"
	"github.com/avolkhov/studiomarket/internal/notify"
	"github.com/avolkhov/studiomarket/internal/ocr"
	"github.com/avolkhov/studiomarket/internal/receipt"
	"github.com/avolkhov/studiomarket/internal/repository"
	"github.com/avolkhov/studiomarket/internal/service"
	"github.com/avolkhov/studiomarket/internal/sweeper"
	"github.com/avolkhov/studiomarket/internal/verification"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI, cfg.MinCutHundredths)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	store, err := cache.New(cfg.RedisAddr)
	if err != nil {
		sugar.Fatalw("redis initialization error", "error", err.Error())
	}
	defer store.Close()

	svc := service.NewService(repo, store)

	var notifier notify.Notifier
	if cfg.TelegramToken != "" {
		tn, err := notify.NewTelegramNotifier(cfg.TelegramToken, cfg.AdminChatIDs)
		if err != nil {
			sugar.Fatalw("telegram initialization error", "error", err.Error())
		}
		notifier = tn
	} else {
		sugar.Info("telegram token is not set, notifications go to the log")
		notifier = notify.NewLogNotifier(logger)
	}

	validator, err := receipt.NewValidator(cfg.RecipientPatterns, cfg.PhoneSuffix)
	if err != nil {
		sugar.Fatalw("receipt validator error", "error", err.Error())
	}

	ocrClient := ocr.NewClient(cfg.OCRAddress)
	workflow := verification.NewWorkflow(ocrClient, validator, svc, store, notifier, logger)

	sw := sweeper.New(svc, notifier, logger, cfg.SweepHour, cfg.SweepMinute)

	adminAuth := middleware.NewAdminAuth(cfg.AdminToken)
	h := handler.NewHandler(svc, workflow, sw, logger, adminAuth, cfg.MinCutHundredths)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: h.SetupRouter(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск ежедневной уборки неоплаченных корзин
	g.Go(func() error {
		if err := sw.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("sweeper error: %w", err)
		}
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting studiomarket server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
