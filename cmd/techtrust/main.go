// Package main запускает HTTP-сервер и фоновые сверки сервиса TechTrust.
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

	"github.com/techtrust/backend/internal/billing"
	"github.com/techtrust/backend/internal/config"
	"github.com/techtrust/backend/internal/handler"
	"github.com/techtrust/backend/internal/metrics"
	"github.com/techtrust/backend/internal/middleware"
	"github.com/techtrust/backend/internal/repository"
	"github.com/techtrust/backend/internal/scheduler"
	"github.com/techtrust/backend/internal/service"
)

const (
	expirationInterval = time.Hour
	complianceInterval = 6 * time.Hour
	creditInterval     = 6 * time.Hour
	mileageInterval    = 12 * time.Hour
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var billingClient *billing.Client
	if cfg.BillingAPIAddress != "" {
		billingClient = billing.NewClient(cfg.BillingAPIAddress)
	}

	expirationSvc := service.NewExpirationService(repo, logger)
	complianceSvc := service.NewComplianceService(repo, logger)
	creditGuard := service.NewCreditGuard(repo, logger, service.DefaultPlans())
	mileageSvc := service.NewMileageService(repo, logger)

	collector := metrics.NewCollector()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	defer limiter.Stop()

	h := handler.NewHandler(expirationSvc, complianceSvc, creditGuard, mileageSvc, repo, collector, logger, authMiddleware)

	r := handler.NewRouter(h, limiter)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	jobs := []*scheduler.Job{
		scheduler.NewJob("expiration-sweep", expirationInterval, func(ctx context.Context) error {
			result, err := expirationSvc.CheckQuoteExpirations(ctx)
			if err != nil {
				return err
			}
			collector.RecordExpirationSweep(result.ExpiredQuotes, result.ExpiredShares, result.ExpiredRequests, result.NotificationsSent)
			return nil
		}, logger),
		scheduler.NewJob("compliance-check", complianceInterval, func(ctx context.Context) error {
			alerts, err := complianceSvc.CheckExpirations(ctx)
			if err != nil {
				return err
			}
			collector.RecordExpirationAlerts(len(alerts))
			return nil
		}, logger),
		scheduler.NewJob("credit-monitor", creditInterval, func(ctx context.Context) error {
			if billingClient == nil {
				sugar.Infow("credit monitor tick", "tracked_providers", len(creditGuard.GetAllCreditStates()))
				return nil
			}
			usage, err := billingClient.GetUsage(ctx)
			if err != nil {
				return fmt.Errorf("billing usage: %w", err)
			}
			if _, err := creditGuard.UpdateCreditState(ctx, usage.Provider, usage.CreditsLeft); err != nil {
				return fmt.Errorf("update credit state: %w", err)
			}
			return nil
		}, logger),
		scheduler.NewJob("mileage-reminders", mileageInterval, func(ctx context.Context) error {
			result, err := mileageSvc.CheckStaleMileage(ctx)
			if err != nil {
				return err
			}
			collector.RecordMileageReminders(result.Notified)
			return nil
		}, logger),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фоновых сверок
	for _, job := range jobs {
		job.Start(ctx)
	}
	defer func() {
		for _, job := range jobs {
			job.Stop()
		}
	}()

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting techtrust server", "addr", cfg.RunAddress)
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
