// Package main запускает HTTP-сервер сервиса ордермарт.
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

	"github.com/mmeshcher/ordermart-system/internal/config"
	"github.com/mmeshcher/ordermart-system/internal/document"
	"github.com/mmeshcher/ordermart-system/internal/geo"
	"github.com/mmeshcher/ordermart-system/internal/handler"
	"github.com/mmeshcher/ordermart-system/internal/notify"
	"github.com/mmeshcher/ordermart-system/internal/repository"
	"github.com/mmeshcher/ordermart-system/internal/service"
	"github.com/mmeshcher/ordermart-system/internal/textgen"
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

	var geocoder geo.Geocoder
	if cfg.GeocoderAddress != "" {
		geocoder = geo.NewClient(cfg.GeocoderAddress)
	} else {
		geocoder = geo.NewStaticResolver()
	}

	var composer textgen.Composer
	if cfg.TextGenAddress != "" {
		composer = textgen.NewClient(cfg.TextGenAddress)
	} else {
		composer = textgen.NewFallback()
	}

	renderer, err := document.NewHTMLRenderer()
	if err != nil {
		sugar.Fatalw("document renderer initialization error", "error", err.Error())
	}

	var sender notify.Sender
	if cfg.SMTPUsername != "" && cfg.SMTPPassword != "" {
		sender = notify.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.EmailFrom)
	} else {
		sugar.Info("smtp not configured, emails will be logged locally")
		sender = notify.NewLogSender(logger)
	}
	dispatcher := notify.NewDispatcher(sender, logger)

	svc := service.NewService(repo, geocoder, composer, renderer, dispatcher, logger, cfg.OwnerEmail, cfg.TaxRatePercent)
	defer svc.Close()

	h := handler.NewHandler(svc, logger)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск пула воркеров отложенных уведомлений
	g.Go(func() error {
		dispatcher.Run(ctx)
		return nil
	})

	// Запуск фоновой проверки налоговых алертов
	g.Go(func() error {
		svc.StartTaxAlerts(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting ordermart server", "addr", cfg.RunAddress)
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
