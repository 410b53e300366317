package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tidytab/internal/amqp"
	"tidytab/internal/backend"
	"tidytab/internal/cli"
	apphttp "tidytab/internal/http"
	"tidytab/internal/ocr"
	"tidytab/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	result, err := backend.Open(backendCfg, logger)
	if err != nil {
		logger.Error("Failed to open backend", "error", err)
		os.Exit(1)
	}
	if result.Cleanup != nil {
		defer func() {
			if err := result.Cleanup(); err != nil {
				logger.Error("Backend cleanup failed", "error", err)
			}
		}()
	}

	// AMQP is optional for the API process. Without it, resolved tabs are
	// still picked up by the worker's periodic sweep.
	var amqpPublisher services.ChangePublisher
	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Warn("AMQP unavailable, running without change events", "error", err)
	} else {
		defer amqpClient.Close()
		amqpPublisher = amqpClient
		logger.Info("AMQP publisher initialized", "exchange", cfg.AMQPExchange)
	}

	// The feed serves the SSE change subscription on this instance.
	feed := services.NewTabFeed(result.Store)
	tabs := services.NewTabService(result.Store, services.CombinePublishers(feed, amqpPublisher))

	var scanner apphttp.ReceiptScanner
	if cfg.OCRAPIKey != "" {
		scanner = ocr.NewClient(cfg.OCREndpoint, cfg.OCRAPIKey)
		logger.Info("Receipt scanning enabled", "endpoint", cfg.OCREndpoint)
	} else {
		logger.Info("Receipt scanning disabled - no OCR_API_KEY provided")
	}

	srv := apphttp.NewServer(":"+cfg.Port, tabs, feed, scanner)

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	// Graceful shutdown handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting tidytab server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
