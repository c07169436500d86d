// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/finsight-ai/assistant-platform/internal/config"
	"github.com/finsight-ai/assistant-platform/internal/export"
	"github.com/finsight-ai/assistant-platform/internal/handler"
	"github.com/finsight-ai/assistant-platform/internal/llm"
	"github.com/finsight-ai/assistant-platform/internal/middleware"
	natsclient "github.com/finsight-ai/assistant-platform/internal/nats"
	"github.com/finsight-ai/assistant-platform/internal/session"
	"github.com/finsight-ai/assistant-platform/internal/store"
	"github.com/finsight-ai/assistant-platform/pkg/logger"
	"github.com/finsight-ai/assistant-platform/pkg/tracing"
)

func main() {
	// Load configuration
	_ = godotenv.Load()
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "assistant-platform", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	nc, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer nc.Close()

	// Initialize stores
	convStore, err := store.NewNATSStore(ctx, nc)
	if err != nil {
		log.Error("failed to initialize conversation store", zap.Error(err))
		os.Exit(1)
	}
	contactStore, err := store.NewNATSContactStore(ctx, nc)
	if err != nil {
		log.Error("failed to initialize contact store", zap.Error(err))
		os.Exit(1)
	}

	// Initialize completion client, preferring Anthropic when both keys
	// are configured.
	var llmClient llm.Client
	switch {
	case cfg.AnthropicAPIKey != "":
		llmClient, err = llm.NewClient(llm.ProviderAnthropic, cfg.AnthropicAPIKey)
	case cfg.OpenAIAPIKey != "":
		llmClient, err = llm.NewClient(llm.ProviderOpenAI, cfg.OpenAIAPIKey)
	default:
		log.Error("no completion provider API key configured")
		os.Exit(1)
	}
	if err != nil {
		log.Error("failed to create completion client", zap.Error(err))
		os.Exit(1)
	}

	// Initialize exporter; binary formats need the external renderer
	exporter := export.NewService()
	if cfg.RendererURL != "" {
		renderer := export.NewHTTPRenderer(cfg.RendererURL)
		for _, f := range []export.Format{export.FormatPDF, export.FormatDOCX, export.FormatXLSX, export.FormatPPTX} {
			exporter.Register(f, renderer)
		}
	}

	// Initialize orchestrator and handlers
	orchestrator := session.New(llmClient, convStore, contactStore, cfg.Assistant, log)

	healthHandler := handler.NewHealthHandler(nc)
	conversationHandler := handler.NewConversationHandler(convStore, log)
	turnHandler := handler.NewTurnHandler(orchestrator, convStore, log)
	actionHandler := handler.NewActionHandler(orchestrator, exporter, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes. Auth is optional: anonymous sessions run in memory and
	// skip persistence.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.OptionalAuth(cfg.JWTSecret, cfg.Assistant.PublicTenant))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/turns", turnHandler.List)
				r.Post("/turns", turnHandler.Send)

				r.Route("/turns/{turnID}", func(r chi.Router) {
					r.Get("/document", actionHandler.DownloadDocument)
					r.Post("/contact", actionHandler.SaveContact)
				})
			})
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
