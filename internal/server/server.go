package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sandrinn/llm-gateway/internal/config"
	"github.com/sandrinn/llm-gateway/internal/diagnostics"
	"github.com/sandrinn/llm-gateway/internal/handlers"
	"github.com/sandrinn/llm-gateway/internal/hostcap"
	"github.com/sandrinn/llm-gateway/internal/middleware"
	"github.com/sandrinn/llm-gateway/internal/resolver"
	"github.com/sandrinn/llm-gateway/internal/tokens"
)

type Server struct {
	config  *config.Manager
	logger  *slog.Logger
	version string
	server  *http.Server
}

func New(configManager *config.Manager, logger *slog.Logger, version string) *Server {
	return &Server{
		config:  configManager,
		logger:  logger,
		version: version,
	}
}

func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	mux := s.setupRoutes(cfg)

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.logger.Info("Starting server", "address", addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server error", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("Server exited")
	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes(cfg *config.Config) *http.ServeMux {
	mux := http.NewServeMux()

	capability := hostcap.NewUpstream(hostcap.UpstreamConfig{
		BaseURL: cfg.HostCapability.BaseURL,
		APIKey:  cfg.HostCapability.APIKey,
		Models:  cfg.HostCapability.Models,
		Logger:  s.logger,
	})

	deps := handlers.Deps{
		Capability: capability,
		Resolver: resolver.New(capability, s.logger,
			cfg.HostCapability.ClaudeMainModel, cfg.HostCapability.ClaudeFastModel),
		Calibrator:  tokens.New(cfg.Calibration),
		Diagnostics: diagnostics.NewRecorder(cfg.DiagnosticsDir, s.logger),
		Logger:      s.logger,
	}

	claude := handlers.NewClaude(deps)
	openai := handlers.NewOpenAI(deps)
	gemini := handlers.NewGemini(deps)
	admin := handlers.NewAdmin(deps, s.version)

	middlewareSet := middleware.NewMiddlewareSet(s.config, s.logger)
	protected := middlewareSet.DefaultChain()
	open := middlewareSet.HealthChain()

	mux.Handle("POST /v1/messages", protected.Handler(http.HandlerFunc(claude.Messages)))
	mux.Handle("POST /v1/messages/count_tokens", protected.Handler(http.HandlerFunc(claude.CountTokens)))
	mux.Handle("POST /v1/chat/completions", protected.Handler(http.HandlerFunc(openai.ChatCompletions)))
	mux.Handle("POST /v1/responses", protected.Handler(http.HandlerFunc(openai.Responses)))
	mux.Handle("POST /v1beta/models/{modelAction}", protected.Handler(http.HandlerFunc(gemini.Generate)))
	mux.Handle("GET /v1beta/models", protected.Handler(http.HandlerFunc(gemini.ListModels)))
	mux.Handle("POST /reload", protected.Handler(http.HandlerFunc(admin.Reload)))
	mux.Handle("GET /health", open.Handler(http.HandlerFunc(admin.Health)))

	return mux
}
