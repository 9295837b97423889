package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/corale/relay/config"
	"github.com/corale/relay/internal/adapter/llm"
	"github.com/corale/relay/internal/approval"
	"github.com/corale/relay/internal/cache"
	"github.com/corale/relay/internal/coordinator"
	"github.com/corale/relay/internal/domain"
	"github.com/corale/relay/internal/guardrail"
	"github.com/corale/relay/internal/handler"
	"github.com/corale/relay/internal/middleware"
	"github.com/corale/relay/internal/registry"
	"github.com/corale/relay/internal/repository"
	"github.com/corale/relay/internal/router"
	"github.com/corale/relay/internal/tools"
	transport "github.com/corale/relay/internal/transport/http"
)

func main() {
	cfg := config.Load()

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting relay",
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("database", cfg.DatabaseURL),
		zap.String("routing_strategy", cfg.RoutingStrategy))

	// Durable store
	db, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to initialize store", zap.Error(err))
	}
	defer db.Close()

	// Ephemeral state
	ephemeral, err := cache.NewEphemeral(cfg.HistoryTTL)
	if err != nil {
		logger.Fatal("failed to initialize ephemeral cache", zap.Error(err))
	}
	defer ephemeral.Close()
	locks := cache.NewLockManager(cfg.LockTTL)

	// Guardrail engine
	ctx := context.Background()
	policyContent := guardrail.DefaultPolicy
	if cfg.GuardrailPolicyPath != "" {
		data, err := os.ReadFile(cfg.GuardrailPolicyPath)
		if err != nil {
			logger.Fatal("failed to read guardrail policy", zap.Error(err))
		}
		policyContent = string(data)
	}
	engine, err := guardrail.NewEngine(ctx, policyContent, guardrail.DefaultBlockedPhrases, cfg.MaxInputChars)
	if err != nil {
		logger.Fatal("failed to initialize guardrail engine", zap.Error(err))
	}

	// Tool executors
	toolRegistry := tools.NewRegistry()
	tools.RegisterBuiltins(toolRegistry)

	// Model capability
	modelClient := llm.NewModelClient(cfg.ModelBaseURL, cfg.ModelAPIKey, cfg.ModelTimeout)

	// Approval gate and reviewer service
	gate := approval.NewGate(db, ephemeral, cfg.ApprovalPollInterval, cfg.ApprovalTimeout, logger)
	approvals := approval.NewService(db, ephemeral, logger)

	// Capability registry
	reg := registry.New()
	if err := registerCapabilities(cfg, reg, modelClient, toolRegistry, db, gate, logger); err != nil {
		logger.Fatal("failed to register capabilities", zap.Error(err))
	}

	// Routers
	ruleRouter := router.NewRuleRouter(reg)
	semanticRouter := router.NewSemanticRouter(reg, modelClient, cfg.SemanticModel, logger)

	// Middleware chain, outermost first
	promRegistry := prometheus.NewRegistry()
	stages := []middleware.Stage{
		middleware.NewSafetyFilter(engine, logger),
		middleware.NewMemory(ephemeral, db, logger),
		middleware.NewCostAccountant(db, cfg.InputUnitRate, cfg.OutputUnitRate, promRegistry, logger),
		middleware.NewOutputNormalizer(middleware.DefaultSensitiveKeys, logger),
	}

	coord := coordinator.New(reg, ruleRouter, semanticRouter, stages, db, locks, coordinator.Options{
		Strategy: cfg.RoutingStrategy,
		Fallback: cfg.FallbackCapability,
		MaxDepth: cfg.MaxRoutingDepth,
	}, logger)

	server := transport.NewServer(coord, approvals, db, promRegistry)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("relay started", zap.Int("port", cfg.HTTPPort))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down relay")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to shutdown server gracefully", zap.Error(err))
	}

	logger.Info("relay stopped")
}

// registerCapabilities wires the builtin handlers into the registry. A
// manifest file, when configured, overrides the builtin capability
// metadata by name; manifest entries without a builtin handler are
// skipped with a warning.
func registerCapabilities(cfg *config.Config, reg *registry.Registry, modelClient llm.ModelClient, toolRegistry *tools.Registry, db *repository.SQLiteStore, gate *approval.Gate, logger *zap.Logger) error {
	caps := map[string]domain.Capability{
		"general_agent":       handler.GeneralCapability(),
		"report_agent":        handler.ReportCapability(),
		"data_analysis_agent": handler.AnalysisCapability(),
	}
	order := []string{"data_analysis_agent", "report_agent", "general_agent"}

	if cfg.CapabilitiesPath != "" {
		manifest, err := config.LoadManifest(cfg.CapabilitiesPath)
		if err != nil {
			return err
		}
		for _, cap := range manifest.Capabilities {
			if _, ok := caps[cap.Name]; !ok {
				logger.Warn("manifest capability has no builtin handler, skipping",
					zap.String("name", cap.Name))
				continue
			}
			caps[cap.Name] = cap
		}
	}

	for _, name := range order {
		cap := caps[name]
		var h registry.Handler
		switch name {
		case "general_agent":
			h = handler.NewGeneral(cap, modelClient, cfg.SemanticModel)
		case "report_agent":
			h = handler.NewReport(cap, modelClient, cfg.SemanticModel)
		case "data_analysis_agent":
			scoped, err := toolRegistry.Scope(cap.AllowedTools)
			if err != nil {
				return fmt.Errorf("failed to scope tools for %s: %w", name, err)
			}
			h = handler.NewAnalysis(cap, modelClient, cfg.SemanticModel, scoped, db, gate, logger)
		}
		if err := reg.Register(cap, h); err != nil {
			return err
		}
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logCfg := zap.NewProductionConfig()
	logCfg.Level = lvl
	return logCfg.Build()
}
