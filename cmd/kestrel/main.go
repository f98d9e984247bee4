// Kestrel - credit risk scoring with explanations for every decision.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/assessment"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/modelfile"
	"github.com/opensource-finance/kestrel/internal/modelstore"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"github.com/opensource-finance/kestrel/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// DefaultTenant receives seeded models when no tenants are configured.
const DefaultTenant = "default"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default $KESTREL_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kestrel: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Scoring engine and model store
	a := cfg.Assessment
	eng := engine.New(engine.Options{
		Workers: a.AnalysisWorkers,
		Samples: a.SensitivitySamples,
	})
	store := modelstore.New(repo, cacheImpl, busImpl, eng, time.Duration(a.ModelCacheTTL)*time.Second)

	if cfg.ModelsDir != "" {
		tenants := cfg.Worker.Tenants
		if len(tenants) == 0 {
			tenants = []string{DefaultTenant}
		}
		if err := seedModels(ctx, store, cfg.ModelsDir, tenants); err != nil {
			slog.Error("failed to seed models", "dir", cfg.ModelsDir, "error", err)
			os.Exit(1)
		}
	}

	velocitySvc := velocity.NewService(repo, cacheImpl, time.Duration(a.VelocityWindowDays)*24*time.Hour)
	slog.Info("velocity service initialized", "window", velocitySvc.Window())

	processor := assessment.NewProcessor(eng, store, assessment.ConfigFrom(a),
		assessment.WithRepository(repo),
		assessment.WithEventBus(busImpl),
		assessment.WithVelocity(velocitySvc),
		assessment.WithMetrics(m),
	)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, processor, m)
		if err := asyncWorker.Start(worker.Config{TenantIDs: cfg.Worker.Tenants}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(cfg.Worker.Tenants))
		}
	}

	// Initialize Server
	handler := api.NewHandler(repo, cacheImpl, busImpl, store, processor, Version)
	srv := api.NewServer(cfg.Server, handler, m)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// seedModels stores every definition found in dir for each tenant.
func seedModels(ctx context.Context, store *modelstore.Store, dir string, tenants []string) error {
	models, err := modelfile.LoadDir(dir)
	if err != nil {
		return err
	}

	for _, tenantID := range tenants {
		for _, model := range models {
			if err := store.Save(ctx, tenantID, model); err != nil {
				return fmt.Errorf("tenant %s: %w", tenantID, err)
			}
		}
	}

	slog.Info("models seeded",
		"dir", dir,
		"models", len(models),
		"tenants", len(tenants),
	)
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                 KESTREL                   ║")
	fmt.Println("  ║      Credit Risk Scoring Engine           ║")
	fmt.Println("  ║    Every score comes with a reason.       ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /assessments                    - Assess an applicant")
	fmt.Println("    GET  /assessments/{id}               - Get assessment by ID")
	fmt.Println("    GET  /assessments/{id}/analysis      - Factor analysis")
	fmt.Println("    GET  /assessments/{id}/explanation   - Plain-language explanation")
	fmt.Println("    GET  /assessments/{id}/visualization - Chart data")
	fmt.Println("    POST /applicants                     - Store an applicant")
	fmt.Println("    GET  /applicants/{id}/assessments    - Assessment history")
	fmt.Println("    GET  /models                         - List models")
	fmt.Println("    POST /models                         - Create a model")
	fmt.Println("    PUT  /models/{id}/status             - Change model status")
	fmt.Println("    POST /models/{id}/score              - Score a feature map")
	fmt.Println("    GET  /health | /ready | /metrics     - Probes and metrics")
	fmt.Println()
}
