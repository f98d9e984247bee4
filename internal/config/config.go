// Package config loads the Kestrel configuration from a YAML file layered
// over the tier defaults, with environment overrides on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvConfig      = "KESTREL_CONFIG"
	EnvTier        = "KESTREL_TIER"
	EnvDebug       = "KESTREL_DEBUG"
	EnvModelsDir   = "KESTREL_MODELS_DIR"
	EnvAsyncWorker = "KESTREL_ASYNC_WORKER"
	EnvTenants     = "KESTREL_TENANTS"
)

// Load builds the configuration. path may be empty, in which case
// KESTREL_CONFIG is consulted; with neither set only the tier defaults and
// environment overrides apply.
func Load(path string) (*domain.Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}

	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return Parse(data)
}

// Parse builds the configuration from YAML bytes. The tier is resolved
// first (KESTREL_TIER, then the document's tier field) so the document
// overrides the matching defaults.
func Parse(data []byte) (*domain.Config, error) {
	var head struct {
		Tier domain.Tier `yaml:"tier"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	tier := head.Tier
	if env := os.Getenv(EnvTier); env != "" {
		tier = domain.Tier(env)
	}

	var cfg *domain.Config
	switch tier {
	case domain.TierCommunity, "":
		cfg = domain.DefaultConfig()
	case domain.TierPro:
		cfg = domain.ProConfig()
	default:
		return nil, fmt.Errorf("unknown tier %q", tier)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Tier = tier
	if cfg.Tier == "" {
		cfg.Tier = domain.TierCommunity
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *domain.Config) {
	if os.Getenv(EnvDebug) == "true" {
		cfg.Logging.Level = "debug"
	}
	if dir := os.Getenv(EnvModelsDir); dir != "" {
		cfg.ModelsDir = dir
	}
	if os.Getenv(EnvAsyncWorker) == "true" {
		cfg.Worker.Enabled = true
	}
	if env := os.Getenv(EnvTenants); env != "" {
		var tenants []string
		for _, t := range strings.Split(env, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tenants = append(tenants, t)
			}
		}
		cfg.Worker.Tenants = tenants
	}
}

// Validate rejects settings no component can run with.
func Validate(cfg *domain.Config) error {
	var errs []error

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", cfg.Server.Port))
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("repository.driver %q not supported", cfg.Repository.Driver))
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q not supported", cfg.Logging.Format))
	}

	a := cfg.Assessment
	if a.ValidityDays <= 0 {
		errs = append(errs, errors.New("assessment.validityDays must be positive"))
	}
	if a.TopFactors < 0 || a.AnalysisWorkers < 0 || a.VelocityWindowDays < 0 {
		errs = append(errs, errors.New("assessment counts must not be negative"))
	}
	if a.SensitivitySamples != 0 && a.SensitivitySamples < 2 {
		errs = append(errs, fmt.Errorf("assessment.sensitivitySamples %d below 2", a.SensitivitySamples))
	}
	for _, t := range a.HighRiskTiers {
		if t.Rank() < 0 {
			errs = append(errs, fmt.Errorf("assessment.highRiskTiers: unknown tier %q", t))
		}
	}
	for _, id := range cfg.Worker.Tenants {
		if err := domain.ValidateTenantID(id); err != nil {
			errs = append(errs, fmt.Errorf("worker.tenants: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
