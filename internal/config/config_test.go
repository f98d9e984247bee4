package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvTier, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Tier != domain.TierCommunity {
		t.Errorf("expected community tier, got %s", cfg.Tier)
	}
	if cfg.Repository.Driver != "sqlite" {
		t.Errorf("expected sqlite, got %s", cfg.Repository.Driver)
	}
	if cfg.Assessment.ValidityDays != 90 || cfg.Assessment.TopFactors != 5 {
		t.Errorf("unexpected assessment defaults %+v", cfg.Assessment)
	}
	if cfg.Worker.Enabled {
		t.Error("expected worker disabled on community tier")
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv(EnvTier, "")

	doc := `
server:
  port: 9090
repository:
  sqlitePath: /var/lib/kestrel/kestrel.db
assessment:
  topFactors: 3
  highRiskTiers: ["Very High"]
logging:
  format: text
`
	path := filepath.Join(t.TempDir(), "kestrel.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected default host kept, got %s", cfg.Server.Host)
	}
	if cfg.Repository.Driver != "sqlite" || cfg.Repository.SQLitePath != "/var/lib/kestrel/kestrel.db" {
		t.Errorf("unexpected repository config %+v", cfg.Repository)
	}
	if cfg.Assessment.TopFactors != 3 || cfg.Assessment.ValidityDays != 90 {
		t.Errorf("expected topFactors override over defaults, got %+v", cfg.Assessment)
	}
	if len(cfg.Assessment.HighRiskTiers) != 1 || cfg.Assessment.HighRiskTiers[0] != domain.TierVeryHigh {
		t.Errorf("unexpected high risk tiers %v", cfg.Assessment.HighRiskTiers)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("expected text logging, got %s", cfg.Logging.Format)
	}
}

func TestLoadFromEnvPath(t *testing.T) {
	t.Setenv(EnvTier, "")
	path := filepath.Join(t.TempDir(), "kestrel.yaml")
	os.WriteFile(path, []byte("server:\n  port: 7070\n"), 0o600)
	t.Setenv(EnvConfig, path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("expected port 7070, got %d", cfg.Server.Port)
	}
}

func TestParseProTier(t *testing.T) {
	t.Run("FromDocument", func(t *testing.T) {
		t.Setenv(EnvTier, "")

		cfg, err := Parse([]byte("tier: pro\ncache:\n  redisAddr: redis:6379\n"))
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if cfg.Repository.Driver != "postgres" {
			t.Errorf("expected postgres on pro tier, got %s", cfg.Repository.Driver)
		}
		if cfg.Cache.RedisAddr != "redis:6379" || !cfg.Cache.EnableTwoPhase {
			t.Errorf("expected redis override over pro defaults, got %+v", cfg.Cache)
		}
		if !cfg.Worker.Enabled {
			t.Error("expected worker enabled on pro tier")
		}
	})

	t.Run("FromEnvironment", func(t *testing.T) {
		t.Setenv(EnvTier, "pro")

		cfg, err := Parse(nil)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if cfg.Tier != domain.TierPro || cfg.EventBus.Type != "nats" {
			t.Errorf("expected pro tier with nats, got %s / %s", cfg.Tier, cfg.EventBus.Type)
		}
	})

	t.Run("UnknownTier", func(t *testing.T) {
		t.Setenv(EnvTier, "enterprise")

		if _, err := Parse(nil); err == nil {
			t.Error("expected error for unknown tier")
		}
	})
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvTier, "")
	t.Setenv(EnvDebug, "true")
	t.Setenv(EnvModelsDir, "/etc/kestrel/models")
	t.Setenv(EnvAsyncWorker, "true")
	t.Setenv(EnvTenants, "tenant-a, tenant-b,,")

	cfg, err := Parse([]byte("modelsDir: ./models\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Logging.Level)
	}
	if cfg.ModelsDir != "/etc/kestrel/models" {
		t.Errorf("expected env models dir, got %s", cfg.ModelsDir)
	}
	if !cfg.Worker.Enabled {
		t.Error("expected worker enabled")
	}
	if strings.Join(cfg.Worker.Tenants, "|") != "tenant-a|tenant-b" {
		t.Errorf("unexpected tenants %v", cfg.Worker.Tenants)
	}
}

func TestParseErrors(t *testing.T) {
	t.Setenv(EnvTier, "")

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"malformed", "server: [", "failed to parse config"},
		{"port", "server:\n  port: 70000\n", "server.port"},
		{"driver", "repository:\n  driver: mysql\n", "repository.driver"},
		{"format", "logging:\n  format: xml\n", "logging.format"},
		{"samples", "assessment:\n  sensitivitySamples: 1\n", "sensitivitySamples"},
		{"tiers", "assessment:\n  highRiskTiers: [Severe]\n", "unknown tier"},
		{"tenants", "worker:\n  tenants: [acme.corp]\n", "worker.tenants"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
