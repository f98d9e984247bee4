package domain

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Tier determines which backends are used
	Tier Tier `json:"tier" yaml:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"eventBus"`

	// Scoring pipeline
	Assessment AssessmentConfig `json:"assessment" yaml:"assessment"`
	Worker     WorkerConfig     `json:"worker" yaml:"worker"`

	// ModelsDir holds model definition files seeded at startup
	ModelsDir string `json:"modelsDir" yaml:"modelsDir"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"readTimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"writeTimeout"` // seconds
}

// AssessmentConfig controls how assessments are produced.
type AssessmentConfig struct {
	// ValidityDays is how long an assessment stays valid
	ValidityDays int `json:"validityDays" yaml:"validityDays"`

	// TopFactors is the number of key factors stored on an assessment
	TopFactors int `json:"topFactors" yaml:"topFactors"`

	// AnalysisWorkers bounds concurrent counterfactual evaluations
	AnalysisWorkers int `json:"analysisWorkers" yaml:"analysisWorkers"`

	// SensitivitySamples is the number of points on each sensitivity curve
	SensitivitySamples int `json:"sensitivitySamples" yaml:"sensitivitySamples"`

	// VelocityWindowDays is the look-back window for recent_assessments
	VelocityWindowDays int `json:"velocityWindowDays" yaml:"velocityWindowDays"`

	// HighRiskTiers publish an additional high-risk event
	HighRiskTiers []RiskTier `json:"highRiskTiers" yaml:"highRiskTiers"`

	// ModelCacheTTL is the model definition cache lifetime in seconds
	ModelCacheTTL int `json:"modelCacheTtl" yaml:"modelCacheTtl"`
}

// WorkerConfig controls the async assessment worker.
type WorkerConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Tenants []string `json:"tenants" yaml:"tenants"` // empty = global subscription
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, an in-process LRU cache and channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for the Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300, // 5 minutes
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Assessment: AssessmentConfig{
			ValidityDays:       90,
			TopFactors:         5,
			AnalysisWorkers:    8,
			SensitivitySamples: 10,
			VelocityWindowDays: 30,
			HighRiskTiers:      []RiskTier{TierHigh, TierVeryHigh},
			ModelCacheTTL:      300,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for the Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       60,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}
