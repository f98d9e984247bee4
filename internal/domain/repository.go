// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Model definitions
	SaveModel(ctx context.Context, tenantID string, model *RiskModel) error
	GetModel(ctx context.Context, tenantID string, modelID string) (*RiskModel, error)
	ListModels(ctx context.Context, tenantID string) ([]*RiskModel, error)
	UpdateModelStatus(ctx context.Context, tenantID string, modelID string, status ModelStatus) error

	// Applicants
	SaveApplicant(ctx context.Context, tenantID string, applicant *ApplicantData) error
	GetApplicant(ctx context.Context, tenantID string, applicantID string) (*ApplicantData, error)

	// Assessments and their factor analyses
	SaveAssessment(ctx context.Context, tenantID string, assessment *RiskAssessment, analysis *FactorAnalysis) error
	GetAssessment(ctx context.Context, tenantID string, assessmentID string) (*RiskAssessment, error)
	GetFactorAnalysis(ctx context.Context, tenantID string, assessmentID string) (*FactorAnalysis, error)
	ListAssessmentsByApplicant(ctx context.Context, tenantID string, applicantID string, since time.Time) ([]*RiskAssessment, error)
	CountAssessmentsSince(ctx context.Context, tenantID string, applicantID string, since time.Time) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgresHost"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgresPort"`
	PostgresUser     string `json:"postgresUser" yaml:"postgresUser"`
	PostgresPassword string `json:"-" yaml:"postgresPassword"`
	PostgresDB       string `json:"postgresDb" yaml:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
}
