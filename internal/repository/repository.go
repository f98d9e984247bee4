// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New opens the configured database, applies the pool settings and creates
// the schema.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var driverName, dsn, target string

	switch cfg.Driver {
	case "sqlite":
		if err := ensureSQLiteDir(cfg.SQLitePath); err != nil {
			return nil, err
		}
		driverName, dsn, target = "sqlite", sqliteDSN(cfg.SQLitePath), "sqlite database "+cfg.SQLitePath
	case "postgres":
		driverName, dsn, target = "postgres", postgresDSN(cfg), postgresTarget(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidInput, cfg.Driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", target, err)
	}

	if cfg.Driver == "sqlite" && cfg.SQLitePath == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach %s: %w", target, err)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}
	if err := repo.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate(ctx context.Context) error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.ExecContext(ctx, schema); err != nil {
			return err
		}
	}
	return nil
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	return nil
}

// SaveModel stores a model definition, replacing any existing definition
// with the same id. The definition is validated first.
func (r *SQLRepository) SaveModel(ctx context.Context, tenantID string, model *domain.RiskModel) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if model == nil {
		return fmt.Errorf("%w: model is required", ErrInvalidInput)
	}
	if err := model.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	now := time.Now().UTC()
	if model.CreatedAt.IsZero() {
		model.CreatedAt = now
	}
	model.UpdatedAt = now
	if model.Status == "" {
		model.Status = domain.ModelDevelopment
	}

	definition, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}

	query := `
		INSERT INTO risk_models (
			id, tenant_id, name, version, model_type, status, definition, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			version = excluded.version,
			model_type = excluded.model_type,
			status = excluded.status,
			definition = excluded.definition,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		model.ID, tenantID, model.Name, model.Version, model.ModelType,
		string(model.Status), string(definition), model.CreatedAt, model.UpdatedAt,
	)
	return err
}

// GetModel retrieves a model definition by ID with tenant isolation.
func (r *SQLRepository) GetModel(ctx context.Context, tenantID string, modelID string) (*domain.RiskModel, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT status, definition, created_at, updated_at
		FROM risk_models
		WHERE tenant_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, modelID)
	model, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return model, err
}

// ListModels retrieves all model definitions for a tenant.
func (r *SQLRepository) ListModels(ctx context.Context, tenantID string) ([]*domain.RiskModel, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT status, definition, created_at, updated_at
		FROM risk_models
		WHERE tenant_id = ?
		ORDER BY name, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []*domain.RiskModel
	for rows.Next() {
		model, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		models = append(models, model)
	}

	return models, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

// scanModel decodes a definition and overlays the mutable columns.
func scanModel(s scanner) (*domain.RiskModel, error) {
	var status, definition string
	var createdAt, updatedAt time.Time

	if err := s.Scan(&status, &definition, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var model domain.RiskModel
	if err := json.Unmarshal([]byte(definition), &model); err != nil {
		return nil, fmt.Errorf("failed to parse model definition: %w", err)
	}
	model.Status = domain.ModelStatus(status)
	model.CreatedAt = createdAt.UTC()
	model.UpdatedAt = updatedAt.UTC()

	return &model, nil
}

// UpdateModelStatus moves a model to a new lifecycle status.
func (r *SQLRepository) UpdateModelStatus(ctx context.Context, tenantID string, modelID string, status domain.ModelStatus) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}

	query := `
		UPDATE risk_models
		SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), string(status), time.Now().UTC(), tenantID, modelID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveApplicant stores an applicant snapshot, replacing any existing one.
func (r *SQLRepository) SaveApplicant(ctx context.Context, tenantID string, applicant *domain.ApplicantData) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if applicant == nil || applicant.ApplicantID == "" {
		return fmt.Errorf("%w: applicantId is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if applicant.CreatedAt.IsZero() {
		applicant.CreatedAt = now
	}

	data, err := json.Marshal(applicant)
	if err != nil {
		return fmt.Errorf("failed to encode applicant: %w", err)
	}

	query := `
		INSERT INTO applicants (id, tenant_id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		applicant.ApplicantID, tenantID, string(data), applicant.CreatedAt, now,
	)
	return err
}

// GetApplicant retrieves an applicant by ID with tenant isolation.
func (r *SQLRepository) GetApplicant(ctx context.Context, tenantID string, applicantID string) (*domain.ApplicantData, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT data FROM applicants WHERE tenant_id = ? AND id = ?`

	var data string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, applicantID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var applicant domain.ApplicantData
	if err := json.Unmarshal([]byte(data), &applicant); err != nil {
		return nil, fmt.Errorf("failed to parse applicant: %w", err)
	}
	return &applicant, nil
}

// SaveAssessment stores an assessment and, when given, its factor analysis
// in one transaction.
func (r *SQLRepository) SaveAssessment(ctx context.Context, tenantID string, assessment *domain.RiskAssessment, analysis *domain.FactorAnalysis) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if assessment == nil || assessment.ID == "" {
		return fmt.Errorf("%w: assessment id is required", ErrInvalidInput)
	}

	keyFactors, _ := json.Marshal(assessment.KeyFactors)
	warnings, _ := json.Marshal(assessment.Warnings)
	metadata, _ := json.Marshal(assessment.Metadata)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO assessments (
			id, tenant_id, applicant_id, model_id, model_version,
			risk_score, risk_tier, confidence, key_factors, warnings, metadata,
			assessment_date, expires_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if _, err := tx.ExecContext(ctx, r.rebind(query),
		assessment.ID, tenantID, assessment.ApplicantID, assessment.ModelID, assessment.ModelVersion,
		assessment.RiskScore, string(assessment.RiskTier), assessment.Confidence,
		string(keyFactors), string(warnings), string(metadata),
		assessment.AssessmentDate.UTC(), assessment.ExpiresDate.UTC(),
	); err != nil {
		return err
	}

	if analysis != nil {
		if analysis.AnalysisID == "" {
			analysis.AnalysisID = uuid.New().String()
		}
		analysis.AssessmentID = assessment.ID

		data, err := json.Marshal(analysis)
		if err != nil {
			return fmt.Errorf("failed to encode factor analysis: %w", err)
		}

		query := `
			INSERT INTO factor_analyses (id, tenant_id, assessment_id, model_id, data, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		if _, err := tx.ExecContext(ctx, r.rebind(query),
			analysis.AnalysisID, tenantID, assessment.ID, analysis.ModelID, string(data), time.Now().UTC(),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

const assessmentColumns = `
	id, tenant_id, applicant_id, model_id, model_version,
	risk_score, risk_tier, confidence, key_factors, warnings, metadata,
	assessment_date, expires_date
`

func scanAssessment(s scanner) (*domain.RiskAssessment, error) {
	var a domain.RiskAssessment
	var tier, keyFactors string
	var warnings, metadata sql.NullString

	if err := s.Scan(
		&a.ID, &a.TenantID, &a.ApplicantID, &a.ModelID, &a.ModelVersion,
		&a.RiskScore, &tier, &a.Confidence, &keyFactors, &warnings, &metadata,
		&a.AssessmentDate, &a.ExpiresDate,
	); err != nil {
		return nil, err
	}

	a.RiskTier = domain.RiskTier(tier)
	a.AssessmentDate = a.AssessmentDate.UTC()
	a.ExpiresDate = a.ExpiresDate.UTC()
	if err := json.Unmarshal([]byte(keyFactors), &a.KeyFactors); err != nil {
		return nil, fmt.Errorf("failed to parse key factors: %w", err)
	}
	if warnings.Valid && warnings.String != "" {
		json.Unmarshal([]byte(warnings.String), &a.Warnings)
	}
	if metadata.Valid && metadata.String != "" {
		json.Unmarshal([]byte(metadata.String), &a.Metadata)
	}

	return &a, nil
}

// GetAssessment retrieves an assessment by ID with tenant isolation.
func (r *SQLRepository) GetAssessment(ctx context.Context, tenantID string, assessmentID string) (*domain.RiskAssessment, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + assessmentColumns + ` FROM assessments WHERE tenant_id = ? AND id = ?`

	a, err := scanAssessment(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, assessmentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// GetFactorAnalysis retrieves the factor analysis stored with an assessment.
func (r *SQLRepository) GetFactorAnalysis(ctx context.Context, tenantID string, assessmentID string) (*domain.FactorAnalysis, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT data FROM factor_analyses
		WHERE tenant_id = ? AND assessment_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	var data string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, assessmentID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var analysis domain.FactorAnalysis
	if err := json.Unmarshal([]byte(data), &analysis); err != nil {
		return nil, fmt.Errorf("failed to parse factor analysis: %w", err)
	}
	return &analysis, nil
}

// ListAssessmentsByApplicant retrieves an applicant's assessments made at
// or after since, newest first.
func (r *SQLRepository) ListAssessmentsByApplicant(ctx context.Context, tenantID string, applicantID string, since time.Time) ([]*domain.RiskAssessment, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + assessmentColumns + `
		FROM assessments
		WHERE tenant_id = ? AND applicant_id = ? AND assessment_date >= ?
		ORDER BY assessment_date DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, applicantID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assessments []*domain.RiskAssessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		assessments = append(assessments, a)
	}

	return assessments, rows.Err()
}

// CountAssessmentsSince counts an applicant's assessments made at or after since.
func (r *SQLRepository) CountAssessmentsSince(ctx context.Context, tenantID string, applicantID string, since time.Time) (int64, error) {
	if err := requireTenant(tenantID); err != nil {
		return 0, err
	}

	query := `
		SELECT COUNT(*) FROM assessments
		WHERE tenant_id = ? AND applicant_id = ? AND assessment_date >= ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, applicantID, since.UTC()).Scan(&count)
	return count, err
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
