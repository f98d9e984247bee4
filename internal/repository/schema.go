package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

// schemaRiskModels stores model definitions. The full definition is kept as
// JSON; status and timestamps are also columns so they can change without
// rewriting the definition.
const schemaRiskModels = `
CREATE TABLE IF NOT EXISTS risk_models (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    version TEXT NOT NULL,
    model_type TEXT NOT NULL,
    status TEXT NOT NULL,
    definition TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_risk_models_tenant ON risk_models(tenant_id);
CREATE INDEX IF NOT EXISTS idx_risk_models_status ON risk_models(tenant_id, status);
`

const schemaApplicants = `
CREATE TABLE IF NOT EXISTS applicants (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    data TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_applicants_tenant ON applicants(tenant_id);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    applicant_id TEXT NOT NULL,
    model_id TEXT NOT NULL,
    model_version TEXT NOT NULL,
    risk_score REAL NOT NULL,
    risk_tier TEXT NOT NULL,
    confidence REAL NOT NULL,
    key_factors TEXT NOT NULL,
    warnings TEXT,
    metadata TEXT,
    assessment_date TIMESTAMP NOT NULL,
    expires_date TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_tenant ON assessments(tenant_id);
CREATE INDEX IF NOT EXISTS idx_assessments_applicant ON assessments(tenant_id, applicant_id, assessment_date);
CREATE INDEX IF NOT EXISTS idx_assessments_tier ON assessments(tenant_id, risk_tier);
`

const schemaFactorAnalyses = `
CREATE TABLE IF NOT EXISTS factor_analyses (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    assessment_id TEXT NOT NULL,
    model_id TEXT NOT NULL,
    data TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_factor_analyses_assessment ON factor_analyses(tenant_id, assessment_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRiskModels,
		schemaApplicants,
		schemaAssessments,
		schemaFactorAnalyses,
	}
}
