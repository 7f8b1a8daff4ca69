package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL. Instants that are compared in
// SQL are stored as BIGINT unix milliseconds so ordering never depends on
// a driver's text encoding of timestamps.

const schemaParameterSets = `
CREATE TABLE IF NOT EXISTS parameter_sets (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    branch_id TEXT,
    window_days INTEGER NOT NULL,
    recency_rule TEXT NOT NULL,
    frequency_rule TEXT NOT NULL,
    value_rule TEXT NOT NULL,
    effective_from BIGINT NOT NULL,
    effective_to BIGINT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_parameter_sets_active ON parameter_sets(tenant_id, effective_from, effective_to);
CREATE INDEX IF NOT EXISTS idx_parameter_sets_branch ON parameter_sets(tenant_id, branch_id);
`

// schemaSegments cascades from parameter_sets: a segment never outlives
// the set that owns it.
const schemaSegments = `
CREATE TABLE IF NOT EXISTS segments (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    parameter_set_id TEXT NOT NULL,
    name TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    rules TEXT NOT NULL,
    filter_expr TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id),
    FOREIGN KEY (tenant_id, parameter_set_id) REFERENCES parameter_sets(tenant_id, id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_segments_parameter_set ON segments(tenant_id, parameter_set_id);
`

// Amounts are TEXT so decimals survive SQLite's numeric affinity exactly.
const schemaSales = `
CREATE TABLE IF NOT EXISTS sales (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    branch_id TEXT,
    customer_id TEXT NOT NULL,
    sale_date BIGINT NOT NULL,
    amount TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_sales_window ON sales(tenant_id, sale_date);
CREATE INDEX IF NOT EXISTS idx_sales_branch_window ON sales(tenant_id, branch_id, sale_date);
`

const schemaScoreRuns = `
CREATE TABLE IF NOT EXISTS score_runs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    branch_id TEXT,
    status TEXT NOT NULL,
    parameter_set_id TEXT NOT NULL DEFAULT '',
    analysis_date BIGINT NOT NULL,
    customers INTEGER NOT NULL DEFAULT 0,
    segments TEXT NOT NULL,
    rankings TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    requested_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_score_runs_status ON score_runs(tenant_id, status);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaParameterSets,
		schemaSegments,
		schemaSales,
		schemaScoreRuns,
	}
}
