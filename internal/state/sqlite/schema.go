package sqlite

const schema = `
-- Model catalogue (current definitions, one row per tenant+model)
CREATE TABLE IF NOT EXISTS models (
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,
    materialization TEXT NOT NULL DEFAULT '',
    time_column TEXT NOT NULL DEFAULT '',
    unique_key TEXT NOT NULL DEFAULT '',
    partition_by TEXT NOT NULL DEFAULT '',
    incremental_strategy TEXT NOT NULL DEFAULT '',
    owner TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '[]',
    raw_sql TEXT NOT NULL,
    clean_sql TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    dependencies TEXT NOT NULL DEFAULT '[]',
    contract_mode TEXT NOT NULL DEFAULT 'DISABLED',
    contract_columns TEXT NOT NULL DEFAULT '[]',
    loaded_at TEXT NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (tenant_id, name)
);

CREATE INDEX IF NOT EXISTS idx_models_tenant_created ON models(tenant_id, created_at);

-- Immutable snapshots
CREATE TABLE IF NOT EXISTS snapshots (
    tenant_id TEXT NOT NULL,
    id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    environment TEXT NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_snapshots_tenant_created ON snapshots(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_env ON snapshots(tenant_id, environment, created_at);

CREATE TABLE IF NOT EXISTS snapshot_models (
    tenant_id TEXT NOT NULL,
    snapshot_id TEXT NOT NULL,
    model_name TEXT NOT NULL,
    version_id TEXT NOT NULL,
    PRIMARY KEY (tenant_id, snapshot_id, model_name),
    FOREIGN KEY (tenant_id, snapshot_id) REFERENCES snapshots(tenant_id, id) ON DELETE CASCADE
);

-- Plans (body stored as canonical plan JSON) and approvals
CREATE TABLE IF NOT EXISTS plans (
    tenant_id TEXT NOT NULL,
    plan_id TEXT NOT NULL,
    base TEXT NOT NULL,
    target TEXT NOT NULL,
    payload TEXT NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (tenant_id, plan_id)
);

CREATE INDEX IF NOT EXISTS idx_plans_tenant_created ON plans(tenant_id, created_at);

CREATE TABLE IF NOT EXISTS plan_approvals (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant_id TEXT NOT NULL,
    plan_id TEXT NOT NULL,
    approved_by TEXT NOT NULL,
    approved_at TEXT NOT NULL,
    FOREIGN KEY (tenant_id, plan_id) REFERENCES plans(tenant_id, plan_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_approvals_plan ON plan_approvals(tenant_id, plan_id);

-- Step executions
CREATE TABLE IF NOT EXISTS runs (
    tenant_id TEXT NOT NULL,
    run_id TEXT NOT NULL,
    plan_id TEXT NOT NULL,
    step_id TEXT NOT NULL,
    model_name TEXT NOT NULL,
    status TEXT NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL DEFAULT '',
    range_start TEXT NOT NULL DEFAULT '',
    range_end TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    cost_usd REAL NOT NULL DEFAULT 0,
    retry_count INTEGER NOT NULL DEFAULT 0,
    external_run_id TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    PRIMARY KEY (tenant_id, run_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_tenant_created ON runs(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_runs_step_status ON runs(tenant_id, step_id, status);
CREATE INDEX IF NOT EXISTS idx_runs_plan ON runs(tenant_id, plan_id);

-- Incremental watermarks, one row per tenant+model
CREATE TABLE IF NOT EXISTS watermarks (
    tenant_id TEXT NOT NULL,
    model_name TEXT NOT NULL,
    partition_start TEXT NOT NULL,
    partition_end TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (tenant_id, model_name)
);

-- Advisory locks on (model, partition range)
CREATE TABLE IF NOT EXISTS partition_locks (
    tenant_id TEXT NOT NULL,
    model_name TEXT NOT NULL,
    range_start TEXT NOT NULL,
    range_end TEXT NOT NULL,
    owner TEXT NOT NULL,
    locked_at TEXT NOT NULL,
    ttl_seconds INTEGER NOT NULL,
    PRIMARY KEY (tenant_id, model_name, range_start, range_end)
);

CREATE INDEX IF NOT EXISTS idx_locks_tenant ON partition_locks(tenant_id, locked_at);

-- Per-run telemetry, aggregated into planner estimates
CREATE TABLE IF NOT EXISTS run_telemetry (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant_id TEXT NOT NULL,
    run_id TEXT NOT NULL,
    model_name TEXT NOT NULL,
    runtime_seconds REAL NOT NULL DEFAULT 0,
    shuffle_bytes INTEGER NOT NULL DEFAULT 0,
    input_rows INTEGER NOT NULL DEFAULT 0,
    output_rows INTEGER NOT NULL DEFAULT 0,
    partition_count INTEGER NOT NULL DEFAULT 0,
    recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_telemetry_model ON run_telemetry(tenant_id, model_name);

-- Append-only hash-chained audit log
CREATE TABLE IF NOT EXISTS audit_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant_id TEXT NOT NULL,
    actor TEXT NOT NULL,
    action TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    metadata TEXT NOT NULL DEFAULT '{}',
    previous_hash TEXT NOT NULL DEFAULT '',
    entry_hash TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_tenant_id ON audit_log(tenant_id, id);
CREATE INDEX IF NOT EXISTS idx_audit_tenant_created ON audit_log(tenant_id, created_at);

-- Chunked backfill progress
CREATE TABLE IF NOT EXISTS backfill_checkpoints (
    tenant_id TEXT NOT NULL,
    backfill_id TEXT NOT NULL,
    model_name TEXT NOT NULL,
    overall_start TEXT NOT NULL,
    overall_end TEXT NOT NULL,
    chunk_size_days INTEGER NOT NULL,
    status TEXT NOT NULL,
    completed_through TEXT NOT NULL DEFAULT '',
    total_chunks INTEGER NOT NULL,
    completed_chunks INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (tenant_id, backfill_id)
);

CREATE INDEX IF NOT EXISTS idx_backfills_model ON backfill_checkpoints(tenant_id, model_name, created_at);

CREATE TABLE IF NOT EXISTS backfill_audit (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant_id TEXT NOT NULL,
    backfill_id TEXT NOT NULL,
    chunk_start TEXT NOT NULL,
    chunk_end TEXT NOT NULL,
    status TEXT NOT NULL,
    run_id TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    duration_seconds REAL NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_backfill_audit_id ON backfill_audit(tenant_id, backfill_id, id);

-- Reconciliation
CREATE TABLE IF NOT EXISTS reconciliation_checks (
    check_id INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant_id TEXT NOT NULL,
    run_id TEXT NOT NULL,
    expected_status TEXT NOT NULL,
    warehouse_status TEXT NOT NULL DEFAULT '',
    discrepancy_type TEXT NOT NULL DEFAULT '',
    resolved INTEGER NOT NULL DEFAULT 0,
    resolved_by TEXT NOT NULL DEFAULT '',
    resolution_note TEXT NOT NULL DEFAULT '',
    checked_at TEXT NOT NULL,
    resolved_at TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_reconcile_unresolved ON reconciliation_checks(tenant_id, resolved, checked_at);

CREATE TABLE IF NOT EXISTS reconciliation_schedules (
    schedule_id INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    cron_expr TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    next_run_at TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    UNIQUE (tenant_id, name)
);
`
