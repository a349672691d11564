package sqlstore

// sqliteSchema defines the SQLite database schema, one statement per entry.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS services (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	created_at TIMESTAMP NOT NULL
)`,

	`CREATE TABLE IF NOT EXISTS error_budgets (
	service_id INTEGER PRIMARY KEY,
	slo_target REAL NOT NULL DEFAULT 0.999,
	window_days INTEGER NOT NULL DEFAULT 30,
	window_start TIMESTAMP NOT NULL,
	budget_consumed REAL NOT NULL DEFAULT 0,
	budget_remaining REAL NOT NULL DEFAULT 1,
	current_burn_rate REAL NOT NULL DEFAULT 0,
	release_gate_open BOOLEAN NOT NULL DEFAULT 1,
	evaluated_at TIMESTAMP,
	violation_started_at TIMESTAMP,
	updated_at TIMESTAMP NOT NULL,
	FOREIGN KEY (service_id) REFERENCES services(id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_error_budgets_evaluated_at ON error_budgets(evaluated_at)`,

	`CREATE TABLE IF NOT EXISTS job_stats (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	service_id INTEGER NOT NULL,
	queue_namespace TEXT NOT NULL,
	period_start TIMESTAMP NOT NULL,
	period_end TIMESTAMP NOT NULL,
	job_count INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	latency_p95_ms INTEGER NOT NULL DEFAULT 0,
	meta_json TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	FOREIGN KEY (service_id) REFERENCES services(id),
	UNIQUE (service_id, queue_namespace, period_start, period_end)
)`,
	`CREATE INDEX IF NOT EXISTS idx_job_stats_period_end ON job_stats(period_end)`,

	`CREATE TABLE IF NOT EXISTS incidents (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	service_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	severity_label TEXT NOT NULL,
	team_label TEXT NOT NULL DEFAULT '',
	service_label TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	context_json TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	FOREIGN KEY (service_id) REFERENCES services(id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_service_created ON incidents(service_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status)`,

	`CREATE TABLE IF NOT EXISTS agent_executions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_name TEXT NOT NULL,
	service_id INTEGER,
	incident_id INTEGER,
	status TEXT NOT NULL DEFAULT 'running',
	action_taken TEXT NOT NULL DEFAULT '',
	action_details_json TEXT NOT NULL DEFAULT '[]',
	result_json TEXT,
	error_message TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	FOREIGN KEY (service_id) REFERENCES services(id),
	FOREIGN KEY (incident_id) REFERENCES incidents(id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_agent_executions_agent_created ON agent_executions(agent_name, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_agent_executions_created ON agent_executions(created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_agent_executions_status ON agent_executions(status)`,
	`CREATE INDEX IF NOT EXISTS idx_agent_executions_incident ON agent_executions(incident_id)`,

	`CREATE TABLE IF NOT EXISTS audit_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	service_id INTEGER NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	justification TEXT NOT NULL,
	metadata_json TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	FOREIGN KEY (service_id) REFERENCES services(id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_service_created ON audit_logs(service_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action)`,

	`CREATE TABLE IF NOT EXISTS agent_configs (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`,

	`CREATE TABLE IF NOT EXISTS pending_reversals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	operation TEXT NOT NULL,
	params_json TEXT NOT NULL DEFAULT '{}',
	due_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_reversals_due ON pending_reversals(completed_at, due_at)`,
}

// postgresSchema mirrors sqliteSchema with Postgres column types.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS services (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL
)`,

	`CREATE TABLE IF NOT EXISTS error_budgets (
	service_id BIGINT PRIMARY KEY REFERENCES services(id),
	slo_target DOUBLE PRECISION NOT NULL DEFAULT 0.999,
	window_days INTEGER NOT NULL DEFAULT 30,
	window_start TIMESTAMPTZ NOT NULL,
	budget_consumed DOUBLE PRECISION NOT NULL DEFAULT 0,
	budget_remaining DOUBLE PRECISION NOT NULL DEFAULT 1,
	current_burn_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	release_gate_open BOOLEAN NOT NULL DEFAULT TRUE,
	evaluated_at TIMESTAMPTZ,
	violation_started_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_error_budgets_evaluated_at ON error_budgets(evaluated_at)`,

	`CREATE TABLE IF NOT EXISTS job_stats (
	id BIGSERIAL PRIMARY KEY,
	service_id BIGINT NOT NULL REFERENCES services(id),
	queue_namespace TEXT NOT NULL,
	period_start TIMESTAMPTZ NOT NULL,
	period_end TIMESTAMPTZ NOT NULL,
	job_count BIGINT NOT NULL DEFAULT 0,
	error_count BIGINT NOT NULL DEFAULT 0,
	latency_p95_ms BIGINT NOT NULL DEFAULT 0,
	meta_json TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (service_id, queue_namespace, period_start, period_end)
)`,
	`CREATE INDEX IF NOT EXISTS idx_job_stats_period_end ON job_stats(period_end)`,

	`CREATE TABLE IF NOT EXISTS incidents (
	id BIGSERIAL PRIMARY KEY,
	service_id BIGINT NOT NULL REFERENCES services(id),
	title TEXT NOT NULL,
	severity_label TEXT NOT NULL,
	team_label TEXT NOT NULL DEFAULT '',
	service_label TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	context_json TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_service_created ON incidents(service_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status)`,

	`CREATE TABLE IF NOT EXISTS agent_executions (
	id BIGSERIAL PRIMARY KEY,
	agent_name TEXT NOT NULL,
	service_id BIGINT REFERENCES services(id),
	incident_id BIGINT REFERENCES incidents(id),
	status TEXT NOT NULL DEFAULT 'running',
	action_taken TEXT NOT NULL DEFAULT '',
	action_details_json TEXT NOT NULL DEFAULT '[]',
	result_json TEXT,
	error_message TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_agent_executions_agent_created ON agent_executions(agent_name, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_agent_executions_created ON agent_executions(created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_agent_executions_status ON agent_executions(status)`,
	`CREATE INDEX IF NOT EXISTS idx_agent_executions_incident ON agent_executions(incident_id)`,

	`CREATE TABLE IF NOT EXISTS audit_logs (
	id BIGSERIAL PRIMARY KEY,
	service_id BIGINT NOT NULL REFERENCES services(id),
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	justification TEXT NOT NULL,
	metadata_json TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_service_created ON audit_logs(service_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action)`,

	`CREATE TABLE IF NOT EXISTS agent_configs (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`,

	`CREATE TABLE IF NOT EXISTS pending_reversals (
	id BIGSERIAL PRIMARY KEY,
	operation TEXT NOT NULL,
	params_json TEXT NOT NULL DEFAULT '{}',
	due_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_reversals_due ON pending_reversals(completed_at, due_at)`,
}
