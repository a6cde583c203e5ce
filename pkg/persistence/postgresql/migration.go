package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				is_active BOOLEAN NOT NULL DEFAULT false,
				version INTEGER NOT NULL DEFAULT 1,
				steps JSONB NOT NULL DEFAULT '[]',
				connections JSONB NOT NULL DEFAULT '[]',
				layout JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_is_active ON workflows(is_active);
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);

			CREATE TABLE workflow_triggers (
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				step_id VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(50) NOT NULL CHECK (trigger_type IN ('form_submission', 'database_change')),
				source_id VARCHAR(255) NOT NULL,
				operations JSONB NOT NULL DEFAULT '[]',
				position INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (workflow_id, id)
			);

			CREATE INDEX idx_workflow_triggers_source ON workflow_triggers(trigger_type, source_id);
		`,
		2: `
			CREATE TABLE execution_runs (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				workflow_version INTEGER NOT NULL,
				trigger_step_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'suspended', 'succeeded', 'failed')),
				steps JSONB NOT NULL DEFAULT '{}',
				frontier JSONB NOT NULL DEFAULT '[]',
				context JSONB NOT NULL DEFAULT '{}',
				snapshot JSONB,
				waits JSONB NOT NULL DEFAULT '[]',
				next_due_at TIMESTAMP WITH TIME ZONE,
				error_message TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_execution_runs_workflow_id ON execution_runs(workflow_id);
			CREATE INDEX idx_execution_runs_status ON execution_runs(status);
			CREATE INDEX idx_execution_runs_next_due_at ON execution_runs(next_due_at) WHERE status = 'suspended';

			CREATE TABLE execution_traces (
				run_id VARCHAR(255) NOT NULL,
				seq BIGINT NOT NULL,
				step_id VARCHAR(255) NOT NULL DEFAULT '',
				outcome VARCHAR(50) NOT NULL,
				detail JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (run_id, seq)
			);
		`,
		3: `
			CREATE TABLE table_records (
				table_id VARCHAR(255) NOT NULL,
				id VARCHAR(255) NOT NULL,
				fields JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (table_id, id)
			);
		`,
		4: `
			ALTER TABLE execution_runs ADD COLUMN revision BIGINT NOT NULL DEFAULT 0;
		`,
	}
}
