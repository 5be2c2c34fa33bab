package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Shared cycle state, one JSONB document per cycle
			CREATE TABLE cycles (
				tenant_id VARCHAR(255) NOT NULL,
				id VARCHAR(255) NOT NULL,
				report_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('active', 'submission_ready', 'archived')),
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				last_modified_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (tenant_id, id)
			);

			CREATE INDEX idx_cycles_created_at ON cycles(tenant_id, created_at DESC);

			CREATE TABLE human_tasks (
				tenant_id VARCHAR(255) NOT NULL,
				id VARCHAR(255) NOT NULL,
				cycle_id VARCHAR(255) NOT NULL,
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (tenant_id, id)
			);

			CREATE INDEX idx_human_tasks_cycle ON human_tasks(tenant_id, cycle_id);

			CREATE TABLE issues (
				tenant_id VARCHAR(255) NOT NULL,
				id VARCHAR(255) NOT NULL,
				document JSONB NOT NULL,
				PRIMARY KEY (tenant_id, id)
			);

			CREATE TABLE compensating_controls (
				tenant_id VARCHAR(255) NOT NULL,
				id VARCHAR(255) NOT NULL,
				issue_id VARCHAR(255) NOT NULL,
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (tenant_id, id)
			);

			CREATE INDEX idx_compensating_controls_issue ON compensating_controls(tenant_id, issue_id);

			CREATE TABLE artifacts (
				tenant_id VARCHAR(255) NOT NULL,
				cycle_id VARCHAR(255) NOT NULL,
				type VARCHAR(255) NOT NULL,
				version BIGINT NOT NULL,
				document JSONB NOT NULL,
				PRIMARY KEY (tenant_id, cycle_id, type)
			);

			CREATE TABLE reconciliation_reviews (
				tenant_id VARCHAR(255) NOT NULL,
				id VARCHAR(255) NOT NULL,
				document JSONB NOT NULL,
				PRIMARY KEY (tenant_id, id)
			);
		`,
		2: `
			-- Personal data: preferences per user, conversational context per session
			CREATE TABLE preferences (
				tenant_id VARCHAR(255) NOT NULL,
				user_id VARCHAR(255) NOT NULL,
				document JSONB NOT NULL,
				PRIMARY KEY (tenant_id, user_id)
			);

			CREATE TABLE session_contexts (
				tenant_id VARCHAR(255) NOT NULL,
				session_id VARCHAR(255) NOT NULL,
				user_id VARCHAR(255) NOT NULL,
				document JSONB NOT NULL,
				PRIMARY KEY (tenant_id, session_id)
			);
		`,
		3: `
			-- System of record for step data and versions
			CREATE TABLE step_snapshots (
				tenant_id VARCHAR(255) NOT NULL,
				cycle_id VARCHAR(255) NOT NULL,
				step_id VARCHAR(255) NOT NULL,
				version BIGINT NOT NULL CHECK (version > 0),
				data JSONB NOT NULL,
				writer_user_id VARCHAR(255) NOT NULL,
				written_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (tenant_id, cycle_id, step_id)
			);
		`,
		4: `
			-- Optimistic revision of cycle documents shared by several API nodes
			ALTER TABLE cycles ADD COLUMN revision BIGINT NOT NULL DEFAULT 0;
		`,
		5: `
			-- Pending step conflicts until resolved or expired
			CREATE TABLE step_conflicts (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				cycle_id VARCHAR(255) NOT NULL,
				step_id VARCHAR(255) NOT NULL,
				document JSONB NOT NULL,
				detected_at TIMESTAMP WITH TIME ZONE NOT NULL,
				expires_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_step_conflicts_step ON step_conflicts(tenant_id, cycle_id, step_id);
			CREATE INDEX idx_step_conflicts_expires_at ON step_conflicts(expires_at);
		`,
	}
}
