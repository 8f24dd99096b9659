package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE connections (
				id UUID PRIMARY KEY,
				workspace_id VARCHAR(255) NOT NULL,
				integration_id VARCHAR(255) NOT NULL,
				display_name VARCHAR(255),
				config JSONB DEFAULT '{}',
				secrets JSONB DEFAULT '{}',
				status VARCHAR(50) NOT NULL CHECK (status IN ('active', 'disabled')),
				last_tested_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_connections_workspace ON connections(workspace_id);
			CREATE INDEX idx_connections_integration ON connections(integration_id);

			CREATE TABLE retry_policies (
				id VARCHAR(255) PRIMARY KEY,
				workspace_id VARCHAR(255),
				name VARCHAR(255) NOT NULL,
				max_attempts INT NOT NULL DEFAULT 1,
				backoff VARCHAR(50) NOT NULL CHECK (backoff IN ('fixed', 'exponential')),
				initial_delay_ms BIGINT NOT NULL DEFAULT 0
			);

			CREATE TABLE automations (
				id UUID PRIMARY KEY,
				workspace_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'enabled', 'disabled', 'paused')),
				trigger_id VARCHAR(255),
				retry_policy_id VARCHAR(255),
				settings JSONB DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_automations_workspace ON automations(workspace_id);
			CREATE INDEX idx_automations_status ON automations(status);
			CREATE INDEX idx_automations_deleted_at ON automations(deleted_at);

			CREATE TABLE automation_steps (
				automation_id UUID NOT NULL REFERENCES automations(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				kind VARCHAR(50) NOT NULL CHECK (kind IN ('action', 'condition')),
				step_order INT NOT NULL DEFAULT 0,
				integration_id VARCHAR(255),
				connection_id VARCHAR(255),
				action_name VARCHAR(255),
				config JSONB DEFAULT '{}',
				PRIMARY KEY (automation_id, id)
			);

			CREATE INDEX idx_automation_steps_automation ON automation_steps(automation_id);

			CREATE TABLE triggers (
				id UUID PRIMARY KEY,
				automation_id UUID NOT NULL,
				integration_id VARCHAR(255) NOT NULL,
				trigger_key VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(50) NOT NULL CHECK (trigger_type IN ('poll', 'webhook')),
				connection_id VARCHAR(255),
				config JSONB DEFAULT '{}',
				last_run_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_triggers_automation ON triggers(automation_id);
			CREATE INDEX idx_triggers_type ON triggers(trigger_type);

			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				automation_id UUID NOT NULL,
				trigger_event JSONB,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'success', 'failed', 'cancelled')),
				attempt INT NOT NULL DEFAULT 0,
				metadata JSONB DEFAULT '{}',
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_executions_automation ON executions(automation_id);
			CREATE INDEX idx_executions_status ON executions(status);
			CREATE INDEX idx_executions_created_at ON executions(created_at);

			CREATE TABLE execution_tasks (
				id VARCHAR(255) PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
				step_id VARCHAR(255),
				status VARCHAR(50) NOT NULL CHECK (status IN ('queued', 'running', 'success', 'failed')),
				input JSONB DEFAULT '{}',
				output JSONB DEFAULT '{}',
				error_message TEXT,
				attempt INT NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_execution_tasks_execution ON execution_tasks(execution_id);
			CREATE INDEX idx_execution_tasks_status ON execution_tasks(status);

			CREATE TABLE webhook_events (
				id VARCHAR(255) PRIMARY KEY,
				trigger_id UUID NOT NULL,
				source_id VARCHAR(255),
				raw_payload JSONB DEFAULT '{}',
				headers JSONB DEFAULT '{}',
				processed BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_webhook_events_trigger ON webhook_events(trigger_id);
			CREATE INDEX idx_webhook_events_processed ON webhook_events(processed);
			CREATE UNIQUE INDEX idx_webhook_events_source ON webhook_events(trigger_id, source_id)
				WHERE source_id IS NOT NULL AND source_id <> '';
		`,
	}
}
