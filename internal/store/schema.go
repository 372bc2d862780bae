package store

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS pulp_servers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		username TEXT NOT NULL DEFAULT '',
		vault_service_account_mount TEXT NOT NULL DEFAULT '',
		registration_schedule TEXT,
		registration_regex_include TEXT,
		registration_regex_exclude TEXT,
		repo_sync_health_rollup INTEGER,
		repo_sync_health_rollup_date TEXT,
		date_created TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS repos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		repo_type TEXT NOT NULL,
		date_created TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pulp_server_repos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pulp_server_id INTEGER NOT NULL REFERENCES pulp_servers(id),
		repo_id INTEGER NOT NULL REFERENCES repos(id),
		repo_href TEXT,
		remote_href TEXT,
		distribution_href TEXT,
		remote_feed TEXT,
		repo_sync_health INTEGER,
		repo_sync_health_date TEXT,
		date_created TEXT NOT NULL,
		UNIQUE(pulp_server_id, repo_id)
	)`,
	`CREATE TABLE IF NOT EXISTS pulp_server_repo_groups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pulp_server_id INTEGER NOT NULL REFERENCES pulp_servers(id),
		name TEXT NOT NULL,
		schedule TEXT NOT NULL DEFAULT '',
		max_concurrent_syncs INTEGER NOT NULL DEFAULT 1,
		max_runtime_seconds INTEGER NOT NULL DEFAULT 0,
		regex_include TEXT,
		regex_exclude TEXT,
		pulp_master_id INTEGER REFERENCES pulp_servers(id)
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		task_type INTEGER NOT NULL,
		state INTEGER NOT NULL,
		parent_task_id INTEGER REFERENCES tasks(id),
		worker_job_id TEXT,
		worker_name TEXT,
		date_created TEXT NOT NULL,
		date_started TEXT,
		date_finished TEXT,
		task_args TEXT,
		error TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS task_stages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL REFERENCES tasks(id),
		name TEXT NOT NULL,
		detail TEXT,
		error TEXT,
		date_created TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pulp_server_repo_tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pulp_server_repo_id INTEGER NOT NULL REFERENCES pulp_server_repos(id),
		task_id INTEGER NOT NULL REFERENCES tasks(id),
		date_created TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_task_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_worker_job ON tasks(worker_job_id)`,
	`CREATE INDEX IF NOT EXISTS idx_task_stages_task ON task_stages(task_id)`,
	`CREATE INDEX IF NOT EXISTS idx_psrt_repo_date ON pulp_server_repo_tasks(pulp_server_repo_id, date_created)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS pulp_servers (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		name VARCHAR(255) NOT NULL UNIQUE,
		username VARCHAR(255) NOT NULL DEFAULT '',
		vault_service_account_mount VARCHAR(255) NOT NULL DEFAULT '',
		registration_schedule VARCHAR(255),
		registration_regex_include TEXT,
		registration_regex_exclude TEXT,
		repo_sync_health_rollup INT,
		repo_sync_health_rollup_date VARCHAR(32),
		date_created VARCHAR(32) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS repos (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		name VARCHAR(255) NOT NULL UNIQUE,
		repo_type VARCHAR(32) NOT NULL,
		date_created VARCHAR(32) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pulp_server_repos (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		pulp_server_id BIGINT NOT NULL,
		repo_id BIGINT NOT NULL,
		repo_href VARCHAR(512),
		remote_href VARCHAR(512),
		distribution_href VARCHAR(512),
		remote_feed VARCHAR(1024),
		repo_sync_health INT,
		repo_sync_health_date VARCHAR(32),
		date_created VARCHAR(32) NOT NULL,
		UNIQUE KEY uniq_server_repo (pulp_server_id, repo_id)
	)`,
	`CREATE TABLE IF NOT EXISTS pulp_server_repo_groups (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		pulp_server_id BIGINT NOT NULL,
		name VARCHAR(255) NOT NULL,
		schedule VARCHAR(255) NOT NULL DEFAULT '',
		max_concurrent_syncs INT NOT NULL DEFAULT 1,
		max_runtime_seconds INT NOT NULL DEFAULT 0,
		regex_include TEXT,
		regex_exclude TEXT,
		pulp_master_id BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		name VARCHAR(512) NOT NULL,
		task_type INT NOT NULL,
		state INT NOT NULL,
		parent_task_id BIGINT,
		worker_job_id VARCHAR(64),
		worker_name VARCHAR(255),
		date_created VARCHAR(32) NOT NULL,
		date_started VARCHAR(32),
		date_finished VARCHAR(32),
		task_args TEXT,
		error TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS task_stages (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		task_id BIGINT NOT NULL,
		name VARCHAR(255) NOT NULL,
		detail TEXT,
		error TEXT,
		date_created VARCHAR(32) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pulp_server_repo_tasks (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		pulp_server_repo_id BIGINT NOT NULL,
		task_id BIGINT NOT NULL,
		date_created VARCHAR(32) NOT NULL
	)`,
	`CREATE INDEX idx_tasks_state ON tasks(state)`,
	`CREATE INDEX idx_tasks_parent ON tasks(parent_task_id)`,
	`CREATE INDEX idx_tasks_worker_job ON tasks(worker_job_id)`,
	`CREATE INDEX idx_task_stages_task ON task_stages(task_id)`,
	`CREATE INDEX idx_psrt_repo_date ON pulp_server_repo_tasks(pulp_server_repo_id, date_created)`,
}
