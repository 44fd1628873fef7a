package checkpoint

const schemaDDL = `
CREATE TABLE IF NOT EXISTS sync_positions (
	source_path TEXT NOT NULL,
	target_name TEXT NOT NULL,
	last_audit_id INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	PRIMARY KEY (source_path, target_name)
);

CREATE TABLE IF NOT EXISTS initial_sync_checkpoints (
	source_path TEXT NOT NULL,
	table_name TEXT NOT NULL,
	last_pk TEXT,
	total_synced INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'running',
	started_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	PRIMARY KEY (source_path, table_name)
);

CREATE TABLE IF NOT EXISTS sync_errors (
	id TEXT PRIMARY KEY,
	source_path TEXT NOT NULL,
	target_name TEXT NOT NULL,
	table_name TEXT,
	message TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	resolved INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	resolved_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_errors_unresolved ON sync_errors (source_path) WHERE resolved = 0;

CREATE TABLE IF NOT EXISTS sync_stats (
	source_path TEXT NOT NULL,
	target_name TEXT NOT NULL,
	metric TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (source_path, target_name, metric)
);
`

const (
	qSavePosition = `
INSERT INTO sync_positions (source_path, target_name, last_audit_id, updated_at)
VALUES (?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
ON CONFLICT (source_path, target_name) DO UPDATE SET
	last_audit_id = excluded.last_audit_id,
	updated_at = excluded.updated_at
`

	qLoadPosition = `
SELECT last_audit_id FROM sync_positions WHERE source_path = ? AND target_name = ?
`

	qSaveInitialCheckpoint = `
INSERT INTO initial_sync_checkpoints
	(source_path, table_name, last_pk, total_synced, status, started_at, updated_at)
VALUES (?, ?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'), strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
ON CONFLICT (source_path, table_name) DO UPDATE SET
	last_pk = excluded.last_pk,
	total_synced = excluded.total_synced,
	status = excluded.status,
	started_at = COALESCE(initial_sync_checkpoints.started_at, excluded.started_at),
	updated_at = excluded.updated_at
`

	qLoadInitialCheckpoint = `
SELECT table_name, last_pk, total_synced, status, started_at, updated_at
FROM initial_sync_checkpoints WHERE source_path = ? AND table_name = ?
`

	qListInitialCheckpoints = `
SELECT table_name, last_pk, total_synced, status, started_at, updated_at
FROM initial_sync_checkpoints WHERE source_path = ?
`

	qMarkInitialComplete = `
UPDATE initial_sync_checkpoints SET status = 'completed', updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
WHERE source_path = ? AND table_name = ?
`

	qDeleteInitialCheckpoint = `
DELETE FROM initial_sync_checkpoints WHERE source_path = ? AND table_name = ?
`

	qLogError = `
INSERT INTO sync_errors (id, source_path, target_name, table_name, message, created_at)
VALUES (?, ?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
`

	qListUnresolvedErrors = `
SELECT id, source_path, target_name, table_name, message, retry_count, created_at
FROM sync_errors WHERE source_path = ? AND resolved = 0 ORDER BY created_at
`

	qResolveError = `
UPDATE sync_errors SET resolved = 1, resolved_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now') WHERE id = ?
`

	qIncrementRetryCount = `
UPDATE sync_errors SET retry_count = retry_count + 1 WHERE id = ?
`

	qUpdateStats = `
INSERT INTO sync_stats (source_path, target_name, metric, count)
VALUES (?, ?, ?, ?)
ON CONFLICT (source_path, target_name, metric) DO UPDATE SET count = sync_stats.count + excluded.count
`

	qGetStats = `
SELECT metric, count FROM sync_stats WHERE source_path = ? AND target_name = ?
`

	qResetStats = `
DELETE FROM sync_stats WHERE source_path = ? AND target_name = ?
`
)
