package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// RouterLogsChannel is the NOTIFY channel fired for every inserted router log.
const RouterLogsChannel = "router_logs"

// GetMigrations returns all migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_students", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_router_logs", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "notify_router_logs", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "create_interaction_statistics", UpSQL: migration004Up, DownSQL: migration004Down},
	}
}

const migration001Up = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS students (
    id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    name         VARCHAR(255) NOT NULL,
    ip_address   VARCHAR(45) NOT NULL UNIQUE,
    headset_id   VARCHAR(100),
    classroom_id VARCHAR(100),
    avatar       TEXT,
    created_at   TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_students_classroom ON students (classroom_id);
`

const migration001Down = `
DROP TABLE IF EXISTS students;
`

const migration002Up = `
CREATE TABLE IF NOT EXISTS router_logs (
    id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    source_ip    VARCHAR(45) NOT NULL,
    log_type     VARCHAR(100) NOT NULL DEFAULT 'unknown',
    content      JSONB NOT NULL DEFAULT '{}'::jsonb,
    time_seconds DOUBLE PRECISION,
    timestamp    TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    raw_log      TEXT
);

CREATE INDEX IF NOT EXISTS idx_router_logs_source_time ON router_logs (source_ip, timestamp DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS router_logs;
`

// The payload carries only the row id and source so it stays far below the
// 8000 byte NOTIFY limit; listeners load the row itself.
const migration003Up = `
CREATE OR REPLACE FUNCTION notify_router_log() RETURNS trigger AS $$
BEGIN
    PERFORM pg_notify('router_logs', json_build_object(
        'id', NEW.id,
        'source_ip', NEW.source_ip
    )::text);
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS router_logs_notify ON router_logs;
CREATE TRIGGER router_logs_notify
    AFTER INSERT ON router_logs
    FOR EACH ROW EXECUTE FUNCTION notify_router_log();
`

const migration003Down = `
DROP TRIGGER IF EXISTS router_logs_notify ON router_logs;
DROP FUNCTION IF EXISTS notify_router_log();
`

const migration004Up = `
CREATE TABLE IF NOT EXISTS interaction_statistics (
    source_ip        VARCHAR(45) NOT NULL,
    log_type         VARCHAR(100) NOT NULL,
    interaction_count BIGINT NOT NULL DEFAULT 0,
    last_interaction TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    PRIMARY KEY (source_ip, log_type)
);
`

const migration004Down = `
DROP TABLE IF EXISTS interaction_statistics;
`
