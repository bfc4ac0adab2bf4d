package pg

// schema 启动时执行，全部幂等
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         BIGINT PRIMARY KEY,
		username   TEXT NOT NULL UNIQUE,
		is_online  BOOLEAN NOT NULL DEFAULT FALSE,
		last_seen  TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id            BIGINT PRIMARY KEY,
		type          TEXT NOT NULL,
		connection_id TEXT NOT NULL DEFAULT '',
		user_id       BIGINT NOT NULL DEFAULT 0,
		username      TEXT NOT NULL DEFAULT '',
		content       TEXT NOT NULL,
		sent_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_messages_sent_at ON messages (sent_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS private_messages (
		id              BIGINT PRIMARY KEY,
		from_user_id    BIGINT NOT NULL,
		from_username   TEXT NOT NULL,
		to_user_id      BIGINT NOT NULL,
		to_username     TEXT NOT NULL,
		content         TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		is_read         BOOLEAN NOT NULL DEFAULT FALSE,
		sent_at         TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_private_conv ON private_messages (conversation_id, sent_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS ix_private_unread ON private_messages (to_user_id) WHERE NOT is_read`,
}
