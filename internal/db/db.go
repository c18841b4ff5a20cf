package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	database, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(database); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return database, nil
}

func runMigrations(database *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
            id TEXT PRIMARY KEY,
            is_group BOOLEAN NOT NULL DEFAULT FALSE,
            user_lo TEXT,
            user_hi TEXT,
            name TEXT NOT NULL DEFAULT '',
            image_uri TEXT NOT NULL DEFAULT '',
            created_by TEXT NOT NULL,
            last_seq BIGINT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            last_activity_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		// One direct conversation per unordered participant pair. The pair is
		// stored in canonical (lo, hi) order; racing creators collapse on this
		// index.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_direct_pair
            ON conversations (user_lo, user_hi) WHERE is_group = FALSE;`,
		`CREATE TABLE IF NOT EXISTS conversation_participants (
            conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            participant_id TEXT NOT NULL,
            joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (conversation_id, participant_id)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_participants_by_user
            ON conversation_participants (participant_id);`,
		`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            sender_id TEXT NOT NULL,
            seq BIGINT NOT NULL,
            content_kind TEXT NOT NULL,
            content_text TEXT NOT NULL DEFAULT '',
            content_uri TEXT NOT NULL DEFAULT '',
            content_size BIGINT NOT NULL DEFAULT 0,
            content_thumbnail_uri TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'sent',
            reply_to_message_id TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            edited_at TIMESTAMPTZ,
            UNIQUE (conversation_id, seq)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_messages_history
            ON messages (conversation_id, seq);`,
		`CREATE TABLE IF NOT EXISTS message_receipts (
            message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            participant_id TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'sent',
            delivered_at TIMESTAMPTZ,
            read_at TIMESTAMPTZ,
            PRIMARY KEY (message_id, participant_id)
        );`,
		`CREATE TABLE IF NOT EXISTS read_markers (
            conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            participant_id TEXT NOT NULL,
            last_read_seq BIGINT NOT NULL DEFAULT 0,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (conversation_id, participant_id)
        );`,
	}

	for _, m := range migrations {
		if _, err := database.Exec(m); err != nil {
			return err
		}
	}
	logrus.Info("database migrations applied")
	return nil
}
