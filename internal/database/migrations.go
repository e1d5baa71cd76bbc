package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order at startup. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                  UUID PRIMARY KEY,
		username            TEXT NOT NULL UNIQUE,
		email               TEXT NOT NULL DEFAULT '',
		wallet_address      TEXT NOT NULL DEFAULT '',
		trust_score         INTEGER NOT NULL DEFAULT 100 CHECK (trust_score BETWEEN 0 AND 150),
		settlements_on_time INTEGER NOT NULL DEFAULT 0,
		settlements_late    INTEGER NOT NULL DEFAULT 0,
		total_settlements   INTEGER NOT NULL DEFAULT 0,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS friendships (
		user_id    UUID NOT NULL REFERENCES users(id),
		friend_id  UUID NOT NULL REFERENCES users(id),
		status     TEXT NOT NULL DEFAULT 'PENDING',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, friend_id)
	)`,
	`CREATE TABLE IF NOT EXISTS tabs (
		id                     UUID PRIMARY KEY,
		creator_id             UUID NOT NULL REFERENCES users(id),
		title                  TEXT NOT NULL,
		description            TEXT NOT NULL DEFAULT '',
		category               TEXT NOT NULL DEFAULT 'OTHER',
		total_amount           NUMERIC NOT NULL CHECK (total_amount > 0),
		currency               TEXT NOT NULL,
		status                 TEXT NOT NULL DEFAULT 'OPEN' CHECK (status IN ('OPEN','SETTLED','CANCELLED')),
		split_mode             TEXT NOT NULL DEFAULT 'EQUAL',
		settlement_deadline    TIMESTAMPTZ,
		penalty_rate_bps       INTEGER NOT NULL DEFAULT 0 CHECK (penalty_rate_bps >= 0),
		settlement_wallet      TEXT NOT NULL DEFAULT '',
		last_overdue_notice_at TIMESTAMPTZ,
		created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS tabs_open_deadline_idx ON tabs (settlement_deadline) WHERE status = 'OPEN'`,
	`CREATE TABLE IF NOT EXISTS tab_participants (
		id                    UUID PRIMARY KEY,
		tab_id                UUID NOT NULL REFERENCES tabs(id) ON DELETE CASCADE,
		user_id               UUID NOT NULL REFERENCES users(id),
		share_amount          NUMERIC NOT NULL CHECK (share_amount > 0),
		paid                  BOOLEAN NOT NULL DEFAULT FALSE,
		paid_amount           NUMERIC NOT NULL DEFAULT 0,
		paid_tx_hash          TEXT,
		paid_at               TIMESTAMPTZ,
		verified              BOOLEAN NOT NULL DEFAULT FALSE,
		days_late             INTEGER NOT NULL DEFAULT 0,
		penalty_amount        NUMERIC NOT NULL DEFAULT 0,
		final_amount          NUMERIC NOT NULL DEFAULT 0,
		settled_early         BOOLEAN NOT NULL DEFAULT FALSE,
		last_reminder_sent_at TIMESTAMPTZ,
		reminder_count        INTEGER NOT NULL DEFAULT 0,
		created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (tab_id, user_id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS tab_participants_paid_tx_hash_key ON tab_participants (paid_tx_hash) WHERE paid_tx_hash IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS tab_participants_user_idx ON tab_participants (user_id)`,
	`CREATE TABLE IF NOT EXISTS settlement_history (
		id                 UUID PRIMARY KEY,
		user_id            UUID NOT NULL REFERENCES users(id),
		tab_id             UUID NOT NULL REFERENCES tabs(id),
		settled_on_time    BOOLEAN NOT NULL,
		days_late          INTEGER NOT NULL DEFAULT 0,
		penalty_amount     NUMERIC NOT NULL DEFAULT 0,
		trust_score_before INTEGER NOT NULL,
		trust_score_after  INTEGER NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, tab_id)
	)`,
	`CREATE TABLE IF NOT EXISTS otp_codes (
		id         UUID PRIMARY KEY,
		email      TEXT NOT NULL,
		code_hash  TEXT NOT NULL,
		type       TEXT NOT NULL,
		metadata   JSONB,
		expires_at TIMESTAMPTZ NOT NULL,
		used       BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS otp_codes_lookup_idx ON otp_codes (email, type, code_hash) WHERE used = FALSE`,
}

// Migrate applies the schema in a single transaction
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i, err)
		}
	}
	return tx.Commit()
}
