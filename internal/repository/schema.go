package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureSchema creates the tables the service needs if they do not exist.
// Payments carry a unique external reference; settlement idempotency depends
// on that lookup key.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS clients (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		phone      TEXT NOT NULL,
		email      TEXT,
		id_number  TEXT,
		address    TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS loans (
		id                    TEXT PRIMARY KEY,
		client_id             TEXT NOT NULL REFERENCES clients(id),
		principal             NUMERIC(14,2) NOT NULL,
		interest_rate         NUMERIC(7,3)  NOT NULL,
		penalty_rate          NUMERIC(7,3)  NOT NULL,
		term                  INTEGER NOT NULL,
		term_unit             TEXT NOT NULL,
		installment_frequency TEXT NOT NULL,
		installment_amount    NUMERIC(14,2) NOT NULL,
		total_repayable       NUMERIC(14,2) NOT NULL,
		remaining_balance     NUMERIC(14,2) NOT NULL,
		penalties             NUMERIC(14,2) NOT NULL DEFAULT 0,
		total_paid            NUMERIC(14,2) NOT NULL DEFAULT 0,
		due_date              TIMESTAMPTZ,
		payment_start_date    TIMESTAMPTZ,
		status                TEXT NOT NULL,
		created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS loans_client_idx ON loans(client_id);
	CREATE INDEX IF NOT EXISTS loans_status_idx ON loans(status);

	CREATE TABLE IF NOT EXISTS payments (
		id           TEXT PRIMARY KEY,
		loan_id      TEXT REFERENCES loans(id),
		client_id    TEXT REFERENCES clients(id),
		amount       NUMERIC(14,2) NOT NULL,
		method       TEXT NOT NULL,
		reference    TEXT NOT NULL,
		account_ref  TEXT,
		receipt_code TEXT,
		status       TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE UNIQUE INDEX IF NOT EXISTS payments_reference_key ON payments(reference);

	CREATE TABLE IF NOT EXISTS penalties (
		id         TEXT PRIMARY KEY,
		loan_id    TEXT NOT NULL REFERENCES loans(id),
		client_id  TEXT REFERENCES clients(id),
		amount     NUMERIC(14,2) NOT NULL,
		reason     TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		waived_at  TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS penalties_loan_idx ON penalties(loan_id);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
