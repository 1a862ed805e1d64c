package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-wf-approvals/internal/platform/database"
)

// Migrations returns the schema statements in execution order. Every
// statement is idempotent so migrate can run on each deploy.
func Migrations() []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS pgcrypto`,

		`CREATE TABLE IF NOT EXISTS users (
			id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name       TEXT NOT NULL,
			email      TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS projects (
			id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name         TEXT NOT NULL,
			total_budget BIGINT NOT NULL DEFAULT 0 CHECK (total_budget >= 0),
			used_budget  BIGINT NOT NULL DEFAULT 0 CHECK (used_budget >= 0),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT projects_budget_within_total CHECK (used_budget <= total_budget)
		)`,

		`CREATE TABLE IF NOT EXISTS project_members (
			project_id UUID NOT NULL REFERENCES projects(id),
			user_id    UUID NOT NULL REFERENCES users(id),
			PRIMARY KEY (project_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS approval_documents (
			id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			drafter_id   UUID NOT NULL REFERENCES users(id),
			project_id   UUID REFERENCES projects(id),
			type         TEXT NOT NULL CHECK (type IN ('LEAVE', 'EXPENSE', 'WORK')),
			amount       BIGINT CHECK (amount IS NULL OR amount > 0),
			title        TEXT NOT NULL,
			content      TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL CHECK (status IN ('PENDING', 'APPROVED', 'REJECTED', 'CANCELLED')),
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMPTZ,
			CONSTRAINT approval_documents_expense_fields CHECK (
				type <> 'EXPENSE' OR (project_id IS NOT NULL AND amount IS NOT NULL)
			)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approval_documents_drafter ON approval_documents(drafter_id, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS approval_lines (
			id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			document_id UUID NOT NULL REFERENCES approval_documents(id),
			approver_id UUID NOT NULL REFERENCES users(id),
			sequence    INT  NOT NULL CHECK (sequence >= 1),
			status      TEXT NOT NULL CHECK (status IN ('PENDING', 'APPROVED', 'REJECTED', 'CANCELLED')),
			approved_at TIMESTAMPTZ,
			comment     TEXT,
			UNIQUE (document_id, sequence),
			UNIQUE (document_id, approver_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approval_lines_approver ON approval_lines(approver_id, status)`,

		`CREATE TABLE IF NOT EXISTS approval_history (
			id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			document_id   UUID NOT NULL REFERENCES approval_documents(id),
			line_id       UUID REFERENCES approval_lines(id),
			action        TEXT NOT NULL,
			performed_by  UUID NOT NULL,
			performed_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			status_before TEXT,
			status_after  TEXT,
			metadata      JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approval_history_document ON approval_history(document_id, performed_at)`,

		`CREATE TABLE IF NOT EXISTS approval_lock_leases (
			lock_key   TEXT PRIMARY KEY,
			token      TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
	}
}

// migrationLockID keys the advisory lock held while migrating.
const migrationLockID int64 = 0x617070726f76

// Migrate applies Migrations in one transaction. Concurrent callers queue on
// an advisory lock.
func Migrate(ctx context.Context, db *database.DB) error {
	return db.InTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
			return fmt.Errorf("migration lock: %w", err)
		}
		for i, stmt := range Migrations() {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("migration %d: %w", i, err)
			}
		}
		return nil
	})
}
