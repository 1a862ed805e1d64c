package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-wf-approvals/internal/platform/database"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/errors"
)

// BudgetLedgerRepository debits project budgets.
type BudgetLedgerRepository struct {
	db *database.DB
}

// NewBudgetLedgerRepository creates a new BudgetLedgerRepository.
func NewBudgetLedgerRepository(db *database.DB) *BudgetLedgerRepository {
	return &BudgetLedgerRepository{db: db}
}

// Spend adds amount to used_budget only if the total is not exceeded. The
// check and the write are one statement, so concurrent spends against the
// same project serialise on the row and cannot overdraw it.
func (r *BudgetLedgerRepository) Spend(ctx context.Context, projectID string, amount int64) error {
	if amount <= 0 {
		return errors.InvalidInput("amount", "spend amount must be positive")
	}
	if !isUUID(projectID) {
		return errors.NotFound("project", projectID)
	}

	query := `
		UPDATE projects
		SET used_budget = used_budget + $2,
		    updated_at  = NOW()
		WHERE id = $1
		  AND used_budget + $2 <= total_budget
		RETURNING used_budget
	`

	var used int64
	err := r.db.QueryRow(ctx, query, projectID, amount).Scan(&used)
	if err == pgx.ErrNoRows {
		return r.explainRefusal(ctx, projectID, amount)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to spend project budget")
	}
	return nil
}

func (r *BudgetLedgerRepository) explainRefusal(ctx context.Context, projectID string, amount int64) error {
	var total, used int64
	err := r.db.QueryRow(ctx,
		`SELECT total_budget, used_budget FROM projects WHERE id = $1`, projectID).
		Scan(&total, &used)
	if err == pgx.ErrNoRows {
		return errors.NotFound("project", projectID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to read project budget")
	}
	return errors.InsufficientFunds(fmt.Sprintf(
		"project %s has %d remaining, cannot spend %d", projectID, total-used, amount))
}
