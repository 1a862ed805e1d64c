package domain

import (
	"fmt"
	"time"

	"github.com/pesio-ai/be-wf-approvals/internal/platform/errors"
)

// User is a person who drafts or approves documents.
type User struct {
	ID    string
	Name  string
	Email string
}

// Project owns a budget that EXPENSE documents debit on final approval.
type Project struct {
	ID          string
	Name        string
	TotalBudget int64
	UsedBudget  int64
}

// Remaining returns the unspent budget.
func (p *Project) Remaining() int64 {
	return p.TotalBudget - p.UsedBudget
}

// Spend debits amount, refusing to exceed the total budget.
func (p *Project) Spend(amount int64) error {
	if amount <= 0 {
		return errors.InvalidInput("amount", "spend amount must be positive")
	}
	if p.UsedBudget+amount > p.TotalBudget {
		return errors.InsufficientFunds(fmt.Sprintf(
			"project %s has %d remaining, cannot spend %d", p.ID, p.Remaining(), amount))
	}
	p.UsedBudget += amount
	return nil
}

// History actions.
const (
	ActionCreated           = "created"
	ActionApproved          = "approved"
	ActionRejected          = "rejected"
	ActionCancelled         = "cancelled"
	ActionBudgetSpent       = "budget_spent"
	ActionBudgetSpendFailed = "budget_spend_failed"
)

// HistoryEntry is one immutable record of something that happened to a
// document.
type HistoryEntry struct {
	ID           string
	DocumentID   string
	LineID       *string
	Action       string
	PerformedBy  string
	PerformedAt  time.Time
	StatusBefore string
	StatusAfter  string
	Metadata     map[string]any
}
