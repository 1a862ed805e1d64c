package domain

import (
	"context"
	"time"
)

// DocumentStore persists documents and their lines. Lookups of a single
// record fail with a NOT_FOUND AppError when absent.
type DocumentStore interface {
	// CreateDocument assigns IDs and stores doc and lines atomically.
	CreateDocument(ctx context.Context, doc *ApprovalDocument, lines []*ApprovalLine) error
	GetDocument(ctx context.Context, id string) (*ApprovalDocument, error)
	// GetLines returns the document's lines ordered by sequence.
	GetLines(ctx context.Context, documentID string) ([]*ApprovalLine, error)
	GetLineByApprover(ctx context.Context, documentID, approverID string) (*ApprovalLine, error)
	// UpdateDocumentStatus persists a transition out of PENDING. It fails
	// with a CONFLICT if the stored document is no longer PENDING.
	UpdateDocumentStatus(ctx context.Context, doc *ApprovalDocument) error
	// UpdateLine persists a transition out of PENDING. It fails with a
	// CONFLICT if the stored line is no longer PENDING.
	UpdateLine(ctx context.Context, line *ApprovalLine) error
	// CancelLines marks every PENDING line of the document CANCELLED.
	CancelLines(ctx context.Context, documentID string, at time.Time) error
	// ListAwaitingApprover returns PENDING documents where approverID holds
	// the earliest PENDING line.
	ListAwaitingApprover(ctx context.Context, approverID string) ([]*ApprovalDocument, error)
	ListByDrafter(ctx context.Context, drafterID string) ([]*ApprovalDocument, error)
}

// Directory resolves users, projects and memberships.
type Directory interface {
	GetUser(ctx context.Context, id string) (*User, error)
	// GetUsers returns the users that exist among ids; unknown ids are
	// silently absent from the result.
	GetUsers(ctx context.Context, ids []string) ([]*User, error)
	GetProject(ctx context.Context, id string) (*Project, error)
	IsProjectMember(ctx context.Context, projectID, userID string) (bool, error)
}

// BudgetLedger debits project budgets. Spend is atomic on its own and fails
// with INSUFFICIENT_FUNDS, leaving the ledger unchanged, when the total would
// be exceeded.
type BudgetLedger interface {
	Spend(ctx context.Context, projectID string, amount int64) error
}

// HistoryStore keeps the append-only document history.
type HistoryStore interface {
	Append(ctx context.Context, entry *HistoryEntry) error
	ListByDocument(ctx context.Context, documentID string) ([]*HistoryEntry, error)
}

// Notifier delivers events to recipients. It never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, recipients []string, event Event)
}

// TxManager runs fn in a transaction; stores called with the derived context
// take part in it.
type TxManager interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
