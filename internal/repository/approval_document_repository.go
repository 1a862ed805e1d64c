package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-wf-approvals/internal/domain"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/database"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/errors"
)

// ApprovalRepository stores approval documents and their lines. Document and
// line creation is always done together in a single transaction.
type ApprovalRepository struct {
	db *database.DB
}

// NewApprovalRepository creates a new ApprovalRepository.
func NewApprovalRepository(db *database.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

const documentColumns = `
	id, drafter_id, project_id, type, amount,
	title, content, status, created_at, completed_at
`

// CreateDocument inserts the document and its lines in one transaction.
func (r *ApprovalRepository) CreateDocument(ctx context.Context, doc *domain.ApprovalDocument, lines []*domain.ApprovalLine) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		docQuery := `
			INSERT INTO approval_documents
			    (drafter_id, project_id, type, amount, title, content, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`

		err := tx.QueryRow(ctx, docQuery,
			doc.DrafterID,
			doc.ProjectID,
			string(doc.Type),
			doc.Amount,
			doc.Title,
			doc.Content,
			string(doc.Status),
			doc.CreatedAt,
		).Scan(&doc.ID)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval document")
		}

		lineQuery := `
			INSERT INTO approval_lines (document_id, approver_id, sequence, status)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`

		for _, line := range lines {
			line.DocumentID = doc.ID
			err := tx.QueryRow(ctx, lineQuery,
				line.DocumentID,
				line.ApproverID,
				line.Sequence,
				string(line.Status),
			).Scan(&line.ID)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval line")
			}
		}

		return nil
	})
}

// GetDocument retrieves a document by its primary key.
func (r *ApprovalRepository) GetDocument(ctx context.Context, id string) (*domain.ApprovalDocument, error) {
	if !isUUID(id) {
		return nil, errors.NotFound("approval_document", id)
	}
	query := `SELECT ` + documentColumns + ` FROM approval_documents WHERE id = $1`

	doc, err := scanDocument(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_document", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval document")
	}
	return doc, nil
}

// UpdateDocumentStatus moves a PENDING document to its new status.
func (r *ApprovalRepository) UpdateDocumentStatus(ctx context.Context, doc *domain.ApprovalDocument) error {
	query := `
		UPDATE approval_documents
		SET status       = $2,
		    completed_at = $3
		WHERE id = $1
		  AND status = 'PENDING'
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, doc.ID, string(doc.Status), doc.CompletedAt).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return r.staleDocument(ctx, doc.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval document")
	}
	return nil
}

// staleDocument explains why a conditional update matched nothing.
func (r *ApprovalRepository) staleDocument(ctx context.Context, id string) error {
	current, err := r.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if err := current.EnsurePending(); err != nil {
		return err
	}
	return errors.New(errors.ErrCodeInternal, "approval document update matched no rows")
}

// ListByDrafter returns the drafter's documents, newest first.
func (r *ApprovalRepository) ListByDrafter(ctx context.Context, drafterID string) ([]*domain.ApprovalDocument, error) {
	if !isUUID(drafterID) {
		return []*domain.ApprovalDocument{}, nil
	}
	query := `SELECT ` + documentColumns + `
		FROM approval_documents
		WHERE drafter_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, drafterID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list drafted documents")
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// ListAwaitingApprover returns PENDING documents whose earliest PENDING line
// belongs to approverID.
func (r *ApprovalRepository) ListAwaitingApprover(ctx context.Context, approverID string) ([]*domain.ApprovalDocument, error) {
	if !isUUID(approverID) {
		return []*domain.ApprovalDocument{}, nil
	}
	query := `
		SELECT d.id, d.drafter_id, d.project_id, d.type, d.amount,
		       d.title, d.content, d.status, d.created_at, d.completed_at
		FROM approval_documents d
		JOIN approval_lines l ON l.document_id = d.id
		WHERE d.status = 'PENDING'
		  AND l.approver_id = $1
		  AND l.status = 'PENDING'
		  AND NOT EXISTS (
		      SELECT 1 FROM approval_lines p
		      WHERE p.document_id = d.id
		        AND p.sequence < l.sequence
		        AND p.status <> 'APPROVED'
		  )
		ORDER BY d.created_at ASC
	`

	rows, err := r.db.Query(ctx, query, approverID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending approvals")
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

// isUUID guards lookups so a malformed id reads as not found instead of a
// database cast error.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.ApprovalDocument, error) {
	var (
		doc         domain.ApprovalDocument
		docType     string
		status      string
		completedAt *time.Time
	)
	err := row.Scan(
		&doc.ID,
		&doc.DrafterID,
		&doc.ProjectID,
		&docType,
		&doc.Amount,
		&doc.Title,
		&doc.Content,
		&status,
		&doc.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	doc.Type = domain.DocumentType(docType)
	doc.Status = domain.DocumentStatus(status)
	doc.CompletedAt = completedAt
	return &doc, nil
}

func scanDocuments(rows pgx.Rows) ([]*domain.ApprovalDocument, error) {
	var docs []*domain.ApprovalDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval document")
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read approval documents")
	}
	return docs, nil
}
