package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-wf-approvals/internal/domain"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/errors"
)

const lineColumns = `id, document_id, approver_id, sequence, status, approved_at, comment`

// GetLines returns all lines for a document ordered by sequence.
func (r *ApprovalRepository) GetLines(ctx context.Context, documentID string) ([]*domain.ApprovalLine, error) {
	if !isUUID(documentID) {
		return []*domain.ApprovalLine{}, nil
	}
	query := `SELECT ` + lineColumns + `
		FROM approval_lines
		WHERE document_id = $1
		ORDER BY sequence ASC
	`

	rows, err := r.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval lines")
	}
	defer rows.Close()

	var lines []*domain.ApprovalLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval line")
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read approval lines")
	}
	return lines, nil
}

// GetLineByApprover returns the approver's line on a document.
func (r *ApprovalRepository) GetLineByApprover(ctx context.Context, documentID, approverID string) (*domain.ApprovalLine, error) {
	if !isUUID(documentID) || !isUUID(approverID) {
		return nil, errors.NotFound("approval_line", documentID+"/"+approverID)
	}
	query := `SELECT ` + lineColumns + `
		FROM approval_lines
		WHERE document_id = $1 AND approver_id = $2
	`

	line, err := scanLine(r.db.QueryRow(ctx, query, documentID, approverID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_line", documentID+"/"+approverID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval line")
	}
	return line, nil
}

// UpdateLine records the outcome of an approve / reject action on a PENDING
// line.
func (r *ApprovalRepository) UpdateLine(ctx context.Context, line *domain.ApprovalLine) error {
	query := `
		UPDATE approval_lines
		SET status      = $2,
		    approved_at = $3,
		    comment     = $4
		WHERE id = $1
		  AND status = 'PENDING'
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, line.ID, string(line.Status), line.ApprovedAt, line.Comment).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.Conflict(errors.ReasonAlreadyProcessed, "approval line is not pending")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval line")
	}
	return nil
}

// CancelLines marks all pending lines of a document as cancelled.
func (r *ApprovalRepository) CancelLines(ctx context.Context, documentID string, at time.Time) error {
	query := `
		UPDATE approval_lines
		SET status      = 'CANCELLED',
		    approved_at = $2
		WHERE document_id = $1
		  AND status = 'PENDING'
	`

	if _, err := r.db.Exec(ctx, query, documentID, at); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to cancel approval lines")
	}
	return nil
}

func scanLine(row rowScanner) (*domain.ApprovalLine, error) {
	var (
		line   domain.ApprovalLine
		status string
	)
	err := row.Scan(
		&line.ID,
		&line.DocumentID,
		&line.ApproverID,
		&line.Sequence,
		&status,
		&line.ApprovedAt,
		&line.Comment,
	)
	if err != nil {
		return nil, err
	}
	line.Status = domain.LineStatus(status)
	return &line, nil
}
