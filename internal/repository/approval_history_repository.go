package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-wf-approvals/internal/domain"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/database"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/errors"
)

// ApprovalHistoryRepository appends and reads immutable document history.
type ApprovalHistoryRepository struct {
	db *database.DB
}

// NewApprovalHistoryRepository creates a new ApprovalHistoryRepository.
func NewApprovalHistoryRepository(db *database.DB) *ApprovalHistoryRepository {
	return &ApprovalHistoryRepository{db: db}
}

// Append inserts one history entry; it is the only mutation exposed.
func (r *ApprovalHistoryRepository) Append(ctx context.Context, entry *domain.HistoryEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal history metadata")
		}
	}

	query := `
		INSERT INTO approval_history
		    (document_id, line_id, action, performed_by, performed_at,
		     status_before, status_after, metadata)
		VALUES ($1, $2, $3, $4, $5,
		        NULLIF($6, ''), NULLIF($7, ''), $8)
		RETURNING id
	`

	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = time.Now().UTC()
	}

	err := r.db.QueryRow(ctx, query,
		entry.DocumentID,
		entry.LineID,
		entry.Action,
		entry.PerformedBy,
		entry.PerformedAt,
		entry.StatusBefore,
		entry.StatusAfter,
		metadataJSON,
	).Scan(&entry.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append history entry")
	}
	return nil
}

// ListByDocument returns the document history oldest-first.
func (r *ApprovalHistoryRepository) ListByDocument(ctx context.Context, documentID string) ([]*domain.HistoryEntry, error) {
	if !isUUID(documentID) {
		return nil, nil
	}
	query := `
		SELECT id, document_id, line_id, action, performed_by, performed_at,
		       COALESCE(status_before, ''), COALESCE(status_after, ''), metadata
		FROM approval_history
		WHERE document_id = $1
		ORDER BY performed_at ASC
	`

	rows, err := r.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval history")
	}
	defer rows.Close()

	return scanHistory(rows)
}

func scanHistory(rows pgx.Rows) ([]*domain.HistoryEntry, error) {
	var entries []*domain.HistoryEntry
	for rows.Next() {
		entry := &domain.HistoryEntry{}
		var metadataJSON []byte

		err := rows.Scan(
			&entry.ID,
			&entry.DocumentID,
			&entry.LineID,
			&entry.Action,
			&entry.PerformedBy,
			&entry.PerformedAt,
			&entry.StatusBefore,
			&entry.StatusAfter,
			&metadataJSON,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan history entry")
		}
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal history metadata")
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read approval history")
	}
	return entries, nil
}
