// Package domain holds the approval document model and its state machine.
// It has no infrastructure dependencies.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/pesio-ai/be-wf-approvals/internal/platform/errors"
)

// DocumentType categorises a document.
type DocumentType string

const (
	TypeLeave   DocumentType = "LEAVE"
	TypeExpense DocumentType = "EXPENSE"
	TypeWork    DocumentType = "WORK"
)

// Valid reports whether t is a known type.
func (t DocumentType) Valid() bool {
	switch t {
	case TypeLeave, TypeExpense, TypeWork:
		return true
	}
	return false
}

// DocumentStatus is the lifecycle state of a document.
type DocumentStatus string

const (
	DocumentPending   DocumentStatus = "PENDING"
	DocumentApproved  DocumentStatus = "APPROVED"
	DocumentRejected  DocumentStatus = "REJECTED"
	DocumentCancelled DocumentStatus = "CANCELLED"
)

// LineStatus is the state of one approver's slot.
type LineStatus string

const (
	LinePending   LineStatus = "PENDING"
	LineApproved  LineStatus = "APPROVED"
	LineRejected  LineStatus = "REJECTED"
	LineCancelled LineStatus = "CANCELLED"
)

// Decision is what an approver does with their line.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// ApprovalDocument is routed through an ordered chain of approvers.
type ApprovalDocument struct {
	ID          string
	DrafterID   string
	ProjectID   *string
	Type        DocumentType
	Amount      *int64 // minor currency units; EXPENSE only
	Title       string
	Content     string
	Status      DocumentStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// IsTerminal reports whether no further transition is allowed.
func (d *ApprovalDocument) IsTerminal() bool {
	return d.Status != DocumentPending
}

// Approve completes the chain. Only valid while PENDING.
func (d *ApprovalDocument) Approve(now time.Time) error {
	return d.finish(DocumentApproved, now)
}

// Reject terminates the chain. Only valid while PENDING.
func (d *ApprovalDocument) Reject(now time.Time) error {
	return d.finish(DocumentRejected, now)
}

// Cancel withdraws the document. Only valid while PENDING; callers cascade
// the cancellation to the lines.
func (d *ApprovalDocument) Cancel(now time.Time) error {
	return d.finish(DocumentCancelled, now)
}

func (d *ApprovalDocument) finish(status DocumentStatus, now time.Time) error {
	if err := d.EnsurePending(); err != nil {
		return err
	}
	d.Status = status
	d.CompletedAt = &now
	return nil
}

// EnsurePending returns a Conflict naming the terminal state, or nil.
func (d *ApprovalDocument) EnsurePending() error {
	switch d.Status {
	case DocumentPending:
		return nil
	case DocumentApproved:
		return errors.Conflict(errors.ReasonAlreadyApproved, "document is already approved")
	case DocumentRejected:
		return errors.Conflict(errors.ReasonAlreadyRejected, "document is already rejected")
	case DocumentCancelled:
		return errors.Conflict(errors.ReasonAlreadyCancelled, "document is already cancelled")
	default:
		return errors.New(errors.ErrCodeInternal, fmt.Sprintf("document has unknown status %q", d.Status))
	}
}

// ApprovalLine is one approver's position in a document's chain.
type ApprovalLine struct {
	ID         string
	DocumentID string
	ApproverID string
	Sequence   int
	Status     LineStatus
	ApprovedAt *time.Time
	Comment    *string
}

// Approve records approval with an optional comment.
func (l *ApprovalLine) Approve(comment *string, now time.Time) error {
	if err := l.ensurePending(); err != nil {
		return err
	}
	l.Status = LineApproved
	l.ApprovedAt = &now
	l.Comment = normalizeComment(comment)
	return nil
}

// Reject records rejection. A non-blank comment is mandatory.
func (l *ApprovalLine) Reject(comment *string, now time.Time) error {
	if err := l.ensurePending(); err != nil {
		return err
	}
	c := normalizeComment(comment)
	if c == nil {
		return errors.InvalidInput("comment", "a comment is required to reject")
	}
	l.Status = LineRejected
	l.ApprovedAt = &now
	l.Comment = c
	return nil
}

// Cancel marks the line cancelled as part of a document cancellation.
func (l *ApprovalLine) Cancel(now time.Time) error {
	if err := l.ensurePending(); err != nil {
		return err
	}
	l.Status = LineCancelled
	l.ApprovedAt = &now
	return nil
}

func (l *ApprovalLine) ensurePending() error {
	if l.Status != LinePending {
		return errors.Conflict(errors.ReasonAlreadyProcessed,
			fmt.Sprintf("approval line %d is already %s", l.Sequence, strings.ToLower(string(l.Status))))
	}
	return nil
}

func normalizeComment(comment *string) *string {
	if comment == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*comment)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// NewLines builds PENDING lines for approverIDs, numbering them 1..N in the
// order given.
func NewLines(documentID string, approverIDs []string) []*ApprovalLine {
	lines := make([]*ApprovalLine, 0, len(approverIDs))
	for i, approverID := range approverIDs {
		lines = append(lines, &ApprovalLine{
			DocumentID: documentID,
			ApproverID: approverID,
			Sequence:   i + 1,
			Status:     LinePending,
		})
	}
	return lines
}

// ValidateSequence checks that lines carry exactly the sequences 1..N.
func ValidateSequence(lines []*ApprovalLine) error {
	seen := make(map[int]bool, len(lines))
	for _, l := range lines {
		if l.Sequence < 1 || l.Sequence > len(lines) || seen[l.Sequence] {
			return errors.New(errors.ErrCodeInternal,
				fmt.Sprintf("approval line sequence %d is out of range or duplicated", l.Sequence))
		}
		seen[l.Sequence] = true
	}
	return nil
}

// CheckTurn fails with a sequence violation when any line before line is not
// yet approved.
func CheckTurn(lines []*ApprovalLine, line *ApprovalLine) error {
	for _, other := range lines {
		if other.Sequence < line.Sequence && other.Status != LineApproved {
			return errors.Conflict(errors.ReasonSequenceViolation,
				fmt.Sprintf("approver %d has not approved yet", other.Sequence))
		}
	}
	return nil
}

// AllApproved reports whether every line is approved.
func AllApproved(lines []*ApprovalLine) bool {
	if len(lines) == 0 {
		return false
	}
	for _, l := range lines {
		if l.Status != LineApproved {
			return false
		}
	}
	return true
}

// Participants returns the drafter followed by every approver, without
// duplicates.
func Participants(doc *ApprovalDocument, lines []*ApprovalLine) []string {
	seen := make(map[string]bool, len(lines)+1)
	out := make([]string, 0, len(lines)+1)
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	add(doc.DrafterID)
	for _, l := range lines {
		add(l.ApproverID)
	}
	return out
}
