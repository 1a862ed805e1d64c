package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/pesio-ai/be-wf-approvals/internal/domain"
	"github.com/pesio-ai/be-wf-approvals/internal/lock"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/tracing"
)

const releaseTimeout = 2 * time.Second

// decisionResult is what a committed decision needs for its side effects.
type decisionResult struct {
	doc       *domain.ApprovalDocument
	lines     []*domain.ApprovalLine
	line      *domain.ApprovalLine
	completed bool
	budgetErr error
	history   []*domain.HistoryEntry
}

// ── Approve / Reject ──────────────────────────────────────────────────────────

// ProcessApproval applies actorID's decision on their line of the document.
// Decisions on one document are serialised by a lease on
// approval:lock:<documentID>; everything read and written under the lease
// runs in one transaction.
//
// When an EXPENSE document completes and its project cannot cover the amount,
// the document still commits as APPROVED and an INSUFFICIENT_FUNDS error is
// returned.
func (s *ApprovalService) ProcessApproval(ctx context.Context, actorID, documentID string, req ProcessApprovalRequest) (err error) {
	ctx, span := tracing.StartSpan(ctx, "ApprovalService.ProcessApproval",
		attribute.String("actor_id", actorID),
		attribute.String("document_id", documentID),
		attribute.String("decision", string(req.Decision)),
	)
	defer func() {
		s.observeDecision(req.Decision, err)
		tracing.EndSpan(span, err)
	}()

	if err := requireActor(actorID); err != nil {
		return err
	}
	if !req.Decision.Valid() {
		return errors.InvalidInput("decision", fmt.Sprintf("unknown decision %q", req.Decision))
	}

	lease, err := s.acquire(ctx, documentID)
	if err != nil {
		return err
	}
	defer s.release(ctx, lease)

	var res decisionResult
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		return s.decide(ctx, actorID, documentID, req, &res)
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("document_id", documentID).
		Str("actor_id", actorID).
		Str("decision", string(req.Decision)).
		Int("sequence", res.line.Sequence).
		Str("document_status", string(res.doc.Status)).
		Msg("Approval decision recorded")

	for _, entry := range res.history {
		s.appendHistory(ctx, entry)
	}
	s.notifyDecision(ctx, req.Decision, &res)

	return res.budgetErr
}

// decide runs inside the lease and the transaction.
func (s *ApprovalService) decide(ctx context.Context, actorID, documentID string, req ProcessApprovalRequest, res *decisionResult) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	line, err := s.store.GetLineByApprover(ctx, documentID, actorID)
	if errors.CodeOf(err) == errors.ErrCodeNotFound {
		return errors.Forbidden("you are not an approver of this document")
	}
	if err != nil {
		return err
	}
	if line.Status != domain.LinePending {
		return errors.Conflict(errors.ReasonAlreadyProcessed,
			fmt.Sprintf("your decision on this document is already %s", line.Status))
	}
	// A PENDING line on a terminal document means an earlier approver
	// rejected it.
	if err := doc.EnsurePending(); err != nil {
		return err
	}

	lines, err := s.store.GetLines(ctx, documentID)
	if err != nil {
		return err
	}
	if err := domain.CheckTurn(lines, line); err != nil {
		return err
	}

	now := s.clock.Now()
	statusBefore := string(doc.Status)

	switch req.Decision {
	case domain.DecisionApprove:
		if err := line.Approve(req.Comment, now); err != nil {
			return err
		}
	case domain.DecisionReject:
		if err := line.Reject(req.Comment, now); err != nil {
			return err
		}
	}
	if err := s.store.UpdateLine(ctx, line); err != nil {
		return err
	}
	replaceLine(lines, line)

	res.doc, res.lines, res.line = doc, lines, line

	action := domain.ActionApproved
	if req.Decision == domain.DecisionReject {
		action = domain.ActionRejected
		if err := doc.Reject(now); err != nil {
			return err
		}
		if err := s.store.UpdateDocumentStatus(ctx, doc); err != nil {
			return err
		}
	} else if domain.AllApproved(lines) {
		if err := doc.Approve(now); err != nil {
			return err
		}
		if err := s.store.UpdateDocumentStatus(ctx, doc); err != nil {
			return err
		}
		res.completed = true
	}

	metadata := map[string]any{"sequence": line.Sequence}
	if line.Comment != nil {
		metadata["comment"] = *line.Comment
	}
	res.history = append(res.history, &domain.HistoryEntry{
		DocumentID:   doc.ID,
		LineID:       &line.ID,
		Action:       action,
		PerformedBy:  actorID,
		PerformedAt:  now,
		StatusBefore: statusBefore,
		StatusAfter:  string(doc.Status),
		Metadata:     metadata,
	})

	if res.completed && doc.Type == domain.TypeExpense {
		return s.spendBudget(ctx, actorID, doc, now, res)
	}
	return nil
}

// spendBudget debits the project once the chain completes. Insufficient funds
// is kept on res and does not roll back the approval; any other failure does.
func (s *ApprovalService) spendBudget(ctx context.Context, actorID string, doc *domain.ApprovalDocument, now time.Time, res *decisionResult) error {
	if doc.ProjectID == nil || doc.Amount == nil {
		return errors.New(errors.ErrCodeInternal, "expense document has no project or amount")
	}

	entry := &domain.HistoryEntry{
		DocumentID:   doc.ID,
		PerformedBy:  actorID,
		PerformedAt:  now,
		StatusBefore: string(doc.Status),
		StatusAfter:  string(doc.Status),
		Metadata:     map[string]any{"project_id": *doc.ProjectID, "amount": *doc.Amount},
	}

	err := s.ledger.Spend(ctx, *doc.ProjectID, *doc.Amount)
	switch errors.CodeOf(err) {
	case "":
		entry.Action = domain.ActionBudgetSpent
		s.observeSpend("spent")
	case errors.ErrCodeInsufficientFunds:
		entry.Action = domain.ActionBudgetSpendFailed
		entry.Metadata["error"] = err.Error()
		res.budgetErr = err
		s.observeSpend("insufficient_funds")
		s.log.Warn().
			Str("document_id", doc.ID).
			Str("project_id", *doc.ProjectID).
			Int64("amount", *doc.Amount).
			Msg("Expense approved but project budget is insufficient")
	default:
		s.observeSpend("error")
		return err
	}

	res.history = append(res.history, entry)
	return nil
}

func (s *ApprovalService) notifyDecision(ctx context.Context, decision domain.Decision, res *decisionResult) {
	switch {
	case decision == domain.DecisionReject:
		comment := ""
		if res.line.Comment != nil {
			comment = *res.line.Comment
		}
		name := s.drafterName(ctx, res.doc.DrafterID)
		s.notify(ctx, []string{res.doc.DrafterID},
			domain.RejectedEvent(res.doc, name, comment, s.clock.Now()))
	case res.completed:
		name := s.drafterName(ctx, res.doc.DrafterID)
		s.notify(ctx, domain.Participants(res.doc, res.lines),
			domain.ApprovedEvent(res.doc, name, s.clock.Now()))
	}
}

func replaceLine(lines []*domain.ApprovalLine, updated *domain.ApprovalLine) {
	for i, l := range lines {
		if l.ID == updated.ID {
			lines[i] = updated
			return
		}
	}
}

// ── Cancel ────────────────────────────────────────────────────────────────────

// CancelApproval lets the drafter withdraw a PENDING document. It takes the
// same lease as decisions so a cancellation never interleaves with one.
func (s *ApprovalService) CancelApproval(ctx context.Context, actorID, documentID string) (err error) {
	ctx, span := tracing.StartSpan(ctx, "ApprovalService.CancelApproval",
		attribute.String("actor_id", actorID),
		attribute.String("document_id", documentID),
	)
	defer func() {
		if s.metrics != nil {
			s.metrics.Cancellations.WithLabelValues(outcome(err)).Inc()
		}
		tracing.EndSpan(span, err)
	}()

	if err := requireActor(actorID); err != nil {
		return err
	}

	lease, err := s.acquire(ctx, documentID)
	if err != nil {
		return err
	}
	defer s.release(ctx, lease)

	var (
		doc   *domain.ApprovalDocument
		lines []*domain.ApprovalLine
		now   = s.clock.Now()
	)
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		doc, err = s.store.GetDocument(ctx, documentID)
		if err != nil {
			return err
		}
		if doc.DrafterID != actorID {
			return errors.Forbidden("only the drafter can cancel this document")
		}
		if err := doc.Cancel(now); err != nil {
			return err
		}
		if err := s.store.UpdateDocumentStatus(ctx, doc); err != nil {
			return err
		}
		if err := s.store.CancelLines(ctx, documentID, now); err != nil {
			return err
		}
		lines, err = s.store.GetLines(ctx, documentID)
		return err
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("document_id", documentID).
		Str("actor_id", actorID).
		Msg("Approval document cancelled")

	s.appendHistory(ctx, &domain.HistoryEntry{
		DocumentID:   documentID,
		Action:       domain.ActionCancelled,
		PerformedBy:  actorID,
		PerformedAt:  now,
		StatusBefore: string(domain.DocumentPending),
		StatusAfter:  string(domain.DocumentCancelled),
	})

	approvers := make([]string, 0, len(lines))
	for _, l := range lines {
		if l.ApproverID != doc.DrafterID {
			approvers = append(approvers, l.ApproverID)
		}
	}
	s.notify(ctx, approvers, domain.CancelledEvent(doc, s.drafterName(ctx, doc.DrafterID), now))

	return nil
}

// ── Lease handling ────────────────────────────────────────────────────────────

func (s *ApprovalService) acquire(ctx context.Context, documentID string) (*lock.Lease, error) {
	started := time.Now()
	lease, err := s.locks.TryAcquire(ctx, lock.DocumentKey(documentID), s.lockWait, s.lockLease)
	s.metrics.ObserveLockWait(started, err == nil)
	if err != nil {
		s.log.Warn().Err(err).Str("document_id", documentID).Msg("Could not acquire document lease")
		return nil, err
	}
	return lease, nil
}

// release frees the lease even when ctx was cancelled. A lease that expired
// and was taken by someone else is left alone.
func (s *ApprovalService) release(ctx context.Context, lease *lock.Lease) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	err := s.locks.Release(ctx, lease)
	switch {
	case err == nil:
	case errors.Is(err, lock.ErrNotHeld):
		s.log.Warn().Str("key", lease.Key).Msg("Document lease expired before release")
	default:
		s.log.Error().Err(err).Str("key", lease.Key).Msg("Failed to release document lease")
	}
}

// ── Metrics ───────────────────────────────────────────────────────────────────

func (s *ApprovalService) observeDecision(decision domain.Decision, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.Decisions.WithLabelValues(string(decision), outcome(err)).Inc()
}

func (s *ApprovalService) observeSpend(result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.BudgetSpends.WithLabelValues(result).Inc()
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(errors.CodeOf(err))
}
