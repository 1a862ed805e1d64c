package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/pesio-ai/be-wf-approvals/internal/domain"
	"github.com/pesio-ai/be-wf-approvals/internal/lock"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/metrics"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/tracing"
)

const (
	DefaultLockWait  = 5 * time.Second
	DefaultLockLease = 10 * time.Second
)

// Dependencies are the collaborators of the approval engine.
type Dependencies struct {
	Store     domain.DocumentStore
	Directory domain.Directory
	Ledger    domain.BudgetLedger
	History   domain.HistoryStore
	Notifier  domain.Notifier
	Tx        domain.TxManager
	Locks     lock.Coordinator
	Clock     domain.Clock
	Metrics   *metrics.Metrics
	Log       *logger.Logger
}

// Config tunes the document lease.
type Config struct {
	LockWait  time.Duration
	LockLease time.Duration
}

// ApprovalService routes documents through their approver chains.
type ApprovalService struct {
	store     domain.DocumentStore
	directory domain.Directory
	ledger    domain.BudgetLedger
	history   domain.HistoryStore
	notifier  domain.Notifier
	tx        domain.TxManager
	locks     lock.Coordinator
	clock     domain.Clock
	metrics   *metrics.Metrics
	log       *logger.Logger
	lockWait  time.Duration
	lockLease time.Duration
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(deps Dependencies, cfg Config) *ApprovalService {
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock{}
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = DefaultLockWait
	}
	if cfg.LockLease <= 0 {
		cfg.LockLease = DefaultLockLease
	}
	return &ApprovalService{
		store:     deps.Store,
		directory: deps.Directory,
		ledger:    deps.Ledger,
		history:   deps.History,
		notifier:  deps.Notifier,
		tx:        deps.Tx,
		locks:     deps.Locks,
		clock:     deps.Clock,
		metrics:   deps.Metrics,
		log:       deps.Log.Component("approval_service"),
		lockWait:  cfg.LockWait,
		lockLease: cfg.LockLease,
	}
}

// CreateApprovalRequest represents a create approval request
type CreateApprovalRequest struct {
	ProjectID   *string
	Type        domain.DocumentType
	Amount      *int64
	Title       string
	Content     string
	ApproverIDs []string
}

// ProcessApprovalRequest represents an approve or reject decision
type ProcessApprovalRequest struct {
	Decision domain.Decision
	Comment  *string
}

// ApprovalDetail is a document with its chain.
type ApprovalDetail struct {
	Document *domain.ApprovalDocument
	Lines    []*domain.ApprovalLine
}

// ── Creation ──────────────────────────────────────────────────────────────────

// CreateApproval validates the request, stores the document with one PENDING
// line per approver in the order given, and asks each approver for review.
func (s *ApprovalService) CreateApproval(ctx context.Context, drafterID string, req CreateApprovalRequest) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "ApprovalService.CreateApproval",
		attribute.String("drafter_id", drafterID),
		attribute.String("document_type", string(req.Type)),
	)
	id, err := s.createApproval(ctx, drafterID, req)
	tracing.EndSpan(span, err)
	return id, err
}

func (s *ApprovalService) createApproval(ctx context.Context, drafterID string, req CreateApprovalRequest) (string, error) {
	if err := requireActor(drafterID); err != nil {
		return "", err
	}
	if err := validateCreateRequest(&req); err != nil {
		return "", err
	}

	drafter, err := s.directory.GetUser(ctx, drafterID)
	if err != nil {
		return "", err
	}

	if req.Type == domain.TypeExpense {
		if _, err := s.directory.GetProject(ctx, *req.ProjectID); err != nil {
			return "", err
		}
		member, err := s.directory.IsProjectMember(ctx, *req.ProjectID, drafterID)
		if err != nil {
			return "", err
		}
		if !member {
			return "", errors.Forbidden("drafter is not a member of the project")
		}
	}

	approvers, err := s.directory.GetUsers(ctx, req.ApproverIDs)
	if err != nil {
		return "", err
	}
	if len(approvers) != len(req.ApproverIDs) {
		return "", errors.NotFound("approver", missingIDs(req.ApproverIDs, approvers))
	}

	now := s.clock.Now()
	doc := &domain.ApprovalDocument{
		DrafterID: drafterID,
		ProjectID: req.ProjectID,
		Type:      req.Type,
		Amount:    req.Amount,
		Title:     req.Title,
		Content:   req.Content,
		Status:    domain.DocumentPending,
		CreatedAt: now,
	}
	lines := domain.NewLines("", req.ApproverIDs)

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		return s.store.CreateDocument(ctx, doc, lines)
	})
	if err != nil {
		return "", err
	}

	if s.metrics != nil {
		s.metrics.DocumentsCreated.WithLabelValues(string(doc.Type)).Inc()
	}
	s.log.Info().
		Str("document_id", doc.ID).
		Str("drafter_id", drafterID).
		Str("type", string(doc.Type)).
		Int("approvers", len(lines)).
		Msg("Approval document created")

	s.appendHistory(ctx, &domain.HistoryEntry{
		DocumentID:  doc.ID,
		Action:      domain.ActionCreated,
		PerformedBy: drafterID,
		PerformedAt: now,
		StatusAfter: string(domain.DocumentPending),
		Metadata:    map[string]any{"approvers": len(lines), "type": string(doc.Type)},
	})

	for _, l := range lines {
		s.notify(ctx, []string{l.ApproverID}, domain.RequestedEvent(doc, drafter.Name, l.Sequence, now))
	}

	return doc.ID, nil
}

// validateCreateRequest checks the request shape and normalises fields that
// only EXPENSE documents carry.
func validateCreateRequest(req *CreateApprovalRequest) error {
	if !req.Type.Valid() {
		return errors.InvalidInput("type", fmt.Sprintf("unknown document type %q", req.Type))
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return errors.InvalidInput("title", "title is required")
	}

	if req.Type == domain.TypeExpense {
		if req.ProjectID == nil || strings.TrimSpace(*req.ProjectID) == "" {
			return errors.InvalidInput("project_id", "project is required for expense documents")
		}
		if req.Amount == nil {
			return errors.InvalidInput("amount", "amount is required for expense documents")
		}
		if *req.Amount <= 0 {
			return errors.InvalidInput("amount", "amount must be positive")
		}
	} else {
		req.ProjectID = nil
		req.Amount = nil
	}

	if len(req.ApproverIDs) == 0 {
		return errors.InvalidInput("approver_ids", "at least one approver is required")
	}
	seen := make(map[string]bool, len(req.ApproverIDs))
	for _, id := range req.ApproverIDs {
		if strings.TrimSpace(id) == "" {
			return errors.InvalidInput("approver_ids", "approver ids must not be blank")
		}
		if seen[id] {
			return errors.InvalidInput("approver_ids", fmt.Sprintf("approver %s is listed twice", id))
		}
		seen[id] = true
	}
	return nil
}

func missingIDs(requested []string, found []*domain.User) string {
	known := make(map[string]bool, len(found))
	for _, u := range found {
		known[u.ID] = true
	}
	var missing []string
	for _, id := range requested {
		if !known[id] {
			missing = append(missing, id)
		}
	}
	return strings.Join(missing, ", ")
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetApprovalDetail returns the document and its chain to the drafter or one
// of its approvers.
func (s *ApprovalService) GetApprovalDetail(ctx context.Context, actorID, documentID string) (*ApprovalDetail, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	lines, err := s.store.GetLines(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !canView(actorID, doc, lines) {
		return nil, errors.Forbidden("only the drafter or an approver can view this document")
	}
	return &ApprovalDetail{Document: doc, Lines: lines}, nil
}

// ListPendingApprovals returns the documents waiting on actorID's decision.
func (s *ApprovalService) ListPendingApprovals(ctx context.Context, actorID string) ([]*domain.ApprovalDocument, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	return s.store.ListAwaitingApprover(ctx, actorID)
}

// ListMyDocuments returns the documents drafted by actorID, newest first.
func (s *ApprovalService) ListMyDocuments(ctx context.Context, actorID string) ([]*domain.ApprovalDocument, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	return s.store.ListByDrafter(ctx, actorID)
}

// GetApprovalHistory returns the document's history under the same access
// rule as GetApprovalDetail.
func (s *ApprovalService) GetApprovalHistory(ctx context.Context, actorID, documentID string) ([]*domain.HistoryEntry, error) {
	if _, err := s.GetApprovalDetail(ctx, actorID, documentID); err != nil {
		return nil, err
	}
	return s.history.ListByDocument(ctx, documentID)
}

func canView(actorID string, doc *domain.ApprovalDocument, lines []*domain.ApprovalLine) bool {
	if doc.DrafterID == actorID {
		return true
	}
	for _, l := range lines {
		if l.ApproverID == actorID {
			return true
		}
	}
	return false
}

func requireActor(actorID string) error {
	if strings.TrimSpace(actorID) == "" {
		return errors.InvalidInput("actor_id", "actor identity is required")
	}
	return nil
}

// ── Side channels ─────────────────────────────────────────────────────────────

// appendHistory records entry. Failures are logged and never fail the
// operation that already committed.
func (s *ApprovalService) appendHistory(ctx context.Context, entry *domain.HistoryEntry) {
	if s.history == nil {
		return
	}
	if err := s.history.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("document_id", entry.DocumentID).
			Str("action", entry.Action).
			Msg("Failed to append approval history")
	}
}

func (s *ApprovalService) notify(ctx context.Context, recipients []string, event domain.Event) {
	if s.notifier == nil || len(recipients) == 0 {
		return
	}
	s.notifier.Notify(ctx, recipients, event)
}

// drafterName resolves the display name used in notifications, falling back
// to the id.
func (s *ApprovalService) drafterName(ctx context.Context, drafterID string) string {
	u, err := s.directory.GetUser(ctx, drafterID)
	if err != nil {
		s.log.Warn().Err(err).Str("drafter_id", drafterID).Msg("Could not resolve drafter name")
		return drafterID
	}
	return u.Name
}
