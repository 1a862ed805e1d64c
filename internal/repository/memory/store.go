// Package memory implements the approval ports in process memory. It backs
// the engine tests and single-process deployments started with
// STORE_BACKEND=memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-wf-approvals/internal/domain"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/errors"
)

type txKey struct{}

// Store is a mutex guarded implementation of DocumentStore, Directory,
// BudgetLedger, HistoryStore and TxManager.
type Store struct {
	mu sync.RWMutex
	// txMu serialises transactions so a rollback can restore a snapshot.
	txMu sync.Mutex

	documents map[string]*domain.ApprovalDocument
	lines     map[string][]*domain.ApprovalLine
	users     map[string]*domain.User
	projects  map[string]*domain.Project
	members   map[string]map[string]bool
	history   map[string][]*domain.HistoryEntry
	now       func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		documents: make(map[string]*domain.ApprovalDocument),
		lines:     make(map[string][]*domain.ApprovalLine),
		users:     make(map[string]*domain.User),
		projects:  make(map[string]*domain.Project),
		members:   make(map[string]map[string]bool),
		history:   make(map[string][]*domain.HistoryEntry),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ── Seeding ───────────────────────────────────────────────────────────────────

// AddUser registers a user, assigning an ID when empty.
func (s *Store) AddUser(u domain.User) *domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.users[u.ID] = &u
	out := u
	return &out
}

// AddProject registers a project, assigning an ID when empty.
func (s *Store) AddProject(p domain.Project) *domain.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.projects[p.ID] = &p
	out := p
	return &out
}

// AddMember adds userID to projectID.
func (s *Store) AddMember(projectID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[projectID] == nil {
		s.members[projectID] = make(map[string]bool)
	}
	s.members[projectID][userID] = true
}

// ── TxManager ─────────────────────────────────────────────────────────────────

// WithinTransaction runs fn with every other transaction excluded and
// restores documents, lines and projects as it found them if fn fails.
// History is append-only and written outside transactions, so a rollback
// never touches it. Nested calls join the outer transaction.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	documents map[string]domain.ApprovalDocument
	lines     map[string][]domain.ApprovalLine
	projects  map[string]domain.Project
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := snapshot{
		documents: make(map[string]domain.ApprovalDocument, len(s.documents)),
		lines:     make(map[string][]domain.ApprovalLine, len(s.lines)),
		projects:  make(map[string]domain.Project, len(s.projects)),
	}
	for id, d := range s.documents {
		snap.documents[id] = *d
	}
	for id, ls := range s.lines {
		copied := make([]domain.ApprovalLine, len(ls))
		for i, l := range ls {
			copied[i] = *l
		}
		snap.lines[id] = copied
	}
	for id, p := range s.projects {
		snap.projects[id] = *p
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.documents = make(map[string]*domain.ApprovalDocument, len(snap.documents))
	for id, d := range snap.documents {
		d := d
		s.documents[id] = &d
	}
	s.lines = make(map[string][]*domain.ApprovalLine, len(snap.lines))
	for id, ls := range snap.lines {
		restored := make([]*domain.ApprovalLine, len(ls))
		for i := range ls {
			l := ls[i]
			restored[i] = &l
		}
		s.lines[id] = restored
	}
	for id, p := range snap.projects {
		p := p
		s.projects[id] = &p
	}
}

// ── DocumentStore ─────────────────────────────────────────────────────────────

// CreateDocument assigns IDs and stores doc with its lines.
func (s *Store) CreateDocument(ctx context.Context, doc *domain.ApprovalDocument, lines []*domain.ApprovalLine) error {
	if err := domain.ValidateSequence(lines); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc.ID = uuid.NewString()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now()
	}
	stored := *doc
	s.documents[doc.ID] = &stored

	copied := make([]*domain.ApprovalLine, 0, len(lines))
	for _, l := range lines {
		l.ID = uuid.NewString()
		l.DocumentID = doc.ID
		cl := *l
		copied = append(copied, &cl)
	}
	sort.Slice(copied, func(i, j int) bool { return copied[i].Sequence < copied[j].Sequence })
	s.lines[doc.ID] = copied
	return nil
}

// GetDocument returns a copy of the document.
func (s *Store) GetDocument(ctx context.Context, id string) (*domain.ApprovalDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.documents[id]
	if !ok {
		return nil, errors.NotFound("approval document", id)
	}
	out := *d
	return &out, nil
}

// GetLines returns copies of the lines ordered by sequence.
func (s *Store) GetLines(ctx context.Context, documentID string) ([]*domain.ApprovalLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ls := s.lines[documentID]
	out := make([]*domain.ApprovalLine, 0, len(ls))
	for _, l := range ls {
		cl := *l
		out = append(out, &cl)
	}
	return out, nil
}

// GetLineByApprover returns the approver's line on the document.
func (s *Store) GetLineByApprover(ctx context.Context, documentID, approverID string) (*domain.ApprovalLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, l := range s.lines[documentID] {
		if l.ApproverID == approverID {
			out := *l
			return &out, nil
		}
	}
	return nil, errors.NotFound("approval line", fmt.Sprintf("%s/%s", documentID, approverID))
}

// UpdateDocumentStatus stores a transition out of PENDING.
func (s *Store) UpdateDocumentStatus(ctx context.Context, doc *domain.ApprovalDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.documents[doc.ID]
	if !ok {
		return errors.NotFound("approval document", doc.ID)
	}
	if err := stored.EnsurePending(); err != nil {
		return err
	}
	stored.Status = doc.Status
	stored.CompletedAt = doc.CompletedAt
	return nil
}

// UpdateLine stores a transition out of PENDING.
func (s *Store) UpdateLine(ctx context.Context, line *domain.ApprovalLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.lines[line.DocumentID] {
		if l.ID != line.ID {
			continue
		}
		if l.Status != domain.LinePending {
			return errors.Conflict(errors.ReasonAlreadyProcessed,
				fmt.Sprintf("approval line %d is already processed", l.Sequence))
		}
		l.Status = line.Status
		l.ApprovedAt = line.ApprovedAt
		l.Comment = line.Comment
		return nil
	}
	return errors.NotFound("approval line", line.ID)
}

// CancelLines marks every PENDING line of the document CANCELLED.
func (s *Store) CancelLines(ctx context.Context, documentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.lines[documentID] {
		if l.Status == domain.LinePending {
			_ = l.Cancel(at)
		}
	}
	return nil
}

// ListAwaitingApprover returns PENDING documents where it is approverID's turn.
func (s *Store) ListAwaitingApprover(ctx context.Context, approverID string) ([]*domain.ApprovalDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.ApprovalDocument
	for id, d := range s.documents {
		if d.Status != domain.DocumentPending {
			continue
		}
		for _, l := range s.lines[id] {
			if l.Status == domain.LinePending {
				if l.ApproverID == approverID {
					cd := *d
					out = append(out, &cd)
				}
				break
			}
		}
	}
	sortByCreated(out)
	return out, nil
}

// ListByDrafter returns the drafter's documents, newest first.
func (s *Store) ListByDrafter(ctx context.Context, drafterID string) ([]*domain.ApprovalDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.ApprovalDocument
	for _, d := range s.documents {
		if d.DrafterID == drafterID {
			cd := *d
			out = append(out, &cd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func sortByCreated(docs []*domain.ApprovalDocument) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.Before(docs[j].CreatedAt) })
}

// ── Directory ─────────────────────────────────────────────────────────────────

// GetUser returns the user.
func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, errors.NotFound("user", id)
	}
	out := *u
	return &out, nil
}

// GetUsers returns the known users among ids.
func (s *Store) GetUsers(ctx context.Context, ids []string) ([]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool, len(ids))
	var out []*domain.User
	for _, id := range ids {
		u, ok := s.users[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		cu := *u
		out = append(out, &cu)
	}
	return out, nil
}

// GetProject returns the project with its current budget.
func (s *Store) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, errors.NotFound("project", id)
	}
	out := *p
	return &out, nil
}

// IsProjectMember reports membership.
func (s *Store) IsProjectMember(ctx context.Context, projectID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members[projectID][userID], nil
}

// ── BudgetLedger ──────────────────────────────────────────────────────────────

// Spend debits the project under the store lock.
func (s *Store) Spend(ctx context.Context, projectID string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return errors.NotFound("project", projectID)
	}
	return p.Spend(amount)
}

// ── HistoryStore ──────────────────────────────────────────────────────────────

// Append records entry.
func (s *Store) Append(ctx context.Context, entry *domain.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = uuid.NewString()
	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = s.now()
	}
	stored := *entry
	s.history[entry.DocumentID] = append(s.history[entry.DocumentID], &stored)
	return nil
}

// ListByDocument returns the history oldest first.
func (s *Store) ListByDocument(ctx context.Context, documentID string) ([]*domain.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[documentID]
	out := make([]*domain.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		ce := *e
		out = append(out, &ce)
	}
	return out, nil
}
