package memory

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-wf-approvals/internal/domain"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/errors"
)

func seedDocument(t *testing.T, s *Store, approvers ...string) (*domain.ApprovalDocument, []*domain.ApprovalLine) {
	t.Helper()
	doc := &domain.ApprovalDocument{
		DrafterID: "drafter",
		Type:      domain.TypeLeave,
		Title:     "Holiday",
		Status:    domain.DocumentPending,
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	lines := domain.NewLines("", approvers)
	require.NoError(t, s.CreateDocument(context.Background(), doc, lines))
	return doc, lines
}

func TestStore_CreateAndReadDocument(t *testing.T) {
	s := NewStore()
	doc, lines := seedDocument(t, s, "a", "b")

	require.NotEmpty(t, doc.ID)
	for _, l := range lines {
		assert.NotEmpty(t, l.ID)
		assert.Equal(t, doc.ID, l.DocumentID)
	}

	got, err := s.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Holiday", got.Title)

	stored, err := s.GetLines(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "a", stored[0].ApproverID)
	assert.Equal(t, 1, stored[0].Sequence)
	assert.Equal(t, "b", stored[1].ApproverID)
	assert.Equal(t, 2, stored[1].Sequence)

	_, err = s.GetDocument(context.Background(), "missing")
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := NewStore()
	doc, _ := seedDocument(t, s, "a")

	got, err := s.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	got.Status = domain.DocumentApproved

	again, err := s.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentPending, again.Status)
}

func TestStore_UpdateLineIsConditional(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	doc, _ := seedDocument(t, s, "a")

	line, err := s.GetLineByApprover(ctx, doc.ID, "a")
	require.NoError(t, err)
	require.NoError(t, line.Approve(nil, time.Now()))
	require.NoError(t, s.UpdateLine(ctx, line))

	err = s.UpdateLine(ctx, line)
	assert.Equal(t, errors.ReasonAlreadyProcessed, errors.ReasonOf(err))
}

func TestStore_UpdateDocumentStatusIsConditional(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	doc, _ := seedDocument(t, s, "a")

	require.NoError(t, doc.Cancel(time.Now()))
	require.NoError(t, s.UpdateDocumentStatus(ctx, doc))

	stale := *doc
	stale.Status = domain.DocumentApproved
	err := s.UpdateDocumentStatus(ctx, &stale)
	assert.Equal(t, errors.ReasonAlreadyCancelled, errors.ReasonOf(err))
}

func TestStore_ListAwaitingApprover(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	doc, _ := seedDocument(t, s, "a", "b")

	forA, err := s.ListAwaitingApprover(ctx, "a")
	require.NoError(t, err)
	require.Len(t, forA, 1)
	assert.Equal(t, doc.ID, forA[0].ID)

	forB, err := s.ListAwaitingApprover(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, forB)

	line, err := s.GetLineByApprover(ctx, doc.ID, "a")
	require.NoError(t, err)
	require.NoError(t, line.Approve(nil, time.Now()))
	require.NoError(t, s.UpdateLine(ctx, line))

	forB, err = s.ListAwaitingApprover(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, forB, 1)
}

func TestStore_SpendNeverExceedsTotal(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	p := s.AddProject(domain.Project{Name: "Apollo", TotalBudget: 1000, UsedBudget: 700})

	err := s.Spend(ctx, p.ID, 500)
	assert.Equal(t, errors.ErrCodeInsufficientFunds, errors.CodeOf(err))

	require.NoError(t, s.Spend(ctx, p.ID, 300))
	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.UsedBudget)

	err = s.Spend(ctx, "missing", 1)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestStore_GetUsersSkipsUnknown(t *testing.T) {
	s := NewStore()
	a := s.AddUser(domain.User{Name: "Ann"})
	b := s.AddUser(domain.User{Name: "Bob"})

	users, err := s.GetUsers(context.Background(), []string{a.ID, "ghost", b.ID})
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestStore_TransactionRollsBack(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	doc, _ := seedDocument(t, s, "a")
	p := s.AddProject(domain.Project{Name: "Apollo", TotalBudget: 1000})
	boom := stderrors.New("boom")

	err := s.WithinTransaction(ctx, func(ctx context.Context) error {
		line, err := s.GetLineByApprover(ctx, doc.ID, "a")
		require.NoError(t, err)
		require.NoError(t, line.Approve(nil, time.Now()))
		require.NoError(t, s.UpdateLine(ctx, line))
		require.NoError(t, s.Spend(ctx, p.ID, 400))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	line, err := s.GetLineByApprover(ctx, doc.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.LinePending, line.Status)

	project, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, project.UsedBudget)
}

func TestStore_RollbackKeepsHistory(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	failed, _ := seedDocument(t, s, "a")
	existing, _ := seedDocument(t, s, "b")
	require.NoError(t, s.Append(ctx, &domain.HistoryEntry{DocumentID: existing.ID, Action: domain.ActionCreated}))

	err := s.WithinTransaction(ctx, func(ctx context.Context) error {
		// Entries other documents append after their own commits.
		require.NoError(t, s.Append(ctx, &domain.HistoryEntry{DocumentID: existing.ID, Action: domain.ActionApproved}))
		require.NoError(t, s.Append(ctx, &domain.HistoryEntry{DocumentID: "other", Action: domain.ActionCreated}))

		_, err := s.GetLineByApprover(ctx, failed.ID, "a")
		require.NoError(t, err)
		return stderrors.New("out of turn")
	})
	require.Error(t, err)

	history, err := s.ListByDocument(ctx, existing.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.ActionCreated, history[0].Action)
	assert.Equal(t, domain.ActionApproved, history[1].Action)

	history, err = s.ListByDocument(ctx, "other")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestStore_TransactionCommits(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	doc, _ := seedDocument(t, s, "a")

	err := s.WithinTransaction(ctx, func(ctx context.Context) error {
		return s.WithinTransaction(ctx, func(ctx context.Context) error {
			require.NoError(t, doc.Cancel(time.Now()))
			if err := s.UpdateDocumentStatus(ctx, doc); err != nil {
				return err
			}
			return s.CancelLines(ctx, doc.ID, time.Now())
		})
	})
	require.NoError(t, err)

	lines, err := s.GetLines(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LineCancelled, lines[0].Status)
}
