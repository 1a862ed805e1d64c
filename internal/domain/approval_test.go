package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-wf-approvals/internal/platform/errors"
)

var now = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func TestNewLinesAssignsSequenceInSubmittedOrder(t *testing.T) {
	lines := NewLines("doc-1", []string{"carol", "alice", "bob"})

	require.Len(t, lines, 3)
	assert.Equal(t, "carol", lines[0].ApproverID)
	assert.Equal(t, 1, lines[0].Sequence)
	assert.Equal(t, "alice", lines[1].ApproverID)
	assert.Equal(t, 2, lines[1].Sequence)
	assert.Equal(t, "bob", lines[2].ApproverID)
	assert.Equal(t, 3, lines[2].Sequence)
	for _, l := range lines {
		assert.Equal(t, LinePending, l.Status)
		assert.Equal(t, "doc-1", l.DocumentID)
	}
	assert.NoError(t, ValidateSequence(lines))
}

func TestValidateSequence(t *testing.T) {
	tests := []struct {
		name      string
		sequences []int
		wantErr   bool
	}{
		{"contiguous", []int{1, 2, 3}, false},
		{"unordered but contiguous", []int{2, 1}, false},
		{"gap", []int{1, 3}, true},
		{"duplicate", []int{1, 1}, true},
		{"zero", []int{0, 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := make([]*ApprovalLine, 0, len(tt.sequences))
			for _, s := range tt.sequences {
				lines = append(lines, &ApprovalLine{Sequence: s})
			}
			err := ValidateSequence(lines)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDocumentTransitionsAreTerminal(t *testing.T) {
	transitions := map[string]func(*ApprovalDocument, time.Time) error{
		"approve": (*ApprovalDocument).Approve,
		"reject":  (*ApprovalDocument).Reject,
		"cancel":  (*ApprovalDocument).Cancel,
	}
	terminal := map[DocumentStatus]errors.Reason{
		DocumentApproved:  errors.ReasonAlreadyApproved,
		DocumentRejected:  errors.ReasonAlreadyRejected,
		DocumentCancelled: errors.ReasonAlreadyCancelled,
	}

	for name, transition := range transitions {
		for status, reason := range terminal {
			t.Run(name+" from "+string(status), func(t *testing.T) {
				completed := now.Add(-time.Hour)
				doc := &ApprovalDocument{Status: status, CompletedAt: &completed}

				err := transition(doc, now)

				assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
				assert.Equal(t, reason, errors.ReasonOf(err))
				assert.Equal(t, status, doc.Status)
				assert.Equal(t, completed, *doc.CompletedAt)
			})
		}
	}
}

func TestDocumentApproveSetsCompletedAt(t *testing.T) {
	doc := &ApprovalDocument{Status: DocumentPending}

	require.NoError(t, doc.Approve(now))

	assert.Equal(t, DocumentApproved, doc.Status)
	require.NotNil(t, doc.CompletedAt)
	assert.Equal(t, now, *doc.CompletedAt)
	assert.True(t, doc.IsTerminal())
}

func TestLineRejectRequiresComment(t *testing.T) {
	for _, comment := range []*string{nil, strPtr(""), strPtr("   ")} {
		line := &ApprovalLine{Sequence: 1, Status: LinePending}

		err := line.Reject(comment, now)

		assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
		assert.Equal(t, LinePending, line.Status)
		assert.Nil(t, line.ApprovedAt)
	}

	line := &ApprovalLine{Sequence: 1, Status: LinePending}
	require.NoError(t, line.Reject(strPtr(" bad idea "), now))
	assert.Equal(t, LineRejected, line.Status)
	assert.Equal(t, "bad idea", *line.Comment)
	assert.Equal(t, now, *line.ApprovedAt)
}

func TestLineApproveStoresOptionalComment(t *testing.T) {
	line := &ApprovalLine{Sequence: 1, Status: LinePending}
	require.NoError(t, line.Approve(strPtr("ok"), now))
	assert.Equal(t, LineApproved, line.Status)
	assert.Equal(t, "ok", *line.Comment)

	silent := &ApprovalLine{Sequence: 2, Status: LinePending}
	require.NoError(t, silent.Approve(nil, now))
	assert.Nil(t, silent.Comment)
}

func TestLineNeverLeavesTerminalStatus(t *testing.T) {
	for _, status := range []LineStatus{LineApproved, LineRejected, LineCancelled} {
		t.Run(string(status), func(t *testing.T) {
			line := &ApprovalLine{Sequence: 1, Status: status}

			for _, err := range []error{
				line.Approve(nil, now),
				line.Reject(strPtr("no"), now),
				line.Cancel(now),
			} {
				assert.Equal(t, errors.ReasonAlreadyProcessed, errors.ReasonOf(err))
			}
			assert.Equal(t, status, line.Status)
		})
	}
}

func TestCheckTurn(t *testing.T) {
	lines := NewLines("doc-1", []string{"a", "b", "c"})

	assert.NoError(t, CheckTurn(lines, lines[0]))

	err := CheckTurn(lines, lines[1])
	assert.Equal(t, errors.ReasonSequenceViolation, errors.ReasonOf(err))

	require.NoError(t, lines[0].Approve(nil, now))
	assert.NoError(t, CheckTurn(lines, lines[1]))
	assert.Equal(t, errors.ReasonSequenceViolation, errors.ReasonOf(CheckTurn(lines, lines[2])))
}

func TestAllApproved(t *testing.T) {
	assert.False(t, AllApproved(nil))

	lines := NewLines("doc-1", []string{"a", "b"})
	require.NoError(t, lines[0].Approve(nil, now))
	assert.False(t, AllApproved(lines))

	require.NoError(t, lines[1].Approve(nil, now))
	assert.True(t, AllApproved(lines))
}

func TestParticipantsDeduplicates(t *testing.T) {
	doc := &ApprovalDocument{DrafterID: "alice"}
	lines := NewLines("doc-1", []string{"bob", "alice", "carol"})

	assert.Equal(t, []string{"alice", "bob", "carol"}, Participants(doc, lines))
}

func TestProjectSpend(t *testing.T) {
	p := &Project{ID: "p-1", TotalBudget: 1000, UsedBudget: 700}

	err := p.Spend(500)
	assert.Equal(t, errors.ErrCodeInsufficientFunds, errors.CodeOf(err))
	assert.Equal(t, int64(700), p.UsedBudget)

	require.NoError(t, p.Spend(300))
	assert.Equal(t, int64(1000), p.UsedBudget)
	assert.Equal(t, int64(0), p.Remaining())

	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(p.Spend(0)))
}
