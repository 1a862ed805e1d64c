package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-wf-approvals/internal/domain"
	"github.com/pesio-ai/be-wf-approvals/internal/lock"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-wf-approvals/internal/repository/memory"
	"github.com/pesio-ai/be-wf-approvals/internal/service"
)

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, []string, domain.Event) {}

type env struct {
	store   *memory.Store
	svc     *service.ApprovalService
	drafter *domain.User
	a, b    *domain.User
	project *domain.Project
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memory.NewStore()
	e := &env{
		store:   store,
		drafter: store.AddUser(domain.User{Name: "Dana"}),
		a:       store.AddUser(domain.User{Name: "Alex"}),
		b:       store.AddUser(domain.User{Name: "Blair"}),
		project: store.AddProject(domain.Project{Name: "Apollo", TotalBudget: 1000, UsedBudget: 700}),
	}
	store.AddMember(e.project.ID, e.drafter.ID)
	e.svc = service.NewApprovalService(service.Dependencies{
		Store:     store,
		Directory: store,
		Ledger:    store,
		History:   store,
		Notifier:  discardNotifier{},
		Tx:        store,
		Locks:     lock.NewMemoryCoordinator(),
		Log:       logger.Nop(),
	}, service.Config{})
	return e
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code errors.Code
		want int
	}{
		{errors.ErrCodeInvalidInput, http.StatusBadRequest},
		{errors.ErrCodeNotFound, http.StatusNotFound},
		{errors.ErrCodeForbidden, http.StatusForbidden},
		{errors.ErrCodeConflict, http.StatusConflict},
		{errors.ErrCodeInsufficientFunds, http.StatusUnprocessableEntity},
		{errors.ErrCodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, httpStatus(tt.code))
		})
	}
}

func TestToErrorBodyHidesInternalDetail(t *testing.T) {
	body := toErrorBody(errors.Wrap(assert.AnError, errors.ErrCodeInternal, "select failed on approval_documents"))
	assert.Equal(t, errors.ErrCodeInternal, body.Code)
	assert.Equal(t, internalMessage, body.Message)

	body = toErrorBody(assert.AnError)
	assert.Equal(t, errors.ErrCodeInternal, body.Code)

	body = toErrorBody(errors.Conflict(errors.ReasonSequenceViolation, "not your turn"))
	assert.Equal(t, errors.ReasonSequenceViolation, body.Reason)
	assert.Equal(t, "not your turn", body.Message)
}

func do(t *testing.T, h http.Handler, method, path, actor string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHTTPHandler_ApprovalFlow(t *testing.T) {
	e := newEnv(t)
	routes := NewHTTPHandler(e.svc, logger.Nop()).Routes()

	rec := do(t, routes, http.MethodPost, "/", e.drafter.ID, CreateApprovalBody{
		Type:        "leave",
		Title:       "Annual leave",
		ApproverIDs: []string{e.a.ID, e.b.ID},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created["id"]
	require.NotEmpty(t, id)

	rec = do(t, routes, http.MethodPost, "/"+id+"/decision", e.b.ID, ProcessApprovalBody{Decision: "approve"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, errors.ReasonSequenceViolation, decodeError(t, rec).Reason)

	rec = do(t, routes, http.MethodGet, "/pending", e.a.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), id)

	ok := "ok"
	rec = do(t, routes, http.MethodPost, "/"+id+"/decision", e.a.ID, ProcessApprovalBody{Decision: "approve", Comment: &ok})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = do(t, routes, http.MethodPost, "/"+id+"/decision", e.b.ID, ProcessApprovalBody{Decision: "reject"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "comment", decodeError(t, rec).Field)

	rec = do(t, routes, http.MethodPost, "/"+id+"/decision", e.b.ID, ProcessApprovalBody{Decision: "approve"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, routes, http.MethodGet, "/"+id, e.drafter.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail DetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "APPROVED", detail.Document.Status)
	require.Len(t, detail.Lines, 2)
	assert.Equal(t, "ok", *detail.Lines[0].Comment)
	assert.NotNil(t, detail.Document.CompletedAt)

	rec = do(t, routes, http.MethodGet, "/"+id+"/history", e.a.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"action":"created"`)

	rec = do(t, routes, http.MethodPost, "/"+id+"/cancel", e.drafter.ID, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, errors.ReasonAlreadyApproved, decodeError(t, rec).Reason)

	rec = do(t, routes, http.MethodGet, "/mine", e.drafter.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), id)
}

func TestHTTPHandler_InsufficientFunds(t *testing.T) {
	e := newEnv(t)
	routes := NewHTTPHandler(e.svc, logger.Nop()).Routes()

	amount := int64(500)
	rec := do(t, routes, http.MethodPost, "/", e.drafter.ID, CreateApprovalBody{
		Type:        "EXPENSE",
		ProjectID:   &e.project.ID,
		Amount:      &amount,
		Title:       "Laptop",
		ApproverIDs: []string{e.a.ID},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = do(t, routes, http.MethodPost, "/"+created["id"]+"/decision", e.a.ID, ProcessApprovalBody{Decision: "APPROVE"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, errors.ErrCodeInsufficientFunds, decodeError(t, rec).Code)

	rec = do(t, routes, http.MethodGet, "/"+created["id"], e.a.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"APPROVED"`)
}

func TestHTTPHandler_RequestErrors(t *testing.T) {
	e := newEnv(t)
	routes := NewHTTPHandler(e.svc, logger.Nop()).Routes()

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("{not json"))
	req.Header.Set(ActorHeader, e.drafter.ID)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, routes, http.MethodGet, "/pending", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "actor_id", decodeError(t, rec).Field)

	rec = do(t, routes, http.MethodGet, "/does-not-exist", e.drafter.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
