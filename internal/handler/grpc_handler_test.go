package handler

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-wf-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/logger"
)

func dialApprovalServer(t *testing.T, e *env) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	NewGRPCHandler(e.svc, logger.Nop()).Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func invoke(ctx context.Context, conn *grpc.ClientConn, actor, method string, in map[string]interface{}) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	ctx = metadata.AppendToOutgoingContext(ctx, ActorMetadataKey, actor)
	err = conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, out)
	return out, err
}

func TestGRPCHandler_ApprovalFlow(t *testing.T) {
	e := newEnv(t)
	conn := dialApprovalServer(t, e)
	ctx := context.Background()

	out, err := invoke(ctx, conn, e.drafter.ID, "CreateApproval", map[string]interface{}{
		"type":         "WORK",
		"title":        "Quarterly plan",
		"approver_ids": []interface{}{e.a.ID, e.b.ID},
	})
	require.NoError(t, err)
	id := out.GetFields()["id"].GetStringValue()
	require.NotEmpty(t, id)

	_, err = invoke(ctx, conn, e.b.ID, "ProcessApproval", map[string]interface{}{
		"document_id": id, "decision": "APPROVE",
	})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), string(errors.ReasonSequenceViolation))

	pending, err := invoke(ctx, conn, e.a.ID, "ListPendingApprovals", map[string]interface{}{})
	require.NoError(t, err)
	assert.Len(t, pending.GetFields()["documents"].GetListValue().GetValues(), 1)

	_, err = invoke(ctx, conn, e.a.ID, "ProcessApproval", map[string]interface{}{
		"document_id": id, "decision": "REJECT", "comment": "not this quarter",
	})
	require.NoError(t, err)

	detail, err := invoke(ctx, conn, e.b.ID, "GetApprovalDetail", map[string]interface{}{"document_id": id})
	require.NoError(t, err)
	doc := detail.GetFields()["document"].GetStructValue().GetFields()
	assert.Equal(t, "REJECTED", doc["status"].GetStringValue())
	lines := detail.GetFields()["lines"].GetListValue().GetValues()
	require.Len(t, lines, 2)
	assert.Equal(t, "not this quarter", lines[0].GetStructValue().GetFields()["comment"].GetStringValue())

	_, err = invoke(ctx, conn, e.drafter.ID, "CancelApproval", map[string]interface{}{"document_id": id})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestGRPCHandler_Errors(t *testing.T) {
	e := newEnv(t)
	conn := dialApprovalServer(t, e)
	ctx := context.Background()

	_, err := invoke(ctx, conn, e.drafter.ID, "CreateApproval", map[string]interface{}{
		"type": "LEAVE", "title": "x", "approver_ids": "not-a-list",
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = invoke(ctx, conn, e.drafter.ID, "CreateApproval", map[string]interface{}{
		"type": "EXPENSE", "title": "x", "project_id": e.project.ID, "amount": 12.5,
		"approver_ids": []interface{}{e.a.ID},
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = invoke(ctx, conn, e.a.ID, "GetApprovalDetail", map[string]interface{}{"document_id": "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestMapErrorToGRPC(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{errors.InvalidInput("comment", "required"), codes.InvalidArgument},
		{errors.NotFound("document", "x"), codes.NotFound},
		{errors.Forbidden("no"), codes.PermissionDenied},
		{errors.Conflict(errors.ReasonAlreadyProcessed, "done"), codes.FailedPrecondition},
		{errors.Conflict(errors.ReasonLockTimeout, "busy"), codes.Aborted},
		{errors.InsufficientFunds("short"), codes.ResourceExhausted},
		{assert.AnError, codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, status.Code(mapErrorToGRPC(tt.err)), tt.err.Error())
	}
	assert.NoError(t, mapErrorToGRPC(nil))
}
